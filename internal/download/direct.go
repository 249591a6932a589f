package download

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/domain"
	"github.com/go-resty/resty/v2"
)

const StrategyDirect = "direct"

// DirectAPIStrategy calls the authenticated listing API without a browser.
// Fastest path, no UI dependency.
type DirectAPIStrategy struct {
	client     *resty.Client
	tokens     TokenProvider
	fetcher    *Fetcher
	listingURL string
}

func NewDirectAPIStrategy(client *resty.Client, tokens TokenProvider, fetcher *Fetcher, listingURL string) (*DirectAPIStrategy, error) {
	if client == nil {
		return nil, fmt.Errorf("http client is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token provider is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if listingURL == "" {
		return nil, fmt.Errorf("listing url is required")
	}
	return &DirectAPIStrategy{
		client:     client,
		tokens:     tokens,
		fetcher:    fetcher,
		listingURL: listingURL,
	}, nil
}

func (s *DirectAPIStrategy) Name() string { return StrategyDirect }

func (s *DirectAPIStrategy) Attempt(ctx context.Context, ref Reference) (*Result, error) {
	params, err := parseReference(ref.URL)
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.Acquire(ctx, ref.Site, ref.Account)
	if err != nil {
		return nil, fmt.Errorf("token acquisition failed: %w", err)
	}

	response, err := s.client.R().
		SetContext(ctx).
		SetHeader("Authorization", token.AuthorizationValue()).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{
			"noticeId":  params.NoticeID,
			"batchId":   params.BatchID,
			"receiptId": params.ReceiptID,
		}).
		Post(s.listingURL)
	if err != nil {
		return nil, &domain.ExternalServiceError{Service: "listing-api", Cause: err}
	}
	if response.StatusCode() >= http.StatusInternalServerError {
		return nil, &domain.ExternalServiceError{Service: "listing-api", StatusCode: response.StatusCode()}
	}
	if response.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("listing api returned status %d", response.StatusCode())
	}

	docs, err := decodeListing(response.Body())
	if err != nil {
		return nil, err
	}

	return buildResult(s.fetcher.FetchAll(ctx, ref.TaskID, token, docs))
}

// decodeListing accepts both the wrapped {code,data} envelope and a bare
// JSON array, which is what the interception path observes on some portal
// versions.
func decodeListing(payload []byte) ([]DocumentDescriptor, error) {
	var envelope listingResponse
	if err := json.Unmarshal(payload, &envelope); err == nil && envelope.Data != nil {
		if envelope.Code != 0 {
			return nil, fmt.Errorf("listing api rejected the request: code=%d message=%s", envelope.Code, envelope.Message)
		}
		return envelope.Data, nil
	}

	var bare []DocumentDescriptor
	if err := json.Unmarshal(payload, &bare); err != nil {
		return nil, fmt.Errorf("unparseable listing payload: %w", err)
	}
	return bare, nil
}

// buildResult enforces the success criterion shared by all strategies:
// at least one document on disk.
func buildResult(items []ItemResult) (*Result, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("listing returned no documents")
	}
	result := &Result{Items: items}
	if _, succeeded, _ := result.counts(); succeeded == 0 {
		return nil, fmt.Errorf("every document download failed")
	}
	return result, nil
}
