// Package download obtains court documents for a notification through a
// tiered strategy: direct authenticated API, browser network interception,
// then UI-level clicking. Strategies are mutually exclusive attempts tried
// in strict priority order.
package download

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/domain"
)

// Reference identifies one document listing to acquire.
type Reference struct {
	// URL is the document-listing link carried by the SMS notification.
	URL string
	// Site and Account select the credential used for authenticated calls.
	Site    string
	Account string
	// TaskID keys the automation session and the storage directory.
	TaskID string
}

// DocumentDescriptor is one entry of the portal's listing API response.
type DocumentDescriptor struct {
	Name   string `json:"name"`
	Format string `json:"format"`
	URL    string `json:"url"`
}

type listingResponse struct {
	Code    int                  `json:"code"`
	Message string               `json:"message"`
	Data    []DocumentDescriptor `json:"data"`
}

// ItemResult is the outcome for one document within a strategy attempt.
type ItemResult struct {
	Name      string
	Format    string
	SourceURL string
	LocalPath string
	ByteSize  int64
	Success   bool
	Err       error
}

// Result is a successful strategy attempt: every listed document was tried
// and at least one landed on disk.
type Result struct {
	Items []ItemResult
}

func (r *Result) counts() (total, succeeded, failed int) {
	for _, item := range r.Items {
		total++
		if item.Success {
			succeeded++
		} else {
			failed++
		}
	}
	return total, succeeded, failed
}

// Strategy is one independent method of resolving a reference. Attempt
// either fully succeeds or fails without leaking partial state into the
// next strategy.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, ref Reference) (*Result, error)
}

// TokenProvider supplies a live bearer token for authenticated calls.
type TokenProvider interface {
	Acquire(ctx context.Context, site, account string) (*domain.Token, error)
}

// listingParams are the three opaque correlation parameters the listing API
// is keyed by, carried in the reference URL's query string.
type listingParams struct {
	NoticeID  string
	BatchID   string
	ReceiptID string
}

func parseReference(rawURL string) (*listingParams, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("unparseable reference url: %w", err)
	}

	query := parsed.Query()
	params := &listingParams{
		NoticeID:  query.Get("noticeId"),
		BatchID:   query.Get("batchId"),
		ReceiptID: query.Get("receiptId"),
	}
	if params.NoticeID == "" || params.BatchID == "" || params.ReceiptID == "" {
		return nil, fmt.Errorf("reference url is missing correlation parameters: %s", rawURL)
	}
	return params, nil
}
