package download

import (
	"context"
	"fmt"
	"time"
)

const StrategyIntercept = "intercept"

// BrowserGateway is the narrow slice of the automation layer the download
// strategies need.
type BrowserGateway interface {
	// CaptureListing opens a session for the task, registers a response
	// listener for the listing API before navigating, navigates to the
	// reference and returns the intercepted payload.
	CaptureListing(ctx context.Context, taskID, refURL, apiSubstring string, wait time.Duration) ([]byte, error)
	// FetchViaUI opens a session, navigates to the reference and clicks the
	// page's download controls one document at a time, saving into dir.
	FetchViaUI(ctx context.Context, taskID, refURL, dir string) ([]UIFile, error)
}

// UIFile is one document saved through the UI fallback.
type UIFile struct {
	Name string
	Path string
	Size int64
}

const defaultCaptureWait = 20 * time.Second

// InterceptStrategy rides the portal's own page load: the page fires the
// listing request itself and the strategy captures the response off the
// wire, then downloads documents exactly like the direct strategy.
type InterceptStrategy struct {
	gateway      BrowserGateway
	tokens       TokenProvider
	fetcher      *Fetcher
	apiSubstring string
	captureWait  time.Duration
}

func NewInterceptStrategy(gateway BrowserGateway, tokens TokenProvider, fetcher *Fetcher, apiSubstring string, captureWait time.Duration) (*InterceptStrategy, error) {
	if gateway == nil {
		return nil, fmt.Errorf("browser gateway is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token provider is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if apiSubstring == "" {
		return nil, fmt.Errorf("api substring is required")
	}
	if captureWait <= 0 {
		captureWait = defaultCaptureWait
	}
	return &InterceptStrategy{
		gateway:      gateway,
		tokens:       tokens,
		fetcher:      fetcher,
		apiSubstring: apiSubstring,
		captureWait:  captureWait,
	}, nil
}

func (s *InterceptStrategy) Name() string { return StrategyIntercept }

func (s *InterceptStrategy) Attempt(ctx context.Context, ref Reference) (*Result, error) {
	payload, err := s.gateway.CaptureListing(ctx, ref.TaskID, ref.URL, s.apiSubstring, s.captureWait)
	if err != nil {
		return nil, fmt.Errorf("interception failed: %w", err)
	}

	docs, err := decodeListing(payload)
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.Acquire(ctx, ref.Site, ref.Account)
	if err != nil {
		return nil, fmt.Errorf("token acquisition failed: %w", err)
	}

	return buildResult(s.fetcher.FetchAll(ctx, ref.TaskID, token, docs))
}
