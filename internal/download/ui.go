package download

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

const StrategyUI = "ui"

// UIStrategy is the last resort: no API payload was ever observed, so the
// rendered page's download controls are clicked one document at a time.
type UIStrategy struct {
	gateway BrowserGateway
	store   *FileStore
}

func NewUIStrategy(gateway BrowserGateway, store *FileStore) (*UIStrategy, error) {
	if gateway == nil {
		return nil, fmt.Errorf("browser gateway is required")
	}
	if store == nil {
		return nil, fmt.Errorf("file store is required")
	}
	return &UIStrategy{gateway: gateway, store: store}, nil
}

func (s *UIStrategy) Name() string { return StrategyUI }

func (s *UIStrategy) Attempt(ctx context.Context, ref Reference) (*Result, error) {
	dir, err := s.store.TaskDir(ref.TaskID)
	if err != nil {
		return nil, err
	}

	files, err := s.gateway.FetchViaUI(ctx, ref.TaskID, ref.URL, dir)
	if err != nil {
		return nil, fmt.Errorf("ui fallback failed: %w", err)
	}

	items := make([]ItemResult, 0, len(files))
	for _, file := range files {
		items = append(items, ItemResult{
			Name:      file.Name,
			Format:    strings.TrimPrefix(filepath.Ext(file.Name), "."),
			LocalPath: file.Path,
			ByteSize:  file.Size,
			Success:   true,
		})
	}
	return buildResult(items)
}
