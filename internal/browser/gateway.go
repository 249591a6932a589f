package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/download"
	"go.uber.org/zap"
)

// Gateway exposes the pool's scripted interactions to the download
// strategies. It implements download.BrowserGateway.
type Gateway struct {
	pool   *Pool
	logger *zap.Logger

	// downloadSettle is how long FetchViaUI waits for the directory to stop
	// changing after the last click.
	downloadSettle time.Duration
	pollInterval   time.Duration
}

func NewGateway(pool *Pool, logger *zap.Logger) (*Gateway, error) {
	if pool == nil {
		return nil, fmt.Errorf("browser pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		pool:           pool,
		logger:         logger,
		downloadSettle: 30 * time.Second,
		pollInterval:   500 * time.Millisecond,
	}, nil
}

// CaptureListing rides the reference page's own listing request. The
// listener is registered before Navigate so the response cannot be missed.
func (g *Gateway) CaptureListing(ctx context.Context, taskID, refURL, apiSubstring string, wait time.Duration) ([]byte, error) {
	session, err := g.pool.Acquire(ctx, taskID)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	capture, err := session.StartCapture(ctx, apiSubstring)
	if err != nil {
		return nil, err
	}
	if err := session.Navigate(ctx, refURL); err != nil {
		return nil, err
	}
	return capture.Wait(ctx, wait)
}

// downloadTriggers are tried in order on the listing page. The portal has
// shipped several front-end revisions; the selectors cover the ones seen so
// far.
var downloadTriggers = []struct {
	selector string
	pattern  string
}{
	{selector: "button", pattern: "下载|全部下载"},
	{selector: "a", pattern: "下载"},
	{selector: `[class*="download"]`, pattern: ""},
}

// FetchViaUI drives the page like a human would: navigate, click every
// download control it can find, then harvest whatever landed in dir.
func (g *Gateway) FetchViaUI(ctx context.Context, taskID, refURL, dir string) ([]download.UIFile, error) {
	session, err := g.pool.Acquire(ctx, taskID)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	if err := session.AllowDownloads(dir); err != nil {
		return nil, fmt.Errorf("route downloads to %s: %w", dir, err)
	}
	if err := session.Navigate(ctx, refURL); err != nil {
		return nil, err
	}

	clicked := 0
	for _, trigger := range downloadTriggers {
		var clickErr error
		if trigger.pattern == "" {
			clickErr = session.Click(ctx, trigger.selector)
		} else {
			clickErr = session.ClickByText(ctx, trigger.selector, trigger.pattern)
		}
		if clickErr != nil {
			g.logger.Debug("download trigger not usable",
				zap.String("taskId", taskID),
				zap.String("selector", trigger.selector),
				zap.Error(clickErr),
			)
			continue
		}
		clicked++
		break
	}
	if clicked == 0 {
		return nil, fmt.Errorf("no download control found on %s", refURL)
	}

	files, err := g.waitForFiles(ctx, dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("download click produced no files in %s", dir)
	}
	return files, nil
}

// waitForFiles polls dir until at least one completed file appears and the
// set stops changing, or the settle window elapses. Chromium writes
// .crdownload entries while a transfer is in flight.
func (g *Gateway) waitForFiles(ctx context.Context, dir string) ([]download.UIFile, error) {
	deadline := time.Now().Add(g.downloadSettle)
	var lastSeen []download.UIFile

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.pollInterval):
		}

		files, inflight, err := scanDownloads(dir)
		if err != nil {
			return nil, err
		}
		if inflight {
			lastSeen = files
			continue
		}
		if len(files) > 0 && len(files) == len(lastSeen) {
			return files, nil
		}
		lastSeen = files
	}
	return lastSeen, nil
}

func scanDownloads(dir string) ([]download.UIFile, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, false, fmt.Errorf("read download dir: %w", err)
	}

	var files []download.UIFile
	inflight := false
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".crdownload") || strings.HasSuffix(name, ".tmp") {
			inflight = true
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, download.UIFile{
			Name: name,
			Path: filepath.Join(dir, name),
			Size: info.Size(),
		})
	}
	return files, inflight, nil
}
