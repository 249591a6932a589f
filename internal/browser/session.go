package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// Session is one isolated incognito page belonging to a single task.
type Session struct {
	taskID string
	page   *rod.Page
	cfg    Config
	pool   *Pool
	logger *zap.Logger
	closed bool
}

// Close releases the page and unregisters the session from the pool.
// Idempotent; always safe in a defer.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if err := s.page.Close(); err != nil {
		s.logger.Warn("failed to close page", zap.Error(err))
	}
	s.pool.release(s.taskID)
}

// Navigate loads the URL and waits for the page load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx).Timeout(s.cfg.navigationTimeout())
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

// Reload reloads the current page, resetting its scripted state.
func (s *Session) Reload(ctx context.Context) error {
	p := s.page.Context(ctx).Timeout(s.cfg.navigationTimeout())
	if err := p.Reload(); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return p.WaitLoad()
}

// Fill clears the element matched by selector and types the text.
func (s *Session) Fill(ctx context.Context, selector, text string) error {
	el, err := s.page.Context(ctx).Timeout(s.cfg.elementTimeout()).Element(selector)
	if err != nil {
		return fmt.Errorf("element %s not found: %w", selector, err)
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("select text in %s: %w", selector, err)
	}
	if err := el.Input(text); err != nil {
		return fmt.Errorf("input into %s: %w", selector, err)
	}
	return nil
}

// Click clicks the element matched by selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	el, err := s.page.Context(ctx).Timeout(s.cfg.elementTimeout()).Element(selector)
	if err != nil {
		return fmt.Errorf("element %s not found: %w", selector, err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// ClickByText clicks the first element matching selector whose text matches
// the pattern (a JS regular expression).
func (s *Session) ClickByText(ctx context.Context, selector, pattern string) error {
	el, err := s.page.Context(ctx).Timeout(s.cfg.elementTimeout()).ElementR(selector, pattern)
	if err != nil {
		return fmt.Errorf("no %s element matching %q: %w", selector, pattern, err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// Text returns the visible text of the element matched by selector.
func (s *Session) Text(ctx context.Context, selector string) (string, error) {
	el, err := s.page.Context(ctx).Timeout(s.cfg.elementTimeout()).Element(selector)
	if err != nil {
		return "", fmt.Errorf("element %s not found: %w", selector, err)
	}
	return el.Text()
}

// Has reports whether an element currently exists, without waiting for it.
func (s *Session) Has(selector string) (bool, error) {
	has, _, err := s.page.Has(selector)
	return has, err
}

// ElementImage fetches the binary resource behind an element, typically the
// captcha <img>.
func (s *Session) ElementImage(ctx context.Context, selector string) ([]byte, error) {
	el, err := s.page.Context(ctx).Timeout(s.cfg.elementTimeout()).Element(selector)
	if err != nil {
		return nil, fmt.Errorf("element %s not found: %w", selector, err)
	}
	data, err := el.Resource()
	if err != nil {
		return nil, fmt.Errorf("resource of %s: %w", selector, err)
	}
	return data, nil
}

// AllowDownloads routes file downloads triggered from the page into dir.
func (s *Session) AllowDownloads(dir string) error {
	return proto.PageSetDownloadBehavior{
		Behavior:     proto.PageSetDownloadBehaviorBehaviorAllow,
		DownloadPath: dir,
	}.Call(s.page)
}

// Capture collects one intercepted response body. It must be registered
// before the navigation that triggers the request: the request can fire
// before a late listener exists and the payload would be lost.
type Capture struct {
	ch     chan []byte
	cancel context.CancelFunc
}

// StartCapture registers a response listener for the first response whose
// URL contains urlSubstr. Call before Navigate.
func (s *Session) StartCapture(ctx context.Context, urlSubstr string) (*Capture, error) {
	if err := (proto.NetworkEnable{}).Call(s.page); err != nil {
		return nil, fmt.Errorf("enable network events: %w", err)
	}

	capCtx, cancel := context.WithCancel(ctx)
	capture := &Capture{ch: make(chan []byte, 1), cancel: cancel}

	boundPage := s.page.Context(capCtx)
	wait := boundPage.EachEvent(func(ev *proto.NetworkResponseReceived) bool {
		if ev.Response == nil || !strings.Contains(ev.Response.URL, urlSubstr) {
			return false
		}
		body, err := proto.NetworkGetResponseBody{RequestID: ev.RequestID}.Call(boundPage)
		if err != nil {
			s.logger.Warn("failed to read intercepted body",
				zap.String("url", ev.Response.URL),
				zap.Error(err),
			)
			return false
		}
		select {
		case capture.ch <- []byte(body.Body):
		default:
		}
		return true
	})
	go wait()

	return capture, nil
}

// Wait blocks until the capture observed a matching response or the timeout
// elapses. The capture is single-use; it cancels itself on return.
func (c *Capture) Wait(ctx context.Context, timeout time.Duration) ([]byte, error) {
	defer c.cancel()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case body := <-c.ch:
		return body, nil
	case <-waitCtx.Done():
		return nil, fmt.Errorf("no matching response observed within %s: %w", timeout, waitCtx.Err())
	}
}
