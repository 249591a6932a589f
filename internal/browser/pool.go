// Package browser wraps go-rod behind a session pool and the few scripted
// interactions the acquisition pipeline needs: portal login, listing-API
// interception, and UI-level document download.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// Config holds browser-level settings shared by all sessions.
type Config struct {
	DebuggerURL       string
	Headless          bool
	ViewportWidth     int
	ViewportHeight    int
	NavigationTimeout time.Duration
	ElementTimeout    time.Duration
}

func (c Config) navigationTimeout() time.Duration {
	if c.NavigationTimeout <= 0 {
		return 30 * time.Second
	}
	return c.NavigationTimeout
}

func (c Config) elementTimeout() time.Duration {
	if c.ElementTimeout <= 0 {
		return 10 * time.Second
	}
	return c.ElementTimeout
}

// Pool owns one Chrome instance and hands out isolated incognito sessions
// keyed by task id. Sessions are never shared across tasks; each one is torn
// down by its owner before the task returns.
type Pool struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	browser  *rod.Browser
	sessions map[string]*Session
}

func NewPool(cfg Config, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Start connects to an existing Chrome or launches a new one. Safe to call
// more than once; a healthy connection is reused.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startLocked(ctx)
}

func (p *Pool) startLocked(ctx context.Context) error {
	if p.browser != nil {
		if _, err := p.browser.Version(); err == nil {
			return nil
		}
		p.logger.Warn("stale browser connection, reconnecting")
		_ = p.browser.Close()
		p.browser = nil
		p.sessions = make(map[string]*Session)
	}

	controlURL := p.cfg.DebuggerURL
	if controlURL == "" {
		url, err := launcher.New().Headless(p.cfg.Headless).Launch()
		if err != nil {
			return fmt.Errorf("failed to launch browser: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("failed to connect browser: %w", err)
	}
	p.browser = browser
	return nil
}

// Acquire opens an isolated incognito session for the task. The caller must
// Close the session, typically in a defer, before returning.
func (p *Pool) Acquire(ctx context.Context, taskID string) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.startLocked(ctx); err != nil {
		return nil, err
	}
	if _, exists := p.sessions[taskID]; exists {
		return nil, fmt.Errorf("session for task %s already active", taskID)
	}

	incognito, err := p.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	width, height := p.cfg.ViewportWidth, p.cfg.ViewportHeight
	if width <= 0 {
		width = 1920
	}
	if height <= 0 {
		height = 1080
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		p.logger.Warn("failed to set viewport", zap.Error(err))
	}

	session := &Session{
		taskID: taskID,
		page:   page,
		cfg:    p.cfg,
		pool:   p,
		logger: p.logger.With(zap.String("taskId", taskID)),
	}
	p.sessions[taskID] = session
	return session, nil
}

func (p *Pool) release(taskID string) {
	p.mu.Lock()
	delete(p.sessions, taskID)
	p.mu.Unlock()
}

// Close tears down every session and the browser itself.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, session := range p.sessions {
		_ = session.page.Close()
		delete(p.sessions, id)
	}
	if p.browser == nil {
		return nil
	}
	err := p.browser.Close()
	p.browser = nil
	return err
}
