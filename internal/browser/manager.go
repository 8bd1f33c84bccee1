// Package browser drives a Chrome instance through go-rod. Every chat
// session gets its own page; the browser itself is shared and started on
// first use.
package browser

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// ErrDisabled is returned when browser automation is turned off.
var ErrDisabled = errors.New("browser automation is disabled")

// Config holds browser settings.
type Config struct {
	Enabled    bool
	Headless   bool
	ControlURL string

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
		return time.Second
	}
	return c.ElementTimeout
}

type pageRecord struct {
	mu       sync.Mutex
	page     *rod.Page
	lastUsed time.Time
}

// Manager owns the browser connection and one page per session key.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
	pages    map[string]*pageRecord
}

// NewManager creates a manager. Nothing is launched until a tool needs a page.
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:   cfg,
		pages: make(map[string]*pageRecord),
	}
}

// Enabled reports whether browser tools should be offered.
func (m *Manager) Enabled() bool { return m.cfg.Enabled }

func (m *Manager) ensureBrowser() (*rod.Browser, error) {
	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return m.browser, nil
		}
		slog.Warn("Stale browser connection detected, reconnecting")
		m.shutdownLocked()
	}

	controlURL := m.cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(m.cfg.Headless)
		url, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		m.launcher = l
		controlURL = url
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		if m.launcher != nil {
			m.launcher.Kill()
			m.launcher = nil
		}
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	slog.Info("Browser connected", "control_url", controlURL, "headless", m.cfg.Headless)
	m.browser = b
	return b, nil
}

// acquire returns the locked page record for key, opening a blank page
// when the session has none yet. Callers must unlock rec.mu.
func (m *Manager) acquire(key string) (*pageRecord, error) {
	if !m.cfg.Enabled {
		return nil, ErrDisabled
	}

	m.mu.Lock()
	rec, ok := m.pages[key]
	if !ok {
		b, err := m.ensureBrowser()
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
		if err != nil {
			m.mu.Unlock()
			return nil, fmt.Errorf("create page: %w", err)
		}
		rec = &pageRecord{page: page}
		m.pages[key] = rec
		slog.Debug("Browser page opened", "session", key)
	}
	m.mu.Unlock()

	rec.mu.Lock()
	rec.lastUsed = time.Now()
	return rec, nil
}

// ClosePage closes the page of a session, if any.
func (m *Manager) ClosePage(key string) {
	m.mu.Lock()
	rec, ok := m.pages[key]
	delete(m.pages, key)
	m.mu.Unlock()

	if !ok {
		return
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if err := rec.page.Close(); err != nil {
		slog.Debug("Failed to close browser page", "session", key, "error", err)
	}
}

// PageCount returns the number of open session pages.
func (m *Manager) PageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pages)
}

// Close closes every page and the browser.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdownLocked()
}

func (m *Manager) shutdownLocked() error {
	for key, rec := range m.pages {
		_ = rec.page.Close()
		delete(m.pages, key)
	}

	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	if m.launcher != nil {
		m.launcher.Kill()
		m.launcher = nil
	}
	return err
}
