// Package agent drives synthetic chat users through a real browser.
// Agents share one Chromium instance; each gets an incognito page and
// exposes the primitives scenario steps are built from.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"mcpharness/internal/config"
	"mcpharness/internal/logging"
)

// Browser owns the shared Chromium instance agents open pages on.
type Browser struct {
	cfg        config.AgentConfig
	navTimeout time.Duration

	mu         sync.Mutex
	browser    *rod.Browser
	controlURL string

	log *logging.Logger
}

// NewBrowser creates the shared browser from harness config. Nothing
// is launched until Start.
func NewBrowser(cfg *config.Config) *Browser {
	return &Browser{
		cfg:        cfg.Agent,
		navTimeout: cfg.GetNavigationTimeout(),
		log:        logging.Get(logging.CategoryAgent),
	}
}

// Start launches Chromium and connects, or verifies an existing
// connection is still alive.
func (b *Browser) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		if _, err := b.browser.Version(); err == nil {
			return nil
		}
		b.log.Warn("stale browser connection, relaunching")
		_ = b.browser.Close()
		b.browser = nil
		b.controlURL = ""
	}

	launch := launcher.New().Headless(b.cfg.Headless)
	if b.cfg.BrowserBin != "" {
		launch = launch.Bin(b.cfg.BrowserBin)
	}
	for _, rawFlag := range b.cfg.LaunchFlags {
		flagStr := strings.TrimLeft(rawFlag, "-")
		name, val, hasVal := strings.Cut(flagStr, "=")
		if hasVal {
			launch = launch.Set(flags.Flag(name), val)
		} else {
			launch = launch.Set(flags.Flag(name))
		}
	}

	controlURL, err := launch.Launch()
	if err != nil {
		return fmt.Errorf("launch chromium: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chromium: %w", err)
	}

	b.browser = browser
	b.controlURL = controlURL
	b.log.Info("browser started (headless=%v)", b.cfg.Headless)
	return nil
}

// ControlURL returns the DevTools WebSocket URL.
func (b *Browser) ControlURL() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.controlURL
}

// IsConnected reports whether the browser is up.
func (b *Browser) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.browser != nil
}

// NewAgent opens an incognito context with one blank page. The caller
// owns the agent and must Close it.
func (b *Browser) NewAgent(ctx context.Context, scenarioID string) (*ChatAgent, error) {
	if err := b.Start(ctx); err != nil {
		return nil, err
	}

	b.mu.Lock()
	browser := b.browser
	b.mu.Unlock()
	if browser == nil {
		return nil, errors.New("browser not connected")
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             b.cfg.ViewportWidth,
		Height:            b.cfg.ViewportHeight,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		b.log.Warn("failed to set viewport: %v", err)
	}

	b.log.Debug("[%s] agent page created", scenarioID)
	return &ChatAgent{
		id:         scenarioID,
		page:       page,
		sel:        b.cfg.Selectors,
		navTimeout: b.navTimeout,
		log:        b.log,
	}, nil
}

// Shutdown closes the browser and every page it owns.
func (b *Browser) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	b.controlURL = ""
	return err
}
