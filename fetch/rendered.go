package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// RendererConfig configures the headless-browser path.
type RendererConfig struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// NavigateTimeout bounds navigation plus load. Default: 30s.
	NavigateTimeout time.Duration

	// URLValidator validates URLs before navigation. Default: ValidateURL.
	URLValidator func(string) error
}

func (c *RendererConfig) defaults() {
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.URLValidator == nil {
		c.URLValidator = ValidateURL
	}
}

// Renderer fetches pages through a real browser so script-built text is
// present before anchors are resolved. The browser is launched lazily on
// first use.
type Renderer struct {
	cfg RendererConfig

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// NewRenderer creates a Renderer. Call Close when done.
func NewRenderer(cfg RendererConfig) *Renderer {
	cfg.defaults()
	return &Renderer{cfg: cfg}
}

func (r *Renderer) connect() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil {
		return r.browser, nil
	}

	controlURL := r.cfg.RemoteURL
	if controlURL == "" {
		l := launcher.New().Headless(true)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("fetch: launch browser: %w", err)
		}
		r.lnch = l
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("fetch: connect browser: %w", err)
	}
	r.browser = b
	return b, nil
}

// FetchRendered navigates to a URL with stealth applied, waits for the
// load event, and parses the post-script DOM.
func (r *Renderer) FetchRendered(ctx context.Context, url string) (*Document, error) {
	if err := r.cfg.URLValidator(url); err != nil {
		return nil, fmt.Errorf("fetch: URL blocked: %w", err)
	}

	b, err := r.connect()
	if err != nil {
		return nil, err
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("fetch: create tab: %w", err)
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, r.cfg.NavigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(url); err != nil {
		return nil, fmt.Errorf("fetch: navigate %s: %w", url, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		return nil, fmt.Errorf("fetch: wait load %s: %w", url, err)
	}

	res, err := page.Context(navCtx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("fetch: serialize DOM: %w", err)
	}

	return ParseDocument(url, []byte(res.Value.Str()), 200)
}

// Close tears down the browser and, when locally launched, its process.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil {
		_ = r.browser.Close()
		r.browser = nil
	}
	if r.lnch != nil {
		r.lnch.Cleanup()
		r.lnch = nil
	}
}
