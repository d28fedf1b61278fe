package crawlers

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/models"
	"github.com/rs/zerolog"
)

// BrowserConfig session settings shared by every portal driver
type BrowserConfig struct {
	Bin            string        // chrome binary; looked up or downloaded when empty
	Headless       bool          // false opens a visible window
	WaitTimeout    time.Duration // element and navigation waits
	LoadingTimeout time.Duration // loading overlay waits
	HTTPTimeout    time.Duration // static detail fetches
	UserAgent      string        // static detail fetches
}

// Browser starts one isolated browser process per session
type Browser struct {
	config BrowserConfig

	mu  sync.RWMutex
	bin string
}

// NewBrowser creates the session factory
func NewBrowser(config BrowserConfig) *Browser {
	if config.WaitTimeout <= 0 {
		config.WaitTimeout = 20 * time.Second
	}
	if config.LoadingTimeout <= 0 {
		config.LoadingTimeout = 60 * time.Second
	}
	if config.HTTPTimeout <= 0 {
		config.HTTPTimeout = 30 * time.Second
	}
	return &Browser{config: config}
}

// Provision resolves the browser binary once, before any worker starts
func (b *Browser) Provision(ctx context.Context) error {
	log := zerolog.Ctx(ctx)

	bin := b.config.Bin
	switch {
	case bin != "":
		if _, err := os.Stat(bin); err != nil {
			return fmt.Errorf("%w: configured binary %s: %v", models.ErrDriverProvisioning, bin, err)
		}
	default:
		if found, ok := launcher.LookPath(); ok {
			bin = found
			break
		}
		log.Info().Msg("no local browser found, downloading")
		downloaded, err := launcher.NewBrowser().Get()
		if err != nil {
			return fmt.Errorf("%w: %v", models.ErrDriverProvisioning, err)
		}
		bin = downloaded
	}

	b.mu.Lock()
	b.bin = bin
	b.mu.Unlock()

	log.Info().Str("bin", bin).Bool("headless", b.config.Headless).Msg("browser ready")
	return nil
}

// NewPageDriver opens a session and wraps it in the city's portal driver
func (b *Browser) NewPageDriver(ctx context.Context, city models.CityConfig) (PageDriver, error) {
	portal, err := LookupPortal(city.Portal)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSessionStart, err)
	}
	s, err := b.startSession(ctx)
	if err != nil {
		return nil, err
	}
	return portal.NewPageDriver(s, city), nil
}

// NewBatchLister opens a session for annual link collection
func (b *Browser) NewBatchLister(ctx context.Context, city models.CityConfig) (BatchLister, error) {
	portal, err := LookupPortal(city.Portal)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSessionStart, err)
	}
	if portal.NewBatchLister == nil {
		return nil, fmt.Errorf("%w: portal %s: %v", models.ErrSessionStart, portal.Name, models.ErrUnsupported)
	}
	s, err := b.startSession(ctx)
	if err != nil {
		return nil, err
	}
	return portal.NewBatchLister(s, city), nil
}

// NewDetailReader opens a detail reader; detail_fetch "http" skips the browser
func (b *Browser) NewDetailReader(ctx context.Context, city models.CityConfig) (DetailReader, error) {
	portal, err := LookupPortal(city.Portal)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSessionStart, err)
	}
	if city.DetailFetch == "http" {
		r, err := NewStaticDetailReader(city, portal.DetailXPaths, StaticConfig{
			Timeout:   b.config.HTTPTimeout,
			UserAgent: b.config.UserAgent,
		})
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	if portal.NewDetailReader == nil {
		return nil, fmt.Errorf("%w: portal %s: %v", models.ErrSessionStart, portal.Name, models.ErrUnsupported)
	}
	s, err := b.startSession(ctx)
	if err != nil {
		return nil, err
	}
	return portal.NewDetailReader(s, city), nil
}

// startSession launches a browser process and opens a blank tab
func (b *Browser) startSession(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrSessionStart, err)
	}
	b.mu.RLock()
	bin := b.bin
	b.mu.RUnlock()

	l := launcher.New().Headless(b.config.Headless)
	if bin != "" {
		l = l.Bin(bin)
	}
	if b.config.Headless {
		l = l.Set("disable-gpu").Set("no-sandbox")
	} else {
		l = l.Set("window-size", "1920,1080").Set("disable-blink-features", "AutomationControlled")
	}
	l = l.Set("disable-dev-shm-usage").Set("ignore-certificate-errors")

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("%w: launch: %v", models.ErrSessionStart, err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("%w: connect: %v", models.ErrSessionStart, err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = browser.Close()
		l.Kill()
		return nil, fmt.Errorf("%w: open tab: %v", models.ErrSessionStart, err)
	}

	zerolog.Ctx(ctx).Debug().Str("control_url", controlURL).Msg("browser session started")
	return &Session{
		browser:  browser,
		launcher: l,
		page:     page,
		config:   b.config,
	}, nil
}

// Session one browser process owned by a single driver
type Session struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	page     *rod.Page
	config   BrowserConfig

	closeOnce sync.Once
}

// Page main tab bound to ctx with the element wait timeout
func (s *Session) Page(ctx context.Context) *rod.Page {
	return s.page.Context(ctx).Timeout(s.config.WaitTimeout)
}

// NewTab opens an extra tab, used for detail pages
func (s *Session) NewTab(ctx context.Context, url string) (*rod.Page, error) {
	tab, err := s.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, err
	}
	return tab, nil
}

// Snapshot captures a screenshot and the DOM of page to base.png / base.html
func (s *Session) Snapshot(ctx context.Context, page *rod.Page, base string) (string, string, error) {
	p := page.Context(ctx).Timeout(s.config.WaitTimeout)
	png, err := p.Screenshot(true, nil)
	if err != nil {
		return "", "", fmt.Errorf("screenshot: %w", err)
	}
	dom, err := p.HTML()
	if err != nil {
		return "", "", fmt.Errorf("page source: %w", err)
	}
	return WriteSnapshot(base, png, dom)
}

// Close ends the browser process
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.browser.Close()
		s.launcher.Kill()
		s.launcher.Cleanup()
	})
	return err
}
