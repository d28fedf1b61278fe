package crawlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gocolly/colly/v2"
	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/classify"
	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/net/publicsuffix"
)

// StaticConfig HTTP settings of the static detail reader
type StaticConfig struct {
	Timeout   time.Duration
	UserAgent string
}

// StaticDetailReader reads detail pages over plain HTTP. It serves portals
// whose detail pages render server side, without a browser session.
type StaticDetailReader struct {
	collector    *colly.Collector
	xpaths       []FieldXPath
	fundingField string

	mu      sync.Mutex
	link    string
	root    *colly.XMLElement
	lastErr error
}

var _ DetailReader = (*StaticDetailReader)(nil)

// NewStaticDetailReader creates a reader for the city's detail page layout
func NewStaticDetailReader(city models.CityConfig, xpaths []FieldXPath, config StaticConfig) (*StaticDetailReader, error) {
	if len(xpaths) == 0 {
		return nil, fmt.Errorf("%w: no detail layout for %s", models.ErrSessionStart, city.Name)
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	c := colly.NewCollector(colly.AllowURLRevisit())
	c.SetRequestTimeout(config.Timeout)

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("%w: cookie jar: %v", models.ErrSessionStart, err)
	}
	c.SetCookieJar(jar)

	r := &StaticDetailReader{
		collector:    c,
		xpaths:       xpaths,
		fundingField: city.FundingField,
	}
	r.setupCallbacks(config)
	return r, nil
}

func (r *StaticDetailReader) setupCallbacks(config StaticConfig) {
	r.collector.OnRequest(func(req *colly.Request) {
		req.Headers.Set("Accept-Encoding", "gzip, br")
		if config.UserAgent != "" {
			req.Headers.Set("User-Agent", config.UserAgent)
		}
	})

	// gzip is decoded by colly itself
	r.collector.OnResponse(func(resp *colly.Response) {
		if !strings.EqualFold(strings.TrimSpace(resp.Headers.Get("Content-Encoding")), "br") {
			return
		}
		body, err := io.ReadAll(brotli.NewReader(bytes.NewReader(resp.Body)))
		if err != nil {
			r.mu.Lock()
			r.lastErr = fmt.Errorf("brotli: %w", err)
			r.mu.Unlock()
			return
		}
		resp.Body = body
	})

	r.collector.OnXML("//html", func(e *colly.XMLElement) {
		r.mu.Lock()
		r.root = e
		r.mu.Unlock()
	})

	r.collector.OnError(func(resp *colly.Response, err error) {
		r.mu.Lock()
		r.lastErr = fmt.Errorf("status %d: %w", resp.StatusCode, err)
		r.mu.Unlock()
	})
}

func (r *StaticDetailReader) Open(ctx context.Context, link string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	r.link, r.root, r.lastErr = link, nil, nil
	r.mu.Unlock()

	visitErr := r.collector.Visit(link)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastErr != nil {
		return fmt.Errorf("fetch %s: %w", link, r.lastErr)
	}
	if visitErr != nil {
		return fmt.Errorf("fetch %s: %w", link, visitErr)
	}
	if r.root == nil {
		return fmt.Errorf("fetch %s: no document", link)
	}
	zerolog.Ctx(ctx).Debug().Str("link", link).Msg("detail page fetched")
	return nil
}

func (r *StaticDetailReader) FundingSource(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.root == nil {
		return "", errors.New("no detail page open")
	}
	for _, f := range r.xpaths {
		if f.Name == r.fundingField {
			return classify.Normalize(r.root.ChildText(f.XPath)), nil
		}
	}
	return "", fmt.Errorf("funding field %q not in layout: %w", r.fundingField, models.ErrUnsupported)
}

func (r *StaticDetailReader) Fields(ctx context.Context) (models.RawRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.root == nil {
		return models.RawRow{}, errors.New("no detail page open")
	}

	var row models.RawRow
	for _, f := range r.xpaths {
		value := strings.TrimSpace(r.root.ChildText(f.XPath))
		if f.Name == r.fundingField {
			value = classify.Normalize(value)
		}
		row.Set(f.Name, value)
	}
	row.Set(FieldDetailLink, r.link)
	return row, nil
}

func (r *StaticDetailReader) Close() error {
	r.mu.Lock()
	r.root = nil
	r.mu.Unlock()
	return nil
}
