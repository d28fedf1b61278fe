package crawlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/models"
)

// PageDriver one browser session positioned on a portal's payment listing.
// A driver is owned by exactly one task and is not safe for concurrent use.
type PageDriver interface {
	// Navigate opens the portal entry point
	Navigate(ctx context.Context, url string) error
	// ApplyFilter selects the year and, when month is not empty, the month
	ApplyFilter(ctx context.Context, year, month string) error
	// ExtractRows reads every row of the current page
	ExtractRows(ctx context.Context) ([]models.RawRow, error)
	// HasNextPage reports false once the "next" control is disabled
	HasNextPage(ctx context.Context) (bool, error)
	// GoNext advances to the next page and waits for it to render
	GoNext(ctx context.Context) error
	// ExpandDetail opens a row's detail panel and returns its fields
	ExpandDetail(ctx context.Context, row models.RawRow) (models.RawRow, error)
	// CollapseDetail closes the detail panel opened by ExpandDetail
	CollapseDetail(ctx context.Context, row models.RawRow) error
	// CaptureDiagnostics writes base+".png" and base+".html"
	CaptureDiagnostics(ctx context.Context, base string) (screenshotPath, domPath string, err error)
	// Refresh reloads the current page before a pagination retry
	Refresh(ctx context.Context) error
	// Close ends the session
	Close() error
}

// BatchLister a PageDriver that can jump straight to a result page
type BatchLister interface {
	PageDriver
	SeekPage(ctx context.Context, year string, page int) error
}

// DetailReader reads standalone payment detail pages
type DetailReader interface {
	Open(ctx context.Context, link string) error
	FundingSource(ctx context.Context) (string, error)
	Fields(ctx context.Context) (models.RawRow, error)
	Close() error
}

// Portal constructors for one portal layout. Nil constructors mean the
// layout does not support that capability.
type Portal struct {
	Name            string
	NewPageDriver   func(s *Session, city models.CityConfig) PageDriver
	NewBatchLister  func(s *Session, city models.CityConfig) BatchLister
	NewDetailReader func(s *Session, city models.CityConfig) DetailReader
	DetailXPaths    []FieldXPath // detail page layout, used by the static reader
}

// FieldXPath locates one field on a detail page
type FieldXPath struct {
	Name  string
	XPath string
}

var (
	portalsMu sync.RWMutex
	portals   = make(map[string]Portal)
)

// RegisterPortal makes a portal layout selectable by name from configuration
func RegisterPortal(p Portal) {
	portalsMu.Lock()
	defer portalsMu.Unlock()
	if p.Name == "" || p.NewPageDriver == nil {
		panic("crawlers: portal needs a name and a page driver")
	}
	portals[p.Name] = p
}

// LookupPortal returns a registered portal
func LookupPortal(name string) (Portal, error) {
	portalsMu.RLock()
	defer portalsMu.RUnlock()
	p, ok := portals[name]
	if !ok {
		return Portal{}, fmt.Errorf("unknown portal %q (registered: %v)", name, portalNames())
	}
	return p, nil
}

// CheckPortal verifies a city's portal exists and supports its planned strategies
func CheckPortal(city models.CityConfig) error {
	p, err := LookupPortal(city.Portal)
	if err != nil {
		return err
	}
	if city.Mode != models.ModeMonthly && p.NewBatchLister == nil {
		return fmt.Errorf("portal %q cannot run annual batches: %w", p.Name, models.ErrUnsupported)
	}
	if city.Mode == models.ModeMonthly {
		return nil
	}
	if city.DetailFetch == "http" {
		if len(p.DetailXPaths) == 0 {
			return fmt.Errorf("portal %q has no detail layout for http fetches: %w", p.Name, models.ErrUnsupported)
		}
		return nil
	}
	if p.NewDetailReader == nil {
		return fmt.Errorf("portal %q cannot read detail pages: %w", p.Name, models.ErrUnsupported)
	}
	return nil
}

func portalNames() []string {
	names := make([]string, 0, len(portals))
	for name := range portals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WriteSnapshot stores a diagnostic screenshot and DOM dump next to each other
func WriteSnapshot(base string, png []byte, dom string) (string, string, error) {
	if err := os.MkdirAll(filepath.Dir(base), 0755); err != nil {
		return "", "", fmt.Errorf("create diagnostics directory: %w", err)
	}
	pngPath := base + ".png"
	htmlPath := base + ".html"
	if err := os.WriteFile(pngPath, png, 0644); err != nil {
		return "", "", fmt.Errorf("write screenshot: %w", err)
	}
	if err := os.WriteFile(htmlPath, []byte(dom), 0644); err != nil {
		return pngPath, "", fmt.Errorf("write page source: %w", err)
	}
	return pngPath, htmlPath, nil
}
