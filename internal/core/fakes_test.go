package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/crawlers"
	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/models"
)

const fundingField = "fonte_de_recurso"

var errPortal = errors.New("portal glitch")

// fakeDriver serves scripted pages. pagesFor is called on ApplyFilter.
type fakeDriver struct {
	mu sync.Mutex

	pagesFor  func(year, month string) [][]models.RawRow
	detailFor func(page int, row models.RawRow) models.RawRow

	filterErr     error
	failMonth     string      // ApplyFilter fails for this month
	hasNextFails  int         // HasNextPage fails this many times before working
	hasNextBroken bool
	expandFails   map[int]int // row index -> failures left
	collapseErr   error

	pages      [][]models.RawRow
	page       int
	navigated  int
	extracted  int
	nextCalls  int
	probes     int
	refreshes  int
	expands    int
	collapses  int
	seeks      []int
	diagnostic []string
	closed     bool
}

func (d *fakeDriver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navigated++
	return nil
}

func (d *fakeDriver) ApplyFilter(ctx context.Context, year, month string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.filterErr != nil {
		return d.filterErr
	}
	if month != "" && month == d.failMonth {
		return fmt.Errorf("month %s: %w", month, errPortal)
	}
	if d.pagesFor != nil {
		d.pages = d.pagesFor(year, month)
	}
	d.page = 0
	return nil
}

func (d *fakeDriver) ExtractRows(ctx context.Context) ([]models.RawRow, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.extracted++
	if d.page >= len(d.pages) {
		return nil, nil
	}
	return d.pages[d.page], nil
}

func (d *fakeDriver) HasNextPage(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.probes++
	if d.hasNextBroken {
		return false, errPortal
	}
	if d.hasNextFails > 0 {
		d.hasNextFails--
		return false, errPortal
	}
	return d.page < len(d.pages)-1, nil
}

func (d *fakeDriver) GoNext(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.page >= len(d.pages)-1 {
		return fmt.Errorf("go next called on last page %d", d.page+1)
	}
	d.nextCalls++
	d.page++
	return nil
}

func (d *fakeDriver) ExpandDetail(ctx context.Context, row models.RawRow) (models.RawRow, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.expands++
	if d.expandFails[row.Index] > 0 {
		d.expandFails[row.Index]--
		return models.RawRow{}, errPortal
	}
	if d.detailFor == nil {
		return models.RawRow{}, nil
	}
	return d.detailFor(d.page, row), nil
}

func (d *fakeDriver) CollapseDetail(ctx context.Context, row models.RawRow) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.collapses++
	return d.collapseErr
}

func (d *fakeDriver) CaptureDiagnostics(ctx context.Context, base string) (string, string, error) {
	d.mu.Lock()
	d.diagnostic = append(d.diagnostic, base)
	d.mu.Unlock()
	return crawlers.WriteSnapshot(base, []byte("png"), "<html></html>")
}

func (d *fakeDriver) Refresh(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refreshes++
	return nil
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// SeekPage jumps to a 1-based page of the annual listing
func (d *fakeDriver) SeekPage(ctx context.Context, year string, page int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pagesFor != nil && d.pages == nil {
		d.pages = d.pagesFor(year, "")
	}
	d.seeks = append(d.seeks, page)
	d.page = page - 1
	return nil
}

// fakeReader serves detail pages keyed by link
type fakeReader struct {
	funding map[string]string
	current string
	opened  int
	closed  bool
}

func (r *fakeReader) Open(ctx context.Context, link string) error {
	r.opened++
	if _, ok := r.funding[link]; !ok {
		return fmt.Errorf("%s: not found", link)
	}
	r.current = link
	return nil
}

func (r *fakeReader) FundingSource(ctx context.Context) (string, error) {
	return r.funding[r.current], nil
}

func (r *fakeReader) Fields(ctx context.Context) (models.RawRow, error) {
	return models.NewRawRow(0,
		crawlers.FieldDetailLink, r.current,
		"fonte_recurso", r.funding[r.current],
		"valor", "100,00",
	), nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

// fakeFactory hands out fake sessions
type fakeFactory struct {
	mu sync.Mutex

	provisionErr error
	newDriver    func(city models.CityConfig) *fakeDriver
	funding      map[string]string
	readerErrs   int // first readerErrs detail sessions fail to start

	provisioned int
	drivers     []*fakeDriver
	readers     []*fakeReader
}

func (f *fakeFactory) Provision(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.provisioned++
	return f.provisionErr
}

func (f *fakeFactory) NewPageDriver(ctx context.Context, city models.CityConfig) (crawlers.PageDriver, error) {
	return f.driver(city), nil
}

func (f *fakeFactory) NewBatchLister(ctx context.Context, city models.CityConfig) (crawlers.BatchLister, error) {
	return f.driver(city), nil
}

func (f *fakeFactory) NewDetailReader(ctx context.Context, city models.CityConfig) (crawlers.DetailReader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readerErrs > 0 {
		f.readerErrs--
		return nil, errPortal
	}
	r := &fakeReader{funding: f.funding}
	f.readers = append(f.readers, r)
	return r, nil
}

func (f *fakeFactory) driver(city models.CityConfig) *fakeDriver {
	d := f.newDriver(city)
	f.mu.Lock()
	f.drivers = append(f.drivers, d)
	f.mu.Unlock()
	return d
}

// recordingSink keeps every progress event
type recordingSink struct {
	mu     sync.Mutex
	events []models.ProgressEvent
}

func (s *recordingSink) Emit(ev models.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) ofKind(kind models.EventKind) []models.ProgressEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ProgressEvent
	for _, ev := range s.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// recordedSleep replaces real waits in tests
type recordedSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordedSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func paymentRow(index int, funding string) models.RawRow {
	return models.NewRawRow(index,
		"empenho", fmt.Sprintf("E-%03d", index),
		"credor", "Fornecedor",
		fundingField, funding,
	)
}

func testCity(name string) models.CityConfig {
	return models.CityConfig{
		Name:         name,
		URL:          "https://" + name + ".example.org/pagamentos",
		Portal:       "serigy",
		Mode:         models.ModeMonthly,
		FundingField: fundingField,
	}
}

var testTerms = []string{"royalty", "royalties", "petroleo"}
