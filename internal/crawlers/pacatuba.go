package crawlers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/classify"
	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/models"
	"github.com/rs/zerolog"
)

// FieldDetailLink column holding the detail page a record came from
const FieldDetailLink = "link_detalhe"

// DefaultPagedURLQuery query appended to the city URL to open a result page directly
const DefaultPagedURLQuery = "pagina={page}&alias=pmpacatuba&p=iDespesa&base=189&recursoDESO=false&ano={year}&tipo=pagamento&filtro=1"

const (
	pacatubaCookieReject = "#rejectCookie"
	pacatubaMonthRadio   = "#filtro_2"
	pacatubaSearch       = "button#filtrar.btn-buscar"
	pacatubaBody         = "//table/tbody"
	pacatubaFirstRow     = "//table/tbody/tr[1]"
	pacatubaNext         = "//a[contains(@class, 'page-link')][i[contains(@class, 'next')]]"
	pacatubaNextFallback = "#lista_next"
	pacatubaDetailTable  = "#table-dados"
	pacatubaFundingField = "fonte_recurso"
)

// pacatubaDetailXPaths fields of a payment detail page
var pacatubaDetailXPaths = []FieldXPath{
	{Name: "empenho", XPath: `//*[@id="table-dados"]/tbody/tr[2]/td[1]`},
	{Name: "credor", XPath: `//*[@id="table-dados"]/tbody/tr[2]/td[2]`},
	{Name: "data_nota", XPath: `//*[@id="table-dados"]/tbody/tr[2]/td[3]`},
	{Name: "processo", XPath: `//*[@id="table-dados"]/tbody/tr[4]/th[1]`},
	{Name: pacatubaFundingField, XPath: `//*[@id="table-dados"]/tbody/tr[4]/th[2]`},
	{Name: "numero_documento", XPath: `//*[@id="table-dados"]/tbody/tr[4]/th[3]`},
	{Name: "valor_pago", XPath: `//*[@id="table-dados"]/tbody/tr[6]/td[1]`},
	{Name: "valor_retido", XPath: `//*[@id="table-dados"]/tbody/tr[6]/td[2]`},
	{Name: "forma_pagamento", XPath: `//*[@id="table-dados"]/tbody/tr[6]/td[3]`},
	{Name: "historico", XPath: `//*[@id="table-historico"]/tbody/tr/td`},
	{Name: "relacionado_covid", XPath: `//*[@id="table-outras-informacoes"]/tbody/tr/td[1]`},
	{Name: "relacionado_LC173", XPath: `//*[@id="table-outras-informacoes"]/tbody/tr/td[2]`},
}

func init() {
	RegisterPortal(Portal{
		Name: "pacatuba",
		NewPageDriver: func(s *Session, city models.CityConfig) PageDriver {
			return newPacatubaDriver(s, city)
		},
		NewBatchLister: func(s *Session, city models.CityConfig) BatchLister {
			return newPacatubaDriver(s, city)
		},
		NewDetailReader: func(s *Session, city models.CityConfig) DetailReader {
			return &pacatubaDetailReader{s: s, city: city}
		},
		DetailXPaths: pacatubaDetailXPaths,
	})
}

// pacatubaDriver listing of payment links; details open in a second tab
type pacatubaDriver struct {
	s     *Session
	city  models.CityConfig
	links *LinkExtractor

	mu     sync.Mutex
	detail *rod.Page
}

var _ BatchLister = (*pacatubaDriver)(nil)

func newPacatubaDriver(s *Session, city models.CityConfig) *pacatubaDriver {
	return &pacatubaDriver{
		s:     s,
		city:  city,
		links: NewLinkExtractor("serigyitem", "detalhesPagamento"),
	}
}

func (d *pacatubaDriver) Navigate(ctx context.Context, url string) error {
	p := d.s.Page(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("wait load: %w", err)
	}
	d.rejectCookies(ctx)
	return nil
}

// rejectCookies dismisses the cookie banner when it shows up
func (d *pacatubaDriver) rejectCookies(ctx context.Context) {
	log := zerolog.Ctx(ctx)
	btn, err := d.s.page.Context(ctx).Timeout(10 * time.Second).Element(pacatubaCookieReject)
	if err != nil {
		log.Debug().Msg("no cookie banner")
		return
	}
	if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		log.Warn().Err(err).Msg("cookie banner not dismissed")
		return
	}
	log.Debug().Msg("cookie banner rejected")
}

func (d *pacatubaDriver) ApplyFilter(ctx context.Context, year, month string) error {
	p := d.s.Page(ctx)
	if month != "" {
		radio, err := p.Element(pacatubaMonthRadio)
		if err != nil {
			return fmt.Errorf("month filter: %w", err)
		}
		if err := radio.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return fmt.Errorf("select month filter: %w", err)
		}
	}
	if err := selectDropdown(p, "select2-ano-container", year); err != nil {
		return err
	}
	if month != "" {
		if err := selectDropdown(p, "select2-mes-container", month); err != nil {
			return err
		}
	}

	btn, err := p.Element(pacatubaSearch)
	if err != nil {
		return fmt.Errorf("search button: %w", err)
	}
	if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click search: %w", err)
	}
	if _, err := p.ElementX(pacatubaBody); err != nil {
		return fmt.Errorf("results table: %w", err)
	}

	zerolog.Ctx(ctx).Info().Str("year", year).Str("month", month).Msg("filter applied")
	return nil
}

// selectDropdown picks an option of a select2 widget by its visible text
func selectDropdown(p *rod.Page, container, text string) error {
	trigger, err := p.ElementX(fmt.Sprintf("//span[@aria-labelledby='%s']", container))
	if err != nil {
		return fmt.Errorf("dropdown %s: %w", container, err)
	}
	if err := trigger.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("open dropdown %s: %w", container, err)
	}
	option, err := p.ElementX(fmt.Sprintf("//li[contains(@class, 'select2-results__option') and normalize-space(.)='%s']", text))
	if err != nil {
		return fmt.Errorf("option %s in %s: %w", text, container, err)
	}
	if err := option.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("select %s in %s: %w", text, container, err)
	}
	return nil
}

// ExtractRows one row per detail link, carrying only the link
func (d *pacatubaDriver) ExtractRows(ctx context.Context) ([]models.RawRow, error) {
	p := d.s.Page(ctx)
	if _, err := p.ElementX(pacatubaBody); err != nil {
		return nil, fmt.Errorf("results table: %w", err)
	}

	links, err := d.links.ExtractFromPage(p)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("script link extraction failed, parsing page source")
		links, err = d.linksFromSource(p)
		if err != nil {
			return nil, err
		}
	}

	zerolog.Ctx(ctx).Debug().Int("page_links", len(links)).Int("session_links", d.links.Found()).Msg("detail links read")

	rows := make([]models.RawRow, 0, len(links))
	for i, link := range links {
		rows = append(rows, models.NewRawRow(i, FieldDetailLink, link))
	}
	return rows, nil
}

func (d *pacatubaDriver) linksFromSource(p *rod.Page) ([]string, error) {
	src, err := p.HTML()
	if err != nil {
		return nil, fmt.Errorf("page source: %w", err)
	}
	info, err := p.Info()
	if err != nil {
		return nil, fmt.Errorf("page info: %w", err)
	}
	return d.links.ExtractFromHTML(src, info.URL)
}

func (d *pacatubaDriver) HasNextPage(ctx context.Context) (bool, error) {
	p := d.s.Page(ctx)
	has, el, err := p.HasX(pacatubaNext)
	if err != nil {
		return false, fmt.Errorf("next control: %w", err)
	}
	if has {
		li, err := el.ElementX("./parent::li")
		if err != nil {
			return false, fmt.Errorf("next control item: %w", err)
		}
		return !hasClass(li, "disabled"), nil
	}

	has, el, err = p.Has(pacatubaNextFallback)
	if err != nil {
		return false, fmt.Errorf("next control: %w", err)
	}
	if !has {
		return false, nil
	}
	return !hasClass(el, "disabled"), nil
}

// GoNext clicks next and waits for the first row to be replaced
func (d *pacatubaDriver) GoNext(ctx context.Context) error {
	p := d.s.Page(ctx)
	before, err := p.ElementX(pacatubaFirstRow)
	if err != nil {
		return fmt.Errorf("first row: %w", err)
	}
	btn, err := p.ElementX(pacatubaNext)
	if err != nil {
		return fmt.Errorf("next control: %w", err)
	}
	if _, err := btn.Eval(`() => this.click()`); err != nil {
		return fmt.Errorf("click next: %w", err)
	}
	if err := before.WaitInvisible(); err != nil {
		return fmt.Errorf("wait page change: %w", err)
	}
	if _, err := p.ElementX(pacatubaBody); err != nil {
		return fmt.Errorf("results table: %w", err)
	}
	return nil
}

// SeekPage opens a result page directly through the paged listing URL
func (d *pacatubaDriver) SeekPage(ctx context.Context, year string, page int) error {
	target, err := PagedURL(d.city.URL, d.city.PagedURLQuery, year, page)
	if err != nil {
		return err
	}
	p := d.s.Page(ctx)
	if err := p.Navigate(target); err != nil {
		return fmt.Errorf("navigate %s: %w", target, err)
	}
	if _, err := p.ElementX(pacatubaBody); err != nil {
		return fmt.Errorf("results table on page %d: %w", page, err)
	}
	zerolog.Ctx(ctx).Debug().Int("page", page).Str("url", target).Msg("seeked result page")
	return nil
}

// PagedURL builds the direct URL of a result page from a query template with
// {page} and {year} placeholders. An empty template uses DefaultPagedURLQuery.
func PagedURL(base, query, year string, page int) (string, error) {
	if query == "" {
		query = DefaultPagedURLQuery
	}
	if _, err := url.Parse(base); err != nil {
		return "", fmt.Errorf("parse city url: %w", err)
	}
	query = strings.NewReplacer(
		"{page}", strconv.Itoa(page),
		"{year}", url.QueryEscape(year),
	).Replace(query)

	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + query, nil
}

// ExpandDetail opens the row's detail link in a second tab
func (d *pacatubaDriver) ExpandDetail(ctx context.Context, row models.RawRow) (models.RawRow, error) {
	link, ok := row.Get(FieldDetailLink)
	if !ok || link == "" {
		return models.RawRow{}, fmt.Errorf("row %d has no detail link", row.Index+1)
	}

	tab, err := d.s.NewTab(ctx, link)
	if err != nil {
		return models.RawRow{}, fmt.Errorf("open detail tab: %w", err)
	}
	d.mu.Lock()
	d.detail = tab
	d.mu.Unlock()

	p := tab.Context(ctx).Timeout(d.s.config.WaitTimeout)
	if _, err := p.Element(pacatubaDetailTable); err != nil {
		return models.RawRow{}, fmt.Errorf("detail table: %w", err)
	}
	detail := readDetailFields(p, pacatubaDetailXPaths)
	detail.Index = row.Index
	detail.Set(FieldDetailLink, link)
	return detail, nil
}

// CollapseDetail closes the detail tab
func (d *pacatubaDriver) CollapseDetail(ctx context.Context, row models.RawRow) error {
	d.mu.Lock()
	tab := d.detail
	d.detail = nil
	d.mu.Unlock()
	if tab == nil {
		return nil
	}
	if err := tab.Close(); err != nil {
		return fmt.Errorf("close detail tab: %w", err)
	}
	return nil
}

func (d *pacatubaDriver) CaptureDiagnostics(ctx context.Context, base string) (string, string, error) {
	return d.s.Snapshot(ctx, d.s.page, base)
}

// Refresh reloads the listing and waits for the table
func (d *pacatubaDriver) Refresh(ctx context.Context) error {
	p := d.s.Page(ctx)
	if err := p.Reload(); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	if _, err := p.ElementX(pacatubaBody); err != nil {
		return fmt.Errorf("results table after reload: %w", err)
	}
	return nil
}

func (d *pacatubaDriver) Close() error {
	return d.s.Close()
}

// readDetailFields reads every field; missing ones are left empty.
// The funding source is stored normalized.
func readDetailFields(p *rod.Page, xpaths []FieldXPath) models.RawRow {
	var row models.RawRow
	for _, f := range xpaths {
		value := ""
		if has, el, err := p.HasX(f.XPath); err == nil && has {
			if text, err := el.Text(); err == nil {
				value = strings.TrimSpace(text)
			}
		}
		if f.Name == pacatubaFundingField {
			value = classify.Normalize(value)
		}
		row.Set(f.Name, value)
	}
	return row
}

// pacatubaDetailReader reads standalone detail pages in its own session
type pacatubaDetailReader struct {
	s    *Session
	city models.CityConfig
	link string
}

var _ DetailReader = (*pacatubaDetailReader)(nil)

func (r *pacatubaDetailReader) Open(ctx context.Context, link string) error {
	p := r.s.Page(ctx)
	if err := p.Navigate(link); err != nil {
		return fmt.Errorf("navigate %s: %w", link, err)
	}
	if _, err := p.Element(pacatubaDetailTable); err != nil {
		return fmt.Errorf("detail table: %w", err)
	}
	r.link = link
	return nil
}

func (r *pacatubaDetailReader) FundingSource(ctx context.Context) (string, error) {
	p := r.s.Page(ctx)
	for _, f := range pacatubaDetailXPaths {
		if f.Name != pacatubaFundingField {
			continue
		}
		el, err := p.ElementX(f.XPath)
		if err != nil {
			return "", fmt.Errorf("funding source: %w", err)
		}
		text, err := el.Text()
		if err != nil {
			return "", fmt.Errorf("funding source text: %w", err)
		}
		return classify.Normalize(strings.TrimSpace(text)), nil
	}
	return "", fmt.Errorf("funding source: %w", models.ErrUnsupported)
}

func (r *pacatubaDetailReader) Fields(ctx context.Context) (models.RawRow, error) {
	row := readDetailFields(r.s.Page(ctx), pacatubaDetailXPaths)
	row.Set(FieldDetailLink, r.link)
	return row, nil
}

func (r *pacatubaDetailReader) Close() error {
	return r.s.Close()
}
