package crawlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/classify"
	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/models"
	"github.com/rs/zerolog"
)

// Serigy DataTables portal used by Aracaju, Barra dos Coqueiros and Pirambu
const (
	serigyPaymentsTab = "//ul/li[4]/a"
	serigyTable       = "//table[@id='dataTables-Pagamentos']"
	serigyRows        = "//table[@id='dataTables-Pagamentos']/tbody/tr[@role='row'][contains(@class, 'odd') or contains(@class, 'even')]"
	serigyNext        = "#dataTables-Pagamentos_next"
	serigyDetailBtn   = "./td[1][contains(@class, 'details-control')]"
	serigyDetailTable = "/following-sibling::tr[1]//div[@class='table-responsive']/table"
)

// serigyListColumns list cells after the detail-control column
var serigyListColumns = []string{
	"orgao", "unidade", "data", "empenho", "processo",
	"credor", "cpf_cnpj", "pago", "retido", "anulacao",
}

const serigyRowsJS = `(xpath) => {
	const snap = document.evaluate(xpath, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
	const rows = [];
	for (let i = 0; i < snap.snapshotLength; i++) {
		const cells = Array.from(snap.snapshotItem(i).querySelectorAll(':scope > td'));
		rows.push(cells.map(td => (td.innerText || '').trim()));
	}
	return rows;
}`

const loadingGoneJS = `() => {
	const el = document.getElementById('loading');
	return !el || el.offsetParent === null || getComputedStyle(el).display === 'none';
}`

func init() {
	RegisterPortal(Portal{
		Name: "serigy",
		NewPageDriver: func(s *Session, city models.CityConfig) PageDriver {
			return &serigyDriver{s: s, city: city}
		},
	})
}

// serigyDriver drives the payments listing with expandable row details
type serigyDriver struct {
	s     *Session
	city  models.CityConfig
	frame *rod.Page // set when the portal is embedded in an iframe
}

var _ PageDriver = (*serigyDriver)(nil)

// page returns the document holding the listing
func (d *serigyDriver) page(ctx context.Context) *rod.Page {
	if d.frame != nil {
		return d.frame.Context(ctx).Timeout(d.s.config.WaitTimeout)
	}
	return d.s.Page(ctx)
}

// waitLoading waits for the loading overlay; a timeout is only logged
func (d *serigyDriver) waitLoading(ctx context.Context) {
	var p *rod.Page
	if d.frame != nil {
		p = d.frame.Context(ctx).Timeout(d.s.config.LoadingTimeout)
	} else {
		p = d.s.page.Context(ctx).Timeout(d.s.config.LoadingTimeout)
	}
	if err := p.Wait(rod.Eval(loadingGoneJS)); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Dur("timeout", d.s.config.LoadingTimeout).Msg("loading overlay still visible")
	}
}

func (d *serigyDriver) Navigate(ctx context.Context, url string) error {
	p := d.s.Page(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("wait load: %w", err)
	}

	if d.city.Iframe != "" {
		el, err := p.Element("#" + d.city.Iframe)
		if err != nil {
			return fmt.Errorf("iframe %s: %w", d.city.Iframe, err)
		}
		frame, err := el.Frame()
		if err != nil {
			return fmt.Errorf("switch to iframe %s: %w", d.city.Iframe, err)
		}
		d.frame = frame
	}

	tab, err := d.page(ctx).ElementX(serigyPaymentsTab)
	if err != nil {
		return fmt.Errorf("payments tab: %w", err)
	}
	if err := tab.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("open payments tab: %w", err)
	}
	d.waitLoading(ctx)
	return nil
}

func (d *serigyDriver) ApplyFilter(ctx context.Context, year, month string) error {
	p := d.page(ctx)
	if _, err := p.ElementX(serigyTable); err != nil {
		return fmt.Errorf("payments table: %w", err)
	}
	if err := selectValue(p, "#ddlAnoPagamentos", year); err != nil {
		return err
	}
	if month != "" {
		if err := selectValue(p, "#ddlMesPagamentos", month); err != nil {
			return err
		}
	}
	btn, err := p.Element("#btnFiltrarPagamentos")
	if err != nil {
		return fmt.Errorf("filter button: %w", err)
	}
	if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click filter: %w", err)
	}
	d.waitLoading(ctx)

	zerolog.Ctx(ctx).Info().Str("year", year).Str("month", month).Msg("filter applied")
	return nil
}

func selectValue(p *rod.Page, selector, value string) error {
	el, err := p.Element(selector)
	if err != nil {
		return fmt.Errorf("select %s: %w", selector, err)
	}
	option := fmt.Sprintf(`option[value="%s"]`, value)
	if err := el.Select([]string{option}, true, rod.SelectorTypeCSSSector); err != nil {
		return fmt.Errorf("select %s=%s: %w", selector, value, err)
	}
	return nil
}

func (d *serigyDriver) ExtractRows(ctx context.Context) ([]models.RawRow, error) {
	p := d.page(ctx)
	if _, err := p.ElementX(serigyTable + "/tbody"); err != nil {
		return nil, fmt.Errorf("table body: %w", err)
	}

	res, err := p.Evaluate(rod.Eval(serigyRowsJS, serigyRows))
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	rows := make([]models.RawRow, 0)
	for i, cells := range res.Value.Arr() {
		values := cells.Arr()
		// the "no records" placeholder has a single cell
		if len(values) < len(serigyListColumns)+1 {
			continue
		}
		row := models.RawRow{Index: i}
		for j, name := range serigyListColumns {
			row.Set(name, values[j+1].Str())
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (d *serigyDriver) HasNextPage(ctx context.Context) (bool, error) {
	el, err := d.page(ctx).Element(serigyNext)
	if err != nil {
		return false, fmt.Errorf("next control: %w", err)
	}
	return !hasClass(el, "disabled"), nil
}

func (d *serigyDriver) GoNext(ctx context.Context) error {
	el, err := d.page(ctx).Element(serigyNext)
	if err != nil {
		return fmt.Errorf("next control: %w", err)
	}
	if _, err := el.Eval(`() => this.click()`); err != nil {
		return fmt.Errorf("click next: %w", err)
	}
	d.waitLoading(ctx)
	return nil
}

func serigyRowXPath(index int) string {
	return fmt.Sprintf("(%s)[%d]", serigyRows, index+1)
}

func (d *serigyDriver) ExpandDetail(ctx context.Context, row models.RawRow) (models.RawRow, error) {
	p := d.page(ctx)
	rowXPath := serigyRowXPath(row.Index)

	el, err := p.ElementX(rowXPath)
	if err != nil {
		return models.RawRow{}, fmt.Errorf("row %d: %w", row.Index+1, err)
	}
	if !hasClass(el, "shown") {
		btn, err := el.ElementX(serigyDetailBtn)
		if err != nil {
			return models.RawRow{}, fmt.Errorf("detail control: %w", err)
		}
		if err := btn.ScrollIntoView(); err != nil {
			return models.RawRow{}, fmt.Errorf("scroll to row: %w", err)
		}
		if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return models.RawRow{}, fmt.Errorf("expand row: %w", err)
		}
		if err := el.Wait(rod.Eval(`() => this.classList.contains('shown')`)); err != nil {
			return models.RawRow{}, fmt.Errorf("wait expanded: %w", err)
		}
	}

	table, err := p.ElementX(rowXPath + serigyDetailTable)
	if err != nil {
		return models.RawRow{}, fmt.Errorf("detail table: %w", err)
	}
	html, err := table.HTML()
	if err != nil {
		return models.RawRow{}, fmt.Errorf("detail html: %w", err)
	}
	detail, err := ParseDetailTable(html)
	if err != nil {
		return models.RawRow{}, err
	}
	detail.Index = row.Index
	return detail, nil
}

func (d *serigyDriver) CollapseDetail(ctx context.Context, row models.RawRow) error {
	el, err := d.page(ctx).ElementX(serigyRowXPath(row.Index))
	if err != nil {
		return fmt.Errorf("row %d: %w", row.Index+1, err)
	}
	if !hasClass(el, "shown") {
		return nil
	}
	btn, err := el.ElementX(serigyDetailBtn)
	if err != nil {
		return fmt.Errorf("detail control: %w", err)
	}
	if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("collapse row: %w", err)
	}
	if err := el.Wait(rod.Eval(`() => !this.classList.contains('shown')`)); err != nil {
		return fmt.Errorf("wait collapsed: %w", err)
	}
	return nil
}

func (d *serigyDriver) CaptureDiagnostics(ctx context.Context, base string) (string, string, error) {
	return d.s.Snapshot(ctx, d.s.page, base)
}

// Refresh only waits for the overlay: a reload would drop the applied filter
func (d *serigyDriver) Refresh(ctx context.Context) error {
	d.waitLoading(ctx)
	return nil
}

func (d *serigyDriver) Close() error {
	return d.s.Close()
}

// ParseDetailTable reads th/td label pairs of an expanded detail table
func ParseDetailTable(html string) (models.RawRow, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return models.RawRow{}, fmt.Errorf("parse detail table: %w", err)
	}

	var row models.RawRow
	doc.Find("tbody > tr").Each(func(_ int, tr *goquery.Selection) {
		th := tr.ChildrenFiltered("th").First()
		td := tr.ChildrenFiltered("td").First()
		if th.Length() == 0 || td.Length() == 0 {
			return
		}
		key := classify.FieldKey(strings.ReplaceAll(th.Text(), ":", ""))
		if key == "" {
			return
		}
		row.Set(key, strings.TrimSpace(td.Text()))
	})
	return row, nil
}

func hasClass(el *rod.Element, class string) bool {
	attr, err := el.Attribute("class")
	if err != nil || attr == nil {
		return false
	}
	for _, c := range strings.Fields(*attr) {
		if c == class {
			return true
		}
	}
	return false
}
