// Package crawlers drives municipal transparency portals with go-rod.
//
// # Overview
//
// Each portal layout implements PageDriver: open the entry point, apply the
// year/month filter, read listing rows, walk the pagination, and expand
// individual payments for their detail fields. Layouts are registered by
// name and selected through the city's "portal" configuration key, so the
// engine in package core never knows which portal it is talking to.
//
// # Sessions
//
// Browser provisions the browser binary once per run and starts one
// isolated browser process per driver. A driver belongs to a single task
// and closes its session on Close.
//
//	b := NewBrowser(BrowserConfig{Headless: true})
//	if err := b.Provision(ctx); err != nil { /* abort the run */ }
//
//	d, err := b.NewPageDriver(ctx, city)
//	if err != nil { /* task fails with ErrSessionStart */ }
//	defer d.Close()
//
// # Portals
//
// serigy: DataTables listing with expandable rows (Aracaju, Barra dos
// Coqueiros, Pirambu). The detail panel is parsed with goquery.
//
// pacatuba: listing of detail links. Detail pages open in a second tab
// (ExpandDetail / CollapseDetail), and annual runs use BatchLister to
// jump straight to a result page and DetailReader to read links in bulk.
// With detail_fetch "http" the detail pages are fetched with colly instead
// of a browser (StaticDetailReader).
//
// # Capacity
//
// ResourceMonitor estimates how many sessions fit in available memory.
// The estimate is advisory: the runner logs it and keeps the configured
// worker count.
package crawlers
