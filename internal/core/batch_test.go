package core

import (
	"context"
	"fmt"
	"testing"

	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/classify"
	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/crawlers"
	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var annualTask = models.Task{City: "pacatuba", Year: "2023", Strategy: models.StrategyAnnual}

func detailLink(page, index int) string {
	return fmt.Sprintf("https://pacatuba.example.org/despesa/%d-%d", page, index)
}

// linkListing pages of two detail links each; the first link of every page
// is royalty funded
func linkListing(pages int) (func(city models.CityConfig) *fakeDriver, map[string]string) {
	funding := make(map[string]string)
	rows := make([][]models.RawRow, pages)
	for p := range rows {
		for i := 0; i < 2; i++ {
			link := detailLink(p+1, i)
			rows[p] = append(rows[p], models.NewRawRow(i, crawlers.FieldDetailLink, link))
			if i == 0 {
				funding[link] = "ROYALTIES DO PETRÓLEO"
			} else {
				funding[link] = "FUNDEB"
			}
		}
	}
	newDriver := func(city models.CityConfig) *fakeDriver {
		return &fakeDriver{pagesFor: func(year, month string) [][]models.RawRow { return rows }}
	}
	return newDriver, funding
}

func pacatubaCity() models.CityConfig {
	city := testCity("pacatuba")
	city.Portal = "pacatuba"
	city.Mode = models.ModeAnnual
	city.FundingField = "fonte_recurso"
	return city
}

func TestCollectLinksInBatches(t *testing.T) {
	sink := &recordingSink{}
	e, _, tl := newTestEngine(t, sink)
	e.config.LinksPerBatch = 2
	newDriver, _ := linkListing(5)
	f := &fakeFactory{newDriver: newDriver}

	links, err := e.CollectLinks(context.Background(), f, annualTask, pacatubaCity())
	require.NoError(t, err)

	assert.Len(t, links, 10)
	assert.Equal(t, detailLink(1, 0), links[0])
	assert.Equal(t, detailLink(5, 1), links[9])

	require.Len(t, f.drivers, 3, "one fresh session per batch")
	for i, d := range f.drivers {
		assert.Equal(t, []int{1 + 2*i}, d.seeks)
		assert.True(t, d.closed)
	}
	assert.Equal(t, 1, f.drivers[0].nextCalls, "batch boundary only probes")
	assert.Equal(t, 0, f.drivers[2].nextCalls)
	assert.Equal(t, 3, tl.count(StateDone))

	pages := sink.ofKind(models.EventPageExtracted)
	require.Len(t, pages, 5)
	for i, ev := range pages {
		assert.Equal(t, i+1, ev.Page)
		assert.Equal(t, 2, ev.Records)
	}
}

func TestReadDetailsKeepsRoyaltyLinks(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	e.config.Workers = 3
	_, funding := linkListing(5)
	f := &fakeFactory{funding: funding}
	var links []string
	for p := 1; p <= 5; p++ {
		links = append(links, detailLink(p, 0), detailLink(p, 1))
	}
	links = append(links, "https://pacatuba.example.org/despesa/missing")
	agg := NewAggregator(annualTask)

	err := e.ReadDetails(context.Background(), f, annualTask, pacatubaCity(), classify.New(testTerms), links, agg)
	require.NoError(t, err)

	assert.Equal(t, 5, agg.Len())
	require.Len(t, f.readers, 3)
	for _, r := range f.readers {
		assert.True(t, r.closed)
	}
	for _, rec := range agg.records {
		link, _ := rec.Get(crawlers.FieldDetailLink)
		assert.Contains(t, link, "-0")
	}
}

func TestReadDetailsSessionFailure(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	e.config.Workers = 3
	_, funding := linkListing(5)
	f := &fakeFactory{funding: funding, readerErrs: 1}
	var links []string
	for p := 1; p <= 5; p++ {
		links = append(links, detailLink(p, 0), detailLink(p, 1))
	}
	agg := NewAggregator(annualTask)

	err := e.ReadDetails(context.Background(), f, annualTask, pacatubaCity(), classify.New(testTerms), links, agg)

	assert.ErrorIs(t, err, models.ErrSessionStart)
	assert.ErrorIs(t, err, errPortal)
	assert.GreaterOrEqual(t, agg.Len(), 3, "other chunks are still read")
	assert.Less(t, agg.Len(), 5)
}

func TestRunBatch(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	e.config.LinksPerBatch = 2
	e.config.Workers = 2
	newDriver, funding := linkListing(3)
	f := &fakeFactory{newDriver: newDriver, funding: funding}
	agg := NewAggregator(annualTask)

	require.NoError(t, e.RunBatch(context.Background(), f, annualTask, pacatubaCity(), classify.New(testTerms), agg))
	assert.Equal(t, 3, agg.Len())
	assert.Len(t, f.drivers, 2)
	assert.Len(t, f.readers, 2)
}

func TestRunBatchNoLinks(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	f := &fakeFactory{newDriver: func(models.CityConfig) *fakeDriver { return &fakeDriver{} }}
	agg := NewAggregator(annualTask)

	require.NoError(t, e.RunBatch(context.Background(), f, annualTask, pacatubaCity(), classify.New(testTerms), agg))
	assert.Zero(t, agg.Len())
	assert.Empty(t, f.readers, "no detail session without links")
}

func TestSplitChunks(t *testing.T) {
	items := func(n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = fmt.Sprint(i)
		}
		return out
	}
	sizes := func(chunks [][]string) []int {
		var out []int
		for _, c := range chunks {
			out = append(out, len(c))
		}
		return out
	}

	tests := []struct {
		name  string
		items int
		n     int
		want  []int
	}{
		{"uneven", 10, 3, []int{4, 3, 3}},
		{"more workers than items", 2, 5, []int{1, 1}},
		{"no workers", 5, 0, []int{5}},
		{"empty", 0, 3, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := splitChunks(items(tt.items), tt.n)
			assert.Equal(t, tt.want, sizes(chunks))
		})
	}

	chunks := splitChunks(items(7), 3)
	var joined []string
	for _, c := range chunks {
		joined = append(joined, c...)
	}
	assert.Equal(t, items(7), joined, "order preserved")
}
