package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/classify"
	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transitionLog struct {
	states []State
}

func (l *transitionLog) observe(_ models.Task, _, to State) {
	l.states = append(l.states, to)
}

func (l *transitionLog) count(s State) int {
	n := 0
	for _, st := range l.states {
		if st == s {
			n++
		}
	}
	return n
}

func newTestEngine(t *testing.T, sink Sink) (*Engine, *recordedSleep, *transitionLog) {
	t.Helper()
	config := DefaultEngineConfig()
	config.DiagnosticsDir = t.TempDir()
	e := NewEngine(config, sink)
	rs := &recordedSleep{}
	e.sleep = rs.sleep
	tl := &transitionLog{}
	e.OnTransition = tl.observe
	return e, rs, tl
}

func mixedPages(n int) func(year, month string) [][]models.RawRow {
	return func(year, month string) [][]models.RawRow {
		pages := make([][]models.RawRow, n)
		for i := range pages {
			pages[i] = []models.RawRow{
				paymentRow(0, "Royalties do Petróleo"),
				paymentRow(1, "Recursos Próprios"),
			}
		}
		return pages
	}
}

var monthlyTask = models.Task{City: "aracaju", Year: "2024", Month: "03", Strategy: models.StrategyMonthly}

func TestEngineStopsAtDisabledNext(t *testing.T) {
	sink := &recordingSink{}
	e, _, tl := newTestEngine(t, sink)
	d := &fakeDriver{pagesFor: mixedPages(3)}
	agg := NewAggregator(monthlyTask)

	err := e.Run(context.Background(), d, monthlyTask, testCity("aracaju"), classify.New(testTerms), agg)
	require.NoError(t, err)

	assert.Equal(t, 2, d.nextCalls, "GoNext must not run once next is disabled")
	assert.Equal(t, 3, d.probes)
	assert.Equal(t, 0, d.expands, "funding already listed")
	assert.Equal(t, 3, agg.Len())
	assert.Equal(t, 1, tl.count(StateDone))
	assert.Equal(t, []State{
		StateFilterApplied,
		StatePageExtracted, StateAdvanced,
		StatePageExtracted, StateAdvanced,
		StatePageExtracted, StateDone,
	}, tl.states)

	pages := sink.ofKind(models.EventPageExtracted)
	require.Len(t, pages, 3)
	for i, ev := range pages {
		assert.Equal(t, i+1, ev.Page)
		assert.Equal(t, 1, ev.Records)
		assert.Equal(t, monthlyTask.ID(), ev.TaskID)
	}
}

func TestEngineExpandsRowsWithoutFunding(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	d := &fakeDriver{
		pagesFor: func(year, month string) [][]models.RawRow {
			return [][]models.RawRow{{
				models.NewRawRow(0, "empenho", "E-1"),
				models.NewRawRow(1, "empenho", "E-2"),
			}}
		},
		detailFor: func(page int, row models.RawRow) models.RawRow {
			funding := "ICMS"
			if row.Index == 0 {
				funding = "ROYALTIES"
			}
			return models.NewRawRow(row.Index, fundingField, funding, "historico", "pagamento")
		},
	}
	agg := NewAggregator(monthlyTask)

	require.NoError(t, e.Run(context.Background(), d, monthlyTask, testCity("aracaju"), classify.New(testTerms), agg))

	assert.Equal(t, 2, d.expands)
	assert.Equal(t, 2, d.collapses, "every expanded panel is collapsed")
	require.Len(t, agg.records, 1)
	assert.Equal(t, []string{"empenho", fundingField, "historico"}, agg.records[0].Columns())
	v, _ := agg.records[0].Get("empenho")
	assert.Equal(t, "E-1", v)
}

func TestEngineRowSecondPass(t *testing.T) {
	e, rs, _ := newTestEngine(t, nil)
	d := &fakeDriver{
		pagesFor: func(year, month string) [][]models.RawRow {
			return [][]models.RawRow{{
				models.NewRawRow(0, "empenho", "E-1"),
				models.NewRawRow(1, "empenho", "E-2"),
			}}
		},
		detailFor: func(page int, row models.RawRow) models.RawRow {
			return models.NewRawRow(row.Index, fundingField, "royalty")
		},
		expandFails: map[int]int{0: 1, 1: 2},
	}
	agg := NewAggregator(monthlyTask)

	require.NoError(t, e.Run(context.Background(), d, monthlyTask, testCity("aracaju"), classify.New(testTerms), agg))

	require.Len(t, agg.records, 1, "row 0 recovers on the second pass, row 1 is dropped")
	v, _ := agg.records[0].Get("empenho")
	assert.Equal(t, "E-1", v)
	assert.Equal(t, []time.Duration{2 * time.Second}, rs.delays)
	assert.Equal(t, d.expands, d.collapses)
}

func TestEngineRowCollapseFailureRetried(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	d := &fakeDriver{
		pagesFor: func(year, month string) [][]models.RawRow {
			return [][]models.RawRow{{models.NewRawRow(0, "empenho", "E-1")}}
		},
		detailFor: func(page int, row models.RawRow) models.RawRow {
			return models.NewRawRow(row.Index, fundingField, "royalty")
		},
		collapseErr: errPortal,
	}
	agg := NewAggregator(monthlyTask)

	require.NoError(t, e.Run(context.Background(), d, monthlyTask, testCity("aracaju"), classify.New(testTerms), agg))
	assert.Equal(t, 0, agg.Len(), "no record without a successful collapse")
	assert.Equal(t, 2, d.collapses)
}

func TestEnginePaginationExhausted(t *testing.T) {
	e, rs, tl := newTestEngine(t, nil)
	at := time.Date(2024, 3, 5, 14, 30, 0, 0, time.Local)
	e.now = func() time.Time { return at }
	d := &fakeDriver{pagesFor: mixedPages(3), hasNextBroken: true}
	agg := NewAggregator(monthlyTask)

	err := e.Run(context.Background(), d, monthlyTask, testCity("aracaju"), classify.New(testTerms), agg)
	require.Error(t, err)

	assert.ErrorIs(t, err, models.ErrPaginationExhausted)
	assert.ErrorIs(t, err, models.ErrRetriesExhausted)
	assert.ErrorIs(t, err, errPortal)
	var te *models.TaskError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, monthlyTask.ID(), te.TaskID)

	assert.Equal(t, 3, d.probes)
	assert.Equal(t, 2, d.refreshes)
	assert.Equal(t, 0, d.nextCalls)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, rs.delays)
	assert.Equal(t, StateFailed, tl.states[len(tl.states)-1])
	assert.Equal(t, 0, tl.count(StateDone))
	assert.Equal(t, 2, tl.count(StateRetrying))
	assert.Equal(t, 1, agg.Len(), "records of pages already read are kept")

	base := filepath.Join(e.config.DiagnosticsDir, "aracaju_erro_pagina_20240305-143000")
	assert.Equal(t, []string{base}, d.diagnostic)
	assert.FileExists(t, base+".png")
	assert.FileExists(t, base+".html")
	entries, err := os.ReadDir(e.config.DiagnosticsDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "exactly one snapshot pair")
}

func TestEngineRecoversAfterRetry(t *testing.T) {
	e, rs, tl := newTestEngine(t, nil)
	d := &fakeDriver{pagesFor: mixedPages(2), hasNextFails: 1}
	agg := NewAggregator(monthlyTask)

	require.NoError(t, e.Run(context.Background(), d, monthlyTask, testCity("aracaju"), classify.New(testTerms), agg))

	assert.Equal(t, 1, d.refreshes)
	assert.Equal(t, 1, d.nextCalls)
	assert.Equal(t, 2, agg.Len())
	assert.Equal(t, []time.Duration{5 * time.Second}, rs.delays)
	assert.Equal(t, []State{
		StateFilterApplied,
		StatePageExtracted, StateRetrying, StateAdvanced,
		StatePageExtracted, StateDone,
	}, tl.states)
}

func TestEngineFilterFailure(t *testing.T) {
	e, _, tl := newTestEngine(t, nil)
	d := &fakeDriver{pagesFor: mixedPages(1), filterErr: errPortal}

	err := e.Run(context.Background(), d, monthlyTask, testCity("aracaju"), classify.New(testTerms), NewAggregator(monthlyTask))

	assert.ErrorIs(t, err, models.ErrFilterApplication)
	assert.Equal(t, "filter_application", models.ErrorKind(err))
	assert.Equal(t, 0, d.extracted)
	assert.Equal(t, []State{StateFailed}, tl.states)
}

func TestEngineCancelled(t *testing.T) {
	e, _, tl := newTestEngine(t, nil)
	d := &fakeDriver{pagesFor: mixedPages(3)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Run(ctx, d, monthlyTask, testCity("aracaju"), classify.New(testTerms), NewAggregator(monthlyTask))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "cancelled", models.ErrorKind(err))
	assert.Empty(t, d.diagnostic, "no snapshot for a cancelled run")
	assert.Equal(t, StateFailed, tl.states[len(tl.states)-1])
}

func TestMachineRejectsIllegalTransition(t *testing.T) {
	e := NewEngine(DefaultEngineConfig(), nil)

	m := e.newMachine(monthlyTask)
	assert.Panics(t, func() { m.to(StateDone) })

	m = e.newMachine(monthlyTask)
	m.to(StateFilterApplied)
	m.to(StatePageExtracted)
	m.to(StateDone)
	assert.Panics(t, func() { m.to(StateFailed) }, "terminal states are final")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "FILTER_APPLIED", StateFilterApplied.String())
	assert.Equal(t, "FAILED", StateFailed.String())
	assert.Equal(t, "State(42)", State(42).String())
}

func TestDiagnosticBaseName(t *testing.T) {
	at := time.Date(2023, 12, 1, 9, 5, 7, 0, time.UTC)
	assert.Equal(t, "pirambu_erro_pagina_20231201-090507", DiagnosticBaseName("pirambu", at))
}
