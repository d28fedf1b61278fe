package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/classify"
	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/crawlers"
	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/models"
	"github.com/rs/zerolog"
)

// State pagination state of one task
type State int

const (
	StateInit State = iota
	StateFilterApplied
	StatePageExtracted
	StateAdvanced
	StateRetrying
	StateDone
	StateFailed
)

var stateNames = [...]string{"INIT", "FILTER_APPLIED", "PAGE_EXTRACTED", "ADVANCED", "RETRYING", "DONE", "FAILED"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// transitions legal moves; FAILED is reachable from every non-terminal state
var transitions = map[State][]State{
	StateInit:          {StateFilterApplied},
	StateFilterApplied: {StatePageExtracted},
	StatePageExtracted: {StateAdvanced, StateRetrying, StateDone},
	StateAdvanced:      {StatePageExtracted},
	StateRetrying:      {StateRetrying, StateAdvanced, StateDone},
}

// Sink receives progress events
type Sink interface {
	Emit(ev models.ProgressEvent)
}

// EngineConfig pagination engine settings
type EngineConfig struct {
	DiagnosticsDir string
	Retry          RetryPolicy   // page advance, batch advance and batch seek
	RowRetryPause  time.Duration // pause before the second pass over failed rows
	LinksPerBatch  int           // pages per link-collection session
	Workers        int           // detail readers of an annual task
}

// DefaultEngineConfig 3 attempts with 5s linear backoff, 2s row pause, 50 pages per batch
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DiagnosticsDir: "logs",
		Retry:          DefaultRetryPolicy(),
		RowRetryPause:  2 * time.Second,
		LinksPerBatch:  50,
		Workers:        1,
	}
}

// Engine walks paginated result sets through a PageDriver
type Engine struct {
	config   EngineConfig
	progress Sink

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// OnTransition observes every state change; nil disables it
	OnTransition func(task models.Task, from, to State)
}

// NewEngine creates an engine; progress may be nil
func NewEngine(config EngineConfig, progress Sink) *Engine {
	if config.LinksPerBatch < 1 {
		config.LinksPerBatch = DefaultEngineConfig().LinksPerBatch
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	return &Engine{
		config:   config,
		progress: progress,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// machine state of one traversal
type machine struct {
	engine *Engine
	task   models.Task
	state  State
}

func (e *Engine) newMachine(task models.Task) *machine {
	return &machine{engine: e, task: task, state: StateInit}
}

// to moves to next; an illegal move is a programming error
func (m *machine) to(next State) {
	legal := next == StateFailed && m.state != StateDone && m.state != StateFailed
	for _, s := range transitions[m.state] {
		if s == next {
			legal = true
			break
		}
	}
	if !legal {
		panic(fmt.Sprintf("pagination: illegal transition %s -> %s", m.state, next))
	}
	if cb := m.engine.OnTransition; cb != nil {
		cb(m.task, m.state, next)
	}
	m.state = next
}

func (e *Engine) emit(ev models.ProgressEvent) {
	if e.progress != nil {
		e.progress.Emit(ev)
	}
}

// Run extracts every page of a monthly task. Accepted records go to agg.
// The returned error is a *models.TaskError.
func (e *Engine) Run(ctx context.Context, d crawlers.PageDriver, task models.Task, city models.CityConfig, cls *classify.Classifier, agg *Aggregator) error {
	log := zerolog.Ctx(ctx)
	m := e.newMachine(task)

	if err := d.Navigate(ctx, city.URL); err != nil {
		m.to(StateFailed)
		return models.NewTaskError(models.ErrFilterApplication, task.ID(), "navigate", err)
	}
	if err := d.ApplyFilter(ctx, task.Year, task.Month); err != nil {
		m.to(StateFailed)
		return models.NewTaskError(models.ErrFilterApplication, task.ID(), "apply filter", err)
	}
	m.to(StateFilterApplied)

	for page := 1; ; page++ {
		rows, err := d.ExtractRows(ctx)
		if err != nil {
			log.Warn().Err(err).Int("page", page).Msg("row extraction failed, treating page as empty")
			rows = nil
		}
		kept := e.processPage(ctx, d, city, cls, agg, rows)
		m.to(StatePageExtracted)

		ev := models.NewTaskEvent(models.EventPageExtracted, task)
		ev.Page = page
		ev.Records = kept
		e.emit(ev)
		log.Info().Int("page", page).Int("rows", len(rows)).Int("kept", kept).Msg("page extracted")

		more, err := e.advance(ctx, d, m, city, true)
		if err != nil {
			return err
		}
		if !more {
			log.Info().Int("pages", page).Int("records", agg.Len()).Msg("last page reached")
			return nil
		}
	}
}

// processPage runs every row once, then retries the failed ones a single
// time after RowRetryPause. Returns the number of records kept.
func (e *Engine) processPage(ctx context.Context, d crawlers.PageDriver, city models.CityConfig, cls *classify.Classifier, agg *Aggregator, rows []models.RawRow) int {
	log := zerolog.Ctx(ctx)
	kept := 0

	var failed []models.RawRow
	for _, row := range rows {
		rec, ok, err := processRow(ctx, d, city, cls, row)
		if err != nil {
			log.Warn().Err(err).Int("row", row.Index+1).Msg("row failed, queued for second pass")
			failed = append(failed, row)
			continue
		}
		if ok {
			agg.Add(rec)
			kept++
		}
	}
	if len(failed) == 0 {
		return kept
	}

	if err := e.sleep(ctx, e.config.RowRetryPause); err != nil {
		log.Warn().Err(err).Int("rows", len(failed)).Msg("second pass skipped")
		return kept
	}
	for _, row := range failed {
		rec, ok, err := processRow(ctx, d, city, cls, row)
		if err != nil {
			log.Error().Err(err).Int("row", row.Index+1).Msg("row failed twice, dropped")
			continue
		}
		if ok {
			agg.Add(rec)
			kept++
		}
	}
	return kept
}

// processRow classifies one row, expanding its detail panel when the
// funding source is not in the listing. The panel is always collapsed, and
// a record is returned only once the collapse succeeded.
func processRow(ctx context.Context, d crawlers.PageDriver, city models.CityConfig, cls *classify.Classifier, row models.RawRow) (models.ClassifiedRecord, bool, error) {
	full := row
	_, known := row.Get(city.FundingField)

	if !known {
		detail, err := d.ExpandDetail(ctx, row)
		if err != nil {
			if cerr := d.CollapseDetail(ctx, row); cerr != nil {
				zerolog.Ctx(ctx).Debug().Err(cerr).Int("row", row.Index+1).Msg("collapse after failed expand")
			}
			return models.ClassifiedRecord{}, false, fmt.Errorf("%w: expand: %w", models.ErrRowExtraction, err)
		}
		full = row.Merge(detail)
	}

	funding, _ := full.Get(city.FundingField)
	relevant := cls.IsRoyaltyRelated(funding)

	if !known {
		if err := d.CollapseDetail(ctx, row); err != nil {
			return models.ClassifiedRecord{}, false, fmt.Errorf("%w: collapse: %w", models.ErrRowExtraction, err)
		}
	}
	if !relevant {
		return models.ClassifiedRecord{}, false, nil
	}
	return models.NewClassifiedRecord(full), true, nil
}

// advance moves to the next page under the retry policy. With goNext false
// it only probes whether a next page exists. A disabled next control ends
// the traversal (more == false) without calling GoNext.
func (e *Engine) advance(ctx context.Context, d crawlers.PageDriver, m *machine, city models.CityConfig, goNext bool) (bool, error) {
	more := false
	err := Retry(ctx, e.retryPolicy(), func(attempt int) error {
		if attempt > 1 {
			m.to(StateRetrying)
			if err := d.Refresh(ctx); err != nil {
				return fmt.Errorf("refresh: %w", err)
			}
		}
		has, err := d.HasNextPage(ctx)
		if err != nil {
			return fmt.Errorf("next control: %w", err)
		}
		if !has {
			more = false
			return nil
		}
		if goNext {
			if err := d.GoNext(ctx); err != nil {
				return fmt.Errorf("go next: %w", err)
			}
		}
		more = true
		return nil
	})
	if err != nil {
		return false, e.fail(ctx, d, m, city, "advance", err)
	}

	if more && goNext {
		m.to(StateAdvanced)
	} else {
		m.to(StateDone)
	}
	return more, nil
}

// fail captures one diagnostic snapshot when retries ran out, then moves to FAILED
func (e *Engine) fail(ctx context.Context, d crawlers.PageDriver, m *machine, city models.CityConfig, op string, err error) error {
	m.to(StateFailed)
	if !errors.Is(err, models.ErrRetriesExhausted) {
		return models.NewTaskError(err, m.task.ID(), op, nil)
	}

	log := zerolog.Ctx(ctx)
	base := filepath.Join(e.config.DiagnosticsDir, DiagnosticBaseName(city.Name, e.now()))
	png, html, cerr := d.CaptureDiagnostics(ctx, base)
	if cerr != nil {
		log.Error().Err(cerr).Msg("diagnostic capture failed")
	} else {
		log.Error().Str("screenshot", png).Str("page_source", html).Msg("diagnostic snapshot saved")
	}
	return models.NewTaskError(models.ErrPaginationExhausted, m.task.ID(), op, err)
}

func (e *Engine) retryPolicy() RetryPolicy {
	p := e.config.Retry
	if p.Sleep == nil {
		p.Sleep = e.sleep
	}
	return p
}

// DiagnosticBaseName <city>_erro_pagina_<YYYYMMDD-HHMMSS>
func DiagnosticBaseName(city string, at time.Time) string {
	return fmt.Sprintf("%s_erro_pagina_%s", city, at.Format("20060102-150405"))
}
