package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/classify"
	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/crawlers"
	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/models"
	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/utils"
	"github.com/rs/zerolog"
)

// SessionFactory provisions the browser once and opens per-task sessions.
// *crawlers.Browser implements it.
type SessionFactory interface {
	Provision(ctx context.Context) error
	NewPageDriver(ctx context.Context, city models.CityConfig) (crawlers.PageDriver, error)
	BatchSessions
}

var _ SessionFactory = (*crawlers.Browser)(nil)

// CapacityChecker advisory check of the worker count
type CapacityChecker interface {
	CheckWorkers(ctx context.Context, workers int) bool
}

// RunOptions settings of one run besides the typed run configuration
type RunOptions struct {
	RunID    string
	DataDir  string
	Engine   EngineConfig
	Capacity CapacityChecker // optional
}

// Runner executes a planned run: provisioning, worker pool, barrier and
// consolidation
type Runner struct {
	config       *models.RunConfig
	options      RunOptions
	factory      SessionFactory
	sessions     *crawlers.SessionPool
	progress     Sink
	engine       *Engine
	consolidator *Consolidator
}

// NewRunner creates a runner; progress may be nil
func NewRunner(config *models.RunConfig, options RunOptions, factory SessionFactory, progress Sink) *Runner {
	if options.RunID == "" {
		options.RunID = models.NewRunID()
	}
	options.Engine.Workers = config.Workers
	sessions := crawlers.NewSessionPool(config.Workers)
	return &Runner{
		config:       config,
		options:      options,
		factory:      &pooledSessions{SessionFactory: factory, pool: sessions},
		sessions:     sessions,
		progress:     progress,
		engine:       NewEngine(options.Engine, progress),
		consolidator: NewConsolidator(options.DataDir),
	}
}

// Engine pagination engine used by the runner's tasks
func (r *Runner) Engine() *Engine {
	return r.engine
}

// Sessions pool bounding the browser sessions of the run to Workers
func (r *Runner) Sessions() *crawlers.SessionPool {
	return r.sessions
}

// Plan tasks the run will execute
func (r *Runner) Plan() []models.Task {
	return PlanTasks(r.config)
}

// Run executes every planned task. The returned error is set only for setup
// failures, before any task started; task failures live in the summary.
func (r *Runner) Run(ctx context.Context) (*models.RunSummary, error) {
	ctx = utils.WithRun(ctx, r.options.RunID)
	log := zerolog.Ctx(ctx)

	tasks := r.Plan()
	summary := &models.RunSummary{
		RunID:     r.options.RunID,
		Planned:   len(tasks),
		StartedAt: time.Now(),
	}

	if err := r.factory.Provision(ctx); err != nil {
		if !errors.Is(err, models.ErrDriverProvisioning) {
			err = fmt.Errorf("%w: %v", models.ErrDriverProvisioning, err)
		}
		return nil, err
	}
	if r.options.Capacity != nil {
		r.options.Capacity.CheckWorkers(ctx, r.config.Workers)
	}

	log.Info().Int("tasks", len(tasks)).Int("workers", r.config.Workers).Msg("run started")

	barrier := NewBarrier(tasks)
	outcomes := RunPool(ctx, tasks, r.config.Workers, func(ctx context.Context, t models.Task) (models.TaskOutcome, error) {
		return r.runTask(ctx, t), nil
	})

	for res := range outcomes {
		outcome := res.Value
		if res.Err != nil {
			outcome = models.TaskOutcome{Task: res.Item, Err: res.Err, FinishedAt: time.Now()}
		}
		summary.Record(outcome)
		r.reportOutcome(ctx, outcome)

		key := outcome.Task.Group()
		if !barrier.Done(outcome.Task) {
			log.Debug().Str("group", key.String()).Int("pending", barrier.Pending(key)).Msg("consolidation waits for the group")
			continue
		}
		result, err := r.consolidator.Consolidate(ctx, key.City, key.Year)
		if err != nil {
			log.Error().Err(err).Str("group", key.String()).Msg("consolidation failed")
		}
		summary.Consolidated = append(summary.Consolidated, result)
		if result.Path != "" {
			r.emit(models.ProgressEvent{
				Kind:    models.EventConsolidated,
				City:    key.City,
				Year:    key.Year,
				Records: result.Records,
				Path:    result.Path,
			})
		}
	}

	summary.FinishedAt = time.Now()
	log.Info().
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("records", summary.Records).
		Int("peak_sessions", r.sessions.Peak()).
		Dur("elapsed", summary.FinishedAt.Sub(summary.StartedAt)).
		Msg("run finished")
	return summary, nil
}

// runTask executes one task on its own session and persists what it found
func (r *Runner) runTask(ctx context.Context, t models.Task) models.TaskOutcome {
	ctx = utils.WithTask(ctx, t)
	log := zerolog.Ctx(ctx)
	start := time.Now()
	outcome := models.TaskOutcome{Task: t}

	city, ok := r.config.City(t.City)
	if !ok {
		outcome.Err = models.NewTaskError(models.ErrSessionStart, t.ID(), "lookup city", fmt.Errorf("city %q not configured", t.City))
		outcome.FinishedAt = time.Now()
		return outcome
	}
	cls := classify.New(r.config.TermsFor(city))
	agg := NewAggregator(t)

	log.Info().Str("strategy", string(t.Strategy)).Strs("terms", cls.Terms()).Msg("task started")
	switch t.Strategy {
	case models.StrategyAnnual:
		outcome.Err = r.engine.RunBatch(ctx, r.factory, t, city, cls, agg)
	default:
		outcome.Err = r.runMonthly(ctx, t, city, cls, agg)
	}

	// records found before a failure are kept
	path, n, err := agg.Flush(ctx, r.options.DataDir)
	switch {
	case err != nil:
		log.Error().Err(err).Msg("unit file not written")
		if outcome.Err == nil {
			outcome.Err = models.NewTaskError(err, t.ID(), "write unit file", nil)
		}
	case n == 0:
		r.emit(models.NewTaskEvent(models.EventUnitEmpty, t))
	default:
		ev := models.NewTaskEvent(models.EventUnitSaved, t)
		ev.Records = n
		ev.Path = path
		r.emit(ev)
	}

	outcome.Records = n
	outcome.UnitPath = path
	outcome.Duration = time.Since(start)
	outcome.FinishedAt = time.Now()
	return outcome
}

func (r *Runner) runMonthly(ctx context.Context, t models.Task, city models.CityConfig, cls *classify.Classifier, agg *Aggregator) error {
	d, err := r.factory.NewPageDriver(ctx, city)
	if err != nil {
		return models.NewTaskError(models.ErrSessionStart, t.ID(), "open session", err)
	}
	defer func() {
		if cerr := d.Close(); cerr != nil {
			zerolog.Ctx(ctx).Debug().Err(cerr).Msg("close session")
		}
	}()
	return r.engine.Run(ctx, d, t, city, cls, agg)
}

func (r *Runner) reportOutcome(ctx context.Context, o models.TaskOutcome) {
	log := zerolog.Ctx(utils.WithTask(ctx, o.Task))
	ev := models.NewTaskEvent(models.EventTaskCompleted, o.Task)
	ev.Records = o.Records
	ev.Path = o.UnitPath
	if o.Err != nil {
		ev.Error = o.Err.Error()
		log.Error().Err(o.Err).Str("kind", models.ErrorKind(o.Err)).Dur("duration", o.Duration).Msg("task failed")
	} else {
		log.Info().Int("records", o.Records).Dur("duration", o.Duration).Msg("task completed")
	}
	r.emit(ev)
}

func (r *Runner) emit(ev models.ProgressEvent) {
	if r.progress != nil {
		r.progress.Emit(ev)
	}
}

// pooledSessions takes a session pool slot before every session it opens.
// Phase two of an annual task runs its own chunk pool, so the bound has to
// sit here rather than on the task pool.
type pooledSessions struct {
	SessionFactory
	pool *crawlers.SessionPool
}

func (s *pooledSessions) NewPageDriver(ctx context.Context, city models.CityConfig) (crawlers.PageDriver, error) {
	if err := s.pool.Acquire(ctx); err != nil {
		return nil, err
	}
	d, err := s.SessionFactory.NewPageDriver(ctx, city)
	if err != nil {
		s.pool.Release()
		return nil, err
	}
	return s.pool.PageDriver(d), nil
}

func (s *pooledSessions) NewBatchLister(ctx context.Context, city models.CityConfig) (crawlers.BatchLister, error) {
	if err := s.pool.Acquire(ctx); err != nil {
		return nil, err
	}
	d, err := s.SessionFactory.NewBatchLister(ctx, city)
	if err != nil {
		s.pool.Release()
		return nil, err
	}
	return s.pool.BatchLister(d), nil
}

func (s *pooledSessions) NewDetailReader(ctx context.Context, city models.CityConfig) (crawlers.DetailReader, error) {
	if err := s.pool.Acquire(ctx); err != nil {
		return nil, err
	}
	r, err := s.SessionFactory.NewDetailReader(ctx, city)
	if err != nil {
		s.pool.Release()
		return nil, err
	}
	return s.pool.DetailReader(r), nil
}
