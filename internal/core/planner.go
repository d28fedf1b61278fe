package core

import (
	"sync"

	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/models"
)

// PlanTasks expands the run configuration into independent tasks, in
// configuration order: cities, then years, then months. The configuration
// is not modified.
func PlanTasks(cfg *models.RunConfig) []models.Task {
	explicit := len(cfg.Months) > 0
	months := cfg.Months
	if !explicit {
		months = models.CanonicalMonths()
	}

	var tasks []models.Task
	for _, city := range cfg.Cities {
		monthly := city.MonthFilterable(explicit)
		for _, year := range cfg.Years {
			if !monthly {
				tasks = append(tasks, models.Task{City: city.Name, Year: year, Strategy: models.StrategyAnnual})
				continue
			}
			for _, month := range months {
				tasks = append(tasks, models.Task{City: city.Name, Year: year, Month: month, Strategy: models.StrategyMonthly})
			}
		}
	}
	return tasks
}

// Barrier counts terminated tasks per (city, year). Done reports true exactly
// once per group, when its last planned task terminates.
type Barrier struct {
	mu        sync.Mutex
	remaining map[models.GroupKey]int
}

// NewBarrier creates a barrier over the planned tasks
func NewBarrier(tasks []models.Task) *Barrier {
	b := &Barrier{remaining: make(map[models.GroupKey]int)}
	for _, t := range tasks {
		b.remaining[t.Group()]++
	}
	return b
}

// Done marks a task terminated
func (b *Barrier) Done(t models.Task) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := t.Group()
	n, ok := b.remaining[key]
	if !ok || n == 0 {
		return false
	}
	b.remaining[key] = n - 1
	return n == 1
}

// Pending tasks of a group that have not terminated yet
func (b *Barrier) Pending(key models.GroupKey) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining[key]
}
