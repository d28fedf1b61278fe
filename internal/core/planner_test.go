package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanTasks(t *testing.T) {
	aracaju := testCity("aracaju")
	pacatuba := testCity("pacatuba")
	pacatuba.Mode = models.ModeAuto
	pirambu := testCity("pirambu")
	pirambu.Mode = models.ModeAnnual

	tests := []struct {
		name   string
		months []string
		total  int
		annual int
		first  models.Task
	}{
		{
			name:   "all months",
			total:  2*12 + 2 + 2,
			annual: 4,
			first:  models.Task{City: "aracaju", Year: "2022", Month: "01", Strategy: models.StrategyMonthly},
		},
		{
			name:   "explicit months make auto cities monthly",
			months: []string{"02", "11"},
			total:  2*2 + 2*2 + 2,
			annual: 2,
			first:  models.Task{City: "aracaju", Year: "2022", Month: "02", Strategy: models.StrategyMonthly},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &models.RunConfig{
				Cities: []models.CityConfig{aracaju, pacatuba, pirambu},
				Years:  []string{"2022", "2023"},
				Months: tt.months,
			}
			tasks := PlanTasks(cfg)
			require.Len(t, tasks, tt.total)
			assert.Equal(t, tt.first, tasks[0])

			annual := 0
			ids := make(map[string]bool)
			for _, task := range tasks {
				if task.Strategy == models.StrategyAnnual {
					annual++
					assert.Empty(t, task.Month)
				}
				assert.False(t, ids[task.ID()], "duplicate task %s", task.ID())
				ids[task.ID()] = true
			}
			assert.Equal(t, tt.annual, annual)
			assert.Equal(t, tt.months, cfg.Months, "configuration untouched")
		})
	}
}

func TestBarrier(t *testing.T) {
	tasks := PlanTasks(&models.RunConfig{
		Cities: []models.CityConfig{testCity("aracaju")},
		Years:  []string{"2023", "2024"},
		Months: []string{"01", "02", "03"},
	})
	b := NewBarrier(tasks)
	key := models.GroupKey{City: "aracaju", Year: "2023"}
	assert.Equal(t, 3, b.Pending(key))

	assert.False(t, b.Done(tasks[0]))
	assert.False(t, b.Done(tasks[1]))
	assert.True(t, b.Done(tasks[2]))
	assert.False(t, b.Done(tasks[2]), "a group fires once")
	assert.Equal(t, 0, b.Pending(key))
	assert.Equal(t, 3, b.Pending(models.GroupKey{City: "aracaju", Year: "2024"}))
	assert.False(t, b.Done(models.Task{City: "estancia", Year: "2023"}))
}

func TestBarrierConcurrent(t *testing.T) {
	tasks := PlanTasks(&models.RunConfig{
		Cities: []models.CityConfig{testCity("aracaju"), testCity("pirambu")},
		Years:  []string{"2023"},
	})
	b := NewBarrier(tasks)

	var fired atomic.Int32
	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func(task models.Task) {
			defer wg.Done()
			if b.Done(task) {
				fired.Add(1)
			}
		}(task)
	}
	wg.Wait()
	assert.Equal(t, int32(2), fired.Load())
}

func TestRunPool(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	var running, peak atomic.Int32

	results := RunPool(context.Background(), items, 3, func(ctx context.Context, n int) (int, error) {
		cur := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		if n == 4 {
			panic("boom")
		}
		if n == 7 {
			return 0, errPortal
		}
		return n * 2, nil
	})

	seen := make(map[int]bool)
	for res := range results {
		seen[res.Index] = true
		switch res.Item {
		case 4:
			require.Error(t, res.Err)
			assert.Contains(t, res.Err.Error(), "worker panic: boom")
		case 7:
			assert.True(t, errors.Is(res.Err, errPortal))
		default:
			assert.NoError(t, res.Err)
			assert.Equal(t, res.Item*2, res.Value)
		}
	}
	assert.Len(t, seen, len(items), "one result per item")
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRunPoolEmpty(t *testing.T) {
	results := RunPool(context.Background(), nil, 4, func(ctx context.Context, s string) (int, error) {
		t.Fatal("must not run")
		return 0, nil
	})
	_, open := <-results
	assert.False(t, open)
}

func TestRunPoolCancelledSkipsQueued(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	results := RunPool(ctx, []string{"a", "b", "c"}, 2, func(ctx context.Context, s string) (int, error) {
		calls.Add(1)
		return 1, nil
	})

	n := 0
	for res := range results {
		n++
		assert.ErrorIs(t, res.Err, context.Canceled)
	}
	assert.Equal(t, 3, n, "every item still yields a result")
	assert.Zero(t, calls.Load())
}

func TestRetry(t *testing.T) {
	t.Run("succeeds after failures", func(t *testing.T) {
		rs := &recordedSleep{}
		calls := 0
		err := Retry(context.Background(), RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Sleep: rs.sleep}, func(attempt int) error {
			calls++
			assert.Equal(t, calls, attempt)
			if attempt < 3 {
				return errPortal
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rs.delays)
	})

	t.Run("exhausted", func(t *testing.T) {
		rs := &recordedSleep{}
		calls := 0
		err := Retry(context.Background(), RetryPolicy{MaxAttempts: 3, BaseDelay: 5 * time.Second, Sleep: rs.sleep}, func(int) error {
			calls++
			return errPortal
		})
		assert.ErrorIs(t, err, models.ErrRetriesExhausted)
		assert.ErrorIs(t, err, errPortal)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, rs.delays)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Retry(ctx, DefaultRetryPolicy(), func(int) error {
			t.Fatal("must not run")
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, models.ErrRetriesExhausted)
	})

	t.Run("at least one attempt", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), RetryPolicy{}, func(int) error {
			calls++
			return errPortal
		})
		assert.ErrorIs(t, err, models.ErrRetriesExhausted)
		assert.Equal(t, 1, calls)
	})
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
}
