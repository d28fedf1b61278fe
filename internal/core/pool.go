package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
)

// PoolResult outcome of one pool item
type PoolResult[T, R any] struct {
	Index int // position in the submitted slice
	Item  T
	Value R
	Err   error
}

// RunPool runs fn over items with at most workers goroutines. Every item
// yields exactly one result, delivered in completion order; a panic in fn
// becomes that item's error, and items still queued when ctx is done are
// not started and carry ctx's error. The channel is closed once all items
// finished.
func RunPool[T, R any](ctx context.Context, items []T, workers int, fn func(ctx context.Context, item T) (R, error)) <-chan PoolResult[T, R] {
	results := make(chan PoolResult[T, R], len(items))
	if len(items) == 0 {
		close(results)
		return results
	}

	if workers > len(items) {
		workers = len(items)
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan int, len(items))
	for i := range items {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for i := range jobs {
				results <- runItem(ctx, workerID, i, items[i], fn)
			}
		}(w)
	}

	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

func runItem[T, R any](ctx context.Context, workerID, index int, item T, fn func(context.Context, T) (R, error)) (res PoolResult[T, R]) {
	res = PoolResult[T, R]{Index: index, Item: item}
	if err := ctx.Err(); err != nil {
		res.Err = fmt.Errorf("not started: %w", err)
		return res
	}
	defer func() {
		if r := recover(); r != nil {
			zerolog.Ctx(ctx).Error().
				Int("worker", workerID).
				Int("item", index).
				Str("stack", string(debug.Stack())).
				Msgf("worker panic: %v", r)
			res.Err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	res.Value, res.Err = fn(ctx, item)
	return res
}
