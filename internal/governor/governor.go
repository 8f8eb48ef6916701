// Package governor bounds how many enrichment tasks run at once. The limit
// is process wide, so overlapping zone crawls share one budget instead of
// multiplying it.
package governor

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultLimit is the concurrency cap used when none is configured.
const DefaultLimit = 5

// Task is one unit of bounded work.
type Task func(ctx context.Context) error

// Governor runs batches of tasks under a shared concurrency limit.
type Governor struct {
	sem   *semaphore.Weighted
	limit int
}

// New creates a governor with the given limit. Non-positive limits fall back
// to DefaultLimit.
func New(limit int) *Governor {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Governor{
		sem:   semaphore.NewWeighted(int64(limit)),
		limit: limit,
	}
}

// Limit returns the configured concurrency cap.
func (g *Governor) Limit() int { return g.limit }

// Run executes every task and returns their outcomes in task order. A failing
// task never cancels its siblings; the caller decides what a partial batch
// means. Run itself only fails early when the context is done before a slot
// opens, in which case the remaining entries carry the context error.
func (g *Governor) Run(ctx context.Context, tasks []Task) []error {
	errs := make([]error, len(tasks))
	var wg sync.WaitGroup

	for i, task := range tasks {
		if err := g.sem.Acquire(ctx, 1); err != nil {
			for j := i; j < len(tasks); j++ {
				errs[j] = err
			}
			break
		}
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			defer g.sem.Release(1)
			errs[i] = task(ctx)
		}(i, task)
	}

	wg.Wait()
	return errs
}
