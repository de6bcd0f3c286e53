package api

import (
	"context"

	"golang.org/x/sync/semaphore"

	"neoexcelsync/pkg/errors"
)

// WorkerPool bounds the number of pipelines running at once. Requests beyond
// the bound wait for a free worker or for their context to end.
type WorkerPool struct {
	sem  *semaphore.Weighted
	size int
}

// NewWorkerPool creates a pool of size workers.
func NewWorkerPool(size int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size returns the number of workers.
func (p *WorkerPool) Size() int { return p.size }

// Do runs fn on a worker. The context only bounds the wait; fn itself runs
// to completion.
func (p *WorkerPool) Do(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, errors.CodeProcessingError, "no worker available").
			WithSuggestion("the server is busy; retry the request")
	}
	defer p.sem.Release(1)
	return fn()
}
