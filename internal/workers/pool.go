package workers

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

const DefaultPoolSize = 4

var ErrPoolClosed = errors.New("worker pool is shut down")

// Pool bounds blocking work (completions, retrieval, persistence) across
// the whole process.
type Pool struct {
	sem  *semaphore.Weighted
	size int

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

func (p *Pool) Size() int { return p.size }

func (p *Pool) enter() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	p.wg.Add(1)
	return true
}

// Do runs fn on a pool slot and waits for it. It returns ctx's error if no
// slot frees up in time.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	if !p.enter() {
		return ErrPoolClosed
	}
	defer p.wg.Done()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn(ctx)
}

// Go schedules fn without waiting. onErr, when set, receives fn's error or
// the acquire failure.
func (p *Pool) Go(ctx context.Context, fn func(context.Context) error, onErr func(error)) error {
	if !p.enter() {
		return ErrPoolClosed
	}
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		defer p.sem.Release(1)
		if err := fn(ctx); err != nil && onErr != nil {
			onErr(err)
		}
	}()
	return nil
}

// Shutdown stops accepting work and waits for in-flight work or ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
