// Package queue runs backend work on a single background goroutine so
// analytics handlers can return to the caller without waiting for I/O.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed indicates the worker no longer accepts jobs.
var ErrClosed = errors.New("queue closed")

// Config configures worker behavior.
type Config struct {
	// BufferSize is the number of pending jobs held before Submit drops.
	// Default: 256
	BufferSize int

	// OnDrop is called when a job is dropped because the buffer is full
	// or the worker is closed. pending is the queue depth at the time.
	OnDrop func(name string, pending int)

	// OnPanic is called when a job panics. The worker keeps running.
	OnPanic func(name string, err error)
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	BufferSize: 256,
}

type job struct {
	name string
	fn   func()
}

// Worker executes submitted jobs in submission order on one goroutine.
type Worker struct {
	cfg Config

	mu     sync.RWMutex
	closed bool
	jobs   chan job
	done   chan struct{}
}

// New starts a worker.
func New(cfg Config) *Worker {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig.BufferSize
	}
	w := &Worker{
		cfg:  cfg,
		jobs: make(chan job, cfg.BufferSize),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

// Submit enqueues fn without blocking. It reports false when the job was
// dropped because the buffer is full or the worker is closed.
func (w *Worker) Submit(name string, fn func()) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		w.drop(name)
		return false
	}

	select {
	case w.jobs <- job{name: name, fn: fn}:
		return true
	default:
		w.drop(name)
		return false
	}
}

// Flush blocks until every job submitted before the call has run.
func (w *Worker) Flush(ctx context.Context) error {
	barrier := make(chan struct{})

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return ErrClosed
	}
	select {
	case w.jobs <- job{name: "flush", fn: func() { close(barrier) }}:
		w.mu.RUnlock()
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs, runs the jobs already queued and waits for
// the worker to exit. Close is idempotent.
func (w *Worker) Close() error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mu.Unlock()

	<-w.done
	return nil
}

// Pending returns the number of queued jobs.
func (w *Worker) Pending() int {
	return len(w.jobs)
}

func (w *Worker) run() {
	defer close(w.done)
	for j := range w.jobs {
		w.exec(j)
	}
}

func (w *Worker) exec(j job) {
	defer func() {
		if r := recover(); r != nil && w.cfg.OnPanic != nil {
			w.cfg.OnPanic(j.name, fmt.Errorf("job panic: %v", r))
		}
	}()
	j.fn()
}

func (w *Worker) drop(name string) {
	if w.cfg.OnDrop != nil {
		w.cfg.OnDrop(name, w.Pending())
	}
}
