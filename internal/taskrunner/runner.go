// Package taskrunner executes recap runs off the request path and delivers
// each result through a single outbound notification.
package taskrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/anatolykoptev/go_recap/internal/engine"
	"github.com/anatolykoptev/go_recap/internal/engine/pipeline"
)

var (
	// ErrQueueFull is returned by Submit when the pending cap is reached.
	ErrQueueFull = errors.New("too many pending tasks")
	// ErrShuttingDown is returned by Submit after Shutdown started.
	ErrShuttingDown = errors.New("task runner shutting down")
)

const notifyTimeout = 10 * time.Second

// Processor runs one full recap for a URL.
type Processor interface {
	Run(ctx context.Context, rawURL string) pipeline.Recap
}

// Notifier delivers the outbound message for a finished task.
type Notifier interface {
	Notify(ctx context.Context, to, text string) error
}

// Request is one unit of background work.
type Request struct {
	URL string
	To  string // notification recipient
}

// Runner is a bounded background pool. Tasks cannot be cancelled once started.
type Runner struct {
	proc     Processor
	notifier Notifier

	sem        *semaphore.Weighted
	pending    atomic.Int64
	maxPending int64

	// mu orders Submit's wg.Add against Shutdown's wg.Wait.
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// New creates a runner executing at most maxConcurrent tasks at once and
// holding at most maxPending submitted-but-unfinished tasks.
func New(proc Processor, notifier Notifier, maxConcurrent, maxPending int) *Runner {
	return &Runner{
		proc:       proc,
		notifier:   notifier,
		sem:        semaphore.NewWeighted(int64(max(maxConcurrent, 1))),
		maxPending: int64(max(maxPending, 1)),
	}
}

// Submit schedules req and returns its task id without blocking.
func (r *Runner) Submit(req Request) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing {
		return "", ErrShuttingDown
	}
	if r.pending.Add(1) > r.maxPending {
		r.pending.Add(-1)
		engine.IncrTasksRejected()
		return "", ErrQueueFull
	}

	id := uuid.NewString()
	r.wg.Add(1)
	go r.run(id, req)
	return id, nil
}

// Pending returns the number of submitted tasks not yet finished.
func (r *Runner) Pending() int64 { return r.pending.Load() }

// Shutdown stops accepting work and waits for in-flight tasks or ctx expiry.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("task runner: %d tasks still running: %w", r.pending.Load(), ctx.Err())
	}
}

// run executes one task on a detached context and always sends exactly one message.
func (r *Runner) run(id string, req Request) {
	defer r.wg.Done()
	defer r.pending.Add(-1)

	ctx := context.Background()
	// Acquire on a background context never fails.
	_ = r.sem.Acquire(ctx, 1)
	defer r.sem.Release(1)

	engine.IncrTasksStarted()
	start := time.Now()
	logger := slog.With(slog.String("task", id), slog.String("url", req.URL))
	logger.Info("task: started")

	recap := r.process(ctx, logger, req.URL)
	if recap.Failed() {
		engine.IncrTasksFailed()
	} else {
		engine.IncrTasksCompleted()
	}
	logger.Info("task: finished", slog.Bool("ok", !recap.Failed()),
		slog.String("source", recap.SourceTag), slog.Duration("took", time.Since(start)))

	nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := r.notifier.Notify(nctx, req.To, FormatMessage(recap)); err != nil {
		logger.Warn("task: notify failed", slog.Any("error", err))
	}
}

// process shields the runner from panics so the user still gets a reply.
func (r *Runner) process(ctx context.Context, logger *slog.Logger, rawURL string) (recap pipeline.Recap) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("task: panic", slog.Any("panic", p))
			recap = pipeline.Recap{Failure: "內部錯誤"}
		}
	}()
	return r.proc.Run(ctx, rawURL)
}
