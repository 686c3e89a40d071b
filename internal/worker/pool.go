// Package worker runs message jobs off the request path.
//
// Jobs go through a bounded queue to a fixed number of workers. A message
// is never processed twice at the same time, and two messages of one
// session never run concurrently. A recovery sweep re-submits messages
// left Pending, for example after a crash.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/guilhermegouw/relay/internal/delivery"
	"github.com/guilhermegouw/relay/internal/message"
	"github.com/guilhermegouw/relay/internal/processor"
)

var (
	// ErrQueueFull is returned by Submit when the queue is at capacity.
	ErrQueueFull = errors.New("job queue full")
	// ErrClosed is returned by Submit after Shutdown.
	ErrClosed = errors.New("worker pool closed")
	// ErrAlreadyQueued is returned by Submit for a message that is queued
	// or being processed.
	ErrAlreadyQueued = errors.New("message already queued")
)

// Processor runs one job.
type Processor interface {
	Process(ctx context.Context, job processor.Job) processor.Result
}

// PendingLister finds messages stuck in Pending.
type PendingLister interface {
	ListPending(ctx context.Context, grace time.Duration) ([]*message.Message, error)
}

// Options configures a Pool.
type Options struct {
	Workers          int
	QueueSize        int
	RecoverySchedule string
	RecoveryGrace    time.Duration
}

// Stats is a snapshot of pool activity.
type Stats struct {
	Workers   int    `json:"workers"`
	Queued    int    `json:"queued"`
	InFlight  int64  `json:"in_flight"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Skipped   uint64 `json:"skipped"`
	Recovered uint64 `json:"recovered"`
}

// Pool is a fixed-size worker pool for message jobs.
type Pool struct {
	proc    Processor
	pending PendingLister
	opts    Options
	logger  *slog.Logger

	queue  chan processor.Job
	flight singleflight.Group
	locks  *keyedMutex
	group  errgroup.Group
	cron   *cron.Cron

	mu      sync.Mutex
	queued  map[int64]struct{}
	closed  bool
	started bool
	ctx     context.Context
	cancel  context.CancelFunc

	inFlight  atomic.Int64
	completed atomic.Uint64
	failed    atomic.Uint64
	skipped   atomic.Uint64
	recovered atomic.Uint64
}

// New creates a pool. pending may be nil to disable recovery.
func New(proc Processor, pending PendingLister, opts Options, logger *slog.Logger) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = opts.Workers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		proc:    proc,
		pending: pending,
		opts:    opts,
		logger:  logger.With("component", "worker"),
		queue:   make(chan processor.Job, opts.QueueSize),
		locks:   newKeyedMutex(),
		queued:  make(map[int64]struct{}),
	}
}

// Start launches the workers and, if configured, the recovery schedule.
// Jobs run with a context derived from ctx that is not cancelled by
// Shutdown, so in-flight model calls finish.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errors.New("worker pool already started")
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	p.mu.Unlock()

	for i := range p.opts.Workers {
		p.group.Go(func() error {
			p.work(i)
			return nil
		})
	}

	p.logger.Info("worker pool started", "workers", p.opts.Workers, "queue", p.opts.QueueSize)

	if p.pending == nil || p.opts.RecoverySchedule == "" {
		return nil
	}
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(p.opts.RecoverySchedule, func() {
		if _, err := p.Recover(p.ctx); err != nil {
			p.logger.Error("recovery sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("scheduling recovery %q: %w", p.opts.RecoverySchedule, err)
	}
	c.Start()
	p.mu.Lock()
	p.cron = c
	p.mu.Unlock()
	return nil
}

// Submit queues job without blocking.
func (p *Pool) Submit(job processor.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if _, ok := p.queued[job.MessageID]; ok {
		return ErrAlreadyQueued
	}
	select {
	case p.queue <- job:
		p.queued[job.MessageID] = struct{}{}
		return nil
	default:
		return ErrQueueFull
	}
}

// Recover submits every message that has been Pending for longer than the
// grace period and returns how many were queued.
func (p *Pool) Recover(ctx context.Context) (int, error) {
	if p.pending == nil {
		return 0, nil
	}
	msgs, err := p.pending.ListPending(ctx, p.opts.RecoveryGrace)
	if err != nil {
		return 0, fmt.Errorf("listing pending messages: %w", err)
	}
	n := 0
	for _, m := range msgs {
		err := p.Submit(processor.Job{MessageID: m.ID, SessionID: m.SessionID, Mode: delivery.ModeAuto})
		switch {
		case err == nil:
			n++
		case errors.Is(err, ErrAlreadyQueued):
		default:
			return n, err
		}
	}
	if n > 0 {
		p.recovered.Add(uint64(n))
		p.logger.Info("recovered pending messages", "count", n)
	}
	return n, nil
}

// Run processes job on the calling goroutine with the same de-duplication
// and per-session ordering as the workers.
func (p *Pool) Run(ctx context.Context, job processor.Job) processor.Result {
	key := strconv.FormatInt(job.MessageID, 10)
	ran := false
	v, _, _ := p.flight.Do(key, func() (any, error) {
		ran = true
		unlock := p.locks.Lock(job.SessionID)
		defer unlock()
		p.inFlight.Add(1)
		defer p.inFlight.Add(-1)
		return p.proc.Process(ctx, job), nil
	})
	if !ran {
		return processor.Result{Outcome: processor.OutcomeSkipped}
	}
	res, _ := v.(processor.Result) //nolint:errcheck // Do only ever stores a Result
	return res
}

func (p *Pool) work(id int) {
	for job := range p.queue {
		res := p.Run(p.ctx, job)
		p.mu.Lock()
		delete(p.queued, job.MessageID)
		p.mu.Unlock()

		switch res.Outcome {
		case processor.OutcomeCompleted:
			p.completed.Add(1)
		case processor.OutcomeFailed:
			p.failed.Add(1)
		default:
			p.skipped.Add(1)
		}
		p.logger.Debug("job done", "worker", id, "message_id", job.MessageID, "outcome", res.Outcome)
	}
}

// Shutdown stops accepting jobs and waits for queued jobs to finish or ctx
// to end, whichever comes first.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	started := p.started
	c := p.cron
	p.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		_ = p.group.Wait() //nolint:errcheck // workers never return errors
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return fmt.Errorf("draining worker pool: %w", ctx.Err())
	}
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.opts.Workers,
		Queued:    len(p.queue),
		InFlight:  p.inFlight.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Skipped:   p.skipped.Load(),
		Recovered: p.recovered.Load(),
	}
}
