// Package retry runs failed background side effects again, paced by a token
// bucket so a recovering backend is not hit by a burst of replays.
package retry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Job is a retryable unit of work.
type Job struct {
	Name string
	Run  func(ctx context.Context) error

	attempt int
}

// Config controls queue capacity and pacing.
type Config struct {
	MaxAttempts int
	PerSecond   float64
	Burst       int
	QueueSize   int
	Backoff     time.Duration
	// OnResult is called once per job when it finally succeeds or is dropped.
	OnResult func(name string, ok bool)
}

// Queue is safe for concurrent use. A nil Queue rejects every job.
type Queue struct {
	cfg     Config
	log     zerolog.Logger
	limiter *rate.Limiter
	jobs    chan Job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	pending atomic.Int64
	closed  atomic.Bool
}

// New starts the worker goroutine.
func New(cfg Config, log zerolog.Logger) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.PerSecond <= 0 {
		cfg.PerSecond = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:     cfg,
		log:     log.With().Str("component", "retry").Logger(),
		limiter: rate.NewLimiter(rate.Limit(cfg.PerSecond), cfg.Burst),
		jobs:    make(chan Job, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Enqueue schedules job. It reports false when the queue is full or closed.
func (q *Queue) Enqueue(job Job) bool {
	if q == nil || q.closed.Load() || job.Run == nil {
		return false
	}
	q.pending.Add(1)
	if !q.push(job) {
		q.pending.Add(-1)
		q.log.Warn().Str("job", job.Name).Msg("retry queue full, job dropped")
		return false
	}
	return true
}

func (q *Queue) push(job Job) bool {
	select {
	case q.jobs <- job:
		return true
	default:
		return false
	}
}

// Pending returns the number of jobs not yet finished.
func (q *Queue) Pending() int64 {
	if q == nil {
		return 0
	}
	return q.pending.Load()
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.jobs:
			if err := q.limiter.Wait(q.ctx); err != nil {
				return
			}
			q.attempt(job)
		}
	}
}

func (q *Queue) attempt(job Job) {
	job.attempt++
	err := job.Run(q.ctx)
	if err == nil {
		q.finish(job, true)
		return
	}
	if job.attempt >= q.cfg.MaxAttempts {
		q.log.Error().Err(err).Str("job", job.Name).Int("attempts", job.attempt).Msg("retry attempts exhausted")
		q.finish(job, false)
		return
	}

	q.log.Warn().Err(err).Str("job", job.Name).Int("attempt", job.attempt).Msg("retry attempt failed")
	delay := q.cfg.Backoff * time.Duration(job.attempt)
	time.AfterFunc(delay, func() {
		if q.closed.Load() || !q.push(job) {
			q.finish(job, false)
		}
	})
}

func (q *Queue) finish(job Job, ok bool) {
	q.pending.Add(-1)
	if q.cfg.OnResult != nil {
		q.cfg.OnResult(job.Name, ok)
	}
}

// Close stops the worker. Jobs still queued are abandoned.
func (q *Queue) Close() {
	if q == nil || !q.closed.CompareAndSwap(false, true) {
		return
	}
	q.cancel()
	q.wg.Wait()
}
