// Package worker provides an asynchronous worker pool for the side effects
// of a turn: fact learning, history writes and event publishing.
//
// The pool decouples those writes from the answer path so a slow or failing
// memory backend never delays or fails delivery.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
	defaultJobTimeout        = time.Minute
)

// Job is a unit of work for the worker pool to execute.
type Job struct {
	// Name identifies the job kind in logs, e.g. "learn_facts".
	Name string

	// TurnID and UserID are logged with the job's outcome.
	TurnID string
	UserID string

	// Run performs the work. Its error is logged, never returned.
	Run func(ctx context.Context) error
}

// Config is the configuration options for the worker pool.
type Config struct {
	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// JobTimeout bounds each job's context (defaults to one minute).
	JobTimeout time.Duration

	Logger *slog.Logger
}

// Pool runs jobs asynchronously on a fixed set of workers.
type Pool struct {
	config *Config
	queue  chan Job
	wg     sync.WaitGroup
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.JobTimeout <= 0 {
		c.JobTimeout = defaultJobTimeout
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	wp := &Pool{
		config: c,
		queue:  make(chan Job, c.QueueSize),
		logger: logger,
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// Enqueue submits a job for processing by the worker pool.
// Returns true if enqueued, false if the queue is full or the pool is
// closed, resulting in the job being dropped.
func (p *Pool) Enqueue(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.logger.Warn("job not queued, pool closed", "job", job.Name, "turn_id", job.TurnID)
		return false
	}

	select {
	case p.queue <- job:
		p.logger.Debug("job queued", "job", job.Name, "turn_id", job.TurnID)
		return true
	default:
		p.logger.Warn("job not queued, queue full, job dropped",
			"job", job.Name,
			"turn_id", job.TurnID,
			"user_id", job.UserID,
		)
		return false
	}
}

// Close stops accepting jobs and waits for queued and in-flight jobs to
// drain. It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

// worker is the inner worker thread that continuously pulls jobs off the jobs queue
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", "worker_id", id)

	for job := range p.queue {
		p.processJob(job)
	}

	p.logger.Debug("worker stopped", "worker_id", id)
}

// processJob runs one job with its own timeout. Jobs never inherit the
// turn's context: a cancelled turn must not roll back side effects that
// were already scheduled.
func (p *Pool) processJob(job Job) {
	if job.Run == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.config.JobTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked", "job", job.Name, "turn_id", job.TurnID, "panic", r)
		}
	}()

	if err := job.Run(ctx); err != nil {
		p.logger.Warn("job failed",
			"job", job.Name,
			"turn_id", job.TurnID,
			"user_id", job.UserID,
			"error", err,
		)
		return
	}

	p.logger.Debug("job done", "job", job.Name, "turn_id", job.TurnID, "duration", time.Since(start))
}
