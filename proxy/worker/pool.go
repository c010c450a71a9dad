// Package worker provides an asynchronous worker pool that persists relayed
// turns using the provided storage.Driver and announces them on an optional
// event stream.
//
// The pool decouples storage operations from the proxy's HTTP hot path so that the
// client-proxy-upstream interaction is fully transparent.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/papercomputeco/relay/pkg/eventstream"
	"github.com/papercomputeco/relay/pkg/logger"
	"github.com/papercomputeco/relay/pkg/observe"
	"github.com/papercomputeco/relay/pkg/storage"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
)

// Job is a unit of work for the worker pool to execute against.
type Job struct {
	Turn *storage.Turn
}

// Config is the configuration options for the worker pool.
type Config struct {
	// Driver is the storage backend for persisting turns.
	Driver storage.Driver

	// Publisher is the optional event stream for persisted turns.
	Publisher eventstream.Publisher

	// Source identifies this relay in published events.
	Source eventstream.EventSource

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Pool processes storage jobs asynchronously via a worker pool.
type Pool struct {
	config  *Config
	queue   chan Job
	wg      sync.WaitGroup
	logger  *slog.Logger
	metrics *observe.Metrics
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.Driver == nil {
		return nil, fmt.Errorf("storage driver is required")
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	l := c.Logger
	if l == nil {
		l = logger.Nop()
	}

	wp := &Pool{
		config:  c,
		queue:   make(chan Job, c.QueueSize),
		logger:  l,
		metrics: observe.OrDefault(c.Metrics),
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// Enqueue submits a job for processing by the worker pool.
// Returns true if enqueued, false if the queue is full, resulting in the job being dropped
func (p *Pool) Enqueue(job Job) bool {
	if job.Turn == nil {
		return false
	}

	select {
	case p.queue <- job:
		p.logger.Debug("job queued",
			"turn_id", job.Turn.ID,
			"model", job.Turn.Model,
		)
		return true
	default:
		p.logger.Error("job not queued, queue full, job dropped",
			"turn_id", job.Turn.ID,
			"model", job.Turn.Model,
		)
		return false
	}
}

// Close signals workers to stop and waits for in-flight jobs to drain.
// Call this during graceful shutdown after the proxy HTTP server has stopped.
func (p *Pool) Close() {
	close(p.queue)
	p.wg.Wait()
}

// worker is the inner worker thread that continuously pulls jobs off the jobs queue
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", "worker_id", id)

	for job := range p.queue {
		p.processJob(job)
	}

	p.logger.Debug("storage worker stopped", "worker_id", id)
}

// processJob stores the turn and publishes its event. A publish failure is
// logged and does not undo the write.
func (p *Pool) processJob(job Job) {
	ctx := context.Background()

	err := p.config.Driver.Put(ctx, job.Turn)
	p.metrics.RecordTurnPersisted(ctx, err != nil)
	if err != nil {
		p.logger.Error("async turn storage failed",
			"turn_id", job.Turn.ID,
			"error", err,
		)
		return
	}

	p.logger.Info("turn stored",
		"turn_id", job.Turn.ID,
		"model", job.Turn.Model,
		"status", job.Turn.Status,
	)

	if p.config.Publisher == nil {
		return
	}

	event := eventstream.NewTurnPersistedEvent(job.Turn, p.config.Source)
	if err := p.config.Publisher.PublishTurn(ctx, event); err != nil {
		p.logger.Warn("turn event publish failed",
			"turn_id", job.Turn.ID,
			"error", err,
		)
	}
}
