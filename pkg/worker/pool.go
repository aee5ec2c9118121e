// Package worker provides an asynchronous worker pool that runs memory log
// consolidation off the request path.
//
// The orchestrator enqueues a Job after persisting an exchange and returns to
// the caller immediately. Each Job exposes a Done channel so the next exchange
// can wait for an in-flight consolidation before counting turns again.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/storyloom/pkg/llm"
	"github.com/papercomputeco/storyloom/pkg/memory"
	"github.com/papercomputeco/storyloom/pkg/narrative"
)

var (
	defaultNumWorkers   uint = 1
	defaultJobQueueSize uint = 16
	defaultJobTimeout        = 2 * time.Minute
)

// ErrQueueFull is reported by a Job that was dropped because the queue was full.
var ErrQueueFull = errors.New("consolidation queue full")

// ErrClosed is reported by a Job enqueued after Close.
var ErrClosed = errors.New("worker pool closed")

// Consolidator is the work a Job performs.
type Consolidator interface {
	Consolidate(ctx context.Context, provider llm.Provider, turns []narrative.Turn, location string) (*memory.Result, error)
}

// Job is a unit of consolidation work.
type Job struct {
	Provider llm.Provider
	Turns    []narrative.Turn
	Location string

	done   chan struct{}
	result *memory.Result
	err    error
}

// NewJob creates a job that consolidates turns at location.
func NewJob(provider llm.Provider, turns []narrative.Turn, location string) *Job {
	return &Job{
		Provider: provider,
		Turns:    turns,
		Location: location,
		done:     make(chan struct{}),
	}
}

// Done is closed once the job has finished or was dropped.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Result returns the job outcome. It is only valid after Done is closed.
func (j *Job) Result() (*memory.Result, error) {
	return j.result, j.err
}

func (j *Job) finish(result *memory.Result, err error) {
	j.result = result
	j.err = err
	close(j.done)
}

// Config is the configuration options for the worker pool.
type Config struct {
	// Consolidator performs each job.
	Consolidator Consolidator

	// NumWorkers is the number of background workers in the pool (defaults to 1).
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 16).
	QueueSize uint

	// JobTimeout bounds a single consolidation (defaults to 2m).
	JobTimeout time.Duration

	// OnComplete, when set, is called after each job finishes.
	OnComplete func(job *Job)

	// Logger is the provided zap logger
	Logger *zap.Logger
}

// Pool processes consolidation jobs asynchronously via a worker pool.
type Pool struct {
	config *Config
	queue  chan *Job
	wg     sync.WaitGroup
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.Consolidator == nil {
		return nil, errors.New("worker pool requires a consolidator")
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.JobTimeout == 0 {
		c.JobTimeout = defaultJobTimeout
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	wp := &Pool{
		config: c,
		queue:  make(chan *Job, c.QueueSize),
		logger: logger,
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// Enqueue submits a job for processing by the worker pool.
// Returns true if enqueued, false if the queue is full or the pool is closed,
// in which case the job is finished with ErrQueueFull or ErrClosed.
func (p *Pool) Enqueue(job *Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		job.finish(nil, ErrClosed)
		return false
	}

	select {
	case p.queue <- job:
		p.logger.Debug("consolidation job queued",
			zap.Int("turns", len(job.Turns)),
			zap.String("location", job.Location),
		)
		return true
	default:
		p.logger.Error("consolidation job not queued, queue full, job dropped",
			zap.Int("turns", len(job.Turns)),
			zap.String("location", job.Location),
		)
		job.finish(nil, ErrQueueFull)
		return false
	}
}

// Close signals workers to stop and waits for in-flight jobs to drain.
// Call this during graceful shutdown after the HTTP server has stopped.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

// worker is the inner worker thread that continuously pulls jobs off the jobs queue
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("consolidation worker started", zap.Uint("worker_id", id))

	for job := range p.queue {
		p.processJob(job)
	}

	p.logger.Debug("consolidation worker stopped", zap.Uint("worker_id", id))
}

// processJob runs one consolidation. Jobs are detached from the request that
// enqueued them and bounded by JobTimeout instead.
func (p *Pool) processJob(job *Job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.JobTimeout)
	defer cancel()

	result, err := p.config.Consolidator.Consolidate(ctx, job.Provider, job.Turns, job.Location)
	if err != nil {
		p.logger.Error("consolidation failed",
			zap.String("location", job.Location),
			zap.Error(err),
		)
	}

	job.finish(result, err)

	if p.config.OnComplete != nil {
		p.config.OnComplete(job)
	}
}
