// Package queue runs network work triggered by state transitions on a fixed
// pool of workers.
package queue

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// ErrClosed is returned when a job is submitted after Shutdown.
var ErrClosed = errors.New("queue: shut down")

type Job struct {
	Name string
	Fn   func() error
	Errc chan error
}

type RequestQueueManager struct {
	JobQueue   chan Job
	MaxWorkers int
	logger     zerolog.Logger
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
}

type Option func(*RequestQueueManager)

func WithLogger(logger zerolog.Logger) Option {
	return func(rqm *RequestQueueManager) {
		rqm.logger = logger
	}
}

// WithMetrics exposes the queue depth on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(rqm *RequestQueueManager) {
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "chat_widget_queue_depth",
				Help: "Jobs waiting for a worker.",
			},
			func() float64 { return float64(len(rqm.JobQueue)) },
		))
	}
}

func NewRequestQueueManager(queueSize int, maxWorkers int, opts ...Option) *RequestQueueManager {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	manager := &RequestQueueManager{
		JobQueue:   make(chan Job, queueSize),
		MaxWorkers: maxWorkers,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(manager)
	}
	manager.startWorkers()
	return manager
}

func (rqm *RequestQueueManager) startWorkers() {
	for i := 0; i < rqm.MaxWorkers; i++ {
		rqm.wg.Add(1)
		go func(workerID int) {
			defer rqm.wg.Done()
			rqm.logger.Debug().Int("worker", workerID).Msg("worker started")
			for job := range rqm.JobQueue {
				err := job.Fn()
				if err != nil {
					rqm.logger.Warn().Err(err).Str("job", job.Name).Int("worker", workerID).Msg("job failed")
				}
				if job.Errc != nil {
					job.Errc <- err
				}
			}
			rqm.logger.Debug().Int("worker", workerID).Msg("worker stopped")
		}(i)
	}
}

// EnqueueJob blocks until the job is queued. It reports ErrClosed after Shutdown.
func (rqm *RequestQueueManager) EnqueueJob(job Job) error {
	rqm.mu.RLock()
	defer rqm.mu.RUnlock()

	if rqm.closed {
		return ErrClosed
	}
	rqm.JobQueue <- job
	return nil
}

// Go submits fn without waiting for its result. Failures are logged by the
// worker; jobs submitted after Shutdown are dropped.
func (rqm *RequestQueueManager) Go(name string, fn func() error) {
	if err := rqm.EnqueueJob(Job{Name: name, Fn: fn}); err != nil {
		rqm.logger.Debug().Str("job", name).Msg("job dropped after shutdown")
	}
}

// Shutdown stops accepting jobs, drains the queue and waits for the workers.
func (rqm *RequestQueueManager) Shutdown() {
	rqm.mu.Lock()
	if rqm.closed {
		rqm.mu.Unlock()
		return
	}
	rqm.closed = true
	close(rqm.JobQueue)
	rqm.mu.Unlock()

	rqm.wg.Wait()
}
