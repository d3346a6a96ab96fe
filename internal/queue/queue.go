// Package queue implements the in-process, single-worker job queue behind the
// asynchronous recommendation API: bounded FIFO admission, stable queue
// positions, per-job timeouts and a retention sweeper for finished jobs.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skillbridge/skillbridge/internal/metrics"
)

var (
	// ErrQueueFull is returned when the admission queue is at capacity. The
	// caller should surface it as a retry-later condition.
	ErrQueueFull = errors.New("job queue is full")
	// ErrJobNotFound is returned when no job exists for the requested id.
	ErrJobNotFound = errors.New("job not found")
)

// timeoutErrorMessage is the exact error recorded for jobs that exceed the
// configured processing limit.
const timeoutErrorMessage = "Job processing timed out"

// Handler processes the payload of a single job and returns its result.
type Handler func(ctx context.Context, payload map[string]any) (map[string]any, error)

// Config tunes the queue. Zero values fall back to the defaults below.
type Config struct {
	// Capacity bounds the admission queue; submissions beyond it fail with
	// ErrQueueFull.
	Capacity int
	// JobTimeout limits how long a single job may process.
	JobTimeout time.Duration
	// Retention is how long finished jobs stay queryable before the sweeper
	// deletes them.
	Retention time.Duration
	// SweepInterval is how often the sweeper scans for expired jobs.
	SweepInterval time.Duration
	// AverageJobDuration feeds the wait-time estimate shown to queued callers.
	AverageJobDuration time.Duration
}

const (
	defaultCapacity           = 100
	defaultJobTimeout         = 5 * time.Minute
	defaultRetention          = 24 * time.Hour
	defaultSweepInterval      = time.Hour
	defaultAverageJobDuration = time.Minute
)

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = defaultCapacity
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaultJobTimeout
	}
	if c.Retention <= 0 {
		c.Retention = defaultRetention
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	if c.AverageJobDuration <= 0 {
		c.AverageJobDuration = defaultAverageJobDuration
	}
	return c
}

// QueueStatus is an aggregate snapshot of the queue.
type QueueStatus struct {
	QueueSize     int            `json:"queue_size"`
	TotalJobs     int            `json:"total_jobs"`
	WorkerRunning bool           `json:"worker_running"`
	JobsByStatus  map[string]int `json:"jobs_by_status"`
}

// Queue owns job storage, the bounded admission queue and the position
// counter. It is constructed once at startup and shared by reference with the
// route layer and background tasks.
type Queue struct {
	cfg      Config
	logger   *zap.Logger
	handlers map[Type]Handler

	mu        sync.Mutex
	jobs      map[string]*Job
	counter   int
	admission chan string
	running   bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// now is swappable in tests.
	now func() time.Time
}

// New creates a queue with the provided per-type handlers. The worker and
// sweeper are not started until Start is called.
func New(cfg Config, handlers map[Type]Handler, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg = cfg.withDefaults()

	registered := make(map[Type]Handler, len(handlers))
	for t, h := range handlers {
		registered[t] = h
	}

	return &Queue{
		cfg:       cfg,
		logger:    logger,
		handlers:  registered,
		jobs:      make(map[string]*Job),
		admission: make(chan string, cfg.Capacity),
		now:       time.Now,
	}
}

// Start launches the background worker and the retention sweeper. It returns
// immediately; both goroutines run until Stop is called or ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}

	ctx, q.cancel = context.WithCancel(ctx)
	q.running = true

	q.wg.Add(2)
	go q.workerLoop(ctx)
	go q.sweeperLoop(ctx)

	q.logger.Info("job queue started",
		zap.Int("capacity", q.cfg.Capacity),
		zap.Duration("job_timeout", q.cfg.JobTimeout),
		zap.Duration("retention", q.cfg.Retention),
	)
}

// Stop cancels the worker and sweeper and waits for them to exit. A job that
// is mid-flight when Stop is called may be left without a terminal state; the
// process is shutting down and all state is in-memory anyway.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	cancel := q.cancel
	q.mu.Unlock()

	cancel()
	q.wg.Wait()
	q.logger.Info("job queue stopped")
}

// Submit registers a new job and pushes it onto the admission queue. The
// position counter increment and record registration happen under one lock so
// concurrent submissions never observe the same position. When the admission
// queue is full no record is created and ErrQueueFull is returned.
func (q *Queue) Submit(jobType Type, payload map[string]any) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job := &Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Status:    StatusQueued,
		Payload:   payload,
		CreatedAt: q.now().UTC(),
	}

	select {
	case q.admission <- job.ID:
	default:
		metrics.JobsRejected.Inc()
		return nil, ErrQueueFull
	}

	q.counter++
	position := q.counter
	estimate := (position - 1) * int(q.cfg.AverageJobDuration.Seconds())
	job.PositionInQueue = &position
	job.EstimatedWaitSeconds = &estimate

	q.jobs[job.ID] = job

	metrics.JobsSubmitted.WithLabelValues(string(jobType)).Inc()
	metrics.QueueDepth.Set(float64(len(q.admission)))

	q.logger.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("job_type", string(jobType)),
		zap.Int("position_in_queue", position),
	)

	return job.clone(), nil
}

// Get returns a snapshot of the job. For queued jobs the wait estimate is
// recomputed from the live admission-queue depth; the assigned position is a
// stable ticket number and never changes. The result is re-checked for
// serializability so a poisoned payload degrades into a recorded error
// instead of breaking the response.
func (q *Queue) Get(id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	if job.Status == StatusQueued {
		estimate := len(q.admission) * int(q.cfg.AverageJobDuration.Seconds())
		if estimate < 0 {
			estimate = 0
		}
		job.EstimatedWaitSeconds = &estimate
	}

	if job.Result != nil {
		job.Result = NormalizeResult(job.Result)
		if _, err := json.Marshal(job.Result); err != nil {
			q.logger.Error("job result is not serializable",
				zap.String("job_id", id),
				zap.Error(err),
			)
			job.Result = nil
			job.Error = fmt.Sprintf("Result serialization error: %s", err)
		}
	}

	return job.clone(), nil
}

// Status returns an aggregate snapshot without side effects.
func (q *Queue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	byStatus := map[string]int{
		string(StatusQueued):    0,
		string(StatusRunning):   0,
		string(StatusCompleted): 0,
		string(StatusFailed):    0,
	}
	for _, job := range q.jobs {
		byStatus[string(job.Status)]++
	}

	return QueueStatus{
		QueueSize:     len(q.admission),
		TotalJobs:     len(q.jobs),
		WorkerRunning: q.running,
		JobsByStatus:  byStatus,
	}
}
