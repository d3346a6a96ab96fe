package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/skillbridge/skillbridge/internal/metrics"
	"github.com/skillbridge/skillbridge/internal/utils"
)

// bookkeepingBackoff is the pause after an unexpected error in the loop's own
// bookkeeping, to avoid a hot crash loop.
const bookkeepingBackoff = time.Second

// workerLoop is the single background task that drains the admission queue.
// Jobs are processed strictly in submission order, one at a time; a single
// job's failure never terminates the loop.
func (q *Queue) workerLoop(ctx context.Context) {
	defer q.wg.Done()

	q.logger.Info("job worker started processing")

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("job worker cancelled")
			return
		case id := <-q.admission:
			if err := q.processOne(ctx, id); err != nil {
				q.logger.Error("unexpected error in job worker", zap.Error(err))
				_ = utils.WaitFor(ctx, bookkeepingBackoff)
			}
		}
	}
}

// processOne runs a single job through its lifecycle. The returned error
// covers only the loop's own bookkeeping; handler failures are recorded on
// the job record instead.
func (q *Queue) processOne(ctx context.Context, id string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()

	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		// Should not happen: ids are only enqueued under the same lock that
		// registers the record.
		q.logger.Error("job not found in storage", zap.String("job_id", id))
		return nil
	}

	started := q.now().UTC()
	job.Status = StatusRunning
	job.StartedAt = &started
	job.PositionInQueue = nil
	job.EstimatedWaitSeconds = nil
	jobType := job.Type
	payload := job.Payload
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(len(q.admission)))
	q.logger.Info("processing job", zap.String("job_id", id), zap.String("job_type", string(jobType)))

	result, handlerErr := q.dispatch(ctx, jobType, payload)

	if ctx.Err() != nil && errors.Is(handlerErr, context.Canceled) {
		// Shutdown raced with the in-flight handler. Leaving the final state
		// unset is accepted; the process is going away.
		return nil
	}

	q.mu.Lock()
	completed := q.now().UTC()
	job.CompletedAt = &completed

	switch {
	case handlerErr == nil:
		job.Result = NormalizeResult(result)
		job.Status = StatusCompleted
		q.logger.Info("job completed successfully", zap.String("job_id", id))
	case errors.Is(handlerErr, context.DeadlineExceeded):
		job.Status = StatusFailed
		job.Error = timeoutErrorMessage
		q.logger.Error("job timed out", zap.String("job_id", id))
	default:
		job.Status = StatusFailed
		job.Error = handlerErr.Error()
		q.logger.Error("job failed", zap.String("job_id", id), zap.Error(handlerErr))
	}
	status := job.Status
	q.mu.Unlock()

	metrics.JobsProcessed.WithLabelValues(string(jobType), string(status)).Inc()
	metrics.JobDuration.WithLabelValues(string(jobType)).Observe(completed.Sub(started).Seconds())

	return nil
}

// dispatch invokes the handler registered for the job type under the
// configured timeout. The handler runs in its own goroutine so a stuck
// handler cannot wedge the worker past the deadline.
func (q *Queue) dispatch(ctx context.Context, jobType Type, payload map[string]any) (map[string]any, error) {
	handler, ok := q.handlers[jobType]
	if !ok {
		return nil, fmt.Errorf("unknown job type: %s", jobType)
	}

	ctx, cancel := context.WithTimeout(ctx, q.cfg.JobTimeout)
	defer cancel()

	type outcome struct {
		result map[string]any
		err    error
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		result, err := handler(ctx, payload)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-done:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) {
			return nil, context.DeadlineExceeded
		}
		return out.result, out.err
	}
}
