package queue

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// sweeperLoop periodically deletes finished jobs that fell out of the
// retention window, bounding memory growth of the otherwise unbounded job
// table.
func (q *Queue) sweeperLoop(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.sweep()
		}
	}
}

// sweep removes every job whose completion predates the retention cutoff.
// Jobs that never reached a terminal state are kept regardless of age.
func (q *Queue) sweep() {
	cutoff := q.now().UTC().Add(-q.cfg.Retention)

	q.mu.Lock()
	removed := 0
	for id, job := range q.jobs {
		if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(q.jobs, id)
			removed++
		}
	}
	q.mu.Unlock()

	if removed > 0 {
		q.logger.Info("cleaned up old jobs", zap.Int("removed", removed))
	}
}
