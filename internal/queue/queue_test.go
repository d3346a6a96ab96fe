package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func waitForTerminal(t *testing.T, q *Queue, id string) *Job {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := q.Get(id)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if job.Status.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("job %s never reached a terminal state", id)
	return nil
}

func waitForStatus(t *testing.T, q *Queue, id string, status Status) *Job {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := q.Get(id)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if job.Status == status {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("job %s never reached status %s", id, status)
	return nil
}

func TestSubmitAssignsSequentialPositions(t *testing.T) {
	q := New(Config{Capacity: 50}, nil, zap.NewNop())

	const n = 20
	var wg sync.WaitGroup
	positions := make(chan int, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := q.Submit(TypeCourseRecommendation, map[string]any{})
			if err != nil {
				t.Errorf("submit failed: %v", err)
				return
			}
			if job.PositionInQueue == nil {
				t.Error("queued job has no position")
				return
			}
			positions <- *job.PositionInQueue
		}()
	}
	wg.Wait()
	close(positions)

	seen := make(map[int]bool, n)
	for p := range positions {
		if seen[p] {
			t.Fatalf("duplicate position %d", p)
		}
		seen[p] = true
	}
	for i := 1; i <= n; i++ {
		if !seen[i] {
			t.Fatalf("position %d missing, positions must form {1..%d}", i, n)
		}
	}
}

func TestSubmitRejectsWhenFull(t *testing.T) {
	q := New(Config{Capacity: 2}, nil, zap.NewNop())

	for i := 0; i < 2; i++ {
		if _, err := q.Submit(TypeCourseRecommendation, nil); err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
	}

	_, err := q.Submit(TypeCourseRecommendation, nil)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	if got := q.Status().TotalJobs; got != 2 {
		t.Fatalf("rejected submission must not create a record, total_jobs = %d", got)
	}
}

func TestWorkerProcessesInSubmissionOrder(t *testing.T) {
	var mu sync.Mutex
	var order []int

	handler := func(_ context.Context, payload map[string]any) (map[string]any, error) {
		mu.Lock()
		order = append(order, payload["n"].(int))
		mu.Unlock()
		return map[string]any{"n": payload["n"]}, nil
	}

	q := New(Config{Capacity: 10}, map[Type]Handler{TypeCourseRecommendation: handler}, zap.NewNop())

	ids := make([]string, 0, 3)
	expectedPositions := []int{1, 2, 3}
	for i := 0; i < 3; i++ {
		job, err := q.Submit(TypeCourseRecommendation, map[string]any{"n": i})
		if err != nil {
			t.Fatalf("submit failed: %v", err)
		}
		if *job.PositionInQueue != expectedPositions[i] {
			t.Fatalf("expected position %d, got %d", expectedPositions[i], *job.PositionInQueue)
		}
		ids = append(ids, job.ID)
	}

	q.Start(context.Background())
	defer q.Stop()

	for _, id := range ids {
		job := waitForTerminal(t, q, id)
		if job.Status != StatusCompleted {
			t.Fatalf("job %s expected completed, got %s (%s)", id, job.Status, job.Error)
		}
		if job.StartedAt == nil || job.CompletedAt == nil {
			t.Fatalf("terminal job must carry both timestamps")
		}
		if job.CompletedAt.Before(*job.StartedAt) {
			t.Fatalf("completed_at must not precede started_at")
		}
		if job.PositionInQueue != nil || job.EstimatedWaitSeconds != nil {
			t.Fatalf("position and estimate must be cleared after the job starts")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, n := range order {
		if n != i {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
}

func TestQueuedJobCarriesPositionAndEstimate(t *testing.T) {
	q := New(Config{Capacity: 10, AverageJobDuration: 2 * time.Second}, nil, zap.NewNop())

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		job, err := q.Submit(TypeCourseRecommendation, nil)
		if err != nil {
			t.Fatalf("submit failed: %v", err)
		}
		ids = append(ids, job.ID)
	}

	// The estimate is recomputed from the live queue depth on every poll,
	// while the position stays at its submission-time value.
	job, err := q.Get(ids[0])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.PositionInQueue == nil || *job.PositionInQueue != 1 {
		t.Fatalf("expected stable position 1, got %v", job.PositionInQueue)
	}
	if job.EstimatedWaitSeconds == nil || *job.EstimatedWaitSeconds != 6 {
		t.Fatalf("expected estimate 6s from depth 3, got %v", job.EstimatedWaitSeconds)
	}
}

func TestBlockedJobClearsQueuedFields(t *testing.T) {
	release := make(chan struct{})
	handler := func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		select {
		case <-release:
			return map[string]any{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	q := New(Config{Capacity: 10}, map[Type]Handler{TypeCourseRecommendation: handler}, zap.NewNop())

	job, err := q.Submit(TypeCourseRecommendation, nil)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if job.PositionInQueue == nil || job.EstimatedWaitSeconds == nil {
		t.Fatal("queued job must carry position and estimate")
	}

	q.Start(context.Background())
	defer q.Stop()

	running := waitForStatus(t, q, job.ID, StatusRunning)
	if running.PositionInQueue != nil || running.EstimatedWaitSeconds != nil {
		t.Fatal("running job must not carry position or estimate")
	}
	if running.StartedAt == nil {
		t.Fatal("running job must carry started_at")
	}

	close(release)
	waitForTerminal(t, q, job.ID)
}

func TestJobTimeoutRecordsFixedMessage(t *testing.T) {
	handler := func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	q := New(Config{
		Capacity:   10,
		JobTimeout: 30 * time.Millisecond,
	}, map[Type]Handler{TypeCourseRecommendation: handler}, zap.NewNop())

	job, err := q.Submit(TypeCourseRecommendation, nil)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	q.Start(context.Background())
	defer q.Stop()

	final := waitForTerminal(t, q, job.ID)
	if final.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if final.Error != "Job processing timed out" {
		t.Fatalf("unexpected timeout error text: %q", final.Error)
	}
	if final.Result != nil {
		t.Fatal("failed job must not carry a result")
	}
}

func TestHandlerFailureDoesNotStopWorker(t *testing.T) {
	handler := func(_ context.Context, payload map[string]any) (map[string]any, error) {
		if payload["fail"] == true {
			return nil, fmt.Errorf("collaborator exploded")
		}
		return map[string]any{"ok": true}, nil
	}

	q := New(Config{Capacity: 10}, map[Type]Handler{TypeCourseRecommendation: handler}, zap.NewNop())

	bad, err := q.Submit(TypeCourseRecommendation, map[string]any{"fail": true})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	good, err := q.Submit(TypeCourseRecommendation, map[string]any{})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	q.Start(context.Background())
	defer q.Stop()

	failed := waitForTerminal(t, q, bad.ID)
	if failed.Status != StatusFailed || failed.Error != "collaborator exploded" {
		t.Fatalf("expected recorded failure, got %s (%q)", failed.Status, failed.Error)
	}

	completed := waitForTerminal(t, q, good.ID)
	if completed.Status != StatusCompleted {
		t.Fatalf("worker must survive a failed job, got %s", completed.Status)
	}
	if completed.Error != "" {
		t.Fatalf("completed job must not carry an error, got %q", completed.Error)
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	handler := func(_ context.Context, _ map[string]any) (map[string]any, error) {
		panic("boom")
	}

	q := New(Config{Capacity: 10}, map[Type]Handler{TypeCourseRecommendation: handler}, zap.NewNop())

	job, err := q.Submit(TypeCourseRecommendation, nil)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	q.Start(context.Background())
	defer q.Stop()

	final := waitForTerminal(t, q, job.ID)
	if final.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if final.Error == "" {
		t.Fatal("expected panic to be recorded as the job error")
	}
}

func TestUnknownJobTypeFailsJobNotLoop(t *testing.T) {
	q := New(Config{Capacity: 10}, nil, zap.NewNop())

	job, err := q.Submit(Type("mystery"), nil)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	q.Start(context.Background())
	defer q.Stop()

	final := waitForTerminal(t, q, job.ID)
	if final.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if final.Error != "unknown job type: mystery" {
		t.Fatalf("unexpected error text: %q", final.Error)
	}
}

func TestGetUnknownJob(t *testing.T) {
	q := New(Config{}, nil, zap.NewNop())

	_, err := q.Get("unknown-id")
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}

	if got := q.Status().TotalJobs; got != 0 {
		t.Fatalf("lookup must not create a record, total_jobs = %d", got)
	}
}

func TestSweepRemovesOnlyExpiredTerminalJobs(t *testing.T) {
	q := New(Config{Capacity: 10, Retention: 24 * time.Hour}, nil, zap.NewNop())

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return base }

	expired, err := q.Submit(TypeCourseRecommendation, nil)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	fresh, err := q.Submit(TypeCourseRecommendation, nil)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	pending, err := q.Submit(TypeCourseRecommendation, nil)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	old := base.Add(-25 * time.Hour)
	recent := base.Add(-1 * time.Hour)
	q.mu.Lock()
	q.jobs[expired.ID].Status = StatusCompleted
	q.jobs[expired.ID].CompletedAt = &old
	q.jobs[fresh.ID].Status = StatusFailed
	q.jobs[fresh.ID].CompletedAt = &recent
	q.mu.Unlock()

	q.sweep()

	if _, err := q.Get(expired.ID); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expired job should be swept, got %v", err)
	}
	if _, err := q.Get(fresh.ID); err != nil {
		t.Fatalf("job inside the retention window must be kept: %v", err)
	}
	if _, err := q.Get(pending.ID); err != nil {
		t.Fatalf("job without completed_at must never be swept: %v", err)
	}
}

func TestStatusSnapshot(t *testing.T) {
	q := New(Config{Capacity: 10}, nil, zap.NewNop())

	for i := 0; i < 2; i++ {
		if _, err := q.Submit(TypeCourseRecommendation, nil); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	status := q.Status()
	if status.QueueSize != 2 {
		t.Fatalf("expected queue_size 2, got %d", status.QueueSize)
	}
	if status.TotalJobs != 2 {
		t.Fatalf("expected total_jobs 2, got %d", status.TotalJobs)
	}
	if status.WorkerRunning {
		t.Fatal("worker must not be reported as running before Start")
	}
	if status.JobsByStatus[string(StatusQueued)] != 2 {
		t.Fatalf("expected 2 queued jobs, got %v", status.JobsByStatus)
	}
	if status.JobsByStatus[string(StatusCompleted)] != 0 {
		t.Fatalf("expected completed bucket present and zero, got %v", status.JobsByStatus)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	q := New(Config{Capacity: 10}, nil, zap.NewNop())

	q.Start(context.Background())
	if !q.Status().WorkerRunning {
		t.Fatal("worker should be running after Start")
	}

	q.Stop()
	q.Stop()

	if q.Status().WorkerRunning {
		t.Fatal("worker should not be running after Stop")
	}
}
