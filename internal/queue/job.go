package queue

import "time"

// Status describes where a job is in its lifecycle.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is final. Terminal jobs are immutable
// and eventually removed by the retention sweeper.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Type identifies the kind of work a job carries. The set of types is closed;
// a handler must be registered for every type the queue accepts.
type Type string

const (
	TypeCourseRecommendation Type = "course_recommendation"
)

// ParseType validates a wire-level job type string.
func ParseType(s string) (Type, bool) {
	switch Type(s) {
	case TypeCourseRecommendation:
		return Type(s), true
	}
	return "", false
}

// Job is one submitted unit of work and its lifecycle state.
//
// PositionInQueue and EstimatedWaitSeconds are set while the job is queued and
// cleared once it starts running. Result and Error are mutually exclusive and
// populated only on a terminal transition.
type Job struct {
	ID                   string         `json:"id"`
	Type                 Type           `json:"type"`
	Status               Status         `json:"status"`
	Payload              map[string]any `json:"payload,omitempty"`
	Result               map[string]any `json:"result,omitempty"`
	Error                string         `json:"error,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	StartedAt            *time.Time     `json:"started_at,omitempty"`
	CompletedAt          *time.Time     `json:"completed_at,omitempty"`
	PositionInQueue      *int           `json:"position_in_queue,omitempty"`
	EstimatedWaitSeconds *int           `json:"estimated_wait_seconds,omitempty"`
}

// clone returns a snapshot safe to hand to callers while the worker keeps
// mutating the stored record.
func (j *Job) clone() *Job {
	if j == nil {
		return nil
	}

	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.PositionInQueue != nil {
		v := *j.PositionInQueue
		c.PositionInQueue = &v
	}
	if j.EstimatedWaitSeconds != nil {
		v := *j.EstimatedWaitSeconds
		c.EstimatedWaitSeconds = &v
	}

	return &c
}
