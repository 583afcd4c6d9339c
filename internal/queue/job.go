package queue

import (
	"encoding/json"
	"time"
)

// Job is one unit of work. Priority is lower-is-more-urgent; ties break by
// enqueue time. Attempt counts executions so far.
type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	EventID     string          `json:"event_id"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	LastError   string          `json:"last_error,omitempty"`
}

// Options tune a single enqueue call. Zero values fall back to queue defaults.
type Options struct {
	Priority    int
	Delay       time.Duration
	MaxAttempts int
}

// FailedJob is the terminal record surfaced on the failure channel and kept
// in the failed retention list.
type FailedJob struct {
	Job
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// CompletedJob is the record kept in the completed retention list.
type CompletedJob struct {
	Job
	CompletedAt time.Time `json:"completed_at"`
}

// Stats reports queue depth by state.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}
