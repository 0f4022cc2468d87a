// Package work tracks asynchronous tasks so they can be observed and joined.
// Every analysis dispatch runs as a work item: it has an ID, a lifecycle and
// a place in the recently-completed ring once done.
//
// Logging: All state changes are logged via internal/logging.
package work

import (
	"fmt"
	"time"

	"github.com/abelbrown/ecgmon/internal/logging"
)

// Status represents the lifecycle state of a work item.
type Status string

const (
	StatusPending  Status = "pending"  // Submitted, waiting for an in-flight slot
	StatusActive   Status = "active"   // Running
	StatusComplete Status = "complete" // Finished successfully
	StatusFailed   Status = "failed"   // Finished with error
	StatusCanceled Status = "canceled" // Stopped by shutdown
)

// Item represents a unit of async work.
type Item struct {
	ID          string `json:"id"`
	Description string `json:"description"` // "analyze batch 3"
	Status      Status `json:"status"`

	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`

	Err string `json:"error,omitempty"`
}

// Duration returns how long the work ran (or has been running).
func (i *Item) Duration() time.Duration {
	if i.StartedAt.IsZero() {
		return 0
	}
	if i.FinishedAt.IsZero() {
		return time.Since(i.StartedAt)
	}
	return i.FinishedAt.Sub(i.StartedAt)
}

// Stats tracks pool metrics.
type Stats struct {
	TotalCreated   int64 `json:"created"`
	TotalCompleted int64 `json:"completed"`
	TotalFailed    int64 `json:"failed"`
	TotalCanceled  int64 `json:"canceled"`
	Active         int   `json:"active"`
	Pending        int   `json:"pending"`
	Limit          int   `json:"limit"` // 0 = unlimited
}

// String returns a summary string for stats.
func (s Stats) String() string {
	return fmt.Sprintf("Active: %d  Pending: %d  Done: %d  Failed: %d  Canceled: %d",
		s.Active, s.Pending, s.TotalCompleted, s.TotalFailed, s.TotalCanceled)
}

// logTransition logs a state change for item.
func logTransition(item Item) {
	switch item.Status {
	case StatusPending:
		logging.Debug("Work created", "id", item.ID, "desc", item.Description)
	case StatusActive:
		logging.Debug("Work started", "id", item.ID, "desc", item.Description)
	case StatusComplete:
		logging.Info("Work completed",
			"id", item.ID,
			"desc", item.Description,
			"duration", item.Duration())
	case StatusFailed:
		logging.Error("Work failed",
			"id", item.ID,
			"desc", item.Description,
			"error", item.Err,
			"duration", item.Duration())
	case StatusCanceled:
		logging.Warn("Work canceled", "id", item.ID, "desc", item.Description)
	}
}
