// Package run persists generation runs and executes them one at a
// time in the background.
package run

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Run is one queued generation pass over a plan. The plan's segments
// are stored separately and reloaded when the run is picked up, which
// lets a restart see exactly where an interrupted run got to.
type Run struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	FPS       float64   `json:"fps"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	Log       []string  `json:"log,omitempty"`
	LastVideo string    `json:"last_video,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewID() string {
	return uuid.NewString()
}

// IsTerminal reports whether the run can no longer change state.
func (r *Run) IsTerminal() bool {
	switch r.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}
