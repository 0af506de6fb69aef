package automation

import (
	"context"
	"time"
)

// RunState is the persisted outcome of a user's loop.
type RunState struct {
	IsRunning       bool      `json:"is_running"`
	StartedAt       time.Time `json:"started_at,omitempty"`
	LastCheck       time.Time `json:"last_check,omitempty"`
	LastActionCount int       `json:"last_action_count"`
}

type RunStateStore interface {
	// SetRunning marks the loop started (recording at) or stopped.
	SetRunning(ctx context.Context, user string, running bool, at time.Time) error
	RecordCheck(ctx context.Context, user string, at time.Time, actions int) error
	Status(ctx context.Context, user string) (RunState, error)
}
