package models

import (
	"time"
)

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseLoading   Phase = "loading"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
)

// State is the caption workflow state of one session.
type State struct {
	Phase     Phase     `json:"phase"`
	Image     string    `json:"image,omitempty"`
	Caption   string    `json:"caption,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IdleState is the state of a session that has not submitted anything yet.
func IdleState() State {
	return State{Phase: PhaseIdle}
}

func (s State) Loading() bool {
	return s.Phase == PhaseLoading
}

// Terminal reports whether the state is a final outcome of a request.
func (s State) Terminal() bool {
	return s.Phase == PhaseSucceeded || s.Phase == PhaseFailed
}
