package service

import "time"

// State is the lifecycle state of a registered service.
type State string

const (
	StatePending  State = "pending"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// Status is the mutable runtime record tracked per registered descriptor.
// AssignedPort may differ from the descriptor's desired port after conflict
// resolution; it is never lower. PID is present only while a process handle
// is tracked.
type Status struct {
	Name         string    `json:"name"`
	State        State     `json:"state"`
	AssignedPort int       `json:"assigned_port,omitempty"`
	PID          int       `json:"pid,omitempty"`
	StartedAt    time.Time `json:"started_at,omitzero"`
	LastError    string    `json:"last_error,omitempty"`
	GroupID      string    `json:"group_id,omitempty"`
	Category     string    `json:"category,omitempty"`
}

// Live reports whether the service should currently have a tracked process.
func (s State) Live() bool { return s == StateStarting || s == StateRunning }

// Terminal reports whether the state is an end state for the current run.
func (s State) Terminal() bool { return s == StateStopped || s == StateFailed }
