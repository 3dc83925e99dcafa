package service

import "fmt"

// SpawnError wraps a failure to launch a service's process.
type SpawnError struct {
	Name    string
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("service %s: spawn %q: %v", e.Name, e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExitError records an unexpected nonzero exit of a tracked process.
type ExitError struct {
	Name string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("service %s exited with code %d", e.Name, e.Code)
}
