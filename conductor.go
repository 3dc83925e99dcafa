// Package conductor supervises the external service processes of an Orpheus
// Engine workstation: it allocates ports, launches processes, waits for
// readiness, tracks status, streams lifecycle events and tears everything
// down again. This package is the embedding surface; the conductor binary in
// cmd/conductor wraps it with a config file, an HTTP API and metrics.
package conductor

import (
	"context"
	"log/slog"

	"github.com/orpheus-engine/conductor/internal/env"
	"github.com/orpheus-engine/conductor/internal/logger"
	"github.com/orpheus-engine/conductor/internal/readiness"
	"github.com/orpheus-engine/conductor/internal/service"
	"github.com/orpheus-engine/conductor/internal/store"
	"github.com/orpheus-engine/conductor/internal/store/factory"
	"github.com/orpheus-engine/conductor/internal/supervisor"
)

// Re-exported types; the internal packages carry the implementation.
type (
	Descriptor  = service.Descriptor
	HealthCheck = service.HealthCheck
	Status      = service.Status
	State       = service.State

	Event     = supervisor.Event
	EventType = supervisor.EventType
	Sink      = supervisor.Sink
	SinkFunc  = supervisor.SinkFunc
	Policy    = supervisor.Policy

	LogConfig = logger.Config

	Store  = store.Store
	Record = store.Record
)

const (
	StatePending  = service.StatePending
	StateStarting = service.StateStarting
	StateRunning  = service.StateRunning
	StateStopped  = service.StateStopped
	StateFailed   = service.StateFailed

	PolicyAbort    = supervisor.PolicyAbort
	PolicyContinue = supervisor.PolicyContinue

	EventStartupBegin        = supervisor.EventStartupBegin
	EventStatusChange        = supervisor.EventStatusChange
	EventStartupComplete     = supervisor.EventStartupComplete
	EventGroupServiceStarted = supervisor.EventGroupServiceStarted
	EventGroupServiceStopped = supervisor.EventGroupServiceStopped
)

// Options configures a Conductor.
type Options struct {
	Logger *slog.Logger
	// Policy selects bulk-start behavior on a critical failure. Default abort.
	Policy Policy
	// ParallelNonCritical starts runs of non-critical services concurrently.
	ParallelNonCritical bool
	// Env is applied to every service's spawn environment.
	Env map[string]string
	// StoreDSN enables the transition journal: a postgres:// URL or a SQLite
	// file path. Empty disables journaling.
	StoreDSN string
}

// Conductor is the embedding facade over the supervisor and, when configured,
// the transition journal.
type Conductor struct {
	sup *supervisor.Supervisor
	st  store.Store
}

// New builds a Conductor. When a store DSN is configured the journal is
// opened, its schema ensured, and a sink attached that records every
// status-change event.
func New(opts Options) (*Conductor, error) {
	sup := supervisor.New(supervisor.Options{
		Logger:              opts.Logger,
		Policy:              opts.Policy,
		ParallelNonCritical: opts.ParallelNonCritical,
		Env:                 env.New(),
	})
	if len(opts.Env) > 0 {
		sup.SetGlobalEnv(opts.Env)
	}

	c := &Conductor{sup: sup}
	if opts.StoreDSN != "" {
		st, err := factory.Open(opts.StoreDSN)
		if err != nil {
			return nil, err
		}
		if err := st.EnsureSchema(context.Background()); err != nil {
			_ = st.Close()
			return nil, err
		}
		c.st = st
		sup.AddSink(journalSink(st))
	}
	return c, nil
}

// journalSink records status-change events into the transition journal.
// Store writes happen on the transition path; both backends are local and
// fast, and an insert failure must not block supervision.
func journalSink(st store.Store) Sink {
	return SinkFunc(func(e Event) {
		if e.Type != EventStatusChange || e.Status == nil {
			return
		}
		_ = st.RecordTransition(context.Background(), store.Record{
			Service:   e.Status.Name,
			State:     string(e.Status.State),
			Port:      e.Status.AssignedPort,
			PID:       e.Status.PID,
			LastError: e.Status.LastError,
			At:        e.At,
		})
	})
}

// Register adds a service descriptor with a fresh pending status.
func (c *Conductor) Register(d Descriptor) error { return c.sup.Register(d) }

// Start drives one registered service to running.
func (c *Conductor) Start(ctx context.Context, name string) error { return c.sup.Start(ctx, name) }

// StartAll starts every registered service in registration order.
func (c *Conductor) StartAll(ctx context.Context) error { return c.sup.StartAll(ctx) }

// Stop terminates one service, gracefully then forcefully.
func (c *Conductor) Stop(name string) error { return c.sup.Stop(name) }

// StopAll tears down every live service and waits for completion.
func (c *Conductor) StopAll() { c.sup.StopAll() }

// Restart stops a service and starts it again with a fresh status record.
func (c *Conductor) Restart(ctx context.Context, name string) error {
	return c.sup.Restart(ctx, name)
}

// Status returns the status record for one service.
func (c *Conductor) Status(name string) (Status, bool) { return c.sup.Status(name) }

// Statuses returns all status records in registration order.
func (c *Conductor) Statuses() []Status { return c.sup.Statuses() }

// StartForGroup registers d under groupID and starts it. Group services are
// always non-critical.
func (c *Conductor) StartForGroup(ctx context.Context, groupID string, d Descriptor) error {
	return c.sup.StartForGroup(ctx, groupID, d)
}

// StopForGroup stops every service in the group and removes them entirely.
func (c *Conductor) StopForGroup(groupID string) { c.sup.StopForGroup(groupID) }

// GroupStatuses returns status records for every service in the group.
func (c *Conductor) GroupStatuses(groupID string) []Status { return c.sup.GroupStatuses(groupID) }

// IsGroupHealthy reports whether every service in the group is running and
// passing its health check. An empty group is unhealthy.
func (c *Conductor) IsGroupHealthy(ctx context.Context, groupID string) bool {
	return c.sup.IsGroupHealthy(ctx, groupID)
}

// SetGlobalEnv merges variables into every future spawn environment.
func (c *Conductor) SetGlobalEnv(vars map[string]string) { c.sup.SetGlobalEnv(vars) }

// AddSink attaches a synchronous event sink.
func (c *Conductor) AddSink(s Sink) { c.sup.AddSink(s) }

// Subscribe returns a buffered lifecycle event channel and its cancel func.
func (c *Conductor) Subscribe() (<-chan Event, func()) { return c.sup.Subscribe() }

// Supervisor exposes the underlying supervisor for the HTTP layer.
func (c *Conductor) Supervisor() *supervisor.Supervisor { return c.sup }

// StoreHandle returns the transition journal, or nil when none is configured.
func (c *Conductor) StoreHandle() Store { return c.st }

// Close releases the journal. Live services are not touched; call StopAll
// first for a full shutdown.
func (c *Conductor) Close() error {
	if c.st != nil {
		return c.st.Close()
	}
	return nil
}

// HTTPCheck builds a health check that treats any 2xx GET response as ready.
func HTTPCheck(url string) HealthCheck { return readiness.HTTPCheck(url) }
