// Package supervisor drives registered services through their lifecycle:
// port allocation, spawn, readiness polling, exit monitoring and
// graceful-then-forced teardown. It owns the registry and is the only writer
// of status records.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/orpheus-engine/conductor/internal/env"
	"github.com/orpheus-engine/conductor/internal/metrics"
	"github.com/orpheus-engine/conductor/internal/netutil"
	"github.com/orpheus-engine/conductor/internal/readiness"
	"github.com/orpheus-engine/conductor/internal/registry"
	"github.com/orpheus-engine/conductor/internal/service"
)

// Policy selects bulk-start behavior when a critical service fails.
type Policy string

const (
	// PolicyAbort stops the bulk start at the first critical failure; no
	// further descriptors are attempted. This is the default.
	PolicyAbort Policy = "abort"
	// PolicyContinue attempts every descriptor regardless and reports the
	// first critical failure afterwards.
	PolicyContinue Policy = "continue"
)

// Options configures a Supervisor. Zero values fall back to sane defaults.
type Options struct {
	Logger              *slog.Logger
	Checker             readiness.Checker
	Policy              Policy
	ParallelNonCritical bool // start runs of non-critical services concurrently
	Env                 *env.Env
}

// Supervisor composes the port prober, readiness checker and process handles
// over a registry of service descriptors.
type Supervisor struct {
	log      *slog.Logger
	reg      *registry.Registry
	bus      *bus
	env      *env.Env
	checker  readiness.Checker
	policy   Policy
	parallel bool
}

func New(opts Options) *Supervisor {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	e := opts.Env
	if e == nil {
		e = env.New()
	}
	pol := opts.Policy
	if pol == "" {
		pol = PolicyAbort
	}
	return &Supervisor{
		log:      log,
		reg:      registry.New(),
		bus:      newBus(),
		env:      e,
		checker:  opts.Checker,
		policy:   pol,
		parallel: opts.ParallelNonCritical,
	}
}

// AddSink attaches a synchronous event sink (store journal, metrics bridge,
// SSE hub). Sinks see every event in emission order.
func (s *Supervisor) AddSink(sink Sink) { s.bus.addSink(sink) }

// Subscribe returns a buffered event channel and its cancel function.
func (s *Supervisor) Subscribe() (<-chan Event, func()) { return s.bus.subscribe() }

// SetGlobalEnv sets variables applied to every service's spawn environment.
func (s *Supervisor) SetGlobalEnv(vars map[string]string) {
	for k, v := range vars {
		s.env.Set(k, v)
	}
}

// Register adds a descriptor to the registry with a fresh Pending status.
func (s *Supervisor) Register(d service.Descriptor) error {
	e, err := s.reg.Add(d)
	if err != nil {
		return err
	}
	s.emitStatusSnapshot(e.Snapshot())
	return nil
}

// Start drives one registered service to Running.
func (s *Supervisor) Start(ctx context.Context, name string) error {
	e := s.reg.Get(name)
	if e == nil {
		return fmt.Errorf("unknown service: %s", name)
	}
	return s.startEntry(ctx, e)
}

// StartAll starts every registered service in registration order. A critical
// failure aborts the remaining attempts under PolicyAbort and is returned to
// the caller; non-critical failures are recorded on their status and skipped
// over. The startup-complete event fires only when no critical failure
// occurred.
func (s *Supervisor) StartAll(ctx context.Context) error {
	s.bus.emit(Event{Type: EventStartupBegin})
	entries := s.reg.List()

	var criticalErr error
	if s.parallel {
		criticalErr = s.startAllParallel(ctx, entries)
	} else {
		for _, e := range entries {
			err := s.startEntry(ctx, e)
			if err == nil {
				continue
			}
			if e.Descriptor().Critical {
				if s.policy == PolicyAbort {
					return err
				}
				if criticalErr == nil {
					criticalErr = err
				}
			}
			// non-critical failure already recorded on the status; move on
		}
	}
	if criticalErr != nil {
		return criticalErr
	}
	s.bus.emit(Event{Type: EventStartupComplete})
	return nil
}

// startAllParallel starts runs of consecutive non-critical services
// concurrently, synchronizing before each critical one so the abort
// guarantee and registration order of critical services are preserved.
func (s *Supervisor) startAllParallel(ctx context.Context, entries []*registry.Entry) error {
	var criticalErr error
	var wg sync.WaitGroup
	flush := func() { wg.Wait() }
	for _, e := range entries {
		d := e.Descriptor()
		if !d.Critical {
			wg.Add(1)
			go func(e *registry.Entry) {
				defer wg.Done()
				_ = s.startEntry(ctx, e) // recorded on status
			}(e)
			continue
		}
		flush()
		if err := s.startEntry(ctx, e); err != nil {
			if s.policy == PolicyAbort {
				flush()
				return err
			}
			if criticalErr == nil {
				criticalErr = err
			}
		}
	}
	flush()
	return criticalErr
}

// startEntry is the single-service start routine of §4.3: Starting →
// port allocation → spawn → readiness → Running, with failures recorded on
// the status record.
func (s *Supervisor) startEntry(ctx context.Context, e *registry.Entry) error {
	d := e.Descriptor()
	if e.Snapshot().State.Live() {
		return nil // already starting or running
	}
	if h := e.Handle(); h != nil {
		// A run that failed readiness leaves its process live and tracked.
		// Untrack it first so its exit watcher stands down, then reap it
		// before spawning a replacement.
		e.ClearHandleIf(h)
		h.Stop(d.StopGraceOrDefault())
		e.Update(func(st *service.Status) { st.PID = 0 })
		s.log.Info("reaped leftover process", "service", d.Name)
	}
	e.SetStopRequested(false)

	s.transition(e, func(st *service.Status) bool {
		st.State = service.StateStarting
		st.StartedAt = time.Now()
		st.LastError = ""
		st.AssignedPort = 0
		st.PID = 0
		return true
	})

	port := 0
	extras := env.Var{}
	if d.Port > 0 {
		p, err := netutil.AcquirePort(d.Port)
		if err != nil {
			return s.fail(e, d.Name, "port", err)
		}
		port = p
		e.Update(func(st *service.Status) { st.AssignedPort = port })
		extras[d.PortEnvKey()] = strconv.Itoa(port)
		s.log.Debug("port acquired", "service", d.Name, "desired", d.Port, "assigned", port)
	}

	environ := s.env.Merge(env.Var(d.Env), extras)
	h, err := service.Launch(d, environ, s.log)
	if err != nil {
		return s.fail(e, d.Name, "spawn", err)
	}
	e.SetHandle(h)
	e.Update(func(st *service.Status) { st.PID = h.PID() })
	go s.watchExit(e, h, d)
	s.log.Info("service spawned", "service", d.Name, "pid", h.PID(), "port", port)

	waitStart := time.Now()
	err = s.checker.Wait(ctx, readiness.Target{Descriptor: d, Port: port})
	metrics.ObserveReadinessWait(d.Name, time.Since(waitStart).Seconds())
	if err != nil {
		// The wait is terminated, not the process: the handle stays tracked
		// so a later stop can reap it.
		metrics.IncFailure(d.Name, "readiness")
		s.transition(e, func(st *service.Status) bool {
			st.State = service.StateFailed
			st.LastError = err.Error()
			return true
		})
		return err
	}

	var running bool
	st := s.transition(e, func(st *service.Status) bool {
		if st.State != service.StateStarting {
			return false // exit watcher already wrote a terminal state
		}
		st.State = service.StateRunning
		running = true
		return true
	})
	if !running {
		return fmt.Errorf("service %s exited during startup: %s", d.Name, st.LastError)
	}
	metrics.IncStart(d.Name)
	s.log.Info("service running", "service", d.Name, "pid", st.PID, "port", st.AssignedPort)
	return nil
}

// watchExit reaps a spawned process and resolves its terminal status. An
// explicit stop wins over the watcher's determination when both race; the
// write is idempotent and last-writer-wins by design.
func (s *Supervisor) watchExit(e *registry.Entry, h *service.Handle, d service.Descriptor) {
	<-h.Done()
	if !e.ClearHandleIf(h) {
		return // a newer run owns this entry
	}
	code := h.ExitCode()
	stopRequested := e.StopRequested()
	s.transition(e, func(st *service.Status) bool {
		st.PID = 0
		if stopRequested {
			if st.State == service.StateStopped {
				return false // explicit stop already recorded the transition
			}
			st.State = service.StateStopped
			return true
		}
		if !st.State.Live() {
			return false
		}
		if code == 0 {
			st.State = service.StateStopped
		} else {
			st.State = service.StateFailed
			st.LastError = (&service.ExitError{Name: d.Name, Code: code}).Error()
			metrics.IncFailure(d.Name, "exit")
		}
		return true
	})
	if !stopRequested {
		s.log.Warn("service exited unexpectedly", "service", d.Name, "code", code)
	}
}

// Stop terminates one service: graceful signal, bounded grace wait, forced
// kill. The handle is untracked unconditionally once the sequence completes.
func (s *Supervisor) Stop(name string) error {
	e := s.reg.Get(name)
	if e == nil {
		return fmt.Errorf("unknown service: %s", name)
	}
	s.stopEntry(e)
	return nil
}

// StopAll tears down every live service. Independent services stop in
// parallel; the call returns when all stop sequences have completed.
func (s *Supervisor) StopAll() {
	var wg sync.WaitGroup
	for _, e := range s.reg.List() {
		wg.Add(1)
		go func(e *registry.Entry) {
			defer wg.Done()
			s.stopEntry(e)
		}(e)
	}
	wg.Wait()
}

func (s *Supervisor) stopEntry(e *registry.Entry) {
	e.SetStopRequested(true)
	h := e.Handle()
	d := e.Descriptor()

	// Optimistic Stopped write; the exit watcher's determination may race
	// with this and the result is last-writer-wins (documented).
	s.transition(e, func(st *service.Status) bool {
		if st.State == service.StateStopped && st.PID == 0 {
			return false
		}
		st.State = service.StateStopped
		return true
	})

	if h != nil {
		h.Stop(d.StopGraceOrDefault())
		e.ClearHandleIf(h)
		e.Update(func(st *service.Status) { st.PID = 0 })
		metrics.IncStop(d.Name)
		s.log.Info("service stopped", "service", d.Name)
	}
}

// Restart stops a service and starts it again with a fresh status record.
func (s *Supervisor) Restart(ctx context.Context, name string) error {
	e := s.reg.Get(name)
	if e == nil {
		return fmt.Errorf("unknown service: %s", name)
	}
	s.stopEntry(e)
	if err := s.Register(e.Descriptor()); err != nil {
		return err
	}
	return s.Start(ctx, name)
}

// Status returns the status record for name.
func (s *Supervisor) Status(name string) (service.Status, bool) {
	e := s.reg.Get(name)
	if e == nil {
		return service.Status{}, false
	}
	return e.Snapshot(), true
}

// Statuses returns all status records in registration order.
func (s *Supervisor) Statuses() []service.Status {
	entries := s.reg.List()
	out := make([]service.Status, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Snapshot())
	}
	return out
}

// transition applies fn under the entry lock and emits a status-change event
// in the same critical section, so per-service events are totally ordered.
func (s *Supervisor) transition(e *registry.Entry, fn func(*service.Status) bool) service.Status {
	states := []service.State{
		service.StatePending, service.StateStarting, service.StateRunning,
		service.StateStopped, service.StateFailed,
	}
	return e.UpdateNotify(fn, func(st service.Status) {
		snap := st
		for _, state := range states {
			metrics.SetCurrentState(snap.Name, string(state), state == snap.State)
		}
		s.bus.emit(Event{Type: EventStatusChange, Status: &snap})
	})
}

func (s *Supervisor) emitStatusSnapshot(st service.Status) {
	snap := st
	s.bus.emit(Event{Type: EventStatusChange, Status: &snap})
}

func (s *Supervisor) fail(e *registry.Entry, name, reason string, err error) error {
	metrics.IncFailure(name, reason)
	s.transition(e, func(st *service.Status) bool {
		st.State = service.StateFailed
		st.LastError = err.Error()
		st.PID = 0
		return true
	})
	s.log.Error("service start failed", "service", name, "reason", reason, "error", err)
	return err
}
