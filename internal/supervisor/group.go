package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/orpheus-engine/conductor/internal/readiness"
	"github.com/orpheus-engine/conductor/internal/service"
)

// Plugin-provided services register under a group id so one extension's
// processes can be torn down together without touching system services.

// StartForGroup registers d under groupID and starts it. Group services are
// never critical: a plugin backend that fails to start must not take the
// workstation down with it.
func (s *Supervisor) StartForGroup(ctx context.Context, groupID string, d service.Descriptor) error {
	if groupID == "" {
		return fmt.Errorf("group id is required")
	}
	d.GroupID = groupID
	d.Critical = false
	if err := s.Register(d); err != nil {
		return err
	}
	if err := s.Start(ctx, d.Name); err != nil {
		return err
	}
	s.bus.emit(Event{Type: EventGroupServiceStarted, GroupID: groupID, Name: d.Name})
	return nil
}

// StopForGroup stops every service carrying groupID and removes their
// descriptors and statuses from the registry entirely.
func (s *Supervisor) StopForGroup(groupID string) {
	for _, e := range s.reg.Group(groupID) {
		name := e.Descriptor().Name
		s.stopEntry(e)
		s.reg.Remove(name)
		s.bus.emit(Event{Type: EventGroupServiceStopped, GroupID: groupID, Name: name})
	}
}

// GroupStatuses returns status records for every service in the group, in
// registration order.
func (s *Supervisor) GroupStatuses(groupID string) []service.Status {
	entries := s.reg.Group(groupID)
	out := make([]service.Status, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Snapshot())
	}
	return out
}

// IsGroupHealthy reports whether every service in the group is Running and,
// for each that declares a health check, whether the check passes right now.
// An empty group is unhealthy: no services implies not running.
func (s *Supervisor) IsGroupHealthy(ctx context.Context, groupID string) bool {
	entries := s.reg.Group(groupID)
	if len(entries) == 0 {
		return false
	}
	for _, e := range entries {
		if e.Snapshot().State != service.StateRunning {
			return false
		}
		d := e.Descriptor()
		check := d.Health
		if check == nil && d.HealthURL != "" {
			check = readiness.HTTPCheck(d.HealthURL)
		}
		if check == nil {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		ok, err := check(cctx)
		cancel()
		if err != nil || !ok {
			return false
		}
	}
	return true
}
