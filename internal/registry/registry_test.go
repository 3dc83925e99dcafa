package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orpheus-engine/conductor/internal/service"
)

func desc(name string) service.Descriptor {
	return service.Descriptor{Name: name, Command: "sleep", Args: []string{"30"}}
}

func TestAddCreatesPendingStatus(t *testing.T) {
	r := New()
	e, err := r.Add(desc("backend"))
	require.NoError(t, err)

	st := e.Snapshot()
	require.Equal(t, "backend", st.Name)
	require.Equal(t, service.StatePending, st.State)
	require.Equal(t, 0, st.PID)
}

func TestAddRejectsInvalidDescriptor(t *testing.T) {
	r := New()
	_, err := r.Add(service.Descriptor{Name: "backend"}) // no command
	require.Error(t, err)
	require.Equal(t, 0, r.Len())
}

func TestReRegisterReplacesDeadEntry(t *testing.T) {
	r := New()
	e, err := r.Add(desc("backend"))
	require.NoError(t, err)
	e.Update(func(st *service.Status) {
		st.State = service.StateFailed
		st.LastError = "exploded"
	})

	e2, err := r.Add(desc("backend"))
	require.NoError(t, err)
	st := e2.Snapshot()
	require.Equal(t, service.StatePending, st.State)
	require.Empty(t, st.LastError, "re-registration must reset the status")
	require.Equal(t, 1, r.Len())
}

func TestReRegisterLiveEntryFails(t *testing.T) {
	r := New()
	e, err := r.Add(desc("backend"))
	require.NoError(t, err)
	e.Update(func(st *service.Status) { st.State = service.StateRunning })

	_, err = r.Add(desc("backend"))
	require.Error(t, err)
}

func TestRemove(t *testing.T) {
	r := New()
	_, err := r.Add(desc("backend"))
	require.NoError(t, err)

	require.True(t, r.Remove("backend"))
	require.Nil(t, r.Get("backend"))
	require.False(t, r.Remove("backend"))
	require.Empty(t, r.List())
}

func TestListRegistrationOrder(t *testing.T) {
	r := New()
	names := []string{"backend", "frontend", "audio-helper"}
	for _, n := range names {
		_, err := r.Add(desc(n))
		require.NoError(t, err)
	}

	var got []string
	for _, e := range r.List() {
		got = append(got, e.Descriptor().Name)
	}
	require.Equal(t, names, got)

	// Re-registering a dead entry keeps its original position.
	_, err := r.Add(desc("backend"))
	require.NoError(t, err)
	got = got[:0]
	for _, e := range r.List() {
		got = append(got, e.Descriptor().Name)
	}
	require.Equal(t, names, got)
}

func TestGroup(t *testing.T) {
	r := New()
	a := desc("plugin-a")
	a.GroupID = "synth"
	b := desc("plugin-b")
	b.GroupID = "synth"
	_, err := r.Add(a)
	require.NoError(t, err)
	_, err = r.Add(desc("backend"))
	require.NoError(t, err)
	_, err = r.Add(b)
	require.NoError(t, err)

	members := r.Group("synth")
	require.Len(t, members, 2)
	require.Equal(t, "plugin-a", members[0].Descriptor().Name)
	require.Equal(t, "plugin-b", members[1].Descriptor().Name)
	require.Nil(t, r.Group(""))
}

func TestUpdateNotifyOnlyOnChange(t *testing.T) {
	r := New()
	e, err := r.Add(desc("backend"))
	require.NoError(t, err)

	notified := 0
	e.UpdateNotify(func(st *service.Status) bool {
		st.State = service.StateStarting
		return true
	}, func(service.Status) { notified++ })
	e.UpdateNotify(func(st *service.Status) bool {
		return false // no change
	}, func(service.Status) { notified++ })

	require.Equal(t, 1, notified)
	require.Equal(t, service.StateStarting, e.Snapshot().State)
}

func TestClearHandleIfGuardsStaleWatcher(t *testing.T) {
	r := New()
	e, err := r.Add(desc("backend"))
	require.NoError(t, err)

	h := &service.Handle{}
	e.SetHandle(h)
	stale := &service.Handle{}
	require.False(t, e.ClearHandleIf(stale))
	require.NotNil(t, e.Handle())
	require.True(t, e.ClearHandleIf(h))
	require.Nil(t, e.Handle())
}

func TestDescriptorCopyDoesNotAlias(t *testing.T) {
	r := New()
	d := desc("backend")
	d.Env = map[string]string{"KEY": "v1"}
	e, err := r.Add(d)
	require.NoError(t, err)

	got := e.Descriptor()
	got.Env["KEY"] = "mutated"
	require.Equal(t, "v1", e.Descriptor().Env["KEY"])
}
