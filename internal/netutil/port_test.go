package netutil

import (
	"errors"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquirePortReturnsDesiredWhenFree(t *testing.T) {
	// Grab an ephemeral port the OS considers free, release it, then acquire.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	desired := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	got, err := AcquirePort(desired)
	require.NoError(t, err)
	require.Equal(t, desired, got)
}

func TestAcquirePortSkipsOccupied(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	desired := ln.Addr().(*net.TCPAddr).Port

	got, err := AcquirePort(desired)
	require.NoError(t, err)
	require.Greater(t, got, desired)
	require.LessOrEqual(t, got, desired+PortWindow)
}

func TestAcquirePortNeverBelowDesired(t *testing.T) {
	for _, desired := range []int{20000, 30500, 45000} {
		got, err := AcquirePort(desired)
		require.NoError(t, err)
		require.GreaterOrEqual(t, got, desired)
	}
}

func TestAcquirePortExhaustedWindow(t *testing.T) {
	if testing.Short() {
		t.Skip("binds 101 listeners")
	}
	base := 41500
	listeners := make([]net.Listener, 0, PortWindow+1)
	defer func() {
		for _, l := range listeners {
			_ = l.Close()
		}
	}()
	for p := base; p <= base+PortWindow; p++ {
		l, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(p))
		if err != nil {
			t.Skipf("port %d already in use on this host", p)
		}
		listeners = append(listeners, l)
	}

	_, err := AcquirePort(base)
	require.Error(t, err)
	var ae *AcquisitionError
	require.True(t, errors.As(err, &ae))
	require.Equal(t, base, ae.Desired)
}
