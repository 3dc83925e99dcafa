package readiness

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orpheus-engine/conductor/internal/service"
)

func fastDesc(name string) service.Descriptor {
	return service.Descriptor{
		Name:         name,
		Command:      "true",
		ReadyTimeout: 400 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
	}
}

func TestHealthCheckReadyOnSecondAttempt(t *testing.T) {
	var calls atomic.Int32
	d := fastDesc("flaky")
	d.Health = func(ctx context.Context) (bool, error) {
		return calls.Add(1) >= 2, nil
	}

	err := Checker{}.Wait(context.Background(), Target{Descriptor: d})
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load(), "must not report ready before the second poll")
}

func TestHealthCheckErrorsAreNotReady(t *testing.T) {
	var calls atomic.Int32
	d := fastDesc("broken")
	d.Health = func(ctx context.Context) (bool, error) {
		calls.Add(1)
		return false, errors.New("connection refused")
	}

	err := Checker{}.Wait(context.Background(), Target{Descriptor: d})
	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	require.Equal(t, "broken", te.Name)
	require.GreaterOrEqual(t, te.Attempts, 2)
	require.EqualValues(t, te.Attempts, calls.Load())
}

func TestTimeoutNotBeforeDeadline(t *testing.T) {
	d := fastDesc("never")
	d.Health = func(ctx context.Context) (bool, error) { return false, nil }

	start := time.Now()
	err := Checker{}.Wait(context.Background(), Target{Descriptor: d})
	require.Error(t, err)
	require.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestNoTimeoutBeforeFullDeadline(t *testing.T) {
	// Poll interval deliberately close to the timeout: the last sleep is
	// clamped to the deadline instead of giving up an interval early.
	d := service.Descriptor{
		Name:         "coarse",
		Command:      "true",
		ReadyTimeout: 500 * time.Millisecond,
		PollInterval: 400 * time.Millisecond,
	}
	d.Health = func(ctx context.Context) (bool, error) { return false, nil }

	start := time.Now()
	err := Checker{}.Wait(context.Background(), Target{Descriptor: d})
	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	require.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
}

func TestFinalAttemptHappensAtDeadline(t *testing.T) {
	// Attempts land at 0ms, 400ms, then the clamped 500ms deadline; a check
	// that succeeds on the third call must still be seen as ready.
	var calls atomic.Int32
	d := service.Descriptor{
		Name:         "latecomer",
		Command:      "true",
		ReadyTimeout: 500 * time.Millisecond,
		PollInterval: 400 * time.Millisecond,
	}
	d.Health = func(ctx context.Context) (bool, error) {
		return calls.Add(1) >= 3, nil
	}

	start := time.Now()
	err := Checker{}.Wait(context.Background(), Target{Descriptor: d})
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
	require.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
}

func TestPortProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	port := ln.Addr().(*net.TCPAddr).Port

	d := fastDesc("tcp-svc")
	err = Checker{}.Wait(context.Background(), Target{Descriptor: d, Port: port})
	require.NoError(t, err)
}

func TestPortProbeTimesOutWhenClosed(t *testing.T) {
	// Reserve a port, then close it so nothing is listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	d := fastDesc("gone")
	err = Checker{DialTimeout: 50 * time.Millisecond}.Wait(context.Background(), Target{Descriptor: d, Port: port})
	var te *TimeoutError
	require.True(t, errors.As(err, &te))
}

func TestGraceDelayWithoutHealthOrPort(t *testing.T) {
	d := service.Descriptor{Name: "opaque", Command: "true"}

	start := time.Now()
	err := Checker{GraceDelay: 120 * time.Millisecond}.Wait(context.Background(), Target{Descriptor: d})
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond, "readiness must not be instantaneous")
}

func TestHTTPCheck(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	check := HTTPCheck(srv.URL + "/health")
	ok, err := check(context.Background())
	require.NoError(t, err)
	require.False(t, ok)

	healthy.Store(true)
	ok, err = check(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestWaitHonorsContextCancel(t *testing.T) {
	d := fastDesc("cancelled")
	d.ReadyTimeout = 10 * time.Second
	d.Health = func(ctx context.Context) (bool, error) { return false, nil }

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	err := Checker{}.Wait(ctx, Target{Descriptor: d})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
