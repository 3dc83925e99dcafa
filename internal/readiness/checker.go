// Package readiness polls a just-started service until it is safe to depend
// upon. Three strategies, in priority order: a caller-supplied health check,
// a raw TCP connect against the assigned port, or a fixed grace delay when
// the service exposes neither.
package readiness

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/orpheus-engine/conductor/internal/service"
)

// DialTimeout bounds a single TCP connect attempt.
const DialTimeout = 2 * time.Second

// GraceDelay is the unconditional readiness delay for services without a
// health check or a port.
const GraceDelay = 2 * time.Second

// TimeoutError reports that a service never became ready within its bound.
// It carries launch details for diagnostics.
type TimeoutError struct {
	Name     string
	Command  string
	Args     []string
	WorkDir  string
	Attempts int
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("service %s not ready after %d attempts in %s (command=%s args=%v workdir=%s)",
		e.Name, e.Attempts, e.Elapsed.Round(time.Millisecond), e.Command, e.Args, e.WorkDir)
}

// Target is what the checker needs to know about one starting service. Port
// is the assigned port, which may differ from the descriptor's desired port.
type Target struct {
	Descriptor service.Descriptor
	Port       int
}

// Checker drives readiness polling. The zero value uses package defaults;
// fields exist so tests can compress timing.
type Checker struct {
	DialTimeout time.Duration
	GraceDelay  time.Duration
}

// Wait blocks until t is ready or the descriptor's readiness bound elapses.
// Health-check errors and false results count as "not yet ready"; only the
// overall deadline converts them into a TimeoutError. Wait never touches the
// spawned process itself.
func (c Checker) Wait(ctx context.Context, t Target) error {
	d := t.Descriptor
	health := d.Health
	if health == nil && d.HealthURL != "" {
		health = HTTPCheck(d.HealthURL)
	}

	if health == nil && t.Port == 0 {
		// Nothing to observe: declare readiness after a fixed grace delay.
		select {
		case <-time.After(c.graceDelay()):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	timeout := d.ReadyTimeoutOrDefault()
	interval := d.PollIntervalOrDefault()
	deadline := time.Now().Add(timeout)
	start := time.Now()
	attempts := 0

	for {
		attempts++
		if health != nil {
			ok, err := health(ctx)
			if err == nil && ok {
				return nil
			}
		} else if c.portOpen(t.Port) {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return &TimeoutError{
				Name:     d.Name,
				Command:  d.Command,
				Args:     d.Args,
				WorkDir:  d.WorkDir,
				Attempts: attempts,
				Elapsed:  time.Since(start),
			}
		}
		// Clamp the last sleep to the deadline so the final attempt happens
		// at the timeout, never before it.
		sleep := interval
		if sleep > remaining {
			sleep = remaining
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c Checker) portOpen(port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), c.dialTimeout())
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (c Checker) dialTimeout() time.Duration {
	if c.DialTimeout > 0 {
		return c.DialTimeout
	}
	return DialTimeout
}

func (c Checker) graceDelay() time.Duration {
	if c.GraceDelay > 0 {
		return c.GraceDelay
	}
	return GraceDelay
}

// HTTPCheck builds a health check that GETs url and treats any 2xx response
// as ready.
func HTTPCheck(url string) service.HealthCheck {
	client := &http.Client{Timeout: DialTimeout}
	return func(ctx context.Context) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return false, err
		}
		_ = resp.Body.Close()
		return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
	}
}
