package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/orpheus-engine/conductor/internal/logger"
)

// HealthCheck reports whether a service is ready to be depended upon.
// A false result or an error both mean "not ready yet"; readiness polling
// keeps retrying until its deadline.
type HealthCheck func(ctx context.Context) (bool, error)

// Descriptor describes one externally launched service. It is immutable
// after registration; the supervisor copies it into its registry.
type Descriptor struct {
	Name        string            `json:"name"`
	Command     string            `json:"command"`
	Args        []string          `json:"args,omitempty"`
	WorkDir     string            `json:"work_dir,omitempty"`
	Env         map[string]string `json:"env,omitempty"`     // merged over the ambient environment
	Port        int               `json:"port,omitempty"`    // desired port; 0 means none
	HealthURL   string            `json:"health_url,omitempty"`
	Health      HealthCheck       `json:"-"`                 // takes priority over port probing
	Description string            `json:"description,omitempty"`
	Critical    bool              `json:"critical"`
	GroupID     string            `json:"group_id,omitempty"`
	Category    string            `json:"category,omitempty"`

	ReadyTimeout time.Duration `json:"ready_timeout,omitempty"` // overall readiness bound
	PollInterval time.Duration `json:"poll_interval,omitempty"` // readiness poll spacing
	StopGrace    time.Duration `json:"stop_grace,omitempty"`    // SIGTERM to SIGKILL window

	Log logger.Config `json:"log"` // optional rotating capture of child output
}

// Defaults used when a descriptor leaves timing fields zero.
const (
	DefaultReadyTimeout = 30 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
	DefaultStopGrace    = 2 * time.Second
)

func (d *Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("service name is required")
	}
	if strings.ContainsAny(d.Name, " \t\n/\\") {
		return fmt.Errorf("service %q: name must not contain spaces or path separators", d.Name)
	}
	if strings.TrimSpace(d.Command) == "" {
		return fmt.Errorf("service %q: command is required", d.Name)
	}
	if d.Port < 0 || d.Port > 65535 {
		return fmt.Errorf("service %q: port %d out of range", d.Name, d.Port)
	}
	if d.ReadyTimeout < 0 || d.PollInterval < 0 || d.StopGrace < 0 {
		return fmt.Errorf("service %q: durations must not be negative", d.Name)
	}
	for k := range d.Env {
		if k == "" {
			return fmt.Errorf("service %q: env override with empty key", d.Name)
		}
	}
	return nil
}

// ReadyTimeoutOrDefault returns the readiness bound, falling back to the
// package default when unset.
func (d *Descriptor) ReadyTimeoutOrDefault() time.Duration {
	if d.ReadyTimeout > 0 {
		return d.ReadyTimeout
	}
	return DefaultReadyTimeout
}

func (d *Descriptor) PollIntervalOrDefault() time.Duration {
	if d.PollInterval > 0 {
		return d.PollInterval
	}
	return DefaultPollInterval
}

func (d *Descriptor) StopGraceOrDefault() time.Duration {
	if d.StopGrace > 0 {
		return d.StopGrace
	}
	return DefaultStopGrace
}

// PortEnvKey returns the environment variable name a service's assigned port
// is published under: the uppercased service name with every character
// outside [A-Z0-9] replaced by '_', suffixed with _PORT.
// "audio-helper" becomes AUDIO_HELPER_PORT.
func (d *Descriptor) PortEnvKey() string {
	up := strings.ToUpper(d.Name)
	mangled := strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, up)
	return mangled + "_PORT"
}

// DeepCopy returns a copy whose Env and Args do not alias the original.
func (d *Descriptor) DeepCopy() Descriptor {
	out := *d
	if d.Args != nil {
		out.Args = append([]string(nil), d.Args...)
	}
	if d.Env != nil {
		out.Env = make(map[string]string, len(d.Env))
		for k, v := range d.Env {
			out.Env[k] = v
		}
	}
	return out
}
