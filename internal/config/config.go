package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/orpheus-engine/conductor/internal/logger"
	"github.com/orpheus-engine/conductor/internal/service"
)

// FileConfig is the top-level TOML structure loaded by the daemon.
//
// Example:
//
//	listen = ":4800"
//	base_path = "/api"
//	metrics_listen = ":9105"
//	store_dsn = "conductor.db"
//	startup_policy = "abort"
//	env = ["ORPHEUS_HOME=/opt/orpheus"]
//
//	[log]
//	dir = "/var/log/orpheus"
//
//	[[services]]
//	name = "backend"
//	command = "uvicorn"
//	args = ["main:app", "--port", "${BACKEND_PORT}"]
//	port = 8000
//	health_url = "http://127.0.0.1:8000/health"
//	critical = true
type FileConfig struct {
	Listen              string            `toml:"listen" mapstructure:"listen"`
	BasePath            string            `toml:"base_path" mapstructure:"base_path"`
	MetricsListen       string            `toml:"metrics_listen" mapstructure:"metrics_listen"`
	StoreDSN            string            `toml:"store_dsn" mapstructure:"store_dsn"`
	StartupPolicy       string            `toml:"startup_policy" mapstructure:"startup_policy"`
	ParallelNonCritical bool              `toml:"parallel_noncritical" mapstructure:"parallel_noncritical"`
	Env                 []string          `toml:"env" mapstructure:"env"`
	Log                 *logger.Config    `toml:"log" mapstructure:"log"`
	Services            []ServiceConfig   `toml:"services" mapstructure:"services"`
}

// ServiceConfig declares one supervised service in the config file.
type ServiceConfig struct {
	Name         string            `toml:"name" mapstructure:"name"`
	Command      string            `toml:"command" mapstructure:"command"`
	Args         []string          `toml:"args" mapstructure:"args"`
	WorkDir      string            `toml:"workdir" mapstructure:"workdir"`
	Env          map[string]string `toml:"env" mapstructure:"env"`
	Port         int               `toml:"port" mapstructure:"port"`
	HealthURL    string            `toml:"health_url" mapstructure:"health_url"`
	Description  string            `toml:"description" mapstructure:"description"`
	Critical     bool              `toml:"critical" mapstructure:"critical"`
	Group        string            `toml:"group" mapstructure:"group"`
	Category     string            `toml:"category" mapstructure:"category"`
	ReadyTimeout time.Duration     `toml:"ready_timeout" mapstructure:"ready_timeout"`
	PollInterval time.Duration     `toml:"poll_interval" mapstructure:"poll_interval"`
	StopGrace    time.Duration     `toml:"stop_grace" mapstructure:"stop_grace"`
	Log          *logger.Config    `toml:"log" mapstructure:"log"`
}

// Load parses a TOML config file and validates every declared service.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	switch fc.StartupPolicy {
	case "", "abort", "continue":
	default:
		return nil, fmt.Errorf("invalid startup_policy %q, must be abort or continue", fc.StartupPolicy)
	}
	seen := make(map[string]struct{}, len(fc.Services))
	for i := range fc.Services {
		d := fc.Services[i].Descriptor(fc.Log)
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("services[%d]: %w", i, err)
		}
		if _, dup := seen[d.Name]; dup {
			return nil, fmt.Errorf("duplicate service name %q", d.Name)
		}
		seen[d.Name] = struct{}{}
	}
	return &fc, nil
}

// Descriptor converts one service stanza into a registry descriptor,
// inheriting the global log capture config when the stanza has none.
func (sc ServiceConfig) Descriptor(globalLog *logger.Config) service.Descriptor {
	d := service.Descriptor{
		Name:         sc.Name,
		Command:      sc.Command,
		Args:         sc.Args,
		WorkDir:      sc.WorkDir,
		Env:          sc.Env,
		Port:         sc.Port,
		HealthURL:    sc.HealthURL,
		Description:  sc.Description,
		Critical:     sc.Critical,
		GroupID:      sc.Group,
		Category:     sc.Category,
		ReadyTimeout: sc.ReadyTimeout,
		PollInterval: sc.PollInterval,
		StopGrace:    sc.StopGrace,
	}
	if sc.Log != nil {
		d.Log = *sc.Log
	} else if globalLog != nil {
		d.Log = *globalLog
	}
	return d
}

// Descriptors converts every service stanza, preserving file order.
func (fc *FileConfig) Descriptors() []service.Descriptor {
	out := make([]service.Descriptor, 0, len(fc.Services))
	for _, sc := range fc.Services {
		out = append(out, sc.Descriptor(fc.Log))
	}
	return out
}

// GlobalEnv parses the top-level env list ("K=V" entries) into a map.
func (fc *FileConfig) GlobalEnv() map[string]string {
	m := make(map[string]string, len(fc.Env))
	for _, kv := range fc.Env {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}
