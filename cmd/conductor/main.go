// Command conductor runs the Orpheus Engine service supervisor. The serve
// subcommand is the long-running daemon; the remaining subcommands talk to a
// running daemon over its HTTP API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/orpheus-engine/conductor"
	"github.com/orpheus-engine/conductor/internal/config"
	"github.com/orpheus-engine/conductor/internal/logger"
	"github.com/orpheus-engine/conductor/internal/metrics"
	"github.com/orpheus-engine/conductor/internal/server"
	"github.com/orpheus-engine/conductor/pkg/client"
)

const (
	defaultListen = ":4800"
	defaultAPI    = "http://127.0.0.1:4800"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "conductor",
		Short:         "Supervisor for Orpheus Engine workstation services",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newServeCmd(),
		newStartCmd(),
		newStopCmd(),
		newRestartCmd(),
		newStatusCmd(),
		newStartAllCmd(),
		newStopAllCmd(),
		newHistoryCmd(),
	)
	return root
}

func newServeCmd() *cobra.Command {
	var (
		cfgPath string
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cfgPath, verbose)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "conductor.toml", "path to TOML config file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

func runServe(cfgPath string, verbose bool) error {
	fc, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(os.Stdout, verbose)

	c, err := conductor.New(conductor.Options{
		Logger:              log,
		Policy:              conductor.Policy(fc.StartupPolicy),
		ParallelNonCritical: fc.ParallelNonCritical,
		Env:                 fc.GlobalEnv(),
		StoreDSN:            fc.StoreDSN,
	})
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	for _, d := range fc.Descriptors() {
		if err := c.Register(d); err != nil {
			return err
		}
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	var metricsSrv *http.Server
	if fc.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{
			Addr:              fc.MetricsListen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", "error", err)
			}
		}()
		log.Info("metrics listening", "addr", fc.MetricsListen)
	}

	listen := fc.Listen
	if listen == "" {
		listen = defaultListen
	}
	apiSrv := server.NewServer(listen, fc.BasePath, c.Supervisor(), c.StoreHandle())
	log.Info("api listening", "addr", listen, "base_path", fc.BasePath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.StartAll(ctx); err != nil {
		log.Error("startup aborted", "error", err)
		c.StopAll()
		shutdownServers(apiSrv, metricsSrv)
		return err
	}
	log.Info("all services started", "count", len(fc.Services))

	<-ctx.Done()
	log.Info("shutdown signal received")
	c.StopAll()
	shutdownServers(apiSrv, metricsSrv)
	log.Info("shutdown complete")
	return nil
}

func shutdownServers(servers ...*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range servers {
		if srv != nil {
			_ = srv.Shutdown(ctx)
		}
	}
}

// apiClient builds a client for the daemon from the persistent --api flag.
func apiClient(cmd *cobra.Command) (*client.Client, error) {
	api, _ := cmd.Flags().GetString("api")
	return client.New(client.Config{BaseURL: api})
}

func addAPIFlag(cmd *cobra.Command) *cobra.Command {
	cmd.Flags().String("api", defaultAPI, "base URL of the conductor daemon API")
	return cmd
}

func newStartCmd() *cobra.Command {
	return addAPIFlag(&cobra.Command{
		Use:   "start NAME",
		Short: "Start one registered service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := apiClient(cmd)
			if err != nil {
				return err
			}
			return cl.Start(cmd.Context(), args[0])
		},
	})
}

func newStopCmd() *cobra.Command {
	return addAPIFlag(&cobra.Command{
		Use:   "stop NAME",
		Short: "Stop one service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := apiClient(cmd)
			if err != nil {
				return err
			}
			return cl.Stop(cmd.Context(), args[0])
		},
	})
}

func newRestartCmd() *cobra.Command {
	return addAPIFlag(&cobra.Command{
		Use:   "restart NAME",
		Short: "Restart one service with a fresh status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := apiClient(cmd)
			if err != nil {
				return err
			}
			return cl.Restart(cmd.Context(), args[0])
		},
	})
}

func newStatusCmd() *cobra.Command {
	return addAPIFlag(&cobra.Command{
		Use:   "status [NAME]",
		Short: "Show service status (all services when no name is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := apiClient(cmd)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				st, err := cl.Status(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, st)
			}
			sts, err := cl.Statuses(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, sts)
		},
	})
}

func newStartAllCmd() *cobra.Command {
	return addAPIFlag(&cobra.Command{
		Use:   "start-all",
		Short: "Start every registered service in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := apiClient(cmd)
			if err != nil {
				return err
			}
			return cl.StartAll(cmd.Context())
		},
	})
}

func newStopAllCmd() *cobra.Command {
	return addAPIFlag(&cobra.Command{
		Use:   "stop-all",
		Short: "Stop every live service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := apiClient(cmd)
			if err != nil {
				return err
			}
			return cl.StopAll(cmd.Context())
		},
	})
}

func newHistoryCmd() *cobra.Command {
	cmd := addAPIFlag(&cobra.Command{
		Use:   "history",
		Short: "Show recent state transitions from the journal",
		Args:  cobra.NoArgs,
	})
	limit := cmd.Flags().Int("limit", 50, "maximum number of records")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cl, err := apiClient(cmd)
		if err != nil {
			return err
		}
		recs, err := cl.History(cmd.Context(), *limit)
		if err != nil {
			return err
		}
		return printJSON(cmd, recs)
	}
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}
