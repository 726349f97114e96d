// Command roomctl runs the escape-room Device Session Dispatcher: the TCP
// Acceptor, Session Handler, and the thin admin HTTP surface over the
// shared bus.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fernhollow/roomctl/internal/acceptor"
	"github.com/fernhollow/roomctl/internal/bridge"
	"github.com/fernhollow/roomctl/internal/bus"
	"github.com/fernhollow/roomctl/internal/config"
	"github.com/fernhollow/roomctl/internal/handlers"
	"github.com/fernhollow/roomctl/internal/ledger"
	"github.com/fernhollow/roomctl/internal/logging"
	"github.com/fernhollow/roomctl/internal/queue"
	"github.com/fernhollow/roomctl/internal/registry"
	"github.com/fernhollow/roomctl/internal/server"
	"github.com/fernhollow/roomctl/internal/session"
	"github.com/spf13/cobra"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "roomctl",
	Short:         "Escape-room device session dispatcher",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("roomctl %s (%s)\n", version, commit)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the TCP acceptor and admin HTTP surface",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logging.Init()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	b, err := bus.New(cfg.Bus.URL, cfg.Bus.KeyPrefix)
	if err != nil {
		return fmt.Errorf("connect to bus: %w", err)
	}
	defer b.Close()

	reg := registry.New(b)
	q := queue.New(b)
	l := ledger.New(b)
	br := bridge.New(b, reg, cfg.Timeouts.BridgePoll())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A prior process's in-process registry is gone the moment this process
	// starts; the bus mirror it left behind is stale (SPEC_FULL.md §7.6).
	if err := reg.Reset(ctx); err != nil {
		return fmt.Errorf("reset registry: %w", err)
	}

	handler := session.New(session.Deps{
		Bus: b, Registry: reg, Queue: q, Ledger: l, Timeouts: cfg.Timeouts,
	})

	acc := acceptor.New(acceptor.Config{
		Host: cfg.TCP.Host, Port: cfg.TCP.Port, AcceptPoll: cfg.Timeouts.AcceptPoll(),
	}, b, handler)
	if err := acc.Start(ctx); err != nil {
		return fmt.Errorf("start acceptor: %w", err)
	}
	defer acc.Stop()

	deps := &handlers.Dependencies{
		Config: cfg, Bus: b, Registry: reg, Queue: q, Ledger: l, Bridge: br,
	}

	adminSrv := server.New(&cfg.Admin, deps)
	metricsSrv := server.NewMetrics(&cfg.Metrics, deps)

	go runHTTPServer(adminSrv, "admin")
	go runHTTPServer(metricsSrv, "metrics")

	logging.WithFields("main", "main.started", map[string]any{
		"tcp_addr":     fmt.Sprintf("%s:%d", cfg.TCP.Host, cfg.TCP.Port),
		"admin_addr":   adminSrv.Addr,
		"metrics_addr": metricsSrv.Addr,
	}).Info("roomctl started")

	<-ctx.Done()
	logging.WithFields("main", "main.shutting_down", nil).Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	adminSrv.Shutdown(shutdownCtx)   //nolint:errcheck
	metricsSrv.Shutdown(shutdownCtx) //nolint:errcheck

	return nil
}

func runHTTPServer(srv *http.Server, name string) {
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.WithFields("main", "main.http_server_error", map[string]any{
			"server": name, "error": err.Error(),
		}).Error("http server exited unexpectedly")
	}
}
