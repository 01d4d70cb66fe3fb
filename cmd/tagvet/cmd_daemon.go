package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/tagvet/tagvet/telemetry"
)

var (
	daemonInterval    time.Duration
	daemonMetricsAddr string
	daemonTypes       string
)

// daemonCmd runs continuous compliance scanning
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run continuous compliance scanning",
	Long: `Run Tagvet in daemon mode. The daemon scans at the configured
interval, detects drift against the previous snapshot, and exports
Prometheus metrics on /metrics. It shuts down gracefully on
SIGTERM/SIGINT.`,
	Example: `  tagvet daemon
  tagvet daemon --interval 30m
  tagvet daemon --metrics-addr :9100`,
	RunE: runDaemonCmd,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().DurationVar(&daemonInterval, "interval", 0, "Scan interval (default from config)")
	daemonCmd.Flags().StringVar(&daemonMetricsAddr, "metrics-addr", "", "Metrics listen address (default from config)")
	daemonCmd.Flags().StringVarP(&daemonTypes, "types", "t", "", "Comma-separated resource types")
}

func runDaemonCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	shutdownOTEL, err := telemetry.InitOTEL(ctx, telemetry.Config{
		ServiceName:    "tagvet",
		ServiceVersion: version,
		Environment:    "production",
	})
	if err != nil {
		return err
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	metrics, err := telemetry.NewEngineMetrics()
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	a.engine.WithMetrics(metrics)

	interval := a.cfg.Daemon.ScanInterval
	if daemonInterval > 0 {
		interval = daemonInterval
	}
	metricsAddr := a.cfg.Daemon.MetricsAddr
	if daemonMetricsAddr != "" {
		metricsAddr = daemonMetricsAddr
	}
	resourceTypes := a.resolveTypes(daemonTypes)
	if len(resourceTypes) == 0 {
		return fmt.Errorf("no resource types to scan: pass --types or scope the policy's applies_to")
	}

	var g run.Group
	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.MetricsHandler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	server := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	g.Add(func() error {
		return server.ListenAndServe()
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})

	loopCtx, cancelLoop := context.WithCancel(ctx)
	g.Add(func() error {
		return scanLoop(loopCtx, a, resourceTypes, interval)
	}, func(error) {
		cancelLoop()
	})

	fmt.Printf("tagvet daemon: scanning %v every %s, metrics on %s\n", resourceTypes, interval, metricsAddr)
	err = g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		fmt.Printf("received %s, shut down\n", sig.Signal)
		return nil
	}
	return err
}

// scanLoop scans immediately, then on every tick. Each cycle also runs
// drift detection so drift is observed against the previous snapshot
// before this cycle's snapshot replaces it as the latest baseline.
func scanLoop(ctx context.Context, a *app, resourceTypes []string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	first := true
	for {
		// Pick up policy edits between cycles; the reload drops cached
		// gateway data so the cycle fetches fresh under the new rules.
		if !first {
			if err := a.engine.ReloadPolicy(ctx); err != nil {
				fmt.Printf("policy reload failed, keeping previous policy: %v\n", err)
			}
		}
		first = false

		if _, err := a.engine.DetectDrift(ctx, resourceTypes); err != nil {
			fmt.Printf("drift detection failed: %v\n", err)
		}
		if _, err := a.engine.ScanCompliance(ctx, resourceTypes); err != nil {
			fmt.Printf("scan failed: %v\n", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
