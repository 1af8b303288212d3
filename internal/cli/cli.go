// ============================================================================
// genqueue CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Provides the command line interface based on the Cobra framework
//
// Command Structure:
//   genqueue                       # Root command
//   ├── run                        # Start queue + HTTP API + gRPC health
//   │   └── --jobs, -j            # Enqueue a job file at start
//   ├── enqueue                    # Submit jobs to a running instance
//   │   ├── --file, -f            # Job file (JSON or YAML)
//   │   └── --server              # API base URL
//   ├── status                     # Show configuration and live stats
//   ├── history                    # Print the persisted job history
//   ├── journal                    # Replay the event journal
//   ├── --config, -c              # Config file (empty = built-in defaults)
//   └── --version
//
// Configuration Management:
//   YAML config file, then .env, then GENQUEUE_* environment variables.
//   Sections: queue, history, journal, http, grpc, metrics, log
//
// run Command:
//   1. Load config and set up logging
//   2. Build queue, history store, journal and metrics collector
//   3. Start the queue and optional job file
//   4. Serve HTTP API (+ /metrics) and gRPC health
//   5. Wait for SIGINT / SIGTERM
//   6. Graceful shutdown within queue.shutdown_timeout:
//      stop servers → stop admission → wait for running jobs
//      (cancel them when the deadline hits) → final history write
//
//   Examples:
//     ./genqueue run
//     ./genqueue run -c configs/genqueue.yaml --jobs storyboard.json
//
// enqueue Command:
//   POSTs every job definition to <server>/api/jobs.
//
//   Examples:
//     ./genqueue enqueue -f jobs.json --server http://localhost:8080
//
// Error Handling:
//   - Config load failed: return detailed error information
//   - Queue start failed: clean up resources and return
//   - Job submission failed: report per job, keep going
//
// ============================================================================

package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/genqueue/internal/config"
	"github.com/ChuLiYu/genqueue/internal/logger"
	"github.com/ChuLiYu/genqueue/internal/server"
)

// Version is overridden at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

// DefaultServer is the API base URL used by client commands.
const DefaultServer = "http://localhost:8080"

const defaultShutdownTimeout = 10 * time.Second

var configFile string

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "genqueue",
		Short: "genqueue: a job queue for long-running generation work",
		Long: `genqueue runs scene analysis, image, video and render jobs with:
- strict FIFO admission and a global concurrency cap
- fixed-delay retries and cooperative cancellation
- progress reporting and an event stream
- best-effort JSON job history`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (default: built-in defaults)")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildEnqueueCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildHistoryCommand())
	rootCmd.AddCommand(buildJournalCommand())

	return rootCmd
}

func buildRunCommand() *cobra.Command {
	var jobsFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the genqueue job queue",
		Long:  "Start the queue, the HTTP API and (optionally) the gRPC health service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSystem(cmd.Context(), jobsFile)
		},
	}

	cmd.Flags().StringVarP(&jobsFile, "jobs", "j", "", "job file to enqueue at start (JSON or YAML)")
	return cmd
}

func runSystem(ctx context.Context, jobsFile string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.start(ctx); err != nil {
		return err
	}
	log.Info("genqueue started",
		"config", configFile,
		"concurrency", cfg.Queue.Concurrency,
		"history", cfg.History.Backend,
		"journal", cfg.Journal.Enabled)

	if jobsFile != "" {
		if err := enqueueFile(a, jobsFile); err != nil {
			log.Error("failed to enqueue job file", "file", jobsFile, "error", err)
		}
	}

	errCh := make(chan error, 2)

	var httpSrv *http.Server
	if cfg.HTTP.Enabled {
		httpSrv = &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           a.router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("http server listening", "addr", cfg.HTTP.Addr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	} else if cfg.Metrics.Enabled {
		log.Warn("metrics enabled but http disabled; /metrics is not served")
	}

	var grpcSrv *server.Server
	if cfg.GRPC.Enabled {
		grpcSrv = server.NewServer(a.queue, 0, log)
		go func() {
			if err := grpcSrv.ListenAndServe(ctx, cfg.GRPC.Addr); err != nil {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal, stopping gracefully")
	case runErr = <-errCh:
		log.Error("server failed, shutting down", "error", runErr)
	}

	timeout := cfg.Queue.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if httpSrv != nil {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", "error", err)
		}
	}
	if grpcSrv != nil {
		grpcSrv.Stop()
	}
	if err := a.shutdown(shutdownCtx); err != nil {
		log.Warn("queue shutdown", "error", err)
	}

	log.Info("genqueue stopped")
	return runErr
}

// enqueueFile 讀取任務文件並提交到本地 Queue；部分失敗時已提交的任務保留
func enqueueFile(a *app, path string) error {
	defs, err := loadJobFile(path)
	if err != nil {
		return err
	}
	jobs, err := a.enqueue(defs)
	a.log.Info("job file enqueued", "file", path, "jobs", len(jobs), "total", len(defs))
	return err
}

// printf writes to the command output.
func printf(cmd *cobra.Command, format string, args ...any) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
