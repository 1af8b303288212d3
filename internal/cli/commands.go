package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/genqueue/internal/api"
	"github.com/ChuLiYu/genqueue/internal/config"
	"github.com/ChuLiYu/genqueue/internal/journal"
	"github.com/ChuLiYu/genqueue/internal/queue"
	"github.com/ChuLiYu/genqueue/pkg/types"
)

// clientTimeout 用戶端指令的 HTTP 逾時
const clientTimeout = 10 * time.Second

// ============================================================================
// enqueue
// ============================================================================

func buildEnqueueCommand() *cobra.Command {
	var jobFile string
	var serverURL string

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue jobs from a JSON or YAML file",
		Long:  "Read job definitions from a file and submit them to a running genqueue over HTTP.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jobFile == "" {
				return fmt.Errorf("job file is required (use --file or -f)")
			}
			return enqueueJobs(cmd, jobFile, serverURL)
		},
	}

	cmd.Flags().StringVarP(&jobFile, "file", "f", "", "file containing job definitions")
	cmd.Flags().StringVar(&serverURL, "server", DefaultServer, "genqueue API base URL")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func enqueueJobs(cmd *cobra.Command, filePath, serverURL string) error {
	defs, err := loadJobFile(filePath)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: clientTimeout}
	endpoint := strings.TrimRight(serverURL, "/") + "/api/jobs"

	accepted := 0
	for i, def := range defs {
		job, err := submitJob(cmd.Context(), client, endpoint, def)
		if err != nil {
			printf(cmd, "✗ job %d (%s): %v\n", i, def.Type, err)
			continue
		}
		accepted++
		printf(cmd, "✓ %s  %-18s %s\n", job.ID, job.Type, job.CorrelationRef)
	}

	printf(cmd, "Submitted %d/%d jobs to %s\n", accepted, len(defs), serverURL)
	if accepted < len(defs) {
		return fmt.Errorf("%d of %d jobs rejected", len(defs)-accepted, len(defs))
	}
	return nil
}

func submitJob(ctx context.Context, client *http.Client, endpoint string, def api.EnqueueRequest) (types.Job, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	body, err := json.Marshal(def)
	if err != nil {
		return types.Job{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return types.Job{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return types.Job{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		var apiErr api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return types.Job{}, fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return types.Job{}, fmt.Errorf("unexpected response %s", resp.Status)
	}

	var job types.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return types.Job{}, fmt.Errorf("decode response: %w", err)
	}
	return job, nil
}

// ============================================================================
// status
// ============================================================================

func buildStatusCommand() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show system status",
		Long:  "Display configuration and, when a server is reachable, live queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus(cmd, serverURL)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", DefaultServer, "genqueue API base URL")
	return cmd
}

func showStatus(cmd *cobra.Command, serverURL string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	printf(cmd, "\n╔═══════════════════════════════════════════════════════════╗\n")
	printf(cmd, "║               genqueue System Status                      ║\n")
	printf(cmd, "╚═══════════════════════════════════════════════════════════╝\n\n")

	printf(cmd, "📋 Configuration:\n")
	printf(cmd, "  ├─ Config File:     %s\n", displayOr(configFile, "(defaults)"))
	printf(cmd, "  ├─ Concurrency:     %d\n", cfg.Queue.Concurrency)
	printf(cmd, "  ├─ Max Attempts:    %d\n", cfg.Queue.MaxAttempts)
	printf(cmd, "  └─ Retry Delay:     %s\n\n", cfg.Queue.RetryDelay)

	printf(cmd, "💾 Storage:\n")
	printf(cmd, "  ├─ History Backend: %s (max %d entries)\n", cfg.History.Backend, cfg.History.MaxEntries)
	if cfg.History.Backend == config.BackendFile {
		printf(cmd, "  │  └─ Path:         %s\n", displayOr(cfg.History.Path, "(beside executable)"))
	}
	if cfg.Journal.Enabled {
		printf(cmd, "  └─ Journal:         %s\n\n", cfg.Journal.Path)
	} else {
		printf(cmd, "  └─ Journal:         disabled\n\n")
	}

	stats, err := fetchStats(cmd.Context(), serverURL)
	printf(cmd, "📊 Job Queue Statistics:\n")
	if err != nil {
		printf(cmd, "  └─ Server not reachable at %s (run 'genqueue run' to start)\n\n", serverURL)
	} else {
		total := 0
		for _, n := range stats.Jobs {
			total += n
		}
		printf(cmd, "  ├─ Uptime:         %s\n", stats.Uptime)
		printf(cmd, "  ├─ Active:         %d/%d\n", stats.Active, stats.Concurrency)
		printf(cmd, "  ├─ Pending:        %d\n", stats.Pending)
		printf(cmd, "  ├─ Total Jobs:     %d\n", total)
		printf(cmd, "  ├─ ⏳ Queued:       %d\n", stats.Jobs[string(types.StatusQueued)])
		printf(cmd, "  ├─ 🔄 Running:      %d\n", stats.Jobs[string(types.StatusRunning)]+stats.Jobs[string(types.StatusRetrying)])
		printf(cmd, "  ├─ ✅ Succeeded:    %d\n", stats.Jobs[string(types.StatusSucceeded)])
		printf(cmd, "  ├─ ❌ Failed:       %d\n", stats.Jobs[string(types.StatusFailed)])
		printf(cmd, "  └─ 🚫 Canceled:     %d\n\n", stats.Jobs[string(types.StatusCanceled)])
	}

	printf(cmd, "📡 Metrics:\n")
	if cfg.Metrics.Enabled && cfg.HTTP.Enabled {
		printf(cmd, "  └─ Status: ✅ Enabled on %s/metrics\n\n", strings.TrimRight(serverURL, "/"))
	} else {
		printf(cmd, "  └─ Status: ⚠️  Disabled\n\n")
	}

	printf(cmd, "═══════════════════════════════════════════════════════════\n")
	return nil
}

func fetchStats(ctx context.Context, serverURL string) (queue.Stats, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(serverURL, "/")+"/api/stats", nil)
	if err != nil {
		return queue.Stats{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return queue.Stats{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return queue.Stats{}, fmt.Errorf("unexpected response %s", resp.Status)
	}

	var stats queue.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return queue.Stats{}, err
	}
	return stats, nil
}

func displayOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// ============================================================================
// history
// ============================================================================

func buildHistoryCommand() *cobra.Command {
	var limit int
	var status string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the persisted job history",
		Long:  "Load the job history from the configured backend and print it, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showHistory(cmd, limit, status)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of jobs to print (0 = all)")
	cmd.Flags().StringVar(&status, "status", "", "only print jobs with this status")
	return cmd
}

func showHistory(cmd *cobra.Command, limit int, status string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, closer, err := buildStore(cfg)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer()
	}
	if store == nil {
		printf(cmd, "History is disabled (history.backend: none)\n")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	jobs, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tREF\tSTATUS\tATTEMPT\tPROGRESS\tCREATED\tERROR")

	printed := 0
	for _, job := range jobs {
		if status != "" && string(job.Status) != status {
			continue
		}
		if limit > 0 && printed == limit {
			break
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%3.0f%%\t%s\t%s\n",
			job.ID, job.Type, displayOr(job.CorrelationRef, "-"), job.Status,
			job.Attempt, job.MaxAttempts, job.Progress*100,
			job.CreatedAt.Local().Format(time.DateTime), truncate(job.Error, 60))
		printed++
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	printf(cmd, "\n%d of %d jobs\n", printed, len(jobs))
	return nil
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

// ============================================================================
// journal
// ============================================================================

func buildJournalCommand() *cobra.Command {
	var path string
	var jobID string

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Replay the event journal",
		Long:  "Verify and print every transition recorded in the event journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showJournal(cmd, path, jobID)
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "journal file (default: journal.path from config)")
	cmd.Flags().StringVar(&jobID, "job", "", "only print records for this job id")
	return cmd
}

func showJournal(cmd *cobra.Command, path, jobID string) error {
	if path == "" {
		cfg, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		path = cfg.Journal.Path
	}

	count := 0
	err := journal.ReplayFile(path, func(rec journal.Record) error {
		if jobID != "" && string(rec.JobID) != jobID {
			return nil
		}
		count++
		printf(cmd, "%6d  %s  %-14s %s  %-9s attempt=%d %s\n",
			rec.Seq,
			time.UnixMilli(rec.Timestamp).Local().Format("15:04:05.000"),
			rec.Type, rec.JobID, rec.Status, rec.Attempt, rec.Error)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replay journal: %w", err)
	}
	printf(cmd, "%d records\n", count)
	return nil
}
