package main

// Storyboard demo: runs the generation pipeline of a small project through
// the queue with simulated providers.
//
//	go run ./cmd/demo             # full storyboard, some shots fail once and retry
//	go run ./cmd/demo cancel      # same, but cancels the render while it runs
//
// Ctrl+C cancels every unfinished job and exits after the queue drains.

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ChuLiYu/genqueue/internal/batch"
	"github.com/ChuLiYu/genqueue/internal/history"
	"github.com/ChuLiYu/genqueue/internal/logger"
	"github.com/ChuLiYu/genqueue/internal/queue"
	"github.com/ChuLiYu/genqueue/internal/runners"
	"github.com/ChuLiYu/genqueue/pkg/types"
)

const shotCount = 4

func main() {
	mode := "storyboard"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}
	if mode != "storyboard" && mode != "cancel" {
		fmt.Println("Usage: go run ./cmd/demo [storyboard|cancel]")
		os.Exit(1)
	}

	historyPath := filepath.Join(os.TempDir(), "genqueue-demo", history.FileName)
	q, err := queue.New(queue.DefaultConfig(),
		queue.WithLogger(logger.New("warn", logger.FormatText, os.Stderr)),
		queue.WithHistory(history.NewFileStore(historyPath, 0)),
	)
	if err != nil {
		log.Fatalf("Failed to create queue: %v", err)
	}

	if prev := q.List(); len(prev) > 0 {
		fmt.Printf("📜 Loaded %d jobs from previous runs (%s), display only\n", len(prev), historyPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := q.Start(ctx); err != nil {
		log.Fatalf("Failed to start queue: %v", err)
	}
	fmt.Printf("✓ Queue started (concurrency %d)\n\n", q.Stats().Concurrency)

	err = runStoryboard(ctx, q, mode == "cancel")
	if err != nil {
		fmt.Printf("\n⚠️  %v\n", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Stop(shutdownCtx); err != nil {
		fmt.Printf("⚠️  shutdown: %v\n", err)
	}
	fmt.Println("✓ Queue stopped, history written to", historyPath)
}

// stage 一個生產階段（同一階段的任務可並行）
type stage struct {
	name string
	jobs []jobDef
}

type jobDef struct {
	jobType types.JobType
	ref     string
	params  map[string]any
}

func storyboard() []stage {
	sim := func(steps int, step string, failAttempts int) map[string]any {
		return map[string]any{"steps": steps, "step": step, "fail_attempts": failAttempts, "fail_message": "provider returned 503"}
	}

	var frames, videos []jobDef
	for i := 1; i <= shotCount; i++ {
		ref := fmt.Sprintf("shot-%d", i)
		frames = append(frames,
			jobDef{types.TypeFirstFrameImage, ref, sim(3, "150ms", 0)},
			jobDef{types.TypeLastFrameImage, ref, sim(3, "150ms", 0)},
		)
		// 偶數分鏡第一次嘗試失敗，示範重試
		fail := 0
		if i%2 == 0 {
			fail = 1
		}
		videos = append(videos, jobDef{types.TypeShotVideo, ref, sim(5, "200ms", fail)})
	}

	return []stage{
		{name: "analysis", jobs: []jobDef{
			{types.TypeSceneAnalysis, "project-1", sim(4, "100ms", 0)},
			{types.TypeTextToShots, "project-1", sim(4, "100ms", 0)},
		}},
		{name: "frames", jobs: frames},
		{name: "videos", jobs: videos},
		{name: "render", jobs: []jobDef{{types.TypeFullRender, "project-1", sim(10, "200ms", 0)}}},
	}
}

func runStoryboard(ctx context.Context, q *queue.Queue, cancelRender bool) error {
	reg := runners.Default()

	for _, st := range storyboard() {
		b := batch.New(q)
		for _, def := range st.jobs {
			runner, err := reg.Build(runners.Spec{Kind: runners.KindSleep, Params: def.params})
			if err != nil {
				return err
			}
			job, err := q.Enqueue(def.jobType, def.ref, runner, 0)
			if err != nil {
				return fmt.Errorf("enqueue %s: %w", def.jobType, err)
			}
			b.Add(job.ID)
		}

		if cancelRender && st.name == "render" {
			go func(ids []types.JobID) {
				time.Sleep(700 * time.Millisecond)
				for _, id := range ids {
					_ = q.Cancel(id)
				}
			}(b.IDs())
		}

		summary, err := b.Wait(ctx, 100*time.Millisecond, func(p float64) {
			fmt.Printf("\r  %-9s %s %3.0f%%", st.name, bar(p, 30), p*100)
		})
		fmt.Println()
		if err != nil {
			cancelAll(q, b)
			return fmt.Errorf("interrupted during %s", st.name)
		}
		printSummary(b.Jobs())
		if !summary.Succeeded() {
			return fmt.Errorf("stage %s did not succeed: %v", st.name, summary.Counts)
		}
	}

	fmt.Println("\n🎬 Storyboard rendered")
	return nil
}

func cancelAll(q *queue.Queue, b *batch.Batch) {
	for _, id := range b.IDs() {
		_ = q.Cancel(id)
	}
}

func printSummary(jobs []types.Job) {
	for _, job := range jobs {
		icon := "✅"
		switch job.Status {
		case types.StatusFailed:
			icon = "❌"
		case types.StatusCanceled:
			icon = "🚫"
		}
		line := fmt.Sprintf("    %s %-18s %-10s attempt %d/%d", icon, job.Type, job.CorrelationRef, job.Attempt, job.MaxAttempts)
		if job.Error != "" {
			line += "  (" + job.Error + ")"
		}
		fmt.Println(line)
	}
}

func bar(p float64, width int) string {
	filled := int(p * float64(width))
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}
