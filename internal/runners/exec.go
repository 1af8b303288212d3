package runners

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ChuLiYu/genqueue/internal/queue"
)

// KindExec runs an external command through the shell.
const KindExec = "exec"

// ProgressPrefix marks output lines that carry a progress value, e.g. "progress: 0.4".
const ProgressPrefix = "progress:"

// tailLines is how much output is kept for the error message.
const tailLines = 10

// NewExec builds a runner that runs `sh -c command`.
//
// Params:
//   - command: shell command (required)
//   - timeout: per-attempt limit, "30s" or integer milliseconds (default none)
//
// Output lines starting with "progress:" are parsed and reported. On failure
// the last lines of combined output become the error message.
func NewExec(params map[string]any) (queue.Runner, error) {
	command, err := stringParam(params, "command", "")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("command is required")
	}
	timeout, err := durationParam(params, "timeout", 0)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, progress queue.ProgressFunc) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		pr, pw := io.Pipe()
		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		cmd.Stdout = pw
		cmd.Stderr = pw
		cmd.WaitDelay = time.Second

		tail := make([]string, 0, tailLines)
		scanned := make(chan struct{})
		go func() {
			defer close(scanned)
			scanner := bufio.NewScanner(pr)
			for scanner.Scan() {
				line := scanner.Text()
				if v, ok := parseProgress(line); ok {
					progress(v)
					continue
				}
				if len(tail) == tailLines {
					tail = tail[1:]
				}
				tail = append(tail, line)
			}
			// drain so the writer never blocks
			_, _ = io.Copy(io.Discard, pr)
		}()

		if err := cmd.Start(); err != nil {
			_ = pw.Close()
			<-scanned
			return fmt.Errorf("start command: %w", err)
		}
		waitErr := cmd.Wait()
		_ = pw.Close()
		<-scanned

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if waitErr != nil {
			out := strings.TrimSpace(strings.Join(tail, "\n"))
			if out == "" {
				return waitErr
			}
			return fmt.Errorf("%w: %s", waitErr, out)
		}
		return nil
	}, nil
}

func parseProgress(line string) (float64, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), ProgressPrefix)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
