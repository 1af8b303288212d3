package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/genqueue/internal/queue"
	"github.com/ChuLiYu/genqueue/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer starts a queue and an httptest server in front of it.
func newTestServer(t *testing.T, opts Options) (*queue.Queue, *httptest.Server) {
	t.Helper()

	q, err := queue.New(queue.Config{Concurrency: 2, RetryDelay: 5 * time.Millisecond},
		queue.WithLogger(discardLogger()))
	require.NoError(t, err)
	require.NoError(t, q.Start(context.Background()))

	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	srv := httptest.NewServer(NewRouter(q, opts))
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	})
	return q, srv
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func waitTerminal(t *testing.T, q *queue.Queue, id types.JobID) types.Job {
	t.Helper()
	var job types.Job
	require.Eventually(t, func() bool {
		job, _ = q.Get(id)
		return job.Status.IsTerminal()
	}, 3*time.Second, 5*time.Millisecond)
	return job
}

func TestHealth(t *testing.T) {
	q, srv := newTestServer(t, Options{})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, q.Stop(context.Background()))

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestEnqueueAndGet(t *testing.T) {
	q, srv := newTestServer(t, Options{})

	resp := postJSON(t, srv.URL+"/api/jobs", `{
		"type": "shot_video",
		"correlationRef": "shot-3",
		"runner": {"kind": "sleep", "params": {"steps": 2, "step": "1ms"}},
		"maxAttempts": 3
	}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	job := decodeBody[types.Job](t, resp)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, types.TypeShotVideo, job.Type)
	assert.Equal(t, "shot-3", job.CorrelationRef)
	assert.Equal(t, 3, job.MaxAttempts)

	final := waitTerminal(t, q, job.ID)
	assert.Equal(t, types.StatusSucceeded, final.Status)

	resp, err := http.Get(srv.URL + "/api/jobs/" + string(job.ID))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[types.Job](t, resp)
	assert.Equal(t, types.StatusSucceeded, got.Status)
	assert.Equal(t, 1.0, got.Progress)
}

func TestEnqueueRejects(t *testing.T) {
	_, srv := newTestServer(t, Options{})

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "malformed", body: `{"type":`, want: "Invalid request format"},
		{name: "unknown field", body: `{"type":"shot_video","runner":{"kind":"sleep"},"priority":1}`, want: "Invalid request format"},
		{name: "missing type", body: `{"runner":{"kind":"sleep"}}`, want: "Validation error"},
		{name: "missing runner kind", body: `{"type":"shot_video","runner":{}}`, want: "Validation error"},
		{name: "too many attempts", body: `{"type":"shot_video","runner":{"kind":"sleep"},"maxAttempts":50}`, want: "Validation error"},
		{name: "unknown type", body: `{"type":"thumbnail","runner":{"kind":"sleep"}}`, want: "unknown job type"},
		{name: "unknown runner", body: `{"type":"shot_video","runner":{"kind":"ffmpeg"}}`, want: "unknown runner kind"},
		{name: "bad runner params", body: `{"type":"shot_video","runner":{"kind":"exec"}}`, want: "command is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/api/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			body := decodeBody[ErrorResponse](t, resp)
			assert.Contains(t, body.Error, tt.want)
		})
	}
}

func TestEnqueueAfterStop(t *testing.T) {
	q, srv := newTestServer(t, Options{})
	require.NoError(t, q.Stop(context.Background()))

	resp := postJSON(t, srv.URL+"/api/jobs", `{"type":"full_render","runner":{"kind":"sleep"}}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGetJobNotFound(t *testing.T) {
	_, srv := newTestServer(t, Options{})

	resp, err := http.Get(srv.URL + "/api/jobs/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListJobs(t *testing.T) {
	q, srv := newTestServer(t, Options{})

	ok := func(ctx context.Context, progress queue.ProgressFunc) error { return nil }
	fail := func(ctx context.Context, progress queue.ProgressFunc) error { return assert.AnError }

	first, err := q.Enqueue(types.TypeSceneAnalysis, "", ok, 1)
	require.NoError(t, err)
	second, err := q.Enqueue(types.TypeTextToShots, "", fail, 1)
	require.NoError(t, err)
	third, err := q.Enqueue(types.TypeFullRender, "", ok, 1)
	require.NoError(t, err)
	for _, id := range []types.JobID{first.ID, second.ID, third.ID} {
		waitTerminal(t, q, id)
	}

	resp, err := http.Get(srv.URL + "/api/jobs")
	require.NoError(t, err)
	all := decodeBody[ListResponse](t, resp)
	require.Equal(t, 3, all.Count)
	assert.Equal(t, third.ID, all.Jobs[0].ID, "newest first")
	assert.Equal(t, first.ID, all.Jobs[2].ID)

	resp, err = http.Get(srv.URL + "/api/jobs?status=failed")
	require.NoError(t, err)
	failed := decodeBody[ListResponse](t, resp)
	require.Equal(t, 1, failed.Count)
	assert.Equal(t, second.ID, failed.Jobs[0].ID)

	resp, err = http.Get(srv.URL + "/api/jobs?limit=2")
	require.NoError(t, err)
	limited := decodeBody[ListResponse](t, resp)
	assert.Equal(t, 2, limited.Count)

	for _, query := range []string{"?status=done", "?limit=0", "?limit=x"} {
		resp, err = http.Get(srv.URL + "/api/jobs" + query)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
	}
}

func TestCancelJob(t *testing.T) {
	q, srv := newTestServer(t, Options{})

	started := make(chan struct{})
	job, err := q.Enqueue(types.TypeShotVideo, "", func(ctx context.Context, progress queue.ProgressFunc) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, 3)
	require.NoError(t, err)
	<-started

	resp := postJSON(t, srv.URL+"/api/jobs/"+string(job.ID)+"/cancel", "")
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	final := waitTerminal(t, q, job.ID)
	assert.Equal(t, types.StatusCanceled, final.Status)
	assert.Equal(t, types.CanceledMessage, final.Error)

	resp = postJSON(t, srv.URL+"/api/jobs/unknown/cancel", "")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatsAndRunners(t *testing.T) {
	_, srv := newTestServer(t, Options{})

	resp, err := http.Get(srv.URL + "/api/stats")
	require.NoError(t, err)
	stats := decodeBody[queue.Stats](t, resp)
	assert.Equal(t, 2, stats.Concurrency)

	resp, err = http.Get(srv.URL + "/api/runners")
	require.NoError(t, err)
	kinds := decodeBody[map[string][]string](t, resp)
	assert.Equal(t, []string{"exec", "sleep"}, kinds["kinds"])
}

func TestMetricsMount(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("genqueue_jobs_pending 0\n"))
	})
	_, srv := newTestServer(t, Options{Metrics: metrics})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "genqueue_jobs_pending")

	_, bare := newTestServer(t, Options{})
	resp, err = http.Get(bare.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEventStream(t *testing.T) {
	q, srv := newTestServer(t, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	_, err = q.Enqueue(types.TypeFrameExtraction, "clip-1", func(ctx context.Context, progress queue.ProgressFunc) error {
		return nil
	}, 1)
	require.NoError(t, err)

	var names []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			names = append(names, name)
		}
		if strings.HasPrefix(line, "data: ") {
			assert.Contains(t, line, `"clip-1"`)
		}
		if len(names) == 3 {
			break
		}
	}
	assert.Equal(t, []string{"job.enqueued", "job.started", "job.succeeded"}, names)
}
