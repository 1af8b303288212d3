// ============================================================================
// genqueue Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 以同步 Observer 接收任務事件並轉換為 Prometheus 指標，透過 /metrics 暴露
//
// 指標分類:
//
//   1. 任務計數器 (Counter)：
//      - genqueue_jobs_enqueued_total{type}: 入隊任務總數
//      - genqueue_attempts_started_total{type}: 嘗試開始次數
//      - genqueue_jobs_retried_total{type}: 進入重試的次數
//      - genqueue_jobs_finished_total{type,status}: 進入終止狀態的任務數
//
//   2. 分佈統計 (Histogram)：
//      - genqueue_job_duration_seconds{status}: 第一次開始到終止的耗時
//      - genqueue_job_attempts{status}: 終止時的嘗試次數
//
//   3. 狀態指標 (Gauge)：
//      - genqueue_jobs_pending: 尚未被 Worker Loop 讀取的任務數
//      - genqueue_jobs_active: 持有並發許可的任務數
//
// Prometheus 查詢示例:
//
//   # 失敗率
//   rate(genqueue_jobs_finished_total{status="failed"}[5m])
//     / rate(genqueue_jobs_finished_total[5m])
//
//   # 95 分位耗時
//   histogram_quantile(0.95, rate(genqueue_job_duration_seconds_bucket[5m]))
//
// ============================================================================

package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ChuLiYu/genqueue/internal/events"
	"github.com/ChuLiYu/genqueue/pkg/types"
)

// Collector Prometheus 指標收集器
type Collector struct {
	// 任務相關指標
	jobsEnqueued    *prometheus.CounterVec
	attemptsStarted *prometheus.CounterVec
	jobsRetried     *prometheus.CounterVec
	jobsFinished    *prometheus.CounterVec

	// 效能指標
	jobDuration *prometheus.HistogramVec
	jobAttempts *prometheus.HistogramVec

	// 狀態指標
	jobsPending prometheus.Gauge
	jobsActive  prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewCollector 創建新的指標收集器並註冊到 reg
//
// reg 為 nil 時使用 prometheus.DefaultRegisterer
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		jobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "genqueue_jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		}, []string{"type"}),
		attemptsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "genqueue_attempts_started_total",
			Help: "Total number of job attempts started",
		}, []string{"type"}),
		jobsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "genqueue_jobs_retried_total",
			Help: "Total number of failed attempts that were scheduled for retry",
		}, []string{"type"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "genqueue_jobs_finished_total",
			Help: "Total number of jobs that reached a terminal status",
		}, []string{"type", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "genqueue_job_duration_seconds",
			Help:    "Time from first attempt start to terminal status",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"status"}),
		jobAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "genqueue_job_attempts",
			Help:    "Attempts used by jobs that reached a terminal status",
			Buckets: []float64{1, 2, 3, 5, 8},
		}, []string{"status"}),
		jobsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "genqueue_jobs_pending",
			Help: "Current number of jobs not yet read by the worker loop",
		}),
		jobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "genqueue_jobs_active",
			Help: "Current number of jobs holding a concurrency permit",
		}),
	}

	// 註冊所有指標
	reg.MustRegister(
		c.jobsEnqueued,
		c.attemptsStarted,
		c.jobsRetried,
		c.jobsFinished,
		c.jobDuration,
		c.jobAttempts,
		c.jobsPending,
		c.jobsActive,
	)

	if g, ok := reg.(prometheus.Gatherer); ok {
		c.gatherer = g
	} else {
		c.gatherer = prometheus.DefaultGatherer
	}
	return c
}

// Observe 將一個任務事件轉換為指標
//
// 簽名符合 events.Handler，可直接註冊為 Queue.Observe 的處理器
func (c *Collector) Observe(evt events.Event) {
	jobType := string(evt.Job.Type)

	switch evt.Type {
	case events.JobEnqueued:
		c.jobsEnqueued.WithLabelValues(jobType).Inc()
	case events.JobStarted:
		c.attemptsStarted.WithLabelValues(jobType).Inc()
	case events.JobRetrying:
		c.jobsRetried.WithLabelValues(jobType).Inc()
	case events.JobSucceeded, events.JobFailed, events.JobCanceled:
		c.recordFinished(evt.Job)
	}
}

// recordFinished 記錄任務進入終止狀態
func (c *Collector) recordFinished(job types.Job) {
	status := string(job.Status)
	c.jobsFinished.WithLabelValues(string(job.Type), status).Inc()
	if job.StartedAt != nil && job.CompletedAt != nil {
		c.jobDuration.WithLabelValues(status).Observe(job.CompletedAt.Sub(*job.StartedAt).Seconds())
	}
	c.jobAttempts.WithLabelValues(status).Observe(float64(job.Attempt))
}

// UpdateQueueStats 更新佇列狀態統計
func (c *Collector) UpdateQueueStats(pending, active int) {
	c.jobsPending.Set(float64(pending))
	c.jobsActive.Set(float64(active))
}

// StatsFunc 回傳目前的待處理數與執行中數量
type StatsFunc func() (pending, active int)

// Poll 定期更新狀態指標直到 ctx 結束
func (c *Collector) Poll(ctx context.Context, interval time.Duration, stats StatsFunc) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		c.UpdateQueueStats(stats())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Handler 回傳 /metrics 的 HTTP handler
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
