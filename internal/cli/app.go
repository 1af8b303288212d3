package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ChuLiYu/genqueue/internal/api"
	"github.com/ChuLiYu/genqueue/internal/config"
	"github.com/ChuLiYu/genqueue/internal/history"
	"github.com/ChuLiYu/genqueue/internal/journal"
	"github.com/ChuLiYu/genqueue/internal/metrics"
	"github.com/ChuLiYu/genqueue/internal/queue"
	"github.com/ChuLiYu/genqueue/internal/runners"
	"github.com/ChuLiYu/genqueue/pkg/types"
)

// app 組裝 Queue 與其周邊組件（歷史、日誌、指標）
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	queue   *queue.Queue
	runners *runners.Registry

	journal   *journal.Journal
	collector *metrics.Collector
	closers   []func() error

	cancel  context.CancelFunc
	pollers sync.WaitGroup // 定期任務，cancel 後結束
}

// newApp 依配置建立所有組件，尚未啟動
func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		log:     log,
		runners: runners.Default(),
	}

	store, closer, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}

	opts := []queue.Option{
		queue.WithLogger(log),
		queue.WithMiddleware(queue.Tracing()),
	}
	if store != nil {
		opts = append(opts, queue.WithHistory(store))
	}

	q, err := queue.New(cfg.QueueOptions(), opts...)
	if err != nil {
		_ = a.close()
		return nil, fmt.Errorf("failed to create queue: %w", err)
	}
	a.queue = q

	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path, cfg.Journal.Sync)
		if err != nil {
			_ = a.close()
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		a.journal = j
		a.closers = append(a.closers, j.Close)
	}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.collector = metrics.NewCollector(reg)
	}
	return a, nil
}

// buildStore 依 history.backend 選擇儲存後端
func buildStore(cfg *config.Config) (history.Store, func() error, error) {
	switch cfg.History.Backend {
	case config.BackendNone:
		return nil, nil, nil
	case config.BackendRedis:
		rs, err := history.NewRedisStoreFromURL(cfg.History.RedisURL, cfg.History.RedisKey, cfg.History.MaxEntries)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create redis history store: %w", err)
		}
		return rs, rs.Close, nil
	default:
		return history.NewFileStore(cfg.History.Path, cfg.History.MaxEntries), nil, nil
	}
}

// start 啟動 Queue 與事件消費者
func (a *app) start(ctx context.Context) error {
	// 日誌與指標必須看到每個轉換：以同步 Observer 註冊（不經緩衝訂閱，不會掉事件），
	// 且必須在 Start 之前註冊
	if a.journal != nil {
		a.queue.Observe(a.journal.Observer(func(err error) {
			a.log.Warn("journal append failed", "error", err)
		}))
	}
	if a.collector != nil {
		a.queue.Observe(a.collector.Observe)

		pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		a.cancel = cancel
		a.pollers.Add(1)
		go func() {
			defer a.pollers.Done()
			a.collector.Poll(pollCtx, a.cfg.Metrics.PollInterval, func() (int, int) {
				s := a.queue.Stats()
				return s.Pending, s.Active
			})
		}()
	}

	if err := a.queue.Start(ctx); err != nil {
		_ = a.shutdown(ctx)
		return fmt.Errorf("failed to start queue: %w", err)
	}
	return nil
}

// enqueue 提交一批任務定義到本地 Queue
func (a *app) enqueue(defs []api.EnqueueRequest) ([]types.Job, error) {
	jobs := make([]types.Job, 0, len(defs))
	for i, def := range defs {
		jobType, err := types.ParseJobType(def.Type)
		if err != nil {
			return jobs, fmt.Errorf("job %d: %w", i, err)
		}
		runner, err := a.runners.Build(def.Runner)
		if err != nil {
			return jobs, fmt.Errorf("job %d: %w", i, err)
		}
		job, err := a.queue.Enqueue(jobType, def.CorrelationRef, runner, def.MaxAttempts)
		if err != nil {
			return jobs, fmt.Errorf("job %d: %w", i, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// router 建立 HTTP API
func (a *app) router() http.Handler {
	opts := api.Options{Runners: a.runners, Logger: a.log}
	if a.collector != nil {
		opts.Metrics = a.collector.Handler()
	}
	return api.NewRouter(a.queue, opts)
}

// shutdown 停止 Queue 與定期任務後關閉資源
func (a *app) shutdown(ctx context.Context) error {
	// Stop 返回時所有轉換都已同步寫入日誌與指標
	stopErr := a.queue.Stop(ctx)

	if a.cancel != nil {
		a.cancel()
	}
	a.pollers.Wait()

	return errors.Join(stopErr, a.close())
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
