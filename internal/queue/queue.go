// ============================================================================
// genqueue Queue - 任務排程核心
// ============================================================================
//
// Package: internal/queue
// 文件: queue.go
// 功能: 接收任務、依 FIFO 放行、以全域上限控制並發、重試、取消與進度回報
//
// 架構設計:
//   Queue 協調以下組件：
//   - Registry: 任務紀錄（唯一的可變狀態）
//   - Admission: 無上限 FIFO，Enqueue 寫入、Worker Loop 讀取
//   - Gate: 並發許可（預設 2）
//   - History: 每次狀態轉換後寫入快照（失敗僅記錄，不影響任務）
//   - Bus: 每次提交變更後發布事件
//
// 資料流:
//   Enqueue → Registry.Add + History.Save → Admission.Push
//           → Worker Loop Pop → goroutine: Gate.Acquire → attempt loop
//           → 每次轉換: Registry.Update + History.Save + Bus.Publish
//
// Worker Loop:
//   只有一個，依序讀取 ID；每個 ID 交給獨立 goroutine 等待許可並執行，
//   Loop 本身從不等待許可或執行結束。goroutine 之間以 channel 串接，
//   許可依入隊順序發放。
//
// 單一寫入者:
//   所有狀態變更都經過 commit()，commitMu 保證「套用順序 == 事件順序」
//
// 關閉流程:
//  1. Admission.Close() → 新的 Enqueue 回傳 ErrQueueStopped
//  2. Worker Loop 取完剩餘 ID 後退出（從未啟動時剩餘任務直接標記為取消）
//  3. 等待所有執行結束；ctx 到期則取消所有任務再等待
//  4. 寫入最後一次歷史並關閉事件匯流排
//
// ============================================================================

package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ChuLiYu/genqueue/internal/admission"
	"github.com/ChuLiYu/genqueue/internal/events"
	"github.com/ChuLiYu/genqueue/internal/gate"
	"github.com/ChuLiYu/genqueue/internal/history"
	"github.com/ChuLiYu/genqueue/internal/registry"
	"github.com/ChuLiYu/genqueue/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// 任務沒有對應的 runner（例如從歷史載入的任務）
	ErrMissingExecutor = errors.New("missing executor")
	// 取消訊號；runner 可回傳此錯誤或 context.Canceled
	ErrCanceled = errors.New(types.CanceledMessage)
	// Queue 已停止，不再接受任務
	ErrQueueStopped = errors.New("queue is stopped")
	// 重複啟動
	ErrAlreadyStarted = errors.New("queue is already started")
	// 任務不存在
	ErrJobNotFound = registry.ErrJobNotFound
	// runner 為 nil
	ErrNilRunner = errors.New("runner is nil")
	// 任務類別不在封閉集合內
	ErrInvalidJobType = errors.New("invalid job type")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// 預設值
const (
	DefaultConcurrency = gate.DefaultLimit
	DefaultMaxAttempts = 2
	DefaultRetryDelay  = 300 * time.Millisecond
)

// Config Queue 配置
type Config struct {
	Concurrency        int           // 並發上限
	DefaultMaxAttempts int           // Enqueue 傳入 0 時使用的嘗試次數
	RetryDelay         time.Duration // 重試前的固定延遲
	HistoryLimit       int           // 歷史快照筆數上限
}

// DefaultConfig 回傳預設配置
func DefaultConfig() Config {
	return Config{
		Concurrency:        DefaultConcurrency,
		DefaultMaxAttempts: DefaultMaxAttempts,
		RetryDelay:         DefaultRetryDelay,
		HistoryLimit:       history.MaxEntries,
	}
}

// Runner 任務執行邏輯
//
// runner 應定期檢查 ctx，並在有意義的里程碑回報進度。
// 回傳 nil 表示成功；回傳錯誤時其訊息成為 Job.Error。
type Runner func(ctx context.Context, progress ProgressFunc) error

// handle 每個任務的執行資源（不序列化、不持久化）
type handle struct {
	runner Runner
	ctx    context.Context
	cancel context.CancelFunc
}

// Queue 任務排程核心
type Queue struct {
	cfg        Config
	log        *slog.Logger
	registry   *registry.Registry
	admission  *admission.Channel
	gate       *gate.Gate
	store      history.Store
	bus        *events.Bus
	backoff    Strategy
	middleware []Middleware
	now        func() time.Time

	handlesMu sync.Mutex
	handles   map[types.JobID]*handle

	commitMu sync.Mutex // 保證狀態套用順序與事件發布順序一致

	admittedMu sync.Mutex
	admitted   []types.JobID // Worker Loop 放行順序

	stateMu   sync.Mutex
	started   bool
	stopped   bool
	startTime time.Time

	loopWg sync.WaitGroup // Worker Loop
	execWg sync.WaitGroup // 執行中的任務 goroutine
}

// ============================================================================
// 建立與生命週期
// ============================================================================

// New 建立 Queue 並從歷史載入任務（僅供顯示）
func New(cfg Config, opts ...Option) (*Queue, error) {
	def := DefaultConfig()
	if cfg.Concurrency < 1 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.DefaultMaxAttempts < 1 {
		cfg.DefaultMaxAttempts = def.DefaultMaxAttempts
	}
	if cfg.RetryDelay < 0 {
		return nil, fmt.Errorf("retry delay must not be negative: %s", cfg.RetryDelay)
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}

	q := &Queue{
		cfg:       cfg,
		log:       slog.Default(),
		registry:  registry.New(),
		admission: admission.New(),
		gate:      gate.New(cfg.Concurrency),
		bus:       events.NewBus(),
		backoff:   NewConstant(cfg.RetryDelay),
		now:       time.Now,
		handles:   make(map[types.JobID]*handle),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.log = q.log.With("component", "queue")
	q.middleware = append([]Middleware{Recover(q.log)}, q.middleware...)

	q.loadHistory()
	return q, nil
}

// loadHistory 啟動時讀取一次歷史；錯誤只記錄
func (q *Queue) loadHistory() {
	if q.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	jobs, err := q.store.Load(ctx)
	if err != nil {
		q.log.Warn("history load failed", "error", err)
		return
	}
	n := q.registry.Restore(jobs)
	q.log.Info("history loaded", "jobs", n)
}

// Start 啟動 Worker Loop
func (q *Queue) Start(ctx context.Context) error {
	q.stateMu.Lock()
	defer q.stateMu.Unlock()

	if q.stopped {
		return ErrQueueStopped
	}
	if q.started {
		return ErrAlreadyStarted
	}
	q.started = true
	q.startTime = q.now()

	q.loopWg.Add(1)
	go q.workerLoop(context.WithoutCancel(ctx))

	q.log.Info("queue started",
		"concurrency", q.gate.Limit(),
		"retry_delay", q.cfg.RetryDelay)
	return nil
}

// Stop 優雅關閉
//
// ctx 到期時取消所有未完成任務（協作式），再等待其結束
func (q *Queue) Stop(ctx context.Context) error {
	q.stateMu.Lock()
	if q.stopped {
		q.stateMu.Unlock()
		return nil
	}
	q.stopped = true
	started := q.started
	q.stateMu.Unlock()

	q.admission.Close()
	if started {
		q.loopWg.Wait()
	} else {
		// 從未啟動：已入隊的任務不會執行，標記為取消
		for {
			id, err := q.admission.Pop(context.Background())
			if err != nil {
				break
			}
			q.abandon(id)
		}
	}

	done := make(chan struct{})
	go func() {
		q.execWg.Wait()
		close(done)
	}()

	var stopErr error
	select {
	case <-done:
	case <-ctx.Done():
		q.log.Warn("shutdown deadline reached, canceling unfinished jobs")
		q.cancelAll()
		<-done
		stopErr = ctx.Err()
	}

	q.persist()
	q.bus.Close()

	q.log.Info("queue stopped", "jobs", q.registry.Len())
	return stopErr
}

// ============================================================================
// Worker Loop
// ============================================================================

// workerLoop 依 FIFO 讀取 ID，為每個 ID 啟動執行 goroutine 後立即讀下一個
//
// 每個 goroutine 先等前一個 ID 取得許可才呼叫 Acquire，
// 因此許可的發放順序與讀取順序相同。
func (q *Queue) workerLoop(ctx context.Context) {
	defer q.loopWg.Done()

	prev := make(chan struct{})
	close(prev)
	for {
		id, err := q.admission.Pop(ctx)
		if err != nil {
			if !errors.Is(err, admission.ErrClosed) {
				q.log.Error("admission read failed", "error", err)
			}
			q.log.Info("worker loop stopped")
			return
		}

		offered := make(chan struct{})
		q.execWg.Add(1)
		go q.dispatch(id, prev, offered)
		prev = offered
	}
}

// dispatch 等前一個任務取得許可後，取得許可並執行任務
//
// 已取消但尚未開始的任務同樣會佔用許可並進入 runner
func (q *Queue) dispatch(id types.JobID, prev <-chan struct{}, offered chan<- struct{}) {
	defer q.execWg.Done()

	<-prev
	err := q.gate.Acquire(context.Background())
	if err == nil {
		q.admittedMu.Lock()
		q.admitted = append(q.admitted, id)
		q.admittedMu.Unlock()
	}
	close(offered)
	if err != nil {
		q.log.Error("gate acquire failed", "job_id", id, "error", err)
		return
	}
	defer q.gate.Release()

	q.execute(id)
}

// ============================================================================
// 公開方法
// ============================================================================

// Enqueue 建立任務並放入 FIFO，立即回傳
//
// 參數：
//   - jobType: 任務類別（封閉集合）
//   - correlationRef: 來源物件參照，可為空
//   - runner: 執行邏輯，不可為 nil
//   - maxAttempts: 嘗試次數上限；0 使用預設值，負數視為 1
func (q *Queue) Enqueue(jobType types.JobType, correlationRef string, runner Runner, maxAttempts int) (types.Job, error) {
	if runner == nil {
		return types.Job{}, ErrNilRunner
	}
	if !jobType.Valid() {
		return types.Job{}, fmt.Errorf("%w %q", ErrInvalidJobType, jobType)
	}
	switch {
	case maxAttempts == 0:
		maxAttempts = q.cfg.DefaultMaxAttempts
	case maxAttempts < 1:
		maxAttempts = 1
	}

	q.stateMu.Lock()
	stopped := q.stopped
	q.stateMu.Unlock()
	if stopped {
		return types.Job{}, ErrQueueStopped
	}

	job := types.Job{
		ID:             types.JobID(uuid.NewString()),
		Type:           jobType,
		CorrelationRef: correlationRef,
		Status:         types.StatusQueued,
		Progress:       0,
		MaxAttempts:    maxAttempts,
		CreatedAt:      q.now(),
	}

	// 取消控制在 Enqueue 時建立，整個生命週期只有一個
	ctx, cancel := context.WithCancel(context.Background())
	q.handlesMu.Lock()
	q.handles[job.ID] = &handle{runner: runner, ctx: ctx, cancel: cancel}
	q.handlesMu.Unlock()

	q.commitMu.Lock()
	if err := q.registry.Add(job); err != nil {
		q.commitMu.Unlock()
		q.dropHandle(job.ID)
		return types.Job{}, err
	}
	q.persist()
	q.bus.Publish(events.Event{Type: events.JobEnqueued, Job: job.Clone(), At: job.CreatedAt})
	q.commitMu.Unlock()

	if err := q.admission.Push(job.ID); err != nil {
		// Stop 與 Enqueue 競爭：任務已登錄但不會執行，直接標記為取消
		q.log.Warn("enqueue raced with shutdown", "job_id", job.ID)
		q.abandon(job.ID)
		return q.mustGet(job.ID), ErrQueueStopped
	}

	q.log.Debug("job enqueued",
		"job_id", job.ID,
		"type", job.Type,
		"max_attempts", job.MaxAttempts)
	return job.Clone(), nil
}

// Cancel 請求協作式取消
//
// 終止狀態的任務為 no-op；不存在的任務回傳 ErrJobNotFound
func (q *Queue) Cancel(id types.JobID) error {
	job, ok := q.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.Status.IsTerminal() {
		return nil
	}

	q.handlesMu.Lock()
	h := q.handles[id]
	q.handlesMu.Unlock()
	if h == nil {
		// 從歷史載入的任務沒有取消控制
		return nil
	}

	h.cancel()
	q.log.Info("cancel requested", "job_id", id, "status", job.Status)
	return nil
}

// Get 取得任務拷貝
func (q *Queue) Get(id types.JobID) (types.Job, bool) {
	return q.registry.Get(id)
}

// List 回傳所有任務（最新在前）
func (q *Queue) List() []types.Job {
	return q.registry.List()
}

// Subscribe 訂閱任務事件
func (q *Queue) Subscribe(buffer int) *events.Subscription {
	return q.bus.Subscribe(buffer)
}

// Unsubscribe 取消訂閱
func (q *Queue) Unsubscribe(sub *events.Subscription) {
	q.bus.Unsubscribe(sub)
}

// Stats 系統狀態
type Stats struct {
	Uptime      string         `json:"uptime"`
	Concurrency int            `json:"concurrency"`
	Active      int            `json:"active"`  // 持有許可的任務數
	Pending     int            `json:"pending"` // 尚未被 Worker Loop 讀取的 ID 數
	Jobs        map[string]int `json:"jobs"`    // 各狀態任務數
	Events      events.Stats   `json:"events"`
}

// Stats 取得系統狀態
func (q *Queue) Stats() Stats {
	q.stateMu.Lock()
	var uptime time.Duration
	if q.started {
		uptime = q.now().Sub(q.startTime)
	}
	q.stateMu.Unlock()

	return Stats{
		Uptime:      uptime.Round(time.Millisecond).String(),
		Concurrency: q.gate.Limit(),
		Active:      q.gate.InUse(),
		Pending:     q.admission.Len(),
		Jobs:        q.registry.Stats(),
		Events:      q.bus.Stats(),
	}
}

// Running Worker Loop 是否已啟動且尚未停止
func (q *Queue) Running() bool {
	q.stateMu.Lock()
	defer q.stateMu.Unlock()
	return q.started && !q.stopped
}

// Observe 註冊同步事件處理器（在提交狀態的 goroutine 上依序呼叫，不會遺漏）
//
// 用於指標與日誌這類必須看到每個轉換的內部消費者；處理器必須快速返回。
func (q *Queue) Observe(fn events.Handler) (remove func()) {
	return q.bus.Observe(fn)
}

// Admitted 回傳任務取得並發許可的順序
func (q *Queue) Admitted() []types.JobID {
	q.admittedMu.Lock()
	defer q.admittedMu.Unlock()
	out := make([]types.JobID, len(q.admitted))
	copy(out, q.admitted)
	return out
}

// ============================================================================
// 內部輔助方法
// ============================================================================

// commit 套用一次狀態轉換；成功提交時寫入歷史並發布事件
func (q *Queue) commit(id types.JobID, mutate registry.Mutator, evt events.Type) (types.Job, bool) {
	return q.commitWith(id, mutate, evt, true)
}

// commitWith persist 為 false 時不寫歷史（進度回報）
func (q *Queue) commitWith(id types.JobID, mutate registry.Mutator, evt events.Type, persist bool) (types.Job, bool) {
	q.commitMu.Lock()
	defer q.commitMu.Unlock()

	job, changed, err := q.registry.Update(id, mutate)
	if err != nil {
		if !errors.Is(err, registry.ErrTerminal) {
			q.log.Error("job update rejected", "job_id", id, "event", evt, "error", err)
		}
		return job, false
	}
	if !changed {
		return job, false
	}

	if persist {
		q.persist()
	}
	q.bus.Publish(events.Event{Type: evt, Job: job, At: q.now()})
	return job, true
}

// persist 寫入歷史快照；錯誤只記錄不回傳
func (q *Queue) persist() {
	if q.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := q.store.Save(ctx, q.registry.Snapshot(q.cfg.HistoryLimit)); err != nil {
		q.log.Debug("history save failed", "error", err)
	}
}

func (q *Queue) lookupHandle(id types.JobID) *handle {
	q.handlesMu.Lock()
	defer q.handlesMu.Unlock()
	return q.handles[id]
}

// dropHandle 釋放任務的 runner 與取消控制
func (q *Queue) dropHandle(id types.JobID) {
	q.handlesMu.Lock()
	h := q.handles[id]
	delete(q.handles, id)
	q.handlesMu.Unlock()
	if h != nil {
		h.cancel()
	}
}

// abandon 將不會被執行的任務標記為取消並釋放其資源
func (q *Queue) abandon(id types.JobID) {
	q.dropHandle(id)
	q.commit(id, func(j *types.Job) bool {
		return markTerminal(j, types.StatusCanceled, types.CanceledMessage, q.now())
	}, events.JobCanceled)
}

func (q *Queue) cancelAll() {
	q.handlesMu.Lock()
	defer q.handlesMu.Unlock()
	for _, h := range q.handles {
		h.cancel()
	}
}

func (q *Queue) mustGet(id types.JobID) types.Job {
	job, _ := q.registry.Get(id)
	return job
}
