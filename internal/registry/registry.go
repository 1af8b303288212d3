// ============================================================================
// genqueue 任務登錄表 - 任務紀錄的唯一真實來源
// ============================================================================
//
// Package: internal/registry
// 文件: registry.go
// 功能: 保存所有任務紀錄（最新在前），作為觀察者與歷史快照的資料來源
//
// 設計理念:
//   1. jobs map - 統一的任務存儲 (Single Source of Truth)
//   2. order slice - 依建立順序保存 ID，List() 反向輸出即為最新在前
//   3. Update() 是唯一的變更入口，所有狀態轉換都經過同一把鎖
//
// 狀態轉換規則（由 queue 套件驅動，此處只負責守住不變量）:
//   - 終止狀態 (succeeded/failed/canceled) 一旦進入就不能離開
//   - Attempt 永遠不超過 MaxAttempts
//   - CompletedAt 只能設定一次
//
// 並發安全:
//   - sync.RWMutex 保護 jobs 與 order
//   - 對外一律回傳拷貝，呼叫端無法繞過 Update() 修改紀錄
//
// 生命週期:
//   - 登錄表只會成長，不會自動移除任務
//   - 歷史檔案的 200 筆上限只作用於持久化，不作用於記憶體
//
// ============================================================================

package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ChuLiYu/genqueue/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// 任務 ID 重複錯誤
	ErrDuplicateJob = errors.New("job already exists")
	// 任務不存在
	ErrJobNotFound = errors.New("job not found")
	// 任務已在終止狀態，不接受任何變更
	ErrTerminal = errors.New("job is in a terminal state")
	// 變更違反不變量（例如 Attempt 超過上限）
	ErrInvalidTransition = errors.New("invalid job transition")
)

// Mutator 在鎖內修改任務紀錄；回傳 false 表示沒有變更（不需提交）
type Mutator func(job *types.Job) bool

// Registry 任務登錄表
type Registry struct {
	mu    sync.RWMutex
	jobs  map[types.JobID]*types.Job // 所有任務的統一儲存
	order []types.JobID              // 依建立順序（最舊在前）
}

// New 建立空的任務登錄表
func New() *Registry {
	return &Registry{
		jobs:  make(map[types.JobID]*types.Job),
		order: make([]types.JobID, 0),
	}
}

// Add 新增任務紀錄，邏輯上置於列表最前面（最新）
//
// 錯誤處理：
//   - ErrDuplicateJob: 任務 ID 已存在
func (r *Registry) Add(job types.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}

	stored := job.Clone()
	r.jobs[job.ID] = &stored
	r.order = append(r.order, job.ID)
	return nil
}

// Get 取得任務拷貝
func (r *Registry) Get(id types.JobID) (types.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return types.Job{}, false
	}
	return job.Clone(), true
}

// List 回傳所有任務拷貝，最新在前
func (r *Registry) List() []types.Job {
	return r.Snapshot(0)
}

// Snapshot 回傳最新的 limit 筆任務拷貝（limit <= 0 表示全部），最新在前
//
// 用途：歷史檔案寫入（上限 200 筆）與 API 列表
func (r *Registry) Snapshot(limit int) []types.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.order)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]types.Job, 0, n)
	for i := len(r.order) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, r.jobs[r.order[i]].Clone())
	}
	return out
}

// Len 回傳任務總數
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Update 以 mutate 修改任務，這是唯一的狀態變更入口
//
// 流程：
//  1. 複製目前紀錄
//  2. 在拷貝上執行 mutate
//  3. 檢查不變量，通過才提交
//
// 返回值：
//   - types.Job: 提交後（或未變更時）的任務拷貝
//   - bool: 是否有提交變更
//   - error: ErrJobNotFound / ErrTerminal / ErrInvalidTransition
func (r *Registry) Update(id types.JobID, mutate Mutator) (types.Job, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.jobs[id]
	if !ok {
		return types.Job{}, false, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if current.Status.IsTerminal() {
		return current.Clone(), false, ErrTerminal
	}

	next := current.Clone()
	if !mutate(&next) {
		return current.Clone(), false, nil
	}

	if err := checkTransition(current, &next); err != nil {
		return current.Clone(), false, err
	}

	*current = next
	return current.Clone(), true, nil
}

// checkTransition 檢查一次變更是否守住不變量
func checkTransition(prev *types.Job, next *types.Job) error {
	switch {
	case next.ID != prev.ID:
		return fmt.Errorf("%w: id is immutable", ErrInvalidTransition)
	case next.Attempt > next.MaxAttempts:
		return fmt.Errorf("%w: attempt %d exceeds max %d", ErrInvalidTransition, next.Attempt, next.MaxAttempts)
	case next.Attempt < prev.Attempt:
		return fmt.Errorf("%w: attempt cannot go backwards", ErrInvalidTransition)
	case prev.StartedAt != nil && (next.StartedAt == nil || !next.StartedAt.Equal(*prev.StartedAt)):
		return fmt.Errorf("%w: startedAt is set once", ErrInvalidTransition)
	case next.Status.IsTerminal() && next.CompletedAt == nil:
		return fmt.Errorf("%w: terminal status requires completedAt", ErrInvalidTransition)
	case !next.Status.IsTerminal() && next.CompletedAt != nil:
		return fmt.Errorf("%w: completedAt set on non-terminal status", ErrInvalidTransition)
	}
	return nil
}

// Stats 取得各狀態任務的統計資訊
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]int, len(types.AllStatuses))
	for _, s := range types.AllStatuses {
		stats[string(s)] = 0
	}
	for _, job := range r.jobs {
		stats[string(job.Status)]++
	}
	return stats
}

// ============================================================================
// 歷史恢復
// ============================================================================

// Restore 從歷史紀錄載入任務（僅供顯示）
//
// 參數說明：
//   - jobs: 歷史任務，最新在前（與 Snapshot 輸出順序相同）
//
// 行為：
//   - 清空現有狀態後載入
//   - 重複 ID 只保留第一筆（最新的一筆）
//
// 返回值：
//   - int: 實際載入的筆數
func (r *Registry) Restore(jobs []types.Job) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs = make(map[types.JobID]*types.Job, len(jobs))
	r.order = make([]types.JobID, 0, len(jobs))

	// 由舊到新寫入 order，使 List() 維持最新在前
	for i := len(jobs) - 1; i >= 0; i-- {
		job := jobs[i].Clone()
		if job.ID == "" {
			continue
		}
		if _, exists := r.jobs[job.ID]; exists {
			// 新的那筆稍後才會出現，覆蓋舊紀錄並移到前面
			r.removeLocked(job.ID)
		}
		r.jobs[job.ID] = &job
		r.order = append(r.order, job.ID)
	}
	return len(r.order)
}

func (r *Registry) removeLocked(id types.JobID) {
	delete(r.jobs, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
