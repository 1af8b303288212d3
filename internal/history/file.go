package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ChuLiYu/genqueue/pkg/types"
)

// FileStore 以單一 JSON 檔案保存歷史
type FileStore struct {
	path  string     // 歷史檔案路徑
	limit int        // 保留筆數上限
	mu    sync.Mutex // 保護檔案操作
}

// NewFileStore 建立檔案後端；limit <= 0 使用 MaxEntries
func NewFileStore(path string, limit int) *FileStore {
	if path == "" {
		path = DefaultPath()
	}
	if limit <= 0 {
		limit = MaxEntries
	}
	return &FileStore{path: path, limit: limit}
}

// Path 取得歷史檔案路徑（用於 CLI 與除錯）
func (s *FileStore) Path() string {
	return s.path
}

// Save 原子性寫入歷史
//
// 流程：
// 1. 截斷為最新 limit 筆
// 2. 寫入臨時檔案（.tmp）
// 3. 使用 os.Rename 原子性替換原始檔案
func (s *FileStore) Save(_ context.Context, jobs []types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 序列化為 JSON（帶縮排，方便人工閱讀與除錯）
	data, err := json.MarshalIndent(capEntries(jobs, s.limit), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create history dir: %w", err)
		}
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp history: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		// 重新命名失敗，清理臨時檔案
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename history: %w", err)
	}

	return nil
}

// Load 讀取歷史
//
// 行為：
//   - 檔案不存在：回傳空列表（首次啟動）
//   - JSON 損壞：ErrCorruptedHistory
func (s *FileStore) Load(_ context.Context) ([]types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []types.Job{}, nil
		}
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	return decode(data)
}

func decode(data []byte) ([]types.Job, error) {
	var jobs []types.Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedHistory, err)
	}
	if jobs == nil {
		jobs = []types.Job{}
	}
	return jobs, nil
}
