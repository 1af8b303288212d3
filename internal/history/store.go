package history

// ============================================================================
// 職責說明：
// 1. 將任務紀錄（不含 runner 與取消控制）序列化為 JSON 陣列
// 2. 每次寫入只保留最新的 MaxEntries 筆
// 3. 啟動時讀取一次，僅供顯示（載入的任務沒有 runner，不會被重新執行）
// 4. 後端可選：本機檔案（預設）或 Redis
// ============================================================================

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/ChuLiYu/genqueue/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// 歷史資料無法解析
	ErrCorruptedHistory = errors.New("history is corrupted")
)

// MaxEntries 每次寫入保留的最新任務數
const MaxEntries = 200

// FileName 預設歷史檔案名稱
const FileName = "job_history.json"

// Store 歷史紀錄後端
//
// jobs 一律為最新在前；Save 負責截斷至上限
type Store interface {
	Load(ctx context.Context) ([]types.Job, error)
	Save(ctx context.Context, jobs []types.Job) error
}

// DefaultPath 回傳執行檔所在目錄下的 job_history.json
//
// 無法取得執行檔路徑時退回目前工作目錄
func DefaultPath() string {
	exe, err := os.Executable()
	if err != nil {
		return FileName
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), FileName)
}

// capEntries 截斷為最新的 limit 筆並回傳深拷貝
func capEntries(jobs []types.Job, limit int) []types.Job {
	if limit <= 0 {
		limit = MaxEntries
	}
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	out := make([]types.Job, len(jobs))
	for i, job := range jobs {
		out[i] = job.Clone()
	}
	return out
}
