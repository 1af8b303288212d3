package journal

// ============================================================================
// 任務事件日誌（append-only）
// 職責：
// 1. 將每次狀態轉換追加為一行 JSON（含序號與 CRC32 校驗和）
// 2. 提供重放功能，用於稽核與 `genqueue journal` 指令
// 3. 支援日誌旋轉
//
// 與歷史檔案的差異：
//   - 歷史檔案只保存每個任務的最後狀態（最多 200 筆）
//   - 日誌保存完整的轉換序列（不含進度回報），不截斷
//   - 兩者皆為資訊用途，不用於恢復執行中的任務
// ============================================================================

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ChuLiYu/genqueue/internal/events"
	"github.com/ChuLiYu/genqueue/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// 無法解析的日誌行
	ErrCorruptedJournal = errors.New("journal: file is corrupted")
	// 校驗和不符
	ErrChecksumMismatch = errors.New("journal: checksum mismatch")
	// 日誌已關閉
	ErrClosed = errors.New("journal: already closed")
)

// Record 日誌中的一筆紀錄
type Record struct {
	Seq       uint64          `json:"seq"`             // 單調遞增序號
	Type      events.Type     `json:"type"`            // 事件類型
	JobID     types.JobID     `json:"jobId"`           // 任務 ID
	JobType   types.JobType   `json:"jobType"`         // 任務類別
	Status    types.JobStatus `json:"status"`          // 轉換後狀態
	Attempt   int             `json:"attempt"`         // 轉換後嘗試次數
	Error     string          `json:"error,omitempty"` // 轉換後錯誤訊息
	Timestamp int64           `json:"timestamp"`       // Unix 毫秒
	Checksum  uint32          `json:"checksum"`        // CRC32 校驗和
}

// Handler 重放時處理每筆紀錄
type Handler func(rec Record) error

// Journal append-only 事件日誌
type Journal struct {
	mu           sync.Mutex
	file         *os.File
	encoder      *json.Encoder
	path         string
	seq          uint64
	syncOnAppend bool
	closed       bool
}

// ============================================================================
// 公開介面
// ============================================================================

// Open 建立或開啟日誌
//
// 行為：
// - 檔案（與上層目錄）不存在時建立，seq 從 0 開始
// - 檔案已存在時讀取最後一筆的 seq 並繼續
// - 以 O_APPEND 開啟，確保寫入不覆蓋
func Open(path string, syncOnAppend bool) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	var seq uint64
	if last, err := lastRecord(path); err == nil && last != nil {
		seq = last.Seq
	}

	return &Journal{
		file:         file,
		encoder:      json.NewEncoder(file),
		path:         path,
		seq:          seq,
		syncOnAppend: syncOnAppend,
	}, nil
}

// Path 取得日誌檔案路徑
func (j *Journal) Path() string {
	return j.path
}

// Append 追加一筆狀態轉換
//
// 進度事件不寫入日誌
func (j *Journal) Append(evt events.Event) error {
	if evt.Type == events.JobProgress {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrClosed
	}

	at := evt.At
	if at.IsZero() {
		at = time.Now()
	}

	j.seq++
	rec := Record{
		Seq:       j.seq,
		Type:      evt.Type,
		JobID:     evt.Job.ID,
		JobType:   evt.Job.Type,
		Status:    evt.Job.Status,
		Attempt:   evt.Job.Attempt,
		Error:     evt.Job.Error,
		Timestamp: at.UnixMilli(),
	}
	rec.Checksum = Checksum(rec)

	if err := j.encoder.Encode(rec); err != nil {
		j.seq--
		return fmt.Errorf("journal: append seq=%d: %w", rec.Seq, err)
	}
	if j.syncOnAppend {
		if err := j.file.Sync(); err != nil {
			return fmt.Errorf("journal: sync: %w", err)
		}
	}
	return nil
}

// Observer 回傳可註冊到事件匯流排的同步處理器
//
// 寫入錯誤交由 onError 處理（可為 nil），不會影響任務狀態
func (j *Journal) Observer(onError func(error)) events.Handler {
	return func(evt events.Event) {
		if err := j.Append(evt); err != nil && onError != nil {
			onError(err)
		}
	}
}

// Replay 依序重放所有紀錄
//
// 行為：
// - 驗證每筆紀錄的 checksum
// - 遇到錯誤立即停止
func (j *Journal) Replay(handler Handler) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return ReplayFile(j.path, handler)
}

// ReplayFile 不開啟寫入端，直接重放指定檔案（供 CLI 使用）
func ReplayFile(path string, handler Handler) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("%w: line %d: %v", ErrCorruptedJournal, line, err)
		}
		if !VerifyChecksum(rec) {
			return fmt.Errorf("%w: seq=%d", ErrChecksumMismatch, rec.Seq)
		}
		if err := handler(rec); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// Rotate 將目前檔案改名備份並重新開始
func (j *Journal) Rotate() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrClosed
	}
	if err := j.file.Close(); err != nil {
		return err
	}

	backupPath := j.path + "." + time.Now().Format("20060102_150405.000")
	if err := os.Rename(j.path, backupPath); err != nil {
		return err
	}

	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	j.file = file
	j.encoder = json.NewEncoder(file)
	j.seq = 0
	return nil
}

// LastSeq 取得目前序號
func (j *Journal) LastSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Close 關閉日誌；關閉後的實例不可重用
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	if err := j.file.Sync(); err != nil {
		_ = j.file.Close()
		return err
	}
	return j.file.Close()
}

// ============================================================================
// 內部輔助方法
// ============================================================================

// lastRecord 讀取檔案中的最後一筆紀錄（檔案為空時回傳 nil）
func lastRecord(path string) (*Record, error) {
	var last *Record
	err := ReplayFile(path, func(rec Record) error {
		r := rec
		last = &r
		return nil
	})
	if err != nil {
		return last, err
	}
	return last, nil
}
