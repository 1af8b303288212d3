// Package types 定義了 genqueue 系統中使用的核心領域模型
package types

import (
	"fmt"
	"time"
)

// JobID 任務唯一識別碼（uuid 文字格式）
type JobID string

// JobType 任務類別，僅用於顯示與關聯，不影響調度順序
type JobType string

// 定義任務類別常數（封閉集合）
const (
	TypeSceneAnalysis   JobType = "scene_analysis"    // AI 場景分析
	TypeTextToShots     JobType = "text_to_shots"     // 文字轉分鏡
	TypeFrameExtraction JobType = "frame_extraction"  // 影格擷取
	TypeFirstFrameImage JobType = "first_frame_image" // 首幀圖片生成
	TypeLastFrameImage  JobType = "last_frame_image"  // 尾幀圖片生成
	TypeShotVideo       JobType = "shot_video"        // 分鏡影片生成
	TypeFullRender      JobType = "full_render"       // 最終合成輸出
)

// AllJobTypes 依顯示順序列出所有任務類別
var AllJobTypes = []JobType{
	TypeSceneAnalysis,
	TypeTextToShots,
	TypeFrameExtraction,
	TypeFirstFrameImage,
	TypeLastFrameImage,
	TypeShotVideo,
	TypeFullRender,
}

// ParseJobType 解析任務類別字串，不在封閉集合內則回傳錯誤
func ParseJobType(s string) (JobType, error) {
	for _, t := range AllJobTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown job type %q", s)
}

// Valid 檢查任務類別是否屬於封閉集合
func (t JobType) Valid() bool {
	_, err := ParseJobType(string(t))
	return err == nil
}

// JobStatus 任務狀態
type JobStatus string

// 定義任務狀態常數
const (
	StatusQueued    JobStatus = "queued"    // 已入隊：等待取得並發許可
	StatusRunning   JobStatus = "running"   // 執行中：runner 正在處理
	StatusRetrying  JobStatus = "retrying"  // 重試中：上一次嘗試失敗，等待固定延遲
	StatusSucceeded JobStatus = "succeeded" // 成功：某次嘗試正常結束
	StatusFailed    JobStatus = "failed"    // 失敗：用盡嘗試次數或缺少執行器
	StatusCanceled  JobStatus = "canceled"  // 已取消：runner 觀察到取消訊號
)

// AllStatuses 依生命週期順序列出所有狀態
var AllStatuses = []JobStatus{
	StatusQueued,
	StatusRunning,
	StatusRetrying,
	StatusSucceeded,
	StatusFailed,
	StatusCanceled,
}

// IsTerminal 是否為終止狀態（進入後不會再轉換）
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// CanceledMessage 取消時寫入 Job.Error 的固定訊息
const CanceledMessage = "canceled"

// Job 任務結構，代表系統中的一個可追蹤工作單元
//
// Job 一律以值傳遞給呼叫端；只有 registry 持有可變的原始紀錄。
type Job struct {
	// 識別
	ID             JobID   `json:"id"`             // 任務唯一識別碼
	Type           JobType `json:"type"`           // 任務類別
	CorrelationRef string  `json:"correlationRef"` // 來源領域物件參照（例如分鏡編號）

	// 狀態追蹤
	Status      JobStatus `json:"status"`      // 任務當前狀態
	Progress    float64   `json:"progress"`    // 進度 [0,1]
	Error       string    `json:"error"`       // 最後一次失敗訊息
	Attempt     int       `json:"attempt"`     // 目前嘗試次數（1 起算，尚未開始時為 0）
	MaxAttempts int       `json:"maxAttempts"` // 嘗試次數上限

	// 時間管理
	CreatedAt   time.Time  `json:"createdAt"`   // 建立時間
	StartedAt   *time.Time `json:"startedAt"`   // 第一次嘗試開始時間（只設定一次）
	CompletedAt *time.Time `json:"completedAt"` // 進入終止狀態的時間（只設定一次）
}

// Clone 回傳深拷貝，避免呼叫端透過時間指標修改原始紀錄
func (j Job) Clone() Job {
	if j.StartedAt != nil {
		t := *j.StartedAt
		j.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		j.CompletedAt = &t
	}
	return j
}

// Duration 回傳從第一次開始到完成（或現在）的耗時，尚未開始則為 0
func (j Job) Duration(now time.Time) time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	if j.CompletedAt != nil {
		return j.CompletedAt.Sub(*j.StartedAt)
	}
	return now.Sub(*j.StartedAt)
}
