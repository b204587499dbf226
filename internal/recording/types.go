package recording

import (
	"context"
	"errors"
	"fmt"
	"time"

	"democamera/internal/camera"
	"democamera/internal/mediaindex"
	"democamera/internal/merge"
)

// SessionIDPrefix は録画セッションIDの接頭辞
const SessionIDPrefix = "rec-"

// VideoMIME は録画ファイルのMIMEタイプ
const VideoMIME = "video/mp4"

// 録画のエラー
var (
	ErrAlreadyRecording = errors.New("recording already in progress")
	ErrSessionNotFound  = errors.New("recording session not found")
	ErrSessionClosed    = errors.New("recording session already stopped")
	ErrNoActiveSegment  = errors.New("no segment is being recorded")
)

// Status は録画セッションの状態
type Status string

const (
	StatusRecording Status = "recording" // 録画中
	StatusStopping  Status = "stopping"  // 結合中
	StatusCompleted Status = "completed" // 完了
)

// Session は録画セッションのスナップショット
type Session struct {
	ID             string      `json:"id"`
	Status         Status      `json:"status"`
	Lens           camera.Lens `json:"lens"`
	StartedAt      time.Time   `json:"started_at"`
	EndedAt        *time.Time  `json:"ended_at,omitempty"`
	Elapsed        string      `json:"elapsed"`         // MM:SS
	CurrentSegment string      `json:"current_segment"` // 録画中のセグメント
	Segments       []string    `json:"segments"`        // 記録済みのセグメント
	Dropped        int         `json:"dropped"`         // 録画エラーで破棄したセグメント数
}

// Outcome は録画停止の結果
type Outcome struct {
	SessionID string        `json:"session_id"`
	Merged    bool          `json:"merged"`           // 1ファイルに結合できた
	Output    string        `json:"output,omitempty"` // 結合後のファイル
	Files     []string      `json:"files"`            // 保存されたファイル
	Result    *merge.Result `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"` // 結合に失敗した理由
	Message   string        `json:"message"`
	Elapsed   string        `json:"elapsed"`
}

// Merger はセグメントを結合する
type Merger interface {
	Merge(ctx context.Context, output string, inputs ...string) (*merge.Result, error)
}

// Indexer は保存したファイルをメディアインデックスに登録する
type Indexer interface {
	Register(ctx context.Context, path, mime string) (mediaindex.Entry, error)
}

// FormatElapsed は経過時間を MM:SS 形式にする
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	seconds := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// mergedMessage は結合結果の表示メッセージを返す
func mergedMessage(merged bool, n int) string {
	if merged {
		return fmt.Sprintf("Video saved (%d segments merged)", n)
	}
	return fmt.Sprintf("Video saved (%d files)", n)
}
