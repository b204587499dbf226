package media

import (
	"errors"
	"strings"
	"time"
)

// Kind はトラックの種別
type Kind string

const (
	KindVideo Kind = "video" // 映像
	KindAudio Kind = "audio" // 音声
	KindOther Kind = "other" // それ以外（字幕・メタデータ等）
)

// MIMEタイプの接頭辞
const (
	VideoMIMEPrefix = "video/"
	AudioMIMEPrefix = "audio/"
)

// 共通エラー
var (
	ErrTrackNotFound       = errors.New("track not found")
	ErrMuxerStarted        = errors.New("muxer already started")
	ErrMuxerNotStarted     = errors.New("muxer not started")
	ErrMuxerStopped        = errors.New("muxer already stopped")
	ErrNonMonotonic        = errors.New("decode time went backwards")
	ErrNoSampleDescription = errors.New("format has no sample description")
)

// KindOf はMIMEタイプからトラック種別を判定する
func KindOf(mime string) Kind {
	switch {
	case strings.HasPrefix(mime, VideoMIMEPrefix):
		return KindVideo
	case strings.HasPrefix(mime, AudioMIMEPrefix):
		return KindAudio
	default:
		return KindOther
	}
}

// Format はトラックのフォーマット情報
type Format struct {
	MIME       string // 例: video/avc, audio/mp4a-latm
	Timescale  uint32 // 1秒あたりのティック数
	Width      int    // 映像の幅
	Height     int    // 映像の高さ
	Channels   int    // 音声のチャンネル数
	SampleRate int    // 音声のサンプリングレート
	Language   string // ISO-639-2 言語コード

	// Description はコーデック設定。MP4では stsd ボックスそのもの
	Description []byte
}

// Kind はフォーマットのトラック種別を返す
func (f Format) Kind() Kind {
	return KindOf(f.MIME)
}

// Track はコンテナ内の1トラック
type Track struct {
	Index       int
	Format      Format
	SampleCount int
	Duration    time.Duration
}

// Sample は1サンプル（1フレームまたは1音声ブロック）
type Sample struct {
	Data             []byte
	DecodeTime       time.Duration
	PresentationTime time.Duration
	Duration         time.Duration
	Sync             bool // キーフレーム
}

// End はサンプルのデコード終了時刻を返す
func (s Sample) End() time.Duration {
	return s.DecodeTime + s.Duration
}

// Demuxer はコンテナからサンプルを読み出す
type Demuxer interface {
	// Tracks はトラック一覧を返す
	Tracks() []Track

	// ReadSample は指定トラックの次のサンプルを返す。終端では io.EOF
	ReadSample(track int) (Sample, error)

	// Close はリソースを解放する
	Close() error
}

// Muxer はサンプルをコンテナに書き込む
type Muxer interface {
	// AddTrack はトラックを登録し、出力トラック番号を返す。Start前のみ
	AddTrack(format Format) (int, error)

	// Start はヘッダーを書き込み、サンプル書き込みを開始する
	Start() error

	// WriteSample はサンプルを書き込む
	WriteSample(track int, sample Sample) error

	// Stop はコンテナを確定する
	Stop() error

	// Close はリソースを解放する
	Close() error
}

// Container はファイルパスからDemuxer/Muxerを生成する
type Container interface {
	OpenDemuxer(path string) (Demuxer, error)
	CreateMuxer(path string) (Muxer, error)
}
