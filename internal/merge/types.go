package merge

import "errors"

// 結合のエラー
var (
	ErrNoInput       = errors.New("no input files")
	ErrNoTracks      = errors.New("no video or audio track in inputs")
	ErrOutputIsInput = errors.New("output path is one of the inputs")
)

// Options は結合の設定
type Options struct {
	KeepInputs bool // 成功後も入力ファイルを残す
}

// Result は結合結果
type Result struct {
	Output       string `json:"output"`        // 出力ファイルパス
	Segments     int    `json:"segments"`      // 結合したセグメント数
	Skipped      int    `json:"skipped"`       // 存在せずスキップした入力数
	VideoSamples int    `json:"video_samples"` // 映像サンプル数
	AudioSamples int    `json:"audio_samples"` // 音声サンプル数
	Moved        bool   `json:"moved"`         // 入力が1つで移動のみ行った
}
