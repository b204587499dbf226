package media

import (
	"fmt"
	"time"
)

// TrackInfo はトラックの概要
type TrackInfo struct {
	Index       int           `json:"index"`
	Kind        Kind          `json:"kind"`
	MIME        string        `json:"mime"`
	SampleCount int           `json:"sample_count"`
	Duration    time.Duration `json:"duration"`
	Width       int           `json:"width,omitempty"`
	Height      int           `json:"height,omitempty"`
	Channels    int           `json:"channels,omitempty"`
	SampleRate  int           `json:"sample_rate,omitempty"`
}

// Info はメディアファイルの概要
type Info struct {
	Path     string        `json:"path"`
	Duration time.Duration `json:"duration"`
	Tracks   []TrackInfo   `json:"tracks"`
}

// Probe はファイルを開いてトラック情報を取得する
func Probe(container Container, path string) (*Info, error) {
	demuxer, err := container.OpenDemuxer(path)
	if err != nil {
		return nil, fmt.Errorf("ファイルを開けません (%s): %w", path, err)
	}
	defer func() {
		_ = demuxer.Close()
	}()

	tracks := demuxer.Tracks()
	info := &Info{
		Path:   path,
		Tracks: make([]TrackInfo, 0, len(tracks)),
	}

	for _, track := range tracks {
		info.Tracks = append(info.Tracks, TrackInfo{
			Index:       track.Index,
			Kind:        track.Format.Kind(),
			MIME:        track.Format.MIME,
			SampleCount: track.SampleCount,
			Duration:    track.Duration,
			Width:       track.Format.Width,
			Height:      track.Format.Height,
			Channels:    track.Format.Channels,
			SampleRate:  track.Format.SampleRate,
		})

		// 全体の長さは最長トラックに合わせる
		if track.Duration > info.Duration {
			info.Duration = track.Duration
		}
	}

	return info, nil
}
