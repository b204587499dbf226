// Package mediatest はテスト用のフォーマットとサンプルを生成する
package mediatest

import (
	"encoding/binary"
	"fmt"
	"testing"
	"time"

	"democamera/internal/media"
)

// Segment はテスト用セグメントの内容
type Segment struct {
	Tag           string        // サンプルデータの接頭辞
	VideoFrames   int           // 映像サンプル数
	AudioFrames   int           // 音声サンプル数
	FrameDuration time.Duration // 映像1フレームの長さ
	AudioDuration time.Duration // 音声1フレームの長さ
	GOP           int           // キーフレーム間隔（0なら全てキーフレーム）
	Start         time.Duration // 先頭サンプルの時刻
}

// Default は映像25fps・音声20msフレームのセグメントを返す
// どちらの長さもタイムスケールで割り切れる
func Default(tag string, videoFrames, audioFrames int) Segment {
	return Segment{
		Tag:           tag,
		VideoFrames:   videoFrames,
		AudioFrames:   audioFrames,
		FrameDuration: 40 * time.Millisecond,
		AudioDuration: 20 * time.Millisecond,
		GOP:           10,
	}
}

// VideoFormat は avc1 の映像フォーマットを返す
func VideoFormat(width, height int) media.Format {
	return media.Format{
		MIME:        "video/avc",
		Timescale:   90000,
		Width:       width,
		Height:      height,
		Description: VisualSampleDescription("avc1", width, height),
	}
}

// AudioFormat は mp4a の音声フォーマットを返す
func AudioFormat(channels, sampleRate int) media.Format {
	return media.Format{
		MIME:        "audio/mp4a-latm",
		Timescale:   uint32(sampleRate),
		Channels:    channels,
		SampleRate:  sampleRate,
		Description: AudioSampleDescription("mp4a", channels, sampleRate),
	}
}

// VisualSampleDescription は VisualSampleEntry を1つ持つ stsd ボックスを返す
func VisualSampleDescription(fourcc string, width, height int) []byte {
	entry := make([]byte, 86)
	binary.BigEndian.PutUint32(entry[0:], uint32(len(entry)))
	copy(entry[4:8], fourcc)
	binary.BigEndian.PutUint16(entry[14:], 1) // data_reference_index
	binary.BigEndian.PutUint16(entry[32:], uint16(width))
	binary.BigEndian.PutUint16(entry[34:], uint16(height))
	binary.BigEndian.PutUint32(entry[36:], 0x00480000) // 72dpi
	binary.BigEndian.PutUint32(entry[40:], 0x00480000)
	binary.BigEndian.PutUint16(entry[48:], 1) // frame_count
	binary.BigEndian.PutUint16(entry[82:], 0x0018)
	binary.BigEndian.PutUint16(entry[84:], 0xffff)
	return stsd(entry)
}

// AudioSampleDescription は AudioSampleEntry を1つ持つ stsd ボックスを返す
func AudioSampleDescription(fourcc string, channels, sampleRate int) []byte {
	entry := make([]byte, 36)
	binary.BigEndian.PutUint32(entry[0:], uint32(len(entry)))
	copy(entry[4:8], fourcc)
	binary.BigEndian.PutUint16(entry[14:], 1)
	binary.BigEndian.PutUint16(entry[24:], uint16(channels))
	binary.BigEndian.PutUint16(entry[26:], 16)
	binary.BigEndian.PutUint32(entry[32:], uint32(sampleRate)<<16)
	return stsd(entry)
}

func stsd(entry []byte) []byte {
	box := make([]byte, 16, 16+len(entry))
	binary.BigEndian.PutUint32(box[0:], uint32(16+len(entry)))
	copy(box[4:8], "stsd")
	binary.BigEndian.PutUint32(box[12:], 1) // entry_count
	return append(box, entry...)
}

// VideoSample はi番目の映像サンプルを返す
func (s Segment) VideoSample(i int) media.Sample {
	t := s.Start + time.Duration(i)*s.FrameDuration
	return media.Sample{
		Data:             []byte(fmt.Sprintf("%s-video-%d", s.Tag, i)),
		DecodeTime:       t,
		PresentationTime: t,
		Duration:         s.FrameDuration,
		Sync:             s.GOP == 0 || i%s.GOP == 0,
	}
}

// AudioSample はi番目の音声サンプルを返す
func (s Segment) AudioSample(i int) media.Sample {
	t := s.Start + time.Duration(i)*s.AudioDuration
	return media.Sample{
		Data:             []byte(fmt.Sprintf("%s-audio-%d", s.Tag, i)),
		DecodeTime:       t,
		PresentationTime: t,
		Duration:         s.AudioDuration,
		Sync:             true,
	}
}

// Write はセグメントをMuxerに書き込んで停止する
// 映像と音声はデコード時刻順に交互に書き込む
func Write(t testing.TB, muxer media.Muxer, seg Segment) {
	t.Helper()

	video, audio := -1, -1
	var err error
	if seg.VideoFrames > 0 {
		if video, err = muxer.AddTrack(VideoFormat(1280, 720)); err != nil {
			t.Fatalf("映像トラックの追加に失敗: %v", err)
		}
	}
	if seg.AudioFrames > 0 {
		if audio, err = muxer.AddTrack(AudioFormat(2, 48000)); err != nil {
			t.Fatalf("音声トラックの追加に失敗: %v", err)
		}
	}
	if err := muxer.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	v, a := 0, 0
	for v < seg.VideoFrames || a < seg.AudioFrames {
		writeVideo := a >= seg.AudioFrames ||
			(v < seg.VideoFrames && seg.VideoSample(v).DecodeTime <= seg.AudioSample(a).DecodeTime)
		if writeVideo {
			if err := muxer.WriteSample(video, seg.VideoSample(v)); err != nil {
				t.Fatalf("映像サンプル %d の書き込みに失敗: %v", v, err)
			}
			v++
			continue
		}
		if err := muxer.WriteSample(audio, seg.AudioSample(a)); err != nil {
			t.Fatalf("音声サンプル %d の書き込みに失敗: %v", a, err)
		}
		a++
	}

	if err := muxer.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := muxer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}
