package mp4

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"democamera/internal/media"
	"democamera/internal/media/mediatest"
)

func TestTicks(t *testing.T) {
	tests := []struct {
		name      string
		d         time.Duration
		timescale uint32
		ticks     int64
	}{
		{"1秒@90kHz", time.Second, 90000, 90000},
		{"40ms@90kHz", 40 * time.Millisecond, 90000, 3600},
		{"20ms@48kHz", 20 * time.Millisecond, 48000, 960},
		{"負の値", -40 * time.Millisecond, 90000, -3600},
		{"マイクロ秒", 1500 * time.Microsecond, DefaultTimescale, 1500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toTicks(tt.d, tt.timescale); got != tt.ticks {
				t.Errorf("toTicks(%v, %d) = %d, want %d", tt.d, tt.timescale, got, tt.ticks)
			}
			if got := fromTicks(tt.ticks, tt.timescale); got != tt.d {
				t.Errorf("fromTicks(%d, %d) = %v, want %v", tt.ticks, tt.timescale, got, tt.d)
			}
		})
	}
}

func TestTicksRounding(t *testing.T) {
	// 1/30秒は90kHzで3000ティックに丸められる
	if got := toTicks(33_333_333*time.Nanosecond, 90000); got != 3000 {
		t.Errorf("toTicks = %d, want 3000", got)
	}
	if got := fromTicks(1, 3); got != 333_333_333*time.Nanosecond {
		t.Errorf("fromTicks = %v, want 333.333333ms", got)
	}
}

func TestParseSampleEntry(t *testing.T) {
	t.Run("映像", func(t *testing.T) {
		entry, err := parseSampleEntry(mediatest.VisualSampleDescription("avc1", 1920, 1080), handlerVideo)
		if err != nil {
			t.Fatalf("parseSampleEntry failed: %v", err)
		}
		if entry.Type != "avc1" || entry.Width != 1920 || entry.Height != 1080 {
			t.Errorf("unexpected entry: %+v", entry)
		}
	})

	t.Run("音声", func(t *testing.T) {
		entry, err := parseSampleEntry(mediatest.AudioSampleDescription("mp4a", 2, 44100), handlerAudio)
		if err != nil {
			t.Fatalf("parseSampleEntry failed: %v", err)
		}
		if entry.Type != "mp4a" || entry.Channels != 2 || entry.SampleRate != 44100 {
			t.Errorf("unexpected entry: %+v", entry)
		}
	})

	t.Run("短すぎる", func(t *testing.T) {
		if _, err := parseSampleEntry([]byte{0, 0, 0, 8}, handlerVideo); err == nil {
			t.Error("エラーが返されるべきです")
		}
	})

	t.Run("エントリ数0", func(t *testing.T) {
		raw := mediatest.VisualSampleDescription("avc1", 640, 480)
		raw[12], raw[13], raw[14], raw[15] = 0, 0, 0, 0
		if _, err := parseSampleEntry(raw, handlerVideo); err == nil {
			t.Error("エラーが返されるべきです")
		}
	})
}

func TestMimeFor(t *testing.T) {
	tests := []struct {
		fourcc  string
		handler string
		want    string
	}{
		{"avc1", handlerVideo, "video/avc"},
		{"hvc1", handlerVideo, "video/hevc"},
		{"mp4a", handlerAudio, "audio/mp4a-latm"},
		{"xyz1", handlerVideo, "video/x-xyz1"},
		{"xyz2", handlerAudio, "audio/x-xyz2"},
		{"tx3g", "text", "application/x-text"},
	}

	for _, tt := range tests {
		t.Run(tt.fourcc, func(t *testing.T) {
			if got := mimeFor(tt.fourcc, tt.handler); got != tt.want {
				t.Errorf("mimeFor(%q, %q) = %q, want %q", tt.fourcc, tt.handler, got, tt.want)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment.mp4")
	seg := mediatest.Default("a", 30, 60)

	muxer, err := Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	mediatest.Write(t, muxer, seg)

	demuxer, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer demuxer.Close()

	tracks := demuxer.Tracks()
	if len(tracks) != 2 {
		t.Fatalf("Expected 2 tracks, got %d", len(tracks))
	}

	video, audio := tracks[0], tracks[1]
	if video.Format.MIME != "video/avc" || video.Format.Width != 1280 || video.Format.Height != 720 {
		t.Errorf("映像フォーマットが不正です: %+v", video.Format)
	}
	if video.Format.Timescale != 90000 {
		t.Errorf("Timescale = %d, want 90000", video.Format.Timescale)
	}
	if video.Format.Language != "und" {
		t.Errorf("Language = %q, want und", video.Format.Language)
	}
	if !bytes.Equal(video.Format.Description, mediatest.VisualSampleDescription("avc1", 1280, 720)) {
		t.Error("stsd がそのまま保存されていません")
	}
	if video.SampleCount != 30 || video.Duration != 1200*time.Millisecond {
		t.Errorf("映像トラック: count=%d duration=%v", video.SampleCount, video.Duration)
	}

	if audio.Format.MIME != "audio/mp4a-latm" || audio.Format.Channels != 2 || audio.Format.SampleRate != 48000 {
		t.Errorf("音声フォーマットが不正です: %+v", audio.Format)
	}
	if audio.SampleCount != 60 || audio.Duration != 1200*time.Millisecond {
		t.Errorf("音声トラック: count=%d duration=%v", audio.SampleCount, audio.Duration)
	}

	for i := 0; i < 30; i++ {
		got, err := demuxer.ReadSample(0)
		if err != nil {
			t.Fatalf("ReadSample(0) #%d failed: %v", i, err)
		}
		want := seg.VideoSample(i)
		if !bytes.Equal(got.Data, want.Data) {
			t.Errorf("sample %d: data = %q, want %q", i, got.Data, want.Data)
		}
		if got.DecodeTime != want.DecodeTime || got.PresentationTime != want.PresentationTime {
			t.Errorf("sample %d: dts=%v pts=%v, want %v", i, got.DecodeTime, got.PresentationTime, want.DecodeTime)
		}
		if got.Sync != want.Sync {
			t.Errorf("sample %d: sync = %v, want %v", i, got.Sync, want.Sync)
		}
	}
	if _, err := demuxer.ReadSample(0); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF, got %v", err)
	}

	for i := 0; i < 60; i++ {
		got, err := demuxer.ReadSample(1)
		if err != nil {
			t.Fatalf("ReadSample(1) #%d failed: %v", i, err)
		}
		if want := seg.AudioSample(i); !bytes.Equal(got.Data, want.Data) || got.DecodeTime != want.DecodeTime {
			t.Errorf("audio sample %d mismatch: %q@%v", i, got.Data, got.DecodeTime)
		}
	}

	if _, err := demuxer.ReadSample(2); !errors.Is(err, media.ErrTrackNotFound) {
		t.Errorf("Expected ErrTrackNotFound, got %v", err)
	}
}

func TestCompositionOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bframes.mp4")
	muxer, err := Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	track, err := muxer.AddTrack(mediatest.VideoFormat(640, 480))
	if err != nil {
		t.Fatalf("AddTrack failed: %v", err)
	}
	if err := muxer.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	frame := 40 * time.Millisecond
	// I P B B の並び。先頭はPTSがDTSより前になる
	pts := []time.Duration{-frame, 2 * frame, 0, frame}
	for i, p := range pts {
		sample := media.Sample{
			Data:             []byte{byte(i)},
			DecodeTime:       time.Duration(i) * frame,
			PresentationTime: p,
			Duration:         frame,
			Sync:             i == 0,
		}
		if err := muxer.WriteSample(track, sample); err != nil {
			t.Fatalf("WriteSample %d failed: %v", i, err)
		}
	}
	if err := muxer.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := muxer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	demuxer, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer demuxer.Close()

	for i, p := range pts {
		got, err := demuxer.ReadSample(0)
		if err != nil {
			t.Fatalf("ReadSample %d failed: %v", i, err)
		}
		if got.PresentationTime != p {
			t.Errorf("sample %d: pts = %v, want %v", i, got.PresentationTime, p)
		}
		if got.Sync != (i == 0) {
			t.Errorf("sample %d: sync = %v", i, got.Sync)
		}
	}
}

func TestMuxerStateErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("Start前の書き込み", func(t *testing.T) {
		muxer, err := Create(filepath.Join(dir, "a.mp4"))
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		defer muxer.Close()

		if err := muxer.WriteSample(0, media.Sample{}); !errors.Is(err, media.ErrMuxerNotStarted) {
			t.Errorf("Expected ErrMuxerNotStarted, got %v", err)
		}
		if err := muxer.Stop(); !errors.Is(err, media.ErrMuxerNotStarted) {
			t.Errorf("Expected ErrMuxerNotStarted, got %v", err)
		}
	})

	t.Run("stsdなし", func(t *testing.T) {
		muxer, err := Create(filepath.Join(dir, "b.mp4"))
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		defer muxer.Close()

		if _, err := muxer.AddTrack(media.Format{MIME: "video/avc"}); !errors.Is(err, media.ErrNoSampleDescription) {
			t.Errorf("Expected ErrNoSampleDescription, got %v", err)
		}
	})

	t.Run("トラックなしで開始", func(t *testing.T) {
		muxer, err := Create(filepath.Join(dir, "c.mp4"))
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		defer muxer.Close()

		if err := muxer.Start(); err == nil {
			t.Error("エラーが返されるべきです")
		}
	})

	t.Run("開始後の操作", func(t *testing.T) {
		muxer, err := Create(filepath.Join(dir, "d.mp4"))
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		defer muxer.Close()

		track, err := muxer.AddTrack(mediatest.VideoFormat(320, 240))
		if err != nil {
			t.Fatalf("AddTrack failed: %v", err)
		}
		if err := muxer.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		if _, err := muxer.AddTrack(mediatest.AudioFormat(1, 16000)); !errors.Is(err, media.ErrMuxerStarted) {
			t.Errorf("Expected ErrMuxerStarted, got %v", err)
		}
		if err := muxer.Start(); !errors.Is(err, media.ErrMuxerStarted) {
			t.Errorf("Expected ErrMuxerStarted, got %v", err)
		}
		if err := muxer.WriteSample(5, media.Sample{}); !errors.Is(err, media.ErrTrackNotFound) {
			t.Errorf("Expected ErrTrackNotFound, got %v", err)
		}

		if err := muxer.WriteSample(track, media.Sample{Data: []byte{1}, DecodeTime: time.Second, Sync: true}); err != nil {
			t.Fatalf("WriteSample failed: %v", err)
		}
		err = muxer.WriteSample(track, media.Sample{Data: []byte{2}, DecodeTime: 500 * time.Millisecond})
		if !errors.Is(err, media.ErrNonMonotonic) {
			t.Errorf("Expected ErrNonMonotonic, got %v", err)
		}

		if err := muxer.Stop(); err != nil {
			t.Fatalf("Stop failed: %v", err)
		}
		if err := muxer.Stop(); !errors.Is(err, media.ErrMuxerStopped) {
			t.Errorf("Expected ErrMuxerStopped, got %v", err)
		}
		if err := muxer.WriteSample(track, media.Sample{}); !errors.Is(err, media.ErrMuxerStopped) {
			t.Errorf("Expected ErrMuxerStopped, got %v", err)
		}
	})

	t.Run("Closeは何度でも呼べる", func(t *testing.T) {
		muxer, err := Create(filepath.Join(dir, "e.mp4"))
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if err := muxer.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
		if err := muxer.Close(); err != nil {
			t.Errorf("second Close failed: %v", err)
		}
	})
}

func TestSampleTables(t *testing.T) {
	tw := &trackWriter{
		samples: []writtenSample{
			{size: 10, dts: 0, dur: 3000, sync: true},
			{size: 11, dts: 3000, dur: 3000},
			{size: 12, dts: 6000, dur: 3000},
			{size: 13, dts: 9000, dur: 1500, sync: true},
		},
		chunks: []chunk{
			{offset: 100, count: 2},
			{offset: 200, count: 1},
			{offset: 300, count: 1},
		},
	}

	stts := tw.stts()
	if stts.EntryCount != 2 || stts.Entries[0].SampleCount != 3 || stts.Entries[1].SampleDelta != 1500 {
		t.Errorf("stts が不正です: %+v", stts.Entries)
	}
	if tw.duration() != 10500 {
		t.Errorf("duration = %d, want 10500", tw.duration())
	}

	stss := tw.stss()
	if stss == nil || len(stss.SampleNumber) != 2 || stss.SampleNumber[1] != 4 {
		t.Errorf("stss が不正です: %+v", stss)
	}

	stsc := tw.stsc()
	if stsc.EntryCount != 2 || stsc.Entries[1].FirstChunk != 2 || stsc.Entries[1].SamplesPerChunk != 1 {
		t.Errorf("stsc が不正です: %+v", stsc.Entries)
	}

	if tw.ctts() != nil {
		t.Error("オフセットが全て0なら ctts は不要です")
	}

	for i := range tw.samples {
		tw.samples[i].sync = true
	}
	if tw.stss() != nil {
		t.Error("全てキーフレームなら stss は不要です")
	}
}

func TestEncodeLanguage(t *testing.T) {
	got := encodeLanguage("jpn")
	if got != [3]byte{'j' - 0x60, 'p' - 0x60, 'n' - 0x60} {
		t.Errorf("encodeLanguage = %v", got)
	}
	if got := encodeLanguage(""); got != encodeLanguage("und") {
		t.Errorf("空の言語は und になるべきです: %v", got)
	}
}
