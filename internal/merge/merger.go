package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"democamera/internal/media"
)

// Merger は動画セグメントを1つのファイルに結合する
type Merger struct {
	container media.Container
	opts      Options
	tracer    trace.Tracer
}

// NewMerger は新しいMergerを作成する
func NewMerger(container media.Container, opts Options) *Merger {
	return &Merger{
		container: container,
		opts:      opts,
		tracer:    otel.Tracer("democamera/internal/merge"),
	}
}

// source は結合対象の入力ファイル
type source struct {
	path    string
	demuxer media.Demuxer
	tracks  []lane
}

// lane は入力トラックと出力トラックの対応
type lane struct {
	kind media.Kind
	in   int
	out  int
}

// Merge は inputs を順に連結して output に書き出す
//
// 入力が1つの場合は移動のみ行う。失敗した場合は途中まで書いた出力を削除し、
// 入力ファイルには手を付けない。
func (m *Merger) Merge(ctx context.Context, output string, inputs ...string) (result *Result, err error) {
	if len(inputs) == 0 {
		return nil, ErrNoInput
	}
	for _, input := range inputs {
		if samePath(input, output) {
			return nil, fmt.Errorf("%w: %s", ErrOutputIsInput, input)
		}
	}

	ctx, span := m.tracer.Start(ctx, "merge.Merge", trace.WithAttributes(
		attribute.String("merge.output", output),
		attribute.Int("merge.inputs", len(inputs)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if len(inputs) == 1 {
		return m.moveSingle(inputs[0], output)
	}
	return m.remux(ctx, output, inputs)
}

// moveSingle は入力が1つの場合の処理
func (m *Merger) moveSingle(input, output string) (*Result, error) {
	transfer := move
	if m.opts.KeepInputs {
		transfer = copyFile
	}
	if err := transfer(input, output); err != nil {
		return nil, fmt.Errorf("ファイルの移動に失敗: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"input":  input,
		"output": output,
	}).Info("セグメントが1つのため移動のみ行いました")

	return &Result{Output: output, Segments: 1, Moved: true}, nil
}

// remux は複数の入力をdemuxして1つの出力にmuxする
func (m *Merger) remux(ctx context.Context, output string, inputs []string) (*Result, error) {
	result := &Result{Output: output}

	var (
		sources   []*source
		muxer     media.Muxer
		committed bool
	)
	defer func() {
		closeSources(sources)
		if muxer == nil {
			return
		}
		_ = muxer.Close()
		if !committed {
			if err := os.Remove(output); err != nil && !errors.Is(err, fs.ErrNotExist) {
				logrus.WithError(err).WithField("output", output).Warn("途中までの出力ファイルの削除に失敗")
			}
		}
	}()

	// 1周目: トラックを調べて出力トラックの形式を決める
	var formats []media.Format
	registered := make(map[media.Kind]int)
	for _, path := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				logrus.WithField("input", path).Warn("入力ファイルが存在しないためスキップします")
				result.Skipped++
				continue
			}
			return nil, fmt.Errorf("入力ファイルの確認に失敗 (%s): %w", path, err)
		}

		demuxer, err := m.container.OpenDemuxer(path)
		if err != nil {
			return nil, fmt.Errorf("入力ファイルを開けません (%s): %w", path, err)
		}
		src := &source{path: path, demuxer: demuxer}
		sources = append(sources, src)

		for _, track := range demuxer.Tracks() {
			kind := track.Format.Kind()
			if kind == media.KindOther || src.has(kind) {
				continue
			}
			// 形式は最初にその種別を持っていたファイルから取る
			if _, ok := registered[kind]; !ok {
				registered[kind] = len(formats)
				formats = append(formats, track.Format)
			}
			src.tracks = append(src.tracks, lane{kind: kind, in: track.Index})
		}
	}

	if len(formats) == 0 {
		return nil, ErrNoTracks
	}

	muxer, err := m.container.CreateMuxer(output)
	if err != nil {
		return nil, fmt.Errorf("出力ファイルの作成に失敗: %w", err)
	}

	outTracks := make([]int, len(formats))
	for i, format := range formats {
		if outTracks[i], err = muxer.AddTrack(format); err != nil {
			return nil, fmt.Errorf("出力トラックの追加に失敗 (%s): %w", format.MIME, err)
		}
	}
	for _, src := range sources {
		for i := range src.tracks {
			src.tracks[i].out = outTracks[registered[src.tracks[i].kind]]
		}
	}

	if err := muxer.Start(); err != nil {
		return nil, fmt.Errorf("muxerの開始に失敗: %w", err)
	}

	// 2周目: サンプルをコピーする
	var (
		timelineEnd time.Duration
		started     bool
	)
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end, copied, err := copySource(src, muxer, timelineEnd, started, result)
		if err != nil {
			return nil, fmt.Errorf("セグメントのコピーに失敗 (%s): %w", src.path, err)
		}
		if copied {
			started = true
			timelineEnd = end
		}
		result.Segments++
	}

	if err := muxer.Stop(); err != nil {
		return nil, fmt.Errorf("出力ファイルの確定に失敗: %w", err)
	}
	if err := muxer.Close(); err != nil {
		return nil, fmt.Errorf("出力ファイルのクローズに失敗: %w", err)
	}
	committed = true

	closeSources(sources)
	if !m.opts.KeepInputs {
		for _, src := range sources {
			if err := os.Remove(src.path); err != nil {
				logrus.WithError(err).WithField("input", src.path).Warn("入力ファイルの削除に失敗")
			}
		}
	}
	sources = nil

	logrus.WithFields(logrus.Fields{
		"output":        output,
		"segments":      result.Segments,
		"skipped":       result.Skipped,
		"video_samples": result.VideoSamples,
		"audio_samples": result.AudioSamples,
	}).Info("動画の結合が完了しました")

	return result, nil
}

// copySource は1つの入力のサンプルを出力にコピーする
//
// 最初のセグメントはそのままの時刻で書き込み、2つ目以降は
// 直前のセグメントの終端から始まるように時刻をずらす。
// 戻り値はコピー後のタイムラインの終端と、サンプルを1つ以上書いたかどうか。
func copySource(src *source, muxer media.Muxer, timelineEnd time.Duration, started bool, result *Result) (time.Duration, bool, error) {
	// 各トラックの先頭サンプルからセグメントの開始時刻を求める
	heads := make([]*media.Sample, len(src.tracks))
	var segmentStart time.Duration
	found := false
	for i, l := range src.tracks {
		sample, err := src.demuxer.ReadSample(l.in)
		if errors.Is(err, io.EOF) {
			continue
		}
		if err != nil {
			return 0, false, err
		}
		heads[i] = &sample
		if !found || sample.DecodeTime < segmentStart {
			segmentStart = sample.DecodeTime
			found = true
		}
	}
	if !found {
		logrus.WithField("input", src.path).Warn("セグメントにサンプルがありません")
		return timelineEnd, false, nil
	}

	var offset time.Duration
	if started {
		offset = timelineEnd - segmentStart
	}

	end := timelineEnd
	for i, l := range src.tracks {
		if heads[i] == nil {
			continue
		}

		sample := *heads[i]
		for {
			sample.DecodeTime += offset
			sample.PresentationTime += offset
			if err := muxer.WriteSample(l.out, sample); err != nil {
				return 0, false, err
			}
			if sample.End() > end {
				end = sample.End()
			}
			result.count(l.kind)

			next, err := src.demuxer.ReadSample(l.in)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return 0, false, err
			}
			sample = next
		}
	}

	return end, true, nil
}

func (s *source) has(kind media.Kind) bool {
	for _, l := range s.tracks {
		if l.kind == kind {
			return true
		}
	}
	return false
}

func (r *Result) count(kind media.Kind) {
	switch kind {
	case media.KindVideo:
		r.VideoSamples++
	case media.KindAudio:
		r.AudioSamples++
	}
}

func closeSources(sources []*source) {
	for _, src := range sources {
		if src.demuxer == nil {
			continue
		}
		if err := src.demuxer.Close(); err != nil {
			logrus.WithError(err).WithField("input", src.path).Debug("入力ファイルのクローズに失敗")
		}
		src.demuxer = nil
	}
}

// samePath は2つのパスが同じファイルを指すかを返す
func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
