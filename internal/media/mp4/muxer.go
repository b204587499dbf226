package mp4

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	gomp4 "github.com/abema/go-mp4"

	"democamera/internal/media"
)

// movieTimescale は mvhd/tkhd に使うタイムスケール（ミリ秒）
const movieTimescale = 1000

// 固定小数点の単位行列
var unityMatrix = [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}

// muxState はMuxerの状態
type muxState int

const (
	stateInit muxState = iota
	stateStarted
	stateStopped
)

// writtenSample は書き込み済みサンプルの記録
type writtenSample struct {
	size uint32
	dts  int64
	cto  int64
	dur  int64
	sync bool
}

// chunk は同じトラックの連続サンプル
type chunk struct {
	offset uint64
	count  uint32
}

// trackWriter はトラックごとの書き込み状態
type trackWriter struct {
	id      uint32
	format  media.Format
	handler string
	samples []writtenSample
	chunks  []chunk
}

// Muxer はサンプルをMP4ファイルに書き込む
// レイアウトは ftyp, mdat, moov の順
type Muxer struct {
	w         *gomp4.Writer
	closer    io.Closer
	tracks    []*trackWriter
	state     muxState
	lastTrack int
}

var _ media.Muxer = (*Muxer)(nil)

// Create はファイルを作成してMuxerを返す
func Create(path string) (*Muxer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	m := NewMuxer(f)
	m.closer = f
	return m, nil
}

// NewMuxer は出力先を指定してMuxerを作成する
func NewMuxer(w io.WriteSeeker) *Muxer {
	return &Muxer{
		w:         gomp4.NewWriter(w),
		lastTrack: -1,
	}
}

// AddTrack はトラックを登録する
func (m *Muxer) AddTrack(format media.Format) (int, error) {
	if m.state != stateInit {
		return -1, media.ErrMuxerStarted
	}
	if len(format.Description) == 0 {
		return -1, media.ErrNoSampleDescription
	}

	handler := ""
	switch format.Kind() {
	case media.KindVideo:
		handler = handlerVideo
	case media.KindAudio:
		handler = handlerAudio
	default:
		return -1, fmt.Errorf("未対応のトラック種別です: %s", format.MIME)
	}

	if format.Timescale == 0 {
		format.Timescale = DefaultTimescale
	}

	m.tracks = append(m.tracks, &trackWriter{
		id:      uint32(len(m.tracks) + 1),
		format:  format,
		handler: handler,
	})
	return len(m.tracks) - 1, nil
}

// Start は ftyp と mdat ヘッダーを書き込む
func (m *Muxer) Start() error {
	switch m.state {
	case stateStarted:
		return media.ErrMuxerStarted
	case stateStopped:
		return media.ErrMuxerStopped
	}
	if len(m.tracks) == 0 {
		return errors.New("トラックが登録されていません")
	}

	if err := m.writeFtyp(); err != nil {
		return fmt.Errorf("ftyp の書き込みに失敗: %w", err)
	}

	// 4GBを超えても書けるよう64ビットサイズのヘッダーにする
	if _, err := m.w.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeMdat(), HeaderSize: gomp4.LargeHeaderSize}); err != nil {
		return fmt.Errorf("mdat の書き込みに失敗: %w", err)
	}

	m.state = stateStarted
	return nil
}

// WriteSample はサンプルを mdat に追記する
func (m *Muxer) WriteSample(track int, sample media.Sample) error {
	switch m.state {
	case stateInit:
		return media.ErrMuxerNotStarted
	case stateStopped:
		return media.ErrMuxerStopped
	}
	if track < 0 || track >= len(m.tracks) {
		return fmt.Errorf("%w: %d", media.ErrTrackNotFound, track)
	}
	if uint64(len(sample.Data)) > math.MaxUint32 {
		return fmt.Errorf("サンプルが大きすぎます: %d bytes", len(sample.Data))
	}

	tw := m.tracks[track]
	timescale := tw.format.Timescale
	dts := toTicks(sample.DecodeTime, timescale)
	if n := len(tw.samples); n > 0 && dts < tw.samples[n-1].dts {
		return fmt.Errorf("%w: track %d", media.ErrNonMonotonic, track)
	}

	offset, err := m.w.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := m.w.Write(sample.Data); err != nil {
		return fmt.Errorf("サンプルの書き込みに失敗: %w", err)
	}

	// 直前と同じトラックなら同じチャンクにまとめる
	if m.lastTrack == track && len(tw.chunks) > 0 {
		tw.chunks[len(tw.chunks)-1].count++
	} else {
		tw.chunks = append(tw.chunks, chunk{offset: uint64(offset), count: 1})
	}
	m.lastTrack = track

	tw.samples = append(tw.samples, writtenSample{
		size: uint32(len(sample.Data)),
		dts:  dts,
		cto:  toTicks(sample.PresentationTime, timescale) - dts,
		dur:  toTicks(sample.Duration, timescale),
		sync: sample.Sync,
	})
	return nil
}

// Stop は mdat のサイズを確定し moov を書き込む
func (m *Muxer) Stop() error {
	switch m.state {
	case stateInit:
		return media.ErrMuxerNotStarted
	case stateStopped:
		return media.ErrMuxerStopped
	}

	if _, err := m.w.EndBox(); err != nil {
		return fmt.Errorf("mdat の確定に失敗: %w", err)
	}
	if err := m.writeMoov(); err != nil {
		return fmt.Errorf("moov の書き込みに失敗: %w", err)
	}

	m.state = stateStopped
	return nil
}

// Close は出力ファイルを閉じる
func (m *Muxer) Close() error {
	if m.closer == nil {
		return nil
	}
	err := m.closer.Close()
	m.closer = nil
	return err
}

func (m *Muxer) writeFtyp() error {
	return m.box(gomp4.BoxTypeFtyp(), &gomp4.Ftyp{
		MajorBrand:   [4]byte{'i', 's', 'o', 'm'},
		MinorVersion: 0x200,
		CompatibleBrands: []gomp4.CompatibleBrandElem{
			{CompatibleBrand: [4]byte{'i', 's', 'o', 'm'}},
			{CompatibleBrand: [4]byte{'i', 's', 'o', '2'}},
			{CompatibleBrand: [4]byte{'m', 'p', '4', '1'}},
		},
	})
}

// box はペイロードだけを持つボックスを書き込む
func (m *Muxer) box(boxType gomp4.BoxType, payload gomp4.IImmutableBox) error {
	if _, err := m.w.StartBox(&gomp4.BoxInfo{Type: boxType}); err != nil {
		return err
	}
	if _, err := gomp4.Marshal(m.w, payload, gomp4.Context{}); err != nil {
		return err
	}
	_, err := m.w.EndBox()
	return err
}

// container は子ボックスを持つボックスを書き込む
func (m *Muxer) container(boxType gomp4.BoxType, children func() error) error {
	if _, err := m.w.StartBox(&gomp4.BoxInfo{Type: boxType}); err != nil {
		return err
	}
	if err := children(); err != nil {
		return err
	}
	_, err := m.w.EndBox()
	return err
}

func (m *Muxer) writeMoov() error {
	var movieDuration uint64
	for _, tw := range m.tracks {
		if d := scaleDuration(tw.duration(), tw.format.Timescale, movieTimescale); d > movieDuration {
			movieDuration = d
		}
	}

	return m.container(gomp4.BoxTypeMoov(), func() error {
		mvhd := &gomp4.Mvhd{
			Timescale:   movieTimescale,
			Rate:        0x00010000,
			Volume:      0x0100,
			Matrix:      unityMatrix,
			NextTrackID: uint32(len(m.tracks) + 1),
		}
		if movieDuration > math.MaxUint32 {
			mvhd.SetVersion(1)
			mvhd.DurationV1 = movieDuration
		} else {
			mvhd.DurationV0 = uint32(movieDuration)
		}
		if err := m.box(gomp4.BoxTypeMvhd(), mvhd); err != nil {
			return err
		}

		for _, tw := range m.tracks {
			if err := m.writeTrak(tw); err != nil {
				return fmt.Errorf("トラック %d: %w", tw.id, err)
			}
		}
		return nil
	})
}

func (m *Muxer) writeTrak(tw *trackWriter) error {
	duration := tw.duration()
	movieDuration := scaleDuration(duration, tw.format.Timescale, movieTimescale)

	return m.container(gomp4.BoxTypeTrak(), func() error {
		tkhd := &gomp4.Tkhd{
			TrackID: tw.id,
			Matrix:  unityMatrix,
		}
		tkhd.SetFlags(0x000003) // track_enabled | track_in_movie
		if movieDuration > math.MaxUint32 {
			tkhd.SetVersion(1)
			tkhd.DurationV1 = movieDuration
		} else {
			tkhd.DurationV0 = uint32(movieDuration)
		}
		if tw.handler == handlerAudio {
			tkhd.Volume = 0x0100
		} else {
			tkhd.Width = uint32(tw.format.Width) << 16
			tkhd.Height = uint32(tw.format.Height) << 16
		}
		if err := m.box(gomp4.BoxTypeTkhd(), tkhd); err != nil {
			return err
		}

		return m.container(gomp4.BoxTypeMdia(), func() error {
			mdhd := &gomp4.Mdhd{
				Timescale: tw.format.Timescale,
				Language:  encodeLanguage(tw.format.Language),
			}
			if duration > math.MaxUint32 {
				mdhd.SetVersion(1)
				mdhd.DurationV1 = duration
			} else {
				mdhd.DurationV0 = uint32(duration)
			}
			if err := m.box(gomp4.BoxTypeMdhd(), mdhd); err != nil {
				return err
			}

			hdlr := &gomp4.Hdlr{Name: "VideoHandler"}
			copy(hdlr.HandlerType[:], tw.handler)
			if tw.handler == handlerAudio {
				hdlr.Name = "SoundHandler"
			}
			if err := m.box(gomp4.BoxTypeHdlr(), hdlr); err != nil {
				return err
			}

			return m.container(gomp4.BoxTypeMinf(), func() error {
				return m.writeMinf(tw)
			})
		})
	})
}

func (m *Muxer) writeMinf(tw *trackWriter) error {
	if tw.handler == handlerAudio {
		if err := m.box(gomp4.BoxTypeSmhd(), &gomp4.Smhd{}); err != nil {
			return err
		}
	} else {
		vmhd := &gomp4.Vmhd{}
		vmhd.SetFlags(0x000001)
		if err := m.box(gomp4.BoxTypeVmhd(), vmhd); err != nil {
			return err
		}
	}

	err := m.container(gomp4.BoxTypeDinf(), func() error {
		return m.container(gomp4.BoxTypeDref(), func() error {
			if _, err := gomp4.Marshal(m.w, &gomp4.Dref{EntryCount: 1}, gomp4.Context{}); err != nil {
				return err
			}
			url := &gomp4.Url{}
			url.SetFlags(gomp4.UrlSelfContained)
			return m.box(gomp4.BoxTypeUrl(), url)
		})
	})
	if err != nil {
		return err
	}

	return m.container(gomp4.BoxTypeStbl(), func() error {
		return m.writeStbl(tw)
	})
}

func (m *Muxer) writeStbl(tw *trackWriter) error {
	// stsd は元ファイルのものをそのまま使う
	if _, err := m.w.Write(tw.format.Description); err != nil {
		return err
	}

	if err := m.box(gomp4.BoxTypeStts(), tw.stts()); err != nil {
		return err
	}
	if ctts := tw.ctts(); ctts != nil {
		if err := m.box(gomp4.BoxTypeCtts(), ctts); err != nil {
			return err
		}
	}
	if stss := tw.stss(); stss != nil {
		if err := m.box(gomp4.BoxTypeStss(), stss); err != nil {
			return err
		}
	}
	if err := m.box(gomp4.BoxTypeStsc(), tw.stsc()); err != nil {
		return err
	}
	if err := m.box(gomp4.BoxTypeStsz(), tw.stsz()); err != nil {
		return err
	}

	offsets := make([]uint64, len(tw.chunks))
	large := false
	for i, c := range tw.chunks {
		offsets[i] = c.offset
		if c.offset > math.MaxUint32 {
			large = true
		}
	}
	if large {
		return m.box(gomp4.BoxTypeCo64(), &gomp4.Co64{
			EntryCount:  uint32(len(offsets)),
			ChunkOffset: offsets,
		})
	}
	small := make([]uint32, len(offsets))
	for i, offset := range offsets {
		small[i] = uint32(offset)
	}
	return m.box(gomp4.BoxTypeStco(), &gomp4.Stco{
		EntryCount:  uint32(len(small)),
		ChunkOffset: small,
	})
}

// delta はi番目のサンプルの長さ（ティック）を返す
// 次のサンプルとの差を使い、最後のサンプルだけは自身の長さを使う
func (tw *trackWriter) delta(i int) int64 {
	if i+1 < len(tw.samples) {
		return tw.samples[i+1].dts - tw.samples[i].dts
	}
	if d := tw.samples[i].dur; d > 0 {
		return d
	}
	if i > 0 {
		return tw.samples[i].dts - tw.samples[i-1].dts
	}
	return 0
}

// duration はトラックの長さ（ティック）を返す
func (tw *trackWriter) duration() uint64 {
	var total int64
	for i := range tw.samples {
		total += tw.delta(i)
	}
	return uint64(total)
}

func (tw *trackWriter) stts() *gomp4.Stts {
	stts := &gomp4.Stts{}
	for i := range tw.samples {
		d := uint32(tw.delta(i))
		if n := len(stts.Entries); n > 0 && stts.Entries[n-1].SampleDelta == d {
			stts.Entries[n-1].SampleCount++
			continue
		}
		stts.Entries = append(stts.Entries, gomp4.SttsEntry{SampleCount: 1, SampleDelta: d})
	}
	stts.EntryCount = uint32(len(stts.Entries))
	return stts
}

// ctts は全サンプルのオフセットが0なら nil を返す
func (tw *trackWriter) ctts() *gomp4.Ctts {
	needed := false
	negative := false
	for _, s := range tw.samples {
		if s.cto != 0 {
			needed = true
		}
		if s.cto < 0 {
			negative = true
		}
	}
	if !needed {
		return nil
	}

	ctts := &gomp4.Ctts{}
	if negative {
		ctts.SetVersion(1)
	}
	for _, s := range tw.samples {
		if n := len(ctts.Entries); n > 0 && ctts.Entries[n-1].SampleOffsetV1 == int32(s.cto) {
			ctts.Entries[n-1].SampleCount++
			continue
		}
		ctts.Entries = append(ctts.Entries, gomp4.CttsEntry{
			SampleCount:    1,
			SampleOffsetV0: uint32(s.cto),
			SampleOffsetV1: int32(s.cto),
		})
	}
	ctts.EntryCount = uint32(len(ctts.Entries))
	return ctts
}

// stss は全サンプルがキーフレームなら nil を返す
func (tw *trackWriter) stss() *gomp4.Stss {
	numbers := make([]uint32, 0)
	for i, s := range tw.samples {
		if s.sync {
			numbers = append(numbers, uint32(i+1))
		}
	}
	if len(numbers) == len(tw.samples) {
		return nil
	}
	return &gomp4.Stss{
		EntryCount:   uint32(len(numbers)),
		SampleNumber: numbers,
	}
}

func (tw *trackWriter) stsc() *gomp4.Stsc {
	stsc := &gomp4.Stsc{}
	for i, c := range tw.chunks {
		if n := len(stsc.Entries); n > 0 && stsc.Entries[n-1].SamplesPerChunk == c.count {
			continue
		}
		stsc.Entries = append(stsc.Entries, gomp4.StscEntry{
			FirstChunk:             uint32(i + 1),
			SamplesPerChunk:        c.count,
			SampleDescriptionIndex: 1,
		})
	}
	stsc.EntryCount = uint32(len(stsc.Entries))
	return stsc
}

func (tw *trackWriter) stsz() *gomp4.Stsz {
	sizes := make([]uint32, len(tw.samples))
	for i, s := range tw.samples {
		sizes[i] = s.size
	}
	return &gomp4.Stsz{
		SampleCount: uint32(len(sizes)),
		EntrySize:   sizes,
	}
}

// scaleDuration はタイムスケール間で長さを換算する
func scaleDuration(d uint64, from, to uint32) uint64 {
	if from == 0 {
		return 0
	}
	return (d*uint64(to) + uint64(from)/2) / uint64(from)
}

// encodeLanguage はISO-639-2の言語コードを mdhd 形式に変換する
func encodeLanguage(lang string) [3]byte {
	if len(lang) != 3 {
		lang = "und"
	}
	var out [3]byte
	for i := 0; i < 3; i++ {
		out[i] = lang[i] - 0x60
	}
	return out
}
