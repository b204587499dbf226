package mp4

import (
	"errors"
	"fmt"
	"io"
	"os"

	gomp4 "github.com/abema/go-mp4"

	"democamera/internal/media"
)

// ReadSeekerAt はDemuxerの入力
type ReadSeekerAt interface {
	io.ReadSeeker
	io.ReaderAt
}

// sampleRef はサンプルテーブルの1行
type sampleRef struct {
	offset   uint64
	size     uint32
	dts      int64 // デコード時刻（ティック）
	cto      int64 // コンポジションオフセット（ティック）
	duration uint32
	sync     bool
}

// trackTable はトラックごとのサンプルテーブルと読み出し位置
type trackTable struct {
	track     media.Track
	timescale uint32
	samples   []sampleRef
	next      int
}

// Demuxer はMP4ファイルからサンプルを読み出す
type Demuxer struct {
	r      ReadSeekerAt
	closer io.Closer
	tables []*trackTable
}

var _ media.Demuxer = (*Demuxer)(nil)

// Open はファイルを開いてDemuxerを作成する
func Open(path string) (*Demuxer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	d, err := NewDemuxer(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	d.closer = f
	return d, nil
}

// NewDemuxer は入力のmoovを解析してDemuxerを作成する
func NewDemuxer(r ReadSeekerAt) (*Demuxer, error) {
	traks, err := gomp4.ExtractBox(r, nil, gomp4.BoxPath{gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak()})
	if err != nil {
		return nil, fmt.Errorf("moov の解析に失敗: %w", err)
	}
	if len(traks) == 0 {
		return nil, errors.New("moov/trak が見つかりません")
	}

	d := &Demuxer{
		r:      r,
		tables: make([]*trackTable, 0, len(traks)),
	}

	for i, trak := range traks {
		table, err := readTrak(r, trak, i)
		if err != nil {
			return nil, fmt.Errorf("トラック %d の解析に失敗: %w", i, err)
		}
		d.tables = append(d.tables, table)
	}

	return d, nil
}

// Tracks はトラック一覧を返す
func (d *Demuxer) Tracks() []media.Track {
	tracks := make([]media.Track, 0, len(d.tables))
	for _, table := range d.tables {
		tracks = append(tracks, table.track)
	}
	return tracks
}

// ReadSample は指定トラックの次のサンプルを返す
func (d *Demuxer) ReadSample(track int) (media.Sample, error) {
	if track < 0 || track >= len(d.tables) {
		return media.Sample{}, fmt.Errorf("%w: %d", media.ErrTrackNotFound, track)
	}

	table := d.tables[track]
	if table.next >= len(table.samples) {
		return media.Sample{}, io.EOF
	}
	ref := table.samples[table.next]

	data := make([]byte, ref.size)
	if _, err := d.r.ReadAt(data, int64(ref.offset)); err != nil {
		return media.Sample{}, fmt.Errorf("サンプル %d の読み込みに失敗: %w", table.next, err)
	}
	table.next++

	return media.Sample{
		Data:             data,
		DecodeTime:       fromTicks(ref.dts, table.timescale),
		PresentationTime: fromTicks(ref.dts+ref.cto, table.timescale),
		Duration:         fromTicks(int64(ref.duration), table.timescale),
		Sync:             ref.sync,
	}, nil
}

// Close はファイルを閉じる
func (d *Demuxer) Close() error {
	if d.closer == nil {
		return nil
	}
	err := d.closer.Close()
	d.closer = nil
	return err
}

// stbl 配下のボックスパス
func stblPath(leaf gomp4.BoxType) gomp4.BoxPath {
	return gomp4.BoxPath{gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), leaf}
}

// readTrak は trak ボックスからサンプルテーブルを組み立てる
func readTrak(r ReadSeekerAt, trak *gomp4.BoxInfo, index int) (*trackTable, error) {
	boxes, err := gomp4.ExtractBoxesWithPayload(r, trak, []gomp4.BoxPath{
		{gomp4.BoxTypeTkhd()},
		{gomp4.BoxTypeMdia(), gomp4.BoxTypeMdhd()},
		{gomp4.BoxTypeMdia(), gomp4.BoxTypeHdlr()},
		stblPath(gomp4.BoxTypeStts()),
		stblPath(gomp4.BoxTypeCtts()),
		stblPath(gomp4.BoxTypeStss()),
		stblPath(gomp4.BoxTypeStsc()),
		stblPath(gomp4.BoxTypeStsz()),
		stblPath(gomp4.BoxTypeStco()),
		stblPath(gomp4.BoxTypeCo64()),
	})
	if err != nil {
		return nil, err
	}

	var (
		tkhd *gomp4.Tkhd
		mdhd *gomp4.Mdhd
		hdlr *gomp4.Hdlr
		stts *gomp4.Stts
		ctts *gomp4.Ctts
		stss *gomp4.Stss
		stsc *gomp4.Stsc
		stsz *gomp4.Stsz
		stco *gomp4.Stco
		co64 *gomp4.Co64
	)
	for _, box := range boxes {
		switch payload := box.Payload.(type) {
		case *gomp4.Tkhd:
			tkhd = payload
		case *gomp4.Mdhd:
			mdhd = payload
		case *gomp4.Hdlr:
			hdlr = payload
		case *gomp4.Stts:
			stts = payload
		case *gomp4.Ctts:
			ctts = payload
		case *gomp4.Stss:
			stss = payload
		case *gomp4.Stsc:
			stsc = payload
		case *gomp4.Stsz:
			stsz = payload
		case *gomp4.Stco:
			stco = payload
		case *gomp4.Co64:
			co64 = payload
		}
	}

	switch {
	case mdhd == nil:
		return nil, errors.New("mdhd が見つかりません")
	case hdlr == nil:
		return nil, errors.New("hdlr が見つかりません")
	case stts == nil || stsc == nil || stsz == nil:
		return nil, errors.New("サンプルテーブルが不完全です")
	case stco == nil && co64 == nil:
		return nil, errors.New("stco/co64 が見つかりません")
	}

	stsd, err := readRawBox(r, trak, stblPath(gomp4.BoxTypeStsd()))
	if err != nil {
		return nil, fmt.Errorf("stsd の読み込みに失敗: %w", err)
	}

	handler := string(hdlr.HandlerType[:])
	entry, err := parseSampleEntry(stsd, handler)
	if err != nil {
		return nil, err
	}

	timescale := mdhd.Timescale
	if timescale == 0 {
		timescale = DefaultTimescale
	}

	var chunkOffsets []uint64
	if co64 != nil {
		chunkOffsets = co64.ChunkOffset
	} else {
		chunkOffsets = make([]uint64, len(stco.ChunkOffset))
		for i, offset := range stco.ChunkOffset {
			chunkOffsets[i] = uint64(offset)
		}
	}

	samples, err := buildSamples(stts, ctts, stss, stsc, stsz, chunkOffsets)
	if err != nil {
		return nil, err
	}

	format := media.Format{
		MIME:        mimeFor(entry.Type, handler),
		Timescale:   timescale,
		Width:       entry.Width,
		Height:      entry.Height,
		Channels:    entry.Channels,
		SampleRate:  entry.SampleRate,
		Language:    languageOf(mdhd),
		Description: stsd,
	}
	// サンプルエントリに寸法が無い場合は tkhd の値を使う
	if format.Width == 0 && tkhd != nil {
		format.Width = int(tkhd.Width >> 16)
		format.Height = int(tkhd.Height >> 16)
	}

	var total int64
	for _, s := range samples {
		total += int64(s.duration)
	}

	return &trackTable{
		track: media.Track{
			Index:       index,
			Format:      format,
			SampleCount: len(samples),
			Duration:    fromTicks(total, timescale),
		},
		timescale: timescale,
		samples:   samples,
	}, nil
}

// buildSamples は stbl の各テーブルを展開してサンプル一覧を作る
func buildSamples(stts *gomp4.Stts, ctts *gomp4.Ctts, stss *gomp4.Stss, stsc *gomp4.Stsc, stsz *gomp4.Stsz, chunkOffsets []uint64) ([]sampleRef, error) {
	count := int(stsz.SampleCount)
	samples := make([]sampleRef, count)

	// サイズ
	for i := range samples {
		if stsz.SampleSize != 0 {
			samples[i].size = stsz.SampleSize
		} else {
			if i >= len(stsz.EntrySize) {
				return nil, fmt.Errorf("stsz のエントリが不足しています")
			}
			samples[i].size = stsz.EntrySize[i]
		}
	}

	// デコード時刻と長さ
	i := 0
	var dts int64
	for _, entry := range stts.Entries {
		for n := uint32(0); n < entry.SampleCount && i < count; n++ {
			samples[i].dts = dts
			samples[i].duration = entry.SampleDelta
			dts += int64(entry.SampleDelta)
			i++
		}
	}
	if i != count {
		return nil, fmt.Errorf("stts のサンプル数が一致しません: %d != %d", i, count)
	}

	// コンポジションオフセット
	if ctts != nil {
		i = 0
		for _, entry := range ctts.Entries {
			offset := int64(entry.SampleOffsetV0)
			if ctts.GetVersion() == 1 {
				offset = int64(entry.SampleOffsetV1)
			}
			for n := uint32(0); n < entry.SampleCount && i < count; n++ {
				samples[i].cto = offset
				i++
			}
		}
	}

	// 同期サンプル。stss が無ければ全てキーフレーム
	if stss == nil {
		for i := range samples {
			samples[i].sync = true
		}
	} else {
		for _, number := range stss.SampleNumber {
			if number >= 1 && int(number) <= count {
				samples[number-1].sync = true
			}
		}
	}

	// チャンクからファイル内オフセットを計算
	i = 0
	for e, entry := range stsc.Entries {
		lastChunk := uint32(len(chunkOffsets))
		if e+1 < len(stsc.Entries) {
			lastChunk = stsc.Entries[e+1].FirstChunk - 1
		}
		for chunk := entry.FirstChunk; chunk <= lastChunk; chunk++ {
			if chunk == 0 || int(chunk) > len(chunkOffsets) {
				return nil, fmt.Errorf("stsc のチャンク番号が不正です: %d", chunk)
			}
			offset := chunkOffsets[chunk-1]
			for n := uint32(0); n < entry.SamplesPerChunk && i < count; n++ {
				samples[i].offset = offset
				offset += uint64(samples[i].size)
				i++
			}
		}
	}
	if i != count {
		return nil, fmt.Errorf("stsc のサンプル数が一致しません: %d != %d", i, count)
	}

	return samples, nil
}

// readRawBox は trak 配下のボックスをヘッダー込みで読み出す
func readRawBox(r ReadSeekerAt, parent *gomp4.BoxInfo, path gomp4.BoxPath) ([]byte, error) {
	infos, err := gomp4.ExtractBox(r, parent, path)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("%s が見つかりません", path[len(path)-1])
	}

	info := infos[0]
	raw := make([]byte, info.Size)
	if _, err := r.ReadAt(raw, int64(info.Offset)); err != nil {
		return nil, err
	}
	return raw, nil
}

// languageOf は mdhd の言語コードを文字列で返す
// 各文字は 0x60 を引いた5ビット値で格納されている
func languageOf(mdhd *gomp4.Mdhd) string {
	if mdhd.Language == [3]byte{} {
		return ""
	}
	lang := make([]byte, len(mdhd.Language))
	for i, c := range mdhd.Language {
		lang[i] = c + 0x60
	}
	return string(lang)
}
