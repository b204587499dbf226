package mp4

import (
	"encoding/binary"
	"fmt"
)

// stsd ボックス内のオフセット
const (
	boxHeaderSize      = 8
	largeBoxHeaderSize = 16
	fullBoxFieldsSize  = 4
	entryCountSize     = 4

	visualWidthOffset   = 32 // VisualSampleEntry.width
	visualHeightOffset  = 34 // VisualSampleEntry.height
	audioChannelsOffset = 24 // AudioSampleEntry.channelcount
	audioRateOffset     = 32 // AudioSampleEntry.samplerate (16.16)
	sampleEntryMinSize  = 36
)

// handler_type
const (
	handlerVideo = "vide"
	handlerAudio = "soun"
)

// sampleEntry は stsd の先頭エントリから読み取った情報
type sampleEntry struct {
	Type       string
	Width      int
	Height     int
	Channels   int
	SampleRate int
}

// fourccMIME はサンプルエントリ種別とMIMEタイプの対応
var fourccMIME = map[string]string{
	"avc1": "video/avc",
	"avc3": "video/avc",
	"hvc1": "video/hevc",
	"hev1": "video/hevc",
	"mp4v": "video/mp4v-es",
	"vp08": "video/x-vnd.on2.vp8",
	"vp09": "video/x-vnd.on2.vp9",
	"av01": "video/av01",
	"s263": "video/3gpp",
	"mp4a": "audio/mp4a-latm",
	"Opus": "audio/opus",
	"samr": "audio/3gpp",
	"sawb": "audio/amr-wb",
	".mp3": "audio/mpeg",
	"fLaC": "audio/flac",
	"ac-3": "audio/ac3",
	"ec-3": "audio/eac3",
}

// parseSampleEntry は生の stsd ボックスから先頭エントリを読み取る
func parseSampleEntry(stsd []byte, handler string) (sampleEntry, error) {
	if len(stsd) < boxHeaderSize {
		return sampleEntry{}, fmt.Errorf("stsd が短すぎます: %d bytes", len(stsd))
	}

	header := boxHeaderSize
	if binary.BigEndian.Uint32(stsd[0:4]) == 1 {
		header = largeBoxHeaderSize
	}

	start := header + fullBoxFieldsSize + entryCountSize
	if len(stsd) < start+boxHeaderSize {
		return sampleEntry{}, fmt.Errorf("stsd にサンプルエントリがありません")
	}
	if binary.BigEndian.Uint32(stsd[header+fullBoxFieldsSize:start]) == 0 {
		return sampleEntry{}, fmt.Errorf("stsd のエントリ数が0です")
	}

	entry := sampleEntry{
		Type: string(stsd[start+4 : start+8]),
	}

	// 寸法やチャンネル数は読めた場合のみ埋める
	if len(stsd) >= start+sampleEntryMinSize {
		switch handler {
		case handlerVideo:
			entry.Width = int(binary.BigEndian.Uint16(stsd[start+visualWidthOffset:]))
			entry.Height = int(binary.BigEndian.Uint16(stsd[start+visualHeightOffset:]))
		case handlerAudio:
			entry.Channels = int(binary.BigEndian.Uint16(stsd[start+audioChannelsOffset:]))
			entry.SampleRate = int(binary.BigEndian.Uint32(stsd[start+audioRateOffset:]) >> 16)
		}
	}

	return entry, nil
}

// mimeFor はサンプルエントリ種別とハンドラー種別からMIMEタイプを決める
func mimeFor(fourcc, handler string) string {
	if mime, ok := fourccMIME[fourcc]; ok {
		return mime
	}
	switch handler {
	case handlerVideo:
		return "video/x-" + fourcc
	case handlerAudio:
		return "audio/x-" + fourcc
	default:
		return "application/x-" + handler
	}
}
