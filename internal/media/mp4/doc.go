// Package mp4 はMP4（ISO BMFF）ファイルのDemuxer/Muxerを提供する
//
// # 責務
// - moov/trak のサンプルテーブルを展開してサンプルを順に読み出す
// - サンプルを mdat に追記し、停止時に moov を書き出す
//
// # 仕様
//   - ボックスの解析と書き込みには github.com/abema/go-mp4 を使う
//   - 出力は ftyp, mdat, moov の順（mdat は64ビットサイズ）
//   - stsd は入力のものをそのまま出力に使う
//   - 同じトラックの連続サンプルを1チャンクにまとめる
//   - 全サンプルがキーフレームの場合は stss を省略する
//   - チャンクオフセットが32ビットを超える場合は co64 を使う
package mp4
