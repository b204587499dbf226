// Package media はコンテナのdemux/muxを抽象化する
//
// # 責務
// - トラック・サンプル・フォーマットの共通型を定義する
// - Demuxer/Muxer/Container のインターフェースを提供する
// - MIMEタイプの接頭辞による映像/音声の判定
//
// # 仕様
//   - 時刻は time.Duration で扱い、ティックとの変換はコンテナ実装が行う
//   - Demuxer.ReadSample はトラック終端で io.EOF を返す
//   - Muxer は AddTrack -> Start -> WriteSample -> Stop の順で使う
//   - Close は Stop の後でも失敗時でも呼んでよい
package media
