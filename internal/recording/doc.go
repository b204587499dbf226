// Package recording はセグメント単位の録画セッションを管理する
//
// # 責務
// - 録画セッションの開始・停止
// - カメラ切り替えごとのセグメントファイルの払い出し
// - 停止時のセグメント結合とメディアインデックスへの登録
//
// # 仕様
//   - 同時に録画できるのは1セッションのみ
//   - セグメントは VIDEO_SEGMENT_<番号>_<UNIXミリ秒>.mp4
//   - 結合後のファイルは VIDEO_FINAL_<UNIXミリ秒>.mp4
//   - 録画エラーのあったセグメントは破棄する
//   - 結合に失敗した場合はセグメントを個別のファイルとして残す
//   - 経過時間は MM:SS 形式
package recording
