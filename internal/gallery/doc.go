// Package gallery はカメラのメディアディレクトリを管理する
//
// # 責務
// - 写真・動画ファイルの一覧（更新日時の新しい順）
// - ファイルの取得・削除
// - 新しい出力ファイル名の払い出し
//
// # 仕様
//   - 対象の拡張子は .jpg .jpeg .png .mp4（大文字小文字は区別しない）
//   - ファイル名は <PREFIX>_<UNIXミリ秒>.<拡張子>
//   - パス区切りや .. を含む名前は ErrInvalidName
package gallery
