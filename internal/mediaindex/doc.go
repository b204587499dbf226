// Package mediaindex は保存したメディアファイルの索引を管理する
//
// 録画・撮影が完了したファイルを登録し、一覧や削除に使う。
// データは modernc.org/sqlite で単一ファイルに保存する。
// パスは絶対パスに正規化して主キーにする。
package mediaindex
