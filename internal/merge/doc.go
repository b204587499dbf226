// Package merge は録画セグメントを1本の動画に結合する
//
// # 責務
// - 入力ファイルを順にdemuxし、映像・音声を1つのコンテナにmuxする
// - 入力が1つの場合は再muxせずに移動する
// - 成功後に入力ファイルを削除する
//
// # 仕様
//   - 映像・音声それぞれ最初に見つかったトラックの形式で出力トラックを作る
//   - 後続のファイルは同じ形式であるとみなす
//   - 2つ目以降のセグメントは直前のセグメントの終端から始まるよう時刻をずらす
//   - キーフレームフラグ・サンプル長・DTSとPTSの差はそのまま保つ
//   - 存在しない入力は警告を出してスキップする
//   - 失敗した場合は途中の出力を削除し、入力は残す
package merge
