// Package camera はカメラ操作の状態を管理する
//
// # 責務
// - 背面・前面レンズの切り替え
// - フラッシュとトーチの制御方針
// - ピンチ操作によるズーム倍率の計算
// - 端末の向きから画面の回転への変換
//
// # 仕様
//   - フラッシュは背面カメラでのみ使える
//   - トーチはフラッシュ有効かつ録画中のときだけ点灯する
//   - 写真撮影中はフラッシュ有効ならトーチを点灯し、撮影後に戻す
//   - ズーム倍率は [MinZoom, MaxZoom]（既定 1.0〜4.0）に収める
//   - レンズを切り替えるとズームは MinZoom に戻る
//   - 向き 45〜134度は270、135〜224度は180、225〜314度は90、それ以外は0
//   - Thread-safe な操作をサポート
//
// カメラデバイスそのものの制御は行わない。
package camera
