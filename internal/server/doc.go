// Package server は、HTTPサーバーを管理します。
//
// このパッケージは、HTTPサーバーの起動、ルーティング、
// メディアファイルの配信と録画・カメラ操作のリクエスト処理を担当します。
//
// 責務:
//   - HTTPサーバーの起動と管理
//   - 写真・動画の一覧と配信
//   - 録画セッションとカメラ制御の操作
//   - 動画セグメントの結合リクエスト処理
//
// 仕様:
//   - ルーティングはginを使用
//   - エラーは ErrorResponse のJSONで返す
//   - グレースフルシャットダウンに対応
//   - 複数クライアントの同時接続をサポート
package server
