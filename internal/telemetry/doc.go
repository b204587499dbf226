// Package telemetry はOpenTelemetryのトレースを初期化する
//
// エンドポイントが設定されている場合のみ OTLP/HTTP でスパンを送信する。
package telemetry
