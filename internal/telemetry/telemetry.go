package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// DefaultServiceName はトレースに付けるサービス名の既定値
const DefaultServiceName = "democamera"

// Settings はトレースの設定
type Settings struct {
	Enabled     bool   // false ならトレースを送信しない
	Endpoint    string // OTLP/HTTP のエンドポイントURL
	ServiceName string
}

// ShutdownFunc は未送信のスパンを送信してプロバイダを停止する
type ShutdownFunc func(context.Context) error

// Setup はOpenTelemetryのトレースを初期化する
//
// 無効またはエンドポイントが空の場合は何もしない。
// 戻り値の shutdown は呼び出し側で defer すること。
func Setup(ctx context.Context, settings Settings) (ShutdownFunc, error) {
	noop := func(context.Context) error { return nil }

	if !settings.Enabled || settings.Endpoint == "" {
		return noop, nil
	}
	if settings.ServiceName == "" {
		settings.ServiceName = DefaultServiceName
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(settings.Endpoint),
	)
	if err != nil {
		return noop, fmt.Errorf("トレースエクスポーターの作成に失敗: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(settings.ServiceName),
		),
	)
	if err != nil {
		return noop, fmt.Errorf("リソースの作成に失敗: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}
