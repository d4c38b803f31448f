package telemetry

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Shutdown 刷新并关闭指标导出器。
type Shutdown func(context.Context) error

// InitMetrics 在设置了 endpoint 时安装 OTLP/gRPC 指标导出器，否则保留全局的 noop provider。
func InitMetrics(ctx context.Context, serviceName, endpoint string) (Shutdown, error) {
	if endpoint == "" {
		logrus.Info("OTLP endpoint not set, metrics are not exported")
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	logrus.WithFields(logrus.Fields{"service": serviceName, "endpoint": endpoint}).Info("OpenTelemetry metrics initialized")
	return mp.Shutdown, nil
}
