package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultServiceName = "discord-verifier"
	tracerName         = "github.com/pilab-dev/discord-verifier"
)

// Exporter names accepted by InitTracerProvider.
const (
	ExporterStdout = "stdout"
	ExporterNone   = "none"
)

// Tracer returns the application tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTracerProvider installs a global TracerProvider and W3C propagators.
// The "stdout" exporter writes pretty-printed spans to w; "none" samples and
// propagates without exporting.
func InitTracerProvider(serviceName, exporterName string, w io.Writer) (*sdktrace.TracerProvider, error) {
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)),
	)
	if err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	}

	switch exporterName {
	case ExporterStdout:
		exporterOpts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
		if w != nil {
			exporterOpts = append(exporterOpts, stdouttrace.WithWriter(w))
		}
		exporter, err := stdouttrace.New(exporterOpts...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	case ExporterNone, "":
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", exporterName)
	}

	tp := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}
