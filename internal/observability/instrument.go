// Package observability configures process-wide logging and exposes
// Prometheus metrics for the secret and OAuth components.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
)

// ServiceName identifies this process in exported logs.
const ServiceName = "home-secrets"

// Exporter selection follows the OpenTelemetry SDK environment conventions.
const (
	envLogsExporter = "OTEL_LOGS_EXPORTER"
	envLogsProtocol = "OTEL_EXPORTER_OTLP_LOGS_PROTOCOL"
	envProtocol     = "OTEL_EXPORTER_OTLP_PROTOCOL"
	exporterOTLP    = "otlp"
	exporterConsole = "console"
	protocolGRPC    = "grpc"
)

// Instrument installs the default slog logger and returns a function that
// flushes any log exporter. The returned function is never nil.
func Instrument(level slog.Level, format string) (func(context.Context) error, error) {
	return instrument(level, format, os.Getenv)
}

func instrument(level slog.Level, format string, getenv func(string) string) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	exporter, err := newLogExporter(context.Background(), getenv)
	if err != nil {
		return noop, err
	}
	if exporter == nil {
		slog.SetDefault(slog.New(newHandler(os.Stderr, level, format)))
		return noop, nil
	}

	processor := minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), severityFor(level))
	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(resource.NewSchemaless(attribute.String("service.name", ServiceName))),
		sdklog.WithProcessor(processor),
	)
	global.SetLoggerProvider(provider)

	logger := otelslog.NewLogger(ServiceName, otelslog.WithLoggerProvider(provider))
	slog.SetDefault(logger)

	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		// stderr, the default logger feeds back into the failing exporter
		fmt.Fprintf(os.Stderr, "opentelemetry: %v\n", err)
	}))

	return provider.Shutdown, nil
}

// newLogExporter returns nil when logs stay on stderr.
func newLogExporter(ctx context.Context, getenv func(string) string) (sdklog.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(getenv(envLogsExporter))) {
	case exporterOTLP:
		protocol := getenv(envLogsProtocol)
		if protocol == "" {
			protocol = getenv(envProtocol)
		}
		if protocol == protocolGRPC {
			exp, err := otlploggrpc.New(ctx)
			if err != nil {
				return nil, fmt.Errorf("creating otlp grpc log exporter: %w", err)
			}
			return exp, nil
		}
		exp, err := otlploghttp.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating otlp http log exporter: %w", err)
		}
		return exp, nil
	case exporterConsole:
		exp, err := stdoutlog.New()
		if err != nil {
			return nil, fmt.Errorf("creating console log exporter: %w", err)
		}
		return exp, nil
	case "", "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported %s value %q", envLogsExporter, getenv(envLogsExporter))
	}
}

func newHandler(w *os.File, level slog.Level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// severityFor maps a slog level onto the minimum exported severity.
func severityFor(level slog.Level) minsev.Severity {
	switch {
	case level >= slog.LevelError:
		return minsev.SeverityError
	case level >= slog.LevelWarn:
		return minsev.SeverityWarn
	case level >= slog.LevelInfo:
		return minsev.SeverityInfo
	default:
		return minsev.SeverityDebug
	}
}
