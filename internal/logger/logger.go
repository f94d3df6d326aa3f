// Package logger wraps zap with the fields and span events paramhunt
// attaches to probe, import and store operations.
package logger

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/config"
)

const serviceName = "paramhunt"

// Logger is a sugared zap logger that also annotates the active span.
type Logger struct {
	*zap.SugaredLogger
	tracer trace.Tracer
}

// New builds a logger from cfg. Records go to the configured outputs
// (stderr by default) and to the OpenTelemetry log bridge.
func New(cfg config.LoggerConfig) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}
	sink, _, err := zap.Open(outputs...)
	if err != nil {
		return nil, fmt.Errorf("failed to open log outputs: %w", err)
	}

	local := zapcore.NewCore(newEncoder(cfg.Format), sink, zap.NewAtomicLevelAt(level))
	bridge := otelzap.NewCore(serviceName,
		otelzap.WithAttributes(attribute.String("service", serviceName)),
	)

	base := zap.New(zapcore.NewTee(local, bridge),
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.ErrorOutput(sink),
	).With(zap.String("service", serviceName))

	return &Logger{
		SugaredLogger: base.Sugar(),
		tracer:        otel.Tracer(serviceName),
	}, nil
}

// newEncoder returns a colored console encoder for "console" and JSON
// otherwise.
func newEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "timestamp"

	if format == "console" {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
	ec.EncodeTime = zapcore.RFC3339TimeEncoder
	return zapcore.NewJSONEncoder(ec)
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{
		SugaredLogger: zap.NewNop().Sugar(),
		tracer:        otel.Tracer(serviceName),
	}
}

func (l *Logger) with(fields ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.With(fields...), tracer: l.tracer}
}

// WithContext adds the trace and span ids of the span in ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return l
	}
	return l.with("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
}

func (l *Logger) WithComponent(component string) *Logger {
	return l.with("component", component)
}

func (l *Logger) WithProject(project string) *Logger {
	return l.with("project", project)
}

func (l *Logger) WithRunID(runID string) *Logger {
	return l.with("run_id", runID)
}

// spanEvent adds a named event to the recording span in ctx.
func spanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

// StartOperation opens a span named operation and logs its start at debug.
// Pair it with FinishOperation.
func (l *Logger) StartOperation(ctx context.Context, operation string, fields ...interface{}) (context.Context, trace.Span) {
	ctx, span := l.tracer.Start(ctx, operation)
	l.WithContext(ctx).Debugw("Operation started", append([]interface{}{"operation", operation}, fields...)...)
	return ctx, span
}

// FinishOperation ends span, logging err at error level when set.
func (l *Logger) FinishOperation(ctx context.Context, span trace.Span, operation string, start time.Time, err error, fields ...interface{}) {
	defer span.End()

	fields = append([]interface{}{"duration_ms", time.Since(start).Milliseconds()}, fields...)
	if err != nil {
		l.LogError(ctx, err, operation, fields...)
		return
	}
	l.WithContext(ctx).Debugw("Operation completed", append([]interface{}{"operation", operation}, fields...)...)
	span.SetStatus(codes.Ok, "")
}

func (l *Logger) LogDuration(ctx context.Context, operation string, start time.Time, fields ...interface{}) {
	ms := time.Since(start).Milliseconds()
	l.WithContext(ctx).Debugw("Step completed",
		append([]interface{}{"operation", operation, "duration_ms", ms}, fields...)...)
	spanEvent(ctx, "step_completed",
		attribute.String("operation", operation),
		attribute.Int64("duration_ms", ms),
	)
}

// LogError logs a failed operation and marks the span in ctx as failed.
// A nil err is ignored.
func (l *Logger) LogError(ctx context.Context, err error, operation string, fields ...interface{}) {
	if err == nil {
		return
	}
	l.WithContext(ctx).Errorw("Operation failed",
		append([]interface{}{"operation", operation, "error", err.Error()}, fields...)...)

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func (l *Logger) LogPanic(ctx context.Context, recovered interface{}, operation string, fields ...interface{}) {
	msg := fmt.Sprint(recovered)
	l.WithContext(ctx).Errorw("Recovered from panic",
		append([]interface{}{"operation", operation, "panic", msg}, fields...)...)
	spanEvent(ctx, "panic_recovered",
		attribute.String("operation", operation),
		attribute.String("panic", msg),
	)
}

// LogProbe logs one probed ID at debug level.
func (l *Logger) LogProbe(ctx context.Context, value int64, url, verdict string, duration time.Duration, probeErr string) {
	fields := []interface{}{
		"value", value,
		"url", url,
		"verdict", verdict,
		"duration_ms", duration.Milliseconds(),
	}
	if probeErr != "" {
		fields = append(fields, "error", probeErr)
	}
	l.WithContext(ctx).Debugw("Probed value", fields...)
	spanEvent(ctx, "probe",
		attribute.Int64("value", value),
		attribute.String("verdict", verdict),
	)
}

// LogVulnerability logs a recorded finding. Critical and high findings are
// logged at warn level.
func (l *Logger) LogVulnerability(ctx context.Context, vulnType, severity string, fields ...interface{}) {
	fields = append([]interface{}{"vulnerability_type", vulnType, "severity", severity}, fields...)

	log := l.WithContext(ctx)
	if severity == "critical" || severity == "high" {
		log.Warnw("Vulnerability recorded", fields...)
	} else {
		log.Infow("Vulnerability recorded", fields...)
	}
	spanEvent(ctx, "vulnerability_recorded",
		attribute.String("type", vulnType),
		attribute.String("severity", severity),
	)
}

// LogHTTPRequest logs a completed request. Probes draw 4xx answers as a
// matter of course, so only 5xx is raised to warn.
func (l *Logger) LogHTTPRequest(ctx context.Context, method, url string, statusCode int, duration time.Duration, fields ...interface{}) {
	fields = append([]interface{}{
		"http_method", method,
		"http_url", url,
		"http_status", statusCode,
		"duration_ms", duration.Milliseconds(),
	}, fields...)

	log := l.WithContext(ctx)
	if statusCode >= 500 {
		log.Warnw("HTTP request completed", fields...)
	} else {
		log.Debugw("HTTP request completed", fields...)
	}
	spanEvent(ctx, "http_request",
		attribute.String("method", method),
		attribute.Int("status_code", statusCode),
	)
}

func (l *Logger) LogDatabaseOperation(ctx context.Context, operation, table string, rowsAffected int64, duration time.Duration, fields ...interface{}) {
	l.WithContext(ctx).Debugw("Store write",
		append([]interface{}{
			"db_operation", operation,
			"db_table", table,
			"rows_affected", rowsAffected,
			"duration_ms", duration.Milliseconds(),
		}, fields...)...)
	spanEvent(ctx, "db_write",
		attribute.String("operation", operation),
		attribute.String("table", table),
		attribute.Int64("rows_affected", rowsAffected),
	)
}
