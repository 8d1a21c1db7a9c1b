package log

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// zerologAdapter wraps a zerolog.Logger to implement Logger.
type zerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapter creates a Logger writing to out. A nil out means stderr.
func NewZerologAdapter(out io.Writer, level zerolog.Level, pretty bool) Logger {
	if out == nil {
		out = os.Stderr
	}
	if pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	zlog := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Logger()
	return &zerologAdapter{logger: zlog}
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return &zerologAdapter{logger: zerolog.Nop()}
}

// ParseLevel maps a configured level name to a zerolog level, falling back to info.
func ParseLevel(name string) (zerolog.Level, bool) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel, false
	}
	return level, true
}

func withTrace(ctx context.Context, event *zerolog.Event) *zerolog.Event {
	if ctx == nil {
		return event
	}
	sc := trace.SpanContextFromContext(ctx)
	if sc.IsValid() {
		event = event.Str("trace_id", sc.TraceID().String()).
			Str("span_id", sc.SpanID().String())
	}
	return event
}

func emit(ctx context.Context, event *zerolog.Event, msg string, fields []Fields) {
	event = withTrace(ctx, event)
	for _, f := range fields {
		event = event.Fields(f)
	}
	event.Msg(msg)
}

func (z *zerologAdapter) Debug(ctx context.Context, msg string, fields ...Fields) {
	emit(ctx, z.logger.Debug(), msg, fields)
}

func (z *zerologAdapter) Info(ctx context.Context, msg string, fields ...Fields) {
	emit(ctx, z.logger.Info(), msg, fields)
}

func (z *zerologAdapter) Warn(ctx context.Context, msg string, fields ...Fields) {
	emit(ctx, z.logger.Warn(), msg, fields)
}

func (z *zerologAdapter) Error(ctx context.Context, msg string, err error, fields ...Fields) {
	emit(ctx, z.logger.Error().Err(err), msg, fields)
}

// With returns a new logger with the provided fields added to its context.
// Trace information is added per call so it always reflects the current span.
func (z *zerologAdapter) With(fields Fields) Logger {
	return &zerologAdapter{logger: z.logger.With().Fields(fields).Logger()}
}
