// Package logging provides the structured Logger every paramforge
// component is constructed with; there is no package-level global
// logger.
package logging

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Logger is the minimal structured-logging contract every component
// depends on, with context-correlated variants that stamp the active
// go.opentelemetry.io/otel/trace trace/span id when one is present.
type Logger interface {
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, err error, fields map[string]any)
	InfoCtx(ctx context.Context, msg string, fields map[string]any)
	WarnCtx(ctx context.Context, msg string, fields map[string]any)
	ErrorCtx(ctx context.Context, msg string, err error, fields map[string]any)
	With(component string) Logger
}

type zerologLogger struct {
	log zerolog.Logger
}

// New builds a Logger writing JSON lines to w (os.Stdout in production,
// a bytes.Buffer in tests).
func New(w io.Writer, component string) Logger {
	if w == nil {
		w = os.Stdout
	}
	base := zerolog.New(w).With().Timestamp().Str("component", component).Logger()
	return &zerologLogger{log: base}
}

func applyFields(e *zerolog.Event, fields map[string]any) *zerolog.Event {
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	return e
}

func (l *zerologLogger) Info(msg string, fields map[string]any) {
	applyFields(l.log.Info(), fields).Msg(msg)
}

func (l *zerologLogger) Warn(msg string, fields map[string]any) {
	applyFields(l.log.Warn(), fields).Msg(msg)
}

func (l *zerologLogger) Error(msg string, err error, fields map[string]any) {
	applyFields(l.log.Error().Err(err), fields).Msg(msg)
}

func withSpanContext(ctx context.Context, e *zerolog.Event) *zerolog.Event {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return e
	}
	return e.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
}

func (l *zerologLogger) InfoCtx(ctx context.Context, msg string, fields map[string]any) {
	applyFields(withSpanContext(ctx, l.log.Info()), fields).Msg(msg)
}

func (l *zerologLogger) WarnCtx(ctx context.Context, msg string, fields map[string]any) {
	applyFields(withSpanContext(ctx, l.log.Warn()), fields).Msg(msg)
}

func (l *zerologLogger) ErrorCtx(ctx context.Context, msg string, err error, fields map[string]any) {
	applyFields(withSpanContext(ctx, l.log.Error().Err(err)), fields).Msg(msg)
}

func (l *zerologLogger) With(component string) Logger {
	return &zerologLogger{log: l.log.With().Str("component", component).Logger()}
}

// NewNoop returns a Logger that discards everything, for tests that
// don't care about log output.
func NewNoop() Logger {
	return &zerologLogger{log: zerolog.New(io.Discard)}
}
