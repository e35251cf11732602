// Package observe bundles the structured logger and the tracer handed to
// every component.
package observe

import (
	"context"
	"io"

	"github.com/felixgeelhaar/bolt/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "termax"

var discard = bolt.New(bolt.NewJSONHandler(io.Discard))

// Observer handles logging and tracing
type Observer struct {
	log    *bolt.Logger
	tracer trace.Tracer
}

// New creates a new Observer with console output.
// If verbose is false, only warnings and errors are shown.
func New(out io.Writer, verbose bool) *Observer {
	l := bolt.New(bolt.NewConsoleHandler(out))
	if !verbose {
		l.SetLevel(bolt.WARN)
	}
	return &Observer{log: l, tracer: otel.Tracer(tracerName)}
}

// NewJSON creates a new Observer with JSON output.
// If verbose is false, only warnings and errors are shown.
func NewJSON(out io.Writer, verbose bool) *Observer {
	l := bolt.New(bolt.NewJSONHandler(out))
	if !verbose {
		l.SetLevel(bolt.WARN)
	}
	return &Observer{log: l, tracer: otel.Tracer(tracerName)}
}

// Log returns the underlying logger. A nil Observer logs nowhere.
func (o *Observer) Log() *bolt.Logger {
	if o == nil || o.log == nil {
		return discard
	}
	return o.log
}

// StartSpan starts a span on the observer's tracer. A nil Observer uses
// the global provider.
func (o *Observer) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if o == nil || o.tracer == nil {
		return otel.Tracer(tracerName).Start(ctx, name)
	}
	return o.tracer.Start(ctx, name)
}

// Close detaches the observer: later calls log nowhere. bolt writes each
// event synchronously, so nothing is buffered.
func (o *Observer) Close() error {
	if o != nil {
		o.log = nil
	}
	return nil
}
