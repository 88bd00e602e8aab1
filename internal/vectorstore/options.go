package vectorstore

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/fyrsmithlabs/repochat/internal/vectorstore"

type storeOptions struct {
	tracer trace.Tracer
}

// Option customizes a store.
type Option func(*storeOptions)

// WithTracer sets the tracer used for store spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *storeOptions) { o.tracer = t }
}

func applyOptions(opts []Option) storeOptions {
	o := storeOptions{tracer: otel.Tracer(instrumentationName)}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
