package dtrace

import (
	"fmt"

	otelattr "go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	otpnoop "go.opentelemetry.io/otel/trace/noop"
)

type TracerProvider = oteltrace.TracerProvider

type Tracer = oteltrace.Tracer

type KeyValueAttr = otelattr.KeyValue

// InstrumentationName is the tracer name used by every dflow component.
const InstrumentationName = "github.com/gordian-engine/dflow"

// NopTracerProvider returns the otel no-op tracer provider.
// This is intended to use as a fallback when a nil tracer provider is given.
func NopTracerProvider() TracerProvider {
	return otpnoop.NewTracerProvider()
}

// TracerFrom returns the dflow tracer from tp,
// falling back to the no-op provider if tp is nil.
func TracerFrom(tp TracerProvider) Tracer {
	if tp == nil {
		tp = NopTracerProvider()
	}
	return tp.Tracer(InstrumentationName)
}

// WithAttributes is an alias to [oteltrace.WithAttributes]
// to allow consumers to only reference the dtrace package.
func WithAttributes(attrs ...KeyValueAttr) oteltrace.SpanStartEventOption {
	return oteltrace.WithAttributes(attrs...)
}

// SpanError sets the given span to error status,
// with detail from err.Error().
func SpanError(span oteltrace.Span, err error) {
	span.SetStatus(otelcodes.Error, err.Error())
}

// ErrorAttr returns an attribute with the key "err"
// and the lazily evaluated value of err's Error() method.
func ErrorAttr(err error) KeyValueAttr {
	return otelattr.Stringer("err", errStringer{err: err})
}

type errStringer struct {
	err error
}

func (e errStringer) String() string {
	return e.err.Error()
}

// PublisherAttr identifies the publisher that owns a span.
func PublisherAttr(name string) KeyValueAttr {
	return otelattr.String("dflow.publisher", name)
}

// SubscriptionAttr lazily formats a subscription ID.
func SubscriptionAttr(id fmt.Stringer) KeyValueAttr {
	return otelattr.Stringer("dflow.subscription", id)
}

// SequenceAttr is the zero-based submission index of an item.
func SequenceAttr(seq uint64) KeyValueAttr {
	return otelattr.Int64("dflow.seq", int64(seq))
}

// SubscribersAttr is the number of active subscriptions
// at the time of the span.
func SubscribersAttr(n int) KeyValueAttr {
	return otelattr.Int("dflow.subscribers", n)
}
