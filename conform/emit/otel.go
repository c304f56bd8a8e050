package emit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by creating one OpenTelemetry span per event.
//
// Each span has:
//   - Name: event.Msg (e.g. "transition", "run_abort")
//   - Attributes: streamcheck.run_id, streamcheck.step, streamcheck.trigger
//     and every Meta entry under the streamcheck. prefix
//   - Status: Error when Meta["error"] is a string
//
// Events are points in time, so spans are ended immediately.
//
// Usage:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
//	emitter := emit.NewOTelEmitter(otel.Tracer("streamcheck"))
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an OTelEmitter that starts spans on tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit records event as a span.
func (o *OTelEmitter) Emit(event Event) {
	o.emit(context.Background(), event)
}

// EmitBatch records events as spans under ctx, in order.
func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.emit(ctx, event)
	}
	return nil
}

func (o *OTelEmitter) emit(ctx context.Context, event Event) {
	_, span := o.tracer.Start(ctx, event.Msg)
	defer span.End()

	span.SetAttributes(
		attribute.String("streamcheck.run_id", event.RunID),
		attribute.Int("streamcheck.step", event.Step),
	)
	if event.Trigger != "" {
		span.SetAttributes(attribute.String("streamcheck.trigger", event.Trigger))
	}
	addMetadataAttributes(span, event.Meta)

	if msg, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, msg)
		span.RecordError(errors.New(msg))
	}
}

// Flush forces export of pending spans when the global provider supports it.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := otel.GetTracerProvider().(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

// addMetadataAttributes converts Meta values to typed span attributes.
// Durations become milliseconds; unknown types fall back to %v.
func addMetadataAttributes(span trace.Span, meta map[string]interface{}) {
	for key, value := range meta {
		attrKey := "streamcheck." + key
		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(attrKey, v))
		case int:
			span.SetAttributes(attribute.Int(attrKey, v))
		case int32:
			span.SetAttributes(attribute.Int64(attrKey, int64(v)))
		case int64:
			span.SetAttributes(attribute.Int64(attrKey, v))
		case float64:
			span.SetAttributes(attribute.Float64(attrKey, v))
		case bool:
			span.SetAttributes(attribute.Bool(attrKey, v))
		case time.Duration:
			span.SetAttributes(attribute.Int64(attrKey, int64(v/time.Millisecond)))
		case []string:
			span.SetAttributes(attribute.StringSlice(attrKey, v))
		case fmt.Stringer:
			span.SetAttributes(attribute.String(attrKey, v.String()))
		default:
			span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%v", v)))
		}
	}
}
