package provider

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"convoengine/internal/contentblock"
	"convoengine/internal/tools"
)

// tracedAdapter wraps an Adapter with an OpenTelemetry span per call,
// grounded on goadesign-goa-ai's runtime/agent/runtime/model_tracing.go
// tracedClient: one client-kind span per Generate/Stream invocation,
// recording the runtime and reasoning effort as attributes and the
// terminal error (if any) on the span.
type tracedAdapter struct {
	inner  Adapter
	tracer trace.Tracer
}

// newTracedAdapter wraps inner so every call through the registry is
// traced under the "convoengine/provider" instrumentation scope.
func newTracedAdapter(inner Adapter) Adapter {
	return &tracedAdapter{inner: inner, tracer: otel.Tracer("convoengine/provider")}
}

func (t *tracedAdapter) Runtime() Runtime { return t.inner.Runtime() }

func (t *tracedAdapter) Generate(ctx context.Context, messages []contentblock.Message, toolInfos []tools.Info, effort ReasoningEffort) ([]contentblock.Block, error) {
	ctx, span := t.tracer.Start(ctx, "provider.generate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("provider.runtime", string(t.inner.Runtime())),
			attribute.String("provider.reasoning_effort", string(effort)),
			attribute.Int("provider.message_count", len(messages)),
		),
	)
	defer span.End()

	blocks, err := t.inner.Generate(ctx, messages, toolInfos, effort)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate failed")
		return nil, err
	}
	return blocks, nil
}

func (t *tracedAdapter) Stream(ctx context.Context, messages []contentblock.Message, toolInfos []tools.Info, effort ReasoningEffort) <-chan Event {
	ctx, span := t.tracer.Start(ctx, "provider.stream",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("provider.runtime", string(t.inner.Runtime())),
			attribute.String("provider.reasoning_effort", string(effort)),
			attribute.Int("provider.message_count", len(messages)),
		),
	)

	inner := t.inner.Stream(ctx, messages, toolInfos, effort)
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer span.End()
		for ev := range inner {
			if ev.Kind == EventError {
				span.RecordError(ev.Err)
				span.SetStatus(codes.Error, "stream failed")
			}
			out <- ev
		}
	}()
	return out
}
