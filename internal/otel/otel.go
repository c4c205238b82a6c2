package otel

import (
	"context"
	"fmt"
	"strings"
	"sync"

	eventbus "github.com/hanpama/protograph/internal/eventbus"
	events "github.com/hanpama/protograph/internal/events"
	reqid "github.com/hanpama/protograph/internal/reqid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithInsecure()))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	sub := &subscriber{tracer: otel.Tracer("protograph")}
	sub.register()

	return tp.Shutdown, nil
}

type subscriber struct {
	tracer     trace.Tracer
	gqlSpans   sync.Map // rid -> trace.Span
	patchSpans sync.Map // rid+path -> trace.Span
}

func (s *subscriber) register() {
	eventbus.Subscribe(func(ctx context.Context, e events.ExecutionStart) {
		rid, _ := reqid.FromContext(ctx)
		_, span := s.tracer.Start(ctx, "graphql.operation")
		span.SetAttributes(
			attribute.String("graphql.operation.name", e.OperationName),
			attribute.String("graphql.operation.type", e.OperationType),
		)
		s.gqlSpans.Store(rid, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.ExecutionFinish) {
		rid, _ := reqid.FromContext(ctx)
		v, ok := s.gqlSpans.LoadAndDelete(rid)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(
			attribute.Int("graphql.error_count", e.ErrorCount),
			attribute.Int64("graphql.duration_ms", e.Duration.Milliseconds()),
		)
		span.End()
	})

	// PatchScheduled/PatchEmitted bracket one deferred fragment's or
	// streamed item's resolution (spec's per-patch unit of work); each pair
	// becomes a child span under the operation that scheduled it.
	eventbus.Subscribe(func(ctx context.Context, e events.PatchScheduled) {
		rid, _ := reqid.FromContext(ctx)
		parent := ctx
		if v, ok := s.gqlSpans.Load(rid); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
		}
		_, span := s.tracer.Start(parent, "graphql.patch")
		span.SetAttributes(
			attribute.String("graphql.patch.kind", e.Kind),
			attribute.String("graphql.patch.path", formatPath(e.Path)),
		)
		if e.Label != nil {
			span.SetAttributes(attribute.String("graphql.patch.label", *e.Label))
		}
		s.patchSpans.Store(patchKey(rid, e.Path), span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.PatchEmitted) {
		rid, _ := reqid.FromContext(ctx)
		key := patchKey(rid, e.Path)
		v, ok := s.patchSpans.LoadAndDelete(key)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(
			attribute.Bool("graphql.patch.errored", e.Errored),
			attribute.Int64("graphql.patch.duration_ms", e.Duration.Milliseconds()),
		)
		span.End()
	})
}

func patchKey(rid int64, path []any) string {
	return fmt.Sprintf("%d|%s", rid, formatPath(path))
}

func formatPath(path []any) string {
	segs := make([]string, len(path))
	for i, seg := range path {
		segs[i] = fmt.Sprint(seg)
	}
	return strings.Join(segs, ".")
}
