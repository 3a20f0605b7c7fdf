package oteladapters_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/openshelf/circulation-go/circulation/oteladapters"
)

func Test_TracingCollector_StartAndFinishSpan(t *testing.T) {
	// arrange
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	collector := oteladapters.NewTracingCollector(provider.Tracer("test"))

	// act
	ctx, spanCtx := collector.StartSpan(context.Background(), "circulation.borrow",
		map[string]string{"item_code": "978-0134190440"})
	require.NotNil(t, ctx)
	require.NotNil(t, spanCtx)

	collector.FinishSpan(spanCtx, "success", map[string]string{"loan_id": "1"})

	// assert
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	span := spans[0]
	assert.Equal(t, "circulation.borrow", span.Name)
	assert.Equal(t, codes.Ok, span.Status.Code)
	assertSpanHasAttribute(t, span, "item_code", "978-0134190440")
	assertSpanHasAttribute(t, span, "loan_id", "1")
}

func Test_TracingCollector_FinishSpan_MapsErrorStatus(t *testing.T) {
	// arrange
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	collector := oteladapters.NewTracingCollector(provider.Tracer("test"))

	// act
	_, spanCtx := collector.StartSpan(context.Background(), "circulation.return", nil)
	collector.FinishSpan(spanCtx, "error", nil)

	// assert
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
}

func Test_SpanContext_AddAttribute(t *testing.T) {
	// arrange
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	collector := oteladapters.NewTracingCollector(provider.Tracer("test"))

	// act
	_, spanCtx := collector.StartSpan(context.Background(), "circulation.sweep", nil)
	spanCtx.AddAttribute("transitioned", "3")
	collector.FinishSpan(spanCtx, "ok", nil)

	// assert
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assertSpanHasAttribute(t, spans[0], "transitioned", "3")
}

func assertSpanHasAttribute(t *testing.T, span tracetest.SpanStub, key string, value string) {
	t.Helper()

	for _, attr := range span.Attributes {
		if string(attr.Key) == key {
			assert.Equal(t, value, attr.Value.AsString())
			return
		}
	}

	t.Errorf("span %s is missing attribute %s", span.Name, key)
}
