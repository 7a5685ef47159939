package util

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTracer_ConcurrentFirstUse(t *testing.T) {
	const n = 16
	got := make([]trace.Tracer, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = GetTracer()
		}(i)
	}
	wg.Wait()

	require.NotNil(t, got[0])
	for _, tr := range got[1:] {
		assert.Same(t, got[0], tr)
	}
}

func TestStartSpan_FollowsInstalledProvider(t *testing.T) {
	// cache the tracer before any provider is installed
	_ = GetTracer()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := StartSpan(context.Background(), "CartService.AddLine")
	EndSpan(span, errors.New("boom"))

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "CartService.AddLine", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
}
