package observe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// counterValue sums the data points of an Int64 sum that carry attr.
func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string, attr attribute.KeyValue) int64 {
	t.Helper()
	m := findMetric(rm, name)
	require.NotNil(t, m, name)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "%s is not an int64 sum", name)
	var total int64
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attr.Key); ok && v.Emit() == attr.Value.Emit() {
			total += dp.Value
		}
	}
	return total
}

func TestRecordClassification(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordClassification(ctx, "ai-stress", true, false)
	m.RecordClassification(ctx, "ai-stress", false, true)
	m.RecordClassification(ctx, "green", false, false)

	rm := collect(t, reader)
	assert.Equal(t, int64(2), counterValue(t, rm, "obivox.drift.classifications", attribute.String("zone", "ai-stress")))
	assert.Equal(t, int64(1), counterValue(t, rm, "obivox.drift.classifications", attribute.String("zone", "green")))
	assert.Equal(t, int64(1), counterValue(t, rm, "obivox.drift.cascades", attribute.String("zone", "ai-stress")))
	assert.Equal(t, int64(1), counterValue(t, rm, "obivox.drift.interventions", attribute.String("zone", "ai-stress")))
}

func TestRecordLookupAndConfirmation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordLookup(ctx, true)
	m.RecordLookup(ctx, true)
	m.RecordLookup(ctx, false)
	m.RecordConfirmation(ctx, "confidence")

	rm := collect(t, reader)
	assert.Equal(t, int64(2), counterValue(t, rm, "obivox.atlas.lookups", attribute.String("result", "hit")))
	assert.Equal(t, int64(1), counterValue(t, rm, "obivox.atlas.lookups", attribute.String("result", "miss")))
	assert.Equal(t, int64(1), counterValue(t, rm, "obivox.feedback.confirmations", attribute.String("reason", "confidence")))
}

func TestRecordCodec(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCodec(ctx, "whisper", "stt", 120*time.Millisecond, nil)
	m.RecordCodec(ctx, "whisper", "stt", 2*time.Second, errors.New("boom"))

	rm := collect(t, reader)
	hist := findMetric(rm, "obivox.codec.duration")
	require.NotNil(t, hist)
	data, ok := hist.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range data.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(2), count)
	assert.Equal(t, int64(1), counterValue(t, rm, "obivox.codec.errors", attribute.String("backend", "whisper")))
}

func TestRecordRebuild(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordRebuild(context.Background(), "red-black", 3*time.Millisecond)

	rm := collect(t, reader)
	hist := findMetric(rm, "obivox.atlas.rebuild.duration")
	require.NotNil(t, hist)
	data := hist.Data.(metricdata.Histogram[float64])
	require.Len(t, data.DataPoints, 1)
	v, _ := data.DataPoints[0].Attributes.Value("discipline")
	assert.Equal(t, "red-black", v.AsString())
}

func TestMiddleware(t *testing.T) {
	m, reader := newTestMetrics(t)

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	var seen string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/dispatch", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Len(t, seen, 32)
	assert.Equal(t, seen, rec.Header().Get("X-Trace-ID"))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "HTTP POST /dispatch", spans[0].Name)

	rm := collect(t, reader)
	assert.NotNil(t, findMetric(rm, "obivox.http.request.duration"))
}

func TestMiddlewareContinuesTrace(t *testing.T) {
	m, _ := newTestMetrics(t)
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodGet, "/atlas", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")

	rec := httptest.NewRecorder()
	Middleware(m)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(rec, req)
	assert.Equal(t, traceID, rec.Header().Get("X-Trace-ID"))
}

func TestLoggerWithoutSpan(t *testing.T) {
	assert.NotNil(t, Logger(context.Background()))
	assert.Empty(t, TraceID(context.Background()))
}
