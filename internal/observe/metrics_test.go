package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
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

// sumValue returns the value of the sum data point whose attributes contain
// key=value, and whether it was found.
func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) (int64, bool) {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value, true
		}
	}
	return 0, false
}

func TestLatencyHistograms(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	// A slow endpoint can take minutes; a spoken segment rarely more than one.
	m.SynthesisDuration.Record(ctx, 240)
	m.FetchDuration.Record(ctx, 0.3)
	m.FetchDuration.Record(ctx, 19)
	m.PlaybackDuration.Record(ctx, 12)

	rm := collect(t, reader)
	tests := []struct {
		name      string
		count     uint64
		maxBucket float64
	}{
		{"readaloud.synthesis.duration", 1, 300},
		{"readaloud.fetch.duration", 2, 300},
		{"readaloud.playback.duration", 1, 90},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			met := findMetric(rm, tt.name)
			if met == nil {
				t.Fatalf("metric %q not found", tt.name)
			}
			if met.Unit != "s" {
				t.Errorf("unit = %q, want s", met.Unit)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok || len(hist.DataPoints) != 1 {
				t.Fatalf("metric %q: want one histogram data point, got %T", tt.name, met.Data)
			}
			dp := hist.DataPoints[0]
			if dp.Count != tt.count {
				t.Errorf("count = %d, want %d", dp.Count, tt.count)
			}
			if b := dp.Bounds; len(b) == 0 || b[len(b)-1] != tt.maxBucket {
				t.Errorf("bounds = %v, want last bound %g", b, tt.maxBucket)
			}
		})
	}
}

func TestRecordSynthesisAttempt(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSynthesisAttempt(ctx, "en", "ok", 0.8)
	m.RecordSynthesisAttempt(ctx, "en", "ok", 1.2)
	m.RecordSynthesisAttempt(ctx, "en", "error", 0.1)

	rm := collect(t, reader)
	if v, ok := sumValue(t, rm, "readaloud.synthesis.attempts", "status", "ok"); !ok || v != 2 {
		t.Errorf("ok attempts = %d (found %v), want 2", v, ok)
	}
	if v, ok := sumValue(t, rm, "readaloud.synthesis.attempts", "status", "error"); !ok || v != 1 {
		t.Errorf("error attempts = %d (found %v), want 1", v, ok)
	}
	if findMetric(rm, "readaloud.synthesis.duration") == nil {
		t.Error("synthesis duration not recorded")
	}
}

func TestRecordSegment(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSegment(ctx, "zh", "played")
	m.RecordSegment(ctx, "zh", "played")
	m.RecordSegment(ctx, "zh", "skipped")

	rm := collect(t, reader)
	if v, _ := sumValue(t, rm, "readaloud.segments", "outcome", "played"); v != 2 {
		t.Errorf("played = %d, want 2", v)
	}
	if v, _ := sumValue(t, rm, "readaloud.segments", "outcome", "skipped"); v != 1 {
		t.Errorf("skipped = %d, want 1", v)
	}
}

func TestRecordPrefetchAndPageTurns(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPrefetchLookup(ctx, true)
	m.RecordPrefetchLookup(ctx, true)
	m.RecordPrefetchLookup(ctx, false)
	m.RecordPageTurn(ctx, true)
	m.RecordPageTurn(ctx, false)
	m.RecordBreakerTransition(ctx, "zh-primary", "open")

	rm := collect(t, reader)
	if v, _ := sumValue(t, rm, "readaloud.prefetch.lookups", "result", "hit"); v != 2 {
		t.Errorf("hits = %d, want 2", v)
	}
	if v, _ := sumValue(t, rm, "readaloud.prefetch.lookups", "result", "miss"); v != 1 {
		t.Errorf("misses = %d, want 1", v)
	}
	if v, _ := sumValue(t, rm, "readaloud.page_turns", "status", "failed"); v != 1 {
		t.Errorf("failed page turns = %d, want 1", v)
	}
	if v, _ := sumValue(t, rm, "readaloud.breaker.transitions", "to", "open"); v != 1 {
		t.Errorf("breaker transitions = %d, want 1", v)
	}
}

func TestUpDownCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	// A session starts and is replaced by the next one.
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)
	m.ActiveSessions.Add(ctx, 1)
	m.InFlightFetches.Add(ctx, 2)
	m.InFlightFetches.Add(ctx, -1)

	rm := collect(t, reader)
	for name, want := range map[string]int64{
		"readaloud.active_sessions": 1,
		"readaloud.fetch.in_flight": 1,
	} {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		sum, ok := met.Data.(metricdata.Sum[int64])
		if !ok || sum.IsMonotonic || len(sum.DataPoints) != 1 {
			t.Fatalf("metric %q: want one non-monotonic sum point, got %+v", name, met.Data)
		}
		if got := sum.DataPoints[0].Value; got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
