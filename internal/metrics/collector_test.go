package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounter_IncAndAdd(t *testing.T) {
	c := NewMetricsCollector()
	ctr := c.Counter("babelbot_test_total", "test counter", "")
	ctr.Inc()
	ctr.Add(4)
	if got := ctr.Value(); got != 5 {
		t.Errorf("expected 5, got %d", got)
	}
}

func TestCounter_SameNameSameInstance(t *testing.T) {
	c := NewMetricsCollector()
	a := c.Counter("babelbot_shared_total", "shared", "")
	b := c.Counter("babelbot_shared_total", "shared", "")
	if a != b {
		t.Error("expected the same counter instance for the same name")
	}
	a.Inc()
	if b.Value() != 1 {
		t.Error("expected increments to be visible through both handles")
	}
}

func TestCounter_LabelsAreDistinct(t *testing.T) {
	c := NewMetricsCollector()
	translate := c.Counter("babelbot_stage_failures_total", "failures", `stage="translate"`)
	generate := c.Counter("babelbot_stage_failures_total", "failures", `stage="generate"`)
	if translate == generate {
		t.Fatal("expected distinct counters per label set")
	}
	translate.Inc()
	if generate.Value() != 0 {
		t.Error("label sets must not share state")
	}
}

func TestGauge_SetIncDec(t *testing.T) {
	c := NewMetricsCollector()
	g := c.Gauge("babelbot_test_gauge", "test gauge", "")
	g.Set(3)
	g.Inc()
	g.Dec()
	g.Dec()
	if got := g.Value(); got != 2 {
		t.Errorf("expected 2, got %d", got)
	}
}

func TestHistogram_Observe(t *testing.T) {
	c := NewMetricsCollector()
	h := c.Histogram("babelbot_test_seconds", "test histogram", "", []float64{0.1, 1, 10})
	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(5)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count != 3 {
		t.Errorf("expected count 3, got %d", h.count)
	}
	// Buckets are cumulative.
	wantCounts := []int64{1, 2, 3}
	for i, b := range h.buckets {
		if b.count != wantCounts[i] {
			t.Errorf("bucket le=%g: expected %d, got %d", b.le, wantCounts[i], b.count)
		}
	}
}

func TestHandler_RendersPrometheusText(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("babelbot_messages_total", "Total chat messages processed", "").Add(7)
	c.Gauge("babelbot_active_connections", "Current open chat connections", "").Set(2)
	c.Histogram("babelbot_stage_latency_seconds", "Pipeline stage latency in seconds",
		`stage="translate"`, []float64{0.1, 1}).Observe(0.2)

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("unexpected content type %q", ct)
	}
	for _, want := range []string{
		"babelbot_uptime_seconds",
		"babelbot_messages_total 7",
		"babelbot_active_connections 2",
		`babelbot_stage_latency_seconds_bucket{stage="translate",le="1"} 1`,
		`babelbot_stage_latency_seconds_count{stage="translate"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected output to contain %q\ngot:\n%s", want, body)
		}
	}
}

func TestStageHelpers(t *testing.T) {
	if StageFailures("translate") == StageFailures("generate") {
		t.Error("expected per-stage failure counters to be distinct")
	}
	if StageFailures("translate") != StageFailures("translate") {
		t.Error("expected stable counter instance per stage")
	}
	if StageLatency("generate") == nil {
		t.Fatal("expected a histogram")
	}
}
