package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/maxpert/tailpub/cfg"
)

func TestNoopMetricsWithoutRegistry(t *testing.T) {
	Reset()
	InitMetrics()

	if GetMetricsHandler() != nil {
		t.Fatal("expected no handler without a registry")
	}
	if _, ok := LinesReadTotal.(noopCounterVec); !ok {
		t.Fatalf("expected no-op counter vec, got %T", LinesReadTotal)
	}
	LinesReadTotal.With("/var/log/app.log").Inc()
}

func TestPrometheusMetrics(t *testing.T) {
	original := cfg.Config
	cfg.Config = cfg.Default()
	cfg.Config.ClientID = "tailpub-test"
	defer func() {
		cfg.Config = original
		Reset()
	}()

	InitializeTelemetry()
	InitMetrics()

	LinesReadTotal.With("/var/log/app.log").Add(3)
	OffsetCommitted.With("/var/log/app.log").Set(42)
	MessagesPublishedTotal.With("ok").Inc()
	PublishQueueDepth.Inc()
	CycleDurationSeconds.Observe(0.01)

	handler := GetMetricsHandler()
	if handler == nil {
		t.Fatal("expected metrics handler")
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}

	body := rec.Body.String()
	for _, want := range []string{
		`tailpub_lines_read_total{client_id="tailpub-test",file="/var/log/app.log"} 3`,
		`tailpub_offset_committed{client_id="tailpub-test",file="/var/log/app.log"} 42`,
		`tailpub_messages_published_total{client_id="tailpub-test",result="ok"} 1`,
		`tailpub_publish_queue_depth{client_id="tailpub-test"} 1`,
		`tailpub_cycle_duration_seconds_count{client_id="tailpub-test"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
