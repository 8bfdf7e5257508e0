package observability

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveCounters(t *testing.T) {
	before := testutil.ToFloat64(SyncActions.WithLabelValues("created"))
	ObserveSync("created")
	if got := testutil.ToFloat64(SyncActions.WithLabelValues("created")); got != before+1 {
		t.Fatalf("expected created counter to increase by one, got %v -> %v", before, got)
	}

	failed := testutil.ToFloat64(ProviderRequests.WithLabelValues("details", "error"))
	ObserveProvider("details", errors.New("boom"), time.Millisecond)
	if got := testutil.ToFloat64(ProviderRequests.WithLabelValues("details", "error")); got != failed+1 {
		t.Fatalf("expected provider error counter to increase")
	}
}

func TestMetricsHandler(t *testing.T) {
	reg := InitRegistry()
	ObserveEnrich("enriched")
	ObserveHTTP("/places/validate", http.MethodPost, http.StatusOK, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	MetricsHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, name := range []string{"venue_enrich_records_total", "venue_http_requests_total"} {
		if !strings.Contains(body, name) {
			t.Fatalf("expected %s in metrics output", name)
		}
	}
}

func TestNewLoggerConsoleMode(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := newLogger(buf, "production")
	logger.Info().Str("k", "v").Msg("hello")
	if !strings.Contains(buf.String(), `"k":"v"`) {
		t.Fatalf("expected JSON output, got %s", buf.String())
	}

	buf.Reset()
	logger = newLogger(buf, "dev")
	logger.Info().Msg("hello")
	if strings.Contains(buf.String(), `"message"`) {
		t.Fatalf("expected console output, got %s", buf.String())
	}
}
