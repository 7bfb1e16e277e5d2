package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/quantlab-io/quantlab/internal/metrics"
)

// TestApply_OrderIsOutsideIn verifies that the first option wraps outermost,
// so request-phase effects run in the order the options are listed.
func TestApply_OrderIsOutsideIn(t *testing.T) {
	var order []string

	tag := func(name string) Option {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)

				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Apply(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), tag("first"), tag("second"), tag("third"))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))

	want := []string{"first", "second", "third", "handler"}
	if len(order) != len(want) {
		t.Fatalf("expected %d stages, got %d: %v", len(want), len(order), order)
	}

	for i := range want {
		if order[i] != want[i] {
			t.Errorf("stage %d = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestWithRateLimit_NilLimiterIsNoOp(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	handler := Apply(base, WithRateLimit(nil, slog.New(slog.DiscardHandler)))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("expected pass-through status %d, got %d", http.StatusTeapot, rec.Code)
	}
}

func TestWithMetrics_NilMetricsIsNoOp(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	handler := Apply(base, WithMetrics(nil))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("expected pass-through status %d, got %d", http.StatusTeapot, rec.Code)
	}
}

// TestRecovery_PanicBecomes500 verifies the envelope written for a handler
// panic and that the correlation ID survives into it.
func TestRecovery_PanicBecomes500(t *testing.T) {
	handler := Apply(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), WithCorrelationID(), WithRecovery(slog.New(slog.DiscardHandler)))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("X-Correlation-ID", "panic-test")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rec.Code)
	}

	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response body is not valid JSON: %v", err)
	}

	if body.Status != "error" || body.Error != http.StatusText(http.StatusInternalServerError) {
		t.Errorf("unexpected envelope: %+v", body)
	}

	if body.CorrelationID != "panic-test" {
		t.Errorf("expected correlation ID %q, got %q", "panic-test", body.CorrelationID)
	}

	if _, err := time.Parse(time.RFC3339, body.Timestamp); err != nil {
		t.Errorf("timestamp %q is not RFC 3339: %v", body.Timestamp, err)
	}
}

// TestInstrument_RecordsRoutePattern verifies the metrics middleware labels
// observations with the mux pattern rather than the raw path.
func TestInstrument_RecordsRoutePattern(t *testing.T) {
	m := metrics.New()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := Apply(mux, WithMetrics(m))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/abc123", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	families, err := m.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	found := false

	for _, mf := range families {
		if !strings.Contains(mf.GetName(), "http_request") {
			continue
		}

		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "route" && label.GetValue() == "/api/jobs/{id}" {
					found = true
				}

				if label.GetName() == "route" && strings.Contains(label.GetValue(), "abc123") {
					t.Errorf("route label leaked a path parameter: %q", label.GetValue())
				}

				if label.GetName() == "status" && label.GetValue() != strconv.Itoa(http.StatusOK) {
					t.Errorf("unexpected status label %q", label.GetValue())
				}
			}
		}
	}

	if !found {
		t.Error("no observation labeled with the route pattern /api/jobs/{id}")
	}
}

func TestRequestLogger_PreservesFlusher(t *testing.T) {
	handler := Apply(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := http.NewResponseController(w).Flush(); err != nil {
			t.Errorf("flush through logging wrapper: %v", err)
		}

		w.WriteHeader(http.StatusOK)
	}), WithRequestLogger(slog.New(slog.DiscardHandler)))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	if !rec.Flushed {
		t.Error("expected the underlying recorder to observe the flush")
	}
}
