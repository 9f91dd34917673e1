package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// middlewareHarness wires metrics and tracing for middleware tests.
type middlewareHarness struct {
	metrics *Metrics
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
}

func newMiddlewareHarness(t *testing.T) *middlewareHarness {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return &middlewareHarness{metrics: m, reader: reader, spans: useTracerProvider(t)}
}

// noteMux mimics the routes of the note API.
func noteMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /api/note/{section}/{field}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /api/synthesis", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "synthesis already running", http.StatusConflict)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {})
	mux.HandleFunc("GET /api/boom", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	return mux
}

func (h *middlewareHarness) durationPoint(t *testing.T) metricdata.HistogramDataPoint[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "medscribe.http.request.duration")
	if met == nil {
		t.Fatal("duration metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1", len(hist.DataPoints))
	}
	return hist.DataPoints[0]
}

func TestMiddleware_RouteLabelsAndSpan(t *testing.T) {
	tests := []struct {
		name         string
		method, path string
		wantRoute    string
		wantSpan     string
		wantStatus   int
		wantClass    string
	}{
		{
			name: "field edit", method: http.MethodPut, path: "/api/note/subjective/chiefComplaint",
			wantRoute: "PUT /api/note/{section}/{field}", wantSpan: "HTTP PUT /api/note/{section}/{field}",
			wantStatus: http.StatusNoContent, wantClass: "2xx",
		},
		{
			name: "conflict", method: http.MethodPost, path: "/api/synthesis",
			wantRoute: "POST /api/synthesis", wantSpan: "HTTP POST /api/synthesis",
			wantStatus: http.StatusConflict, wantClass: "4xx",
		},
		{
			name: "unrouted", method: http.MethodGet, path: "/nope",
			wantRoute: "/nope", wantSpan: "HTTP GET /nope",
			wantStatus: http.StatusNotFound, wantClass: "4xx",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newMiddlewareHarness(t)
			handler := Middleware(h.metrics)(noteMux())

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}

			dp := h.durationPoint(t)
			for key, want := range map[string]string{"method": tt.method, "path": tt.wantRoute, "status_class": tt.wantClass} {
				v, ok := dp.Attributes.Value(attribute.Key(key))
				if !ok || v.AsString() != want {
					t.Errorf("attribute %s = %q, want %q", key, v.AsString(), want)
				}
			}

			spans := h.spans.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("spans = %d, want 1", len(spans))
			}
			if spans[0].Name != tt.wantSpan {
				t.Errorf("span name = %q, want %q", spans[0].Name, tt.wantSpan)
			}
			found := false
			for _, a := range spans[0].Attributes {
				if a.Key == "http.response.status_code" && a.Value.AsInt64() == int64(tt.wantStatus) {
					found = true
				}
			}
			if !found {
				t.Error("span missing http.response.status_code")
			}
		})
	}
}

func TestMiddleware_CorrelationID(t *testing.T) {
	tests := []struct {
		name        string
		traceparent string
		wantCID     string
	}{
		{name: "new trace"},
		{
			name:        "propagated",
			traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
			wantCID:     "4bf92f3577b34da6a3ce929d0e0e4736",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newMiddlewareHarness(t)
			var seen string
			handler := Middleware(h.metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = CorrelationID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
			if tt.traceparent != "" {
				req.Header.Set("traceparent", tt.traceparent)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if len(seen) != 32 {
				t.Fatalf("correlation id = %q, want 32 hex characters", seen)
			}
			if tt.wantCID != "" && seen != tt.wantCID {
				t.Errorf("correlation id = %q, want %q", seen, tt.wantCID)
			}
			if got := rec.Header().Get("X-Correlation-ID"); got != seen {
				t.Errorf("X-Correlation-ID = %q, want %q", got, seen)
			}
		})
	}
}

func TestMiddleware_LogLevels(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		wantLevel string
	}{
		{name: "success", path: "/api/note/plan/followUp", wantLevel: "level=INFO"},
		{name: "quiet probe", path: "/healthz", wantLevel: "level=DEBUG"},
		{name: "client error", path: "/nope", wantLevel: "level=WARN"},
		{name: "server error", path: "/api/boom", wantLevel: "level=ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newMiddlewareHarness(t)
			var buf bytes.Buffer
			orig := slog.Default()
			slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
			t.Cleanup(func() { slog.SetDefault(orig) })

			handler := Middleware(h.metrics, WithQuietPaths("/healthz"))(noteMux())
			method := http.MethodGet
			if strings.HasPrefix(tt.path, "/api/note/") {
				method = http.MethodPut
			}
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(method, tt.path, nil))

			if out := buf.String(); !strings.Contains(out, tt.wantLevel) {
				t.Errorf("log = %q, want %s", out, tt.wantLevel)
			}
		})
	}
}

func TestStatusRecorder_Flush(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, statusCode: http.StatusOK}
	if err := http.NewResponseController(sr).Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !rec.Flushed {
		t.Error("underlying recorder was not flushed")
	}
}
