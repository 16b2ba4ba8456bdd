package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/quizhub/accounts/pkg/logger"
)

func bufLogger(buf *bytes.Buffer) *slog.Logger {
	return logger.NewWithWriter("accounts-test", "debug", buf)
}

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	h := Recovery(bufLogger(&buf))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("nil map write")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/accounts/register", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":{"code":"INTERNAL_ERROR","message":"an internal error occurred"}}`, rec.Body.String())
	assert.Contains(t, buf.String(), "panic recovered")
}

func TestRequestLogging_PropagatesCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	var seen string
	h := RequestLogging(bufLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.CorrelationIDFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(CorrelationHeader, "corr-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "corr-123", seen)
	assert.Equal(t, "corr-123", rec.Header().Get(CorrelationHeader))
	assert.Contains(t, buf.String(), `"status":418`)
}

func TestRequestLogging_GeneratesCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	rec := httptest.NewRecorder()
	RequestLogging(bufLogger(&buf))(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Len(t, rec.Header().Get(CorrelationHeader), 36)
}

func TestRequestLogger_EnrichesWithIdentity(t *testing.T) {
	var buf bytes.Buffer
	h := RequestLogger(bufLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).InfoContext(r.Context(), "inside")
	}))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	ctx := logger.WithCorrelationID(req.Context(), "corr-1")
	ctx = logger.WithIdentityID(ctx, "id-42")
	h.ServeHTTP(httptest.NewRecorder(), req.WithContext(ctx))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "corr-1", entry["correlation_id"])
	assert.Equal(t, "id-42", entry["identity_id"])
}

func TestAuth(t *testing.T) {
	validate := func(token string) (*Claims, error) {
		if token == "good" {
			return &Claims{IdentityID: "id-7", Email: "a@x.com"}, nil
		}
		return nil, errors.New("bad token")
	}
	var got string
	h := Auth(validate)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = IdentityIDFromContext(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer good", http.StatusOK},
		{"lowercase scheme", "bearer good", http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"basic", "Basic Zm9vOmJhcg==", http.StatusUnauthorized},
		{"invalid token", "Bearer bad", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "id-7", got)
			} else {
				assert.Empty(t, got)
				assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestCORS(t *testing.T) {
	h := CORS(CORSConfig{AllowedOrigins: []string{"https://quizhub.app"}, Environment: "production"})(ok)

	preflight := httptest.NewRequest(http.MethodOptions, "/api/v1/accounts/register", nil)
	preflight.Header.Set("Origin", "https://quizhub.app")
	preflight.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, preflight)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://quizhub.app", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")

	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_WildcardOnlyInDevelopment(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")

	rec := httptest.NewRecorder()
	CORS(DefaultCORSConfig())(ok).ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	CORS(CORSConfig{AllowedOrigins: []string{"*"}, Environment: "production"})(ok).ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPrometheusMetrics_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(PrometheusMetrics("accounts-metrics-test"))
	r.Get("/api/v1/accounts/{id}/profile", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for i := 0; i < 2; i++ {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/accounts/abc/profile", nil))
	}

	c := httpRequestsTotal.WithLabelValues("accounts-metrics-test", http.MethodGet, "/api/v1/accounts/{id}/profile", "404")
	assert.Equal(t, float64(2), testutil.ToFloat64(c))
}

func TestTracing_ContinuesInboundTraceAndNamesRoute(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})

	r := chi.NewRouter()
	r.Use(Tracing("accounts"))
	r.Post("/api/v1/accounts/register", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts/register", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "POST /api/v1/accounts/register", spans[0].Name)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spans[0].SpanContext.TraceID().String())
	assert.Equal(t, "Error", spans[0].Status.Code.String())
	assert.NotEmpty(t, rec.Header().Get("traceparent"))
}

func TestRateLimiter(t *testing.T) {
	var buf bytes.Buffer
	rl := NewRateLimiter(0.001, 2, bufLogger(&buf))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	h := rl.Handler(ok)

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts/register", nil)
		req.RemoteAddr = ip + ":40000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("203.0.113.5").Code)
	assert.Equal(t, http.StatusOK, send("203.0.113.5").Code)
	limited := send("203.0.113.5")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.NotEmpty(t, limited.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, send("198.51.100.9").Code, "other clients have their own bucket")
	assert.Equal(t, 2, rl.size())

	now = now.Add(10 * time.Minute)
	rl.evict()
	assert.Equal(t, 0, rl.size())
}

func TestRateLimiter_RotatingForwardedForFromUntrustedPeer(t *testing.T) {
	var buf bytes.Buffer
	rl := NewRateLimiter(0.001, 1, bufLogger(&buf), WithTrustedProxies([]string{"10.0.0.0/8"}))
	h := rl.Handler(ok)

	limited := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts/register", nil)
		req.RemoteAddr = "203.0.113.7:40000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("192.0.2.%d", i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Equal(t, 49, limited)
	assert.Equal(t, 1, rl.size())
}

func TestRateLimiter_RunStopsOnCancel(t *testing.T) {
	rl := NewRateLimiter(1, 1, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rl.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestClientIP(t *testing.T) {
	rl := NewRateLimiter(1, 1, slog.Default(), WithTrustedProxies([]string{"10.0.0.0/8", "not-a-cidr"}))

	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"direct peer", "192.0.2.1:54321", nil, "192.0.2.1"},
		{"untrusted peer ignores forwarded for", "192.0.2.1:54321", map[string]string{"X-Forwarded-For": "198.51.100.1"}, "192.0.2.1"},
		{"untrusted peer ignores real ip", "192.0.2.1:54321", map[string]string{"X-Real-IP": "198.51.100.1"}, "192.0.2.1"},
		{"trusted proxy forwards client", "10.0.0.5:8080", map[string]string{"X-Forwarded-For": "198.51.100.1"}, "198.51.100.1"},
		{"spoofed left-most entry is skipped", "10.0.0.5:8080", map[string]string{"X-Forwarded-For": "1.2.3.4, 198.51.100.1, 10.0.0.9"}, "198.51.100.1"},
		{"trusted proxy real ip", "10.0.0.5:8080", map[string]string{"X-Real-IP": "198.51.100.2"}, "198.51.100.2"},
		{"malformed forwarded for", "10.0.0.5:8080", map[string]string{"X-Forwarded-For": "not-an-ip"}, "10.0.0.5"},
		{"remote addr without port", "192.0.2.3", nil, "192.0.2.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, rl.clientIP(req))
		})
	}
}

func TestIPAllowlist(t *testing.T) {
	var buf bytes.Buffer
	h := IPAllowlist([]string{"10.0.0.0/8", "::1/128", "invalid-cidr"}, bufLogger(&buf))(ok)

	tests := []struct {
		name   string
		remote string
		xff    string
		want   int
	}{
		{"private range", "10.1.2.3:5000", "", http.StatusOK},
		{"ipv6 loopback", "[::1]:5000", "", http.StatusOK},
		{"public address", "203.0.113.50:5000", "", http.StatusForbidden},
		{"forwarded for does not grant access", "203.0.113.50:5000", "10.0.0.1", http.StatusForbidden},
		{"remote addr without port", "10.0.0.1", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusForbidden {
				assert.Contains(t, rec.Body.String(), "FORBIDDEN")
			}
		})
	}
	assert.Contains(t, buf.String(), "invalid allowlist CIDR")
}

func TestRegisterPprof(t *testing.T) {
	r := chi.NewRouter()
	RegisterPprof(r, []string{"127.0.0.0/8"}, slog.Default())

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/cmdline", nil)
	req.RemoteAddr = "127.0.0.1:5000"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/debug/pprof/cmdline", nil)
	req.RemoteAddr = "203.0.113.1:5000"
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCacheControl(t *testing.T) {
	h := CacheControl("private, no-store")(ok)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "private, no-store", rec.Header().Get("Cache-Control"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Empty(t, rec.Header().Get("Cache-Control"))
}
