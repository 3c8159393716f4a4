package httpx

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/shortontech/gomatomo/internal/metrics"
)

func statusHandler(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	})
}

// TestRequestLogger tests the request logging middleware
func TestRequestLogger(t *testing.T) {
	t.Run("calls next handler", func(t *testing.T) {
		called := false
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			w.WriteHeader(http.StatusTeapot)
		})

		w := httptest.NewRecorder()
		RequestLogger(next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/collect", nil))

		if !called {
			t.Error("next handler should have been called")
		}
		if w.Code != http.StatusTeapot {
			t.Errorf("status code = %d, want %d", w.Code, http.StatusTeapot)
		}
	})

	t.Run("handles different HTTP methods", func(t *testing.T) {
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete} {
			t.Run(method, func(t *testing.T) {
				w := httptest.NewRecorder()
				RequestLogger(statusHandler(http.StatusOK)).ServeHTTP(w, httptest.NewRequest(method, "/test", nil))
				if w.Code != http.StatusOK {
					t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
				}
			})
		}
	})
}

// TestCors tests the CORS middleware
func TestCors(t *testing.T) {
	t.Run("sets CORS headers", func(t *testing.T) {
		w := httptest.NewRecorder()
		cors(statusHandler(http.StatusOK)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/px.gif", nil))

		h := w.Header()
		if got := h.Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
		}
		for _, want := range []string{"Content-Type", "DNT"} {
			if got := h.Get("Access-Control-Allow-Headers"); !strings.Contains(got, want) {
				t.Errorf("Access-Control-Allow-Headers = %q, should contain %s", got, want)
			}
		}
		for _, want := range []string{"GET", "POST", "OPTIONS"} {
			if got := h.Get("Access-Control-Allow-Methods"); !strings.Contains(got, want) {
				t.Errorf("Access-Control-Allow-Methods = %q, should contain %s", got, want)
			}
		}
	})

	t.Run("answers OPTIONS preflight itself", func(t *testing.T) {
		called := false
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

		w := httptest.NewRecorder()
		cors(next).ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/collect", nil))

		if called {
			t.Error("next handler should not be called for OPTIONS requests")
		}
		if w.Code != http.StatusNoContent {
			t.Errorf("status code = %d, want %d", w.Code, http.StatusNoContent)
		}
	})
}

// TestResponseWriter tests the responseWriter wrapper
func TestResponseWriter(t *testing.T) {
	t.Run("captures status code", func(t *testing.T) {
		for _, code := range []int{http.StatusCreated, http.StatusAccepted, http.StatusBadRequest, http.StatusBadGateway} {
			t.Run(http.StatusText(code), func(t *testing.T) {
				recorder := httptest.NewRecorder()
				rw := &responseWriter{ResponseWriter: recorder, statusCode: http.StatusOK}

				rw.WriteHeader(code)

				if rw.statusCode != code {
					t.Errorf("statusCode = %d, want %d", rw.statusCode, code)
				}
				if recorder.Code != code {
					t.Errorf("underlying recorder Code = %d, want %d", recorder.Code, code)
				}
			})
		}
	})

	t.Run("keeps default on implicit 200", func(t *testing.T) {
		rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
		_, _ = rw.Write([]byte("ok"))
		if rw.statusCode != http.StatusOK {
			t.Errorf("statusCode = %d, want %d", rw.statusCode, http.StatusOK)
		}
	})
}

// TestMetricsMiddleware tests the metrics tracking middleware
func TestMetricsMiddleware(t *testing.T) {
	t.Run("handles nil metrics gracefully", func(t *testing.T) {
		w := httptest.NewRecorder()
		MetricsMiddleware(nil)(statusHandler(http.StatusOK)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if w.Code != http.StatusOK {
			t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("counts requests by endpoint and status", func(t *testing.T) {
		m := metrics.NewMetrics(prometheus.NewRegistry())
		h := MetricsMiddleware(m)(statusHandler(http.StatusAccepted))

		for i := 0; i < 2; i++ {
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/collect", nil))
		}

		if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/collect", "POST", "202")); got != 2 {
			t.Errorf("http requests = %v, want 2", got)
		}
		if got := testutil.CollectAndCount(m.HTTPDuration); got != 1 {
			t.Errorf("duration series = %d, want 1", got)
		}
	})

	t.Run("proxied paths share one label", func(t *testing.T) {
		m := metrics.NewMetrics(prometheus.NewRegistry())
		h := MetricsMiddleware(m)(statusHandler(http.StatusOK))

		for _, path := range []string{"/", "/blog/post-1", "/assets/app.css"} {
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
		}

		if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("proxy", "GET", "200")); got != 3 {
			t.Errorf("proxy requests = %v, want 3", got)
		}
	})

	t.Run("does not modify response", func(t *testing.T) {
		m := metrics.NewMetrics(prometheus.NewRegistry())
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Custom-Header", "custom-value")
			time.Sleep(5 * time.Millisecond)
			_, _ = w.Write([]byte("body"))
		})

		w := httptest.NewRecorder()
		MetricsMiddleware(m)(next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		if got := w.Header().Get("X-Custom-Header"); got != "custom-value" {
			t.Errorf("X-Custom-Header = %q, want custom-value", got)
		}
		if got := w.Body.String(); got != "body" {
			t.Errorf("body = %q, want body", got)
		}
		if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/readyz", "GET", "200")); got != 1 {
			t.Errorf("http requests = %v, want 1", got)
		}
	})
}

func TestEndpointLabel(t *testing.T) {
	tests := map[string]string{
		"/collect":    "/collect",
		"/px.gif":     "/px.gif",
		"/tracker.js": "/tracker.js",
		"/":           "proxy",
		"/user/42":    "proxy",
	}
	for path, want := range tests {
		if got := endpointLabel(path); got != want {
			t.Errorf("endpointLabel(%q) = %q, want %q", path, got, want)
		}
	}
}
