package httpx

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ProxyHandler implements a reverse proxy for middleware mode
type ProxyHandler struct {
	destination string
	client      *http.Client
	snippet     string // injected into HTML responses when not empty
}

// NewProxyHandler creates a new proxy handler for the given destination.
// A non-empty snippet is injected into every HTML response.
func NewProxyHandler(destination, snippet string) *ProxyHandler {
	return &ProxyHandler{
		destination: destination,
		snippet:     snippet,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ServeHTTP proxies requests to the destination server
func (p *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	targetURL, err := url.Parse(p.destination)
	if err != nil {
		log.Printf("proxy: invalid destination URL: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	targetURL.Path = r.URL.Path
	targetURL.RawQuery = r.URL.RawQuery

	ctx, cancel := context.WithTimeout(r.Context(), 25*time.Second)
	defer cancel()

	proxyReq, err := http.NewRequestWithContext(ctx, r.Method, targetURL.String(), r.Body)
	if err != nil {
		log.Printf("proxy: failed to create request: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	for key, values := range r.Header {
		for _, value := range values {
			proxyReq.Header.Add(key, value)
		}
	}
	proxyReq.Host = targetURL.Host

	resp, err := p.client.Do(proxyReq)
	if err != nil {
		log.Printf("proxy: request to %s failed: %v", targetURL.String(), err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}

	if p.snippet == "" || !isHTMLContent(resp.Header.Get("Content-Type")) {
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			log.Printf("proxy: failed to copy response body: %v", err)
		}
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("proxy: failed to read response body for injection: %v", err)
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	final, err := rewriteHTML(body, resp.Header.Get("Content-Encoding"), p.snippet)
	if err != nil {
		// Serve the page untouched rather than break it
		log.Printf("proxy: tracker injection skipped: %v", err)
		final = body
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(final)))
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(final); err != nil {
		log.Printf("proxy: failed to write modified response body: %v", err)
	}
}

// rewriteHTML injects snippet into body, decompressing and recompressing
// gzip encoded bodies. Other encodings are left alone.
func rewriteHTML(body []byte, encoding, snippet string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return injectSnippet(body, snippet), nil
	case "gzip", "x-gzip":
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}

	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	html, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(injectSnippet(html, snippet)); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// isHTMLContent checks if the content type indicates HTML content (case-insensitive)
func isHTMLContent(contentType string) bool {
	if contentType == "" {
		return false
	}
	ct := strings.ToLower(strings.TrimSpace(contentType))
	return strings.Contains(ct, "text/html") ||
		strings.Contains(ct, "application/xhtml+xml") ||
		strings.Contains(ct, "application/xhtml")
}

// injectSnippet inserts snippet before the first </head>, else before the
// first </body>, else appends it.
func injectSnippet(body []byte, snippet string) []byte {
	lower := bytes.ToLower(body)
	for _, tag := range [][]byte{[]byte("</head>"), []byte("</body>")} {
		if i := bytes.Index(lower, tag); i >= 0 {
			out := make([]byte, 0, len(body)+len(snippet))
			out = append(out, body[:i]...)
			out = append(out, snippet...)
			return append(out, body[i:]...)
		}
	}
	return append(append([]byte(nil), body...), snippet...)
}

// MiddlewareRouter serves tracking routes itself and forwards everything
// else to a proxy
type MiddlewareRouter struct {
	trackingMux *http.ServeMux
	proxy       *ProxyHandler
}

// NewMiddlewareRouter creates a new middleware router that handles tracking routes
// and forwards everything else to the destination
func NewMiddlewareRouter(trackingMux *http.ServeMux, destination, snippet string) *MiddlewareRouter {
	return &MiddlewareRouter{
		trackingMux: trackingMux,
		proxy:       NewProxyHandler(destination, snippet),
	}
}

func (m *MiddlewareRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if isTrackingPath(r.URL.Path) {
		m.trackingMux.ServeHTTP(w, r)
		return
	}
	m.proxy.ServeHTTP(w, r)
}

var trackingPaths = []string{
	"/px.gif",
	"/collect",
	"/healthz",
	"/readyz",
	"/tracker.js",
}

// isTrackingPath determines if a path should be handled by the tracking server
func isTrackingPath(path string) bool {
	for _, trackingPath := range trackingPaths {
		if path == trackingPath {
			return true
		}
	}
	return false
}

func NewMux(e Env) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", e.Healthz)
	mux.HandleFunc("/readyz", e.Readyz)
	mux.HandleFunc("/px.gif", e.Pixel)
	mux.HandleFunc("/collect", e.Collect)
	mux.HandleFunc("/tracker.js", e.TrackerScript)

	if e.Cfg.MiddlewareMode && e.Cfg.ForwardDestination != "" {
		if _, err := url.Parse(e.Cfg.ForwardDestination); err != nil {
			log.Printf("WARNING: Invalid FORWARD_DESTINATION URL: %v. Middleware mode disabled.", err)
			return RequestLogger(MetricsMiddleware(e.Metrics)(cors(mux)))
		}

		log.Printf("Middleware mode enabled, forwarding to: %s", e.Cfg.ForwardDestination)
		snippet := ""
		if e.Cfg.InjectTracker && e.Cfg.Matomo.URL != "" {
			snippet = e.JsTracker().Snippet()
			log.Printf("Matomo tracker injection enabled for HTML content")
		}
		router := NewMiddlewareRouter(mux, e.Cfg.ForwardDestination, snippet)
		return RequestLogger(MetricsMiddleware(e.Metrics)(cors(router)))
	}

	if e.Cfg.MiddlewareMode && e.Cfg.ForwardDestination == "" {
		log.Printf("WARNING: MIDDLEWARE_MODE=true but FORWARD_DESTINATION is empty. Middleware mode disabled.")
	}

	return RequestLogger(MetricsMiddleware(e.Metrics)(cors(mux)))
}
