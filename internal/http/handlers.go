package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/shortontech/gomatomo/internal/cookie"
	"github.com/shortontech/gomatomo/internal/jstracker"
	"github.com/shortontech/gomatomo/internal/metrics"
	"github.com/shortontech/gomatomo/internal/params"
	"github.com/shortontech/gomatomo/internal/tracker"
	"github.com/shortontech/gomatomo/internal/transport"
	cfg "github.com/shortontech/gomatomo/pkg/config"
)

var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00,
	0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44, 0x01, 0x00,
}

const defaultMaxBodyBytes = 1 << 20

type Env struct {
	Cfg       cfg.Config
	Transport transport.Transport // collector client, usually a sink.Tee
	Metrics   *metrics.Metrics
	// Options are appended to every per-request tracker.
	Options []tracker.Option
}

func (e Env) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (e Env) Readyz(w http.ResponseWriter, r *http.Request) {
	if e.Transport == nil {
		http.Error(w, "no transport", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// JsTracker builds the browser tracker for the configured Matomo instance.
func (e Env) JsTracker() jstracker.JsTracker {
	return jstracker.New(e.Cfg.Matomo.Host(), e.Cfg.Matomo.SiteID, jstracker.ImageTracking(e.Cfg.ImageTracking))
}

// GET /tracker.js serves the Matomo bootstrap script.
func (e Env) TrackerScript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if e.Cfg.Matomo.URL == "" {
		http.Error(w, "matomo url not configured", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(e.JsTracker().Bootstrap()))
}

// newTracker seeds a request-scoped tracker from r and the configuration.
// cookieConfig overlays the configured cookie settings on the defaults.
// An empty path or prefix keeps the default.
func (e Env) cookieConfig() cookie.Config {
	c := e.Cfg.Cookies
	cc := cookie.DefaultConfig()
	cc.Domain = c.Domain
	cc.Secure = c.Secure
	cc.HTTPOnly = c.HTTPOnly
	cc.SameSite = c.SameSiteMode()
	if c.Path != "" {
		cc.Path = c.Path
	}
	if c.Prefix != "" {
		cc.Prefix = c.Prefix
	}
	return cc
}

func (e Env) newTracker(r *http.Request) *tracker.Tracker {
	rc := tracker.FromRequest(r, e.Cfg.TrustProxy)
	opts := append([]tracker.Option{
		tracker.WithTransport(e.Transport),
		tracker.WithMetrics(e.Metrics),
	}, e.Options...)
	t := tracker.New(e.Cfg.Matomo.SiteID, rc, opts...)

	if e.Cfg.Cookies.Enabled {
		t.EnableCookies(e.cookieConfig())
	}

	if e.Cfg.Matomo.SendClientIP && e.Cfg.Matomo.AuthToken != "" {
		withIP, err := t.WithIP(rc.ClientIP)
		if err != nil {
			log.Printf("collect: client ip not forwarded: %v", err)
			return t
		}
		t = withIP.WithAuthToken(e.Cfg.Matomo.AuthToken)
	}
	return t
}

// GET /px.gif records a server-side page view. The page URL comes from the
// url query parameter or the Referer header.
func (e Env) Pixel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if e.Cfg.DNTRespect && r.Header.Get("DNT") == "1" {
		writePixel(w, r.Method == http.MethodHead)
		return
	}

	q := r.URL.Query()
	t := e.newTracker(r)
	page := q.Get("url")
	if page == "" {
		page = r.Referer()
	}
	if page != "" {
		t = t.WithURL(page)
	}
	if ref := q.Get("ref"); ref != "" {
		t = t.WithReferrer(ref)
	}

	if _, err := t.TrackPageView(r.Context(), q.Get("title")); err != nil {
		log.Printf("pixel: page view not recorded: %v", err)
	}
	t.Cookies().Flush(w)
	writePixel(w, r.Method == http.MethodHead)
}

func writePixel(w http.ResponseWriter, headOnly bool) {
	h := w.Header()
	h.Set("Content-Type", "image/gif")
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	if headOnly {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pixelGIF)
}

// POST /collect accepts a single Intent object or an array of Intents.
// Arrays are sent to the collector as one bulk request.
func (e Env) Collect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "application/json") {
		http.Error(w, "content-type must be application/json", http.StatusUnsupportedMediaType)
		return
	}
	if e.Cfg.DNTRespect && r.Header.Get("DNT") == "1" {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{"accepted": 0, "status": "dnt"})
		return
	}

	defer r.Body.Close()
	limit := e.Cfg.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	var raw json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	t := e.newTracker(r)
	accepted := 0
	if len(raw) > 0 && raw[0] == '[' {
		var arr []Intent
		if err := json.Unmarshal(raw, &arr); err != nil {
			http.Error(w, "invalid json array", http.StatusBadRequest)
			return
		}
		if len(arr) == 0 {
			writeAccepted(w, 0)
			return
		}
		t.EnableBulkTracking()
		for _, in := range arr {
			res, err := in.Apply(ctx, t)
			if err != nil {
				t.DiscardBulk()
				writeTrackError(w, err)
				return
			}
			t = res.Tracker
			accepted++
		}
		if _, err := t.DoBulkTrack(ctx, e.Cfg.Matomo.AuthToken); err != nil {
			writeTrackError(w, err)
			return
		}
	} else {
		var in Intent
		if err := json.Unmarshal(raw, &in); err != nil {
			http.Error(w, "invalid json object", http.StatusBadRequest)
			return
		}
		if _, err := in.Apply(ctx, t); err != nil {
			writeTrackError(w, err)
			return
		}
		accepted = 1
	}

	t.Cookies().Flush(w)
	writeAccepted(w, accepted)
}

func writeAccepted(w http.ResponseWriter, accepted int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Gomatomo-Accepted", strconv.Itoa(accepted))
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{"accepted": accepted, "status": "ok"})
}

// writeTrackError maps a tracker error to a response. Caller mistakes are
// 400, a missing transport 503 and collector failures 502.
func writeTrackError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, params.ErrMissingRequiredField),
		errors.Is(err, params.ErrInvalidDomainValue),
		errors.Is(err, params.ErrInvalidArgumentKind):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, tracker.ErrNoTransport):
		http.Error(w, "tracking unavailable", http.StatusServiceUnavailable)
	default:
		log.Printf("collect: %v", err)
		http.Error(w, "tracking request failed", http.StatusBadGateway)
	}
}
