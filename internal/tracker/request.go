package tracker

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/shortontech/gomatomo/internal/clienthints"
	"github.com/shortontech/gomatomo/internal/cookie"
)

// RequestContext is what a Tracker learns from the incoming HTTP request.
// The zero value is valid and seeds nothing.
type RequestContext struct {
	UserAgent   string
	Referrer    string
	URL         string
	Language    string
	Host        string
	ClientIP    string
	ClientHints clienthints.ClientHints
	Campaign    Campaign
	// Cookie looks up an incoming cookie by name.
	Cookie func(name string) (string, bool)
}

// Campaign is the campaign attribution found in the landing URL.
type Campaign struct {
	Name    string
	Keyword string
}

// Query parameters recognised as campaign name and keyword, in priority
// order.
var (
	campaignNameParams    = []string{"mtm_campaign", "matomo_campaign", "pk_campaign", "pk_cpn", "utm_campaign"}
	campaignKeywordParams = []string{"mtm_kwd", "matomo_kwd", "pk_kwd", "pk_keyword", "utm_term"}
)

// FromRequest builds a RequestContext from r. With trustProxy set the
// client IP and scheme are taken from X-Forwarded-* headers. The client IP
// is only recorded here; it is sent to the collector only through WithIP.
func FromRequest(r *http.Request, trustProxy bool) RequestContext {
	rc := RequestContext{
		UserAgent:   r.UserAgent(),
		Referrer:    r.Referer(),
		URL:         requestURL(r, trustProxy),
		Language:    r.Header.Get("Accept-Language"),
		Host:        hostOnly(r.Host),
		ClientIP:    clientIPFromRequest(r, trustProxy),
		ClientHints: clienthints.FromHeader(r.Header),
		Cookie:      cookie.RequestLookup(r),
	}
	if r.URL != nil {
		q := r.URL.Query()
		rc.Campaign = Campaign{
			Name:    firstOf(q, campaignNameParams),
			Keyword: firstOf(q, campaignKeywordParams),
		}
	}
	return rc
}

func firstOf(q url.Values, keys []string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

func requestURL(r *http.Request, trustProxy bool) string {
	if r.URL == nil {
		return ""
	}
	if r.URL.IsAbs() {
		return r.URL.String()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if trustProxy {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
		}
	}
	if r.Host == "" {
		return r.URL.RequestURI()
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func hostOnly(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}

func clientIPFromRequest(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
		if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
			return strings.TrimSpace(xrip)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
