// Package tracker builds and dispatches Matomo Tracking HTTP API requests.
//
// A Tracker is an immutable snapshot of tracking parameters. Every With*
// method returns a new Tracker and leaves the receiver untouched, so a base
// Tracker can be forked freely. Track* methods stamp the request, hand it to
// the configured transport (or the bulk queue) and return a Result.
//
// A few settings describe the tracking session rather than a single action:
// bulk mode, first-party cookies and client hints. They live in a session
// shared by every Tracker derived from the same New call, and the methods
// that change them mutate that session in place.
package tracker

import (
	"crypto/rand"
	"encoding/json"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/shortontech/gomatomo/internal/clienthints"
	"github.com/shortontech/gomatomo/internal/cookie"
	"github.com/shortontech/gomatomo/internal/metrics"
	"github.com/shortontech/gomatomo/internal/params"
	"github.com/shortontech/gomatomo/internal/transport"
)

// Accepted values for TrackAction and Media.Type.
const (
	ActionDownload = "download"
	ActionLink     = "link"
	MediaAudio     = "audio"
	MediaVideo     = "video"
)

const (
	apiVersion         = 1
	minCustomDimension = 1
	maxCustomDimension = 999
)

// Tracker is an immutable set of tracking parameters bound to a session.
type Tracker struct {
	params params.Params
	items  []EcommerceItem
	cvars  map[string][2]string
	sess   *session
}

type session struct {
	siteID    int
	transport transport.Transport
	metrics   *metrics.Metrics
	now       func() time.Time
	entropy   io.Reader

	bulk    bool
	queue   []params.Params
	cookies *cookie.Config
	hints   *clienthints.ClientHints

	jar       *cookie.Jar
	host      string
	lookup    func(string) (string, bool)
	visitorID string
}

// Option configures a new Tracker session.
type Option func(*session)

// WithTransport sets where tracking requests are sent.
func WithTransport(t transport.Transport) Option {
	return func(s *session) { s.transport = t }
}

// WithMetrics instruments dispatch with m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *session) { s.metrics = m }
}

// WithClock overrides the wall clock used to stamp requests and cookies.
func WithClock(now func() time.Time) Option {
	return func(s *session) { s.now = now }
}

// WithEntropy overrides the random source used for page view ids and the
// anti-cache parameter. Defaults to crypto/rand.
func WithEntropy(r io.Reader) Option {
	return func(s *session) { s.entropy = r }
}

// New returns a Tracker for siteID seeded with idsite, apiv and rec, plus
// whatever rc carries from the incoming request.
func New(siteID int, rc RequestContext, opts ...Option) *Tracker {
	s := &session{
		siteID:  siteID,
		now:     time.Now,
		entropy: rand.Reader,
		jar:     cookie.NewJar(),
		host:    rc.Host,
		lookup:  rc.Cookie,
	}
	for _, opt := range opts {
		opt(s)
	}

	p := params.New(
		params.SiteID, siteID,
		params.APIVersion, apiVersion,
		params.Record, 1,
	)
	seed := map[string]any{}
	for key, v := range map[string]string{
		params.UserAgent:   rc.UserAgent,
		params.URLReferrer: rc.Referrer,
		params.URL:         rc.URL,
		params.Language:    rc.Language,
	} {
		if v != "" {
			seed[key] = v
		}
	}
	p = p.WithAll(seed)

	if !hintsEmpty(rc.ClientHints) {
		h := rc.ClientHints
		s.hints = &h
	}

	t := &Tracker{params: p, sess: s}
	if rc.Campaign.Name != "" {
		t = t.WithAttribution(rc.Campaign.Name, rc.Campaign.Keyword, s.now().Unix(), rc.Referrer)
	}
	return t
}

func (t *Tracker) with(key string, v any) *Tracker {
	n := *t
	n.params = t.params.With(key, v)
	return &n
}

func (t *Tracker) withAll(kv map[string]any) *Tracker {
	n := *t
	n.params = t.params.WithAll(kv)
	return &n
}

// Params returns the parameters accumulated so far.
func (t *Tracker) Params() params.Params { return t.params }

// SiteID returns the site the tracker reports to.
func (t *Tracker) SiteID() int { return t.sess.siteID }

// Items returns a copy of the pending ecommerce items.
func (t *Tracker) Items() []EcommerceItem {
	return append([]EcommerceItem(nil), t.items...)
}

// Cookies returns the response-side jar that first-party cookies are
// written to.
func (t *Tracker) Cookies() *cookie.Jar { return t.sess.jar }

// WithAttribution sets the conversion attribution: campaign name, keyword,
// referral timestamp and referrer URL.
func (t *Tracker) WithAttribution(name, keyword string, ts int64, url string) *Tracker {
	return t.withAll(map[string]any{
		params.AttributionCampaignName:    name,
		params.AttributionCampaignKeyword: keyword,
		params.AttributionTimestamp:       ts,
		params.AttributionURL:             url,
	})
}

// WithAuthToken sets token_auth, required for overriding IP, location and
// datetime.
func (t *Tracker) WithAuthToken(token string) *Tracker {
	return t.with(params.AuthToken, token)
}

// WithBrowserCookies reports whether the visitor's browser accepts cookies.
func (t *Tracker) WithBrowserCookies(enabled bool) *Tracker {
	return t.with(params.Cookies, enabled)
}

func (t *Tracker) WithCharset(charset string) *Tracker {
	return t.with(params.Charset, charset)
}

func (t *Tracker) WithCity(city string) *Tracker {
	return t.with(params.LocationCity, city)
}

func (t *Tracker) WithRegion(region string) *Tracker {
	return t.with(params.LocationRegion, region)
}

// WithCountry sets the visitor country. code must be an ISO 3166-1 alpha-2
// code; it is stored lower-cased.
func (t *Tracker) WithCountry(code string) (*Tracker, error) {
	if len(code) != 2 {
		return nil, params.Invalid(params.LocationCountry, "an ISO 3166-1 alpha-2 country code", code)
	}
	return t.with(params.LocationCountry, strings.ToLower(code)), nil
}

// WithCustomDimension sets dimension<id>. id must be in [1, 999].
func (t *Tracker) WithCustomDimension(id int, value string) (*Tracker, error) {
	if id < minCustomDimension || id > maxCustomDimension {
		return nil, params.Invalid("custom dimension id", "between 1 and 999", id)
	}
	return t.with(params.Dimension(id), value), nil
}

// WithCustomVariable sets a visit-scope custom variable. Visit-scope
// variables are also persisted in the cvar cookie.
func (t *Tracker) WithCustomVariable(id int, name, value string) (*Tracker, error) {
	if id < 1 {
		return nil, params.Invalid("custom variable id", "at least 1", id)
	}
	if err := params.Required("custom variable name", name); err != nil {
		return nil, err
	}

	cvars := make(map[string][2]string, len(t.cvars)+1)
	for k, v := range t.cvars {
		cvars[k] = v
	}
	cvars[strconv.Itoa(id)] = [2]string{name, value}

	b, err := json.Marshal(cvars)
	if err != nil {
		return nil, params.BadKind("custom variable", "JSON encodable", value)
	}
	n := t.with(params.VisitCustomVariables, string(b))
	n.cvars = cvars
	return n, nil
}

// WithDatetime overrides the request time. Requires an auth token when the
// time is more than a few hours in the past.
func (t *Tracker) WithDatetime(at time.Time) *Tracker {
	return t.with(params.Datetime, at.UTC().Format("2006-01-02 15:04:05"))
}

// WithEcommerceView marks the next page view as a product or category view.
// Empty values are not sent; on a category page pass only categories.
func (t *Tracker) WithEcommerceView(sku, name string, categories []string, price float64) *Tracker {
	kv := map[string]any{}
	if c, ok := encodeCategories(categories); ok {
		kv[params.EcommerceCategory] = c
	}
	if price != 0 {
		kv[params.EcommercePrice] = price
	}
	if sku != "" {
		kv[params.EcommerceSKU] = sku
	}
	if name != "" {
		kv[params.EcommerceName] = name
	}
	return t.withAll(kv)
}

// WithIP overrides the visitor IP. Requires an auth token.
func (t *Tracker) WithIP(ip string) (*Tracker, error) {
	if net.ParseIP(ip) == nil {
		return nil, params.Invalid(params.IP, "an IPv4 or IPv6 address", ip)
	}
	return t.with(params.IP, ip), nil
}

// WithLanguage sets the Accept-Language value reported for the visitor.
func (t *Tracker) WithLanguage(lang string) *Tracker {
	return t.with(params.Language, lang)
}

// WithLatLong sets the visitor location. Bounds are inclusive.
func (t *Tracker) WithLatLong(lat, long float64) (*Tracker, error) {
	if lat < -90 || lat > 90 {
		return nil, params.Invalid(params.LocationLatitude, "between -90 and 90", lat)
	}
	if long < -180 || long > 180 {
		return nil, params.Invalid(params.LocationLongitude, "between -180 and 180", long)
	}
	return t.withAll(map[string]any{
		params.LocationLatitude:  lat,
		params.LocationLongitude: long,
	}), nil
}

// WithNewVisit forces a new visit to be created.
func (t *Tracker) WithNewVisit() *Tracker {
	return t.with(params.NewVisit, 1)
}

// PerformanceTimings are page load timings. Zero values are not sent.
type PerformanceTimings struct {
	Network       time.Duration
	Server        time.Duration
	Transfer      time.Duration
	DOMProcessing time.Duration
	DOMCompletion time.Duration
	OnLoad        time.Duration
}

// WithPerformanceTimings sets the pf_* page performance parameters in
// milliseconds.
func (t *Tracker) WithPerformanceTimings(pt PerformanceTimings) *Tracker {
	kv := map[string]any{}
	for key, d := range map[string]time.Duration{
		params.PerformanceNetwork:       pt.Network,
		params.PerformanceServer:        pt.Server,
		params.PerformanceTransfer:      pt.Transfer,
		params.PerformanceDOMProcessing: pt.DOMProcessing,
		params.PerformanceDOMCompletion: pt.DOMCompletion,
		params.PerformanceOnLoad:        pt.OnLoad,
	} {
		if d != 0 {
			kv[key] = d.Milliseconds()
		}
	}
	return t.withAll(kv)
}

// Plugins lists browser plugins. Only enabled plugins are sent.
type Plugins struct {
	Flash        bool
	Java         bool
	PDF          bool
	QuickTime    bool
	RealPlayer   bool
	Silverlight  bool
	WindowsMedia bool
}

func (t *Tracker) WithPlugins(pl Plugins) *Tracker {
	kv := map[string]any{}
	for key, on := range map[string]bool{
		params.PluginFlash:        pl.Flash,
		params.PluginJava:         pl.Java,
		params.PluginPDF:          pl.PDF,
		params.PluginQuickTime:    pl.QuickTime,
		params.PluginRealPlayer:   pl.RealPlayer,
		params.PluginSilverlight:  pl.Silverlight,
		params.PluginWindowsMedia: pl.WindowsMedia,
	} {
		if on {
			kv[key] = 1
		}
	}
	return t.withAll(kv)
}

// WithResolution sets the screen resolution as WIDTHxHEIGHT.
func (t *Tracker) WithResolution(width, height int) *Tracker {
	return t.with(params.Resolution, strconv.Itoa(width)+"x"+strconv.Itoa(height))
}

func (t *Tracker) WithUserAgent(ua string) *Tracker {
	return t.with(params.UserAgent, ua)
}

func (t *Tracker) WithUserID(id string) *Tracker {
	return t.with(params.UserID, id)
}

// WithURL sets the URL of the tracked page.
func (t *Tracker) WithURL(u string) *Tracker {
	return t.with(params.URL, u)
}

// WithReferrer sets the referrer of the tracked page.
func (t *Tracker) WithReferrer(u string) *Tracker {
	return t.with(params.URLReferrer, u)
}

// WithVisitorID forces the visitor id. id must be 16 hexadecimal characters.
func (t *Tracker) WithVisitorID(id string) (*Tracker, error) {
	if !isVisitorID(id) {
		return nil, params.Invalid(params.VisitorID, "16 hexadecimal characters", id)
	}
	return t.with(params.VisitorID, id), nil
}

// DisableImageResponse asks the collector for a 204 instead of a GIF.
func (t *Tracker) DisableImageResponse() *Tracker {
	return t.with(params.SendImage, 0)
}

// EcommerceItem is one product line of a cart or order.
type EcommerceItem struct {
	SKU        string
	Name       string
	Categories []string
	Price      float64
	Quantity   int
}

// MarshalJSON encodes the item in the [sku, name, category, price, quantity]
// form the collector expects. A single category is sent as a string.
func (i EcommerceItem) MarshalJSON() ([]byte, error) {
	var category any = ""
	switch len(i.Categories) {
	case 0:
	case 1:
		category = i.Categories[0]
	default:
		category = i.Categories
	}
	return json.Marshal([]any{i.SKU, i.Name, category, i.Price, i.Quantity})
}

// AddEcommerceItem appends an item to the cart attached to the next order
// or cart update. Quantity defaults to 1.
func (t *Tracker) AddEcommerceItem(item EcommerceItem) (*Tracker, error) {
	if err := params.Required("SKU", item.SKU); err != nil {
		return nil, err
	}
	if item.Quantity == 0 {
		item.Quantity = 1
	}
	item.Categories = append([]string(nil), item.Categories...)

	n := *t
	n.items = make([]EcommerceItem, 0, len(t.items)+1)
	n.items = append(n.items, t.items...)
	n.items = append(n.items, item)
	return &n, nil
}

// EnableBulkTracking makes track calls queue their requests until
// DoBulkTrack. It affects every Tracker in the session.
func (t *Tracker) EnableBulkTracking() { t.sess.bulk = true }

// DisableBulkTracking restores immediate dispatch. Queued requests stay
// queued until DoBulkTrack.
func (t *Tracker) DisableBulkTracking() { t.sess.bulk = false }

// BulkTracking reports whether the session queues requests.
func (t *Tracker) BulkTracking() bool { return t.sess.bulk }

// Queued returns a copy of the bulk queue.
func (t *Tracker) Queued() []params.Params {
	return append([]params.Params(nil), t.sess.queue...)
}

// EnableCookies turns on first-party cookie emission for the session.
// A domain of "*.example.com" is treated as ".example.com".
func (t *Tracker) EnableCookies(cfg cookie.Config) {
	cfg.Domain = strings.TrimPrefix(cfg.Domain, "*")
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = cookie.DefaultPrefix
	}
	t.sess.cookies = &cfg
}

// DisableCookies turns off first-party cookie emission for the session.
func (t *Tracker) DisableCookies() { t.sess.cookies = nil }

// WithClientHints replaces the session's client hints. fullVersionList may
// be a raw Sec-CH-UA-Full-Version-List header, a []clienthints.Hint or a
// []map[string]string; anything else is treated as empty. It mutates the
// session and returns the receiver for chaining.
func (t *Tracker) WithClientHints(model, platform, platformVersion string, fullVersionList any, uaFullVersion string) *Tracker {
	h := clienthints.ClientHints{
		Model:           model,
		Platform:        platform,
		PlatformVersion: platformVersion,
		FullVersionList: clienthints.FromValue(fullVersionList),
		UAFullVersion:   uaFullVersion,
	}
	t.sess.hints = &h
	return t
}

func encodeCategories(categories []string) (string, bool) {
	switch len(categories) {
	case 0:
		return "", false
	case 1:
		return categories[0], categories[0] != ""
	}
	b, err := json.Marshal(categories)
	if err != nil {
		return "", false
	}
	return string(b), true
}

func isVisitorID(id string) bool {
	if len(id) != cookie.VisitorIDLength {
		return false
	}
	for _, c := range id {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}
