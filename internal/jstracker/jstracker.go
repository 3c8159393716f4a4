// Package jstracker builds the Matomo JavaScript tracking snippet and the
// queue of tracking API calls pushed onto _paq.
package jstracker

import (
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
)

const (
	DefaultJSFile  = "matomo.js"
	DefaultPHPFile = "matomo.php"
)

const bootstrapJS = "const _paq=window._paq=window._paq||[];_paq.push(['trackPageView']);_paq.push(['enableLinkTracking']);(function(){let u='//%s/';_paq.push(['setTrackerUrl',u+'%s']);_paq.push(['setSiteId',%d]);let d=document,g=d.createElement('script'),s=d.getElementsByTagName('script')[0];g.type='text/javascript';g.async=true;g.src=u+'%s';s.parentNode.insertBefore(g,s);})();"

const imageTrackerHTML = `<noscript><p><img src="//%s/%s?idsite=%d" style="border:0;" alt=""/></p></noscript>`

// JsTracker holds the JavaScript tracker settings and the encoded calls
// queued for the page. It is immutable: AddFunction returns a new value.
type JsTracker struct {
	url           string
	siteID        int
	imageTracking bool
	jsFile        string
	phpFile       string
	functions     []string
}

type Option func(*JsTracker)

// ImageTracking adds a <noscript> image tracker for visitors without JS.
func ImageTracking(enabled bool) Option {
	return func(t *JsTracker) { t.imageTracking = enabled }
}

// JSFile overrides the tracker script file name.
func JSFile(name string) Option {
	return func(t *JsTracker) { t.jsFile = name }
}

// PHPFile overrides the tracking endpoint file name.
func PHPFile(name string) Option {
	return func(t *JsTracker) { t.phpFile = name }
}

// New creates a tracker for the Matomo instance at url (host and optional
// path, no scheme).
func New(url string, siteID int, opts ...Option) JsTracker {
	t := JsTracker{
		url:     strings.TrimSuffix(url, "/"),
		siteID:  siteID,
		jsFile:  DefaultJSFile,
		phpFile: DefaultPHPFile,
	}
	for _, o := range opts {
		o(&t)
	}
	return t
}

// AddFunction resolves a tracking API call (see Resolve) and returns a new
// tracker with the call appended.
func (t JsTracker) AddFunction(name string, spec any) (JsTracker, error) {
	call, err := Resolve(name, spec)
	if err != nil {
		return t, err
	}
	b, err := json.Marshal(call)
	if err != nil {
		return t, fmt.Errorf("encode %s: %w", name, err)
	}
	fns := make([]string, len(t.functions), len(t.functions)+1)
	copy(fns, t.functions)
	t.functions = append(fns, string(b))
	return t, nil
}

// Functions returns the encoded calls in the order they were added.
func (t JsTracker) Functions() []string {
	return append([]string(nil), t.functions...)
}

// PushScript returns the queued calls as _paq.push statements, or "".
func (t JsTracker) PushScript() string {
	if len(t.functions) == 0 {
		return ""
	}
	return "_paq.push(" + strings.Join(t.functions, ");_paq.push(") + ");"
}

// Bootstrap returns the script that loads the Matomo tracker.
func (t JsTracker) Bootstrap() string {
	return fmt.Sprintf(bootstrapJS, t.url, t.phpFile, t.siteID, t.jsFile)
}

// ImageTracker returns the <noscript> tracking pixel, or "" when image
// tracking is disabled.
func (t JsTracker) ImageTracker() string {
	if !t.imageTracking {
		return ""
	}
	return fmt.Sprintf(imageTrackerHTML, template.HTMLEscapeString(t.url), template.HTMLEscapeString(t.phpFile), t.siteID)
}

// Snippet returns the complete markup to inject into a page.
func (t JsTracker) Snippet() string {
	return "<script>" + t.Bootstrap() + t.PushScript() + "</script>" + t.ImageTracker()
}

func (t JsTracker) URL() string                { return t.url }
func (t JsTracker) SiteID() int                { return t.siteID }
func (t JsTracker) JSFile() string             { return t.jsFile }
func (t JsTracker) PHPFile() string            { return t.phpFile }
func (t JsTracker) ImageTrackingEnabled() bool { return t.imageTracking }
