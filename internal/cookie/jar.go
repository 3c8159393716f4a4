package cookie

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"
)

// Jar collects cookies to be sent back to the client. It is response-side
// only; nothing is retained between requests.
type Jar struct {
	cookies []*http.Cookie
}

// NewJar returns an empty jar.
func NewJar() *Jar { return &Jar{} }

// Set adds c, replacing any cookie with the same name, domain and path.
func (j *Jar) Set(c *http.Cookie) {
	for i, old := range j.cookies {
		if old.Name == c.Name && old.Domain == c.Domain && old.Path == c.Path {
			j.cookies[i] = c
			return
		}
	}
	j.cookies = append(j.cookies, c)
}

// Cookies returns the cookies in the order they were first set.
func (j *Jar) Cookies() []*http.Cookie {
	return append([]*http.Cookie(nil), j.cookies...)
}

// Len returns the number of cookies held.
func (j *Jar) Len() int { return len(j.cookies) }

// Flush writes every cookie as a Set-Cookie header and empties the jar.
func (j *Jar) Flush(w http.ResponseWriter) {
	for _, c := range j.cookies {
		http.SetCookie(w, c)
	}
	j.cookies = nil
}

// Emission is the state needed to write the first-party cookies after a
// tracking request.
type Emission struct {
	SiteID int
	Config Config
	Host   string
	Now    time.Time

	// Incoming is the decoded visitor cookie of the current request, if any.
	Incoming *VisitorState
	// VisitorID is used when there is no incoming visitor cookie.
	VisitorID string
	// OrderPlaced marks a request that recorded an ecommerce order.
	OrderPlaced bool
	// Attribution is [campaign name, keyword, timestamp, url], nil if unset.
	Attribution []any
	// CustomVariables are visit-scope custom variables keyed by index.
	CustomVariables map[string][2]string
}

// Visitor returns the visitor state that Emit writes for e.
func (e Emission) Visitor() VisitorState {
	now := e.Now.Unix()
	s := VisitorState{
		VisitorID:      e.VisitorID,
		CreatedAt:      now,
		VisitCount:     1,
		CurrentVisitAt: now,
	}
	if in := e.Incoming; in != nil {
		s.VisitorID = in.VisitorID
		s.CreatedAt = in.CreatedAt
		s.VisitCount = in.VisitCount + 1
		s.LastVisitAt = in.CurrentVisitAt
		s.LastEcommerceOrderAt = in.LastEcommerceOrderAt
	}
	if e.OrderPlaced {
		s.LastEcommerceOrderAt = now
	}
	return s
}

// Emit writes the ref (when attribution is present), ses, id and cvar
// cookies into j. JSON values are percent-encoded as the JavaScript tracker
// does.
func Emit(j *Jar, e Emission) {
	if e.Attribution != nil {
		if b, err := json.Marshal(e.Attribution); err == nil {
			j.Set(e.cookie(Referral, url.PathEscape(string(b)), ReferralTTL))
		}
	}

	j.Set(e.cookie(Session, "*", SessionTTL))
	j.Set(e.cookie(ID, e.Visitor().Encode(), VisitorTTL))

	cvars := e.CustomVariables
	if cvars == nil {
		cvars = map[string][2]string{}
	}
	if b, err := json.Marshal(cvars); err == nil {
		j.Set(e.cookie(CustomVar, url.PathEscape(string(b)), SessionTTL))
	}
}

func (e Emission) cookie(logical, value string, ttl int) *http.Cookie {
	return &http.Cookie{
		Name:     Name(logical, e.SiteID, e.Config, e.Host),
		Value:    value,
		Domain:   e.Config.Domain,
		Path:     e.Config.Path,
		Expires:  expiry(e.Now, ttl),
		MaxAge:   ttl,
		Secure:   e.Config.Secure,
		HttpOnly: e.Config.HTTPOnly,
		SameSite: e.Config.SameSite,
	}
}
