// Package cookie implements the Matomo first-party cookie protocol so that
// server-side tracking shares visitor and session state with the
// JavaScript tracker running in the browser.
package cookie

import (
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Logical cookie names.
const (
	ID        = "id"
	Session   = "ses"
	Referral  = "ref"
	CustomVar = "cvar"
)

// DefaultPrefix matches the Matomo JavaScript tracker.
const DefaultPrefix = "_pk_"

// TTLs in seconds.
const (
	ReferralTTL = 15768000 // 6 months
	SessionTTL  = 1800     // 30 minutes
	VisitorTTL  = 33955200 // 13 months (365 + 28 days)
)

// VisitorIDLength is the length of a visitor id in hex characters.
const VisitorIDLength = 16

// Config holds first-party cookie attributes. A nil *Config means cookies
// are disabled.
type Config struct {
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
	SameSite http.SameSite
	Prefix   string
}

// DefaultConfig returns a config for the request host with path "/".
func DefaultConfig() Config {
	return Config{Path: "/", Prefix: DefaultPrefix}
}

func (c Config) prefix() string {
	if c.Prefix == "" {
		return DefaultPrefix
	}
	return c.Prefix
}

// Name returns the full cookie name: prefix, logical name, site id and the
// first four hex characters of SHA-1(domain + path). When the config has
// no domain the request host is hashed instead.
func Name(logical string, siteID int, cfg Config, host string) string {
	domain := cfg.Domain
	if domain == "" {
		domain = host
	}
	sum := sha1.Sum([]byte(domain + cfg.Path))
	return cfg.prefix() + logical + "." + strconv.Itoa(siteID) + "." + hex.EncodeToString(sum[:])[:4]
}

// VisitorState is the content of the visitor id cookie.
type VisitorState struct {
	VisitorID            string
	CreatedAt            int64
	VisitCount           int
	CurrentVisitAt       int64
	LastVisitAt          int64
	LastEcommerceOrderAt int64
}

// DecodeVisitor parses an id cookie value
// (id.createdAt.visitCount.currentVisitAt.lastVisitAt[.lastOrderAt]).
// It reports false unless the first segment is exactly 16 characters.
// Unparseable numeric segments decode as zero.
func DecodeVisitor(raw string) (VisitorState, bool) {
	parts := strings.Split(raw, ".")
	if len(parts[0]) != VisitorIDLength {
		return VisitorState{}, false
	}
	s := VisitorState{VisitorID: parts[0]}
	at := func(i int) int64 {
		if i >= len(parts) {
			return 0
		}
		n, _ := strconv.ParseInt(parts[i], 10, 64)
		return n
	}
	s.CreatedAt = at(1)
	s.VisitCount = int(at(2))
	s.CurrentVisitAt = at(3)
	s.LastVisitAt = at(4)
	s.LastEcommerceOrderAt = at(5)
	return s, true
}

// Encode renders the state in id cookie format.
func (s VisitorState) Encode() string {
	return strings.Join([]string{
		s.VisitorID,
		strconv.FormatInt(s.CreatedAt, 10),
		strconv.Itoa(s.VisitCount),
		strconv.FormatInt(s.CurrentVisitAt, 10),
		optional(s.LastVisitAt),
		optional(s.LastEcommerceOrderAt),
	}, ".")
}

func optional(ts int64) string {
	if ts == 0 {
		return ""
	}
	return strconv.FormatInt(ts, 10)
}

// LoadVisitor looks up and decodes the visitor id cookie for siteID.
func LoadVisitor(lookup func(name string) (string, bool), siteID int, cfg Config, host string) (VisitorState, bool) {
	if lookup == nil {
		return VisitorState{}, false
	}
	raw, ok := lookup(Name(ID, siteID, cfg, host))
	if !ok {
		return VisitorState{}, false
	}
	return DecodeVisitor(raw)
}

// RequestLookup adapts the cookies of an incoming request for LoadVisitor.
func RequestLookup(r *http.Request) func(string) (string, bool) {
	return func(name string) (string, bool) {
		c, err := r.Cookie(name)
		if err != nil {
			return "", false
		}
		return c.Value, true
	}
}

func expiry(now time.Time, ttl int) time.Time {
	return now.Add(time.Duration(ttl) * time.Second)
}
