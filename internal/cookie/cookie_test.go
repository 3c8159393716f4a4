package cookie

import (
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestName(t *testing.T) {
	cfg := Config{Domain: "example.com", Path: "/"}
	sum := sha1.Sum([]byte("example.com/"))
	want := "_pk_id.1." + hex.EncodeToString(sum[:])[:4]

	if got := Name(ID, 1, cfg, "ignored.host"); got != want {
		t.Errorf("Name() = %q, want %q", got, want)
	}
	if Name(ID, 1, cfg, "a") != Name(ID, 1, cfg, "b") {
		t.Error("host must be ignored when a domain is configured")
	}
}

func TestNameDeterminism(t *testing.T) {
	base := Config{Domain: "example.com", Path: "/"}
	tests := []struct {
		name   string
		other  Config
		host   string
		sameAs bool
	}{
		{"identical", base, "", true},
		{"different domain", Config{Domain: "example.org", Path: "/"}, "", false},
		{"different path", Config{Domain: "example.com", Path: "/shop"}, "", false},
		{"host fallback equals domain", Config{Path: "/"}, "example.com", true},
		{"host fallback differs", Config{Path: "/"}, "other.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Name(Session, 3, base, "")
			b := Name(Session, 3, tt.other, tt.host)
			if (a == b) != tt.sameAs {
				t.Errorf("Name() a=%q b=%q, same=%v want %v", a, b, a == b, tt.sameAs)
			}
		})
	}
}

func TestNamePrefix(t *testing.T) {
	got := Name(Referral, 9, Config{Prefix: "_matomo_", Path: "/"}, "h")
	if !strings.HasPrefix(got, "_matomo_ref.9.") || len(got) != len("_matomo_ref.9.")+4 {
		t.Errorf("Name() = %q", got)
	}
}

func TestDecodeVisitor(t *testing.T) {
	if _, ok := DecodeVisitor("short.123"); ok {
		t.Error("DecodeVisitor(short) ok = true, want false")
	}
	if _, ok := DecodeVisitor(""); ok {
		t.Error("DecodeVisitor(empty) ok = true, want false")
	}

	s, ok := DecodeVisitor("0123456789abcdef.100.2.100.90.0")
	if !ok {
		t.Fatal("DecodeVisitor(valid) ok = false")
	}
	want := VisitorState{VisitorID: "0123456789abcdef", CreatedAt: 100, VisitCount: 2, CurrentVisitAt: 100, LastVisitAt: 90}
	if s != want {
		t.Errorf("DecodeVisitor() = %+v, want %+v", s, want)
	}

	s, ok = DecodeVisitor("0123456789abcdef")
	if !ok || s.VisitorID != "0123456789abcdef" || s.VisitCount != 0 {
		t.Errorf("DecodeVisitor(id only) = %+v, %v", s, ok)
	}
}

func TestVisitorEncodeRoundTrip(t *testing.T) {
	in := VisitorState{VisitorID: "0123456789abcdef", CreatedAt: 100, VisitCount: 3, CurrentVisitAt: 200, LastVisitAt: 150, LastEcommerceOrderAt: 120}
	raw := in.Encode()
	if raw != "0123456789abcdef.100.3.200.150.120" {
		t.Errorf("Encode() = %q", raw)
	}
	out, ok := DecodeVisitor(raw)
	if !ok || out != in {
		t.Errorf("round trip = %+v, %v", out, ok)
	}

	first := VisitorState{VisitorID: "0123456789abcdef", CreatedAt: 5, VisitCount: 1, CurrentVisitAt: 5}
	if got := first.Encode(); got != "0123456789abcdef.5.1.5.." {
		t.Errorf("Encode(first visit) = %q", got)
	}
}

func TestLoadVisitor(t *testing.T) {
	cfg := Config{Path: "/"}
	r := httptest.NewRequest(http.MethodGet, "http://shop.example.com/", nil)
	r.AddCookie(&http.Cookie{Name: Name(ID, 1, cfg, "shop.example.com"), Value: "0123456789abcdef.100.2.100.90"})

	s, ok := LoadVisitor(RequestLookup(r), 1, cfg, "shop.example.com")
	if !ok || s.VisitCount != 2 {
		t.Errorf("LoadVisitor() = %+v, %v", s, ok)
	}
	if _, ok := LoadVisitor(RequestLookup(r), 2, cfg, "shop.example.com"); ok {
		t.Error("LoadVisitor() found cookie for another site")
	}
	if _, ok := LoadVisitor(nil, 1, cfg, "shop.example.com"); ok {
		t.Error("LoadVisitor(nil lookup) ok = true")
	}
}

func TestEmit(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cfg := Config{Domain: "example.com", Path: "/", Secure: true, HTTPOnly: true, SameSite: http.SameSiteLaxMode}

	t.Run("new visitor without attribution", func(t *testing.T) {
		jar := NewJar()
		Emit(jar, Emission{SiteID: 1, Config: cfg, Now: now, VisitorID: "fedcba9876543210"})

		if jar.Len() != 3 {
			t.Fatalf("jar has %d cookies, want 3", jar.Len())
		}
		if findCookie(jar, Name(Referral, 1, cfg, "")) != nil {
			t.Error("ref cookie set without attribution")
		}

		ses := findCookie(jar, Name(Session, 1, cfg, ""))
		if ses == nil || ses.Value != "*" || ses.MaxAge != SessionTTL {
			t.Errorf("ses cookie = %+v", ses)
		}
		if !ses.Expires.Equal(now.Add(SessionTTL * time.Second)) {
			t.Errorf("ses expires = %v", ses.Expires)
		}

		id := findCookie(jar, Name(ID, 1, cfg, ""))
		if id == nil || id.Value != "fedcba9876543210.1700000000.1.1700000000.." {
			t.Errorf("id cookie = %+v", id)
		}
		if id.MaxAge != VisitorTTL || !id.Secure || !id.HttpOnly || id.SameSite != http.SameSiteLaxMode || id.Domain != "example.com" {
			t.Errorf("id cookie attributes = %+v", id)
		}

		cvar := findCookie(jar, Name(CustomVar, 1, cfg, ""))
		if cvar == nil || unescape(t, cvar.Value) != "{}" || cvar.MaxAge != SessionTTL {
			t.Errorf("cvar cookie = %+v", cvar)
		}
	})

	t.Run("returning visitor with attribution and order", func(t *testing.T) {
		jar := NewJar()
		in := &VisitorState{VisitorID: "0123456789abcdef", CreatedAt: 100, VisitCount: 2, CurrentVisitAt: 900, LastVisitAt: 500}
		Emit(jar, Emission{
			SiteID:          1,
			Config:          cfg,
			Now:             now,
			Incoming:        in,
			VisitorID:       "ignored000000000",
			OrderPlaced:     true,
			Attribution:     []any{"spring", "shoes", 1699999000, "https://ref.example/"},
			CustomVariables: map[string][2]string{"1": {"plan", "pro"}},
		})

		ref := findCookie(jar, Name(Referral, 1, cfg, ""))
		if ref == nil || unescape(t, ref.Value) != `["spring","shoes",1699999000,"https://ref.example/"]` || ref.MaxAge != ReferralTTL {
			t.Errorf("ref cookie = %+v", ref)
		}
		id := findCookie(jar, Name(ID, 1, cfg, ""))
		if id == nil || id.Value != "0123456789abcdef.100.3.1700000000.900.1700000000" {
			t.Errorf("id cookie = %+v", id)
		}
		cvar := findCookie(jar, Name(CustomVar, 1, cfg, ""))
		if cvar == nil || unescape(t, cvar.Value) != `{"1":["plan","pro"]}` {
			t.Errorf("cvar cookie = %+v", cvar)
		}
	})
}

func findCookie(jar *Jar, name string) *http.Cookie {
	for _, c := range jar.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func unescape(t *testing.T, v string) string {
	t.Helper()
	if strings.ContainsAny(v, `"[]{},`) {
		t.Errorf("cookie value %q is not percent-encoded", v)
	}
	out, err := url.PathUnescape(v)
	if err != nil {
		t.Fatalf("unescape %q: %v", v, err)
	}
	return out
}

func TestJarFlush(t *testing.T) {
	jar := NewJar()
	jar.Set(&http.Cookie{Name: "a", Value: "1", Path: "/"})
	jar.Set(&http.Cookie{Name: "b", Value: "2", Path: "/"})
	jar.Set(&http.Cookie{Name: "a", Value: "3", Path: "/"})

	if jar.Len() != 2 || findCookie(jar, "a").Value != "3" {
		t.Fatalf("jar = %+v", jar.Cookies())
	}

	rec := httptest.NewRecorder()
	jar.Flush(rec)
	got := rec.Header().Values("Set-Cookie")
	if len(got) != 2 || !strings.HasPrefix(got[0], "a=3") || !strings.HasPrefix(got[1], "b=2") {
		t.Errorf("Set-Cookie = %v", got)
	}
	if jar.Len() != 0 {
		t.Errorf("jar not emptied: %d", jar.Len())
	}
}
