// Package clienthints decodes User-Agent Client Hints headers into the
// structure the Matomo tracker expects in its uadata parameter.
package clienthints

import (
	"encoding/json"
	"net/http"
	"regexp"
)

// Request headers carrying client hints.
const (
	HeaderModel           = "Sec-CH-UA-Model"
	HeaderPlatform        = "Sec-CH-UA-Platform"
	HeaderPlatformVersion = "Sec-CH-UA-Platform-Version"
	HeaderFullVersionList = "Sec-CH-UA-Full-Version-List"
	HeaderFullVersion     = "Sec-CH-UA-Full-Version"
)

// Hint is one brand/version pair from a brand list header.
type Hint struct {
	Brand   string `json:"brand"`
	Version string `json:"version"`
}

// ClientHints is the client hint set sent as uadata. Empty fields are
// omitted from the encoding.
type ClientHints struct {
	Model           string `json:"model,omitempty"`
	Platform        string `json:"platform,omitempty"`
	PlatformVersion string `json:"platformVersion,omitempty"`
	FullVersionList []Hint `json:"fullVersionList,omitempty"`
	UAFullVersion   string `json:"uaFullVersion,omitempty"`
}

var segment = regexp.MustCompile(`^"([^"]+)"; ?v="([^"]+)"(?:, )?`)

// Parse decodes a brand list such as
//
//	"Chromium"; v="116", "Not)A;Brand"; v="24"
//
// Parsing stops at the first position that does not match; anything left is
// ignored.
func Parse(header string) []Hint {
	hints := []Hint{}
	for {
		m := segment.FindStringSubmatch(header)
		if m == nil {
			return hints
		}
		hints = append(hints, Hint{Brand: m[1], Version: m[2]})
		header = header[len(m[0]):]
	}
}

// FromValue accepts a raw header string, a pre-parsed []Hint or a list of
// brand/version maps. Any other input yields an empty list.
func FromValue(v any) []Hint {
	switch t := v.(type) {
	case string:
		return Parse(t)
	case []Hint:
		return append([]Hint{}, t...)
	case []map[string]string:
		hints := make([]Hint, 0, len(t))
		for _, m := range t {
			hints = append(hints, Hint{Brand: m["brand"], Version: m["version"]})
		}
		return hints
	}
	return []Hint{}
}

// FromHeader reads the client hint headers of an incoming request.
func FromHeader(h http.Header) ClientHints {
	return ClientHints{
		Model:           h.Get(HeaderModel),
		Platform:        h.Get(HeaderPlatform),
		PlatformVersion: h.Get(HeaderPlatformVersion),
		FullVersionList: Parse(h.Get(HeaderFullVersionList)),
		UAFullVersion:   h.Get(HeaderFullVersion),
	}
}

// Encode returns the JSON form used for the uadata parameter.
func (c ClientHints) Encode() string {
	b, err := json.Marshal(c)
	if err != nil {
		return "{}"
	}
	return string(b)
}
