package clienthints

import (
	"net/http"
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   []Hint
	}{
		{
			name:   "two brands",
			header: `"Chromium"; v="116", "Not)A;Brand"; v="24"`,
			want:   []Hint{{Brand: "Chromium", Version: "116"}, {Brand: "Not)A;Brand", Version: "24"}},
		},
		{
			name:   "no space before v",
			header: `"Google Chrome";v="116.0.5845.96"`,
			want:   []Hint{{Brand: "Google Chrome", Version: "116.0.5845.96"}},
		},
		{
			name:   "trailing garbage dropped",
			header: `"Chromium"; v="116", garbage`,
			want:   []Hint{{Brand: "Chromium", Version: "116"}},
		},
		{
			name:   "leading garbage yields nothing",
			header: `garbage, "Chromium"; v="116"`,
			want:   []Hint{},
		},
		{
			name:   "empty",
			header: "",
			want:   []Hint{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.header)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse(%q) = %#v, want %#v", tt.header, got, tt.want)
			}
		})
	}
}

func TestFromValue(t *testing.T) {
	pre := []Hint{{Brand: "Edge", Version: "1"}}
	if got := FromValue(pre); !reflect.DeepEqual(got, pre) {
		t.Errorf("FromValue([]Hint) = %v", got)
	}
	maps := []map[string]string{{"brand": "Chrome", "version": "10.0.2"}}
	if got := FromValue(maps); !reflect.DeepEqual(got, []Hint{{Brand: "Chrome", Version: "10.0.2"}}) {
		t.Errorf("FromValue(maps) = %v", got)
	}
	if got := FromValue(42); len(got) != 0 || got == nil {
		t.Errorf("FromValue(42) = %#v, want empty non-nil", got)
	}
	if got := FromValue(nil); len(got) != 0 {
		t.Errorf("FromValue(nil) = %#v", got)
	}
}

func TestFromHeaderAndEncode(t *testing.T) {
	h := http.Header{}
	h.Set(HeaderPlatform, `"Windows"`)
	h.Set(HeaderFullVersionList, `"Chromium"; v="116"`)

	ch := FromHeader(h)
	want := `{"platform":"\"Windows\"","fullVersionList":[{"brand":"Chromium","version":"116"}]}`
	if got := ch.Encode(); got != want {
		t.Errorf("Encode() = %s, want %s", got, want)
	}

	if got := (ClientHints{}).Encode(); got != "{}" {
		t.Errorf("empty Encode() = %s, want {}", got)
	}
}
