package reporting

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shortontech/gomatomo/internal/params"
	"github.com/shortontech/gomatomo/internal/transport"
)

func TestNewSeedsQuery(t *testing.T) {
	q := New("https://matomo.example.com/index.php", "secret", 4, nil)
	if got := q.Params().Encode(); got != "idSite=4&module=API" {
		t.Errorf("Encode() = %q, want idSite=4&module=API", got)
	}
	if strings.Contains(q.URL(), "secret") {
		t.Errorf("URL() = %q should not contain the auth token", q.URL())
	}
}

func TestQueryIsImmutable(t *testing.T) {
	base := New("https://m.example.com/index.php", "", 1, nil)
	a := base.WithMethod("VisitsSummary.get")
	b := base.WithMethod("Actions.get")

	if base.Params().Has("method") {
		t.Error("base query was mutated")
	}
	if a.Params().String("method") != "VisitsSummary.get" {
		t.Errorf("a method = %q", a.Params().String("method"))
	}
	if b.Params().String("method") != "Actions.get" {
		t.Errorf("b method = %q", b.Params().String("method"))
	}
}

func TestSimpleSetters(t *testing.T) {
	q := New("https://m.example.com/index.php", "", 1, nil)

	tests := []struct {
		name string
		q    *Query
		key  string
		want string
	}{
		{"date", q.WithDate(DateToday, ""), "date", "today"},
		{"date range", q.WithDate("2024-01-01", "2024-01-31"), "date", "2024-01-01,2024-01-31"},
		{"last", q.WithDate(DateLast(7), ""), "date", "last7"},
		{"previous", q.WithDate(DatePrevious(3), ""), "date", "previous3"},
		{"filter limit", q.WithFilterLimit(-1), "filter_limit", "-1"},
		{"segment", q.WithSegment("browserCode==FF"), "segment", "browserCode==FF"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.q.Params().String(tt.key); got != tt.want {
				t.Errorf("%s = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestWithFormatAndPeriod(t *testing.T) {
	q := New("https://m.example.com/index.php", "", 1, nil)

	for _, f := range []string{"xml", "json", "csv", "tsv", "html", "rss", "original"} {
		n, err := q.WithFormat(f)
		if err != nil {
			t.Errorf("WithFormat(%q) error = %v", f, err)
			continue
		}
		if n.Params().String("format") != f {
			t.Errorf("format = %q, want %q", n.Params().String("format"), f)
		}
	}
	if _, err := q.WithFormat("yaml"); !errors.Is(err, params.ErrInvalidDomainValue) {
		t.Errorf("WithFormat(yaml) error = %v, want ErrInvalidDomainValue", err)
	}

	for _, p := range []string{"day", "week", "month", "year", "range"} {
		if _, err := q.WithPeriod(p); err != nil {
			t.Errorf("WithPeriod(%q) error = %v", p, err)
		}
	}
	if _, err := q.WithPeriod("decade"); !errors.Is(err, params.ErrInvalidDomainValue) {
		t.Errorf("WithPeriod(decade) error = %v, want ErrInvalidDomainValue", err)
	}
}

func TestWithParameter(t *testing.T) {
	q := New("https://m.example.com/index.php", "", 1, nil)

	tests := []struct {
		name  string
		value any
		want  map[string]string
	}{
		{"string", "Referrers", map[string]string{"p": "Referrers"}},
		{"bool", true, map[string]string{"p": "1"}},
		{"float", 1.5, map[string]string{"p": "1.5"}},
		{"slice", []string{"a", "b"}, map[string]string{"p[0]": "a", "p[1]": "b"}},
		{"map", map[string]int{"x": 1}, map[string]string{"p[x]": "1"}},
		{"nested", []any{[]int{7}}, map[string]string{"p[0][0]": "7"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := q.WithParameter("p", tt.value)
			if err != nil {
				t.Fatalf("WithParameter() error = %v", err)
			}
			for k, v := range tt.want {
				if got := n.Params().String(k); got != v {
					t.Errorf("%s = %q, want %q", k, got, v)
				}
			}
		})
	}

	for _, bad := range []any{nil, struct{}{}, map[int]string{1: "a"}, func() {}} {
		if _, err := q.WithParameter("p", bad); !errors.Is(err, params.ErrInvalidArgumentKind) {
			t.Errorf("WithParameter(%T) error = %v, want ErrInvalidArgumentKind", bad, err)
		}
	}
}

func TestWithParameterReplaces(t *testing.T) {
	q := New("https://m.example.com/index.php", "", 1, nil)
	q, err := q.WithParameter("cols", []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	q, err = q.WithParameter("cols", []string{"z"})
	if err != nil {
		t.Fatal(err)
	}
	q, err = q.WithParameter("colsx", "keep")
	if err != nil {
		t.Fatal(err)
	}

	want := "cols%5B0%5D=z&colsx=keep&idSite=1&module=API"
	if got := q.Params().Encode(); got != want {
		t.Errorf("Encode() = %q, want %q", got, want)
	}

	q, err = q.WithParameter("cols", "flat")
	if err != nil {
		t.Fatal(err)
	}
	if q.Params().Has("cols[0]") || q.Params().String("cols") != "flat" {
		t.Errorf("scalar did not replace slice: %s", q.Params().Encode())
	}
}

func TestWithParametersAppliesAll(t *testing.T) {
	q := New("https://m.example.com/index.php", "", 1, nil)
	n, err := q.WithParameters(map[string]any{
		"method":  "Live.getLastVisitsDetails",
		"columns": []string{"nb_visits", "nb_actions"},
	})
	if err != nil {
		t.Fatalf("WithParameters() error = %v", err)
	}
	want := "columns%5B0%5D=nb_visits&columns%5B1%5D=nb_actions&idSite=1&method=Live.getLastVisitsDetails&module=API"
	if got := n.Params().Encode(); got != want {
		t.Errorf("Encode() = %q, want %q", got, want)
	}

	if _, err := q.WithParameters(map[string]any{"ok": 1, "bad": struct{}{}}); err == nil {
		t.Error("WithParameters() should fail on a bad value")
	}
}

func TestFetch(t *testing.T) {
	var gotQuery, gotToken, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotQuery = r.URL.RawQuery
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}
		gotToken = r.PostForm.Get("token_auth")
		io.WriteString(w, `{"nb_visits":12}`)
	}))
	defer srv.Close()

	q := New(srv.URL+"/index.php", "secret", 2, srv.Client()).WithMethod("VisitsSummary.get")
	q, _ = q.WithPeriod("day")
	q, _ = q.WithFormat("json")
	body, err := q.WithDate(DateYesterday, "").Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(body) != `{"nb_visits":12}` {
		t.Errorf("body = %q", body)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method = %s, want POST", gotMethod)
	}
	if gotToken != "secret" {
		t.Errorf("token_auth = %q, want secret", gotToken)
	}
	want := "date=yesterday&format=json&idSite=2&method=VisitsSummary.get&module=API&period=day"
	if gotQuery != want {
		t.Errorf("query = %q, want %q", gotQuery, want)
	}
}

func TestFetchStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "bad", 1, nil).Fetch(context.Background())
	var se *transport.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Fetch() error = %v, want *transport.StatusError", err)
	}
	if se.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want 403", se.StatusCode)
	}
}
