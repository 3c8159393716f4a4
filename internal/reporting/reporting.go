// Package reporting builds and fetches Matomo Reporting API queries.
package reporting

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shortontech/gomatomo/internal/params"
	"github.com/shortontech/gomatomo/internal/transport"
)

// Relative dates understood by the API.
const (
	DateToday     = "today"
	DateYesterday = "yesterday"
)

// DateLast is the date for the last n periods including the current one.
func DateLast(n int) string { return "last" + strconv.Itoa(n) }

// DatePrevious is the date for the n periods before the current one.
func DatePrevious(n int) string { return "previous" + strconv.Itoa(n) }

var (
	formats = []string{"xml", "json", "csv", "tsv", "html", "rss", "original"}
	periods = []string{"day", "week", "month", "year", "range"}
)

// Query is an immutable Reporting API request. Every With method returns a
// new Query.
type Query struct {
	endpoint  string
	authToken string
	params    params.Params
	client    *http.Client
}

// New starts a query against endpoint (the Matomo index.php URL) for siteID.
// client may be nil.
func New(endpoint, authToken string, siteID int, client *http.Client) *Query {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Query{
		endpoint:  endpoint,
		authToken: authToken,
		params:    params.New("idSite", siteID, "module", "API"),
		client:    client,
	}
}

// Params returns the query parameters.
func (q *Query) Params() params.Params { return q.params }

func (q *Query) with(name string, v any) *Query {
	n := *q
	n.params = q.params.With(name, v)
	return &n
}

// WithDate sets the date, or the range date,end when end is not empty.
func (q *Query) WithDate(date, end string) *Query {
	if end != "" {
		date += "," + end
	}
	return q.with("date", date)
}

// WithFilterLimit limits the number of rows; -1 returns all rows.
func (q *Query) WithFilterLimit(limit int) *Query {
	return q.with("filter_limit", limit)
}

func (q *Query) WithFormat(format string) (*Query, error) {
	if !slices.Contains(formats, format) {
		return nil, params.Invalid("format", strings.Join(formats, ", "), format)
	}
	return q.with("format", format), nil
}

// WithMethod sets the API method, e.g. VisitsSummary.get.
func (q *Query) WithMethod(method string) *Query {
	return q.with("method", method)
}

// WithParameter sets an arbitrary parameter, replacing any earlier value of
// name. Slices are flattened to name[0], name[1], ... and maps to
// name[key], recursively.
func (q *Query) WithParameter(name string, value any) (*Query, error) {
	kv := map[string]any{}
	if err := flatten(kv, name, reflect.ValueOf(value)); err != nil {
		return nil, err
	}
	p := q.params
	for _, k := range p.Keys() {
		if k == name || strings.HasPrefix(k, name+"[") {
			p = p.Without(k)
		}
	}
	n := *q
	n.params = p.WithAll(kv)
	return &n, nil
}

// WithParameters applies WithParameter for every entry, in key order.
func (q *Query) WithParameters(values map[string]any) (*Query, error) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	n := q
	for _, name := range names {
		var err error
		if n, err = n.WithParameter(name, values[name]); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (q *Query) WithPeriod(period string) (*Query, error) {
	if !slices.Contains(periods, period) {
		return nil, params.Invalid("period", strings.Join(periods, ", "), period)
	}
	return q.with("period", period), nil
}

// WithSegment sets a segment definition, e.g. browserCode==FF.
func (q *Query) WithSegment(segment string) *Query {
	return q.with("segment", segment)
}

// URL returns the request URL without the auth token.
func (q *Query) URL() string {
	sep := "?"
	if strings.Contains(q.endpoint, "?") {
		sep = "&"
	}
	return q.endpoint + sep + q.params.Encode()
}

// Fetch runs the query. The auth token travels as form data, never in the
// URL. Any status other than 200 is a *transport.StatusError.
func (q *Query) Fetch(ctx context.Context) ([]byte, error) {
	form := url.Values{"token_auth": {q.authToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.URL(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build report request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := q.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("report request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &transport.StatusError{StatusCode: resp.StatusCode, Body: body}
	}
	return body, nil
}

func flatten(kv map[string]any, name string, v reflect.Value) error {
	if !v.IsValid() {
		return params.BadKind(name, "scalar, slice or map", nil)
	}
	switch v.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		kv[name] = scalar(v)
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := flatten(kv, name+"["+strconv.Itoa(i)+"]", v.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return params.BadKind(name, "map with string keys", v.Interface())
		}
		for _, k := range v.MapKeys() {
			if err := flatten(kv, name+"["+k.String()+"]", v.MapIndex(k)); err != nil {
				return err
			}
		}
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return params.BadKind(name, "scalar, slice or map", nil)
		}
		return flatten(kv, name, v.Elem())
	default:
		return params.BadKind(name, "scalar, slice or map", v.Interface())
	}
	return nil
}

// scalar normalises v to a type params.FormatValue understands.
func scalar(v reflect.Value) any {
	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint()
	default:
		return v.Float()
	}
}
