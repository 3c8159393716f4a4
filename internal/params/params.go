package params

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Params is an immutable set of tracking request parameters keyed by wire
// code. The zero value is an empty set. Every mutator returns a new Params
// and leaves the receiver untouched.
type Params struct {
	m map[string]any
}

// New builds a Params from alternating key/value pairs.
func New(kv ...any) Params {
	if len(kv)%2 != 0 {
		panic("params: New called with odd number of arguments")
	}
	p := Params{m: make(map[string]any, len(kv)/2)}
	for i := 0; i < len(kv); i += 2 {
		p.m[kv[i].(string)] = kv[i+1]
	}
	return p
}

func (p Params) clone(extra int) map[string]any {
	m := make(map[string]any, len(p.m)+extra)
	for k, v := range p.m {
		m[k] = v
	}
	return m
}

// With returns a copy of p with key set to v.
func (p Params) With(key string, v any) Params {
	m := p.clone(1)
	m[key] = v
	return Params{m: m}
}

// WithAll returns a copy of p with every entry of kv merged in.
func (p Params) WithAll(kv map[string]any) Params {
	m := p.clone(len(kv))
	for k, v := range kv {
		m[k] = v
	}
	return Params{m: m}
}

// WithList returns a copy of p with values flattened to name[0], name[1], ...
func (p Params) WithList(name string, values []any) Params {
	m := p.clone(len(values))
	for i, v := range values {
		m[name+"["+strconv.Itoa(i)+"]"] = v
	}
	return Params{m: m}
}

// Without returns a copy of p with key removed.
func (p Params) Without(key string) Params {
	if _, ok := p.m[key]; !ok {
		return p
	}
	m := p.clone(0)
	delete(m, key)
	return Params{m: m}
}

// Get returns the value stored under key.
func (p Params) Get(key string) (any, bool) {
	v, ok := p.m[key]
	return v, ok
}

// String returns the wire form of the value stored under key, or "".
func (p Params) String(key string) string {
	v, ok := p.m[key]
	if !ok {
		return ""
	}
	return FormatValue(v)
}

// Has reports whether key is set.
func (p Params) Has(key string) bool {
	_, ok := p.m[key]
	return ok
}

// Len returns the number of parameters.
func (p Params) Len() int { return len(p.m) }

// Keys returns the keys in canonical wire order; keys missing from the
// table follow in lexical order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p.m))
	for k := range p.m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, rj := keyRank(keys[i]), keyRank(keys[j])
		if ri != rj {
			return ri < rj
		}
		return keys[i] < keys[j]
	})
	return keys
}

// Map returns a copy of the underlying key/value pairs.
func (p Params) Map() map[string]any {
	return p.clone(0)
}

// Values converts p to url.Values using the wire formatting rules.
func (p Params) Values() url.Values {
	v := make(url.Values, len(p.m))
	for k, val := range p.m {
		v.Set(k, FormatValue(val))
	}
	return v
}

// Encode renders p as a query string in canonical key order.
func (p Params) Encode() string {
	var b strings.Builder
	for _, k := range p.Keys() {
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(FormatValue(p.m[k])))
	}
	return b.String()
}

// MarshalJSON encodes p as a flat JSON object.
func (p Params) MarshalJSON() ([]byte, error) {
	if p.m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.m)
}

// FormatValue renders a scalar the way the tracking API expects it:
// booleans as 1/0 and floats without exponent or trailing zeros.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint:
		return strconv.FormatUint(uint64(t), 10)
	case uint32:
		return strconv.FormatUint(uint64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
