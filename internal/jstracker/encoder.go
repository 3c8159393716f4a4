package jstracker

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"

	"github.com/shortontech/gomatomo/internal/params"
)

// LiteralMarker prefixes a field spec that is used verbatim instead of
// being looked up on the source.
const LiteralMarker = ":"

// FieldSpec describes how one argument is produced from a source value.
// Implementations: Literal, Field, Accessor and Value.
type FieldSpec interface {
	resolve(src any) any
}

// Literal is used as the argument as-is.
type Literal string

// Field names a key, struct field or dotted path on the source.
type Field string

// Accessor computes the argument from the source.
type Accessor func(src any) any

// Value is a scalar passed through unchanged. Value{false} marks an unused
// argument for functions that expect one.
type Value struct{ V any }

func (l Literal) resolve(any) any      { return string(l) }
func (f Field) resolve(src any) any    { return lookup(src, string(f)) }
func (a Accessor) resolve(src any) any { return a(src) }
func (v Value) resolve(any) any        { return v.V }

// Call is one resolved tracking function invocation. It encodes to a JSON
// array starting with the function name.
type Call struct {
	Name string
	Args []any
}

func (c Call) MarshalJSON() ([]byte, error) {
	arr := make([]any, 0, len(c.Args)+1)
	arr = append(arr, c.Name)
	arr = append(arr, c.Args...)
	return json.Marshal(arr)
}

// Resolve turns a loosely typed argument spec into a Call.
//
// A scalar spec is the single argument. A list of one element is that
// element. A list of two whose first element is a scalar is two positional
// arguments; if the first element is structured (map, struct, pointer) the
// second must be a list of field specs resolved against it in order. Any
// other list is used positionally.
//
// Field specs may be FieldSpec values or raw values: a string starting with
// ":" is a literal, any other string is a Field, a func(any) any is an
// Accessor and a non-string scalar is a Value.
func Resolve(name string, spec any) (Call, error) {
	call := Call{Name: name}
	if isScalar(spec) {
		call.Args = []any{spec}
		return call, nil
	}

	list, ok := toList(spec)
	if !ok {
		return Call{}, params.BadKind(name, "a scalar or a list", spec)
	}

	switch len(list) {
	case 1:
		call.Args = []any{list[0]}
	case 2:
		src := list[0]
		if isScalar(src) {
			call.Args = []any{list[0], list[1]}
			break
		}
		specs, err := fieldSpecs(name, list[1])
		if err != nil {
			return Call{}, err
		}
		call.Args = make([]any, 0, len(specs))
		for _, fs := range specs {
			call.Args = append(call.Args, fs.resolve(src))
		}
	default:
		call.Args = append([]any{}, list...)
	}
	return call, nil
}

// SpecOf classifies a raw field spec.
func SpecOf(v any) (FieldSpec, error) {
	switch t := v.(type) {
	case FieldSpec:
		return t, nil
	case string:
		if strings.HasPrefix(t, LiteralMarker) {
			return Literal(t[len(LiteralMarker):]), nil
		}
		return Field(t), nil
	case func(any) any:
		return Accessor(t), nil
	}
	if isScalar(v) {
		return Value{V: v}, nil
	}
	return nil, params.BadKind("field spec", "a string, scalar or accessor", v)
}

func fieldSpecs(name string, v any) ([]FieldSpec, error) {
	if specs, ok := v.([]FieldSpec); ok {
		return specs, nil
	}
	raw, ok := toList(v)
	if !ok {
		return nil, params.BadKind(name, "a list of field specs", v)
	}
	specs := make([]FieldSpec, 0, len(raw))
	for _, r := range raw {
		fs, err := SpecOf(r)
		if err != nil {
			return nil, err
		}
		specs = append(specs, fs)
	}
	return specs, nil
}

func isScalar(v any) bool {
	if v == nil {
		return true
	}
	if _, ok := v.(json.Number); ok {
		return true
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func toList(v any) ([]any, bool) {
	if l, ok := v.([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// lookup reads key from src. A key that is not found as a whole is treated
// as a dotted path. Missing values resolve to nil.
func lookup(src any, key string) any {
	if v, ok := lookupOne(src, key); ok {
		return v
	}
	if i := strings.IndexByte(key, '.'); i >= 0 {
		if v, ok := lookupOne(src, key[:i]); ok {
			return lookup(v, key[i+1:])
		}
	}
	return nil
}

func lookupOne(src any, key string) (any, bool) {
	rv := reflect.ValueOf(src)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		v := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}
		return v.Interface(), true
	case reflect.Struct:
		return structField(rv, key)
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= rv.Len() {
			return nil, false
		}
		return rv.Index(i).Interface(), true
	}
	return nil, false
}

func structField(rv reflect.Value, key string) (any, bool) {
	rt := rv.Type()
	if f, ok := rt.FieldByName(key); ok && f.IsExported() {
		return rv.FieldByIndex(f.Index).Interface(), true
	}
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if tag == key || strings.EqualFold(f.Name, key) {
			return rv.Field(i).Interface(), true
		}
	}
	return nil, false
}
