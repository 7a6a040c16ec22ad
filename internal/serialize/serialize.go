// Package serialize encodes cache values as JSON without failing on
// reference cycles or values JSON cannot represent.
package serialize

import (
	"bytes"
	"encoding"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Markers substituted for values that cannot be encoded.
const (
	Circular    = "[Circular]"
	Unsupported = "[Unsupported]"
)

// DefaultFallbackSize is the size assumed for a value that cannot be
// measured.
const DefaultFallbackSize = 1024

var (
	marshalerType     = reflect.TypeFor[json.Marshaler]()
	textMarshalerType = reflect.TypeFor[encoding.TextMarshaler]()
)

// Marshal returns the JSON encoding of v. Values that encoding/json
// rejects are rebuilt first: a reference revisited on its own ancestor
// path becomes Circular, and channels, functions, complex numbers and
// non-finite floats become Unsupported.
func Marshal(v any) ([]byte, error) {
	if b, err := json.Marshal(v); err == nil {
		return b, nil
	}
	s := &sanitizer{ancestors: make(map[visit]struct{})}
	b, err := json.Marshal(s.value(reflect.ValueOf(v)))
	if err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}
	return b, nil
}

// Sanitize returns a copy of v made only of JSON-safe values.
func Sanitize(v any) any {
	s := &sanitizer{ancestors: make(map[visit]struct{})}
	return s.value(reflect.ValueOf(v))
}

// EstimateSize returns the encoded length of v in bytes, or fallback if v
// cannot be encoded.
func EstimateSize(v any, fallback int64) int64 {
	b, err := Marshal(v)
	if err != nil {
		return fallback
	}
	return int64(len(b))
}

// visit identifies a reference by type and address, as two types may
// share an address (a struct and its first field).
type visit struct {
	typ reflect.Type
	ptr uintptr
	len int
}

type sanitizer struct {
	ancestors map[visit]struct{}
}

// enter records a reference on the current path. It returns false if the
// reference is already an ancestor.
func (s *sanitizer) enter(k visit) bool {
	if _, ok := s.ancestors[k]; ok {
		return false
	}
	s.ancestors[k] = struct{}{}
	return true
}

func (s *sanitizer) leave(k visit) {
	delete(s.ancestors, k)
}

func (s *sanitizer) value(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}
	if out, ok := s.marshaler(v); ok {
		return out
	}

	switch v.Kind() {
	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint()
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Unsupported
		}
		return f
	case reflect.String:
		return v.String()
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return s.value(v.Elem())
	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		k := visit{typ: v.Type(), ptr: v.Pointer()}
		if !s.enter(k) {
			return Circular
		}
		defer s.leave(k)
		return s.value(v.Elem())
	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		k := visit{typ: v.Type(), ptr: v.Pointer()}
		if !s.enter(k) {
			return Circular
		}
		defer s.leave(k)
		return s.mapValue(v)
	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return v.Bytes()
		}
		k := visit{typ: v.Type(), ptr: v.Pointer(), len: v.Len()}
		if !s.enter(k) {
			return Circular
		}
		defer s.leave(k)
		return s.list(v)
	case reflect.Array:
		return s.list(v)
	case reflect.Struct:
		var obj object
		s.fields(v, &obj, make(map[string]bool))
		return obj
	default:
		// Chan, Func, Complex64, Complex128, UnsafePointer.
		return Unsupported
	}
}

// marshaler encodes values that define their own JSON or text form.
func (s *sanitizer) marshaler(v reflect.Value) (any, bool) {
	if !v.CanInterface() {
		return nil, false
	}
	if v.Kind() == reflect.Pointer && v.IsNil() {
		return nil, false
	}
	t := v.Type()
	switch {
	case t.Implements(marshalerType):
		b, err := v.Interface().(json.Marshaler).MarshalJSON()
		if err != nil || !json.Valid(b) {
			return Unsupported, true
		}
		return json.RawMessage(b), true
	case t.Implements(textMarshalerType):
		b, err := v.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return Unsupported, true
		}
		return string(b), true
	}
	return nil, false
}

func (s *sanitizer) list(v reflect.Value) []any {
	out := make([]any, v.Len())
	for i := range out {
		out[i] = s.value(v.Index(i))
	}
	return out
}

func (s *sanitizer) mapValue(v reflect.Value) object {
	obj := make(object, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		obj = append(obj, member{
			name:  mapKey(iter.Key()),
			value: s.value(iter.Value()),
		})
	}
	sort.Slice(obj, func(i, j int) bool { return obj[i].name < obj[j].name })
	return obj
}

func mapKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	if k.CanInterface() && k.Type().Implements(textMarshalerType) {
		if b, err := k.Interface().(encoding.TextMarshaler).MarshalText(); err == nil {
			return string(b)
		}
	}
	switch k.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10)
	}
	if k.CanInterface() {
		return fmt.Sprint(k.Interface())
	}
	return Unsupported
}

// fields appends the JSON members of struct v to obj. Embedded structs
// without a JSON name are flattened; names already set by an outer
// struct win.
func (s *sanitizer) fields(v reflect.Value, obj *object, seen map[string]bool) {
	t := v.Type()
	var embedded []reflect.Value
	for i := range t.NumField() {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		fv := v.Field(i)

		if f.Anonymous && name == "" {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				if fv.Kind() == reflect.Pointer {
					if fv.IsNil() {
						continue
					}
					fv = fv.Elem()
				}
				embedded = append(embedded, fv)
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		if seen[name] {
			continue
		}
		if strings.Contains(opts, "omitempty") && isEmpty(fv) {
			continue
		}
		seen[name] = true
		*obj = append(*obj, member{name: name, value: s.value(fv)})
	}
	for _, ev := range embedded {
		s.fields(ev, obj, seen)
	}
}

func isEmpty(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.Interface, reflect.Pointer:
		return v.IsZero()
	}
	return false
}

// object is a JSON object that keeps its member order.
type object []member

type member struct {
	name  string
	value any
}

// MarshalJSON implements json.Marshaler.
func (o object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(m.name)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		val, err := json.Marshal(m.value)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
