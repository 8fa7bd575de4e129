// Package sanitize turns arbitrary application values into JSON-safe trees
// that can be embedded in a model prompt.
//
// The output only contains map[string]any, []any, string, bool, numeric
// values and nil. Objects reached a second time through a pointer, map or
// slice are replaced by CircularSentinel, so cyclic graphs always terminate.
// Mapping entries whose key starts with an internal marker ("_" or "$"),
// whose key is not a string, or whose value is a func/chan are dropped.
package sanitize

import (
	"encoding"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
)

const (
	CircularSentinel = "[Circular]"
	Placeholder      = "Context unavailable due to serialization error"
)

var internalKeyPrefixes = []string{"_", "$"}

var (
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// Sanitize returns a JSON-safe copy of v. It never mutates v.
func Sanitize(v any) any {
	w := &walker{seen: make(map[identity]struct{})}
	return w.walk(reflect.ValueOf(v))
}

// Render sanitizes v and encodes it as indented JSON. Values that still
// cannot be encoded (NaN, complex numbers, failing marshalers) yield an
// error wrapping ErrSanitization; callers substitute Placeholder.
func Render(v any) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = "", fmt.Errorf("%w: panic: %v", contractx.ErrSanitization, r)
		}
	}()

	raw, err := json.MarshalIndent(Sanitize(v), "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: %v", contractx.ErrSanitization, err)
	}
	return string(raw), nil
}

// RenderOrPlaceholder is Render with the placeholder substituted on failure.
func RenderOrPlaceholder(v any) string {
	out, err := Render(v)
	if err != nil {
		return Placeholder
	}
	return out
}

// IsInternalKey reports whether key carries an ORM/runtime bookkeeping marker.
func IsInternalKey(key string) bool {
	for _, p := range internalKeyPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

type identity struct {
	typ reflect.Type
	ptr uintptr
	len int
}

// residual stands in for a value JSON cannot represent; encoding it fails.
type residual struct {
	err error
}

func (r residual) MarshalJSON() ([]byte, error) {
	return nil, r.err
}

type walker struct {
	seen map[identity]struct{}
}

// visit records an identity and reports whether it had been seen before.
func (w *walker) visit(v reflect.Value) bool {
	id := identity{typ: v.Type(), ptr: v.Pointer()}
	if v.Kind() == reflect.Slice {
		id.len = v.Len()
	}
	if id.ptr == 0 {
		return false
	}
	if _, ok := w.seen[id]; ok {
		return true
	}
	w.seen[id] = struct{}{}
	return false
}

func (w *walker) walk(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}

	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		return w.walk(v.Elem())
	}

	if leaf, ok := w.marshalLeaf(v); ok {
		return leaf
	}

	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		if w.visit(v) {
			return CircularSentinel
		}
		return w.walk(v.Elem())
	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		if w.visit(v) {
			return CircularSentinel
		}
		return w.walkMap(v)
	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return base64.StdEncoding.EncodeToString(v.Bytes())
		}
		if w.visit(v) {
			return CircularSentinel
		}
		return w.walkSeq(v)
	case reflect.Array:
		return w.walkSeq(v)
	case reflect.Struct:
		out := make(map[string]any, v.NumField())
		w.walkStruct(v, out)
		return out
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return primitive(v)
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return nil
	default:
		return residual{err: fmt.Errorf("unsupported value of kind %s", v.Kind())}
	}
}

// marshalLeaf renders values that define their own JSON or text encoding
// (time.Time, json.RawMessage, uuid.UUID, ...).
func (w *walker) marshalLeaf(v reflect.Value) (any, bool) {
	if v.Kind() == reflect.Pointer && v.IsNil() {
		return nil, false
	}
	if !v.CanInterface() {
		return nil, false
	}

	t := v.Type()
	switch {
	case t.Implements(jsonMarshalerType):
		raw, err := v.Interface().(json.Marshaler).MarshalJSON()
		if err != nil {
			return residual{err: err}, true
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return residual{err: err}, true
		}
		return decoded, true
	case t.Implements(textMarshalerType):
		text, err := v.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return residual{err: err}, true
		}
		return string(text), true
	default:
		return nil, false
	}
}

func (w *walker) walkSeq(v reflect.Value) []any {
	out := make([]any, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		out = append(out, w.walk(v.Index(i)))
	}
	return out
}

func (w *walker) walkMap(v reflect.Value) map[string]any {
	out := make(map[string]any, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		key := iter.Key()
		if key.Kind() == reflect.Interface && !key.IsNil() {
			key = key.Elem()
		}
		if key.Kind() != reflect.String {
			continue
		}
		name := key.String()
		if IsInternalKey(name) || droppedValue(iter.Value()) {
			continue
		}
		out[name] = w.walk(iter.Value())
	}
	return out
}

func (w *walker) walkStruct(v reflect.Value, out map[string]any) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name, omitEmpty, skip := jsonFieldName(field)
		if skip {
			continue
		}

		fv := v.Field(i)
		if field.Anonymous && name == "" {
			embedded := fv
			if embedded.Kind() == reflect.Pointer {
				if embedded.IsNil() {
					continue
				}
				embedded = embedded.Elem()
			}
			if embedded.Kind() == reflect.Struct {
				w.walkStruct(embedded, out)
				continue
			}
		}
		if !field.IsExported() {
			continue
		}
		if name == "" {
			name = field.Name
		}
		if IsInternalKey(name) || droppedValue(fv) {
			continue
		}
		if omitEmpty && fv.IsZero() {
			continue
		}
		out[name] = w.walk(fv)
	}
}

// primitive keeps predeclared values as they are and unwraps named ones
// (e.g. a HandlerType string) to their underlying kind.
func primitive(v reflect.Value) any {
	if v.CanInterface() && v.Type().PkgPath() == "" {
		return v.Interface()
	}
	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Float32, reflect.Float64:
		return v.Float()
	default:
		return v.Uint()
	}
}

func jsonFieldName(field reflect.StructField) (name string, omitEmpty bool, skip bool) {
	tag, ok := field.Tag.Lookup("json")
	if !ok {
		return "", false, false
	}
	if tag == "-" {
		return "", false, true
	}
	parts := strings.Split(tag, ",")
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}
	return parts[0], omitEmpty, false
}

func droppedValue(v reflect.Value) bool {
	for v.IsValid() && v.Kind() == reflect.Interface {
		if v.IsNil() {
			return false
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return false
	}
	switch v.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return true
	default:
		return false
	}
}
