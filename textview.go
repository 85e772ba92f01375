package fedapi

import (
	"encoding"
	"errors"
	"fmt"
	"reflect"
	"strconv"

	"github.com/gorilla/schema"
)

// textView carries the path, query or header fields of a shape through
// gorilla/schema. The fields are copied into a synthesized struct so the
// encoder and decoder never see fields placed elsewhere. Its schema keys are
// positional ("f0", "f1", ...) because schema reads dots in a key as nested
// struct paths, and wire names may contain dots.
//
// The encoder and decoder are configured when the view is built and only
// read afterwards.
type textView struct {
	typ    reflect.Type
	fields []FieldInfo
	enc    *schema.Encoder
	dec    *schema.Decoder
}

func newTextView(fields []FieldInfo) (*textView, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	v := &textView{
		fields: fields,
		enc:    schema.NewEncoder(),
		dec:    schema.NewDecoder(),
	}
	v.dec.IgnoreUnknownKeys(true)

	structFields := make([]reflect.StructField, len(fields))
	registered := make(map[reflect.Type]bool)
	for i, f := range fields {
		structFields[i] = reflect.StructField{
			Name: f.GoName,
			Type: f.typ,
			Tag:  reflect.StructTag(fmt.Sprintf(`schema:%q`, viewKey(i))),
		}
		t := baseTextType(f.typ)
		if t.Implements(textMarshalerType) && !registered[t] {
			registered[t] = true
			v.registerTextEncoder(t)
		}
	}
	v.typ = reflect.StructOf(structFields)
	return v, nil
}

// viewKey is the schema key of the i-th view field.
func viewKey(i int) string {
	return "f" + strconv.Itoa(i)
}

// baseTextType strips one pointer and one slice level.
func baseTextType(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Slice && !t.Implements(textMarshalerType) {
		t = t.Elem()
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// registerTextEncoder teaches the schema encoder to use MarshalText for t
// and *t. Decoding already honours encoding.TextUnmarshaler.
func (v *textView) registerTextEncoder(t reflect.Type) {
	marshal := func(rv reflect.Value) string {
		b, _ := rv.Interface().(encoding.TextMarshaler).MarshalText()
		return string(b)
	}
	v.enc.RegisterEncoder(reflect.Zero(t).Interface(), marshal)
	v.enc.RegisterEncoder(reflect.Zero(reflect.PointerTo(t)).Interface(), func(rv reflect.Value) string {
		if rv.IsNil() {
			return ""
		}
		return marshal(rv.Elem())
	})
}

// encode renders the view fields of src into a map keyed by wire name.
// Optional fields holding their zero value are omitted.
func (v *textView) encode(src reflect.Value) (map[string][]string, error) {
	if v == nil {
		return map[string][]string{}, nil
	}
	encoded := make(map[string][]string, len(v.fields))
	view := reflect.New(v.typ).Elem()
	for i, f := range v.fields {
		fv := src.Field(f.index)
		if err := checkMarshalText(fv); err != nil {
			return nil, &EncodeError{Field: f.Name, Err: err}
		}
		view.Field(i).Set(fv)
	}
	if err := v.enc.Encode(view.Addr().Interface(), encoded); err != nil {
		return nil, &EncodeError{Err: err}
	}
	out := make(map[string][]string, len(v.fields))
	for i, f := range v.fields {
		vals, ok := encoded[viewKey(i)]
		if !ok || f.Optional && src.Field(f.index).IsZero() {
			continue
		}
		out[f.Name] = vals
	}
	return out, nil
}

// checkMarshalText surfaces MarshalText failures, which the schema encoder
// would otherwise drop.
func checkMarshalText(fv reflect.Value) error {
	if fv.Kind() == reflect.Pointer {
		if fv.IsNil() {
			return nil
		}
		fv = fv.Elem()
	}
	m, ok := fv.Interface().(encoding.TextMarshaler)
	if !ok {
		return nil
	}
	_, err := m.MarshalText()
	return err
}

// decode fills the view fields of dst from values. lookup returns the
// values for a wire name.
func (v *textView) decode(dst reflect.Value, lookup func(name string) []string) error {
	if v == nil {
		return nil
	}
	src := make(map[string][]string, len(v.fields))
	for i, f := range v.fields {
		vals := lookup(f.Name)
		if len(vals) == 0 {
			if !f.Optional {
				return &MissingFieldError{Field: f.Name}
			}
			continue
		}
		if !f.Optional && allEmpty(vals) && baseTextType(f.typ).Kind() != reflect.String {
			return &FieldParseError{Field: f.Name, Err: errEmptyValue}
		}
		src[viewKey(i)] = vals
	}

	view := reflect.New(v.typ)
	if err := v.dec.Decode(view.Interface(), src); err != nil {
		return v.fieldError(err)
	}
	for i, f := range v.fields {
		dst.Field(f.index).Set(view.Elem().Field(i))
	}
	return nil
}

// fieldError picks the first failing field in declaration order.
func (v *textView) fieldError(err error) error {
	var multi schema.MultiError
	if !errors.As(err, &multi) {
		return &FieldParseError{Field: v.fields[0].Name, Err: err}
	}
	for i, f := range v.fields {
		ferr, ok := multi[viewKey(i)]
		if !ok {
			continue
		}
		var conv schema.ConversionError
		if errors.As(ferr, &conv) && conv.Err != nil {
			ferr = conv.Err
		}
		return &FieldParseError{Field: f.Name, Err: ferr}
	}
	return &FieldParseError{Field: v.fields[0].Name, Err: err}
}

// allEmpty reports whether every value is the empty string. Schema skips
// empty values, which would leave a required field at its zero value.
func allEmpty(vals []string) bool {
	for _, v := range vals {
		if v != "" {
			return false
		}
	}
	return true
}
