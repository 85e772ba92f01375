package fedapi

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"

	"github.com/broady/fedapi/codec"
)

// bodyView carries the body fields of a shape through the codec as a single
// object. Like textView it copies the fields into a synthesized struct so
// that fields placed elsewhere never reach the encoder.
type bodyView struct {
	typ      reflect.Type
	fields   []FieldInfo
	required []string
}

func newBodyView(fields []FieldInfo) *bodyView {
	if len(fields) == 0 {
		return nil
	}
	v := &bodyView{fields: fields}
	structFields := make([]reflect.StructField, len(fields))
	for i, f := range fields {
		structFields[i] = reflect.StructField{
			Name: f.GoName,
			Type: f.typ,
			Tag:  reflect.StructTag(fmt.Sprintf(`json:%q`, f.Name+f.jsonOptions)),
		}
		if f.isRequiredBody() {
			v.required = append(v.required, f.Name)
		}
	}
	v.typ = reflect.StructOf(structFields)
	return v
}

// isRequiredBody reports whether a body field must be present on the wire.
func (f FieldInfo) isRequiredBody() bool {
	if f.Optional || strings.Contains(f.jsonOptions, "omitempty") {
		return false
	}
	switch f.typ.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return false
	}
	return true
}

func (v *bodyView) encode(c codec.Codec, src reflect.Value) ([]byte, error) {
	view := reflect.New(v.typ).Elem()
	for i, f := range v.fields {
		view.Field(i).Set(src.Field(f.index))
	}
	data, err := c.Marshal(view.Interface())
	if err != nil {
		return nil, &EncodeError{Field: bodyFieldName, Err: err}
	}
	return data, nil
}

// emptyObject is the codec encoding of an object with no fields.
func emptyObject(c codec.Codec) ([]byte, error) {
	data, err := c.Marshal(struct{}{})
	if err != nil {
		return nil, &EncodeError{Field: bodyFieldName, Err: err}
	}
	return data, nil
}

func (v *bodyView) decode(c codec.Codec, data []byte, dst reflect.Value) error {
	if len(bytes.TrimSpace(data)) == 0 {
		if len(v.required) > 0 {
			return &MissingFieldError{Field: v.required[0]}
		}
		return nil
	}
	if len(v.required) > 0 {
		var present map[string]any
		if err := c.Unmarshal(data, &present); err != nil {
			return &FieldParseError{Field: bodyFieldName, Err: err}
		}
		// A null value leaves the field at its zero value, so it counts as
		// absent.
		for _, name := range v.required {
			if val, ok := present[name]; !ok || val == nil {
				return &MissingFieldError{Field: name}
			}
		}
	}

	view := reflect.New(v.typ)
	if err := c.Unmarshal(data, view.Interface()); err != nil {
		return &FieldParseError{Field: bodyFieldName, Err: err}
	}
	for i, f := range v.fields {
		dst.Field(f.index).Set(view.Elem().Field(i))
	}
	return nil
}
