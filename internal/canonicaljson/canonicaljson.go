// Package canonicaljson encodes values as Matrix canonical JSON: object keys
// sorted, no insignificant whitespace, and no HTML escaping.
package canonicaljson

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Marshal encodes v as canonical JSON. v is first encoded with
// encoding/json, so struct tags are honoured.
func Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Canonicalize(data)
}

// Canonicalize re-encodes arbitrary JSON in canonical form. Numbers are
// kept as written.
func Canonicalize(data []byte) ([]byte, error) {
	var v any
	if err := decode(data, &v); err != nil {
		return nil, err
	}
	return encode(v)
}

// Object decodes a JSON object. Numbers are kept as json.Number.
func Object(data []byte) (map[string]any, error) {
	var obj map[string]any
	if err := decode(data, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("canonicaljson: not an object")
	}
	return obj, nil
}

// Without re-encodes a JSON object in canonical form with the named members
// removed.
func Without(data []byte, names ...string) ([]byte, error) {
	obj, err := Object(data)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		delete(obj, name)
	}
	return encode(obj)
}

func decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("canonicaljson: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("canonicaljson: trailing data after value")
	}
	return nil
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonicaljson: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
