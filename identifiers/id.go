// Package identifiers implements the opaque identifiers used as field values
// in federation requests and responses.
//
// Every identifier kind shares one generic representation, [ID], holding
// text that was validated when the value was constructed. An ID can never be
// observed in an invalid state: the zero value is only produced by the
// zero-value declaration and reports IsZero.
//
// Two construction forms are available:
//
//	id, err := identifiers.ParseDeviceID("ABCDEFGH")               // shares the string
//	id, err := identifiers.FromBytes[identifiers.DeviceKind](buf, identifiers.Borrowed) // view over buf
//
// A borrowed ID aliases the caller's buffer; call Owned before the buffer is
// reused. Equality and ordering depend only on the text, so a borrowed and an
// owned ID with the same content are ==.
package identifiers

import (
	"strings"
	"unsafe"
)

// Kind describes one family of identifiers: its display name and the
// predicate every value of that kind satisfies.
type Kind interface {
	// Name is a human-readable name used in errors, e.g. "device ID".
	Name() string
	// Validate reports whether s is a well-formed identifier of this kind.
	Validate(s string) error
}

// Ownership selects whether FromBytes copies its input.
type Ownership int

const (
	// Owned copies the input into independent storage.
	Owned Ownership = iota
	// Borrowed aliases the input without copying. The caller must not modify
	// the buffer while the ID is in use.
	Borrowed
)

// ID is a validated identifier of kind K.
type ID[K Kind] struct {
	s string
}

// Parse validates s as an identifier of kind K.
func Parse[K Kind](s string) (ID[K], error) {
	var k K
	if err := validateBase(k.Name(), s); err != nil {
		return ID[K]{}, err
	}
	if err := k.Validate(s); err != nil {
		return ID[K]{}, err
	}
	return ID[K]{s: s}, nil
}

// FromBytes validates b as an identifier of kind K. With Borrowed the result
// is a zero-copy view of b.
func FromBytes[K Kind](b []byte, o Ownership) (ID[K], error) {
	if len(b) == 0 {
		var k K
		return ID[K]{}, &ValidationError{Ident: k.Name(), Reason: ReasonEmpty}
	}
	var s string
	if o == Borrowed {
		s = unsafe.String(unsafe.SliceData(b), len(b))
	} else {
		s = string(b)
	}
	return Parse[K](s)
}

// MustParse is like Parse but panics on invalid input. It is intended for
// identifiers written as literals in source code.
func MustParse[K Kind](s string) ID[K] {
	id, err := Parse[K](s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the identifier text without copying.
func (id ID[K]) String() string { return id.s }

// AsText is an alias of String.
func (id ID[K]) AsText() string { return id.s }

// Len returns the length of the identifier in bytes.
func (id ID[K]) Len() int { return len(id.s) }

// IsZero reports whether id is the zero value.
func (id ID[K]) IsZero() bool { return id.s == "" }

// Owned returns an ID with storage independent of any borrowed buffer.
func (id ID[K]) Owned() ID[K] {
	return ID[K]{s: strings.Clone(id.s)}
}

// Equal reports whether id and other have the same text.
func (id ID[K]) Equal(other ID[K]) bool { return id.s == other.s }

// Compare orders identifiers lexicographically by their bytes.
func (id ID[K]) Compare(other ID[K]) int { return strings.Compare(id.s, other.s) }

// MarshalText implements encoding.TextMarshaler.
func (id ID[K]) MarshalText() ([]byte, error) {
	return []byte(id.s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. The text is copied.
func (id *ID[K]) UnmarshalText(text []byte) error {
	parsed, err := FromBytes[K](text, Owned)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// validateBase applies the predicate shared by all kinds: non-empty and
// printable ASCII without spaces.
func validateBase(name, s string) error {
	if s == "" {
		return &ValidationError{Ident: name, Reason: ReasonEmpty}
	}
	for i := 0; i < len(s); i++ {
		if c := s[i]; c < 0x21 || c > 0x7e {
			return &ValidationError{Ident: name, Reason: ReasonInvalidCharacter, Position: i}
		}
	}
	return nil
}
