package identifiers

import (
	"errors"
	"fmt"
)

// Reason classifies a ValidationError.
type Reason int

const (
	ReasonEmpty Reason = iota + 1
	ReasonInvalidCharacter
	ReasonMissingSigil
	ReasonMissingDelimiter
	ReasonInvalidServerName
)

func (r Reason) String() string {
	switch r {
	case ReasonEmpty:
		return "empty"
	case ReasonInvalidCharacter:
		return "invalid character"
	case ReasonMissingSigil:
		return "missing leading sigil"
	case ReasonMissingDelimiter:
		return "missing delimiter"
	case ReasonInvalidServerName:
		return "invalid server name"
	default:
		return "invalid"
	}
}

var (
	// ErrEmpty matches validation errors for empty input.
	ErrEmpty = errors.New("identifier is empty")
	// ErrInvalidCharacter matches validation errors for disallowed characters.
	ErrInvalidCharacter = errors.New("identifier contains an invalid character")
)

// ValidationError is returned when text is not a valid identifier.
type ValidationError struct {
	// Ident is the kind of identifier being parsed, e.g. "device ID".
	Ident  string
	Reason Reason
	// Position is the byte offset of the offending character. It is only
	// meaningful for ReasonInvalidCharacter.
	Position int
}

func (e *ValidationError) Error() string {
	if e.Reason == ReasonInvalidCharacter {
		return fmt.Sprintf("invalid %s: invalid character at position %d", e.Ident, e.Position)
	}
	return fmt.Sprintf("invalid %s: %s", e.Ident, e.Reason)
}

// Is lets errors.Is match ErrEmpty and ErrInvalidCharacter.
func (e *ValidationError) Is(target error) bool {
	switch target {
	case ErrEmpty:
		return e.Reason == ReasonEmpty
	case ErrInvalidCharacter:
		return e.Reason == ReasonInvalidCharacter
	}
	return false
}
