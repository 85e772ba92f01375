package identifiers

import "strings"

// KeyKind is the Kind of signing key identifiers, "algorithm:version".
type KeyKind struct{}

func (KeyKind) Name() string { return "key ID" }

func (KeyKind) Validate(s string) error {
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return &ValidationError{Ident: "key ID", Reason: ReasonMissingDelimiter}
	}
	if i == 0 || i == len(s)-1 {
		return &ValidationError{Ident: "key ID", Reason: ReasonEmpty}
	}
	for j := 0; j < len(s); j++ {
		if j == i {
			continue
		}
		c := s[j]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		default:
			return &ValidationError{Ident: "key ID", Reason: ReasonInvalidCharacter, Position: j}
		}
	}
	return nil
}

// KeyID names a server signing key, e.g. "ed25519:a_AbCd".
type KeyID = ID[KeyKind]

// ParseKeyID validates s as a key ID.
func ParseKeyID(s string) (KeyID, error) {
	return Parse[KeyKind](s)
}

// KeyAlgorithm returns the algorithm part of id, e.g. "ed25519".
func KeyAlgorithm(id KeyID) string {
	alg, _, _ := strings.Cut(id.s, ":")
	return alg
}

// KeyVersion returns the version part of id.
func KeyVersion(id KeyID) string {
	_, version, _ := strings.Cut(id.s, ":")
	return version
}
