package identifiers

import "strings"

// UserKind is the Kind of Matrix user IDs, "@localpart:server_name".
type UserKind struct{}

func (UserKind) Name() string { return "user ID" }

func (UserKind) Validate(s string) error {
	if !strings.HasPrefix(s, "@") {
		return &ValidationError{Ident: "user ID", Reason: ReasonMissingSigil}
	}
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return &ValidationError{Ident: "user ID", Reason: ReasonMissingDelimiter}
	}
	if i == 1 {
		return &ValidationError{Ident: "user ID", Reason: ReasonEmpty}
	}
	if !validServerName(s[i+1:]) {
		return &ValidationError{Ident: "user ID", Reason: ReasonInvalidServerName}
	}
	return nil
}

// UserID identifies a user, e.g. "@alice:example.org".
type UserID = ID[UserKind]

// ParseUserID validates s as a user ID.
func ParseUserID(s string) (UserID, error) {
	return Parse[UserKind](s)
}

// UserLocalpart returns the part of id between the sigil and the first colon.
func UserLocalpart(id UserID) string {
	if id.IsZero() {
		return ""
	}
	return id.s[1:strings.IndexByte(id.s, ':')]
}

// UserServerName returns the server that id belongs to.
func UserServerName(id UserID) ServerName {
	if id.IsZero() {
		return ServerName{}
	}
	return ServerName{s: id.s[strings.IndexByte(id.s, ':')+1:]}
}
