package identifiers

import (
	"net/netip"
	"strconv"
	"strings"
)

// ServerNameKind is the Kind of homeserver names: a DNS name, IPv4 address
// or bracketed IPv6 literal, optionally followed by ":port".
type ServerNameKind struct{}

func (ServerNameKind) Name() string { return "server name" }

func (ServerNameKind) Validate(s string) error {
	if !validServerName(s) {
		return &ValidationError{Ident: "server name", Reason: ReasonInvalidServerName}
	}
	return nil
}

// ServerName is the name of a homeserver, e.g. "matrix.org:8448".
type ServerName = ID[ServerNameKind]

const maxServerNameLength = 255

// ParseServerName validates s as a server name.
func ParseServerName(s string) (ServerName, error) {
	return Parse[ServerNameKind](s)
}

// ServerNameHost returns the host part of name, without the port.
func ServerNameHost(name ServerName) string {
	host, _ := splitServerName(name.s)
	return host
}

// ServerNamePort returns the explicit port of name, or 0 if none was given.
func ServerNamePort(name ServerName) int {
	_, port := splitServerName(name.s)
	if port == "" {
		return 0
	}
	n, _ := strconv.Atoi(port)
	return n
}

func splitServerName(s string) (host, port string) {
	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return s, ""
		}
		host, rest := s[:end+1], s[end+1:]
		return host, strings.TrimPrefix(rest, ":")
	}
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

func validServerName(s string) bool {
	if len(s) > maxServerNameLength {
		return false
	}
	host, port := splitServerName(s)
	if host == "" {
		return false
	}
	if port != "" || strings.HasSuffix(s, ":") {
		if port == "" || len(port) > 5 {
			return false
		}
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return false
		}
	}
	if strings.HasPrefix(host, "[") {
		if !strings.HasSuffix(host, "]") {
			return false
		}
		addr, err := netip.ParseAddr(host[1 : len(host)-1])
		return err == nil && addr.Is6()
	}
	for i := 0; i < len(host); i++ {
		c := host[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '.':
		default:
			return false
		}
	}
	return true
}
