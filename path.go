package fedapi

import (
	"fmt"
	"net/url"
	"strings"
)

// pathSegment is either a literal or a named placeholder.
type pathSegment struct {
	literal string
	param   string
}

// pathTemplate is a parsed endpoint path such as
// "/_matrix/key/v2/query/{serverName}/{keyId}".
type pathTemplate struct {
	raw      string
	segments []pathSegment
}

func parsePathTemplate(p string) (pathTemplate, error) {
	if !strings.HasPrefix(p, "/") {
		return pathTemplate{}, fmt.Errorf("path %q must start with /", p)
	}
	t := pathTemplate{raw: p}
	if p == "/" {
		return t, nil
	}
	seen := make(map[string]bool)
	for _, seg := range strings.Split(p[1:], "/") {
		switch {
		case seg == "":
			return pathTemplate{}, fmt.Errorf("path %q contains an empty segment", p)
		case strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}"):
			name := seg[1 : len(seg)-1]
			if !validParamName(name) {
				return pathTemplate{}, fmt.Errorf("path %q has invalid placeholder %q", p, seg)
			}
			if seen[name] {
				return pathTemplate{}, fmt.Errorf("path %q repeats placeholder %q", p, name)
			}
			seen[name] = true
			t.segments = append(t.segments, pathSegment{param: name})
		case strings.ContainsAny(seg, "{}"):
			return pathTemplate{}, fmt.Errorf("path %q has malformed segment %q", p, seg)
		default:
			if url.PathEscape(seg) != seg {
				return pathTemplate{}, fmt.Errorf("path %q has literal %q that needs escaping", p, seg)
			}
			t.segments = append(t.segments, pathSegment{literal: seg})
		}
	}
	return t, nil
}

func validParamName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_') {
			return false
		}
	}
	return true
}

// params returns the placeholder names in template order.
func (t pathTemplate) params() []string {
	var names []string
	for _, s := range t.segments {
		if s.param != "" {
			names = append(names, s.param)
		}
	}
	return names
}

// literals counts literal segments. Routes with more literals are matched first.
func (t pathTemplate) literals() int {
	n := 0
	for _, s := range t.segments {
		if s.param == "" {
			n++
		}
	}
	return n
}

// expand substitutes values into the template and returns the escaped path.
func (t pathTemplate) expand(values map[string]string) (string, error) {
	if len(t.segments) == 0 {
		return "/", nil
	}
	var b strings.Builder
	for _, s := range t.segments {
		b.WriteByte('/')
		if s.param == "" {
			b.WriteString(s.literal)
			continue
		}
		v := values[s.param]
		if v == "" {
			return "", &EncodeError{Field: s.param, Err: errEmptyPathSegment}
		}
		b.WriteString(url.PathEscape(v))
	}
	return b.String(), nil
}

// match destructures an escaped request path. Placeholder values are
// returned percent-decoded.
func (t pathTemplate) match(escaped string) (map[string]string, bool) {
	if !strings.HasPrefix(escaped, "/") {
		return nil, false
	}
	if len(t.segments) == 0 {
		return nil, escaped == "/"
	}
	parts := strings.Split(escaped[1:], "/")
	if len(parts) != len(t.segments) {
		return nil, false
	}
	var values map[string]string
	for i, s := range t.segments {
		part, err := url.PathUnescape(parts[i])
		if err != nil {
			return nil, false
		}
		if s.param == "" {
			if part != s.literal {
				return nil, false
			}
			continue
		}
		if part == "" {
			return nil, false
		}
		if values == nil {
			values = make(map[string]string)
		}
		values[s.param] = part
	}
	return values, true
}

// routeKey identifies the routing shape of the template. Templates that
// differ only in placeholder names share a key.
func (t pathTemplate) routeKey() string {
	if len(t.segments) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, s := range t.segments {
		b.WriteByte('/')
		if s.param == "" {
			b.WriteString(s.literal)
		} else {
			b.WriteString("{}")
		}
	}
	return b.String()
}
