package fedapi

import (
	"fmt"
	"net/http"
	"strings"
)

// AuthScheme is the authentication requirement of an endpoint.
type AuthScheme int

const (
	// AuthNone performs no credential processing.
	AuthNone AuthScheme = iota
	// AuthAccessToken carries a bearer access token.
	AuthAccessToken
	// AuthServerSignature carries an X-Matrix request signature.
	AuthServerSignature
)

func (a AuthScheme) String() string {
	switch a {
	case AuthNone:
		return "None"
	case AuthAccessToken:
		return "AccessToken"
	case AuthServerSignature:
		return "ServerSignature"
	default:
		return fmt.Sprintf("AuthScheme(%d)", int(a))
	}
}

// TokenLocation selects where an AuthAccessToken endpoint carries its token.
// It is fixed per endpoint.
type TokenLocation int

const (
	// TokenInHeader sends "Authorization: Bearer <token>".
	TokenInHeader TokenLocation = iota
	// TokenInQuery sends the "access_token" query parameter.
	TokenInQuery
)

// Metadata is the static description of one endpoint.
type Metadata struct {
	// Name is a stable machine name, e.g. "get_server_keys".
	Name string
	// Description is a human-readable summary.
	Description string
	// Method is the HTTP method.
	Method string
	// Path is the path template. Placeholders are written as {name}.
	Path string
	// RateLimited marks endpoints subject to the router's RateLimiter.
	RateLimited bool
	// Authentication is the credential scheme.
	Authentication AuthScheme
	// TokenLocation applies to AuthAccessToken only.
	TokenLocation TokenLocation
}

// String returns "METHOD /path".
func (m Metadata) String() string {
	return m.Method + " " + m.Path
}

var allowedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodPatch:   true,
	http.MethodOptions: true,
}

// bodylessMethod reports whether requests with method m never carry a body.
func bodylessMethod(m string) bool {
	return m == http.MethodGet || m == http.MethodHead
}

func (m *Metadata) validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("missing name")
	}
	if !allowedMethods[m.Method] {
		return fmt.Errorf("unsupported method %q", m.Method)
	}
	switch m.Authentication {
	case AuthNone, AuthAccessToken, AuthServerSignature:
	default:
		return fmt.Errorf("unknown authentication scheme %v", m.Authentication)
	}
	if m.TokenLocation != TokenInHeader && m.TokenLocation != TokenInQuery {
		return fmt.Errorf("unknown token location %d", m.TokenLocation)
	}
	return nil
}
