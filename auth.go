package fedapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/broady/fedapi/identifiers"
	"github.com/broady/fedapi/internal/canonicaljson"
)

const (
	authorizationHeader = "Authorization"
	accessTokenParam    = "access_token"
	bearerScheme        = "Bearer"
	xMatrixScheme       = "X-Matrix"
)

// Credentials are attached to outgoing requests according to the endpoint's
// AuthScheme. Fields irrelevant to the scheme are ignored.
type Credentials struct {
	// AccessToken is used by AuthAccessToken endpoints.
	AccessToken string

	// Origin, Destination and Signer are used by AuthServerSignature
	// endpoints.
	Origin      identifiers.ServerName
	Destination identifiers.ServerName
	Signer      Signer
}

// Caller holds the credentials extracted from an incoming request.
type Caller struct {
	// AccessToken is set for AuthAccessToken endpoints. Whether the token
	// grants access is for the endpoint handler to decide.
	AccessToken string
	// Signature is set for AuthServerSignature endpoints.
	Signature *Signature
}

// Signature is a parsed X-Matrix authorization.
type Signature struct {
	Origin      identifiers.ServerName
	Destination identifiers.ServerName
	KeyID       identifiers.KeyID
	// Value is the unpadded base64 signature.
	Value string
}

// Signer produces detached signatures over canonical request bytes.
type Signer interface {
	Sign(message []byte) (identifiers.KeyID, string, error)
}

// Verifier checks a detached signature over canonical request bytes.
// A non-nil error rejects the request. ctx is the incoming request's
// context, for verifiers that fetch keys.
type Verifier interface {
	Verify(ctx context.Context, sig Signature, message []byte) error
}

// signedRequest is the JSON object covered by an X-Matrix signature.
type signedRequest struct {
	Method      string `json:"method"`
	URI         string `json:"uri"`
	Origin      string `json:"origin"`
	Destination string `json:"destination,omitempty"`
	Content     any    `json:"content,omitempty"`
}

// canonicalRequest returns the canonical JSON bytes signed for a request.
// content must be JSON or empty.
func canonicalRequest(method, uri string, origin, destination identifiers.ServerName, content []byte) ([]byte, error) {
	req := signedRequest{
		Method:      method,
		URI:         uri,
		Origin:      origin.String(),
		Destination: destination.String(),
	}
	if len(content) > 0 {
		canon, err := canonicaljson.Canonicalize(content)
		if err != nil {
			return nil, err
		}
		req.Content = rawJSON(canon)
	}
	return canonicaljson.Marshal(req)
}

// rawJSON marshals as the bytes it holds.
type rawJSON []byte

func (r rawJSON) MarshalJSON() ([]byte, error) { return r, nil }

// applyCredentials adds the credential required by meta to r.
func applyCredentials(r *http.Request, meta *Metadata, creds Credentials, body []byte) error {
	switch meta.Authentication {
	case AuthNone:
		return nil

	case AuthAccessToken:
		if creds.AccessToken == "" {
			return &EncodeError{Field: accessTokenParam, Err: fmt.Errorf("endpoint %s requires an access token", meta.Name)}
		}
		if meta.TokenLocation == TokenInQuery {
			q := accessTokenParam + "=" + url.QueryEscape(creds.AccessToken)
			if r.URL.RawQuery == "" {
				r.URL.RawQuery = q
			} else {
				r.URL.RawQuery += "&" + q
			}
			return nil
		}
		r.Header.Set(authorizationHeader, bearerScheme+" "+creds.AccessToken)
		return nil

	case AuthServerSignature:
		if creds.Signer == nil || creds.Origin.IsZero() {
			return &EncodeError{Field: authorizationHeader, Err: fmt.Errorf("endpoint %s requires an origin and signer", meta.Name)}
		}
		msg, err := canonicalRequest(r.Method, r.URL.RequestURI(), creds.Origin, creds.Destination, body)
		if err != nil {
			return &EncodeError{Field: bodyFieldName, Err: err}
		}
		keyID, sig, err := creds.Signer.Sign(msg)
		if err != nil {
			return &EncodeError{Field: authorizationHeader, Err: err}
		}
		r.Header.Set(authorizationHeader, formatXMatrix(Signature{
			Origin:      creds.Origin,
			Destination: creds.Destination,
			KeyID:       keyID,
			Value:       sig,
		}))
		return nil
	}
	return fmt.Errorf("unknown authentication scheme %v", meta.Authentication)
}

// extractCredentials reads and checks the credential required by meta.
func extractCredentials(r *http.Request, meta *Metadata, body []byte, verifier Verifier) (Caller, error) {
	switch meta.Authentication {
	case AuthAccessToken:
		tok, err := extractAccessToken(r, meta.TokenLocation)
		if err != nil {
			return Caller{}, err
		}
		return Caller{AccessToken: tok}, nil

	case AuthServerSignature:
		header := r.Header.Get(authorizationHeader)
		if header == "" {
			return Caller{}, &UnauthorizedError{Missing: true, Reason: "missing X-Matrix authorization"}
		}
		sig, err := parseXMatrix(header)
		if err != nil {
			return Caller{}, &UnauthorizedError{Reason: "malformed X-Matrix authorization", Err: err}
		}
		if verifier != nil {
			msg, err := canonicalRequest(r.Method, r.URL.RequestURI(), sig.Origin, sig.Destination, body)
			if err != nil {
				return Caller{}, &UnauthorizedError{Reason: "request cannot be canonicalized", Err: err}
			}
			if err := verifier.Verify(r.Context(), sig, msg); err != nil {
				return Caller{}, &UnauthorizedError{Reason: "signature rejected", Err: err}
			}
		}
		return Caller{Signature: &sig}, nil
	}
	return Caller{}, nil
}

func extractAccessToken(r *http.Request, loc TokenLocation) (string, error) {
	if loc == TokenInQuery {
		tok := r.URL.Query().Get(accessTokenParam)
		if tok == "" {
			return "", &UnauthorizedError{Missing: true, Reason: "missing access token"}
		}
		return tok, nil
	}

	header := r.Header.Get(authorizationHeader)
	if header == "" {
		return "", &UnauthorizedError{Missing: true, Reason: "missing access token"}
	}
	scheme, tok, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) {
		return "", &UnauthorizedError{Reason: "authorization is not a bearer token"}
	}
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "", &UnauthorizedError{Missing: true, Reason: "empty access token"}
	}
	return tok, nil
}

func formatXMatrix(sig Signature) string {
	var b strings.Builder
	b.WriteString(xMatrixScheme)
	b.WriteString(` origin="`)
	b.WriteString(sig.Origin.String())
	b.WriteByte('"')
	if !sig.Destination.IsZero() {
		b.WriteString(`,destination="`)
		b.WriteString(sig.Destination.String())
		b.WriteByte('"')
	}
	b.WriteString(`,key="`)
	b.WriteString(sig.KeyID.String())
	b.WriteString(`",sig="`)
	b.WriteString(sig.Value)
	b.WriteByte('"')
	return b.String()
}

// parseXMatrix parses `X-Matrix origin="...",destination="...",key="...",sig="..."`.
func parseXMatrix(header string) (Signature, error) {
	scheme, params, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, xMatrixScheme) {
		return Signature{}, fmt.Errorf("scheme is not %s", xMatrixScheme)
	}

	var (
		sig Signature
		err error
	)
	for _, param := range strings.Split(params, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok {
			return Signature{}, fmt.Errorf("malformed parameter %q", param)
		}
		value = strings.Trim(value, `"`)
		switch strings.ToLower(name) {
		case "origin":
			sig.Origin, err = identifiers.ParseServerName(value)
		case "destination":
			sig.Destination, err = identifiers.ParseServerName(value)
		case "key":
			sig.KeyID, err = identifiers.ParseKeyID(value)
		case "sig":
			sig.Value = value
		}
		if err != nil {
			return Signature{}, fmt.Errorf("parameter %s: %w", name, err)
		}
	}
	switch {
	case sig.Origin.IsZero():
		return Signature{}, fmt.Errorf("missing origin")
	case sig.KeyID.IsZero():
		return Signature{}, fmt.Errorf("missing key")
	case sig.Value == "":
		return Signature{}, fmt.Errorf("missing sig")
	}
	return sig, nil
}
