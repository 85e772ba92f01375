package fedapi

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/broady/fedapi/identifiers"
)

type echoRequest struct {
	Room  string   `json:"roomId" fed:"path"`
	Limit int      `json:"limit" fed:"query"`
	Dir   string   `json:"dir" fed:"query,optional"`
	Tags  []string `json:"tag" fed:"query"`
	Trace string   `fed:"header=X-Trace-Id"`
	Text  string   `json:"text"`
	Count *int     `json:"count,omitempty"`
}

type echoResponse struct {
	Trace string `fed:"header=X-Trace-Id,optional"`
	Text  string `json:"text"`
	Limit int    `json:"limit"`
}

var echoEndpoint = MustDefine[echoRequest, echoResponse](Metadata{
	Name:   "echo",
	Method: http.MethodPut,
	Path:   "/_test/rooms/{roomId}/echo",
})

type emptyRequest struct{}

type emptyResponse struct{}

type whoamiRequest struct{}

type whoamiResponse struct {
	Token string `json:"token"`
}

var whoamiEndpoint = MustDefine[whoamiRequest, whoamiResponse](Metadata{
	Name:           "whoami",
	Method:         http.MethodGet,
	Path:           "/_test/whoami",
	Authentication: AuthAccessToken,
})

type testSigner struct {
	id   identifiers.KeyID
	priv ed25519.PrivateKey
}

func newTestSigner(seed byte) testSigner {
	s := make([]byte, ed25519.SeedSize)
	for i := range s {
		s[i] = seed
	}
	return testSigner{
		id:   identifiers.MustParse[identifiers.KeyKind]("ed25519:test"),
		priv: ed25519.NewKeyFromSeed(s),
	}
}

func (s testSigner) Sign(message []byte) (identifiers.KeyID, string, error) {
	return s.id, base64.RawStdEncoding.EncodeToString(ed25519.Sign(s.priv, message)), nil
}

type testVerifier struct {
	pub ed25519.PublicKey
}

func (s testSigner) verifier() testVerifier {
	return testVerifier{pub: s.priv.Public().(ed25519.PublicKey)}
}

func (v testVerifier) Verify(_ context.Context, sig Signature, message []byte) error {
	raw, err := base64.RawStdEncoding.DecodeString(sig.Value)
	if err != nil {
		return err
	}
	if !ed25519.Verify(v.pub, message, raw) {
		return errors.New("bad signature")
	}
	return nil
}

func serverName(s string) identifiers.ServerName {
	return identifiers.MustParse[identifiers.ServerNameKind](s)
}

func intPtr(n int) *int { return &n }
