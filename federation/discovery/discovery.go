// Package discovery declares the server key discovery endpoints of the
// federation API.
package discovery

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/broady/fedapi"
	"github.com/broady/fedapi/identifiers"
	"github.com/broady/fedapi/internal/canonicaljson"
)

// VerifyKey is a current public signing key.
type VerifyKey struct {
	// Key is the unpadded base64 public key.
	Key string `json:"key"`
}

// OldVerifyKey is a public key the server no longer signs with.
type OldVerifyKey struct {
	Key string `json:"key"`
	// ExpiredTS is when the key stopped being used, in milliseconds since
	// the Unix epoch.
	ExpiredTS int64 `json:"expired_ts"`
}

// ServerSigningKey is the set of keys published by a homeserver.
//
// A key object decoded from JSON remembers the object as received. As long
// as its fields other than Signatures are unchanged, SignedBytes and
// MarshalJSON work from that object, so members this type does not model
// stay covered by the signatures.
type ServerSigningKey struct {
	ServerName    identifiers.ServerName                                  `json:"server_name"`
	VerifyKeys    map[identifiers.KeyID]VerifyKey                         `json:"verify_keys"`
	OldVerifyKeys map[identifiers.KeyID]OldVerifyKey                      `json:"old_verify_keys"`
	Signatures    map[identifiers.ServerName]map[identifiers.KeyID]string `json:"signatures,omitempty"`
	ValidUntilTS  int64                                                   `json:"valid_until_ts"`

	wire *wireKey
}

// wireKey is a key object as received, with the signed form of the typed
// fields at decode time.
type wireKey struct {
	raw  []byte
	view []byte
}

// plainKey has the fields of ServerSigningKey and none of its methods.
type plainKey ServerSigningKey

// UnmarshalJSON decodes a key object and keeps a copy of data.
func (k *ServerSigningKey) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		return nil
	}
	var p plainKey
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*k = ServerSigningKey(p)
	view, err := k.typedSignedBytes()
	if err != nil {
		return err
	}
	k.wire = &wireKey{raw: bytes.Clone(data), view: view}
	return nil
}

// MarshalJSON encodes the key object with its current signatures.
func (k ServerSigningKey) MarshalJSON() ([]byte, error) {
	raw := k.received()
	if raw == nil {
		return json.Marshal(plainKey(k))
	}
	obj, err := canonicaljson.Object(raw)
	if err != nil {
		return nil, err
	}
	if len(k.Signatures) == 0 {
		delete(obj, "signatures")
	} else {
		obj["signatures"] = k.Signatures
	}
	return json.Marshal(obj)
}

// SignedBytes returns the canonical JSON covered by the object's
// signatures: the object without its "signatures" and "unsigned" members.
func (k ServerSigningKey) SignedBytes() ([]byte, error) {
	if raw := k.received(); raw != nil {
		return canonicaljson.Without(raw, "signatures", "unsigned")
	}
	return k.typedSignedBytes()
}

// received returns the object as decoded, or nil if there is none or the
// typed fields have changed since.
func (k ServerSigningKey) received() []byte {
	if k.wire == nil {
		return nil
	}
	view, err := k.typedSignedBytes()
	if err != nil || !bytes.Equal(view, k.wire.view) {
		return nil
	}
	return k.wire.raw
}

func (k ServerSigningKey) typedSignedBytes() ([]byte, error) {
	p := plainKey(k)
	p.Signatures = nil
	return canonicaljson.Marshal(p)
}

// GetServerKeysRequest has no fields.
type GetServerKeysRequest struct{}

// GetServerKeysResponse is the key object itself, not wrapped.
type GetServerKeysResponse struct {
	ServerKey ServerSigningKey `fed:"payload"`
}

// GetServerKeys fetches the homeserver's published signing keys.
var GetServerKeys = fedapi.MustDefine[GetServerKeysRequest, GetServerKeysResponse](fedapi.Metadata{
	Name:           "get_server_keys",
	Description:    "Gets the homeserver's published signing keys.",
	Method:         http.MethodGet,
	Path:           "/_matrix/key/v2/server",
	Authentication: fedapi.AuthNone,
})

// GetRemoteServerKeysRequest asks a notary for another server's keys.
type GetRemoteServerKeysRequest struct {
	ServerName identifiers.ServerName `json:"serverName" fed:"path"`
	KeyID      identifiers.KeyID      `json:"keyId" fed:"path"`
	// MinimumValidUntilTS asks the notary for keys valid at least until this
	// time, in milliseconds since the Unix epoch.
	MinimumValidUntilTS int64 `json:"minimum_valid_until_ts" fed:"query,optional"`
}

type GetRemoteServerKeysResponse struct {
	ServerKeys []ServerSigningKey `json:"server_keys"`
}

// GetRemoteServerKeys queries a notary server for the keys of another
// server.
var GetRemoteServerKeys = fedapi.MustDefine[GetRemoteServerKeysRequest, GetRemoteServerKeysResponse](fedapi.Metadata{
	Name:           "get_remote_server_keys",
	Description:    "Query for another server's keys.",
	Method:         http.MethodGet,
	Path:           "/_matrix/key/v2/query/{serverName}/{keyId}",
	Authentication: fedapi.AuthNone,
})
