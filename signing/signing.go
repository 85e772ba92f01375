// Package signing implements Ed25519 request signing and verification for
// X-Matrix authorization, and the self-signatures of published server keys.
package signing

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/broady/fedapi"
	"github.com/broady/fedapi/federation/discovery"
	"github.com/broady/fedapi/identifiers"
)

// Algorithm is the key algorithm name used in key IDs.
const Algorithm = "ed25519"

var (
	// ErrUnknownKey is returned when no public key is known for a signature.
	ErrUnknownKey = errors.New("signing: unknown key")
	// ErrBadSignature is returned when a signature does not verify.
	ErrBadSignature = errors.New("signing: signature mismatch")
)

// Key is a server's private signing key.
type Key struct {
	id      identifiers.KeyID
	private ed25519.PrivateKey
}

// NewKey creates a Key from a 32 byte seed.
func NewKey(id identifiers.KeyID, seed []byte) (*Key, error) {
	if alg := identifiers.KeyAlgorithm(id); alg != Algorithm {
		return nil, fmt.Errorf("signing: unsupported algorithm %q", alg)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &Key{id: id, private: ed25519.NewKeyFromSeed(seed)}, nil
}

// GenerateKey creates a random Key with the key ID "ed25519:<version>".
func GenerateKey(version string) (*Key, error) {
	id, err := identifiers.ParseKeyID(Algorithm + ":" + version)
	if err != nil {
		return nil, err
	}
	_, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Key{id: id, private: private}, nil
}

// ID returns the key ID.
func (k *Key) ID() identifiers.KeyID { return k.id }

// Public returns the public half of the key.
func (k *Key) Public() ed25519.PublicKey {
	return k.private.Public().(ed25519.PublicKey)
}

// Seed returns the private key seed, suitable for NewKey.
func (k *Key) Seed() []byte { return k.private.Seed() }

// Sign implements fedapi.Signer.
func (k *Key) Sign(message []byte) (identifiers.KeyID, string, error) {
	return k.id, EncodeBase64(ed25519.Sign(k.private, message)), nil
}

// ServerKey returns the signed key object published for server.
func (k *Key) ServerKey(server identifiers.ServerName, validUntil time.Time) (discovery.ServerSigningKey, error) {
	sk := discovery.ServerSigningKey{
		ServerName: server,
		VerifyKeys: map[identifiers.KeyID]discovery.VerifyKey{
			k.id: {Key: EncodeBase64(k.Public())},
		},
		OldVerifyKeys: map[identifiers.KeyID]discovery.OldVerifyKey{},
		ValidUntilTS:  validUntil.UnixMilli(),
	}
	msg, err := sk.SignedBytes()
	if err != nil {
		return discovery.ServerSigningKey{}, err
	}
	_, sig, err := k.Sign(msg)
	if err != nil {
		return discovery.ServerSigningKey{}, err
	}
	sk.Signatures = map[identifiers.ServerName]map[identifiers.KeyID]string{
		server: {k.id: sig},
	}
	return sk, nil
}

// Notarize returns a copy of a key object of another server with this key's
// signature added on behalf of notary.
func (k *Key) Notarize(notary identifiers.ServerName, sk discovery.ServerSigningKey) (discovery.ServerSigningKey, error) {
	msg, err := sk.SignedBytes()
	if err != nil {
		return discovery.ServerSigningKey{}, err
	}
	_, sig, err := k.Sign(msg)
	if err != nil {
		return discovery.ServerSigningKey{}, err
	}
	sigs := make(map[identifiers.ServerName]map[identifiers.KeyID]string, len(sk.Signatures)+1)
	for server, byKey := range sk.Signatures {
		sigs[server] = maps.Clone(byKey)
	}
	if sigs[notary] == nil {
		sigs[notary] = make(map[identifiers.KeyID]string)
	}
	sigs[notary][k.id] = sig
	sk.Signatures = sigs
	return sk, nil
}

// EncodeBase64 encodes b as unpadded standard base64.
func EncodeBase64(b []byte) string {
	return base64.RawStdEncoding.EncodeToString(b)
}

// DecodeBase64 accepts padded or unpadded standard base64.
func DecodeBase64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// KeyRing holds the public keys of remote servers and verifies their
// signatures. It is safe for concurrent use.
type KeyRing struct {
	mu   sync.RWMutex
	keys map[identifiers.ServerName]map[identifiers.KeyID]ed25519.PublicKey
}

// NewKeyRing returns an empty KeyRing.
func NewKeyRing() *KeyRing {
	return &KeyRing{keys: make(map[identifiers.ServerName]map[identifiers.KeyID]ed25519.PublicKey)}
}

// Add trusts pub as key id of server.
func (r *KeyRing) Add(server identifiers.ServerName, id identifiers.KeyID, pub ed25519.PublicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.keys[server]
	if !ok {
		m = make(map[identifiers.KeyID]ed25519.PublicKey)
		r.keys[server] = m
	}
	m[id] = pub
}

// AddServerKey checks the self-signature of a published key object and
// trusts its current verify keys.
func (r *KeyRing) AddServerKey(sk discovery.ServerSigningKey) error {
	msg, err := sk.SignedBytes()
	if err != nil {
		return err
	}
	pubs := make(map[identifiers.KeyID]ed25519.PublicKey, len(sk.VerifyKeys))
	for id, vk := range sk.VerifyKeys {
		if identifiers.KeyAlgorithm(id) != Algorithm {
			continue
		}
		b, err := DecodeBase64(vk.Key)
		if err != nil || len(b) != ed25519.PublicKeySize {
			return fmt.Errorf("signing: malformed verify key %s", id)
		}
		pubs[id] = ed25519.PublicKey(b)
	}

	verified := false
	for id, sig := range sk.Signatures[sk.ServerName] {
		pub, ok := pubs[id]
		if !ok {
			continue
		}
		if err := verify(pub, msg, sig); err != nil {
			return fmt.Errorf("key object of %s: %w", sk.ServerName, err)
		}
		verified = true
	}
	if !verified {
		return fmt.Errorf("key object of %s: %w", sk.ServerName, ErrUnknownKey)
	}

	for id, pub := range pubs {
		r.Add(sk.ServerName, id, pub)
	}
	return nil
}

// Verify implements fedapi.Verifier.
// It only consults keys already in the ring.
func (r *KeyRing) Verify(_ context.Context, sig fedapi.Signature, message []byte) error {
	r.mu.RLock()
	pub, ok := r.keys[sig.Origin][sig.KeyID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w %s of %s", ErrUnknownKey, sig.KeyID, sig.Origin)
	}
	return verify(pub, message, sig.Value)
}

func verify(pub ed25519.PublicKey, message []byte, sig string) error {
	raw, err := DecodeBase64(sig)
	if err != nil {
		return fmt.Errorf("signing: malformed signature: %w", err)
	}
	if len(raw) != ed25519.SignatureSize || !ed25519.Verify(pub, message, raw) {
		return ErrBadSignature
	}
	return nil
}
