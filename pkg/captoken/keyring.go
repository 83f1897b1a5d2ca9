package captoken

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
)

// Algorithm names accepted in the token header.
const (
	AlgEdDSA = "EdDSA"
	AlgHS256 = "HS256"
)

// Keyring errors.
var (
	ErrUnknownKeyID    = errors.New("captoken: unknown key id")
	ErrUnsupportedAlg  = errors.New("captoken: unsupported algorithm")
	ErrMissingKeyParam = errors.New("captoken: key material missing for algorithm")
)

// Key is one verification (and optionally signing) key.
type Key struct {
	// ID is the key id matched against the token header's kid.
	ID string

	// Algorithm is AlgEdDSA or AlgHS256.
	Algorithm string

	// Public is the Ed25519 public key (EdDSA only).
	Public ed25519.PublicKey

	// Private is the Ed25519 private key; optional, required only for
	// signing (EdDSA only).
	Private ed25519.PrivateKey

	// Secret is the shared HMAC secret (HS256 only).
	Secret []byte
}

// Keyring maps key ids to keys. It is an explicit configuration object
// injected at construction, never ambient state, so tests can substitute
// deterministic keys.
type Keyring struct {
	keys map[string]*Key
}

// NewKeyring creates a keyring from the given keys.
func NewKeyring(keys ...*Key) *Keyring {
	r := &Keyring{keys: make(map[string]*Key, len(keys))}
	for _, k := range keys {
		r.keys[k.ID] = k
	}
	return r
}

// Add registers a key, replacing any existing key with the same id.
func (r *Keyring) Add(k *Key) {
	r.keys[k.ID] = k
}

// Lookup resolves a key id.
func (r *Keyring) Lookup(kid string) (*Key, error) {
	k, ok := r.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKeyID, kid)
	}
	return k, nil
}

// GenerateEd25519Key creates a fresh EdDSA key pair under the given id.
func GenerateEd25519Key(kid string) (*Key, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("captoken: generate key: %w", err)
	}
	return &Key{
		ID:        kid,
		Algorithm: AlgEdDSA,
		Public:    pub,
		Private:   priv,
	}, nil
}

// NewHMACKey creates an HS256 key from a shared secret.
func NewHMACKey(kid string, secret []byte) *Key {
	return &Key{
		ID:        kid,
		Algorithm: AlgHS256,
		Secret:    secret,
	}
}
