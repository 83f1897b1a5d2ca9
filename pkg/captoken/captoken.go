package captoken

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

// Codec errors.
var (
	ErrMalformed    = errors.New("captoken: malformed token")
	ErrBadSignature = errors.New("captoken: signature verification failed")
)

// Header is the first token segment.
type Header struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}

// Sign encodes the claims and signs them with the given key, returning
// the three-segment token string.
func Sign(key *Key, claims any) (string, error) {
	header, err := json.Marshal(Header{Alg: key.Algorithm, Kid: key.ID})
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	signingInput := encodeSegment(header) + "." + encodeSegment(payload)

	sig, err := sign(key, []byte(signingInput))
	if err != nil {
		return "", err
	}

	return signingInput + "." + encodeSegment(sig), nil
}

// Parse splits, verifies and decodes a token. The claims segment is
// unmarshalled into out. Key resolution goes through the keyring; an
// unregistered kid fails with ErrUnknownKeyID.
func Parse(ring *Keyring, token string, out any) error {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return ErrMalformed
	}

	headerBytes, err := decodeSegment(parts[0])
	if err != nil {
		return ErrMalformed
	}
	var hdr Header
	if err := json.Unmarshal(headerBytes, &hdr); err != nil {
		return ErrMalformed
	}

	key, err := ring.Lookup(hdr.Kid)
	if err != nil {
		return err
	}
	if key.Algorithm != hdr.Alg {
		// Algorithm substitution is treated as a bad signature, not a
		// malformed token: the structure is fine, the authenticity is not.
		return ErrBadSignature
	}

	sig, err := decodeSegment(parts[2])
	if err != nil {
		return ErrMalformed
	}

	signingInput := parts[0] + "." + parts[1]
	if err := verify(key, []byte(signingInput), sig); err != nil {
		return err
	}

	payloadBytes, err := decodeSegment(parts[1])
	if err != nil {
		return ErrMalformed
	}
	if err := json.Unmarshal(payloadBytes, out); err != nil {
		return ErrMalformed
	}
	return nil
}

// DecodeUnverified extracts the claims without checking the signature.
// Callers must not trust the result; it exists for diagnostics only.
func DecodeUnverified(token string, out any) error {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return ErrMalformed
	}
	payloadBytes, err := decodeSegment(parts[1])
	if err != nil {
		return ErrMalformed
	}
	if err := json.Unmarshal(payloadBytes, out); err != nil {
		return ErrMalformed
	}
	return nil
}

func sign(key *Key, input []byte) ([]byte, error) {
	switch key.Algorithm {
	case AlgEdDSA:
		if key.Private == nil {
			return nil, ErrMissingKeyParam
		}
		return ed25519.Sign(key.Private, input), nil
	case AlgHS256:
		if len(key.Secret) == 0 {
			return nil, ErrMissingKeyParam
		}
		mac := hmac.New(sha256.New, key.Secret)
		mac.Write(input)
		return mac.Sum(nil), nil
	default:
		return nil, ErrUnsupportedAlg
	}
}

func verify(key *Key, input, sig []byte) error {
	switch key.Algorithm {
	case AlgEdDSA:
		if len(key.Public) == 0 {
			return ErrMissingKeyParam
		}
		if !ed25519.Verify(key.Public, input, sig) {
			return ErrBadSignature
		}
		return nil
	case AlgHS256:
		if len(key.Secret) == 0 {
			return ErrMissingKeyParam
		}
		mac := hmac.New(sha256.New, key.Secret)
		mac.Write(input)
		if subtle.ConstantTimeCompare(mac.Sum(nil), sig) != 1 {
			return ErrBadSignature
		}
		return nil
	default:
		return ErrUnsupportedAlg
	}
}

func encodeSegment(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeSegment(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}
