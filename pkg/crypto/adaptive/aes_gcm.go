package adaptive

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

// AESGCM is AES-GCM authenticated encryption.
type AESGCM struct {
	aeadCipher
}

// NewAESGCM creates an AES-GCM cipher. The key selects the AES
// variant: 16, 24, or 32 bytes for AES-128/192/256.
func NewAESGCM(key []byte) (*AESGCM, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, errors.New("invalid key size for AES-GCM: must be 16, 24, or 32 bytes")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &AESGCM{aeadCipher{aead: aead}}, nil
}

// Type returns CipherAESGCM.
func (c *AESGCM) Type() CipherType {
	return CipherAESGCM
}

// Encrypt seals plaintext, binding additionalData.
func (c *AESGCM) Encrypt(plaintext, additionalData []byte) ([]byte, error) {
	return c.encrypt(plaintext, additionalData)
}

// Decrypt opens ciphertext produced by Encrypt.
func (c *AESGCM) Decrypt(ciphertext, additionalData []byte) ([]byte, error) {
	return c.decrypt(ciphertext, additionalData)
}
