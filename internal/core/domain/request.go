// Package domain defines the core domain models for PermaMesh.
package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/oklog/ulid/v2"
)

// Request is an externally-authorized request submitted for total ordering.
//
// A request is created by a caller, consumed exactly once by consensus,
// then either committed or rejected. It is never re-entered under the
// same ID: the consensus engine keeps a committed set keyed by ID.
type Request struct {
	// ID is a ULID assigned at creation.
	ID string `json:"id"`

	// Token is the raw three-segment capability token.
	Token string `json:"token"`

	// Data is the opaque payload to record.
	Data []byte `json:"data"`

	// Timestamp is the creation time in unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// NewRequest creates a Request with a fresh ULID and the current time.
func NewRequest(token string, data []byte) *Request {
	return &Request{
		ID:        ulid.MustNew(ulid.Now(), rand.Reader).String(),
		Token:     token,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Digest computes the SHA-256 digest over the canonical request encoding.
// The digest is the unit of agreement in consensus: any two correct nodes
// compute the same digest for the same request.
func (r *Request) Digest() []byte {
	h := sha256.New()
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(r.Timestamp))

	writeLengthPrefixed(h, []byte(r.ID))
	writeLengthPrefixed(h, []byte(r.Token))
	writeLengthPrefixed(h, r.Data)
	h.Write(ts[:])

	return h.Sum(nil)
}

// writeLengthPrefixed writes len(b) as a big-endian uint32 followed by b,
// so concatenated fields can never alias each other.
func writeLengthPrefixed(h interface{ Write([]byte) (int, error) }, b []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	h.Write(n[:])
	h.Write(b)
}
