// Package domain defines the core domain models for PermaMesh.
package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// ProofStep is one level of a Merkle inclusion proof: the sibling hash
// and which side of the concatenation it occupies.
type ProofStep struct {
	// Sibling is the hash of the neighbouring subtree.
	Sibling []byte `json:"sibling"`

	// Right is true when the sibling is the right-hand child, i.e. the
	// running hash is the left operand at this level.
	Right bool `json:"right"`
}

// PermanentRecord is an immutable, durably stored record with proof of
// inclusion. A record is owned exclusively by the shard that stored it.
type PermanentRecord struct {
	// ID is the committed request's id.
	ID string `json:"id"`

	// Timestamp is the storage time in unix milliseconds.
	Timestamp int64 `json:"timestamp"`

	// TokenID is the jti of the capability token that authorized storage.
	TokenID string `json:"token_id"`

	// Data is the recorded payload.
	Data []byte `json:"data"`

	// Token metadata attached at storage time.
	Score       float64 `json:"score"`
	Department  string  `json:"department"`
	Permissions uint32  `json:"permissions"`

	// Hash is the SHA-256 digest over id, timestamp, token id and data.
	Hash []byte `json:"hash"`

	// MerkleProof proves the record's inclusion in its shard's tree for
	// the block it was stored in. Leaf index equals insertion order.
	MerkleProof []ProofStep `json:"merkle_proof"`

	// LeafIndex is the record's position within its block's tree.
	LeafIndex uint64 `json:"leaf_index"`

	// BlockHeight is the shard-local block counter at storage time.
	BlockHeight uint64 `json:"block_height"`

	// ShardID is the owning shard.
	ShardID uint32 `json:"shard_id"`
}

// ComputeRecordHash returns the SHA-256 digest over the record identity
// fields. The hash binds id, timestamp, authorizing token and payload.
func ComputeRecordHash(id string, timestamp int64, tokenID string, data []byte) []byte {
	h := sha256.New()
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timestamp))

	writeLengthPrefixed(h, []byte(id))
	h.Write(ts[:])
	writeLengthPrefixed(h, []byte(tokenID))
	writeLengthPrefixed(h, data)

	return h.Sum(nil)
}

// VerifyHash recomputes the record hash and compares it to Hash.
func (r *PermanentRecord) VerifyHash() bool {
	return bytes.Equal(r.Hash, ComputeRecordHash(r.ID, r.Timestamp, r.TokenID, r.Data))
}

// HashHex returns the record hash as lowercase hex for logging and keys.
func (r *PermanentRecord) HashHex() string {
	return hex.EncodeToString(r.Hash)
}

// QueryCriteria filters a linear scan over stored records. Zero values
// mean "no constraint". Order is insertion order within a shard and
// unspecified across shards.
type QueryCriteria struct {
	// TokenID matches records authorized by a specific token.
	TokenID string

	// Department matches the token's department claim.
	Department string

	// StartTime/EndTime bound the record timestamp (unix ms, inclusive).
	StartTime int64
	EndTime   int64

	// Limit bounds the result size; 0 means no limit.
	Limit int
}

// Matches reports whether the record satisfies the criteria.
func (c *QueryCriteria) Matches(r *PermanentRecord) bool {
	if c.TokenID != "" && r.TokenID != c.TokenID {
		return false
	}
	if c.Department != "" && r.Department != c.Department {
		return false
	}
	if c.StartTime != 0 && r.Timestamp < c.StartTime {
		return false
	}
	if c.EndTime != 0 && r.Timestamp > c.EndTime {
		return false
	}
	return true
}
