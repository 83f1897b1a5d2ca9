// Package domain defines the core domain models for PermaMesh.
package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// MessageType identifies a consensus protocol message.
type MessageType uint8

const (
	// MsgPrePrepare is the primary's proposal for a (view, sequence) slot.
	MsgPrePrepare MessageType = 1

	// MsgPrepare is a backup's echo of the proposal digest.
	MsgPrepare MessageType = 2

	// MsgCommit is a node's vote to execute the proposal.
	MsgCommit MessageType = 3

	// MsgForward carries a client request from a backup to the primary.
	MsgForward MessageType = 4

	// MsgViewChange announces a node's vote to advance the view.
	MsgViewChange MessageType = 5
)

// String returns the wire name of the message type.
func (t MessageType) String() string {
	switch t {
	case MsgPrePrepare:
		return "PRE_PREPARE"
	case MsgPrepare:
		return "PREPARE"
	case MsgCommit:
		return "COMMIT"
	case MsgForward:
		return "FORWARD"
	case MsgViewChange:
		return "VIEW_CHANGE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// ConsensusMessage is the point-to-point consensus wire message.
//
// Signature covers SigningBytes() and must verify against the claimed
// NodeID's registered public key; messages that fail verification are
// silently dropped.
type ConsensusMessage struct {
	Type     MessageType `json:"type"`
	View     uint64      `json:"view"`
	Sequence uint64      `json:"sequence"`
	Digest   []byte      `json:"digest"`
	NodeID   string      `json:"node_id"`

	// Signature authenticates the sender over SigningBytes().
	Signature []byte `json:"signature"`

	// Request is carried only on PRE_PREPARE and FORWARD; it embeds the
	// capability token that backups re-verify (defense in depth against
	// a Byzantine primary).
	Request *Request `json:"request,omitempty"`
}

// SlotKey identifies the (view, sequence) slot of the message.
func (m *ConsensusMessage) SlotKey() string {
	return fmt.Sprintf("%d-%d", m.View, m.Sequence)
}

// SigningBytes returns the canonical byte string the signature covers:
// SHA-256 over type, view, sequence, digest and sender id.
func (m *ConsensusMessage) SigningBytes() []byte {
	h := sha256.New()

	var hdr [17]byte
	hdr[0] = byte(m.Type)
	binary.BigEndian.PutUint64(hdr[1:9], m.View)
	binary.BigEndian.PutUint64(hdr[9:17], m.Sequence)
	h.Write(hdr[:])

	writeLengthPrefixed(h, m.Digest)
	writeLengthPrefixed(h, []byte(m.NodeID))

	return h.Sum(nil)
}
