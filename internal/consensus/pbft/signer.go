package pbft

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/permamesh/permamesh-go/internal/core/domain"
)

// Authentication errors.
var (
	ErrUnknownSigner = errors.New("pbft: unknown signer")
	ErrBadSignature  = errors.New("pbft: signature verification failed")
)

// MessageAuthenticator signs outgoing consensus messages and verifies
// incoming ones against the sender's registered key. It is injected so
// tests can substitute deterministic or fault-injecting authenticators.
type MessageAuthenticator interface {
	// Sign fills in the message signature for this node.
	Sign(msg *domain.ConsensusMessage) error

	// Verify checks the message signature against the claimed sender.
	Verify(msg *domain.ConsensusMessage) error
}

// Ed25519Authenticator authenticates messages with Ed25519 keys: one
// private key for this node and a registry of peer public keys.
type Ed25519Authenticator struct {
	nodeID  string
	private ed25519.PrivateKey
	peers   map[string]ed25519.PublicKey
}

// NewEd25519Authenticator creates an authenticator. peers must include
// every cluster member, this node included.
func NewEd25519Authenticator(nodeID string, private ed25519.PrivateKey, peers map[string]ed25519.PublicKey) (*Ed25519Authenticator, error) {
	if len(private) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("pbft: invalid private key size %d", len(private))
	}
	if _, ok := peers[nodeID]; !ok {
		return nil, fmt.Errorf("pbft: own public key missing from peer registry")
	}
	cp := make(map[string]ed25519.PublicKey, len(peers))
	for id, pub := range peers {
		cp[id] = pub
	}
	return &Ed25519Authenticator{
		nodeID:  nodeID,
		private: private,
		peers:   cp,
	}, nil
}

// Sign signs the message's canonical bytes with this node's key.
func (a *Ed25519Authenticator) Sign(msg *domain.ConsensusMessage) error {
	if msg.NodeID != a.nodeID {
		return fmt.Errorf("pbft: cannot sign for node %q", msg.NodeID)
	}
	msg.Signature = ed25519.Sign(a.private, msg.SigningBytes())
	return nil
}

// Verify checks the signature against the claimed sender's public key.
func (a *Ed25519Authenticator) Verify(msg *domain.ConsensusMessage) error {
	pub, ok := a.peers[msg.NodeID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSigner, msg.NodeID)
	}
	if !ed25519.Verify(pub, msg.SigningBytes(), msg.Signature) {
		return fmt.Errorf("%w: from %q", ErrBadSignature, msg.NodeID)
	}
	return nil
}
