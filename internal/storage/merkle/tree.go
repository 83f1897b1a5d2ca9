package merkle

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/permamesh/permamesh-go/internal/core/domain"
)

// Hash prefixes separating leaf hashes from interior hashes.
const (
	leafPrefix     = 0x00
	interiorPrefix = 0x01
)

// Tree is an append-only Merkle tree. Appends assign monotonically
// increasing leaf indexes; existing leaves are never moved or removed.
//
// The root is recomputed lazily and cached until the next append. All
// methods are safe for concurrent use.
type Tree struct {
	mu     sync.RWMutex
	leaves [][]byte

	root      []byte
	rootValid bool
}

// New creates an empty tree.
func New() *Tree {
	return &Tree{}
}

// Append adds a leaf and returns its index.
func (t *Tree) Append(leaf []byte) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cp := make([]byte, len(leaf))
	copy(cp, leaf)
	t.leaves = append(t.leaves, cp)
	t.rootValid = false
	return len(t.leaves) - 1
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.leaves)
}

// Root returns the current root hash, or nil for an empty tree.
func (t *Tree) Root() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.rootValid {
		t.root = computeRoot(t.leaves)
		t.rootValid = true
	}
	if t.root == nil {
		return nil
	}
	cp := make([]byte, len(t.root))
	copy(cp, t.root)
	return cp
}

// Leaf returns a copy of the leaf at the given index.
func (t *Tree) Leaf(index int) ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if index < 0 || index >= len(t.leaves) {
		return nil, fmt.Errorf("merkle: leaf index %d out of range [0,%d)", index, len(t.leaves))
	}
	cp := make([]byte, len(t.leaves[index]))
	copy(cp, t.leaves[index])
	return cp, nil
}

// Proof builds the inclusion proof for the leaf at the given index,
// ordered leaf-to-root. Each step names the sibling hash and whether it
// sits to the right of the node being proven.
func (t *Tree) Proof(index int) ([]domain.ProofStep, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if index < 0 || index >= len(t.leaves) {
		return nil, fmt.Errorf("merkle: proof index %d out of range [0,%d)", index, len(t.leaves))
	}

	level := make([][]byte, len(t.leaves))
	for i, leaf := range t.leaves {
		level[i] = leafHash(leaf)
	}

	var proof []domain.ProofStep
	pos := index
	for len(level) > 1 {
		if pos%2 == 0 {
			if pos+1 < len(level) {
				proof = append(proof, domain.ProofStep{
					Sibling: cloneHash(level[pos+1]),
					Right:   true,
				})
			}
			// An unpaired rightmost node promotes without a sibling.
		} else {
			proof = append(proof, domain.ProofStep{
				Sibling: cloneHash(level[pos-1]),
				Right:   false,
			})
		}
		level = nextLevel(level)
		pos /= 2
	}

	return proof, nil
}

// Verify recomputes the root from a leaf and its proof and compares it
// to the expected root.
func Verify(leaf []byte, proof []domain.ProofStep, root []byte) bool {
	if len(root) == 0 {
		return false
	}
	h := leafHash(leaf)
	for _, step := range proof {
		if step.Right {
			h = interiorHash(h, step.Sibling)
		} else {
			h = interiorHash(step.Sibling, h)
		}
	}
	return bytes.Equal(h, root)
}

// computeRoot folds the leaf level up to a single hash. A lone
// unpaired node at any level carries up unchanged.
func computeRoot(leaves [][]byte) []byte {
	if len(leaves) == 0 {
		return nil
	}
	level := make([][]byte, len(leaves))
	for i, leaf := range leaves {
		level[i] = leafHash(leaf)
	}
	for len(level) > 1 {
		level = nextLevel(level)
	}
	return level[0]
}

func nextLevel(level [][]byte) [][]byte {
	next := make([][]byte, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		if i+1 < len(level) {
			next = append(next, interiorHash(level[i], level[i+1]))
		} else {
			next = append(next, level[i])
		}
	}
	return next
}

func leafHash(leaf []byte) []byte {
	h := sha256.New()
	h.Write([]byte{leafPrefix})
	h.Write(leaf)
	return h.Sum(nil)
}

func interiorHash(left, right []byte) []byte {
	h := sha256.New()
	h.Write([]byte{interiorPrefix})
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

func cloneHash(b []byte) []byte {
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}
