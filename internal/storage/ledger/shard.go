package ledger

import (
	"sync"

	"github.com/permamesh/permamesh-go/internal/core/domain"
	"github.com/permamesh/permamesh-go/internal/storage/merkle"
)

// DefaultBlockSize is the number of records per block before the shard
// seals the block and archives its root.
const DefaultBlockSize = 1000

// Shard owns a disjoint subset of records. All mutation goes through
// Append under the shard mutex; a record is never shared between
// shards.
type Shard struct {
	id        uint32
	blockSize int

	mu sync.RWMutex

	// blocks holds one tree per block; the last element is the open
	// block. Sealed trees are retained so inclusion proofs can be
	// recomputed against their archived roots.
	blocks []*merkle.Tree

	// sealedRoots[h] is the archived root of block h.
	sealedRoots [][]byte

	records map[string]*domain.PermanentRecord
	order   []string
}

func newShard(id uint32, blockSize int) *Shard {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Shard{
		id:        id,
		blockSize: blockSize,
		blocks:    []*merkle.Tree{merkle.New()},
		records:   make(map[string]*domain.PermanentRecord),
	}
}

// ID returns the shard identifier.
func (s *Shard) ID() uint32 {
	return s.id
}

// appendResult reports what an append did to the shard.
type appendResult struct {
	sealed     bool
	sealedRoot []byte
	sealedAt   uint64
}

// append stores a record in the open block, assigning its leaf index,
// block height and inclusion proof. When the open block reaches the
// threshold it is sealed and a fresh tree opened.
//
// The record must already carry its hash; append fails on duplicates.
func (s *Shard) append(record *domain.PermanentRecord) (appendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return appendResult{}, domain.ErrRecordConflict.WithDetails(record.ID)
	}

	open := s.blocks[len(s.blocks)-1]
	height := uint64(len(s.blocks) - 1)

	idx := open.Append(record.Hash)
	proof, err := open.Proof(idx)
	if err != nil {
		return appendResult{}, domain.ErrStorageInternal.WithCause(err)
	}

	record.ShardID = s.id
	record.LeafIndex = uint64(idx)
	record.BlockHeight = height
	record.MerkleProof = proof

	s.records[record.ID] = record
	s.order = append(s.order, record.ID)

	var res appendResult
	if open.Len() >= s.blockSize {
		root := open.Root()
		s.sealedRoots = append(s.sealedRoots, root)
		s.blocks = append(s.blocks, merkle.New())
		res = appendResult{sealed: true, sealedRoot: root, sealedAt: height}
	}
	return res, nil
}

// get returns the record with the given id, if this shard owns it.
func (s *Shard) get(id string) (*domain.PermanentRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

// verify recomputes the record's inclusion proof against its block's
// tree and checks the record hash. Proofs are recomputed rather than
// trusted from the stored record: the stored proof was taken against
// the tree as it stood at append time, while the block may have grown
// since.
func (s *Shard) verify(record *domain.PermanentRecord) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !record.VerifyHash() {
		return false, nil
	}
	if record.BlockHeight >= uint64(len(s.blocks)) {
		return false, domain.ErrProofInvalid.WithDetails("unknown block height")
	}

	tree := s.blocks[record.BlockHeight]
	proof, err := tree.Proof(int(record.LeafIndex))
	if err != nil {
		return false, domain.ErrProofInvalid.WithCause(err)
	}

	var root []byte
	if record.BlockHeight < uint64(len(s.sealedRoots)) {
		root = s.sealedRoots[record.BlockHeight]
	} else {
		root = tree.Root()
	}
	return merkle.Verify(record.Hash, proof, root), nil
}

// scan walks records in insertion order, collecting matches until the
// criteria limit is hit. Returns the matches and whether the limit
// stopped the scan early.
func (s *Shard) scan(criteria *domain.QueryCriteria, budget int) []*domain.PermanentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.PermanentRecord
	for _, id := range s.order {
		if budget > 0 && len(out) >= budget {
			break
		}
		r := s.records[id]
		if criteria.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}

// snapshot returns the shard's records in insertion order together with
// the archived roots and the open block root. Used by export.
func (s *Shard) snapshot() ([]*domain.PermanentRecord, [][]byte, []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*domain.PermanentRecord, 0, len(s.order))
	for _, id := range s.order {
		records = append(records, s.records[id])
	}

	roots := make([][]byte, len(s.sealedRoots))
	copy(roots, s.sealedRoots)

	return records, roots, s.blocks[len(s.blocks)-1].Root()
}

// count returns the number of records in the shard.
func (s *Shard) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// openBlockHeight returns the height of the currently open block.
func (s *Shard) openBlockHeight() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.blocks) - 1)
}

// sealedRootAt returns the archived root for a sealed block height.
func (s *Shard) sealedRootAt(height uint64) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if height >= uint64(len(s.sealedRoots)) {
		return nil, false
	}
	return s.sealedRoots[height], true
}
