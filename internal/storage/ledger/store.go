package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/spaolacci/murmur3"

	"github.com/permamesh/permamesh-go/internal/core/domain"
	"github.com/permamesh/permamesh-go/internal/storage"
	"github.com/permamesh/permamesh-go/internal/storage/snapshot"
	"github.com/permamesh/permamesh-go/internal/storage/wal"
	"github.com/permamesh/permamesh-go/pkg/cmap"
)

// DefaultShardCount is the default number of shards.
const DefaultShardCount = 16

// archiveKeyPrefix prefixes record keys in the Badger archive.
const archiveKeyPrefix = "rec/"

// Config configures the ledger store.
type Config struct {
	// ShardCount is the fixed number of shards. Changing it across
	// restarts invalidates record placement, so it is set once per
	// deployment.
	ShardCount uint32

	// BlockSize is the records-per-block threshold for sealing.
	BlockSize int

	// WAL configures the append journal. WAL.Dir empty disables
	// journaling (tests and ephemeral nodes).
	WAL wal.Config

	// Archive is the optional durable record archive for point lookups
	// that miss memory. Typically a Badger engine.
	Archive storage.KVEngine

	// Snapshots is the optional checkpoint manager. When set, Close
	// writes a checkpoint and Recover restores from the latest one
	// before replaying the WAL tail.
	Snapshots *snapshot.Manager

	// Logger is the structured logger.
	Logger *slog.Logger
}

// DefaultConfig returns the default ledger configuration.
func DefaultConfig(dataDir string) Config {
	cfg := Config{
		ShardCount: DefaultShardCount,
		BlockSize:  DefaultBlockSize,
		Logger:     slog.Default(),
	}
	if dataDir != "" {
		cfg.WAL = wal.DefaultConfig(dataDir + "/wal")
	}
	return cfg
}

// Store is the sharded append-only record store.
type Store struct {
	cfg    Config
	logger *slog.Logger

	shards []*Shard

	// index maps record id to owning shard so reads don't need the
	// record hash.
	index *cmap.Map[string, uint32]

	journal *wal.Writer

	mu     sync.Mutex // guards closed
	closed bool
}

// New creates a ledger store. Call Recover before serving if a WAL
// directory is configured.
func New(cfg Config) (*Store, error) {
	if cfg.ShardCount == 0 {
		cfg.ShardCount = DefaultShardCount
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Store{
		cfg:    cfg,
		logger: cfg.Logger,
		shards: make([]*Shard, cfg.ShardCount),
		index:  cmap.New[string, uint32](),
	}
	for i := range s.shards {
		s.shards[i] = newShard(uint32(i), cfg.BlockSize)
	}

	if cfg.WAL.Dir != "" {
		w, err := wal.NewWriter(cfg.WAL)
		if err != nil {
			return nil, fmt.Errorf("ledger: create wal writer: %w", err)
		}
		s.journal = w
	}

	return s, nil
}

// ShardCount returns the configured shard count.
func (s *Store) ShardCount() uint32 {
	return s.cfg.ShardCount
}

// shardFor routes a record hash to its owning shard.
func (s *Store) shardFor(recordHash []byte) *Shard {
	return s.shards[murmur3.Sum32(recordHash)%s.cfg.ShardCount]
}

// StoreRecord appends a record to its shard.
//
// Ordering is journal-first: the append is durable in the WAL before it
// mutates shard state, and the archive write-through follows the
// in-memory apply. Duplicate ids fail with a conflict error.
func (s *Store) StoreRecord(ctx context.Context, record *domain.PermanentRecord) error {
	if record == nil || record.ID == "" {
		return domain.ErrBadRequest.WithDetails("record id is required")
	}
	if len(record.Hash) == 0 {
		record.Hash = domain.ComputeRecordHash(record.ID, record.Timestamp, record.TokenID, record.Data)
	}

	shard := s.shardFor(record.Hash)

	// Claim the id before touching the shard so concurrent duplicates
	// across shards cannot both proceed.
	if !s.index.SetIfAbsent(record.ID, shard.ID(), 0) {
		return domain.ErrRecordConflict.WithDetails(record.ID)
	}

	if err := s.appendOne(ctx, shard, record); err != nil {
		s.index.Delete(record.ID)
		return err
	}
	return nil
}

func (s *Store) appendOne(ctx context.Context, shard *Shard, record *domain.PermanentRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	record.ShardID = shard.ID()

	if s.journal != nil {
		if err := s.journal.Append(wal.NewAppendEntry(record)); err != nil {
			return domain.ErrStorageInternal.WithCause(err)
		}
	}

	res, err := shard.append(record)
	if err != nil {
		return err
	}

	if res.sealed {
		s.logger.Info("block sealed",
			"shard_id", shard.ID(),
			"block_height", res.sealedAt,
			"root", fmt.Sprintf("%x", res.sealedRoot))
		if s.journal != nil {
			if err := s.journal.Append(wal.NewSealEntry(shard.ID(), res.sealedAt, res.sealedRoot)); err != nil {
				s.logger.Error("journal seal entry failed",
					"shard_id", shard.ID(),
					"error", err)
			}
		}
	}

	if s.cfg.Archive != nil {
		if err := s.archivePut(ctx, record); err != nil {
			// The record is durable in the WAL; archive lag is repaired
			// on the next recovery.
			s.logger.Warn("archive write-through failed",
				"record_id", record.ID,
				"error", err)
		}
	}

	return nil
}

// BatchResult carries the per-record outcome of StoreBatch.
type BatchResult struct {
	Index int
	Err   error
}

// StoreBatch stores records grouped by shard: parallel across shards,
// sequential within a shard. Each record succeeds or fails on its own.
func (s *Store) StoreBatch(ctx context.Context, records []*domain.PermanentRecord) []BatchResult {
	results := make([]BatchResult, len(records))
	for i := range results {
		results[i].Index = i
	}

	// Group indexes by owning shard, preserving input order per shard.
	groups := make(map[uint32][]int)
	for i, record := range records {
		if record == nil || record.ID == "" {
			results[i].Err = domain.ErrBadRequest.WithDetails("record id is required")
			continue
		}
		if len(record.Hash) == 0 {
			record.Hash = domain.ComputeRecordHash(record.ID, record.Timestamp, record.TokenID, record.Data)
		}
		shard := s.shardFor(record.Hash)
		groups[shard.ID()] = append(groups[shard.ID()], i)
	}

	var wg sync.WaitGroup
	for shardID, idxs := range groups {
		wg.Add(1)
		go func(shard *Shard, idxs []int) {
			defer wg.Done()
			for _, i := range idxs {
				record := records[i]
				if !s.index.SetIfAbsent(record.ID, shard.ID(), 0) {
					results[i].Err = domain.ErrRecordConflict.WithDetails(record.ID)
					continue
				}
				if err := s.appendOne(ctx, shard, record); err != nil {
					s.index.Delete(record.ID)
					results[i].Err = err
				}
			}
		}(s.shards[shardID], idxs)
	}
	wg.Wait()

	return results
}

// GetRecord returns a record by id, consulting memory first and the
// archive on a miss.
func (s *Store) GetRecord(ctx context.Context, id string) (*domain.PermanentRecord, error) {
	if shardID, ok := s.index.Get(id); ok {
		if record, ok := s.shards[shardID].get(id); ok {
			return record, nil
		}
	}

	if s.cfg.Archive != nil {
		record, err := s.archiveGet(ctx, id)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, storage.ErrKeyNotFound) {
			return nil, domain.ErrStorageInternal.WithCause(err)
		}
	}

	return nil, domain.ErrRecordNotFound.WithDetails(id)
}

// VerifyRecord checks a stored record's hash and recomputes its Merkle
// inclusion proof against its block's root.
func (s *Store) VerifyRecord(ctx context.Context, id string) (bool, error) {
	shardID, ok := s.index.Get(id)
	if !ok {
		return false, domain.ErrRecordNotFound.WithDetails(id)
	}
	record, ok := s.shards[shardID].get(id)
	if !ok {
		return false, domain.ErrRecordNotFound.WithDetails(id)
	}
	return s.shards[shardID].verify(record)
}

// Query scans all shards for records matching the criteria. Order is
// insertion order within a shard and unspecified across shards.
func (s *Store) Query(ctx context.Context, criteria *domain.QueryCriteria) ([]*domain.PermanentRecord, error) {
	if criteria == nil {
		criteria = &domain.QueryCriteria{}
	}

	var out []*domain.PermanentRecord
	for _, shard := range s.shards {
		budget := 0
		if criteria.Limit > 0 {
			budget = criteria.Limit - len(out)
			if budget <= 0 {
				break
			}
		}
		out = append(out, shard.scan(criteria, budget)...)
	}
	return out, nil
}

// Count returns the total number of records across shards.
func (s *Store) Count() int {
	total := 0
	for _, shard := range s.shards {
		total += shard.count()
	}
	return total
}

// SealedBlockCount returns the total number of finalized blocks.
func (s *Store) SealedBlockCount() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		total += len(shard.sealedRoots)
		shard.mu.RUnlock()
	}
	return total
}

// ShardStats describes one shard's state.
type ShardStats struct {
	ShardID         uint32 `json:"shard_id"`
	Records         int    `json:"records"`
	OpenBlockHeight uint64 `json:"open_block_height"`
	SealedBlocks    int    `json:"sealed_blocks"`
}

// Stats returns per-shard statistics.
func (s *Store) Stats() []ShardStats {
	out := make([]ShardStats, len(s.shards))
	for i, shard := range s.shards {
		shard.mu.RLock()
		out[i] = ShardStats{
			ShardID:         shard.id,
			Records:         len(shard.records),
			OpenBlockHeight: uint64(len(shard.blocks) - 1),
			SealedBlocks:    len(shard.sealedRoots),
		}
		shard.mu.RUnlock()
	}
	return out
}

// Close writes a final checkpoint when a snapshot manager is
// configured, then flushes and closes the journal. Checkpoint failure
// is logged but never blocks shutdown: the WAL already holds
// everything the checkpoint would.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.cfg.Snapshots != nil && s.journal != nil {
		if err := s.checkpointLocked(); err != nil {
			s.logger.Warn("checkpoint on close failed", "error", err)
		}
	}

	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			return fmt.Errorf("ledger: close journal: %w", err)
		}
	}
	return nil
}

// Checkpoint writes the full ledger state to a snapshot file and
// compacts WAL segments the snapshot now covers.
func (s *Store) Checkpoint(ctx context.Context) error {
	if s.cfg.Snapshots == nil {
		return fmt.Errorf("ledger: no snapshot manager configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("ledger: store is closed")
	}
	return s.checkpointLocked()
}

func (s *Store) checkpointLocked() error {
	if s.journal != nil {
		if err := s.journal.Flush(); err != nil {
			return fmt.Errorf("ledger: flush journal: %w", err)
		}
	}

	dumps := make([]snapshot.ShardDump, len(s.shards))
	for i, shard := range s.shards {
		records, _, _ := shard.snapshot()
		dumps[i] = snapshot.ShardDump{ShardID: shard.ID(), Records: records}
	}

	var offset uint64
	if s.journal != nil {
		offset = s.journal.CurrentOffset()
	}

	info, err := s.cfg.Snapshots.Create(dumps, offset)
	if err != nil {
		return fmt.Errorf("ledger: write checkpoint: %w", err)
	}
	s.logger.Info("ledger checkpoint written",
		"snapshot_id", info.ID,
		"records", info.RecordCount,
		"wal_offset", info.WALLastOffset)

	if err := s.cfg.Snapshots.Prune(); err != nil {
		s.logger.Warn("snapshot prune failed", "error", err)
	}
	if s.cfg.WAL.Dir != "" {
		if err := wal.NewCompactor(s.cfg.WAL.Dir).Compact(offset); err != nil {
			s.logger.Warn("wal compaction failed", "error", err)
		}
	}
	return nil
}

func (s *Store) archivePut(ctx context.Context, record *domain.PermanentRecord) error {
	value, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.cfg.Archive.Set(ctx, []byte(archiveKeyPrefix+record.ID), value)
}

func (s *Store) archiveGet(ctx context.Context, id string) (*domain.PermanentRecord, error) {
	value, err := s.cfg.Archive.Get(ctx, []byte(archiveKeyPrefix+id))
	if err != nil {
		return nil, err
	}
	var record domain.PermanentRecord
	if err := json.Unmarshal(value, &record); err != nil {
		return nil, err
	}
	return &record, nil
}
