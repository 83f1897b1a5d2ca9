package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/permamesh/permamesh-go/internal/storage/snapshot"
	"github.com/permamesh/permamesh-go/internal/storage/wal"
)

// Recover rebuilds shard state from the latest checkpoint (when a
// snapshot manager is configured) and replays the WAL tail in order.
//
// Replay reproduces the original leaf indexes and block boundaries
// because appends are journaled in commit order and each shard's
// threshold sealing is deterministic. Seal entries are used as a
// cross-check against the recomputed roots.
func (s *Store) Recover(ctx context.Context) error {
	if s.cfg.WAL.Dir == "" {
		return nil
	}

	start := time.Now()
	s.logger.Info("ledger recovery started", "wal_dir", s.cfg.WAL.Dir)

	walOffset, restored, err := s.restoreCheckpoint(ctx)
	if err != nil {
		return err
	}

	reader, err := wal.NewReader(s.cfg.WAL.Dir, s.cfg.WAL.Cipher)
	if err != nil {
		return fmt.Errorf("ledger: open wal reader: %w", err)
	}
	defer reader.Close()

	if walOffset > 0 {
		if err := reader.Seek(walOffset); err != nil {
			return fmt.Errorf("ledger: seek wal to checkpoint offset: %w", err)
		}
	}

	applied := 0
	sealsChecked := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		entry, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("ledger: read wal entry: %w", err)
		}

		switch entry.OpType {
		case wal.OpTypeAppend:
			record := entry.Record
			if record == nil {
				s.logger.Warn("wal append entry without record", "record_id", entry.RecordID)
				continue
			}

			shard := s.shardFor(record.Hash)
			if shard.ID() != entry.ShardID {
				// Shard count changed across restarts; placement is fixed
				// by the journal, not the new routing.
				s.logger.Warn("wal shard placement differs from routing",
					"record_id", record.ID,
					"journal_shard", entry.ShardID,
					"routed_shard", shard.ID())
				shard = s.shards[entry.ShardID%s.cfg.ShardCount]
			}

			if !s.index.SetIfAbsent(record.ID, shard.ID(), 0) {
				continue // already applied
			}
			if _, err := shard.append(record); err != nil {
				s.index.Delete(record.ID)
				s.logger.Warn("replay append failed",
					"record_id", record.ID,
					"error", err)
				continue
			}
			applied++

		case wal.OpTypeSeal:
			shard := s.shards[entry.ShardID%s.cfg.ShardCount]
			root, ok := shard.sealedRootAt(entry.BlockHeight)
			if !ok || !bytes.Equal(root, entry.BlockRoot) {
				s.logger.Error("replayed seal root mismatch",
					"shard_id", entry.ShardID,
					"block_height", entry.BlockHeight)
			}
			sealsChecked++
		}
	}

	s.logger.Info("ledger recovery completed",
		"records_restored", restored,
		"records_applied", applied,
		"seals_checked", sealsChecked,
		"elapsed", time.Since(start))

	return nil
}

// restoreCheckpoint loads the latest valid checkpoint into the shards
// and returns the WAL offset replay should resume from. No checkpoint
// on disk is not an error: the full WAL is replayed instead.
func (s *Store) restoreCheckpoint(ctx context.Context) (uint64, int, error) {
	if s.cfg.Snapshots == nil {
		return 0, 0, nil
	}

	dumps, info, err := s.cfg.Snapshots.Load()
	if err != nil {
		if errors.Is(err, snapshot.ErrNoSnapshots) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("ledger: load checkpoint: %w", err)
	}

	restored := 0
	for _, dump := range dumps {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}

		shard := s.shards[dump.ShardID%s.cfg.ShardCount]
		for _, record := range dump.Records {
			if !s.index.SetIfAbsent(record.ID, shard.ID(), 0) {
				continue
			}
			if _, err := shard.append(record); err != nil {
				s.index.Delete(record.ID)
				s.logger.Warn("checkpoint restore append failed",
					"record_id", record.ID,
					"error", err)
				continue
			}
			restored++
		}
	}

	s.logger.Info("checkpoint restored",
		"snapshot_id", info.ID,
		"records", restored,
		"wal_offset", info.WALLastOffset)

	return info.WALLastOffset, restored, nil
}
