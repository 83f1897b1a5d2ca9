// Package wal provides Write-Ahead Logging for durability.
package wal

import (
	"errors"
	"time"

	"github.com/permamesh/permamesh-go/internal/core/domain"
)

// File format constants.
const (
	// DefaultFileExtension is the WAL file extension.
	DefaultFileExtension = ".wal"

	// headerSize is the size of entry header: length (4) + crc (4) = 8 bytes.
	headerSize = 8

	// minEntrySize is the minimum entry size: header (8) + type (1).
	minEntrySize = headerSize + 1
)

// Errors for WAL operations.
var (
	ErrCorruptedEntry   = errors.New("wal: corrupted entry")
	ErrChecksumMismatch = errors.New("wal: checksum mismatch")
	ErrInvalidEntryType = errors.New("wal: invalid entry type")
)

// OpType represents the type of operation in the WAL.
type OpType uint8

const (
	OpTypeUnspecified OpType = iota

	// OpTypeAppend journals a committed record before it reaches the shard.
	OpTypeAppend

	// OpTypeSeal journals a block finalization: the shard reached its
	// record threshold and archived the block root.
	OpTypeSeal
)

// Entry represents one durable operation written to the WAL.
//
// Timestamp uses Unix milliseconds.
type Entry struct {
	OpType    OpType
	Timestamp int64

	// Append fields.
	RecordID string
	ShardID  uint32
	Record   *domain.PermanentRecord

	// Seal fields.
	BlockHeight uint64
	BlockRoot   []byte
}

// NewAppendEntry creates an APPEND WAL entry for a committed record.
func NewAppendEntry(record *domain.PermanentRecord) *Entry {
	return &Entry{
		OpType:    OpTypeAppend,
		Timestamp: time.Now().UnixMilli(),
		RecordID:  record.ID,
		ShardID:   record.ShardID,
		Record:    record,
	}
}

// NewSealEntry creates a SEAL WAL entry for a finalized block.
func NewSealEntry(shardID uint32, blockHeight uint64, blockRoot []byte) *Entry {
	return &Entry{
		OpType:      OpTypeSeal,
		Timestamp:   time.Now().UnixMilli(),
		ShardID:     shardID,
		BlockHeight: blockHeight,
		BlockRoot:   blockRoot,
	}
}
