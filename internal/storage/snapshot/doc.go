// Package snapshot provides ledger checkpoint management for PermaMesh.
//
// Checkpoints are periodic full dumps of the in-memory ledger,
// enabling faster recovery by reducing WAL replay time.
//
// File format:
//
//	snapshot-<timestamp>-<sequence>.snap
//	[magic:8 "PMLGSNAP"]
//	[HeaderLen:4][HeaderJSON:HeaderLen]
//	[DataLen:4][Data:DataLen]   (JSON shard dumps, or encrypted bytes)
//	[checksum:32 SHA-256 of all bytes above]
//
// Recovery process:
//
//  1. Load latest valid checkpoint
//  2. Replay WAL entries after the checkpoint's WAL offset
//  3. Rebuild the record index
//
// Shard dumps preserve per-shard insertion order, so replaying them
// reproduces leaf indexes and block boundaries exactly.
//
// @design DS-0102
package snapshot
