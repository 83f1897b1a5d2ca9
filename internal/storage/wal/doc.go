// Package wal provides Write-Ahead Logging for durability.
//
// Every committed record is journaled before it is applied to the
// in-memory shard, so a crash between consensus commit and persistence
// never loses an accepted record. Block seals are journaled too, which
// lets recovery rebuild the archived-root history of each shard.
//
// Features:
//
//   - Batched Writes: Configurable batch size and sync interval
//   - File Rotation: Automatic rotation at configurable file sizes
//   - Encryption: Optional encryption using adaptive ciphers
//   - Compaction: Automatic cleanup of old WAL files after snapshots
//   - Recovery: Sequential replay for crash recovery
//
// Entry Types:
//
//   - APPEND: A committed record appended to a shard
//   - SEAL: A shard block finalized at its record threshold
//
// Format:
//
//	wal-<segment-id>.log
//	[magic:8 "PMSHWAL\\x01"]
//	[Entry]*
//	[checksum:32 SHA-256 of all bytes above] (optional for the active segment)
//
// Entry wire format:
//
//	[Length:4][CRC32:4][Type:1][Payload:Length-5]
//
// Where:
//   - Length = CRC32 + Type + Payload (big-endian uint32)
//   - CRC32 covers Type+Payload (IEEE)
//   - Payload is JSON (optionally includes an encrypted record blob)
//
// @design DS-0302
package wal
