// Package storage provides the durable storage layer for PermaMesh.
//
// The layer combines three pieces:
//
//   - Ledger (subpackage ledger): sharded in-memory record store with
//     per-shard Merkle trees and block sealing
//   - WAL (subpackage wal): write-ahead journal replayed on recovery
//   - KV archive (this package): embedded Badger store for record
//     point lookups and consensus metadata
//
// The layer supports:
//
//   - Durability: All writes are journaled before acknowledgment
//   - Recovery: Deterministic WAL replay rebuilds shard trees
//   - Encryption: Optional at-rest encryption using adaptive ciphers
//
// @design DS-0304
package storage
