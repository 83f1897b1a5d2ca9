// Package ledger implements the sharded append-only record store.
//
// Records are distributed across a fixed set of shards by the murmur3
// hash of their record hash. Each shard is single-writer: appends to a
// shard serialize behind its mutex while different shards append in
// parallel. Every shard maintains a Merkle tree per block; when a block
// reaches its record threshold the tree is sealed, its root archived,
// and a fresh tree opened for the next block.
//
// Durability is layered: committed appends are journaled to the WAL
// before they touch shard state, and written through to the Badger
// archive for point lookups. Recovery replays the WAL in order, which
// reproduces the exact leaf indexes and block boundaries.
//
// @design DS-0303
package ledger
