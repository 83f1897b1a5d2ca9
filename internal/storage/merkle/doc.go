// Package merkle provides an append-only SHA-256 Merkle tree with
// inclusion proofs.
//
// Leaf order is insertion order: the leaf index of a record equals its
// position in the append sequence, which is what lets a proof generated
// at store time remain valid for the life of the enclosing block. Leaf
// and interior hashes are domain-separated so a leaf can never be
// confused with an internal node.
//
// @design DS-0301
package merkle
