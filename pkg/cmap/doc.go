// Package cmap provides a concurrent-safe sharded map with optional
// per-entry expiry.
//
// It uses lock striping to reduce contention, performing better than a
// single-mutex map for high-concurrency workloads such as the token
// replay set, the verified-token cache and the committed-request set,
// all of which see concurrent insertion from many goroutines.
//
// Entries stored with SetWithTTL expire lazily on read and eagerly via
// Sweep, which callers run on a ticker.
package cmap
