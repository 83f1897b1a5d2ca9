// Package domain defines the core domain models for PermaMesh.
//
// The domain layer is dependency-free: capability token payloads,
// admitted requests, consensus wire messages, permanent records and
// the structured error taxonomy all live here and are consumed by the
// verifier, the consensus engine and the storage layer.
package domain
