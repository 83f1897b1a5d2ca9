// Package service provides domain services for PermaMesh.
//
// Domain services contain pure business logic and orchestrate operations
// on domain models. They define interfaces for their consensus and
// storage dependencies, allowing for dependency injection and
// testability.
//
// This package contains:
//
//   - StorageService: the verify → consensus → ledger pipeline behind
//     every store, read, verify and query operation, with admission
//     rate limiting and per-item batch isolation.
//
// Services are stateless apart from in-flight commit waiters and are
// safe for concurrent use.
//
// @design DS-0103
package service
