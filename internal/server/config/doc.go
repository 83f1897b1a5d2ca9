// Package config provides server configuration for PermaMesh.
//
// This package defines the server configuration structure and validation:
//
//   - spec.go: ServerConfig struct definition
//   - default.go: Default configuration values
//   - verify.go: Business validation (key sizes, membership consistency)
//   - sanitize.go: Log sanitization (hide sensitive values)
//   - consensus.go: Mapping to consensus, gossip, and ledger configs
//
// Configuration is loaded via internal/infra/confloader and supports
// multiple sources: files, environment variables, and flags.
//
// @design DS-0503
package config
