// Package logger provides structured logging for PermaMesh.
//
// This package wraps log/slog for structured logging:
//
//   - logger.go: logger configuration and initialization
//   - context.go: context-aware logging with request/trace IDs
//   - redact.go: capability-token redaction
//
// Features:
//
//   - JSON and text output formats
//   - Dynamic log level adjustment
//   - Automatic masking of token-shaped values and sensitive keys
//   - Context propagation for request tracing
//
// @design DS-0501
package logger
