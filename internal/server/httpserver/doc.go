// Package httpserver provides the HTTP/HTTPS server for PermaMesh.
//
// This package implements the primary external API using stdlib net/http:
//
//   - Record endpoints: /v1/records, /v1/records/{id}, /v1/records/query
//   - Shard export: /v1/shards/{shard_id}/export
//   - Consensus peer endpoint: /v1/consensus/message
//   - Admin endpoints: /admin/v1/*
//   - Health endpoints: /health, /ready, /metrics
//
// Features:
//
//   - TLS support
//   - Middleware chain: RateLimit, Audit, RequestID, CORS, NetworkACL
//   - Graceful shutdown with configurable timeout
//   - Prometheus metrics integration
//
// @design DS-0301
package httpserver
