// Package handler provides HTTP request handlers for PermaMesh.
//
// This package implements the HTTP API endpoints for record storage,
// retrieval, verification, query, and shard export, plus health and
// administrative status.
//
// Every business endpoint is authorized by a capability token: write
// requests carry the token in the body next to the payload it covers,
// read requests carry it as a bearer credential.
//
// @design DS-0301
package handler
