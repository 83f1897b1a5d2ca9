// Package handler provides HTTP request handlers for PermaMesh.
package handler

import (
	"encoding/hex"
	"time"

	"github.com/permamesh/permamesh-go/internal/core/domain"
)

// Response is the standard API response envelope.
// All JSON responses use this format (except /metrics which uses Prometheus format).
//
// @design DS-0301
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Details   any    `json:"details,omitempty"` // Additional error details
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string, details any) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Details:   details,
	}
}

// StoreRecordRequest is the request body for POST /v1/records.
//
// @design DS-0301
type StoreRecordRequest struct {
	// Token is the capability token authorizing this write.
	Token string `json:"token"`

	// Data is the payload to record, base64 in transit.
	Data []byte `json:"data"`
}

// StoreBatchRequest is the request body for POST /v1/records/batch.
type StoreBatchRequest struct {
	Items []StoreRecordRequest `json:"items"`
}

// BatchItemResponse is one entry of the batch response. Items fail
// independently; a response carries either a record or an error.
type BatchItemResponse struct {
	Record *RecordResponse `json:"record,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
}

// StoreBatchResponse is the response body for POST /v1/records/batch.
type StoreBatchResponse struct {
	Items []BatchItemResponse `json:"items"`
}

// ProofStepResponse is one Merkle proof step with the sibling hash in hex.
type ProofStepResponse struct {
	Sibling string `json:"sibling"`
	Right   bool   `json:"right"`
}

// RecordResponse represents a permanent record in API responses.
//
// @design DS-0301
type RecordResponse struct {
	ID          string              `json:"id"`
	Timestamp   int64               `json:"timestamp"`
	TokenID     string              `json:"token_id"`
	Data        []byte              `json:"data"`
	Score       float64             `json:"score"`
	Department  string              `json:"department"`
	Hash        string              `json:"hash"`
	MerkleProof []ProofStepResponse `json:"merkle_proof"`
	LeafIndex   uint64              `json:"leaf_index"`
	BlockHeight uint64              `json:"block_height"`
	ShardID     uint32              `json:"shard_id"`
}

// toRecordResponse converts a domain record to its API shape.
func toRecordResponse(rec *domain.PermanentRecord) *RecordResponse {
	proof := make([]ProofStepResponse, len(rec.MerkleProof))
	for i, step := range rec.MerkleProof {
		proof[i] = ProofStepResponse{
			Sibling: hex.EncodeToString(step.Sibling),
			Right:   step.Right,
		}
	}
	return &RecordResponse{
		ID:          rec.ID,
		Timestamp:   rec.Timestamp,
		TokenID:     rec.TokenID,
		Data:        rec.Data,
		Score:       rec.Score,
		Department:  rec.Department,
		Hash:        hex.EncodeToString(rec.Hash),
		MerkleProof: proof,
		LeafIndex:   rec.LeafIndex,
		BlockHeight: rec.BlockHeight,
		ShardID:     rec.ShardID,
	}
}

// VerifyRecordResponse is the response body for GET /v1/records/{id}/verify.
type VerifyRecordResponse struct {
	ID    string `json:"id"`
	Valid bool   `json:"valid"`
}

// QueryRecordsRequest is the request body for POST /v1/records/query.
type QueryRecordsRequest struct {
	TokenID    string `json:"token_id,omitempty"`
	Department string `json:"department,omitempty"`
	StartTime  int64  `json:"start_time,omitempty"`
	EndTime    int64  `json:"end_time,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// QueryRecordsResponse is the response body for POST /v1/records/query.
type QueryRecordsResponse struct {
	Items []*RecordResponse `json:"items"`
	Total int               `json:"total"`
}

// StatusSummaryResponse is the response body for GET /admin/v1/status/summary.
//
// @design DS-0302
type StatusSummaryResponse struct {
	Status       string          `json:"status"`
	Version      string          `json:"version"`
	Time         string          `json:"time"`
	Consensus    *ConsensusInfo  `json:"consensus,omitempty"`
	Ledger       *LedgerInfo     `json:"ledger,omitempty"`
	Reachability *ReachabilityInfo `json:"reachability,omitempty"`
}

// ConsensusInfo summarizes the engine's view.
type ConsensusInfo struct {
	View      uint64 `json:"view"`
	Primary   string `json:"primary"`
	IsPrimary bool   `json:"is_primary"`
}

// LedgerInfo summarizes ledger counters.
type LedgerInfo struct {
	Records      int    `json:"records"`
	SealedBlocks int    `json:"sealed_blocks"`
	ShardCount   uint32 `json:"shard_count"`
}

// ReachabilityInfo summarizes gossip liveness.
type ReachabilityInfo struct {
	Unreachable  []string `json:"unreachable"`
	QuorumAtRisk bool     `json:"quorum_at_risk"`
}
