// Package handler provides HTTP request handlers for PermaMesh.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/permamesh/permamesh-go/internal/core/domain"
	"github.com/permamesh/permamesh-go/internal/core/service"
)

// RecordService is the subset of the storage service the HTTP layer uses.
type RecordService interface {
	ProcessRequest(ctx context.Context, token string, data []byte) (*domain.PermanentRecord, error)
	ProcessBatch(ctx context.Context, items []service.BatchItem) []service.BatchItemResult
	GetRecord(ctx context.Context, token, id string) (*domain.PermanentRecord, error)
	VerifyRecord(ctx context.Context, token, id string) (bool, error)
	QueryRecords(ctx context.Context, token string, criteria *domain.QueryCriteria) ([]*domain.PermanentRecord, error)
	ExportShard(ctx context.Context, token string, shardID uint32, w io.Writer) error
}

// ConsensusStatus exposes the engine's view for the status endpoint.
type ConsensusStatus interface {
	View() uint64
	Primary() string
	IsPrimary() bool
}

// LedgerStats exposes ledger counters for the status endpoint.
type LedgerStats interface {
	Count() int
	SealedBlockCount() int
	ShardCount() uint32
}

// ClusterHealth exposes gossip reachability for the status endpoint.
type ClusterHealth interface {
	Unreachable() []string
	QuorumAtRisk() bool
}

// Config wires the handler's dependencies. Service and Logger are
// required; the status sources are optional and reported as absent.
type Config struct {
	Service   RecordService
	Consensus ConsensusStatus
	Ledger    LedgerStats
	Health    ClusterHealth
	Logger    *slog.Logger
}

// Handler is the main HTTP handler that routes requests to appropriate handlers.
//
// @design DS-0301
type Handler struct {
	svc       RecordService
	consensus ConsensusStatus
	ledger    LedgerStats
	health    ClusterHealth
	logger    *slog.Logger
	mux       *http.ServeMux
}

// New creates a new Handler with the given dependencies.
//
// @design DS-0301
func New(cfg Config) *Handler {
	h := &Handler{
		svc:       cfg.Service,
		consensus: cfg.Consensus,
		ledger:    cfg.Ledger,
		health:    cfg.Health,
		logger:    cfg.Logger,
		mux:       http.NewServeMux(),
	}

	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// registerRoutes registers all HTTP routes.
func (h *Handler) registerRoutes() {
	// Health endpoints (no auth required)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /ready", h.handleReady)

	// Record endpoints
	h.mux.HandleFunc("POST /v1/records", h.handleStoreRecord)
	h.mux.HandleFunc("POST /v1/records/batch", h.handleStoreBatch)
	h.mux.HandleFunc("GET /v1/records/{id}", h.handleGetRecord)
	h.mux.HandleFunc("GET /v1/records/{id}/verify", h.handleVerifyRecord)
	h.mux.HandleFunc("POST /v1/records/query", h.handleQueryRecords)

	// Shard export
	h.mux.HandleFunc("GET /v1/shards/{shard_id}/export", h.handleExportShard)

	// Admin endpoints
	h.mux.HandleFunc("GET /admin/v1/status/summary", h.handleAdminStatus)
}

// writeJSON writes a JSON response with standard envelope format.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := getRequestID(r)
	response := NewResponse(requestID, data)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError writes an error response with standard envelope format.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	requestID := getRequestID(r)
	response := NewErrorResponse(requestID, code, message, details)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// getRequestID extracts request ID from context or header.
func getRequestID(r *http.Request) string {
	// Try to get from header first (set by middleware)
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}
	return ""
}

// handleServiceError converts service errors to HTTP responses.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var derr *domain.DomainError
	if errors.As(err, &derr) {
		h.writeError(w, r, derr.HTTPStatus(), derr.Code, err.Error(), nil)
		return
	}

	// Generic internal error
	h.logger.Error("internal error", "error", err)
	h.writeError(w, r, http.StatusInternalServerError, "PM-SYS-5000", "internal server error", nil)
}

// bearerToken extracts the capability token from the Authorization header.
func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}
