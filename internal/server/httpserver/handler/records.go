// Package handler provides HTTP request handlers for PermaMesh.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/permamesh/permamesh-go/internal/core/domain"
	"github.com/permamesh/permamesh-go/internal/core/service"
)

// handleStoreRecord handles POST /v1/records.
//
// @design DS-0301
func (h *Handler) handleStoreRecord(w http.ResponseWriter, r *http.Request) {
	var req StoreRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "PM-SYS-4000", "invalid request body", nil)
		return
	}
	if req.Token == "" {
		h.writeError(w, r, http.StatusBadRequest, "PM-SYS-4000", "token is required", nil)
		return
	}
	if len(req.Data) == 0 {
		h.writeError(w, r, http.StatusBadRequest, "PM-SYS-4000", "data is required", nil)
		return
	}

	rec, err := h.svc.ProcessRequest(r.Context(), req.Token, req.Data)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusCreated, toRecordResponse(rec))
}

// handleStoreBatch handles POST /v1/records/batch.
//
// Items fail independently; the response preserves request order.
func (h *Handler) handleStoreBatch(w http.ResponseWriter, r *http.Request) {
	var req StoreBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "PM-SYS-4000", "invalid request body", nil)
		return
	}
	if len(req.Items) == 0 {
		h.writeError(w, r, http.StatusBadRequest, "PM-SYS-4000", "items is required", nil)
		return
	}

	items := make([]service.BatchItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = service.BatchItem{Token: item.Token, Data: item.Data}
	}

	results := h.svc.ProcessBatch(r.Context(), items)

	resp := StoreBatchResponse{Items: make([]BatchItemResponse, len(results))}
	for i, res := range results {
		if res.Err != nil {
			resp.Items[i] = BatchItemResponse{
				Error: res.Err.Error(),
				Code:  domain.GetErrorCode(res.Err),
			}
			continue
		}
		resp.Items[i] = BatchItemResponse{Record: toRecordResponse(res.Record)}
	}

	h.writeJSON(w, r, http.StatusOK, resp)
}

// handleGetRecord handles GET /v1/records/{id}.
//
// @design DS-0301
func (h *Handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	token := bearerToken(r)
	if token == "" {
		h.writeError(w, r, http.StatusUnauthorized, "PM-TOKN-4000", "capability token required", nil)
		return
	}

	rec, err := h.svc.GetRecord(r.Context(), token, id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, toRecordResponse(rec))
}

// handleVerifyRecord handles GET /v1/records/{id}/verify.
//
// @design DS-0301
func (h *Handler) handleVerifyRecord(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	token := bearerToken(r)
	if token == "" {
		h.writeError(w, r, http.StatusUnauthorized, "PM-TOKN-4000", "capability token required", nil)
		return
	}

	valid, err := h.svc.VerifyRecord(r.Context(), token, id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, VerifyRecordResponse{ID: id, Valid: valid})
}

// handleQueryRecords handles POST /v1/records/query.
//
// @design DS-0301
func (h *Handler) handleQueryRecords(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		h.writeError(w, r, http.StatusUnauthorized, "PM-TOKN-4000", "capability token required", nil)
		return
	}

	var req QueryRecordsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "PM-SYS-4000", "invalid request body", nil)
		return
	}

	records, err := h.svc.QueryRecords(r.Context(), token, &domain.QueryCriteria{
		TokenID:    req.TokenID,
		Department: req.Department,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		Limit:      req.Limit,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	items := make([]*RecordResponse, len(records))
	for i, rec := range records {
		items[i] = toRecordResponse(rec)
	}

	h.writeJSON(w, r, http.StatusOK, QueryRecordsResponse{Items: items, Total: len(items)})
}

// handleExportShard handles GET /v1/shards/{shard_id}/export.
//
// The export is streamed as an encrypted binary body, not wrapped in
// the JSON envelope.
func (h *Handler) handleExportShard(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		h.writeError(w, r, http.StatusUnauthorized, "PM-TOKN-4000", "capability token required", nil)
		return
	}

	shardID, err := strconv.ParseUint(r.PathValue("shard_id"), 10, 32)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "PM-SYS-4000", "invalid shard id", nil)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	if err := h.svc.ExportShard(r.Context(), token, uint32(shardID), w); err != nil {
		// Headers may not be written yet if authorization failed before
		// the first byte; surface the error normally in that case.
		h.handleServiceError(w, r, err)
		return
	}
}
