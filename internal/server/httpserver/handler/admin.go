// Package handler provides HTTP request handlers for PermaMesh.
package handler

import (
	"net/http"
	"time"

	"github.com/permamesh/permamesh-go/internal/infra/buildinfo"
)

// handleAdminStatus handles GET /admin/v1/status/summary.
//
// @design DS-0302
func (h *Handler) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusSummaryResponse{
		Status:  "running",
		Version: buildinfo.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}

	if h.consensus != nil {
		resp.Consensus = &ConsensusInfo{
			View:      h.consensus.View(),
			Primary:   h.consensus.Primary(),
			IsPrimary: h.consensus.IsPrimary(),
		}
	}
	if h.ledger != nil {
		resp.Ledger = &LedgerInfo{
			Records:      h.ledger.Count(),
			SealedBlocks: h.ledger.SealedBlockCount(),
			ShardCount:   h.ledger.ShardCount(),
		}
	}
	if h.health != nil {
		resp.Reachability = &ReachabilityInfo{
			Unreachable:  h.health.Unreachable(),
			QuorumAtRisk: h.health.QuorumAtRisk(),
		}
	}

	h.writeJSON(w, r, http.StatusOK, resp)
}
