// Package httpserver provides the HTTP/HTTPS server for PermaMesh.
package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/permamesh/permamesh-go/internal/consensus/pbft"
	"github.com/permamesh/permamesh-go/internal/server/httpserver/handler"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	// Handler is the business API handler.
	Handler *handler.Handler

	// Consensus serves peer-to-peer consensus messages. Optional; nil
	// on single-node deployments that keep consensus in process.
	Consensus http.Handler

	// Metrics serves the Prometheus exposition endpoint. Optional.
	Metrics http.Handler

	// Logger for request logging.
	Logger *slog.Logger

	// AdminAllowList is the IP/CIDR allowlist for admin API (empty = no restriction).
	AdminAllowList []string

	// CORSAllowedOrigins is the list of allowed CORS origins (empty = allow all).
	CORSAllowedOrigins []string

	// GlobalRateLimit is the global rate limit per IP (requests/second).
	GlobalRateLimit int

	// EnableAudit enables audit logging for all requests.
	EnableAudit bool
}

// NewRouter creates and configures the HTTP router with all routes and middleware.
//
// Business endpoints carry their own authorization: every request is
// gated by the capability token it presents, so there is no separate
// authentication middleware.
//
// @design DS-0301, DS-0302
func NewRouter(cfg *RouterConfig) http.Handler {
	h := cfg.Handler

	mux := http.NewServeMux()

	// Health endpoints - minimal middleware so a wedged limiter can
	// never mask liveness
	healthHandler := Chain(h, RequestID(), Recover(cfg.Logger))
	mux.Handle("GET /health", healthHandler)
	mux.Handle("GET /ready", healthHandler)

	// Metrics endpoint
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", Chain(cfg.Metrics, RequestID(), Recover(cfg.Logger)))
	}

	// Consensus peer endpoint - replica-to-replica traffic bypasses the
	// client rate limit; messages authenticate by signature
	if cfg.Consensus != nil {
		mux.Handle("POST "+pbft.ConsensusPath, Chain(cfg.Consensus, RequestID(), Recover(cfg.Logger)))
	}

	// Business API endpoints
	businessMiddlewares := []Middleware{
		RequestID(),
		Recover(cfg.Logger),
		CORS(cfg.CORSAllowedOrigins),
	}
	if cfg.EnableAudit {
		businessMiddlewares = append(businessMiddlewares, Audit(cfg.Logger))
	}
	if cfg.GlobalRateLimit > 0 {
		businessMiddlewares = append(businessMiddlewares, RateLimit(cfg.GlobalRateLimit))
	}
	businessHandler := Chain(h, businessMiddlewares...)

	// Record endpoints
	mux.Handle("POST /v1/records", businessHandler)
	mux.Handle("POST /v1/records/batch", businessHandler)
	mux.Handle("GET /v1/records/{id}", businessHandler)
	mux.Handle("GET /v1/records/{id}/verify", businessHandler)
	mux.Handle("POST /v1/records/query", businessHandler)

	// Shard export
	mux.Handle("GET /v1/shards/{shard_id}/export", businessHandler)

	// Admin API endpoints - optional network ACL
	adminMiddlewares := []Middleware{
		RequestID(),
		Recover(cfg.Logger),
	}
	if len(cfg.AdminAllowList) > 0 {
		adminMiddlewares = append(adminMiddlewares, NetworkACL(&NetworkACLConfig{
			AllowList: cfg.AdminAllowList,
			Logger:    cfg.Logger,
		}))
	}
	if cfg.EnableAudit {
		adminMiddlewares = append(adminMiddlewares, Audit(cfg.Logger))
	}
	adminHandler := Chain(h, adminMiddlewares...)

	mux.Handle("GET /admin/v1/status/summary", adminHandler)

	return mux
}

// DefaultRouterConfig returns default router configuration.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		GlobalRateLimit: 1000, // 1000 requests/second per IP
		EnableAudit:     true,
	}
}
