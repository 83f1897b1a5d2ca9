package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/permamesh/permamesh-go/internal/core/domain"
	"github.com/permamesh/permamesh-go/internal/telemetry/metric"
	"github.com/permamesh/permamesh-go/pkg/crypto/adaptive"
)

// DefaultConsensusTimeout bounds how long a caller waits for commit.
const DefaultConsensusTimeout = 10 * time.Second

// DefaultBatchConcurrency bounds parallel batch item processing.
const DefaultBatchConcurrency = 8

// Consensus is the ordering dependency of the service. Implemented by
// the pbft engine.
type Consensus interface {
	// ProcessRequest admits a request into consensus. Returns once the
	// request is admitted (or rejected), not once it commits.
	ProcessRequest(ctx context.Context, req *domain.Request) error

	// Committed reports whether a request id has committed.
	Committed(requestID string) bool
}

// TokenVerifier validates capability tokens. Implemented by the
// verify package.
type TokenVerifier interface {
	// VerifyToken validates and consumes the token's single use.
	VerifyToken(token string) (*domain.TokenPayload, error)
}

// RecordStore is the ledger dependency of the service.
type RecordStore interface {
	StoreRecord(ctx context.Context, record *domain.PermanentRecord) error
	GetRecord(ctx context.Context, id string) (*domain.PermanentRecord, error)
	VerifyRecord(ctx context.Context, id string) (bool, error)
	Query(ctx context.Context, criteria *domain.QueryCriteria) ([]*domain.PermanentRecord, error)
}

// ShardExporter produces encrypted shard snapshots. Implemented by the
// ledger store.
type ShardExporter interface {
	ExportShard(ctx context.Context, shardID uint32, w io.Writer, cipher adaptive.Cipher) error
}

// StorageServiceConfig holds configuration for StorageService.
type StorageServiceConfig struct {
	// ConsensusTimeout is how long ProcessRequest waits for commit
	// (default DefaultConsensusTimeout).
	ConsensusTimeout time.Duration

	// RateLimit is the admission rate in requests per second.
	// Zero or negative disables rate limiting.
	RateLimit float64

	// RateBurst is the admission burst size (defaults to RateLimit).
	RateBurst int

	// BatchConcurrency bounds parallel batch items
	// (default DefaultBatchConcurrency).
	BatchConcurrency int

	// ExportCipher encrypts shard exports when set.
	ExportCipher adaptive.Cipher

	// Metrics receives service counters when set.
	Metrics *metric.Registry

	// Logger is the structured logger.
	Logger *slog.Logger
}

// StorageService orchestrates the token-gated permanent-record pipeline:
// verification, consensus ordering, then ledger storage. It implements
// the consensus executor, so every replica funnels committed requests
// through the same code path.
type StorageService struct {
	verifier  TokenVerifier
	store     RecordStore
	exporter  ShardExporter
	consensus Consensus

	cfg     StorageServiceConfig
	limiter *rate.Limiter
	metrics *metric.Registry
	logger  *slog.Logger

	mu      sync.Mutex
	waiters map[string][]chan *domain.PermanentRecord
}

// NewStorageService creates a StorageService. Consensus is bound
// separately with BindConsensus because the engine needs the service
// as its executor.
func NewStorageService(verifier TokenVerifier, store RecordStore, cfg StorageServiceConfig) *StorageService {
	if cfg.ConsensusTimeout <= 0 {
		cfg.ConsensusTimeout = DefaultConsensusTimeout
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = DefaultBatchConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RateLimit)
			if burst < 1 {
				burst = 1
			}
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	s := &StorageService{
		verifier: verifier,
		store:    store,
		cfg:      cfg,
		limiter:  limiter,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		waiters:  make(map[string][]chan *domain.PermanentRecord),
	}
	if exporter, ok := store.(ShardExporter); ok {
		s.exporter = exporter
	}
	if cfg.ExportCipher != nil && s.exporter == nil {
		cfg.Logger.Warn("export cipher configured but store cannot export shards")
	}
	return s
}

// BindConsensus attaches the consensus engine. Must be called before
// the first ProcessRequest.
func (s *StorageService) BindConsensus(c Consensus) {
	s.consensus = c
}

// ProcessRequest stores one payload: the token is verified and consumed,
// the request is ordered by consensus, and the call returns the
// committed PermanentRecord with its inclusion proof.
func (s *StorageService) ProcessRequest(ctx context.Context, token string, data []byte) (*domain.PermanentRecord, error) {
	start := time.Now()
	rec, err := s.processOne(ctx, token, data)
	s.observe("store", start, err)
	return rec, err
}

func (s *StorageService) processOne(ctx context.Context, token string, data []byte) (*domain.PermanentRecord, error) {
	if s.consensus == nil {
		return nil, domain.ErrInternalServer.WithDetails("consensus not configured")
	}
	if s.limiter != nil && !s.limiter.Allow() {
		return nil, domain.ErrRateLimited
	}

	req := domain.NewRequest(token, data)
	ch := s.addWaiter(req.ID)

	if err := s.consensus.ProcessRequest(ctx, req); err != nil {
		s.removeWaiter(req.ID, ch)
		s.countRejection(err)
		return nil, err
	}

	select {
	case rec := <-ch:
		return rec, nil
	case <-ctx.Done():
		s.removeWaiter(req.ID, ch)
		return nil, ctx.Err()
	case <-time.After(s.cfg.ConsensusTimeout):
		s.removeWaiter(req.ID, ch)
		// The request may still commit later; the ledger stays the
		// source of truth for retries.
		return nil, domain.ErrConsensusQuorumNotReached.WithDetails(
			"commit not observed within " + s.cfg.ConsensusTimeout.String())
	}
}

// BatchItem is one entry of a batch store call.
type BatchItem struct {
	Token string
	Data  []byte
}

// BatchItemResult pairs a batch item's index with its outcome. Exactly
// one of Record and Err is set.
type BatchItemResult struct {
	Index  int
	Record *domain.PermanentRecord
	Err    error
}

// ProcessBatch stores many payloads with per-item isolation: one
// rejected token or failed commit never affects its siblings.
// Results are returned in input order.
func (s *StorageService) ProcessBatch(ctx context.Context, items []BatchItem) []BatchItemResult {
	start := time.Now()
	results := make([]BatchItemResult, len(items))

	sem := make(chan struct{}, s.cfg.BatchConcurrency)
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item BatchItem) {
			defer wg.Done()
			defer func() { <-sem }()
			rec, err := s.processOne(ctx, item.Token, item.Data)
			results[i] = BatchItemResult{Index: i, Record: rec, Err: err}
		}(i, item)
	}
	wg.Wait()

	s.observe("store_batch", start, nil)
	return results
}

// GetRecord returns a stored record. The token must carry the query
// permission; its single use is consumed.
func (s *StorageService) GetRecord(ctx context.Context, token, id string) (*domain.PermanentRecord, error) {
	start := time.Now()
	rec, err := s.getRecord(ctx, token, id)
	s.observe("get", start, err)
	return rec, err
}

func (s *StorageService) getRecord(ctx context.Context, token, id string) (*domain.PermanentRecord, error) {
	if _, err := s.authorize(token, domain.PermQuery); err != nil {
		return nil, err
	}
	return s.store.GetRecord(ctx, id)
}

// VerifyRecord re-derives the record's hash and inclusion proof against
// its shard's Merkle root.
func (s *StorageService) VerifyRecord(ctx context.Context, token, id string) (bool, error) {
	start := time.Now()
	ok, err := s.verifyRecord(ctx, token, id)
	s.observe("verify", start, err)
	return ok, err
}

func (s *StorageService) verifyRecord(ctx context.Context, token, id string) (bool, error) {
	if _, err := s.authorize(token, domain.PermQuery); err != nil {
		return false, err
	}
	return s.store.VerifyRecord(ctx, id)
}

// QueryRecords scans stored records against the criteria.
func (s *StorageService) QueryRecords(ctx context.Context, token string, criteria *domain.QueryCriteria) ([]*domain.PermanentRecord, error) {
	start := time.Now()
	recs, err := s.queryRecords(ctx, token, criteria)
	s.observe("query", start, err)
	return recs, err
}

func (s *StorageService) queryRecords(ctx context.Context, token string, criteria *domain.QueryCriteria) ([]*domain.PermanentRecord, error) {
	if _, err := s.authorize(token, domain.PermQuery); err != nil {
		return nil, err
	}
	return s.store.Query(ctx, criteria)
}

// ExportShard writes a shard snapshot, encrypted when an export cipher
// is configured. The token must carry the export permission.
func (s *StorageService) ExportShard(ctx context.Context, token string, shardID uint32, w io.Writer) error {
	start := time.Now()
	err := s.exportShard(ctx, token, shardID, w)
	s.observe("export", start, err)
	return err
}

func (s *StorageService) exportShard(ctx context.Context, token string, shardID uint32, w io.Writer) error {
	if s.exporter == nil {
		return domain.ErrInternalServer.WithDetails("store cannot export shards")
	}
	if _, err := s.authorize(token, domain.PermExport); err != nil {
		return err
	}
	return s.exporter.ExportShard(ctx, shardID, w, s.cfg.ExportCipher)
}

// Execute applies a committed request: it is the consensus executor.
// The record is derived purely from the request and token payload, so
// every replica produces the identical record and hash.
func (s *StorageService) Execute(ctx context.Context, req *domain.Request, payload *domain.TokenPayload) error {
	rec := &domain.PermanentRecord{
		ID:          req.ID,
		Timestamp:   req.Timestamp,
		TokenID:     payload.JTI,
		Data:        req.Data,
		Score:       payload.ValidationResults.Score,
		Department:  payload.Department,
		Permissions: payload.Permissions,
	}
	rec.Hash = domain.ComputeRecordHash(rec.ID, rec.Timestamp, rec.TokenID, rec.Data)

	err := s.store.StoreRecord(ctx, rec)
	switch {
	case err == nil:
		if s.metrics != nil {
			s.metrics.ConsensusCommits.Inc()
			s.metrics.RecordsStored.Inc()
		}
	case errors.Is(err, domain.ErrRecordConflict):
		// Re-execution after a view change or a replayed commit: the
		// ledger already holds the record.
		existing, getErr := s.store.GetRecord(ctx, req.ID)
		if getErr != nil {
			return getErr
		}
		rec = existing
	default:
		s.logger.Error("store committed record failed",
			"request_id", req.ID,
			"error", err)
		return err
	}

	s.notifyWaiters(req.ID, rec)
	return nil
}

// authorize verifies a token and checks a permission bit, consuming the
// token's single use.
func (s *StorageService) authorize(token string, perm uint32) (*domain.TokenPayload, error) {
	payload, err := s.verifier.VerifyToken(token)
	if err != nil {
		s.countRejection(err)
		return nil, err
	}
	if !payload.HasPermission(perm) {
		err := domain.ErrTokenNoPermissions.WithDetails("operation not permitted by token")
		s.countRejection(err)
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.TokensVerified.Inc()
	}
	return payload, nil
}

func (s *StorageService) addWaiter(requestID string) chan *domain.PermanentRecord {
	ch := make(chan *domain.PermanentRecord, 1)
	s.mu.Lock()
	s.waiters[requestID] = append(s.waiters[requestID], ch)
	s.mu.Unlock()
	return ch
}

func (s *StorageService) removeWaiter(requestID string, ch chan *domain.PermanentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chans := s.waiters[requestID]
	for i, c := range chans {
		if c == ch {
			s.waiters[requestID] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(s.waiters[requestID]) == 0 {
		delete(s.waiters, requestID)
	}
}

func (s *StorageService) notifyWaiters(requestID string, rec *domain.PermanentRecord) {
	s.mu.Lock()
	chans := s.waiters[requestID]
	delete(s.waiters, requestID)
	s.mu.Unlock()

	for _, ch := range chans {
		ch <- rec
	}
}

// observe records per-operation outcome and latency metrics.
func (s *StorageService) observe(operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		var de *domain.DomainError
		if errors.As(err, &de) && de.HTTPStatus() < 500 {
			outcome = "rejected"
		}
	}
	s.metrics.RequestsTotal.WithLabelValues(operation, outcome).Inc()
	s.metrics.RequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (s *StorageService) countRejection(err error) {
	if s.metrics == nil {
		return
	}
	code := domain.GetErrorCode(err)
	if code == "" {
		code = "unknown"
	}
	s.metrics.TokensRejected.WithLabelValues(code).Inc()
}
