package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/permamesh/permamesh-go/internal/core/domain"
	"github.com/permamesh/permamesh-go/pkg/crypto/adaptive"
)

type fakeVerifier struct {
	mu       sync.Mutex
	payloads map[string]*domain.TokenPayload
	errs     map[string]error
	used     map[string]bool
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{
		payloads: make(map[string]*domain.TokenPayload),
		errs:     make(map[string]error),
		used:     make(map[string]bool),
	}
}

func (v *fakeVerifier) accept(token string, perms uint32) *domain.TokenPayload {
	p := &domain.TokenPayload{
		JTI:         "jti-" + token,
		Issuer:      "issuer",
		Audience:    "permamesh",
		IssuedAt:    time.Now().Unix(),
		ExpiresAt:   time.Now().Add(time.Minute).Unix(),
		Department:  "records",
		Permissions: perms,
		ValidationResults: domain.ValidationResults{
			Score: 0.8,
		},
	}
	v.mu.Lock()
	v.payloads[token] = p
	v.mu.Unlock()
	return p
}

func (v *fakeVerifier) reject(token string, err error) {
	v.mu.Lock()
	v.errs[token] = err
	v.mu.Unlock()
}

func (v *fakeVerifier) VerifyToken(token string) (*domain.TokenPayload, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err, ok := v.errs[token]; ok {
		return nil, err
	}
	p, ok := v.payloads[token]
	if !ok {
		return nil, domain.ErrTokenMalformed
	}
	if v.used[token] {
		return nil, domain.ErrTokenReplay
	}
	v.used[token] = true
	return p, nil
}

// fakeConsensus commits instantly by invoking the service executor, or
// admits without ever committing when commit is false.
type fakeConsensus struct {
	svc      *StorageService
	verifier *fakeVerifier

	commit   bool
	admitErr error

	mu        sync.Mutex
	committed map[string]bool
	admitted  int
}

func (c *fakeConsensus) ProcessRequest(ctx context.Context, req *domain.Request) error {
	if c.admitErr != nil {
		return c.admitErr
	}
	c.mu.Lock()
	c.admitted++
	c.mu.Unlock()
	if !c.commit {
		return nil
	}

	c.verifier.mu.Lock()
	payload := c.verifier.payloads[req.Token]
	c.verifier.mu.Unlock()
	if payload == nil {
		return domain.ErrConsensusInvalidToken
	}
	if err := c.svc.Execute(ctx, req, payload); err != nil {
		return err
	}
	c.mu.Lock()
	c.committed[req.ID] = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConsensus) Committed(requestID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.committed[requestID]
}

// memStore is an in-memory RecordStore with optional export support.
type memStore struct {
	mu      sync.Mutex
	records map[string]*domain.PermanentRecord
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*domain.PermanentRecord)}
}

func (m *memStore) StoreRecord(ctx context.Context, rec *domain.PermanentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return domain.ErrRecordConflict.WithDetails(rec.ID)
	}
	rec.ShardID = 1
	rec.BlockHeight = 0
	m.records[rec.ID] = rec
	return nil
}

func (m *memStore) GetRecord(ctx context.Context, id string) (*domain.PermanentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, domain.ErrRecordNotFound.WithDetails(id)
	}
	return rec, nil
}

func (m *memStore) VerifyRecord(ctx context.Context, id string) (bool, error) {
	rec, err := m.GetRecord(ctx, id)
	if err != nil {
		return false, err
	}
	return rec.VerifyHash(), nil
}

func (m *memStore) Query(ctx context.Context, criteria *domain.QueryCriteria) ([]*domain.PermanentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.PermanentRecord
	for _, rec := range m.records {
		if criteria == nil || criteria.Matches(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memStore) ExportShard(ctx context.Context, shardID uint32, w io.Writer, cipher adaptive.Cipher) error {
	_, err := w.Write([]byte("export"))
	return err
}

func newTestService(t *testing.T, cfg StorageServiceConfig) (*StorageService, *fakeVerifier, *fakeConsensus, *memStore) {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	verifier := newFakeVerifier()
	store := newMemStore()
	svc := NewStorageService(verifier, store, cfg)
	consensus := &fakeConsensus{
		svc:       svc,
		verifier:  verifier,
		commit:    true,
		committed: make(map[string]bool),
	}
	svc.BindConsensus(consensus)
	return svc, verifier, consensus, store
}

func TestProcessRequest(t *testing.T) {
	t.Run("commits and returns the record", func(t *testing.T) {
		svc, verifier, _, _ := newTestService(t, StorageServiceConfig{})
		payload := verifier.accept("tok", domain.PermStore)

		rec, err := svc.ProcessRequest(context.Background(), "tok", []byte("hello"))
		if err != nil {
			t.Fatalf("ProcessRequest: %v", err)
		}
		if rec.TokenID != payload.JTI {
			t.Errorf("TokenID = %s, want %s", rec.TokenID, payload.JTI)
		}
		if rec.Department != "records" {
			t.Errorf("Department = %s", rec.Department)
		}
		if rec.Score != 0.8 {
			t.Errorf("Score = %v", rec.Score)
		}
		if !bytes.Equal(rec.Data, []byte("hello")) {
			t.Error("payload data mismatch")
		}
		if !rec.VerifyHash() {
			t.Error("stored record hash does not verify")
		}
	})

	t.Run("consensus rejection propagates", func(t *testing.T) {
		svc, _, consensus, _ := newTestService(t, StorageServiceConfig{})
		consensus.admitErr = domain.ErrConsensusInvalidToken.WithCause(domain.ErrTokenLowScore)

		_, err := svc.ProcessRequest(context.Background(), "whatever", []byte("x"))
		if !errors.Is(err, domain.ErrConsensusInvalidToken) {
			t.Errorf("error = %v, want ErrConsensusInvalidToken", err)
		}
	})

	t.Run("unbound consensus fails fast", func(t *testing.T) {
		verifier := newFakeVerifier()
		svc := NewStorageService(verifier, newMemStore(), StorageServiceConfig{
			Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		})
		_, err := svc.ProcessRequest(context.Background(), "tok", nil)
		if !errors.Is(err, domain.ErrInternalServer) {
			t.Errorf("error = %v, want ErrInternalServer", err)
		}
	})

	t.Run("commit timeout", func(t *testing.T) {
		svc, verifier, consensus, _ := newTestService(t, StorageServiceConfig{
			ConsensusTimeout: 50 * time.Millisecond,
		})
		consensus.commit = false
		verifier.accept("tok-slow", domain.PermStore)

		_, err := svc.ProcessRequest(context.Background(), "tok-slow", []byte("x"))
		if !errors.Is(err, domain.ErrConsensusQuorumNotReached) {
			t.Errorf("error = %v, want ErrConsensusQuorumNotReached", err)
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		svc, verifier, consensus, _ := newTestService(t, StorageServiceConfig{
			ConsensusTimeout: time.Minute,
		})
		consensus.commit = false
		verifier.accept("tok-cancel", domain.PermStore)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		_, err := svc.ProcessRequest(ctx, "tok-cancel", []byte("x"))
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("error = %v, want DeadlineExceeded", err)
		}
	})
}

func TestProcessRequestRateLimit(t *testing.T) {
	svc, verifier, _, _ := newTestService(t, StorageServiceConfig{
		RateLimit: 1,
		RateBurst: 1,
	})
	verifier.accept("tok-1", domain.PermStore)
	verifier.accept("tok-2", domain.PermStore)

	if _, err := svc.ProcessRequest(context.Background(), "tok-1", []byte("a")); err != nil {
		t.Fatalf("first request: %v", err)
	}
	_, err := svc.ProcessRequest(context.Background(), "tok-2", []byte("b"))
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Errorf("error = %v, want ErrRateLimited", err)
	}
}

func TestProcessBatch(t *testing.T) {
	svc, verifier, _, _ := newTestService(t, StorageServiceConfig{
		BatchConcurrency: 4,
	})
	verifier.accept("tok-0", domain.PermStore)
	verifier.reject("tok-1", domain.ErrTokenLowScore)
	verifier.accept("tok-2", domain.PermStore)

	// The fake consensus verifies on commit; rejected tokens fail at
	// admission inside the real engine, here at the payload lookup.
	items := []BatchItem{
		{Token: "tok-0", Data: []byte("zero")},
		{Token: "tok-1", Data: []byte("one")},
		{Token: "tok-2", Data: []byte("two")},
	}
	results := svc.ProcessBatch(context.Background(), items)

	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	for i, res := range results {
		if res.Index != i {
			t.Errorf("result %d has index %d", i, res.Index)
		}
	}
	if results[0].Err != nil {
		t.Errorf("item 0: %v", results[0].Err)
	}
	if results[1].Err == nil {
		t.Error("item 1 with rejected token succeeded")
	}
	if results[2].Err != nil {
		t.Errorf("item 2: %v, bad sibling must not poison the batch", results[2].Err)
	}
	if !bytes.Equal(results[2].Record.Data, []byte("two")) {
		t.Error("item 2 record data mismatch")
	}
}

func TestReadOperationsRequireQueryPermission(t *testing.T) {
	svc, verifier, _, _ := newTestService(t, StorageServiceConfig{})
	verifier.accept("tok-store", domain.PermStore)
	rec, err := svc.ProcessRequest(context.Background(), "tok-store", []byte("data"))
	if err != nil {
		t.Fatal(err)
	}

	t.Run("store-only token rejected", func(t *testing.T) {
		verifier.accept("tok-storeonly", domain.PermStore)
		if _, err := svc.GetRecord(context.Background(), "tok-storeonly", rec.ID); !errors.Is(err, domain.ErrTokenNoPermissions) {
			t.Errorf("error = %v, want ErrTokenNoPermissions", err)
		}
	})

	t.Run("get", func(t *testing.T) {
		verifier.accept("tok-q1", domain.PermQuery)
		got, err := svc.GetRecord(context.Background(), "tok-q1", rec.ID)
		if err != nil {
			t.Fatalf("GetRecord: %v", err)
		}
		if got.ID != rec.ID {
			t.Errorf("record id = %s, want %s", got.ID, rec.ID)
		}
	})

	t.Run("verify", func(t *testing.T) {
		verifier.accept("tok-q2", domain.PermQuery)
		ok, err := svc.VerifyRecord(context.Background(), "tok-q2", rec.ID)
		if err != nil {
			t.Fatalf("VerifyRecord: %v", err)
		}
		if !ok {
			t.Error("record failed verification")
		}
	})

	t.Run("query", func(t *testing.T) {
		verifier.accept("tok-q3", domain.PermQuery)
		recs, err := svc.QueryRecords(context.Background(), "tok-q3", &domain.QueryCriteria{Department: "records"})
		if err != nil {
			t.Fatalf("QueryRecords: %v", err)
		}
		if len(recs) != 1 {
			t.Errorf("query returned %d records, want 1", len(recs))
		}
	})

	t.Run("tokens are single use", func(t *testing.T) {
		verifier.accept("tok-q4", domain.PermQuery)
		if _, err := svc.GetRecord(context.Background(), "tok-q4", rec.ID); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.GetRecord(context.Background(), "tok-q4", rec.ID); !errors.Is(err, domain.ErrTokenReplay) {
			t.Errorf("error = %v, want ErrTokenReplay", err)
		}
	})
}

func TestExportShard(t *testing.T) {
	svc, verifier, _, _ := newTestService(t, StorageServiceConfig{})

	t.Run("requires export permission", func(t *testing.T) {
		verifier.accept("tok-noexp", domain.PermQuery)
		err := svc.ExportShard(context.Background(), "tok-noexp", 0, &bytes.Buffer{})
		if !errors.Is(err, domain.ErrTokenNoPermissions) {
			t.Errorf("error = %v, want ErrTokenNoPermissions", err)
		}
	})

	t.Run("exports with permission", func(t *testing.T) {
		verifier.accept("tok-exp", domain.PermExport)
		var buf bytes.Buffer
		if err := svc.ExportShard(context.Background(), "tok-exp", 0, &buf); err != nil {
			t.Fatalf("ExportShard: %v", err)
		}
		if buf.Len() == 0 {
			t.Error("export wrote nothing")
		}
	})
}

func TestExecuteIdempotent(t *testing.T) {
	svc, verifier, _, store := newTestService(t, StorageServiceConfig{})
	payload := verifier.accept("tok-x", domain.PermStore)
	req := domain.NewRequest("tok-x", []byte("data"))

	if err := svc.Execute(context.Background(), req, payload); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	// A replica re-executing after a view change must not duplicate or
	// fail on the existing record.
	if err := svc.Execute(context.Background(), req, payload); err != nil {
		t.Fatalf("second Execute: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.records) != 1 {
		t.Errorf("store holds %d records, want 1", len(store.records))
	}
}
