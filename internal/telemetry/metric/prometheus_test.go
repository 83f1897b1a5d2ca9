package metric

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("NewRegistry() returned nil")
	}
	if r.reg == nil {
		t.Fatal("prometheus registry is nil")
	}

	// Two registries must not collide (private registries, not the
	// global default).
	if second := NewRegistry(); second == nil {
		t.Fatal("second NewRegistry() returned nil")
	}
}

func TestRegistryHandler(t *testing.T) {
	r := NewRegistry()

	r.TokensVerified.Inc()
	r.TokensRejected.WithLabelValues("PM-TOKN-4030").Inc()
	r.RequestsTotal.WithLabelValues("store", "ok").Inc()
	r.RequestDuration.WithLabelValues("store").Observe(0.042)
	r.ConsensusCommits.Inc()
	r.RecordsStored.Add(3)
	r.QuorumAtRisk.Set(1)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	text := string(body)

	for _, want := range []string{
		"permamesh_tokens_verified_total 1",
		`permamesh_tokens_rejected_total{reason="PM-TOKN-4030"} 1`,
		`permamesh_requests_total{operation="store",outcome="ok"} 1`,
		"permamesh_consensus_commits_total 1",
		"permamesh_records_stored_total 3",
		"permamesh_quorum_at_risk 1",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

type fakeStatsSource struct {
	records int
	sealed  int
}

func (f fakeStatsSource) Count() int            { return f.records }
func (f fakeStatsSource) SealedBlockCount() int { return f.sealed }

func TestLedgerCollector(t *testing.T) {
	r := NewRegistry()
	r.Prometheus().MustRegister(NewLedgerCollector(fakeStatsSource{records: 2500, sealed: 2}))

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	if !strings.Contains(text, "permamesh_ledger_records 2500") {
		t.Errorf("missing ledger records gauge:\n%s", text)
	}
	if !strings.Contains(text, "permamesh_ledger_sealed_blocks 2") {
		t.Errorf("missing sealed blocks gauge:\n%s", text)
	}
}
