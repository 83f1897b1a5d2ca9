package gossip

import (
	"log/slog"
	"sort"
	"sync"
)

// Tracker watches which registered consensus nodes are reachable and
// raises an alarm when the unreachable count exceeds the fault budget
// f = (n-1)/3: past that point the 2f+1 quorum is unreachable and no
// request can commit.
type Tracker struct {
	mu       sync.Mutex
	expected map[string]bool
	alive    map[string]bool
	f        int
	logger   *slog.Logger
	atRisk   bool
}

// NewTracker creates a tracker for a static node registry. All nodes
// start unreachable until gossip reports them.
func NewTracker(nodes []string, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	expected := make(map[string]bool, len(nodes))
	for _, id := range nodes {
		expected[id] = true
	}
	return &Tracker{
		expected: expected,
		alive:    make(map[string]bool, len(nodes)),
		f:        (len(nodes) - 1) / 3,
		logger:   logger,
	}
}

// Attach wires the tracker to a discovery instance's events.
func (t *Tracker) Attach(d *Discovery) {
	d.OnJoin(func(nodeID, _ string) { t.MarkAlive(nodeID) })
	d.OnLeave(t.MarkDead)
}

// MarkAlive records a node as reachable. Nodes outside the registry are
// logged and ignored: gossip never grows the voter set.
func (t *Tracker) MarkAlive(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.expected[nodeID] {
		t.logger.Warn("gossip reported a node outside the consensus registry",
			"node_id", nodeID)
		return
	}
	t.alive[nodeID] = true
	t.reassess()
}

// MarkDead records a node as unreachable.
func (t *Tracker) MarkDead(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.expected[nodeID] {
		return
	}
	delete(t.alive, nodeID)
	t.reassess()
}

// Unreachable returns the registered nodes currently unreachable,
// sorted for stable output.
func (t *Tracker) Unreachable() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []string
	for id := range t.expected {
		if !t.alive[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// QuorumAtRisk reports whether more than f registered nodes are
// unreachable.
func (t *Tracker) QuorumAtRisk() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unreachableCount() > t.f
}

func (t *Tracker) unreachableCount() int {
	n := 0
	for id := range t.expected {
		if !t.alive[id] {
			n++
		}
	}
	return n
}

// reassess logs transitions across the fault budget. Caller holds mu.
func (t *Tracker) reassess() {
	down := t.unreachableCount()
	atRisk := down > t.f
	if atRisk == t.atRisk {
		return
	}
	t.atRisk = atRisk

	if atRisk {
		t.logger.Warn("quorum at risk: unreachable nodes exceed fault budget",
			"unreachable", down,
			"fault_budget", t.f)
	} else {
		t.logger.Info("quorum restored",
			"unreachable", down,
			"fault_budget", t.f)
	}
}
