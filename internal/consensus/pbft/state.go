package pbft

import (
	"sync"

	"github.com/permamesh/permamesh-go/internal/core/domain"
)

// slotPhase tracks how far a (view, sequence) slot has progressed.
type slotPhase uint8

const (
	phaseIdle slotPhase = iota
	phasePrePrepared
	phasePrepared
	phaseCommitted
)

func (p slotPhase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phasePrePrepared:
		return "pre-prepared"
	case phasePrepared:
		return "prepared"
	case phaseCommitted:
		return "committed"
	default:
		return "unknown"
	}
}

// slot holds the per-(view, sequence) voting state. Vote sets are keyed
// by node id, so a node voting twice counts once.
type slot struct {
	view     uint64
	sequence uint64

	request *domain.Request
	payload *domain.TokenPayload
	digest  []byte

	prepares map[string]bool
	commits  map[string]bool

	phase      slotPhase
	selfVotedP bool // this node broadcast its PREPARE
	selfVotedC bool // this node broadcast its COMMIT
}

func newSlot(view, sequence uint64) *slot {
	return &slot{
		view:     view,
		sequence: sequence,
		prepares: make(map[string]bool),
		commits:  make(map[string]bool),
	}
}

// maxCommittedHistory caps the committed set. Request ids older than
// the window can no longer be deduplicated here; their tokens were
// consumed at admission, so a replay fails verification instead.
const maxCommittedHistory = 4096

// slotTable is the concurrent map of live slots plus the committed set
// that makes execution idempotent across views.
type slotTable struct {
	mu sync.Mutex

	slots map[string]*slot

	// committed records executed request ids so a request re-proposed
	// in a later view is acknowledged, not re-executed.
	committed map[string]bool
	order     []string // committed insertion order, for eviction
}

func newSlotTable() *slotTable {
	return &slotTable{
		slots:     make(map[string]*slot),
		committed: make(map[string]bool),
	}
}

// getOrCreate returns the slot for a key, creating it on first touch.
func (t *slotTable) getOrCreate(key string, view, sequence uint64) *slot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.slots[key]
	if !ok {
		s = newSlot(view, sequence)
		t.slots[key] = s
	}
	return s
}

// markCommitted adds a request id to the committed set, evicting the
// oldest entries beyond the retention cap. Caller holds t.mu.
func (t *slotTable) markCommitted(requestID string) {
	t.committed[requestID] = true
	t.order = append(t.order, requestID)
	for len(t.order) > maxCommittedHistory {
		delete(t.committed, t.order[0])
		t.order = t.order[1:]
	}
}

// isCommitted reports whether a request id already executed.
func (t *slotTable) isCommitted(requestID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.committed[requestID]
}

// dropView discards live slots belonging to views older than minView.
// Called on view change; the committed set survives.
func (t *slotTable) dropView(minView uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, s := range t.slots {
		if s.view < minView && s.phase != phaseCommitted {
			delete(t.slots, key)
		}
	}
}
