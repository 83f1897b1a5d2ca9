package pbft

import (
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// Default configuration values.
const (
	// DefaultRequestTimeout is how long a backup waits for a slot to
	// commit before suspecting the primary.
	DefaultRequestTimeout = 10 * time.Second

	// DefaultViewChangeTimeout bounds how long a view change itself may
	// take before escalating to the next view.
	DefaultViewChangeTimeout = 20 * time.Second
)

// Config configures a consensus engine.
type Config struct {
	// NodeID is this node's identifier. Must appear in Nodes.
	NodeID string

	// Nodes lists every cluster member's id. The sorted order of this
	// list defines primary rotation.
	Nodes []string

	// RequestTimeout overrides DefaultRequestTimeout when positive.
	RequestTimeout time.Duration

	// ViewChangeTimeout overrides DefaultViewChangeTimeout when positive.
	ViewChangeTimeout time.Duration

	// Logger is the structured logger.
	Logger *slog.Logger
}

// membership is the immutable view of the cluster derived from Config.
type membership struct {
	selfID    string
	sortedIDs []string
	n         int
	f         int
	quorum    int
}

func newMembership(cfg Config) (*membership, error) {
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("pbft: node id is required")
	}
	if len(cfg.Nodes) == 0 {
		return nil, fmt.Errorf("pbft: node list is required")
	}

	ids := make([]string, 0, len(cfg.Nodes))
	seen := make(map[string]bool, len(cfg.Nodes))
	selfFound := false
	for _, id := range cfg.Nodes {
		if seen[id] {
			return nil, fmt.Errorf("pbft: duplicate node id %q", id)
		}
		seen[id] = true
		ids = append(ids, id)
		if id == cfg.NodeID {
			selfFound = true
		}
	}
	if !selfFound {
		return nil, fmt.Errorf("pbft: node id %q not in node list", cfg.NodeID)
	}
	sort.Strings(ids)

	n := len(ids)
	f := (n - 1) / 3

	return &membership{
		selfID:    cfg.NodeID,
		sortedIDs: ids,
		n:         n,
		f:         f,
		quorum:    2*f + 1,
	}, nil
}

// primaryFor returns the primary node id for a view.
func (m *membership) primaryFor(view uint64) string {
	return m.sortedIDs[view%uint64(m.n)]
}

// contains reports whether the id is a cluster member.
func (m *membership) contains(id string) bool {
	for _, n := range m.sortedIDs {
		if n == id {
			return true
		}
	}
	return false
}
