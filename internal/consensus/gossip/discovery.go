package gossip

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"

	"github.com/hashicorp/memberlist"
)

// nodeMetadata is gossiped alongside liveness so peers learn where to
// reach a node's consensus endpoint without a separate lookup.
type nodeMetadata struct {
	// ConsensusAddr is the base URL consensus messages are posted to.
	ConsensusAddr string `json:"consensus_addr"`

	// ClusterID guards against nodes of different clusters gossiping
	// into each other.
	ClusterID string `json:"cluster_id,omitempty"`
}

// Discovery tracks node liveness over the gossip protocol.
type Discovery struct {
	config     *memberlist.Config
	memberList *memberlist.Memberlist
	logger     *slog.Logger
	shutdown   bool

	onJoin   func(nodeID, consensusAddr string)
	onLeave  func(nodeID string)
	onUpdate func(nodeID string)
}

// Config configures the discovery mechanism.
type Config struct {
	// NodeID is the unique node identifier. Must match the id the node
	// uses in consensus.
	NodeID string

	// BindAddr is the address to bind for gossip communication.
	BindAddr string

	// BindPort is the port to bind for gossip communication.
	BindPort int

	// ConsensusAddr is this node's consensus endpoint base URL, shared
	// with peers through node metadata.
	ConsensusAddr string

	// ClusterID isolates this cluster's gossip from others.
	ClusterID string

	// SeedNodes are the initial gossip addresses to join.
	SeedNodes []string

	// Logger for logging.
	Logger *slog.Logger
}

// NewDiscovery creates a discovery instance and, when seed nodes are
// given, joins the cluster.
func NewDiscovery(cfg Config) (*Discovery, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = cfg.NodeID
	mlConfig.BindAddr = cfg.BindAddr
	mlConfig.BindPort = cfg.BindPort
	mlConfig.LogOutput = &slogWriter{logger: cfg.Logger}

	meta, err := json.Marshal(nodeMetadata{
		ConsensusAddr: cfg.ConsensusAddr,
		ClusterID:     cfg.ClusterID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal node metadata: %w", err)
	}
	mlConfig.Delegate = &metadataDelegate{meta: meta}

	d := &Discovery{
		config: mlConfig,
		logger: cfg.Logger,
	}
	mlConfig.Events = &eventDelegate{discovery: d}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("create memberlist: %w", err)
	}
	d.memberList = ml

	if len(cfg.SeedNodes) > 0 {
		n, err := ml.Join(cfg.SeedNodes)
		if err != nil {
			ml.Shutdown()
			return nil, fmt.Errorf("join seed nodes: %w", err)
		}
		cfg.Logger.Info("joined cluster",
			"node_id", cfg.NodeID,
			"seed_nodes", cfg.SeedNodes,
			"joined_count", n)
	} else {
		cfg.Logger.Info("started discovery (bootstrap mode)",
			"node_id", cfg.NodeID)
	}

	return d, nil
}

// Members returns the currently reachable members.
func (d *Discovery) Members() []*memberlist.Node {
	if d.memberList == nil {
		return nil
	}
	return d.memberList.Members()
}

// LocalNode returns the local node information.
func (d *Discovery) LocalNode() *memberlist.Node {
	if d.memberList == nil {
		return nil
	}
	return d.memberList.LocalNode()
}

// Leave gracefully announces departure to the cluster.
func (d *Discovery) Leave() error {
	if d.memberList == nil {
		return nil
	}
	if err := d.memberList.Leave(0); err != nil {
		d.logger.Error("failed to leave cluster", "error", err)
		return err
	}
	d.logger.Info("left cluster")
	return nil
}

// Shutdown stops gossip. Safe to call more than once.
func (d *Discovery) Shutdown() error {
	if d.shutdown || d.memberList == nil {
		return nil
	}
	d.shutdown = true

	if err := d.memberList.Shutdown(); err != nil {
		return fmt.Errorf("shutdown memberlist: %w", err)
	}
	d.logger.Info("discovery shutdown complete")
	return nil
}

// OnJoin registers a callback for node join events. The callback
// receives the peer's consensus endpoint, not its gossip address.
func (d *Discovery) OnJoin(fn func(nodeID, consensusAddr string)) {
	d.onJoin = fn
}

// OnLeave registers a callback for node leave events.
func (d *Discovery) OnLeave(fn func(nodeID string)) {
	d.onLeave = fn
}

// OnUpdate registers a callback for node update events.
func (d *Discovery) OnUpdate(fn func(nodeID string)) {
	d.onUpdate = fn
}

// eventDelegate implements memberlist.EventDelegate.
type eventDelegate struct {
	discovery *Discovery
}

func (e *eventDelegate) NotifyJoin(node *memberlist.Node) {
	gossipAddr := net.JoinHostPort(node.Addr.String(), fmt.Sprintf("%d", node.Port))

	var meta nodeMetadata
	if len(node.Meta) > 0 {
		if err := json.Unmarshal(node.Meta, &meta); err != nil {
			e.discovery.logger.Warn("node joined with unreadable metadata",
				"node_id", node.Name,
				"error", err)
		}
	}
	consensusAddr := meta.ConsensusAddr
	if consensusAddr == "" {
		e.discovery.logger.Warn("node joined without consensus metadata, using gossip address",
			"node_id", node.Name,
			"gossip_addr", gossipAddr)
		consensusAddr = gossipAddr
	}

	e.discovery.logger.Info("node joined",
		"node_id", node.Name,
		"gossip_addr", gossipAddr,
		"consensus_addr", consensusAddr)

	if e.discovery.onJoin != nil {
		e.discovery.onJoin(node.Name, consensusAddr)
	}
}

func (e *eventDelegate) NotifyLeave(node *memberlist.Node) {
	e.discovery.logger.Info("node left",
		"node_id", node.Name,
		"addr", node.Addr.String())

	if e.discovery.onLeave != nil {
		e.discovery.onLeave(node.Name)
	}
}

func (e *eventDelegate) NotifyUpdate(node *memberlist.Node) {
	e.discovery.logger.Debug("node updated",
		"node_id", node.Name,
		"addr", node.Addr.String())

	if e.discovery.onUpdate != nil {
		e.discovery.onUpdate(node.Name)
	}
}

// slogWriter adapts slog.Logger to io.Writer for memberlist's logger.
type slogWriter struct {
	logger *slog.Logger
}

func (w *slogWriter) Write(p []byte) (n int, err error) {
	w.logger.Debug(string(p))
	return len(p), nil
}

// metadataDelegate serves this node's metadata to memberlist.
type metadataDelegate struct {
	meta []byte
}

// NodeMeta returns metadata about this node (up to 512 bytes).
func (m *metadataDelegate) NodeMeta(limit int) []byte {
	if len(m.meta) > limit {
		return m.meta[:limit]
	}
	return m.meta
}

func (m *metadataDelegate) NotifyMsg([]byte) {}

func (m *metadataDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }

func (m *metadataDelegate) LocalState(join bool) []byte { return nil }

func (m *metadataDelegate) MergeRemoteState(buf []byte, join bool) {}
