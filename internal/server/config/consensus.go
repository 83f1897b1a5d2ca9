// Package config defines the server configuration structure.
package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/permamesh/permamesh-go/internal/consensus/gossip"
	"github.com/permamesh/permamesh-go/internal/consensus/pbft"
	"github.com/permamesh/permamesh-go/internal/storage"
	"github.com/permamesh/permamesh-go/internal/storage/ledger"
	"github.com/permamesh/permamesh-go/internal/storage/snapshot"
	"github.com/permamesh/permamesh-go/internal/storage/wal"
	"github.com/permamesh/permamesh-go/pkg/captoken"
	"github.com/permamesh/permamesh-go/pkg/crypto/adaptive"
)

// ToConsensusConfig converts ServerConfig to pbft.Config.
//
// This handles default value population, NodeID generation, and field mapping.
func ToConsensusConfig(cfg *ServerConfig, logger *slog.Logger) (pbft.Config, error) {
	if cfg == nil {
		return pbft.Config{}, fmt.Errorf("server config is nil")
	}

	nodeID := cfg.Consensus.NodeID
	if nodeID == "" {
		generated, err := generateNodeID()
		if err != nil {
			return pbft.Config{}, fmt.Errorf("generate node ID: %w", err)
		}
		nodeID = generated
		logger.Info("generated consensus node ID", "node_id", nodeID)
	}

	ids := make([]string, 0, len(cfg.Consensus.Nodes))
	for _, n := range cfg.Consensus.Nodes {
		ids = append(ids, n.ID)
	}
	// A generated id stands in for the whole membership on a
	// single-node development cluster.
	if len(ids) == 0 || (cfg.Consensus.NodeID == "" && len(ids) == 1) {
		ids = []string{nodeID}
	}

	return pbft.Config{
		NodeID:            nodeID,
		Nodes:             ids,
		RequestTimeout:    cfg.Consensus.RequestTimeout,
		ViewChangeTimeout: cfg.Consensus.ViewChangeTimeout,
		Logger:            logger,
	}, nil
}

// BuildAuthenticator constructs the consensus message authenticator
// from this node's private key and the membership registry.
func BuildAuthenticator(cfg *ConsensusSection) (*pbft.Ed25519Authenticator, error) {
	raw, err := base64.StdEncoding.DecodeString(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}

	peers := make(map[string]ed25519.PublicKey, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		pub, err := base64.StdEncoding.DecodeString(n.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("decode public key for %q: %w", n.ID, err)
		}
		peers[n.ID] = ed25519.PublicKey(pub)
	}

	return pbft.NewEd25519Authenticator(cfg.NodeID, ed25519.PrivateKey(raw), peers)
}

// PeerEndpoints returns the consensus endpoint for every peer (this
// node excluded), keyed by node id.
func PeerEndpoints(cfg *ConsensusSection) map[string]string {
	endpoints := make(map[string]string, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		if n.ID == cfg.NodeID {
			continue
		}
		endpoints[n.ID] = n.Endpoint
	}
	return endpoints
}

// SelfEndpoint returns this node's consensus endpoint from the registry.
func SelfEndpoint(cfg *ConsensusSection) string {
	for _, n := range cfg.Nodes {
		if n.ID == cfg.NodeID {
			return n.Endpoint
		}
	}
	return ""
}

// ToGossipConfig converts ServerConfig to gossip.Config.
func ToGossipConfig(cfg *ServerConfig, logger *slog.Logger) gossip.Config {
	return gossip.Config{
		NodeID:        cfg.Consensus.NodeID,
		BindAddr:      cfg.Consensus.Gossip.BindAddr,
		BindPort:      cfg.Consensus.Gossip.BindPort,
		ConsensusAddr: SelfEndpoint(&cfg.Consensus),
		ClusterID:     cfg.Consensus.Gossip.ClusterID,
		SeedNodes:     cfg.Consensus.Gossip.Seeds,
		Logger:        logger,
	}
}

// ToLedgerConfig converts ServerConfig to ledger.Config. The archive
// engine is injected by the caller because its lifecycle (open, close)
// belongs to the server, not the config layer.
func ToLedgerConfig(cfg *ServerConfig, archive storage.KVEngine, logger *slog.Logger) ledger.Config {
	walCfg := wal.DefaultConfig(cfg.Storage.DataDir + "/wal")
	if cfg.Storage.WALSyncInterval > 0 {
		walCfg.SyncInterval = cfg.Storage.WALSyncInterval
	}

	return ledger.Config{
		ShardCount: uint32(cfg.Storage.ShardCount),
		BlockSize:  cfg.Storage.BlockSize,
		WAL:        walCfg,
		Archive:    archive,
		Logger:     logger,
	}
}

// BuildKeyring constructs the token verification keyring.
func BuildKeyring(cfg *TokenSection) (*captoken.Keyring, error) {
	keyring := captoken.NewKeyring()
	for _, k := range cfg.Keys {
		key := &captoken.Key{
			ID:        k.ID,
			Algorithm: k.Algorithm,
		}
		switch k.Algorithm {
		case captoken.AlgEdDSA:
			pub, err := base64.StdEncoding.DecodeString(k.PublicKey)
			if err != nil {
				return nil, fmt.Errorf("decode public key for %q: %w", k.ID, err)
			}
			key.Public = ed25519.PublicKey(pub)
		case captoken.AlgHS256:
			secret, err := base64.StdEncoding.DecodeString(k.Secret)
			if err != nil {
				return nil, fmt.Errorf("decode secret for %q: %w", k.ID, err)
			}
			key.Secret = secret
		default:
			return nil, fmt.Errorf("unsupported algorithm %q for key %q", k.Algorithm, k.ID)
		}
		keyring.Add(key)
	}
	return keyring, nil
}

// BuildExportCipher constructs the shard export cipher, or nil when no
// export key is configured.
func BuildExportCipher(cfg *SecuritySection) (adaptive.Cipher, error) {
	if cfg.ExportKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(cfg.ExportKey)
	if err != nil {
		return nil, fmt.Errorf("decode export key: %w", err)
	}
	return adaptive.New(key)
}

// BuildSnapshotManager constructs the ledger checkpoint manager, or nil
// when checkpointing is disabled. Checkpoints are encrypted with a
// subkey derived from the export key so the two surfaces never share a
// working key.
func BuildSnapshotManager(cfg *ServerConfig) (*snapshot.Manager, error) {
	if cfg.Storage.SnapshotKeep <= 0 {
		return nil, nil
	}

	scfg := snapshot.DefaultConfig(cfg.Storage.DataDir + "/snapshots")
	scfg.RetentionCount = cfg.Storage.SnapshotKeep
	scfg.NodeID = cfg.Consensus.NodeID

	if cfg.Security.ExportKey != "" {
		master, err := hex.DecodeString(cfg.Security.ExportKey)
		if err != nil {
			return nil, fmt.Errorf("decode export key: %w", err)
		}
		sub, err := snapshot.DeriveSubkey(master, "ledger-checkpoint", 32)
		if err != nil {
			return nil, fmt.Errorf("derive checkpoint key: %w", err)
		}
		cipher, err := adaptive.New(sub)
		if err != nil {
			return nil, fmt.Errorf("checkpoint cipher: %w", err)
		}
		scfg.Cipher = cipher
	}

	return snapshot.NewManager(scfg)
}

// generateNodeID generates a unique node identifier.
//
// Format: pmnode-<16 hex chars> (e.g., "pmnode-a1b2c3d4e5f67890")
func generateNodeID() (string, error) {
	buf := make([]byte, 8) // 8 bytes = 16 hex chars
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return "pmnode-" + hex.EncodeToString(buf), nil
}
