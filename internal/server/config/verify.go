// Package config defines the server configuration structure.
package config

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/permamesh/permamesh-go/pkg/captoken"
)

// Verify validates the configuration.
func Verify(cfg *ServerConfig) error {
	if err := verifyServer(&cfg.Server); err != nil {
		return err
	}
	if err := verifyStorage(&cfg.Storage); err != nil {
		return err
	}
	if err := verifyToken(&cfg.Token); err != nil {
		return err
	}
	if err := verifyConsensus(&cfg.Consensus); err != nil {
		return err
	}
	if err := verifySecurity(&cfg.Security); err != nil {
		return err
	}
	return nil
}

func verifyServer(cfg *ServerSection) error {
	if cfg.HTTP.Addr == "" {
		return errors.New("server.http.addr is required")
	}
	if (cfg.HTTP.TLSCertFile == "") != (cfg.HTTP.TLSKeyFile == "") {
		return errors.New("server.http: tls_cert_file and tls_key_file must be set together")
	}
	return nil
}

func verifyStorage(cfg *StorageSection) error {
	if cfg.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}

	// Check if data directory exists or can be created
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return errors.New("cannot create data directory: " + err.Error())
	}

	if cfg.ShardCount < 1 || cfg.ShardCount > 1024 {
		return fmt.Errorf("storage.shard_count %d out of range [1, 1024]", cfg.ShardCount)
	}
	if cfg.BlockSize < 1 {
		return errors.New("storage.block_size must be at least 1")
	}
	if cfg.SnapshotKeep < 0 {
		return errors.New("storage.snapshot_keep must not be negative")
	}

	return nil
}

func verifyToken(cfg *TokenSection) error {
	if cfg.Issuer == "" {
		return errors.New("token.issuer is required")
	}
	if cfg.Audience == "" {
		return errors.New("token.audience is required")
	}
	if len(cfg.Keys) == 0 {
		return errors.New("token.keys must list at least one verification key")
	}

	seen := make(map[string]bool, len(cfg.Keys))
	for i, k := range cfg.Keys {
		if k.ID == "" {
			return fmt.Errorf("token.keys[%d]: id is required", i)
		}
		if seen[k.ID] {
			return fmt.Errorf("token.keys: duplicate key id %q", k.ID)
		}
		seen[k.ID] = true

		switch k.Algorithm {
		case captoken.AlgEdDSA:
			if k.PublicKey == "" {
				return fmt.Errorf("token.keys[%q]: public_key is required for EdDSA", k.ID)
			}
			raw, err := base64.StdEncoding.DecodeString(k.PublicKey)
			if err != nil {
				return fmt.Errorf("token.keys[%q]: public_key is not valid base64: %w", k.ID, err)
			}
			if len(raw) != 32 {
				return fmt.Errorf("token.keys[%q]: public_key must decode to 32 bytes, got %d", k.ID, len(raw))
			}
		case captoken.AlgHS256:
			if k.Secret == "" {
				return fmt.Errorf("token.keys[%q]: secret is required for HS256", k.ID)
			}
			if _, err := base64.StdEncoding.DecodeString(k.Secret); err != nil {
				return fmt.Errorf("token.keys[%q]: secret is not valid base64: %w", k.ID, err)
			}
		default:
			return fmt.Errorf("token.keys[%q]: unsupported algorithm %q", k.ID, k.Algorithm)
		}
	}
	return nil
}

func verifyConsensus(cfg *ConsensusSection) error {
	if len(cfg.Nodes) == 0 {
		return errors.New("consensus.nodes must list at least one node")
	}

	seen := make(map[string]bool, len(cfg.Nodes))
	selfFound := false
	for i, n := range cfg.Nodes {
		if n.ID == "" {
			return fmt.Errorf("consensus.nodes[%d]: id is required", i)
		}
		if seen[n.ID] {
			return fmt.Errorf("consensus.nodes: duplicate node id %q", n.ID)
		}
		seen[n.ID] = true

		if n.Endpoint == "" {
			return fmt.Errorf("consensus.nodes[%q]: endpoint is required", n.ID)
		}
		raw, err := base64.StdEncoding.DecodeString(n.PublicKey)
		if err != nil {
			return fmt.Errorf("consensus.nodes[%q]: public_key is not valid base64: %w", n.ID, err)
		}
		if len(raw) != 32 {
			return fmt.Errorf("consensus.nodes[%q]: public_key must decode to 32 bytes, got %d", n.ID, len(raw))
		}

		if n.ID == cfg.NodeID {
			selfFound = true
		}
	}

	// A generated node id cannot appear in a multi-node registry, so
	// an explicit node_id is mandatory past a single node.
	if cfg.NodeID == "" && len(cfg.Nodes) > 1 {
		return errors.New("consensus.node_id is required for multi-node clusters")
	}
	if cfg.NodeID != "" && !selfFound {
		return fmt.Errorf("consensus.node_id %q not listed in consensus.nodes", cfg.NodeID)
	}

	if cfg.NodeID != "" {
		if cfg.PrivateKey == "" {
			return errors.New("consensus.private_key is required")
		}
		raw, err := base64.StdEncoding.DecodeString(cfg.PrivateKey)
		if err != nil {
			return fmt.Errorf("consensus.private_key is not valid base64: %w", err)
		}
		if len(raw) != 64 {
			return fmt.Errorf("consensus.private_key must decode to 64 bytes, got %d", len(raw))
		}
	}

	if cfg.Gossip.BindPort < 0 || cfg.Gossip.BindPort > 65535 {
		return fmt.Errorf("consensus.gossip.bind_port %d out of range", cfg.Gossip.BindPort)
	}

	return nil
}

func verifySecurity(cfg *SecuritySection) error {
	if cfg.ExportKey == "" {
		return nil
	}
	raw, err := hex.DecodeString(cfg.ExportKey)
	if err != nil {
		return fmt.Errorf("security.export_key is not valid hex: %w", err)
	}
	switch len(raw) {
	case 16, 24, 32:
		return nil
	default:
		return fmt.Errorf("security.export_key must decode to 16, 24, or 32 bytes, got %d", len(raw))
	}
}
