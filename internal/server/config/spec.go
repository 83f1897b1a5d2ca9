// Package config defines the server configuration structure.
package config

import "time"

// ServerConfig is the root configuration for permamesh-server.
type ServerConfig struct {
	Server    ServerSection    `koanf:"server"`
	Storage   StorageSection   `koanf:"storage"`
	Token     TokenSection     `koanf:"token"`
	Consensus ConsensusSection `koanf:"consensus"`
	Security  SecuritySection  `koanf:"security"`
	Service   ServiceSection   `koanf:"service"`
	Log       LogSection       `koanf:"log"`
}

// ServerSection configures server endpoints.
type ServerSection struct {
	HTTP  HTTPConfig  `koanf:"http"`
	Local LocalConfig `koanf:"local"`
}

// LocalConfig configures the local Unix-socket listener. It serves the
// same handler as the TCP listener for on-node admin access.
type LocalConfig struct {
	// SocketPath enables the listener when set.
	SocketPath string `koanf:"socket_path"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr        string `koanf:"addr"`
	TLSCertFile string `koanf:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file"`
}

// StorageSection configures the ledger store.
type StorageSection struct {
	// DataDir holds the WAL journal and the record archive.
	DataDir string `koanf:"data_dir"`

	// ShardCount is the fixed number of ledger shards. Changing it
	// across restarts invalidates record placement.
	ShardCount int `koanf:"shard_count"`

	// BlockSize is the records-per-block threshold for sealing.
	BlockSize int `koanf:"block_size"`

	// WALSyncInterval bounds how long an acknowledged append may sit
	// in the OS page cache before fsync.
	WALSyncInterval time.Duration `koanf:"wal_sync_interval"`

	// ArchiveEnabled turns on the Badger record archive for point
	// lookups that miss memory after restart.
	ArchiveEnabled bool `koanf:"archive_enabled"`

	// SnapshotKeep is how many ledger checkpoints to retain. Zero
	// disables checkpointing; recovery then replays the full WAL.
	SnapshotKeep int `koanf:"snapshot_keep"`
}

// TokenSection configures capability-token verification.
type TokenSection struct {
	// Issuer is the expected iss claim.
	Issuer string `koanf:"issuer"`

	// Audience is the expected aud claim.
	Audience string `koanf:"audience"`

	// CacheTTL bounds how long verified payloads stay cached.
	CacheTTL time.Duration `koanf:"cache_ttl"`

	// Keys are the accepted verification keys, matched by kid.
	Keys []TokenKeyConfig `koanf:"keys"`
}

// TokenKeyConfig is one token verification key.
type TokenKeyConfig struct {
	// ID is matched against the token header's kid.
	ID string `koanf:"id"`

	// Algorithm is "EdDSA" or "HS256".
	Algorithm string `koanf:"algorithm"`

	// PublicKey is the base64-encoded Ed25519 public key (EdDSA only).
	PublicKey string `koanf:"public_key"`

	// Secret is the base64-encoded HMAC secret (HS256 only).
	Secret string `koanf:"secret"`
}

// ConsensusSection configures the BFT replication group.
type ConsensusSection struct {
	// NodeID is the unique identifier for this node. Must appear in
	// Nodes. If empty, a random ID is generated at startup, which only
	// makes sense for single-node development clusters.
	NodeID string `koanf:"node_id"`

	// PrivateKey is this node's base64-encoded Ed25519 private key,
	// used to sign consensus messages.
	PrivateKey string `koanf:"private_key"`

	// Nodes is the static membership registry. Every replica lists the
	// same set; its size fixes the fault budget.
	Nodes []ConsensusNodeConfig `koanf:"nodes"`

	// RequestTimeout is how long a node waits for a request to commit
	// before suspecting the primary.
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// ViewChangeTimeout bounds a view change before escalating to the
	// next view.
	ViewChangeTimeout time.Duration `koanf:"view_change_timeout"`

	// Gossip configures liveness tracking. Gossip never changes the
	// consensus membership; it only surfaces reachability.
	Gossip GossipConfig `koanf:"gossip"`
}

// ConsensusNodeConfig is one member of the replication group.
type ConsensusNodeConfig struct {
	// ID is the node's consensus identifier.
	ID string `koanf:"id"`

	// Endpoint is the base URL consensus messages are posted to
	// (e.g., "http://192.168.1.10:5080").
	Endpoint string `koanf:"endpoint"`

	// PublicKey is the node's base64-encoded Ed25519 public key.
	PublicKey string `koanf:"public_key"`
}

// GossipConfig configures the liveness gossip layer.
type GossipConfig struct {
	// BindAddr is the gossip bind address (e.g., "192.168.1.10").
	BindAddr string `koanf:"bind_addr"`

	// BindPort is the gossip bind port.
	BindPort int `koanf:"bind_port"`

	// ClusterID isolates this cluster's gossip from others.
	ClusterID string `koanf:"cluster_id"`

	// Seeds is the list of gossip addresses to join.
	// Format: ["192.168.1.10:5344", "192.168.1.11:5344"]
	Seeds []string `koanf:"seeds"`
}

// SecuritySection configures security settings.
type SecuritySection struct {
	// ExportKey is the hex-encoded key for shard export encryption
	// (16, 24, or 32 bytes once decoded). Empty disables export.
	ExportKey string `koanf:"export_key"`

	// TLSCAFile is the CA bundle for outbound TLS verification.
	TLSCAFile string `koanf:"tls_ca_file"`
}

// ServiceSection configures request admission.
type ServiceSection struct {
	// ConsensusTimeout bounds how long a store request waits for
	// quorum before failing.
	ConsensusTimeout time.Duration `koanf:"consensus_timeout"`

	// RateLimit is the sustained store-request rate (requests/sec).
	// Zero disables rate limiting.
	RateLimit float64 `koanf:"rate_limit"`

	// RateBurst is the rate limiter burst size.
	RateBurst int `koanf:"rate_burst"`

	// BatchConcurrency caps in-flight requests per batch.
	BatchConcurrency int `koanf:"batch_concurrency"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
