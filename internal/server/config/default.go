// Package config defines the server configuration structure.
package config

import "time"

// Default configuration values.
const (
	DefaultHTTPAddr  = "127.0.0.1:5080"
	DefaultHTTPSAddr = "127.0.0.1:5443"

	DefaultDataDir         = "/var/lib/permamesh-server/data"
	DefaultShardCount      = 16
	DefaultBlockSize       = 1000
	DefaultWALSyncInterval = 100 * time.Millisecond
	DefaultSnapshotKeep    = 5

	DefaultTokenCacheTTL = 10 * time.Minute

	DefaultRequestTimeout    = 10 * time.Second
	DefaultViewChangeTimeout = 20 * time.Second
	DefaultGossipPort        = 5344
	DefaultClusterID         = "permamesh"

	DefaultConsensusTimeout = 10 * time.Second
	DefaultBatchConcurrency = 8

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			HTTP: HTTPConfig{
				Addr: DefaultHTTPAddr,
			},
		},
		Storage: StorageSection{
			DataDir:         DefaultDataDir,
			ShardCount:      DefaultShardCount,
			BlockSize:       DefaultBlockSize,
			WALSyncInterval: DefaultWALSyncInterval,
			ArchiveEnabled:  true,
			SnapshotKeep:    DefaultSnapshotKeep,
		},
		Token: TokenSection{
			CacheTTL: DefaultTokenCacheTTL,
		},
		Consensus: ConsensusSection{
			RequestTimeout:    DefaultRequestTimeout,
			ViewChangeTimeout: DefaultViewChangeTimeout,
			Gossip: GossipConfig{
				BindAddr:  "0.0.0.0",
				BindPort:  DefaultGossipPort,
				ClusterID: DefaultClusterID,
			},
		},
		Service: ServiceSection{
			ConsensusTimeout: DefaultConsensusTimeout,
			BatchConcurrency: DefaultBatchConcurrency,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
