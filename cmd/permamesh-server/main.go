// Package main provides the entry point for permamesh-server.
//
// permamesh-server is the node process for PermaMesh, a token-gated
// permanent-record store replicated across a BFT cluster. Every node
// runs the full pipeline: capability-token verification, PBFT
// ordering, and the sharded Merkle ledger.
//
// @design DS-0501
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/permamesh/permamesh-go/internal/consensus/gossip"
	"github.com/permamesh/permamesh-go/internal/consensus/pbft"
	"github.com/permamesh/permamesh-go/internal/core/service"
	"github.com/permamesh/permamesh-go/internal/core/verify"
	"github.com/permamesh/permamesh-go/internal/infra/buildinfo"
	"github.com/permamesh/permamesh-go/internal/infra/confloader"
	"github.com/permamesh/permamesh-go/internal/infra/shutdown"
	"github.com/permamesh/permamesh-go/internal/infra/tlsroots"
	"github.com/permamesh/permamesh-go/internal/server/config"
	"github.com/permamesh/permamesh-go/internal/server/httpserver"
	"github.com/permamesh/permamesh-go/internal/server/httpserver/handler"
	"github.com/permamesh/permamesh-go/internal/server/localserver"
	"github.com/permamesh/permamesh-go/internal/storage"
	"github.com/permamesh/permamesh-go/internal/storage/ledger"
	"github.com/permamesh/permamesh-go/internal/telemetry/logger"
	"github.com/permamesh/permamesh-go/internal/telemetry/metric"
)

func main() {
	if err := app().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func app() *cli.App {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		EnvVars: []string{"PERMAMESH_CONFIG"},
	}

	return &cli.App{
		Name:    "permamesh-server",
		Usage:   "PermaMesh permanent-record node",
		Version: buildinfo.String(),
		Flags:   []cli.Flag{configFlag},
		// Running without a subcommand serves, matching systemd units
		// that pass only -c.
		Action: func(c *cli.Context) error {
			return serve(c.String("config"))
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Start the node",
				Flags: []cli.Flag{configFlag},
				Action: func(c *cli.Context) error {
					path := c.String("config")
					if path == "" {
						path = c.Lineage()[1].String("config")
					}
					return serve(path)
				},
			},
			{
				Name:   "keygen",
				Usage:  "Generate node signing keys and an export key for the cluster registry",
				Action: func(c *cli.Context) error { return keygen(c.App.Writer) },
			},
			{
				Name:  "version",
				Usage: "Show version information",
				Action: func(c *cli.Context) error {
					fmt.Fprintf(c.App.Writer, "permamesh-server %s\n", buildinfo.String())
					return nil
				},
			},
		},
	}
}

func serve(configFile string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, slogger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	log.Info("starting permamesh-server",
		"version", buildinfo.Version,
		"commit", buildinfo.Commit,
		"config", configFile)

	metrics := metric.NewRegistry()

	pbftCfg, err := config.ToConsensusConfig(cfg, slogger)
	if err != nil {
		return fmt.Errorf("consensus config: %w", err)
	}
	// Downstream builders (gossip, peer endpoints) key off the node id,
	// including a generated one.
	cfg.Consensus.NodeID = pbftCfg.NodeID

	shutdownHandler := shutdown.NewHandler(30 * time.Second)
	ctx := context.Background()

	// Ledger with optional Badger archive.
	var archive storage.KVEngine
	if cfg.Storage.ArchiveEnabled {
		engine, err := storage.NewBadgerEngine(
			storage.DefaultKVConfig(cfg.Storage.DataDir+"/archive"), slogger)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		archive = engine
		shutdownHandler.OnShutdown(func(context.Context) error {
			log.Info("closing record archive")
			return engine.Close()
		})
	}

	ledgerCfg := config.ToLedgerConfig(cfg, archive, slogger)
	ledgerCfg.Snapshots, err = config.BuildSnapshotManager(cfg)
	if err != nil {
		return fmt.Errorf("snapshot manager: %w", err)
	}

	store, err := ledger.New(ledgerCfg)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	shutdownHandler.OnShutdown(func(context.Context) error {
		log.Info("closing ledger")
		return store.Close()
	})

	if err := store.Recover(ctx); err != nil {
		return fmt.Errorf("ledger recovery: %w", err)
	}

	// Token verification.
	keyring, err := config.BuildKeyring(&cfg.Token)
	if err != nil {
		return fmt.Errorf("token keyring: %w", err)
	}
	verifier := verify.New(verify.Config{
		Keyring:  keyring,
		Issuer:   cfg.Token.Issuer,
		Audience: cfg.Token.Audience,
		CacheTTL: cfg.Token.CacheTTL,
		Logger:   slogger,
	})
	shutdownHandler.OnShutdown(func(context.Context) error {
		log.Info("stopping token verifier")
		verifier.Close()
		return nil
	})

	// Record service.
	exportCipher, err := config.BuildExportCipher(&cfg.Security)
	if err != nil {
		return fmt.Errorf("export cipher: %w", err)
	}
	svc := service.NewStorageService(verifier, store, service.StorageServiceConfig{
		ConsensusTimeout: cfg.Service.ConsensusTimeout,
		RateLimit:        cfg.Service.RateLimit,
		RateBurst:        cfg.Service.RateBurst,
		BatchConcurrency: cfg.Service.BatchConcurrency,
		ExportCipher:     exportCipher,
		Metrics:          metrics,
		Logger:           slogger,
	})

	// Consensus engine.
	auth, err := buildAuthenticator(cfg, pbftCfg)
	if err != nil {
		return fmt.Errorf("consensus authenticator: %w", err)
	}
	transport := pbft.NewHTTPTransport(pbftCfg.NodeID,
		config.PeerEndpoints(&cfg.Consensus), cfg.Consensus.RequestTimeout)
	if cfg.Security.TLSCAFile != "" {
		pool, err := tlsroots.NewPool()
		if err != nil {
			return fmt.Errorf("tls roots: %w", err)
		}
		if err := pool.AddCertFile(cfg.Security.TLSCAFile); err != nil {
			return fmt.Errorf("tls roots: %w", err)
		}
		transport.SetTLSClientConfig(pool.TLSConfig())
	}
	engine, err := pbft.New(pbftCfg, pbft.Deps{
		Authenticator: auth,
		Transport:     transport,
		Checker:       verifier,
		Executor:      svc,
	})
	if err != nil {
		return fmt.Errorf("consensus engine: %w", err)
	}
	svc.BindConsensus(engine)
	shutdownHandler.OnShutdown(func(context.Context) error {
		log.Info("stopping consensus engine")
		engine.Stop()
		transport.Close()
		return nil
	})

	// Gossip membership with quorum health tracking.
	tracker, err := initGossip(cfg, pbftCfg, metrics, slogger, shutdownHandler, log)
	if err != nil {
		return fmt.Errorf("init gossip: %w", err)
	}

	metrics.Prometheus().MustRegister(metric.NewLedgerCollector(store))

	// HTTP surface.
	httpHandler := handler.New(handler.Config{
		Service:   svc,
		Consensus: engine,
		Ledger:    store,
		Health:    tracker,
		Logger:    slogger,
	})
	routerCfg := httpserver.DefaultRouterConfig()
	routerCfg.Handler = httpHandler
	routerCfg.Consensus = transport
	routerCfg.Metrics = metrics.Handler()
	routerCfg.Logger = slogger
	router := httpserver.NewRouter(routerCfg)
	httpServer := httpserver.New(cfg.Server.HTTP.Addr, router)
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return httpServer.Shutdown(ctx)
	})

	if cfg.Server.Local.SocketPath != "" {
		local := localserver.New(cfg.Server.Local.SocketPath, router)
		shutdownHandler.OnShutdown(func(ctx context.Context) error {
			log.Info("shutting down local socket server")
			return local.Shutdown(ctx)
		})
		go func() {
			log.Info("local socket listening", "path", cfg.Server.Local.SocketPath)
			if err := local.ListenAndServe(); err != nil {
				log.Error("local socket server error", "error", err)
			}
		}()
	}

	serveTLS := cfg.Server.HTTP.TLSCertFile != "" && cfg.Server.HTTP.TLSKeyFile != ""
	if serveTLS {
		// Certificates reload on rotation without a restart.
		certWatcher, err := tlsroots.NewWatcher(
			cfg.Server.HTTP.TLSCertFile, cfg.Server.HTTP.TLSKeyFile,
			tlsroots.WithLogger(slogger))
		if err != nil {
			return fmt.Errorf("tls certificates: %w", err)
		}
		certWatcher.StartAsync()
		shutdownHandler.OnShutdown(func(context.Context) error {
			certWatcher.Stop()
			return nil
		})
		httpServer.SetTLSConfig(&tls.Config{
			GetCertificate: certWatcher.GetCertificate,
			MinVersion:     tls.VersionTLS12,
		})
	}

	if configFile != "" {
		if err := watchConfig(configFile, slogger, shutdownHandler, log); err != nil {
			return fmt.Errorf("config watcher: %w", err)
		}
	}

	go func() {
		log.Info("HTTP server listening", "addr", cfg.Server.HTTP.Addr, "tls", serveTLS)

		var err error
		if serveTLS {
			err = httpServer.ListenAndServeTLS(cfg.Server.HTTP.TLSCertFile, cfg.Server.HTTP.TLSKeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", "error", err)
		}
	}()

	log.Info("node started", "node_id", pbftCfg.NodeID, "cluster_size", len(pbftCfg.Nodes))
	if err := shutdownHandler.Wait(); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("node stopped gracefully")
	return nil
}

// loadConfig loads configuration from file and environment.
func loadConfig(configFile string) (*config.ServerConfig, error) {
	cfg := config.Default()

	opts := []confloader.Option{}
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}

	loader := confloader.NewLoader(opts...)
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}

	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// initLogger initializes the structured logger and installs it as the
// process default.
func initLogger(cfg *config.ServerConfig) (logger.Logger, *slog.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return nil, nil, err
	}

	logger.SetDefault(log)
	return log, slog.Default(), nil
}

// buildAuthenticator constructs the consensus message signer. A
// single-node cluster without a configured private key signs to itself
// with an ephemeral keypair; multi-node clusters always use the
// registry keys.
func buildAuthenticator(cfg *config.ServerConfig, pbftCfg pbft.Config) (*pbft.Ed25519Authenticator, error) {
	if cfg.Consensus.PrivateKey == "" && len(pbftCfg.Nodes) == 1 {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		peers := map[string]ed25519.PublicKey{pbftCfg.NodeID: pub}
		return pbft.NewEd25519Authenticator(pbftCfg.NodeID, priv, peers)
	}
	return config.BuildAuthenticator(&cfg.Consensus)
}

// watchConfig reloads the configuration file on change. Only the log
// level is applied live; everything else needs a restart, so a changed
// file is logged rather than silently half-applied.
func watchConfig(configFile string, slogger *slog.Logger, sh *shutdown.Handler, log logger.Logger) error {
	watcher, err := confloader.NewWatcher(confloader.WithWatcherLogger(slogger))
	if err != nil {
		return err
	}
	if err := watcher.Watch(configFile); err != nil {
		return err
	}

	base := filepath.Base(configFile)
	watcher.OnChange(func(changed string) {
		if filepath.Base(changed) != base {
			return
		}
		cfg, err := loadConfig(configFile)
		if err != nil {
			log.Warn("config reload failed, keeping current settings", "error", err)
			return
		}
		logger.SetLevel(cfg.Log.Level)
		log.Info("configuration reloaded", "log_level", cfg.Log.Level)
	})
	watcher.StartAsync()

	sh.OnShutdown(func(context.Context) error {
		return watcher.Stop()
	})
	return nil
}

// initGossip starts membership discovery and attaches the quorum
// tracker, mirroring tracker transitions into the at-risk gauge.
func initGossip(cfg *config.ServerConfig, pbftCfg pbft.Config, metrics *metric.Registry,
	slogger *slog.Logger, sh *shutdown.Handler, log logger.Logger) (*gossip.Tracker, error) {

	tracker := gossip.NewTracker(pbftCfg.Nodes, slogger)

	discovery, err := gossip.NewDiscovery(config.ToGossipConfig(cfg, slogger))
	if err != nil {
		return nil, err
	}

	updateGauge := func() {
		if tracker.QuorumAtRisk() {
			metrics.QuorumAtRisk.Set(1)
		} else {
			metrics.QuorumAtRisk.Set(0)
		}
	}
	discovery.OnJoin(func(nodeID, _ string) {
		tracker.MarkAlive(nodeID)
		updateGauge()
	})
	discovery.OnLeave(func(nodeID string) {
		tracker.MarkDead(nodeID)
		updateGauge()
	})

	// All nodes start unreachable until gossip reports them; the local
	// node never gossips about itself.
	tracker.MarkAlive(pbftCfg.NodeID)
	updateGauge()

	sh.OnShutdown(func(context.Context) error {
		log.Info("leaving gossip cluster")
		if err := discovery.Leave(); err != nil {
			log.Warn("gossip leave failed", "error", err)
		}
		return discovery.Shutdown()
	})

	return tracker, nil
}

// keygen prints a fresh Ed25519 keypair for the consensus registry and
// a 32-byte export key, in the encodings the configuration expects.
func keygen(w io.Writer) error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate signing key: %w", err)
	}

	exportKey := make([]byte, 32)
	if _, err := rand.Read(exportKey); err != nil {
		return fmt.Errorf("generate export key: %w", err)
	}

	fmt.Fprintf(w, "public_key:  %s\n", base64.StdEncoding.EncodeToString(pub))
	fmt.Fprintf(w, "private_key: %s\n", base64.StdEncoding.EncodeToString(priv))
	fmt.Fprintf(w, "export_key:  %s\n", hex.EncodeToString(exportKey))
	return nil
}
