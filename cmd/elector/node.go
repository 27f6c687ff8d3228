package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	opentracing "github.com/opentracing/opentracing-go"
	"go.dedis.ch/elector"
	"go.dedis.ch/elector/cache"
	"go.dedis.ch/elector/cache/kvcache"
	"go.dedis.ch/elector/cache/mem"
	"go.dedis.ch/elector/cli"
	"go.dedis.ch/elector/config"
	"go.dedis.ch/elector/content/kvcas"
	"go.dedis.ch/elector/coordinator"
	"go.dedis.ch/elector/core/store/kv"
	"go.dedis.ch/elector/internal/tracing"
	"go.dedis.ch/elector/ledger"
	ledgerhttp "go.dedis.ch/elector/ledger/http"
	"go.dedis.ch/elector/ledger/native"
	"golang.org/x/xerrors"
)

const (
	ledgerFile  = "ledger.db"
	storageFile = "elector.db"

	// serviceName is the name of the tracer of the coordinator.
	serviceName = "elector"
)

// node holds the components opened for a command.
type node struct {
	cfg    config.Config
	ledger ledger.Ledger
	coord  *coordinator.Coordinator
	dbs    []kv.DB
}

// loadConfig reads the configuration and applies the global flags on top of
// it.
func loadConfig(flags cli.Flags) (config.Config, error) {
	err := config.LoadEnv(flags.Path("env"))
	if err != nil {
		return config.Config{}, err
	}

	path := flags.Path("config")
	if path == "" && flags.String("data-dir") != "" {
		path = filepath.Join(flags.String("data-dir"), config.DefaultFile)
	}

	if path != "" {
		_, err = os.Stat(path)
		if os.IsNotExist(err) && !flags.IsSet("config") {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return cfg, xerrors.Errorf("failed to load config: %w", err)
	}

	if flags.String("data-dir") != "" {
		cfg.DataDir = flags.String("data-dir")
	}

	if flags.String("ledger-url") != "" {
		cfg.Ledger.Kind = config.LedgerHTTP
		cfg.Ledger.URL = flags.String("ledger-url")
	}

	if flags.String("mode") != "" {
		cfg.Mode = flags.String("mode")
	}

	return cfg, cfg.Validate()
}

// openLedger opens the ledger of the configuration, either the local one in
// the data directory or a client of a remote service.
func openLedger(ctx context.Context, cfg config.Config) (ledger.Ledger, kv.DB, error) {
	if cfg.Ledger.Kind == config.LedgerHTTP {
		return openRemoteLedger(ctx, cfg), nil, nil
	}

	db, err := openDB(cfg.DataDir, ledgerFile)
	if err != nil {
		return nil, nil, err
	}

	return native.NewLedger(db, native.WithCapabilities(cfg.Ledger.Capabilities)), db, nil
}

func openRemoteLedger(ctx context.Context, cfg config.Config) ledger.Ledger {
	opts := []ledgerhttp.Option{
		ledgerhttp.WithHTTPClient(&http.Client{Timeout: cfg.ReadTimeout}),
	}

	tracer := makeTracer(cfg, serviceName)
	opts = append(opts, ledgerhttp.WithTracer(tracer))

	caps := cfg.Ledger.Capabilities

	remote, err := ledgerhttp.NewClient(cfg.Ledger.URL, opts...).FetchCapabilities(ctx)
	if err != nil {
		elector.Logger.Warn().Err(err).Msg("failed to fetch ledger capabilities, using the configured ones")
	} else {
		// The configuration can only turn capabilities off.
		caps.VoterStatus = caps.VoterStatus && remote.VoterStatus
		caps.AllowList = caps.AllowList && remote.AllowList
	}

	opts = append(opts, ledgerhttp.WithCapabilities(caps))

	return ledgerhttp.NewClient(cfg.Ledger.URL, opts...)
}

// openNode opens the stores of the configuration and returns the coordinator
// using them.
func openNode(ctx context.Context, flags cli.Flags) (*node, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}

	mode, err := cfg.BackendMode()
	if err != nil {
		return nil, err
	}

	n := &node{cfg: cfg}

	l, ledgerDB, err := openLedger(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if ledgerDB != nil {
		n.dbs = append(n.dbs, ledgerDB)
	}

	db, err := openDB(cfg.DataDir, storageFile)
	if err != nil {
		n.Close()
		return nil, err
	}

	n.dbs = append(n.dbs, db)

	n.ledger = l
	n.coord = coordinator.NewCoordinator(l, kvcas.NewStore(db), openCache(cfg, db),
		coordinator.WithPolicy(cfg.Policy()),
		coordinator.WithMode(mode))

	return n, nil
}

// openCache returns the local cache of the configuration.
func openCache(cfg config.Config, db kv.DB) cache.Cache {
	if cfg.Cache == config.CacheMemory {
		return mem.NewCache(nil)
	}

	return kvcache.NewCache(db, nil)
}

// Close closes the databases of the node.
func (n *node) Close() error {
	for _, db := range n.dbs {
		err := db.Close()
		if err != nil {
			return xerrors.Errorf("failed to close db: %v", err)
		}
	}

	return nil
}

func openDB(dir, file string) (kv.DB, error) {
	err := os.MkdirAll(dir, 0700)
	if err != nil {
		return nil, xerrors.Errorf("failed to create data directory: %v", err)
	}

	db, err := kv.New(filepath.Join(dir, file))
	if err != nil {
		return nil, xerrors.Errorf("failed to open %s: %v", file, err)
	}

	return db, nil
}

func makeTracer(cfg config.Config, service string) opentracing.Tracer {
	if !cfg.Tracing {
		return opentracing.NoopTracer{}
	}

	tracer, err := tracing.GetTracerForService(service)
	if err != nil {
		elector.Logger.Warn().Err(err).Msg("tracing disabled")
		return opentracing.NoopTracer{}
	}

	return tracer
}
