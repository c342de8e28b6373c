package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/haukened/pac-server/internal/pac/common/clock"
	"github.com/haukened/pac-server/internal/pac/common/log"
	"github.com/haukened/pac-server/internal/pac/config"
	"github.com/haukened/pac-server/internal/pac/domain"
	httpgw "github.com/haukened/pac-server/internal/pac/gateways/http"
	"github.com/haukened/pac-server/internal/pac/infra/metrics"
	"github.com/haukened/pac-server/internal/pac/repos/artifact"
	"github.com/haukened/pac-server/internal/pac/repos/matcher"
	"github.com/haukened/pac-server/internal/pac/repos/matcher/bloom"
	"github.com/haukened/pac-server/internal/pac/repos/matcher/lru"
	"github.com/haukened/pac-server/internal/pac/repos/snapshot/bolt"
	"github.com/haukened/pac-server/internal/pac/repos/source"
	"github.com/haukened/pac-server/internal/pac/repos/suffix"
	"github.com/haukened/pac-server/internal/pac/services/compiler"
	"github.com/haukened/pac-server/internal/pac/services/refresher"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "pac-server"

	defaultConfigPath = "~/.config/pac-server/config.yaml"
	reduceMemoSize    = 8192
)

// Application holds all the components of the PAC server
type Application struct {
	config    *config.AppConfig
	server    *httpgw.Server
	refresher *refresher.Refresher
	index     *matcher.Index
	store     *bolt.Store
}

func main() {
	flags := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", defaultConfigPath, "config file (yaml, toml or json); created with defaults if missing")
	noConfig := flags.Bool("no-config", false, "ignore the config file and use defaults plus PAC_* environment variables")
	showVersion := flags.BoolP("version", "v", false, "print version and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if *showVersion {
		fmt.Println(appName, version)
		return
	}

	path := *configPath
	if *noConfig {
		path = ""
	}
	cfg, err := loadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// Configure global logging
	err = log.Configure(cfg.Env, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Info(map[string]any{
		"version":   version,
		"env":       cfg.Env,
		"log_level": cfg.Log.Level,
		"address":   cfg.Addr(),
		"path":      cfg.Server.Path,
		"source":    cfg.PAC.Source,
		"precise":   cfg.IsPrecise(),
		"cache_dir": cfg.Storage.CacheDir,
	}, "Starting PAC server")

	app, err := buildApplication(cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err}, "Failed to build application")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Fatal(map[string]any{"error": err}, "Server failed")
	}

	log.Info(nil, "PAC server stopped gracefully")
}

// loadConfig creates the config file with defaults when it is missing, then
// loads it. An empty path skips the file entirely.
func loadConfig(path string) (*config.AppConfig, error) {
	if path != "" {
		created, err := config.EnsureFile(path)
		if err != nil {
			return nil, fmt.Errorf("creating default config: %w", err)
		}
		if created {
			fmt.Fprintf(os.Stderr, "Wrote default configuration to %s\n", path)
		}
	}
	return config.Load(path)
}

// buildApplication constructs all components and wires them together
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	logger := log.GetLogger()

	table, err := suffix.Open(cfg.PAC.SuffixSource)
	if err != nil {
		return nil, fmt.Errorf("failed to load suffix table: %w", err)
	}
	reducer, err := compiler.NewReducer(table, reduceMemoSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create reducer: %w", err)
	}
	comp := compiler.New(compiler.Options{
		Loader:  source.NewLoader(source.Options{Timeout: cfg.Refresh.FetchTimeout, Logger: logger}),
		Reducer: reducer,
		Logger:  logger,
	})

	artifacts, err := artifact.NewDir(cfg.Storage.CacheDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DB), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	store, err := bolt.New(cfg.Storage.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}

	cache, err := lru.New(cfg.Index.CacheSize)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create decision cache: %w", err)
	}
	index := matcher.NewIndex(cache, bloom.NewFactory(), cfg.Index.FPRate)
	m := metrics.New()

	ref := refresher.New(refresher.Options{
		Compiler:  comp,
		Artifacts: artifacts,
		Store:     store,
		Index:     index,
		Metrics:   m,
		Logger:    logger,
		Clock:     clock.RealClock{},
		Request: compiler.Request{
			Source:         cfg.PAC.Source,
			UserRuleSource: cfg.PAC.UserRuleSource,
			UserRules:      cfg.PAC.UserRules,
			Builtin:        cfg.UseBuiltin(),
			Mode:           domain.ModeOf(cfg.IsPrecise()),
			Proxy:          cfg.PAC.Proxy,
		},
		Artifact:     cfg.ArtifactName(),
		Interval:     cfg.Refresh.Interval,
		FetchTimeout: cfg.Refresh.FetchTimeout,
		TriggerEvery: cfg.Refresh.TriggerEvery,
	})

	server := httpgw.NewServer(httpgw.Options{
		Addr:      cfg.Addr(),
		Artifacts: artifacts,
		Refresher: ref,
		Checker:   index,
		Metrics:   m,
		Gatherer:  m.Registry,
		Logger:    logger,
	})

	app := &Application{
		config:    cfg,
		server:    server,
		refresher: ref,
		index:     index,
		store:     store,
	}
	app.warm()
	return app, nil
}

// warm restores the last published snapshot so /status and /check answer
// before the first refresh of this process completes.
func (app *Application) warm() {
	snap, err := app.store.Latest()
	if err != nil {
		if !errors.Is(err, bolt.ErrNoSnapshot) {
			log.Warn(map[string]any{"error": err}, "Failed to read stored snapshot")
		}
		return
	}
	if snap.Mode != app.refresher.Mode() || snap.Artifact != app.refresher.Artifact() {
		log.Info(map[string]any{
			"stored_mode":     snap.Mode.String(),
			"stored_artifact": snap.Artifact,
		}, "Stored snapshot does not match configuration, not restoring")
		return
	}
	if snap.Mode == domain.ModeFast {
		set, err := app.store.Domains()
		if err != nil {
			log.Warn(map[string]any{"error": err}, "Failed to read stored domains")
			return
		}
		app.index.Update(set)
	}
	app.refresher.Seed(snap)
	log.Info(map[string]any{
		"version": snap.Version,
		"domains": snap.Domains,
	}, "Restored snapshot")
}

// Run starts the refresher and the HTTP server and blocks until ctx is
// cancelled or one of them fails.
func (app *Application) Run(ctx context.Context) error {
	defer func() {
		if err := app.store.Close(); err != nil {
			log.Warn(map[string]any{"error": err}, "Error closing snapshot store")
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.refresher.Run(ctx)
	})
	g.Go(func() error {
		return app.server.Start(ctx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}
