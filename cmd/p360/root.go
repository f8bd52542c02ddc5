package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/api"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/breaker"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/cache"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/config"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/events"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/kv"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/netprobe"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/store"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/syncer"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/tenant"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/ui"
)

var version = "dev"

var (
	cfgFile string
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "p360",
	Short: "Poultry360 device sync agent",
	Long: `p360 keeps a local poultry farm-operations database on this device
and synchronizes it with the Poultry360 backend when a connection is
available. All reads and writes work offline; sync runs opportunistically
with retry, backoff and a circuit breaker.

Start with 'p360 setup' to configure the device, then run 'p360 daemon'
to keep it synchronized in the background.`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			ui.Disable()
		}
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default <data-dir>/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "config", Title: "Configuration Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
	)
}

// loadConfigOrExit reads the effective configuration or terminates with
// a diagnostic.
func loadConfigOrExit() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// openStoreOrExit opens the device database scoped to the configured
// organization.
func openStoreOrExit(cfg *config.Config, bus *events.Bus) *store.Store {
	scope := tenant.NewScope()
	if cfg.OrganizationID > 0 {
		scope = tenant.NewScopeFor(cfg.OrganizationID)
	}

	st, err := store.Open(store.Config{
		Path:  cfg.DBPath,
		Scope: scope,
		Bus:   bus,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}

	if err := st.InitSchema(); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing schema: %v\n", err)
		os.Exit(1)
	}

	return st
}

// openKVOrExit prepares the key-value table on the store's connection.
func openKVOrExit(st *store.Store) *kv.Store {
	kvStore := kv.New(st.RawDB())
	if err := kvStore.InitSchema(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing kv table: %v\n", err)
		os.Exit(1)
	}
	return kvStore
}

// openCacheOrExit prepares the analytics cache table on the store's
// connection.
func openCacheOrExit(st *store.Store, cfg *config.Config) *cache.Cache {
	cacheStore := cache.New(st.RawDB(), cache.Config{TTL: cfg.CacheTTL})
	if err := cacheStore.InitSchema(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing analytics cache: %v\n", err)
		os.Exit(1)
	}
	return cacheStore
}

func newAPIClient(cfg *config.Config) *api.Client {
	return api.New(api.Config{
		BaseURL: cfg.ServerURL,
		APIKey:  cfg.APIKey,
	})
}

func newProbe(cfg *config.Config) *netprobe.Probe {
	return netprobe.New(netprobe.Config{
		URL:     cfg.ServerURL + "/api/health",
		Timeout: cfg.ProbeTimeout,
	})
}

// buildEngine wires the full sync stack: API client, circuit breaker,
// connectivity probe and retry tuning from cfg.
func buildEngine(cfg *config.Config, st *store.Store, kvStore *kv.Store, bus *events.Bus, logger *log.Logger) *syncer.Engine {
	brk := breaker.New(breaker.Config{
		FailureThreshold: cfg.BreakerThreshold,
		Timeout:          cfg.BreakerTimeout,
		Logger:           logger,
	})

	return syncer.New(syncer.Config{
		Store:   st,
		KV:      kvStore,
		Remote:  newAPIClient(cfg),
		Breaker: brk,
		Bus:     bus,
		Probe:   newProbe(cfg),
		Timeout: cfg.SyncTimeout,
		Retry: syncer.RetryConfig{
			MaxRetries:        cfg.MaxRetries,
			InitialDelay:      cfg.RetryDelay,
			BackoffMultiplier: cfg.BackoffMultiplier,
		},
		Logger: logger,
	})
}
