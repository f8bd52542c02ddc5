package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/daemon"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/events"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the background sync agent (foreground)",
	Long: `Run the device agent: watch the drop directory for exported files,
ingest them into the local database, and synchronize with the backend
on a fixed interval.

The agent runs in the foreground until interrupted. For unattended
operation, run it under a process manager and point log.file at a
rotating log location.

The agent will:
  1. Ingest any drop files already waiting in the drop directory
  2. Attempt a startup sync (skipped when offline)
  3. Watch for new drop files and ingest them as they appear
  4. Sync on every interval tick and after each ingested file`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfigOrExit()

		logger := daemon.NewLogger(cfg.LogFile)

		bus := events.NewBus(logger)
		st := openStoreOrExit(cfg, bus)
		defer st.Close()

		kvStore := openKVOrExit(st)
		engine := buildEngine(cfg, st, kvStore, bus, logger)

		d, err := daemon.New(st, engine, &daemon.Config{
			DropDir:          cfg.DropDir,
			DataDir:          cfg.DataDir,
			SyncInterval:     cfg.SyncInterval,
			DebounceInterval: cfg.DebounceInterval,
			Logger:           logger,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Starting Poultry360 sync agent...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Drop dir: %s\n", cfg.DropDir)
		fmt.Printf("   Database: %s\n", cfg.DBPath)
		fmt.Printf("   Sync interval: %v\n", cfg.SyncInterval)
		if cfg.ServerURL != "" {
			fmt.Printf("   Server: %s\n", cfg.ServerURL)
		} else {
			fmt.Printf("   Server: %s\n", ui.RenderMuted("none (offline mode)"))
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("Sync agent stopped")
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
