package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/daemon"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/dashboard"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/events"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/ui"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Run the sync agent with a real-time WebSocket monitor",
	Long: `Run the device agent together with a WebSocket server that
broadcasts sync activity in real time.

WebSocket frames include:
- sync_started / downloading / sync_completed / sync_failed: lifecycle
- sync_blocked / sync_retrying: resilience state
- record_created / record_updated / record_deleted: local mutations
- data_synced: per-session row counts
- stats: running totals, sent to each client on connect

Example usage:
  p360 dashboard                 # Listen on the configured port (7360)
  p360 dashboard --port 9000     # Listen on a custom port

Connect with a WebSocket client:
  ws://localhost:7360/ws`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfigOrExit()

		if cmd.Flags().Changed("port") {
			cfg.DashboardPort, _ = cmd.Flags().GetInt("port")
		}

		logger := daemon.NewLogger(cfg.LogFile)

		bus := events.NewBus(logger)
		st := openStoreOrExit(cfg, bus)
		defer st.Close()

		kvStore := openKVOrExit(st)
		engine := buildEngine(cfg, st, kvStore, bus, logger)

		server := dashboard.NewServer(&dashboard.Config{
			Port:   cfg.DashboardPort,
			Logger: logger,
		})
		handler := dashboard.NewHandler(server, bus, logger)
		defer handler.Close()

		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start dashboard: %v\n", err)
			os.Exit(1)
		}

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

		fmt.Printf("%s Dashboard started on http://localhost:%d\n", ui.RenderAccent("📡"), cfg.DashboardPort)
		fmt.Printf("   WebSocket endpoint: ws://localhost:%d/ws\n", cfg.DashboardPort)
		fmt.Printf("   Health check: http://localhost:%d/health\n", cfg.DashboardPort)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
		}

		fmt.Println("\nShutting down dashboard server...")
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("Dashboard server stopped")
	},
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 7360, "Port to listen on")
	rootCmd.AddCommand(dashboardCmd)
}
