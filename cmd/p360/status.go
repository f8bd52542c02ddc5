package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/breaker"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/events"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show device sync status",
	Long: `Display the current state of this device: configuration,
connectivity, circuit breaker state, last sync outcome and how many
local changes are waiting to upload.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfigOrExit()
		logger := log.New(io.Discard, "", 0)

		bus := events.NewBus(logger)
		st := openStoreOrExit(cfg, bus)
		defer st.Close()

		kvStore := openKVOrExit(st)
		engine := buildEngine(cfg, st, kvStore, bus, logger)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		fmt.Printf("\n%s Poultry360 Device Status\n\n", ui.RenderAccent("📊"))

		// Identity
		if org, ok := st.OrganizationID(); ok {
			fmt.Printf("Organization: %d\n", org)
		} else {
			fmt.Printf("Organization: %s\n", ui.RenderWarn("not configured"))
		}

		// Connectivity
		if cfg.ServerURL == "" {
			fmt.Printf("Server: %s\n", ui.RenderMuted("none (offline mode)"))
		} else {
			fmt.Printf("Server: %s\n", cfg.ServerURL)
			probe := newProbe(cfg)
			if probe.Online(ctx) {
				fmt.Printf("Connectivity: %s\n", ui.RenderPass("online"))
			} else {
				fmt.Printf("Connectivity: %s\n", ui.RenderWarn("offline"))
			}
		}

		// Breaker
		switch state := engine.BreakerState(); state {
		case breaker.StateClosed:
			fmt.Printf("Circuit breaker: %s\n", ui.RenderPass("closed"))
		case breaker.StateHalfOpen:
			fmt.Printf("Circuit breaker: %s\n", ui.RenderWarn("half-open (trial sync pending)"))
		case breaker.StateOpen:
			fmt.Printf("Circuit breaker: %s\n", ui.RenderFail("open (sync temporarily disabled)"))
		}

		// Last sync
		lastSync, ok, err := engine.LastSync(ctx)
		switch {
		case err != nil:
			fmt.Printf("Last sync: %s\n", ui.RenderFail(fmt.Sprintf("error: %v", err)))
		case !ok:
			fmt.Printf("Last sync: %s\n", ui.RenderMuted("never"))
		default:
			fmt.Printf("Last sync: %s (%s ago)\n",
				lastSync.Local().Format("2006-01-02 15:04:05"),
				time.Since(lastSync).Round(time.Second))
		}

		if lastErr, err := engine.LastError(ctx); err == nil && lastErr != "" {
			fmt.Printf("Last error: %s\n", ui.RenderFail(lastErr))
		}

		// Pending changes
		pending, err := st.PendingCounts(ctx)
		if err != nil {
			fmt.Printf("Pending upload: %s\n", ui.RenderFail(fmt.Sprintf("error: %v", err)))
		} else if pending.Total() == 0 {
			fmt.Printf("Pending upload: %s\n", ui.RenderPass("nothing, fully synced"))
		} else {
			fmt.Printf("Pending upload: %s\n",
				ui.RenderWarn(fmt.Sprintf("%d rows (%d farms, %d batches, %d records)",
					pending.Total(), pending.Farms, pending.Batches, pending.Records)))
		}

		// Database
		fmt.Printf("Database: %s", cfg.DBPath)
		if info, err := os.Stat(cfg.DBPath); err == nil {
			fmt.Printf(" (%s)", formatSize(info.Size()))
		}
		fmt.Println()
		fmt.Println()
	},
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
