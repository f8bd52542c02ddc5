package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/events"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/syncer"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Synchronize this device with the backend now",
	Long: `Run one sync session: push local changes, then pull server changes
since the last sync. Failures are retried with exponential backoff
unless --no-retry is given.

Exit code is 0 on success and 1 on failure, so the command can be used
from cron or scripts.`,
	Run: func(cmd *cobra.Command, args []string) {
		noRetry, _ := cmd.Flags().GetBool("no-retry")

		cfg := loadConfigOrExit()
		logger := log.New(io.Discard, "", 0)

		bus := events.NewBus(logger)
		st := openStoreOrExit(cfg, bus)
		defer st.Close()

		kvStore := openKVOrExit(st)
		engine := buildEngine(cfg, st, kvStore, bus, logger)

		unsub := bus.SubscribeMultiple([]events.Type{
			events.TypeSyncStarted,
			events.TypeSyncDownloading,
			events.TypeSyncRetrying,
		}, func(ev events.Event) {
			switch e := ev.(type) {
			case events.SyncStarted:
				fmt.Printf("%s Syncing with server...\n", ui.RenderAccent("🔄"))
			case events.SyncDownloading:
				fmt.Println("   Downloading changes...")
			case events.SyncRetrying:
				fmt.Printf("   %s Retry %d/%d in %v...\n",
					ui.RenderWarn("⟳"), e.Attempt, e.MaxRetries, e.Delay)
			}
		})
		defer unsub()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		start := time.Now()

		var result syncer.Result
		if noRetry {
			result = engine.Sync(ctx)
		} else {
			result = engine.SyncWithRetry(ctx, syncer.RetryConfig{
				MaxRetries:        cfg.MaxRetries,
				InitialDelay:      cfg.RetryDelay,
				BackoffMultiplier: cfg.BackoffMultiplier,
			})
		}

		elapsed := time.Since(start).Round(time.Millisecond)

		switch {
		case result.Success:
			fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), elapsed)
			fmt.Printf("   Uploaded: %d\n", result.Uploaded)
			fmt.Printf("   Downloaded: %d\n", result.Downloaded)
			if len(result.Tables) > 0 {
				fmt.Printf("   Tables: %s\n", strings.Join(result.Tables, ", "))
			}

		case result.Blocked:
			fmt.Printf("%s %s\n", ui.RenderWarn("⚠"), result.Message)
			fmt.Printf("   The circuit breaker is open after repeated failures.\n")
			fmt.Printf("   Check connectivity with '%s' and try again shortly.\n", ui.RenderAccent("p360 status"))
			os.Exit(1)

		case errors.Is(result.Err, syncer.ErrNoOrganization):
			fmt.Fprintf(os.Stderr, "%s No organization configured\n", ui.RenderFail("✗"))
			fmt.Fprintf(os.Stderr, "   Run '%s' or '%s' first\n",
				ui.RenderAccent("p360 setup"), ui.RenderAccent("p360 org use ID"))
			os.Exit(1)

		default:
			fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderFail("✗"), result.Message)
			if result.Err != nil {
				fmt.Fprintf(os.Stderr, "   %v\n", result.Err)
			}
			if result.Retryable {
				fmt.Fprintf(os.Stderr, "   This looks transient; local changes are kept and will sync later\n")
			}
			os.Exit(1)
		}
	},
}

func init() {
	syncCmd.Flags().Bool("no-retry", false, "Fail immediately instead of retrying with backoff")
	rootCmd.AddCommand(syncCmd)
}
