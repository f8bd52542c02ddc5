package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/daemon"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/events"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/ui"
)

var importCmd = &cobra.Command{
	Use:     "import FILE...",
	GroupID: "sync",
	Short:   "Import drop files into the local database",
	Long: `Ingest one or more exported drop files by hand, using the same
validation the daemon applies: the file's organization must match this
device, and bad rows are skipped with a warning.

Files are left in place. Pass --sync to push the imported rows to the
backend immediately.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runSync, _ := cmd.Flags().GetBool("sync")

		cfg := loadConfigOrExit()
		logger := log.New(os.Stderr, "[import] ", log.LstdFlags)

		bus := events.NewBus(log.New(io.Discard, "", 0))
		st := openStoreOrExit(cfg, bus)
		defer st.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		total := 0
		failed := 0
		for _, path := range args {
			result, err := daemon.IngestDropFile(ctx, st, path, logger)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %s: %v\n", ui.RenderFail("✗"), path, err)
				failed++
				continue
			}

			fmt.Printf("%s %s: %d farms, %d batches, %d records",
				ui.RenderPass("✓"), path, result.Farms, result.Batches, result.Records)
			if result.Skipped > 0 {
				fmt.Printf(" (%s)", ui.RenderWarn(fmt.Sprintf("%d skipped", result.Skipped)))
			}
			fmt.Println()

			total += result.Total()
		}

		if failed == len(args) {
			os.Exit(1)
		}

		if total == 0 {
			fmt.Println("Nothing imported")
			return
		}

		if !runSync {
			pending, err := st.PendingCounts(ctx)
			if err == nil {
				fmt.Printf("\n%d rows waiting to upload; run '%s' to push them\n",
					pending.Total(), ui.RenderAccent("p360 sync"))
			}
			return
		}

		kvStore := openKVOrExit(st)
		engine := buildEngine(cfg, st, kvStore, bus, logger)

		fmt.Printf("\n%s Syncing imported rows...\n", ui.RenderAccent("🔄"))
		result := engine.Sync(ctx)
		if !result.Success {
			fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderFail("✗"), result.Message)
			fmt.Fprintf(os.Stderr, "   Imported rows are kept locally and will sync later\n")
			os.Exit(1)
		}
		fmt.Printf("%s Uploaded %d rows\n", ui.RenderPass("✓"), result.Uploaded)
	},
}

func init() {
	importCmd.Flags().Bool("sync", false, "Sync with the backend after importing")
	rootCmd.AddCommand(importCmd)
}
