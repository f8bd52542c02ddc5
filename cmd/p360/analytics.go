package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/analytics"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/events"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/store"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/ui"
)

var analyticsCmd = &cobra.Command{
	Use:     "analytics",
	GroupID: "advanced",
	Short:   "Show production analytics for this organization",
	Long: `Display the production dashboard: farm, batch and bird totals, egg
production per batch, and the week-over-week egg comparison.

The data source degrades gracefully: live backend data when online,
then the local cache, then a fresh computation from the device
database. The source is shown with the results.

Dates for --from/--to accept YYYY-MM-DD or natural language:
  p360 analytics --days 30
  p360 analytics --from "last monday" --to "today"`,
	Run: func(cmd *cobra.Command, args []string) {
		days, _ := cmd.Flags().GetInt("days")
		fromArg, _ := cmd.Flags().GetString("from")
		toArg, _ := cmd.Flags().GetString("to")
		refresh, _ := cmd.Flags().GetBool("refresh")

		cfg := loadConfigOrExit()
		logger := log.New(io.Discard, "", 0)

		bus := events.NewBus(logger)
		st := openStoreOrExit(cfg, bus)
		defer st.Close()

		cacheStore := openCacheOrExit(st, cfg)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		engine := analytics.New(analytics.Config{
			Store:  st,
			Cache:  cacheStore,
			Remote: newAPIClient(cfg),
			Probe:  newProbe(cfg),
			Bus:    bus,
			Logger: logger,
		})
		defer engine.Close()

		if refresh {
			if err := cacheStore.InvalidateAll(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to clear cache: %v\n", err)
			}
		}

		data, err := engine.Dashboard(ctx)
		if err != nil {
			if errors.Is(err, analytics.ErrNoOrganization) {
				fmt.Fprintf(os.Stderr, "%s No organization configured\n", ui.RenderFail("✗"))
				fmt.Fprintf(os.Stderr, "   Run '%s' first\n", ui.RenderAccent("p360 setup"))
			} else {
				fmt.Fprintf(os.Stderr, "Error computing analytics: %v\n", err)
			}
			os.Exit(1)
		}

		printDashboard(data)

		// An explicit window adds an egg total alongside the dashboard.
		if days > 0 || fromArg != "" || toArg != "" {
			printWindowTotal(ctx, st, days, fromArg, toArg)
		}
	},
}

func printDashboard(data *analytics.DashboardData) {
	fmt.Printf("\n%s Production Dashboard\n", ui.RenderAccent("📊"))
	fmt.Printf("   Source: %s, generated %s\n\n",
		renderSource(data.Source),
		data.GeneratedAt.Local().Format("2006-01-02 15:04:05"))

	fmt.Printf("Farms: %d\n", data.TotalFarms)
	fmt.Printf("Batches: %d\n", data.TotalBatches)
	fmt.Printf("Birds: %d\n", data.TotalBirds)
	fmt.Printf("Total eggs: %d\n", data.TotalEggs)

	if len(data.Batches) > 0 {
		fmt.Printf("\n%s\n", ui.RenderHeader("Per batch:"))
		for _, b := range data.Batches {
			fmt.Printf("   %s: %d birds, %d eggs (%.1f%% rate)\n",
				b.Name, b.CurrentCount, b.TotalEggs, b.ProductionRate)
		}
	}

	w := data.Weekly
	fmt.Printf("\n%s %d this week, %d last week (%+.1f%%)\n",
		ui.RenderHeader("Weekly eggs:"), w.CurrentTotal, w.PreviousTotal, w.PercentageChange)
	fmt.Println()
}

func renderSource(source string) string {
	switch source {
	case analytics.SourceRemote:
		return ui.RenderPass("backend (live)")
	case analytics.SourceCache:
		return ui.RenderAccent("local cache")
	case analytics.SourceLocal:
		return ui.RenderAccent("device database")
	case analytics.SourceStale:
		return ui.RenderWarn("stale cache (recompute failed)")
	default:
		return source
	}
}

func printWindowTotal(ctx context.Context, st *store.Store, days int, fromArg, toArg string) {
	now := time.Now()
	from := now.AddDate(0, 0, -7)
	to := now

	if days > 0 {
		from = now.AddDate(0, 0, -days)
	}
	if fromArg != "" {
		t, err := parseDate(fromArg, now)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing --from: %v\n", err)
			os.Exit(1)
		}
		from = t
	}
	if toArg != "" {
		t, err := parseDate(toArg, now)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing --to: %v\n", err)
			os.Exit(1)
		}
		to = t
	}

	if !from.Before(to) {
		fmt.Fprintf(os.Stderr, "Error: --from (%s) must be before --to (%s)\n",
			from.Format("2006-01-02"), to.Format("2006-01-02"))
		os.Exit(1)
	}

	total, err := st.EggTotalBetween(ctx, from, to)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error computing window total: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s %d eggs between %s and %s\n\n",
		ui.RenderHeader("Window:"), total,
		from.Format("2006-01-02"), to.Format("2006-01-02"))
}

// parseDate accepts YYYY-MM-DD or natural language ("last monday",
// "3 days ago").
func parseDate(s string, ref time.Time) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", strings.TrimSpace(s)); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(s, ref)
	if err != nil {
		return time.Time{}, err
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand %q", s)
	}
	return r.Time, nil
}

var analyticsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export analytics from the backend (online only)",
	Long: `Request a server-side analytics export and write it to a file or
stdout. Exports always come from the backend so they reflect the
authoritative data set; the command fails when offline.

Example usage:
  p360 analytics export --type production --format csv --out report.csv
  p360 analytics export --from "30 days ago" --format json`,
	Run: func(cmd *cobra.Command, args []string) {
		typ, _ := cmd.Flags().GetString("type")
		format, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")
		fromArg, _ := cmd.Flags().GetString("from")
		toArg, _ := cmd.Flags().GetString("to")

		cfg := loadConfigOrExit()
		logger := log.New(io.Discard, "", 0)

		bus := events.NewBus(logger)
		st := openStoreOrExit(cfg, bus)
		defer st.Close()

		cacheStore := openCacheOrExit(st, cfg)
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		engine := analytics.New(analytics.Config{
			Store:  st,
			Cache:  cacheStore,
			Remote: newAPIClient(cfg),
			Probe:  newProbe(cfg),
			Bus:    bus,
			Logger: logger,
		})
		defer engine.Close()

		params := map[string]string{}
		now := time.Now()
		if fromArg != "" {
			t, err := parseDate(fromArg, now)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing --from: %v\n", err)
				os.Exit(1)
			}
			params["from"] = t.Format("2006-01-02")
		}
		if toArg != "" {
			t, err := parseDate(toArg, now)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing --to: %v\n", err)
				os.Exit(1)
			}
			params["to"] = t.Format("2006-01-02")
		}

		data, err := engine.Export(ctx, typ, format, params)
		if err != nil {
			switch {
			case errors.Is(err, analytics.ErrExportOffline):
				fmt.Fprintf(os.Stderr, "%s Export requires a network connection\n", ui.RenderFail("✗"))
				fmt.Fprintf(os.Stderr, "   Exports come from the backend; try again when online\n")
			case errors.Is(err, analytics.ErrNoOrganization):
				fmt.Fprintf(os.Stderr, "%s No organization configured\n", ui.RenderFail("✗"))
				fmt.Fprintf(os.Stderr, "   Run '%s' first\n", ui.RenderAccent("p360 setup"))
			default:
				fmt.Fprintf(os.Stderr, "Error exporting: %v\n", err)
			}
			os.Exit(1)
		}

		if out == "" {
			_, _ = os.Stdout.Write(data)
			return
		}

		if err := os.WriteFile(out, data, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", out, err)
			os.Exit(1)
		}
		fmt.Printf("%s Export written to %s (%s)\n", ui.RenderPass("✓"), out, formatSize(int64(len(data))))
	},
}

func init() {
	analyticsCmd.Flags().Int("days", 0, "Also show the egg total for the last N days")
	analyticsCmd.Flags().String("from", "", "Window start (YYYY-MM-DD or natural language)")
	analyticsCmd.Flags().String("to", "", "Window end (YYYY-MM-DD or natural language)")
	analyticsCmd.Flags().Bool("refresh", false, "Drop cached analytics before computing")

	analyticsExportCmd.Flags().String("type", "production", "Export type requested from the backend")
	analyticsExportCmd.Flags().String("format", "csv", "Export format (csv or json)")
	analyticsExportCmd.Flags().String("out", "", "Output file (default stdout)")
	analyticsExportCmd.Flags().String("from", "", "Window start (YYYY-MM-DD or natural language)")
	analyticsExportCmd.Flags().String("to", "", "Window end (YYYY-MM-DD or natural language)")

	analyticsCmd.AddCommand(analyticsExportCmd)
	rootCmd.AddCommand(analyticsCmd)
}
