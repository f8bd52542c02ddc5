package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/config"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "config",
	Short:   "Manage device configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented starter config file",
	Long: `Write the default configuration template. The template documents
every setting; edit it directly or override single values with P360_*
environment variables.`,
	Run: func(cmd *cobra.Command, args []string) {
		path := cfgFile
		if path == "" {
			path = config.Default().ConfigPath()
		}

		if err := config.WriteDefault(path); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Starter config written to %s\n", ui.RenderPass("✓"), path)
		fmt.Printf("   Edit it, or run '%s' for guided setup\n", ui.RenderAccent("p360 setup"))
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Print the configuration the agent would run with right now, after
merging the config file, P360_* environment variables and defaults.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfigOrExit()

		fmt.Printf("\n%s Effective Configuration\n\n", ui.RenderAccent("⚙"))

		fmt.Printf("%s\n", ui.RenderHeader("Identity"))
		if cfg.OrganizationID > 0 {
			fmt.Printf("   organization.id: %d\n", cfg.OrganizationID)
		} else {
			fmt.Printf("   organization.id: %s\n", ui.RenderWarn("not set"))
		}
		fmt.Printf("   server.url: %s\n", orMuted(cfg.ServerURL, "none (offline mode)"))
		fmt.Printf("   server.api_key: %s\n", maskKey(cfg.APIKey))

		fmt.Printf("\n%s\n", ui.RenderHeader("Storage"))
		fmt.Printf("   data.dir: %s\n", cfg.DataDir)
		fmt.Printf("   data.db: %s\n", cfg.DBPath)
		fmt.Printf("   data.drop_dir: %s\n", cfg.DropDir)
		fmt.Printf("   log.file: %s\n", orMuted(cfg.LogFile, "stderr"))

		fmt.Printf("\n%s\n", ui.RenderHeader("Sync"))
		fmt.Printf("   sync.interval: %v\n", cfg.SyncInterval)
		fmt.Printf("   sync.debounce: %v\n", cfg.DebounceInterval)
		fmt.Printf("   sync.timeout: %v\n", cfg.SyncTimeout)
		fmt.Printf("   sync.max_retries: %d\n", cfg.MaxRetries)
		fmt.Printf("   sync.retry_delay: %v\n", cfg.RetryDelay)
		fmt.Printf("   sync.backoff_multiplier: %g\n", cfg.BackoffMultiplier)

		fmt.Printf("\n%s\n", ui.RenderHeader("Resilience"))
		fmt.Printf("   breaker.threshold: %d\n", cfg.BreakerThreshold)
		fmt.Printf("   breaker.timeout: %v\n", cfg.BreakerTimeout)
		fmt.Printf("   cache.ttl: %v\n", cfg.CacheTTL)
		fmt.Printf("   probe.timeout: %v\n", cfg.ProbeTimeout)
		fmt.Printf("   dashboard.port: %d\n", cfg.DashboardPort)
		fmt.Println()
	},
}

var orgCmd = &cobra.Command{
	Use:     "org",
	GroupID: "config",
	Short:   "Manage the organization this device belongs to",
}

var orgUseCmd = &cobra.Command{
	Use:   "use ID",
	Short: "Set the organization for this device",
	Long: `Persist the organization id every local record and API call is
scoped to. Records already on the device that belong to a different
organization stay on disk but become invisible until that organization
is selected again.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			fmt.Fprintf(os.Stderr, "Error: organization id must be a positive number, got %q\n", args[0])
			os.Exit(1)
		}

		cfg := loadConfigOrExit()
		cfg.OrganizationID = id

		path := cfgFile
		if path == "" {
			path = cfg.ConfigPath()
		}

		if err := config.Write(cfg, path); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Device now works on behalf of organization %d\n", ui.RenderPass("✓"), id)
	},
}

var orgClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the configured organization",
	Long: `Remove the organization id from the config. Sync and analytics stop
working until an organization is set again; local data is untouched.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfigOrExit()

		if cfg.OrganizationID == 0 {
			fmt.Println("No organization configured, nothing to clear")
			return
		}

		prev := cfg.OrganizationID
		cfg.OrganizationID = 0

		path := cfgFile
		if path == "" {
			path = cfg.ConfigPath()
		}

		if err := config.Write(cfg, path); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Organization %d cleared\n", ui.RenderPass("✓"), prev)
	},
}

func orMuted(value, fallback string) string {
	if value == "" {
		return ui.RenderMuted(fallback)
	}
	return value
}

func maskKey(key string) string {
	if key == "" {
		return ui.RenderMuted("not set")
	}
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)

	orgCmd.AddCommand(orgUseCmd)
	orgCmd.AddCommand(orgClearCmd)
	rootCmd.AddCommand(orgCmd)
}
