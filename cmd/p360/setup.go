package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/config"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/ui"
)

var setupCmd = &cobra.Command{
	Use:     "setup",
	GroupID: "config",
	Short:   "Configure this device interactively",
	Long: `Walk through device configuration: backend URL, API key and the
organization this device belongs to. Values are written to the config
file; run again at any time to change them.

Leave the server URL empty to run the device fully offline. The
organization id can also be set later with 'p360 org use ID'.`,
	Run: func(cmd *cobra.Command, args []string) {
		if !ui.IsInteractive() {
			fmt.Fprintf(os.Stderr, "Error: setup requires an interactive terminal\n")
			fmt.Fprintf(os.Stderr, "Use 'p360 config init' and edit the file instead\n")
			os.Exit(1)
		}

		cfg := loadConfigOrExit()

		serverURL := cfg.ServerURL
		apiKey := cfg.APIKey
		orgID := ""
		if cfg.OrganizationID > 0 {
			orgID = strconv.FormatInt(cfg.OrganizationID, 10)
		}
		confirmed := true

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Server URL").
					Description("Backend base URL, e.g. https://api.poultry360.example. Empty for offline mode.").
					Placeholder("https://").
					Value(&serverURL).
					Validate(validateServerURL),
				huh.NewInput().
					Title("API key").
					Description("Device credential issued by the backend.").
					EchoMode(huh.EchoModePassword).
					Value(&apiKey),
				huh.NewInput().
					Title("Organization ID").
					Description("Tenant every record on this device belongs to.").
					Value(&orgID).
					Validate(validateOrgID),
				huh.NewConfirm().
					Title("Write configuration?").
					Value(&confirmed),
			),
		)

		if err := form.Run(); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				fmt.Println("Setup canceled")
				return
			}
			fmt.Fprintf(os.Stderr, "Error running setup: %v\n", err)
			os.Exit(1)
		}

		if !confirmed {
			fmt.Println("Setup canceled, nothing written")
			return
		}

		cfg.ServerURL = strings.TrimRight(strings.TrimSpace(serverURL), "/")
		cfg.APIKey = strings.TrimSpace(apiKey)
		cfg.OrganizationID = 0
		if s := strings.TrimSpace(orgID); s != "" {
			id, _ := strconv.ParseInt(s, 10, 64)
			cfg.OrganizationID = id
		}

		path := cfgFile
		if path == "" {
			path = cfg.ConfigPath()
		}

		if err := config.Write(cfg, path); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("\n%s Configuration written to %s\n\n", ui.RenderPass("✓"), path)
		if cfg.OrganizationID > 0 {
			fmt.Printf("   Organization: %d\n", cfg.OrganizationID)
		} else {
			fmt.Printf("   Organization: %s\n", ui.RenderWarn("not set"))
		}
		if cfg.ServerURL != "" {
			fmt.Printf("   Server: %s\n", cfg.ServerURL)
		} else {
			fmt.Printf("   Server: %s\n", ui.RenderMuted("offline mode"))
		}
		fmt.Printf("\nNext: run '%s' to verify, then '%s' to keep the device synchronized\n",
			ui.RenderAccent("p360 status"), ui.RenderAccent("p360 daemon"))
	},
}

func validateServerURL(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL must start with http:// or https://")
	}
	return nil
}

func validateOrgID(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return fmt.Errorf("organization id must be a non-negative number")
	}
	return nil
}

func init() {
	rootCmd.AddCommand(setupCmd)
}
