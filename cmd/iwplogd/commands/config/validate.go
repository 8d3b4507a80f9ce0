package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/iwplog/iwplogd/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the iwplogd configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  iwplogd config validate

  # Validate specific config file
  iwplogd config validate --config /etc/iwplog/config.json`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	// Get config path from parent's persistent flag
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	// Determine path for display
	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	// Checks that pass validation but will bite at runtime
	var warnings []string

	if cfg.SharedSecret == "changeme" {
		warnings = append(warnings, "shared_secret still holds the sample placeholder - every trigger will be rejected")
	}
	if cfg.IngressIP == "" || cfg.IngressIP == "127.0.0.1" {
		warnings = append(warnings, "ingress_ip points at loopback - devices cannot upload their archives here")
	}
	if _, err := os.Stat(cfg.SFTPRSAKeyfile); err != nil {
		warnings = append(warnings, fmt.Sprintf("SSH host key missing at %s - run 'iwplogd init'", cfg.SFTPRSAKeyfile))
	}
	if cfg.SFTPAuthMode == "kerberos" && !cfg.Kerberos.Enabled {
		warnings = append(warnings, "sftp_auth_mode is kerberos but kerberos.enabled is false")
	}

	fmt.Printf("Configuration file: %s\n", displayPath)
	fmt.Println("Validation: OK")

	if len(warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	fmt.Printf("\nConfiguration summary:\n")
	fmt.Printf("  Trigger listener: %s %s:%d\n", cfg.Listener.Transport, cfg.Listener.Host, cfg.Listener.Port)
	fmt.Printf("  SFTP ingress:     %s:%d (auth %s)\n", cfg.SFTPHostIP, cfg.SFTPListenPort, authModeName(cfg.SFTPAuthMode))
	fmt.Printf("  Syslog collector: %s %s:%d\n", cfg.Syslog.Transport, cfg.Syslog.IP, cfg.Syslog.Port)
	fmt.Printf("  Event window:     +/- %gs\n", cfg.EventWindowSeconds)
	fmt.Printf("  Log level:        %s\n", cfg.Log.Level)

	return nil
}

func authModeName(mode string) string {
	if mode == "" {
		return "open"
	}
	return mode
}
