package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/iwplog/iwplogd/internal/cli/prompt"
	"github.com/iwplog/iwplogd/internal/sftpd"
	"github.com/iwplog/iwplogd/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample iwplogd configuration file and SFTP host key.

By default, the configuration file is created at $XDG_CONFIG_HOME/iwplog/config.json.
Use --config to specify a custom path. When the configured SSH host key does
not exist yet, one is generated.

Examples:
  # Initialize with default location
  iwplogd init

  # Initialize with custom path
  iwplogd init --config /etc/iwplog/config.json

  # Force overwrite existing config
  iwplogd init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	// An existing file is only replaced after confirmation (or --force).
	force := initForce
	if !force {
		if _, err := os.Stat(configPath); err == nil {
			ok, err := prompt.Confirm(fmt.Sprintf("Config file already exists at %s. Overwrite", configPath), false)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Keeping the existing configuration.")
				return nil
			}
			force = true
		}
	}

	if err := config.InitConfigToPath(configPath, force); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)

	// Generate the SFTP host key unless one already exists at the
	// configured path.
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to read back config: %w", err)
	}
	if _, err := os.Stat(cfg.SFTPRSAKeyfile); os.IsNotExist(err) {
		if _, err := sftpd.GenerateHostKey(cfg.SFTPRSAKeyfile); err != nil {
			fmt.Printf("\nCould not generate SSH host key at %s: %v\n", cfg.SFTPRSAKeyfile, err)
			fmt.Println("Point sftp_rsa_keyfile at a writable path, or generate one with:")
			fmt.Printf("  ssh-keygen -t rsa -b 2048 -N '' -f %s\n", cfg.SFTPRSAKeyfile)
		} else {
			fmt.Printf("SSH host key generated at: %s\n", cfg.SFTPRSAKeyfile)
		}
	} else {
		fmt.Printf("SSH host key already present at: %s\n", cfg.SFTPRSAKeyfile)
	}

	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Start the server with: iwplogd start")
	fmt.Printf("  3. Or specify custom config: iwplogd start --config %s\n", configPath)
	fmt.Println("\nSecurity note:")
	fmt.Println("  The sample shared_secret is a placeholder. Set the value your PLCs")
	fmt.Println("  send before exposing the trigger listener, or override it with:")
	fmt.Println("    export IWPLOG_SHARED_SECRET=<secret>")

	return nil
}
