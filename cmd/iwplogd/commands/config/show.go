package config

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/iwplog/iwplogd/internal/cli/output"
	"github.com/iwplog/iwplogd/pkg/config"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the resolved configuration",
	Long: `Display the iwplogd configuration after defaults and environment
variable overrides have been applied.

By default outputs JSON, matching the on-disk format. Use --output to
change the format.

Examples:
  # Show the resolved config as JSON
  iwplogd config show

  # Show as YAML
  iwplogd config show --output yaml

  # Show a specific config file
  iwplogd config show --config /etc/iwplog/config.json`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "json", "Output format (json|yaml)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	// Get config path from parent's persistent flag
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, cfg)
	default:
		return output.PrintJSON(os.Stdout, cfg)
	}
}
