package cmd

import (
	"fmt"

	"github.com/aspirely/aspirely-cli/pkg/config"
	"github.com/aspirely/aspirely-cli/pkg/output"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:         "config",
	Short:       "Configuration commands",
	Annotations: map[string]string{annotationNoSession: "true"},
}

var configShowCmd = &cobra.Command{
	Use:         "show",
	Short:       "Show the merged configuration",
	Annotations: map[string]string{annotationNoSession: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := config.AllSettings()
		if output.IsJSON() {
			return output.Print("", settings)
		}
		output.PrintInfo("Config file: %s", config.GetConfigFilePath())
		fmt.Fprintln(output.Out)
		return output.Print("Settings", settings)
	},
}

var configSetCmd = &cobra.Command{
	Use:         "set <key> <value>",
	Short:       "Set a value in the user config file",
	Example:     "  aspirely config set output.format table\n  aspirely config set cache.backend sqlite",
	Args:        cobra.ExactArgs(2),
	Annotations: map[string]string{annotationNoSession: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Persist(args[0], args[1]); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		output.PrintSuccess("✓ %s = %s", args[0], args[1])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
