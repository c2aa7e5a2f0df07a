package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bryanchriswhite/ColorChecker/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage ColorChecker configuration",
	Long: `View and manage ColorChecker configuration settings.

A running service picks up changes written here through its file watcher.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Example: `  # Show configuration as YAML (default)
  colorchecker config show

  # Show configuration as JSON
  colorchecker config show --format json`,
	RunE: runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set PARAMETER VALUE",
	Short: "Set a parameter",
	Long:  "Set an analysis parameter. Valid names: " + strings.Join(config.ParamNames(), ", "),
	Example: `  # Move the marker
  colorchecker config set CenterX 200

  # Use a rectangular marker
  colorchecker config set MarkerShape 1`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configGetCmd = &cobra.Command{
	Use:     "get PARAMETER",
	Short:   "Get a parameter",
	Example: `  colorchecker config get Tolerance`,
	Args:    cobra.ExactArgs(1),
	RunE:    runConfigGet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	RunE:  runConfigPath,
}

var formatFlag string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configPathCmd)

	configShowCmd.Flags().StringVarP(&formatFlag, "format", "f", "yaml", "output format (yaml or json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	mgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	defer mgr.Close()

	cfg := mgr.Get()
	out := cmd.OutOrStdout()

	switch formatFlag {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(cfg)
	case "yaml":
		encoder := yaml.NewEncoder(out)
		encoder.SetIndent(2)
		return encoder.Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (use 'yaml' or 'json')", formatFlag)
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	name, value := args[0], args[1]

	mgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	defer mgr.Close()

	if err := mgr.SetParam(name, value); err != nil {
		return err
	}
	v, _ := mgr.GetParam(name)
	fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", name, v)
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	mgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	defer mgr.Close()

	v, err := mgr.GetParam(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), v)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	path := GetConfigFile()
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
