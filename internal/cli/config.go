package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dotpreview-project/dotpreview/pkg/color"
	"github.com/dotpreview-project/dotpreview/pkg/config"
)

var (
	configInitFormat string
	configInitForce  bool
)

var configCmd = &cobra.Command{
	Use:   "config <command>",
	Short: "Manage dotpreview configuration",
	Long: `Manage dotpreview configuration stored in .dotpreview.yaml or .dotpreview.toml.

Timing settings are in milliseconds:
  renderLock                   - Wait for a render to finish before starting the next (true, false)
  renderLockAdditionalTimeout  - Extra time before a stuck render is abandoned (-1 disables)
  renderInterval               - Minimum time between render starts
  debouncingInterval           - Quiet period after the last edit before rendering
  guardInterval                - Delay applied to the first edit after a pause
  view.transitionDelay         - Browser transition delay
  view.transitionDuration      - Browser transition duration
  view.renderWhenHidden        - Render while no view is visible (true, false)

Available commands:
  show              - Show current configuration
  get <key>         - Get a configuration value
  set <key> <value> - Set a configuration value
  init              - Write a config file with the defaults`,
	DisableFlagsInUseLine: true,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Run: func(cmd *cobra.Command, args []string) {
		if jsonOutput {
			mustOutputJSON(cfg)
			return
		}

		if cfgPath != "" {
			fmt.Printf("# Location: %s\n\n", cfgPath)
		} else {
			fmt.Print("# Location: (defaults, no config file)\n\n")
		}
		for _, key := range config.Keys() {
			value, _ := cfg.Get(key)
			if value == "" {
				value = color.Dim("(not set)")
			}
			fmt.Printf("%s: %s\n", key, value)
		}
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Long: `Get a configuration value.

Examples:
  dotpreview config get debouncingInterval
  dotpreview config get view.transitionDuration`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeConfigKeys,
	Run: func(cmd *cobra.Command, args []string) {
		value, err := cfg.Get(args[0])
		if err != nil {
			fmtErr("get config: %v", err)
			os.Exit(1)
		}
		if jsonOutput {
			mustOutputJSON(map[string]string{args[0]: value})
			return
		}
		fmt.Println(value)
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value and save the config file.

Examples:
  dotpreview config set debouncingInterval 150
  dotpreview config set renderer.engine view
  dotpreview config set view.renderWhenHidden true`,
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: completeConfigKeys,
	Run: func(cmd *cobra.Command, args []string) {
		key, value := args[0], args[1]
		if err := cfg.Set(key, value); err != nil {
			fmtErr("set config: %v", err)
			os.Exit(1)
		}

		path := writableConfigPath()
		if err := config.Save(path, cfg); err != nil {
			fmtErr("save config: %v", err)
			os.Exit(1)
		}
		cfgPath = path

		if jsonOutput {
			mustOutputJSON(map[string]string{key: value})
			return
		}
		fmt.Printf("Set %s = %s\n", key, value)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the defaults",
	Run: func(cmd *cobra.Command, args []string) {
		path := configFlag
		if path == "" {
			cwd, err := os.Getwd()
			if err != nil {
				fmtErr("cannot get current directory: %v", err)
				os.Exit(1)
			}
			path = filepath.Join(cwd, ".dotpreview."+strings.TrimPrefix(configInitFormat, "."))
		}
		if _, err := os.Stat(path); err == nil && !configInitForce {
			fmtErr("%s already exists (use --force to overwrite)", path)
			os.Exit(1)
		}

		if err := config.Save(path, config.Default()); err != nil {
			fmtErr("write config: %v", err)
			os.Exit(1)
		}
		if jsonOutput {
			mustOutputJSON(map[string]string{"path": path})
			return
		}
		fmt.Println(color.Successf("Wrote %s", path))
	},
}

func completeConfigKeys(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return config.Keys(), cobra.ShellCompDirectiveNoFileComp
}

func init() {
	configInitCmd.Flags().StringVar(&configInitFormat, "format", "yaml", "config file format (yaml, toml)")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing config file")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
