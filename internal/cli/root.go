package cli

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/dotpreview-project/dotpreview/pkg/color"
	"github.com/dotpreview-project/dotpreview/pkg/config"
	"github.com/dotpreview-project/dotpreview/pkg/logging"
)

var (
	jsonOutput bool
	configFlag string
	logLevel   string
	noColor    bool

	// cfg and cfgPath are set by loadSettings before any command runs.
	cfg     *config.Config
	cfgPath string

	rootCmd = &cobra.Command{
		Use:   "dotpreview",
		Short: "dotpreview - live preview for Graphviz and Markdown",
		Long: `dotpreview is a live preview server for Graphviz (.dot, .gv) and Markdown
documents. It watches your files, coalesces bursts of edits into as few
renders as possible, and pushes the result to browser views over a websocket.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: loadSettings,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "config file (default: .dotpreview.yaml or .dotpreview.toml in the current directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides logging.level)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmtErr("%v", err)
		os.Exit(1)
	}
}

// loadSettings reads the config file and configures logging and color.
func loadSettings(cmd *cobra.Command, args []string) error {
	color.Init(noColor)
	if noColor {
		color.Disable()
	}

	path, err := resolveConfigPath()
	if err != nil {
		return err
	}
	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	cfg, cfgPath = loaded, path

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(lvl)
	logger.SetFormat(logging.Format(cfg.Logging.Format))
	logger.SetOutput(os.Stderr)
	logging.SetGlobal(logger)
	return nil
}

// outputJSON prints v as JSON if --json flag is set, otherwise does nothing.
func outputJSON(v any) error {
	if !jsonOutput {
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func mustOutputJSON(v any) {
	if err := outputJSON(v); err != nil {
		fmtErr("encode output: %v", err)
		os.Exit(1)
	}
}
