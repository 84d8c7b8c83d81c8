package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dotpreview-project/dotpreview/pkg/color"
	"github.com/dotpreview-project/dotpreview/pkg/config"
)

// resolveConfigPath returns --config, else the config discovered in the
// current directory, else "" for built-in defaults.
func resolveConfigPath() (string, error) {
	if configFlag != "" {
		return filepath.Abs(configFlag)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("cannot get current directory: %w", err)
	}
	return config.Discover(cwd), nil
}

// writableConfigPath is where config set/init write: the loaded file, or a
// new .dotpreview.yaml in the current directory.
func writableConfigPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	cwd, err := os.Getwd()
	if err != nil {
		fmtErr("cannot get current directory: %v", err)
		os.Exit(1)
	}
	return filepath.Join(cwd, config.FileNames[0])
}

func fmtErr(format string, args ...any) {
	prefix := "dotpreview: "
	if color.Enabled() {
		prefix = color.Error("dotpreview:") + " "
	}
	fmt.Fprintf(os.Stderr, prefix+format+"\n", args...)
}
