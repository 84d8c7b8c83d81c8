// Package color provides terminal color output for the dotpreview CLI.
// It respects the NO_COLOR environment variable (https://no-color.org/).
package color

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/term"
)

var (
	state struct {
		enabled  bool
		once     sync.Once
		disabled bool
	}
)

// Init initializes the color system based on environment and flags. Output
// that is not a terminal is never colored.
func Init(noColorFlag bool) {
	state.once.Do(func() {
		if _, exists := os.LookupEnv("NO_COLOR"); exists {
			state.disabled = true
		}
		if os.Getenv("TERM") == "dumb" {
			state.disabled = true
		}
		if noColorFlag || !term.IsTerminal(int(os.Stdout.Fd())) {
			state.disabled = true
		}
		state.enabled = !state.disabled
	})
}

// Enabled returns true if color output is enabled.
func Enabled() bool {
	Init(false)
	return state.enabled
}

// Disable turns off color output.
func Disable() {
	state.disabled = true
	state.enabled = false
}

// Enable turns on color output.
func Enable() {
	state.disabled = false
	state.enabled = true
}

// ANSI color codes
const (
	Reset   = "\033[0m"
	Bold    = "\033[1m"
	DimCode = "\033[2m"

	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Cyan   = "\033[36m"
)

func wrap(code, s string) string {
	if !Enabled() {
		return s
	}
	return code + s + Reset
}

// Success formats a success message in green.
func Success(s string) string { return wrap(Green, s) }

// Successf formats a success message with printf-style arguments.
func Successf(format string, args ...any) string { return Success(fmt.Sprintf(format, args...)) }

// Error formats an error message in red.
func Error(s string) string { return wrap(Red, s) }

// Warning formats a warning message in yellow.
func Warning(s string) string { return wrap(Yellow, s) }

// Document formats a document path in cyan.
func Document(s string) string { return wrap(Cyan, s) }

// Header formats a header in bold.
func Header(s string) string { return wrap(Bold, s) }

// Dim formats dimmed text (for secondary information).
func Dim(s string) string { return wrap(DimCode, s) }

// Finding colors a doctor severity label.
func Finding(severity string) string {
	switch severity {
	case "error":
		return Error(severity)
	case "warning":
		return Warning(severity)
	}
	return Dim(severity)
}
