package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dotpreview-project/dotpreview/internal/doctor"
	"github.com/dotpreview-project/dotpreview/pkg/color"
)

var (
	doctorClean bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that previews can be served",
	Long: `Check that previews can be served.

Validates the configuration, looks for the Graphviz binary when the exec
engine is selected, and reports leftover temporary files from interrupted
writes under the current directory. Use --clean to remove them.`,
	Run: func(cmd *cobra.Command, args []string) {
		cwd, err := os.Getwd()
		if err != nil {
			fmtErr("cannot get current directory: %v", err)
			os.Exit(1)
		}

		doc := doctor.NewDoctor(cfg, cwd)
		if doctorClean {
			n, err := doc.CleanTmp()
			if err != nil {
				fmtErr("clean: %v", err)
				os.Exit(1)
			}
			if !jsonOutput && n > 0 {
				fmt.Printf("Removed %d temp file(s).\n", n)
			}
		}

		result, err := doc.Check()
		if err != nil {
			fmtErr("doctor: %v", err)
			os.Exit(1)
		}

		if jsonOutput {
			mustOutputJSON(result)
		} else if len(result.Findings) == 0 {
			fmt.Println(color.Success("Setup is healthy."))
		} else {
			fmt.Printf("Findings (%d):\n", len(result.Findings))
			for _, f := range result.Findings {
				fmt.Printf("  [%s] %s: %s\n", color.Finding(f.Severity), f.Category, f.Description)
			}
		}

		if !result.Healthy {
			os.Exit(1)
		}
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorClean, "clean", false, "remove orphan temp files before checking")
	rootCmd.AddCommand(doctorCmd)
}
