package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotpreview-project/dotpreview/internal/preview"
	"github.com/dotpreview-project/dotpreview/internal/render"
	"github.com/dotpreview-project/dotpreview/pkg/config"
	"github.com/dotpreview-project/dotpreview/pkg/fsutil"
	"github.com/dotpreview-project/dotpreview/pkg/logging"
)

var (
	renderOut     string
	renderTimeout time.Duration
)

var renderCmd = &cobra.Command{
	Use:   "render <file>",
	Short: "Render a document once",
	Long: `Render a document once through the same scheduler used by serve and write
the result to stdout or --out.

Graphviz documents are rendered with the dot binary; Markdown documents
become HTML.

Examples:
  dotpreview render graph.dot --out graph.svg
  dotpreview render README.md > README.html`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), renderTimeout)
		defer cancel()

		c := *cfg
		// dot picks its output format from the --out extension
		if f := strings.TrimPrefix(strings.ToLower(filepath.Ext(renderOut)), "."); f != "" && f != "html" {
			c.Renderer.Format = f
		}

		out, err := renderOnce(ctx, &c, args[0])
		if err != nil {
			fmtErr("render: %v", err)
			os.Exit(1)
		}

		if renderOut == "" {
			os.Stdout.Write(out.Data)
			return
		}
		if err := fsutil.AtomicWriteAll(renderOut, out.Data, 0644); err != nil {
			fmtErr("write output: %v", err)
			os.Exit(1)
		}
		if jsonOutput {
			mustOutputJSON(map[string]any{"document": out.Identity, "format": out.Format, "out": renderOut, "bytes": len(out.Data)})
			return
		}
		fmt.Printf("Wrote %s (%d bytes)\n", renderOut, len(out.Data))
	},
}

// renderOnce opens path in a private host, flushes its content and waits
// for the first output.
func renderOnce(ctx context.Context, base *config.Config, path string) (render.Output, error) {
	c := *base
	if c.Renderer.Engine == "view" {
		// no browser to render in
		logging.Debug("render: using the dot binary instead of the view engine")
		c.Renderer.Engine = "exec"
	}

	outs := make(chan render.Output, 1)
	host, err := preview.New(preview.Options{
		Config:       &c,
		DisableWatch: true,
		Sink: render.SinkFunc(func(o render.Output) {
			select {
			case outs <- o:
			default:
			}
		}),
	})
	if err != nil {
		return render.Output{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	hostDone := make(chan error, 1)
	go func() { hostDone <- host.Run(ctx) }()
	defer func() {
		cancel()
		<-hostDone
	}()

	id, err := host.Open(ctx, path)
	if err != nil {
		return render.Output{}, err
	}
	if err := host.Flush(ctx, id); err != nil {
		return render.Output{}, err
	}

	select {
	case out := <-outs:
		return out, out.Err
	case <-ctx.Done():
		return render.Output{}, fmt.Errorf("waiting for %s: %w", filepath.Base(id), ctx.Err())
	}
}

func init() {
	renderCmd.Flags().StringVarP(&renderOut, "out", "o", "", "write output to file instead of stdout")
	renderCmd.Flags().DurationVar(&renderTimeout, "timeout", 30*time.Second, "give up after this long")
	rootCmd.AddCommand(renderCmd)
}
