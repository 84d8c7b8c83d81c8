package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotpreview-project/dotpreview/internal/preview"
	"github.com/dotpreview-project/dotpreview/pkg/color"
	"github.com/dotpreview-project/dotpreview/pkg/logging"
	"github.com/dotpreview-project/dotpreview/pkg/metrics"
	"github.com/dotpreview-project/dotpreview/pkg/model"
	"github.com/dotpreview-project/dotpreview/pkg/webhook"
)

var (
	serveAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve <file>...",
	Short: "Preview documents live in the browser",
	Long: `Open the given documents and serve live previews until interrupted.

Endpoints:
  /ws?doc=<path>   websocket for a document's views
  /metrics         Prometheus metrics
  /healthz         open documents and their render state

Examples:
  dotpreview serve graph.dot
  dotpreview serve --addr :8080 docs/*.gv README.md`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		addr := cfg.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := serve(ctx, addr, args); err != nil {
			fmtErr("serve: %v", err)
			os.Exit(1)
		}
	},
}

func serve(ctx context.Context, addr string, files []string) error {
	opts := preview.Options{Config: cfg}
	if len(cfg.Webhooks) > 0 {
		hooks := webhook.NewClient(cfg.Webhooks, webhook.DefaultOptions())
		defer hooks.Close()
		opts.Notifier = hooks
	}
	host, err := preview.New(opts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	hostDone := make(chan error, 1)
	go func() { hostDone <- host.Run(ctx) }()

	var ids []string
	for _, f := range files {
		id, err := host.Open(ctx, f)
		if err != nil {
			cancel()
			<-hostDone
			return fmt.Errorf("open %s: %w", f, err)
		}
		ids = append(ids, id)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		cancel()
		<-hostDone
		return err
	}
	srv := &http.Server{
		Handler:           newServeMux(host, metrics.Default()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srvDone := make(chan error, 1)
	go func() { srvDone <- srv.Serve(ln) }()

	base := "http://" + ln.Addr().String()
	if jsonOutput {
		mustOutputJSON(map[string]any{"addr": ln.Addr().String(), "documents": ids})
	} else {
		for _, id := range ids {
			fmt.Printf("%s  %s/ws?doc=%s\n", color.Document(id), base, url.QueryEscape(id))
		}
		fmt.Println(color.Dim("Press Ctrl+C to stop"))
	}
	logging.Info("serving previews", map[string]any{"addr": ln.Addr().String(), "documents": len(ids)})

	select {
	case <-ctx.Done():
	case err = <-srvDone:
		cancel()
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logging.ErrorErr("http shutdown", shutdownErr)
	}
	hostErr := <-hostDone

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return hostErr
}

type sessionLister interface {
	Handler() http.Handler
	Sessions(ctx context.Context) ([]model.SessionInfo, error)
}

func newServeMux(host sessionLister, m *metrics.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws", host.Handler())
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		sessions, err := host.Sessions(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"documents": sessions,
		})
	})
	return mux
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "address to listen on (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}
