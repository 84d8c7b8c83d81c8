// Package preview wires documents, renderers and browser views together.
//
// A Host owns one event loop. Watcher events, view messages and renderer
// completions are all posted to it, so render sessions and the per-document
// state kept here are only ever touched from the loop goroutine.
package preview

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/dotpreview-project/dotpreview/internal/loop"
	"github.com/dotpreview-project/dotpreview/internal/registry"
	"github.com/dotpreview-project/dotpreview/internal/render"
	"github.com/dotpreview-project/dotpreview/internal/scheduler"
	"github.com/dotpreview-project/dotpreview/internal/view"
	"github.com/dotpreview-project/dotpreview/internal/watch"
	"github.com/dotpreview-project/dotpreview/pkg/config"
	"github.com/dotpreview-project/dotpreview/pkg/errclass"
	"github.com/dotpreview-project/dotpreview/pkg/logging"
	"github.com/dotpreview-project/dotpreview/pkg/metrics"
	"github.com/dotpreview-project/dotpreview/pkg/model"
	"github.com/dotpreview-project/dotpreview/pkg/pathutil"
	"github.com/dotpreview-project/dotpreview/pkg/webhook"
)

// Options configures a Host.
type Options struct {
	Config  *config.Config
	Clock   clock.WithDelayedExecution
	Metrics *metrics.Registry
	// Sink observes host-side render output in addition to the views.
	Sink render.Sink
	// Notifier receives render and export events, typically a
	// *webhook.Client.
	Notifier Notifier
	// DisableWatch skips file watching; documents change only through
	// explicit requests.
	DisableWatch bool
}

// Notifier is told about finished renders and saved exports. Notify must
// not block.
type Notifier interface {
	Notify(ev webhook.Event)
}

type document struct {
	latest    string
	hasLatest bool
	visible   bool
	loaded    bool
}

// Host serves previews for a set of open documents.
type Host struct {
	cfg     *config.Config
	sched   scheduler.Config
	clk     clock.WithDelayedExecution
	metrics *metrics.Registry
	sink    render.Sink
	notify  Notifier
	log     *logging.Logger

	loop     *loop.Loop
	registry *registry.Manager
	watcher  *watch.Watcher
	hub      *view.Hub

	renderers render.Set
	markdown  *render.Markdown
	exec      *render.Exec
	views     *render.View

	docs map[string]*document
	wg   sync.WaitGroup
}

// SchedulerConfig converts file settings into a session timing policy.
func SchedulerConfig(cfg *config.Config) scheduler.Config {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return scheduler.Config{
		GuardInterval:     ms(cfg.GuardInterval),
		DebounceInterval:  ms(cfg.DebouncingInterval),
		RenderInterval:    ms(cfg.RenderInterval),
		LockEnabled:       cfg.RenderLock,
		LockSafetyTimeout: cfg.LockSafetyTimeout(),
	}
}

// New creates a host. Nothing runs until Run is called.
func New(opts Options) (*Host, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sched := SchedulerConfig(cfg)
	if err := sched.Validate(); err != nil {
		return nil, err
	}

	h := &Host{
		cfg:     cfg,
		sched:   sched,
		clk:     opts.Clock,
		metrics: opts.Metrics,
		sink:    opts.Sink,
		notify:  opts.Notifier,
		log:     logging.Component("preview"),
		loop:    loop.New(),
		docs:    make(map[string]*document),
	}
	if h.clk == nil {
		h.clk = clock.RealClock{}
	}
	if h.metrics == nil {
		h.metrics = metrics.Default()
	}

	h.hub = view.NewHub(h, view.Options{Metrics: h.metrics})
	sink := render.SinkFunc(h.publish)
	h.markdown = render.NewMarkdown(sink)
	h.renderers.Markdown = h.markdown
	switch cfg.Renderer.Engine {
	case "view":
		h.views = render.NewView(h.hub)
		h.renderers.Dot = h.views
	default:
		h.exec = render.NewExec(render.ExecOptions{
			DotPath: cfg.Renderer.DotPath,
			Format:  cfg.Renderer.Format,
			Timeout: cfg.RenderTimeout(),
		}, sink)
		h.renderers.Dot = h.exec
	}
	h.registry = registry.NewManager(h.newSession, h.metrics)

	if !opts.DisableWatch {
		w, err := watch.New()
		if err != nil {
			return nil, err
		}
		h.watcher = w
	}
	return h, nil
}

// Handler serves the websocket endpoint for views.
func (h *Host) Handler() http.Handler {
	return h.hub
}

// Loop returns the host's event loop.
func (h *Host) Loop() *loop.Loop {
	return h.loop
}

// Run processes events until ctx is cancelled, then closes every document
// and view.
func (h *Host) Run(ctx context.Context) error {
	if h.watcher != nil {
		h.wg.Add(1)
		go h.pump(ctx)
	}
	err := h.loop.Run(ctx)
	h.shutdown()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (h *Host) shutdown() {
	if n := h.registry.CloseAll(); n > 0 {
		h.log.Info("closed documents", map[string]any{"count": n})
	}
	// renderers publish through the hub and notifier, so they stop first
	if h.exec != nil {
		h.exec.Close()
	}
	h.markdown.Close()
	h.hub.Close()
	if h.watcher != nil {
		h.watcher.Close()
	}
	h.wg.Wait()
}

// Open starts previewing path. The current content is held until a view
// asks for it. Opening an open document is a no-op.
func (h *Host) Open(ctx context.Context, path string) (string, error) {
	id, err := pathutil.Identity(path)
	if err != nil {
		return "", err
	}
	if _, err := pathutil.DetectLanguage(id); err != nil {
		return "", err
	}
	data, err := os.ReadFile(id)
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}

	var openErr error
	err = h.loop.Call(ctx, func() {
		e, created, err := h.registry.Open(id)
		if err != nil {
			openErr = err
			return
		}
		if !created {
			return
		}
		if h.watcher != nil {
			if err := h.watcher.Add(id); err != nil {
				h.registry.Close(id)
				openErr = err
				return
			}
		}
		h.docs[id] = &document{latest: string(data), hasLatest: true}
		e.Session.SetPending(string(data))
	})
	if err != nil {
		return "", err
	}
	return id, openErr
}

// Close stops previewing path and disconnects its views.
func (h *Host) Close(ctx context.Context, path string) error {
	id, err := pathutil.Identity(path)
	if err != nil {
		return err
	}
	var closeErr error
	err = h.loop.Call(ctx, func() {
		if closeErr = h.registry.Close(id); closeErr != nil {
			return
		}
		delete(h.docs, id)
		if h.views != nil {
			h.views.Forget(id)
		}
		if h.watcher != nil {
			if err := h.watcher.Remove(id); err != nil {
				h.log.WarnErr("unwatch document", err, map[string]any{"document": id})
			}
		}
	})
	if err != nil {
		return err
	}
	h.hub.CloseDocument(id)
	return closeErr
}

// Request submits new content for an open document as if it had been edited.
func (h *Host) Request(ctx context.Context, path, source string) error {
	return h.onLoop(ctx, path, func(e *registry.Entry) {
		h.accept(e, source)
	})
}

// Flush dispatches whatever is pending for path now, as a view becoming
// visible would.
func (h *Host) Flush(ctx context.Context, path string) error {
	return h.onLoop(ctx, path, func(e *registry.Entry) {
		e.Session.OnViewBecameVisible()
	})
}

// Sessions describes every open document.
func (h *Host) Sessions(ctx context.Context) ([]model.SessionInfo, error) {
	var out []model.SessionInfo
	err := h.loop.Call(ctx, func() {
		for _, e := range h.registry.List() {
			info := model.SessionInfo{
				Document: e.Identity,
				Language: e.Language,
				State:    e.Session.State().String(),
				Clients:  h.hub.Clients(e.Identity),
			}
			_, info.Pending = e.Session.Pending()
			info.InFlight, _ = e.Session.InFlight()
			if d := h.docs[e.Identity]; d != nil {
				info.Visible = d.visible
			}
			out = append(out, info)
		}
	})
	return out, err
}

func (h *Host) onLoop(ctx context.Context, path string, fn func(e *registry.Entry)) error {
	var opErr error
	err := h.loop.Call(ctx, func() {
		e, err := h.registry.Get(path)
		if err != nil {
			opErr = err
			return
		}
		fn(e)
	})
	if err != nil {
		return err
	}
	return opErr
}

func (h *Host) newSession(identity string, lang model.Language) (*scheduler.Session, error) {
	r := h.renderers.For(lang)
	if r == nil {
		return nil, errclass.ErrRendererUnavailable.WithMessagef("no renderer for %s", lang)
	}
	return scheduler.NewSession(identity, h.sched, r, h.loop,
		scheduler.WithClock(h.clk),
		scheduler.WithMetrics(h.metrics),
	)
}

// accept routes new content: hidden previews only keep it for later unless
// renderWhenHidden is set.
func (h *Host) accept(e *registry.Entry, source string) {
	d := h.doc(e.Identity)
	d.latest, d.hasLatest = source, true
	if !d.visible && !h.cfg.View.RenderWhenHidden {
		e.Session.SetPending(source)
		return
	}
	e.Session.RequestRender(source)
}

func (h *Host) doc(identity string) *document {
	d, ok := h.docs[identity]
	if !ok {
		d = &document{}
		h.docs[identity] = d
	}
	return d
}

func (h *Host) pump(ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-h.watcher.Events():
			if !ok {
				return
			}
			h.onFileEvent(ev)
		}
	}
}

func (h *Host) onFileEvent(ev watch.Event) {
	if ev.Kind == watch.KindRemove {
		h.log.Warn("document removed; keeping preview until it reappears", map[string]any{"document": ev.Path})
		return
	}
	// read off the loop; posts keep event order, so the last read wins
	data, err := os.ReadFile(ev.Path)
	if err != nil {
		// an atomic save may have moved the file away between event and read
		h.log.Debug("read document after change", map[string]any{"document": ev.Path, "kind": string(ev.Kind), "error": err.Error()})
		return
	}
	h.loop.Post(func() {
		e, ok := h.registry.Lookup(ev.Path)
		if !ok {
			return
		}
		h.log.Debug("document changed", map[string]any{"document": ev.Path, "kind": string(ev.Kind), "bytes": len(data)})
		h.accept(e, string(data))
	})
}

func (h *Host) publish(out render.Output) {
	msg, err := out.Message()
	if err != nil {
		h.log.ErrorErr("encode render output", err)
	} else {
		h.hub.Broadcast(out.Identity, msg)
	}
	if h.sink != nil {
		h.sink.Publish(out)
	}
	if h.notify != nil {
		ev := webhook.Event{
			Event:    webhook.EventRenderCompleted,
			Document: out.Identity,
			Ticket:   out.Ticket,
			Format:   out.Format,
			Bytes:    len(out.Data),
		}
		if out.Err != nil {
			ev.Event = webhook.EventRenderFailed
			ev.Error = out.Err.Error()
		}
		h.notify.Notify(ev)
	}
}
