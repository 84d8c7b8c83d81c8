package preview

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dotpreview-project/dotpreview/internal/view"
	"github.com/dotpreview-project/dotpreview/pkg/errclass"
	"github.com/dotpreview-project/dotpreview/pkg/fsutil"
	"github.com/dotpreview-project/dotpreview/pkg/model"
	"github.com/dotpreview-project/dotpreview/pkg/pathutil"
	"github.com/dotpreview-project/dotpreview/pkg/webhook"
)

// Resolve accepts /ws?doc=<path> for documents that are open.
func (h *Host) Resolve(r *http.Request) (string, error) {
	doc := r.URL.Query().Get("doc")
	if doc == "" {
		return "", errclass.ErrViewProtocol.WithMessage("missing doc parameter")
	}
	id, err := pathutil.Identity(doc)
	if err != nil {
		return "", err
	}
	var found bool
	if err := h.loop.Call(r.Context(), func() {
		_, found = h.registry.Lookup(id)
	}); err != nil {
		return "", err
	}
	if !found {
		return "", errclass.ErrDocumentNotOpen.WithMessagef("%s is not open", id)
	}
	return id, nil
}

// OnConnect is called once a view is registered.
func (h *Host) OnConnect(c *view.Client) {
	id := c.Identity()
	h.loop.Post(func() { h.onViewsChanged(id) })
}

// OnDisconnect is called once a view is gone.
func (h *Host) OnDisconnect(c *view.Client) {
	id := c.Identity()
	h.loop.Post(func() { h.onViewsChanged(id) })
}

// OnMessage handles a message sent by a view.
func (h *Host) OnMessage(c *view.Client, msg model.Message) {
	id := c.Identity()
	switch msg.Command {
	case model.CommandPageLoaded:
		h.loop.Post(func() { h.onPageLoaded(c) })

	case model.CommandRenderFinished:
		var fin model.RenderFinished
		if err := msg.Decode(&fin); err != nil {
			h.replyError(c, errclass.ErrViewProtocol.WithMessagef("onRenderFinished: %v", err))
			return
		}
		h.loop.Post(func() { h.onRenderFinished(id, fin) })

	case model.CommandVisibility:
		// the hub has already recorded the client's flag
		h.loop.Post(func() { h.onViewsChanged(id) })

	case model.CommandSaveAs:
		var req model.SaveAs
		if err := msg.Decode(&req); err != nil {
			h.replyError(c, errclass.ErrViewProtocol.WithMessagef("saveAs: %v", err))
			return
		}
		path, err := h.export(id, req)
		if err != nil {
			h.log.WarnErr("export failed", err, map[string]any{"document": id})
			h.replyError(c, err)
			return
		}
		h.log.Info("exported", map[string]any{"document": id, "path": path})
		if h.notify != nil {
			h.notify.Notify(webhook.Event{Event: webhook.EventExportSaved, Document: id, Format: req.Type, Path: path})
		}
		if reply, err := model.NewMessage(model.CommandSaveSvgSuccess, model.SaveResult{Path: path}); err == nil {
			c.Send(reply)
		}

	case model.CommandClick, model.CommandDblClick:
		h.log.Debug("view event", map[string]any{"document": id, "command": string(msg.Command), "value": string(msg.Value)})

	default:
		h.log.Warn("unexpected view command", map[string]any{"document": id, "command": string(msg.Command)})
	}
}

func (h *Host) onPageLoaded(c *view.Client) {
	e, ok := h.registry.Lookup(c.Identity())
	if !ok {
		return
	}
	msg, err := model.NewMessage(model.CommandSetConfig, model.ViewConfig{
		TransitionDelay:    h.cfg.View.TransitionDelay,
		TransitionDuration: h.cfg.View.TransitionDuration,
	})
	if err == nil {
		c.Send(msg)
	}

	d := h.doc(e.Identity)
	d.loaded = true
	// a fresh page shows nothing; make sure the latest content reaches it
	_, pending := e.Session.Pending()
	_, inFlight := e.Session.InFlight()
	if !pending && !inFlight && d.hasLatest {
		e.Session.SetPending(d.latest)
	}
	h.onViewsChanged(e.Identity)
	e.Session.OnViewBecameVisible()
}

func (h *Host) onViewsChanged(identity string) {
	e, ok := h.registry.Lookup(identity)
	if !ok {
		return
	}
	d := h.doc(identity)
	was := d.visible
	d.visible = h.hub.Visible(identity)
	if d.visible && !was {
		e.Session.OnViewBecameVisible()
	}
}

func (h *Host) onRenderFinished(identity string, fin model.RenderFinished) {
	e, ok := h.registry.Lookup(identity)
	if !ok {
		return
	}
	var renderErr error
	if fin.Err != "" {
		renderErr = errclass.ErrRenderFailed.WithMessage(fin.Err)
	}

	if fin.Ticket == "" {
		// views that do not echo tickets acknowledge whatever is in flight
		if h.views != nil {
			h.views.Forget(identity)
		}
		e.Session.OnRenderAcknowledged(renderErr)
		return
	}
	if h.views == nil || !h.views.Acknowledge(identity, fin.Ticket, renderErr) {
		h.log.Debug("stale render acknowledgement", map[string]any{"document": identity, "ticket": fin.Ticket})
	}
}

// export writes view content next to the document, or under exportDir.
func (h *Host) export(identity string, req model.SaveAs) (string, error) {
	var ext string
	switch req.Type {
	case "dot", "svg":
		ext = "." + req.Type
	default:
		return "", errclass.ErrExportInvalid.WithMessagef("unsupported export type %q", req.Type)
	}

	name := req.Name
	if name == "" {
		base := filepath.Base(identity)
		name = strings.TrimSuffix(base, filepath.Ext(base)) + ext
		if name == base {
			name = strings.TrimSuffix(base, filepath.Ext(base)) + ".export" + ext
		}
	}
	if !strings.EqualFold(filepath.Ext(name), ext) {
		name += ext
	}
	if err := pathutil.ValidateExportName(name); err != nil {
		return "", err
	}

	dir := h.exportDir(identity)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	target := filepath.Join(dir, name)
	if err := pathutil.ValidatePathSafety(dir, target); err != nil {
		return "", err
	}
	if pathutil.Normalize(target) == identity {
		return "", errclass.ErrExportInvalid.WithMessage("export would overwrite the document")
	}
	if err := fsutil.AtomicWrite(target, []byte(req.Data), 0644); err != nil {
		return "", err
	}
	return target, nil
}

func (h *Host) exportDir(identity string) string {
	docDir := filepath.Dir(identity)
	switch {
	case h.cfg.ExportDir == "":
		return docDir
	case filepath.IsAbs(h.cfg.ExportDir):
		return h.cfg.ExportDir
	}
	return filepath.Join(docDir, h.cfg.ExportDir)
}

func (h *Host) replyError(c *view.Client, err error) {
	info := model.ErrorInfo{Message: err.Error()}
	var pe *errclass.PreviewError
	if errors.As(err, &pe) {
		info.Code, info.Message = pe.Code, pe.Message
	}
	if msg, mErr := model.NewMessage(model.CommandError, info); mErr == nil {
		c.Send(msg)
	}
}
