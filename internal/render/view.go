package render

import (
	"sync"

	"github.com/dotpreview-project/dotpreview/internal/scheduler"
	"github.com/dotpreview-project/dotpreview/pkg/errclass"
	"github.com/dotpreview-project/dotpreview/pkg/logging"
	"github.com/dotpreview-project/dotpreview/pkg/model"
)

// Broadcaster delivers a message to every view of a document and reports
// how many views it reached.
type Broadcaster interface {
	Broadcast(identity string, msg model.Message) int
}

// View hands sources to the browser, which renders them and replies with
// onRenderFinished. A view that never replies leaves the job open; the
// session's safety timer covers that case.
type View struct {
	hub Broadcaster
	log *logging.Logger

	mu   sync.Mutex
	open map[string]scheduler.Job
}

// NewView creates a view renderer that broadcasts through hub.
func NewView(hub Broadcaster) *View {
	return &View{
		hub:  hub,
		log:  logging.Component("render.view"),
		open: make(map[string]scheduler.Job),
	}
}

// Send broadcasts a renderDot message. With no view connected the job fails
// at once with ErrRendererUnavailable.
func (v *View) Send(job scheduler.Job) {
	msg, err := model.NewMessage(model.CommandRenderDot, model.RenderDot{Source: job.Source, Ticket: job.Ticket})
	if err != nil {
		job.Done(err)
		return
	}

	v.mu.Lock()
	v.open[job.Identity] = job
	v.mu.Unlock()

	if n := v.hub.Broadcast(job.Identity, msg); n == 0 {
		v.take(job.Identity, job.Ticket)
		job.Done(errclass.ErrRendererUnavailable.WithMessage("no view connected"))
	}
}

// Acknowledge completes the open job for identity. An empty ticket matches
// whatever job is open, for views that do not echo tickets. It reports
// whether a job was completed.
func (v *View) Acknowledge(identity, ticket string, err error) bool {
	job, ok := v.take(identity, ticket)
	if !ok {
		v.log.Debug("acknowledgement without open render", map[string]any{"document": identity, "ticket": ticket})
		return false
	}
	job.Done(err)
	return true
}

// Forget drops the open job for identity without completing it.
func (v *View) Forget(identity string) {
	v.mu.Lock()
	delete(v.open, identity)
	v.mu.Unlock()
}

func (v *View) take(identity, ticket string) (scheduler.Job, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	job, ok := v.open[identity]
	if !ok || (ticket != "" && ticket != job.Ticket) {
		return scheduler.Job{}, false
	}
	delete(v.open, identity)
	return job, true
}
