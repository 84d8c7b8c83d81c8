package render_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotpreview-project/dotpreview/internal/render"
	"github.com/dotpreview-project/dotpreview/internal/scheduler"
	"github.com/dotpreview-project/dotpreview/pkg/errclass"
	"github.com/dotpreview-project/dotpreview/pkg/model"
)

// fakeDot writes a shell script standing in for the Graphviz binary.
func fakeDot(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "dot")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

type collector struct {
	mu   sync.Mutex
	outs []render.Output
}

func (c *collector) Publish(out render.Output) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outs = append(c.outs, out)
}

func (c *collector) all() []render.Output {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]render.Output(nil), c.outs...)
}

// job returns a Job whose Done result arrives on the returned channel.
func job(identity, ticket, source string) (scheduler.Job, <-chan error) {
	done := make(chan error, 1)
	return scheduler.Job{
		Identity: identity,
		Ticket:   ticket,
		Source:   source,
		Done:     func(err error) { done <- err },
	}, done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("render did not complete")
		return nil
	}
}

func TestExec_RendersThroughBinary(t *testing.T) {
	dot := fakeDot(t, `echo "format=$1"; cat`)
	sink := &collector{}
	r := render.NewExec(render.ExecOptions{DotPath: dot, Format: "svg"}, sink)
	defer r.Close()

	j, done := job("/a.dot", "t1", "digraph { a -> b }")
	r.Send(j)
	require.NoError(t, wait(t, done))

	outs := sink.all()
	require.Len(t, outs, 1)
	assert.Equal(t, "/a.dot", outs[0].Identity)
	assert.Equal(t, "t1", outs[0].Ticket)
	assert.Equal(t, "svg", outs[0].Format)
	assert.Equal(t, "format=-Tsvg\ndigraph { a -> b }", string(outs[0].Data))
	assert.NoError(t, outs[0].Err)
}

func TestExec_SyntaxErrorCarriesStderr(t *testing.T) {
	dot := fakeDot(t, `echo "Error: syntax error in line 1" >&2; exit 1`)
	r := render.NewExec(render.ExecOptions{DotPath: dot}, nil)
	defer r.Close()

	_, err := r.Render(context.Background(), "digraph {")
	require.ErrorIs(t, err, errclass.ErrRenderFailed)
	assert.Contains(t, err.Error(), "syntax error in line 1")
}

func TestExec_Timeout(t *testing.T) {
	dot := fakeDot(t, `exec sleep 5`)
	r := render.NewExec(render.ExecOptions{DotPath: dot, Timeout: 50 * time.Millisecond}, nil)
	defer r.Close()

	_, err := r.Render(context.Background(), "digraph {}")
	assert.ErrorIs(t, err, errclass.ErrRenderTimeout)
}

func TestExec_MissingBinary(t *testing.T) {
	r := render.NewExec(render.ExecOptions{DotPath: filepath.Join(t.TempDir(), "no-such-dot")}, nil)
	defer r.Close()

	j, done := job("/a.dot", "t1", "digraph {}")
	r.Send(j)
	assert.ErrorIs(t, wait(t, done), errclass.ErrRendererUnavailable)
}

func TestExec_CloseCancelsRunning(t *testing.T) {
	dot := fakeDot(t, `exec sleep 5`)
	r := render.NewExec(render.ExecOptions{DotPath: dot}, nil)

	j, done := job("/a.dot", "t1", "digraph {}")
	r.Send(j)
	r.Close()

	err := wait(t, done)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestMarkdown_RendersHTML(t *testing.T) {
	sink := &collector{}
	r := render.NewMarkdown(sink)

	j, done := job("/notes.md", "t9", "# Title\n\nsome *text*\n")
	r.Send(j)
	require.NoError(t, wait(t, done))

	outs := sink.all()
	require.Len(t, outs, 1)
	assert.Equal(t, "html", outs[0].Format)
	html := string(outs[0].Data)
	assert.Contains(t, html, `<h1 id="title">Title</h1>`)
	assert.Contains(t, html, "<em>text</em>")
}

func TestMarkdown_CloseWaitsForPublish(t *testing.T) {
	sink := &collector{}
	r := render.NewMarkdown(sink)

	for i := 0; i < 5; i++ {
		j, _ := job("/notes.md", "t", "# heading\n")
		r.Send(j)
	}
	r.Close()
	assert.Len(t, sink.all(), 5)
}

func TestRenderMarkdown_Tables(t *testing.T) {
	out := string(render.RenderMarkdown([]byte("| a | b |\n|---|---|\n| 1 | 2 |\n")))
	assert.Contains(t, out, "<table>")
	assert.Contains(t, out, "<td>1</td>")
}

type fakeHub struct {
	mu      sync.Mutex
	clients int
	sent    []model.Message
}

func (h *fakeHub) Broadcast(identity string, msg model.Message) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, msg)
	return h.clients
}

func TestView_BroadcastsAndAcknowledges(t *testing.T) {
	hub := &fakeHub{clients: 2}
	v := render.NewView(hub)

	j, done := job("/a.dot", "t1", "digraph {}")
	v.Send(j)

	require.Len(t, hub.sent, 1)
	assert.Equal(t, model.CommandRenderDot, hub.sent[0].Command)
	var rd model.RenderDot
	require.NoError(t, hub.sent[0].Decode(&rd))
	assert.Equal(t, model.RenderDot{Source: "digraph {}", Ticket: "t1"}, rd)

	assert.False(t, v.Acknowledge("/a.dot", "other", nil), "foreign ticket is ignored")
	assert.True(t, v.Acknowledge("/a.dot", "t1", errors.New("bad graph")))
	assert.EqualError(t, wait(t, done), "bad graph")

	assert.False(t, v.Acknowledge("/a.dot", "t1", nil), "second ack finds nothing open")
}

func TestView_AcknowledgeWithoutTicket(t *testing.T) {
	v := render.NewView(&fakeHub{clients: 1})
	j, done := job("/a.dot", "t1", "digraph {}")
	v.Send(j)

	assert.True(t, v.Acknowledge("/a.dot", "", nil))
	assert.NoError(t, wait(t, done))
}

func TestView_NoClients(t *testing.T) {
	v := render.NewView(&fakeHub{})
	j, done := job("/a.dot", "t1", "digraph {}")
	v.Send(j)

	assert.ErrorIs(t, wait(t, done), errclass.ErrRendererUnavailable)
	assert.False(t, v.Acknowledge("/a.dot", "", nil))
}

func TestView_Forget(t *testing.T) {
	v := render.NewView(&fakeHub{clients: 1})
	j, _ := job("/a.dot", "t1", "digraph {}")
	v.Send(j)
	v.Forget("/a.dot")
	assert.False(t, v.Acknowledge("/a.dot", "", nil))
}

func TestOutput_Message(t *testing.T) {
	msg, err := render.Output{Ticket: "t1", Format: "svg", Data: []byte("<svg/>")}.Message()
	require.NoError(t, err)
	assert.Equal(t, model.CommandRendered, msg.Command)
	assert.JSONEq(t, `{"ticket":"t1","format":"svg","output":"<svg/>"}`, string(msg.Value))

	msg, err = render.Output{Ticket: "t2", Format: "svg", Err: errors.New("boom")}.Message()
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(msg.Value), `"error":"boom"`))
}

func TestSet_For(t *testing.T) {
	dot := render.NewView(&fakeHub{})
	md := render.NewMarkdown(nil)
	set := render.Set{Dot: dot, Markdown: md}
	assert.Same(t, dot, set.For(model.LanguageDot))
	assert.Same(t, md, set.For(model.LanguageMarkdown))
	assert.Nil(t, set.For("rust"))
}
