// Package render turns document sources into previews.
//
// Every renderer implements scheduler.Renderer: Send returns at once and the
// job's Done callback fires when the render has finished, from whatever
// goroutine did the work. Host-side renderers also publish their output to a
// Sink; the view renderer leaves rendering to the browser.
package render

import (
	"github.com/dotpreview-project/dotpreview/internal/scheduler"
	"github.com/dotpreview-project/dotpreview/pkg/model"
)

// Output is the result of one host-side render.
type Output struct {
	Identity string
	Ticket   string
	Format   string
	Data     []byte
	Err      error
}

// Message converts o to the wire form sent to views.
func (o Output) Message() (model.Message, error) {
	r := model.Rendered{Ticket: o.Ticket, Format: o.Format, Output: string(o.Data)}
	if o.Err != nil {
		r.Error = o.Err.Error()
	}
	return model.NewMessage(model.CommandRendered, r)
}

// Sink receives render output. Publish may be called concurrently.
type Sink interface {
	Publish(out Output)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(out Output)

// Publish calls f(out).
func (f SinkFunc) Publish(out Output) { f(out) }

var discard = SinkFunc(func(Output) {})

// Set picks the renderer for each document language.
type Set struct {
	Dot      scheduler.Renderer
	Markdown scheduler.Renderer
}

// For returns the renderer for lang, or nil.
func (s Set) For(lang model.Language) scheduler.Renderer {
	switch lang {
	case model.LanguageDot:
		return s.Dot
	case model.LanguageMarkdown:
		return s.Markdown
	}
	return nil
}
