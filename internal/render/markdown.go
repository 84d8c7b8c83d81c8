package render

import (
	"sync"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"github.com/dotpreview-project/dotpreview/internal/scheduler"
)

// Markdown renders Markdown documents to HTML.
type Markdown struct {
	sink Sink
	wg   sync.WaitGroup
}

// NewMarkdown creates a renderer that publishes to sink.
func NewMarkdown(sink Sink) *Markdown {
	if sink == nil {
		sink = discard
	}
	return &Markdown{sink: sink}
}

// Send renders in the background.
func (m *Markdown) Send(job scheduler.Job) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		out := RenderMarkdown([]byte(job.Source))
		m.sink.Publish(Output{
			Identity: job.Identity,
			Ticket:   job.Ticket,
			Format:   "html",
			Data:     out,
		})
		job.Done(nil)
	}()
}

// Close waits for running renders to publish.
func (m *Markdown) Close() {
	m.wg.Wait()
}

// RenderMarkdown converts src to an HTML fragment. A parser is not safe for
// reuse, so each call builds its own.
func RenderMarkdown(src []byte) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	r := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.HrefTargetBlank})
	return markdown.ToHTML(src, p, r)
}
