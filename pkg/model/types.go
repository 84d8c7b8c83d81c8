// Package model holds the types shared between the preview host, its views
// and the command line.
package model

import "encoding/json"

// Language identifies how a document is rendered.
type Language string

const (
	LanguageDot      Language = "dot"
	LanguageMarkdown Language = "markdown"
)

// Engine selects the renderer used for Graphviz documents.
type Engine string

const (
	// EngineExec runs the Graphviz dot binary on the host.
	EngineExec Engine = "exec"
	// EngineView hands the source to the browser view, which renders it
	// client-side and acknowledges with onRenderFinished.
	EngineView Engine = "view"
)

// Command is the discriminator of a view message.
type Command string

// Host → view.
const (
	CommandRenderDot      Command = "renderDot"
	CommandRendered       Command = "rendered"
	CommandSetConfig      Command = "setConfig"
	CommandSaveSvgSuccess Command = "saveSvgSuccess"
	CommandError          Command = "error"
)

// View → host.
const (
	CommandPageLoaded     Command = "onPageLoaded"
	CommandRenderFinished Command = "onRenderFinished"
	CommandVisibility     Command = "visibility"
	CommandSaveAs         Command = "saveAs"
	CommandClick          Command = "onClick"
	CommandDblClick       Command = "onDblClick"
)

// Message is the envelope of every websocket frame.
type Message struct {
	Command Command         `json:"command"`
	Value   json.RawMessage `json:"value,omitempty"`
}

// NewMessage encodes v as the value of a message.
func NewMessage(cmd Command, v any) (Message, error) {
	if v == nil {
		return Message{Command: cmd}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return Message{Command: cmd, Value: raw}, nil
}

// Decode unmarshals the message value into v.
func (m Message) Decode(v any) error {
	if len(m.Value) == 0 {
		return nil
	}
	return json.Unmarshal(m.Value, v)
}

// RenderDot asks a view to render source client-side.
type RenderDot struct {
	Source string `json:"source"`
	Ticket string `json:"ticket"`
}

// Rendered carries host-side render output to a view.
type Rendered struct {
	Ticket string `json:"ticket"`
	Format string `json:"format"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ViewConfig is pushed to a view once its page has loaded.
type ViewConfig struct {
	TransitionDelay    int `json:"transitionDelay"`
	TransitionDuration int `json:"transitionDuration"`
}

// RenderFinished is a view's acknowledgement of a renderDot.
type RenderFinished struct {
	Ticket string `json:"ticket,omitempty"`
	Err    string `json:"err,omitempty"`
}

// Visibility reports whether a view can currently be seen.
type Visibility struct {
	Visible bool `json:"visible"`
}

// SaveAs asks the host to export view content.
type SaveAs struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
	Data string `json:"data"`
}

// SessionInfo describes one open preview for status output.
type SessionInfo struct {
	Document string   `json:"document"`
	Language Language `json:"language"`
	State    string   `json:"state"`
	Pending  bool     `json:"pending"`
	InFlight string   `json:"in_flight,omitempty"`
	Clients  int      `json:"clients"`
	Visible  bool     `json:"visible"`
}

// SaveResult confirms an export.
type SaveResult struct {
	Path string `json:"path"`
}

// ErrorInfo reports a failed view request.
type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
