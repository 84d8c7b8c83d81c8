// Package errclass defines the stable error classes reported by dotpreview.
package errclass

import "fmt"

// PreviewError is a stable, machine-readable error class.
type PreviewError struct {
	Code    string
	Message string
}

func (e *PreviewError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any PreviewError carrying the same Code.
func (e *PreviewError) Is(target error) bool {
	t, ok := target.(*PreviewError)
	return ok && e.Code == t.Code
}

// WithMessage returns a new PreviewError with the same Code but a specific message.
func (e *PreviewError) WithMessage(msg string) *PreviewError {
	return &PreviewError{Code: e.Code, Message: msg}
}

// WithMessagef returns a new PreviewError with a formatted message.
func (e *PreviewError) WithMessagef(format string, args ...any) *PreviewError {
	return &PreviewError{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// Error classes. Codes are part of the --json output and must not change.
var (
	ErrConfigInvalid       = &PreviewError{Code: "E_CONFIG_INVALID"}
	ErrSessionClosed       = &PreviewError{Code: "E_SESSION_CLOSED"}
	ErrDocumentUnsupported = &PreviewError{Code: "E_DOCUMENT_UNSUPPORTED"}
	ErrDocumentNotOpen     = &PreviewError{Code: "E_DOCUMENT_NOT_OPEN"}
	ErrRendererUnavailable = &PreviewError{Code: "E_RENDERER_UNAVAILABLE"}
	ErrRenderFailed        = &PreviewError{Code: "E_RENDER_FAILED"}
	ErrRenderTimeout       = &PreviewError{Code: "E_RENDER_TIMEOUT"}
	ErrViewProtocol        = &PreviewError{Code: "E_VIEW_PROTOCOL"}
	ErrExportInvalid       = &PreviewError{Code: "E_EXPORT_INVALID"}
	ErrPathEscape          = &PreviewError{Code: "E_PATH_ESCAPE"}
)
