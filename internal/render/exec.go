package render

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/dotpreview-project/dotpreview/internal/scheduler"
	"github.com/dotpreview-project/dotpreview/pkg/errclass"
	"github.com/dotpreview-project/dotpreview/pkg/logging"
)

// ExecOptions configures the Graphviz process renderer.
type ExecOptions struct {
	// DotPath is the Graphviz binary; "dot" is looked up on PATH.
	DotPath string
	// Format is passed as -T<format>.
	Format string
	// Timeout bounds a single render. Zero means no limit.
	Timeout time.Duration
}

// Exec renders Graphviz sources by running the dot binary.
type Exec struct {
	opts   ExecOptions
	sink   Sink
	log    *logging.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewExec creates a renderer that publishes to sink. A nil sink drops output.
func NewExec(opts ExecOptions, sink Sink) *Exec {
	if opts.DotPath == "" {
		opts.DotPath = "dot"
	}
	if opts.Format == "" {
		opts.Format = "svg"
	}
	if sink == nil {
		sink = discard
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Exec{
		opts:   opts,
		sink:   sink,
		log:    logging.Component("render.exec"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Send starts the render in the background.
func (e *Exec) Send(job scheduler.Job) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		start := time.Now()
		data, err := e.Render(e.ctx, job.Source)
		e.log.Debug("render finished", map[string]any{
			"document":    job.Identity,
			"ticket":      job.Ticket,
			"duration_ms": time.Since(start).Milliseconds(),
			"ok":          err == nil,
		})
		e.sink.Publish(Output{
			Identity: job.Identity,
			Ticket:   job.Ticket,
			Format:   e.opts.Format,
			Data:     data,
			Err:      err,
		})
		job.Done(err)
	}()
}

// Render runs dot synchronously.
func (e *Exec) Render(ctx context.Context, source string) ([]byte, error) {
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.opts.DotPath, "-T"+e.opts.Format)
	cmd.Stdin = strings.NewReader(source)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		switch {
		case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
			return nil, errclass.ErrRendererUnavailable.WithMessagef("%s not found; install Graphviz or set renderer.dotPath", e.opts.DotPath)
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, errclass.ErrRenderTimeout.WithMessagef("dot did not finish within %s", e.opts.Timeout)
		case ctx.Err() != nil:
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, errclass.ErrRenderFailed.WithMessage(msg)
	}
	return stdout.Bytes(), nil
}

// Close cancels running renders and waits for them to report.
func (e *Exec) Close() {
	e.cancel()
	e.wg.Wait()
}
