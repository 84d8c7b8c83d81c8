// Package webhook posts render and export notifications to HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/dotpreview-project/dotpreview/pkg/logging"
)

// EventType names a notification.
type EventType string

const (
	EventRenderCompleted EventType = "render.completed"
	EventRenderFailed    EventType = "render.failed"
	EventExportSaved     EventType = "export.saved"
)

// Event is the JSON body posted to hooks.
type Event struct {
	Event     EventType `json:"event"`
	Timestamp string    `json:"timestamp"`
	Document  string    `json:"document"`
	Ticket    string    `json:"ticket,omitempty"`
	Format    string    `json:"format,omitempty"`
	Bytes     int       `json:"bytes,omitempty"`
	Path      string    `json:"path,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// HookConfig is one endpoint. Timeout is in milliseconds.
type HookConfig struct {
	URL     string      `yaml:"url" toml:"url" json:"url"`
	Secret  string      `yaml:"secret,omitempty" toml:"secret,omitempty" json:"secret,omitempty"`
	Events  []EventType `yaml:"events" toml:"events" json:"events"`
	Timeout int         `yaml:"timeout,omitempty" toml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Options tunes delivery.
type Options struct {
	MaxRetries int
	RetryDelay time.Duration
	QueueSize  int
}

// DefaultOptions returns the delivery defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetries: 3,
		RetryDelay: 2 * time.Second,
		QueueSize:  100,
	}
}

const defaultTimeout = 10 * time.Second

// Client delivers events asynchronously from a single worker.
type Client struct {
	hooks  []HookConfig
	opts   Options
	http   *http.Client
	queue  chan job
	log    *logging.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	now    func() time.Time
}

type job struct {
	event Event
	hook  HookConfig
}

// NewClient starts a client for hooks. A client without hooks drops
// everything.
func NewClient(hooks []HookConfig, opts Options) *Client {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultOptions().QueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		hooks:  hooks,
		opts:   opts,
		http:   &http.Client{},
		queue:  make(chan job, opts.QueueSize),
		log:    logging.Component("webhook"),
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
	}
	c.wg.Add(1)
	go c.worker()
	return c
}

func (c *Client) worker() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			for {
				select {
				case j := <-c.queue:
					c.deliver(j)
				default:
					return
				}
			}
		case j := <-c.queue:
			c.deliver(j)
		}
	}
}

func (c *Client) deliver(j job) {
	if err := c.post(j); err != nil {
		c.log.WarnErr("webhook delivery failed", err, map[string]any{"url": j.hook.URL, "event": string(j.event.Event)})
	}
}

// Notify queues ev for every hook subscribed to it. It never blocks; events
// are dropped when the queue is full.
func (c *Client) Notify(ev Event) {
	if ev.Timestamp == "" {
		ev.Timestamp = c.now().UTC().Format(time.RFC3339)
	}
	for _, hook := range c.hooks {
		if !matches(hook, ev.Event) {
			continue
		}
		select {
		case c.queue <- job{event: ev, hook: hook}:
		default:
			c.log.Warn("webhook queue full, dropping event", map[string]any{"event": string(ev.Event)})
		}
	}
}

func (c *Client) post(j job) error {
	payload, err := json.Marshal(j.event)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	timeout := defaultTimeout
	if j.hook.Timeout > 0 {
		timeout = time.Duration(j.hook.Timeout) * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-c.ctx.Done():
				return lastErr
			case <-time.After(c.opts.RetryDelay):
			}
		}
		lastErr = c.attempt(j.hook, payload, timeout)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (c *Client) attempt(hook HookConfig, payload []byte, timeout time.Duration) error {
	// delivery outlives Close's cancel so the drained queue still gets sent
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "dotpreview-webhook/1")
	if hook.Secret != "" {
		req.Header.Set("X-Dotpreview-Signature", Sign(payload, hook.Secret))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("http %d: %s", resp.StatusCode, bytes.TrimSpace(body))
}

// Sign returns the HMAC-SHA256 signature header value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func matches(hook HookConfig, ev EventType) bool {
	for _, e := range hook.Events {
		if e == ev || e == "*" {
			return true
		}
	}
	return false
}

// Close stops accepting retries, delivers what is queued and waits.
func (c *Client) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.wg.Wait()
	})
	return nil
}

// Validate checks a hook list.
func Validate(hooks []HookConfig) error {
	for i, h := range hooks {
		if h.URL == "" {
			return fmt.Errorf("webhooks[%d]: url is required", i)
		}
		if h.Timeout < 0 {
			return fmt.Errorf("webhooks[%d]: timeout must be >= 0", i)
		}
		if len(h.Events) == 0 {
			return fmt.Errorf("webhooks[%d]: events are required", i)
		}
		for _, e := range h.Events {
			switch e {
			case EventRenderCompleted, EventRenderFailed, EventExportSaved, "*":
			default:
				return fmt.Errorf("webhooks[%d]: unknown event %q", i, e)
			}
		}
	}
	return nil
}
