// Package config provides configuration file support for dotpreview.
//
// Settings live in .dotpreview.yaml or .dotpreview.toml; the format is chosen
// by file extension. Interval settings are whole milliseconds.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/dotpreview-project/dotpreview/pkg/errclass"
	"github.com/dotpreview-project/dotpreview/pkg/fsutil"
	"github.com/dotpreview-project/dotpreview/pkg/logging"
	"github.com/dotpreview-project/dotpreview/pkg/webhook"
)

// FileNames are searched in order by Discover.
var FileNames = []string{".dotpreview.yaml", ".dotpreview.yml", ".dotpreview.toml"}

// Config represents the dotpreview configuration.
type Config struct {
	RenderLock                  bool           `yaml:"renderLock" toml:"renderLock" json:"renderLock"`
	RenderLockAdditionalTimeout int            `yaml:"renderLockAdditionalTimeout" toml:"renderLockAdditionalTimeout" json:"renderLockAdditionalTimeout"`
	RenderInterval              int            `yaml:"renderInterval" toml:"renderInterval" json:"renderInterval"`
	DebouncingInterval          int            `yaml:"debouncingInterval" toml:"debouncingInterval" json:"debouncingInterval"`
	GuardInterval               int            `yaml:"guardInterval" toml:"guardInterval" json:"guardInterval"`
	View                        ViewConfig     `yaml:"view" toml:"view" json:"view"`
	Renderer                    RendererConfig `yaml:"renderer" toml:"renderer" json:"renderer"`
	Server                      ServerConfig   `yaml:"server" toml:"server" json:"server"`
	ExportDir                   string         `yaml:"exportDir" toml:"exportDir" json:"exportDir"`
	Logging                     LoggingConfig  `yaml:"logging" toml:"logging" json:"logging"`

	Webhooks []webhook.HookConfig `yaml:"webhooks,omitempty" toml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

// ViewConfig configures the browser view.
type ViewConfig struct {
	TransitionDelay    int  `yaml:"transitionDelay" toml:"transitionDelay" json:"transitionDelay"`
	TransitionDuration int  `yaml:"transitionDuration" toml:"transitionDuration" json:"transitionDuration"`
	RenderWhenHidden   bool `yaml:"renderWhenHidden" toml:"renderWhenHidden" json:"renderWhenHidden"`
}

// RendererConfig selects and tunes the Graphviz renderer.
type RendererConfig struct {
	Engine  string `yaml:"engine" toml:"engine" json:"engine"` // exec, view
	DotPath string `yaml:"dotPath" toml:"dotPath" json:"dotPath"`
	Format  string `yaml:"format" toml:"format" json:"format"`
	Timeout int    `yaml:"timeout" toml:"timeout" json:"timeout"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr" toml:"addr" json:"addr"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" json:"level"`
	Format string `yaml:"format" toml:"format" json:"format"` // json, text
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		RenderLock:                  true,
		RenderLockAdditionalTimeout: 1000,
		RenderInterval:              0,
		DebouncingInterval:          300,
		GuardInterval:               10,
		View: ViewConfig{
			TransitionDelay:    0,
			TransitionDuration: 500,
		},
		Renderer: RendererConfig{
			Engine:  "exec",
			DotPath: "dot",
			Format:  "svg",
			Timeout: 10000,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:7317",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Discover returns the first config file found in dir, or "".
func Discover(dir string) string {
	for _, name := range FileNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Load loads configuration from path.
// Returns default config if path is empty or the file doesn't exist.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if isTOML(path) {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, errclass.ErrConfigInvalid.WithMessagef("parse %s: %v", filepath.Base(path), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes configuration to path atomically.
func Save(path string, cfg *Config) error {
	data, err := Marshal(path, cfg)
	if err != nil {
		return err
	}
	if err := fsutil.AtomicWriteAll(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Marshal encodes cfg in the format implied by path's extension.
func Marshal(path string, cfg *Config) ([]byte, error) {
	if isTOML(path) {
		var buf bytes.Buffer
		enc := toml.NewEncoder(&buf)
		if err := enc.Encode(cfg); err != nil {
			return nil, fmt.Errorf("marshal config: %w", err)
		}
		return buf.Bytes(), nil
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Validate rejects settings the scheduler cannot honour.
func (c *Config) Validate() error {
	negatives := []struct {
		key string
		v   int
	}{
		{"renderInterval", c.RenderInterval},
		{"debouncingInterval", c.DebouncingInterval},
		{"guardInterval", c.GuardInterval},
		{"view.transitionDelay", c.View.TransitionDelay},
		{"view.transitionDuration", c.View.TransitionDuration},
		{"renderer.timeout", c.Renderer.Timeout},
	}
	for _, n := range negatives {
		if n.v < 0 {
			return errclass.ErrConfigInvalid.WithMessagef("%s must not be negative: %d", n.key, n.v)
		}
	}

	switch c.Renderer.Engine {
	case "exec", "view":
	default:
		return errclass.ErrConfigInvalid.WithMessagef("renderer.engine must be exec or view: %q", c.Renderer.Engine)
	}
	if strings.TrimSpace(c.Renderer.Format) == "" {
		return errclass.ErrConfigInvalid.WithMessage("renderer.format must not be empty")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return errclass.ErrConfigInvalid.WithMessagef("logging.level: %v", err)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return errclass.ErrConfigInvalid.WithMessagef("logging.format must be json or text: %q", c.Logging.Format)
	}
	if err := webhook.Validate(c.Webhooks); err != nil {
		return errclass.ErrConfigInvalid.WithMessage(err.Error())
	}
	return nil
}

// LockSafetyTimeout is how long a render may hold the lock before it is
// released forcibly. A negative renderLockAdditionalTimeout or a disabled
// lock disables the safety timer.
func (c *Config) LockSafetyTimeout() time.Duration {
	if !c.RenderLock || c.RenderLockAdditionalTimeout < 0 {
		return 0
	}
	total := c.RenderLockAdditionalTimeout + c.View.TransitionDelay + c.View.TransitionDuration
	return time.Duration(total) * time.Millisecond
}

// RenderTimeout is the per-job deadline for host-side renderers.
func (c *Config) RenderTimeout() time.Duration {
	return time.Duration(c.Renderer.Timeout) * time.Millisecond
}

type field struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func intField(p func(c *Config) *int) field {
	return field{
		get: func(c *Config) string { return strconv.Itoa(*p(c)) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("expected integer milliseconds: %q", v)
			}
			*p(c) = n
			return nil
		},
	}
}

func boolField(p func(c *Config) *bool) field {
	return field{
		get: func(c *Config) string { return strconv.FormatBool(*p(c)) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("expected true or false: %q", v)
			}
			*p(c) = b
			return nil
		},
	}
}

func stringField(p func(c *Config) *string) field {
	return field{
		get: func(c *Config) string { return *p(c) },
		set: func(c *Config, v string) error {
			*p(c) = v
			return nil
		},
	}
}

var fields = map[string]field{
	"renderLock":                  boolField(func(c *Config) *bool { return &c.RenderLock }),
	"renderLockAdditionalTimeout": intField(func(c *Config) *int { return &c.RenderLockAdditionalTimeout }),
	"renderInterval":              intField(func(c *Config) *int { return &c.RenderInterval }),
	"debouncingInterval":          intField(func(c *Config) *int { return &c.DebouncingInterval }),
	"guardInterval":               intField(func(c *Config) *int { return &c.GuardInterval }),
	"view.transitionDelay":        intField(func(c *Config) *int { return &c.View.TransitionDelay }),
	"view.transitionDuration":     intField(func(c *Config) *int { return &c.View.TransitionDuration }),
	"view.renderWhenHidden":       boolField(func(c *Config) *bool { return &c.View.RenderWhenHidden }),
	"renderer.engine":             stringField(func(c *Config) *string { return &c.Renderer.Engine }),
	"renderer.dotPath":            stringField(func(c *Config) *string { return &c.Renderer.DotPath }),
	"renderer.format":             stringField(func(c *Config) *string { return &c.Renderer.Format }),
	"renderer.timeout":            intField(func(c *Config) *int { return &c.Renderer.Timeout }),
	"server.addr":                 stringField(func(c *Config) *string { return &c.Server.Addr }),
	"exportDir":                   stringField(func(c *Config) *string { return &c.ExportDir }),
	"logging.level":               stringField(func(c *Config) *string { return &c.Logging.Level }),
	"logging.format":              stringField(func(c *Config) *string { return &c.Logging.Format }),
}

// Keys lists every settable key in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the string form of a setting.
func (c *Config) Get(key string) (string, error) {
	f, ok := fields[key]
	if !ok {
		return "", errclass.ErrConfigInvalid.WithMessagef("unknown key: %s", key)
	}
	return f.get(c), nil
}

// Set parses and assigns a setting, then re-validates the whole config.
// On failure c is left unchanged.
func (c *Config) Set(key, value string) error {
	f, ok := fields[key]
	if !ok {
		return errclass.ErrConfigInvalid.WithMessagef("unknown key: %s", key)
	}
	next := *c
	if err := f.set(&next, value); err != nil {
		return errclass.ErrConfigInvalid.WithMessagef("%s: %v", key, err)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}
