// Package doctor checks that the local setup can serve previews.
package doctor

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/dotpreview-project/dotpreview/pkg/config"
	"github.com/dotpreview-project/dotpreview/pkg/fsutil"
)

// Severities, from worst.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Finding represents a detected issue.
type Finding struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Path        string `json:"path,omitempty"`
}

// Result contains doctor check results.
type Result struct {
	Healthy  bool      `json:"healthy"`
	Findings []Finding `json:"findings"`
}

func (r *Result) add(f Finding) {
	r.Findings = append(r.Findings, f)
	if f.Severity == SeverityError {
		r.Healthy = false
	}
}

// Doctor performs setup health checks.
type Doctor struct {
	cfg *config.Config
	dir string

	// LookPath resolves the Graphviz binary; tests replace it.
	LookPath func(file string) (string, error)
}

// NewDoctor creates a doctor for cfg, scanning dir for leftovers.
func NewDoctor(cfg *config.Config, dir string) *Doctor {
	return &Doctor{cfg: cfg, dir: dir, LookPath: exec.LookPath}
}

// Check runs all diagnostic checks.
func (d *Doctor) Check() (*Result, error) {
	result := &Result{Healthy: true}

	// 1. Config values
	if err := d.cfg.Validate(); err != nil {
		result.add(Finding{
			Category:    "config",
			Description: err.Error(),
			Severity:    SeverityError,
		})
	}

	// 2. Renderer availability
	d.checkRenderer(result)

	// 3. Render lock settings
	d.checkLock(result)

	// 4. Listen address
	d.checkServer(result)

	// 5. Export directory
	d.checkExportDir(result)

	// 6. Orphan temp files from interrupted writes
	d.checkOrphanTmp(result)

	return result, nil
}

func (d *Doctor) checkRenderer(result *Result) {
	if d.cfg.Renderer.Engine == "view" {
		result.add(Finding{
			Category:    "renderer",
			Description: "Graphviz documents are rendered in the browser; dot is not required",
			Severity:    SeverityInfo,
		})
		return
	}
	path, err := d.LookPath(d.cfg.Renderer.DotPath)
	if err != nil {
		result.add(Finding{
			Category:    "renderer",
			Description: fmt.Sprintf("Graphviz binary %q not found; install Graphviz or set renderer.engine to view", d.cfg.Renderer.DotPath),
			Severity:    SeverityError,
		})
		return
	}
	result.add(Finding{
		Category:    "renderer",
		Description: "using Graphviz at " + path,
		Severity:    SeverityInfo,
		Path:        path,
	})
}

func (d *Doctor) checkLock(result *Result) {
	if !d.cfg.RenderLock {
		result.add(Finding{
			Category:    "lock",
			Description: "renderLock is off; renders may overlap and finish out of order",
			Severity:    SeverityWarning,
		})
		return
	}
	if d.cfg.LockSafetyTimeout() == 0 {
		result.add(Finding{
			Category:    "lock",
			Description: "render lock has no safety timeout; a renderer that never acknowledges stalls its preview",
			Severity:    SeverityWarning,
		})
	}
}

func (d *Doctor) checkServer(result *Result) {
	if _, _, err := net.SplitHostPort(d.cfg.Server.Addr); err != nil {
		result.add(Finding{
			Category:    "server",
			Description: fmt.Sprintf("server.addr %q: %v", d.cfg.Server.Addr, err),
			Severity:    SeverityError,
		})
	}
}

func (d *Doctor) checkExportDir(result *Result) {
	dir := d.cfg.ExportDir
	if dir == "" || !filepath.IsAbs(dir) {
		// resolved per document at export time
		return
	}
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		result.add(Finding{
			Category:    "export",
			Description: "exportDir does not exist yet; it is created on first export",
			Severity:    SeverityInfo,
			Path:        dir,
		})
	case err != nil:
		result.add(Finding{
			Category:    "export",
			Description: fmt.Sprintf("cannot stat exportDir: %v", err),
			Severity:    SeverityError,
			Path:        dir,
		})
	case !info.IsDir():
		result.add(Finding{
			Category:    "export",
			Description: "exportDir is not a directory",
			Severity:    SeverityError,
			Path:        dir,
		})
	}
}

func (d *Doctor) checkOrphanTmp(result *Result) {
	for _, path := range d.orphanTmp() {
		result.add(Finding{
			Category:    "tmp",
			Description: fmt.Sprintf("orphan temp file: %s", filepath.Base(path)),
			Severity:    SeverityInfo,
			Path:        path,
		})
	}
}

func (d *Doctor) orphanTmp() []string {
	var found []string
	filepath.Walk(d.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() && fsutil.IsTemp(path) {
			found = append(found, path)
		}
		return nil
	})
	return found
}

// CleanTmp removes orphan temp files and returns how many were removed.
func (d *Doctor) CleanTmp() (int, error) {
	n := 0
	for _, path := range d.orphanTmp() {
		if err := os.Remove(path); err != nil {
			return n, fmt.Errorf("remove %s: %w", path, err)
		}
		n++
	}
	return n, nil
}
