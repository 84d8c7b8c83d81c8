package doctor_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotpreview-project/dotpreview/internal/doctor"
	"github.com/dotpreview-project/dotpreview/pkg/config"
	"github.com/dotpreview-project/dotpreview/pkg/fsutil"
)

func newDoctor(t *testing.T, cfg *config.Config) (*doctor.Doctor, string) {
	t.Helper()
	dir := t.TempDir()
	d := doctor.NewDoctor(cfg, dir)
	d.LookPath = func(file string) (string, error) { return "/usr/bin/" + file, nil }
	return d, dir
}

func findings(r *doctor.Result, category string) []doctor.Finding {
	var out []doctor.Finding
	for _, f := range r.Findings {
		if f.Category == category {
			out = append(out, f)
		}
	}
	return out
}

func TestDoctor_Check_Healthy(t *testing.T) {
	d, _ := newDoctor(t, config.Default())
	result, err := d.Check()
	require.NoError(t, err)
	assert.True(t, result.Healthy)

	r := findings(result, "renderer")
	require.Len(t, r, 1)
	assert.Equal(t, "/usr/bin/dot", r[0].Path)
	assert.Empty(t, findings(result, "lock"))
}

func TestDoctor_Check_MissingDot(t *testing.T) {
	d, _ := newDoctor(t, config.Default())
	d.LookPath = func(string) (string, error) { return "", errors.New("not found") }

	result, err := d.Check()
	require.NoError(t, err)
	assert.False(t, result.Healthy)
	r := findings(result, "renderer")
	require.Len(t, r, 1)
	assert.Equal(t, doctor.SeverityError, r[0].Severity)
}

func TestDoctor_Check_ViewEngineSkipsDot(t *testing.T) {
	cfg := config.Default()
	cfg.Renderer.Engine = "view"
	d, _ := newDoctor(t, cfg)
	d.LookPath = func(string) (string, error) { return "", errors.New("not found") }

	result, err := d.Check()
	require.NoError(t, err)
	assert.True(t, result.Healthy)
}

func TestDoctor_Check_ZeroSafetyTimeout(t *testing.T) {
	cfg := config.Default()
	cfg.RenderLockAdditionalTimeout = -1
	d, _ := newDoctor(t, cfg)

	result, err := d.Check()
	require.NoError(t, err)
	assert.True(t, result.Healthy, "warnings keep the setup healthy")
	l := findings(result, "lock")
	require.Len(t, l, 1)
	assert.Equal(t, doctor.SeverityWarning, l[0].Severity)
}

func TestDoctor_Check_LockDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.RenderLock = false
	d, _ := newDoctor(t, cfg)

	result, err := d.Check()
	require.NoError(t, err)
	l := findings(result, "lock")
	require.Len(t, l, 1)
	assert.Contains(t, l[0].Description, "overlap")
}

func TestDoctor_Check_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.DebouncingInterval = -3
	cfg.Server.Addr = "no-port"
	d, _ := newDoctor(t, cfg)

	result, err := d.Check()
	require.NoError(t, err)
	assert.False(t, result.Healthy)
	assert.Len(t, findings(result, "config"), 1)
	assert.Len(t, findings(result, "server"), 1)
}

func TestDoctor_Check_ExportDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))

	cfg := config.Default()
	cfg.ExportDir = file
	d, _ := newDoctor(t, cfg)
	result, err := d.Check()
	require.NoError(t, err)
	assert.False(t, result.Healthy)

	cfg.ExportDir = filepath.Join(t.TempDir(), "later")
	result, err = d.Check()
	require.NoError(t, err)
	assert.True(t, result.Healthy)
	e := findings(result, "export")
	require.Len(t, e, 1)
	assert.Equal(t, doctor.SeverityInfo, e[0].Severity)
}

func TestDoctor_OrphanTmp(t *testing.T) {
	d, dir := newDoctor(t, config.Default())
	sub := filepath.Join(dir, "docs")
	require.NoError(t, os.MkdirAll(sub, 0755))
	orphan := filepath.Join(sub, fsutil.TempPrefix+"123")
	require.NoError(t, os.WriteFile(orphan, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "graph.dot"), nil, 0644))

	result, err := d.Check()
	require.NoError(t, err)
	tmp := findings(result, "tmp")
	require.Len(t, tmp, 1)
	assert.Equal(t, orphan, tmp[0].Path)

	n, err := d.CleanTmp()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, orphan)
	assert.FileExists(t, filepath.Join(sub, "graph.dot"))
}
