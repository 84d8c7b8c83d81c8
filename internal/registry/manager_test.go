package registry_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/dotpreview-project/dotpreview/internal/loop"
	"github.com/dotpreview-project/dotpreview/internal/registry"
	"github.com/dotpreview-project/dotpreview/internal/scheduler"
	"github.com/dotpreview-project/dotpreview/pkg/errclass"
	"github.com/dotpreview-project/dotpreview/pkg/metrics"
	"github.com/dotpreview-project/dotpreview/pkg/model"
)

type fixture struct {
	mgr     *registry.Manager
	loop    *loop.Loop
	created []string
	langs   []model.Language
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{loop: loop.New()}
	clk := testingclock.NewFakeClock(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	factory := func(id string, lang model.Language) (*scheduler.Session, error) {
		f.created = append(f.created, id)
		f.langs = append(f.langs, lang)
		return scheduler.NewSession(id, scheduler.Config{}, scheduler.RendererFunc(func(scheduler.Job) {}), f.loop,
			scheduler.WithClock(clk), scheduler.WithMetrics(metrics.NewRegistry()))
	}
	f.mgr = registry.NewManager(factory, metrics.NewRegistry())
	return f
}

func TestManager_OpenCreatesOnce(t *testing.T) {
	f := setup(t)
	dir := t.TempDir()

	e1, created, err := f.mgr.Open(filepath.Join(dir, "graph.dot"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.LanguageDot, e1.Language)

	e2, created, err := f.mgr.Open(filepath.Join(dir, "sub", "..", "graph.dot"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, e1, e2, "equivalent paths share one session")
	assert.Len(t, f.created, 1)
}

func TestManager_OpenUnicodeForms(t *testing.T) {
	f := setup(t)
	dir := t.TempDir()

	_, _, err := f.mgr.Open(filepath.Join(dir, "cafe\u0301.md"))
	require.NoError(t, err)
	_, created, err := f.mgr.Open(filepath.Join(dir, "caf\u00e9.md"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, []model.Language{model.LanguageMarkdown}, f.langs)
}

func TestManager_OpenUnsupported(t *testing.T) {
	f := setup(t)
	_, _, err := f.mgr.Open(filepath.Join(t.TempDir(), "main.go"))
	assert.ErrorIs(t, err, errclass.ErrDocumentUnsupported)
	assert.Zero(t, f.mgr.Len())
}

func TestManager_OpenFactoryError(t *testing.T) {
	boom := errors.New("boom")
	mgr := registry.NewManager(func(string, model.Language) (*scheduler.Session, error) {
		return nil, boom
	}, metrics.NewRegistry())

	_, _, err := mgr.Open(filepath.Join(t.TempDir(), "a.dot"))
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, mgr.Len())
}

func TestManager_GetAndLookup(t *testing.T) {
	f := setup(t)
	path := filepath.Join(t.TempDir(), "a.gv")

	_, err := f.mgr.Get(path)
	assert.ErrorIs(t, err, errclass.ErrDocumentNotOpen)

	e, _, err := f.mgr.Open(path)
	require.NoError(t, err)

	got, err := f.mgr.Get(path)
	require.NoError(t, err)
	assert.Same(t, e, got)

	byID, ok := f.mgr.Lookup(e.Identity)
	assert.True(t, ok)
	assert.Same(t, e, byID)
}

func TestManager_CloseClosesSession(t *testing.T) {
	f := setup(t)
	path := filepath.Join(t.TempDir(), "a.dot")
	e, _, err := f.mgr.Open(path)
	require.NoError(t, err)

	require.NoError(t, f.mgr.Close(path))
	assert.Equal(t, scheduler.StateClosed, e.Session.State())
	assert.Zero(t, f.mgr.Len())

	assert.ErrorIs(t, f.mgr.Close(path), errclass.ErrDocumentNotOpen)
}

func TestManager_ListSortedAndCloseAll(t *testing.T) {
	f := setup(t)
	dir := t.TempDir()
	for _, name := range []string{"c.dot", "a.dot", "b.md"} {
		_, _, err := f.mgr.Open(filepath.Join(dir, name))
		require.NoError(t, err)
	}

	list := f.mgr.List()
	require.Len(t, list, 3)
	assert.Equal(t, filepath.Join(dir, "a.dot"), list[0].Identity)
	assert.Equal(t, filepath.Join(dir, "b.md"), list[1].Identity)
	assert.Equal(t, filepath.Join(dir, "c.dot"), list[2].Identity)

	assert.Equal(t, 3, f.mgr.CloseAll())
	assert.Zero(t, f.mgr.Len())
	for _, e := range list {
		assert.Equal(t, scheduler.StateClosed, e.Session.State())
	}
}
