// Package registry maps open documents to their render sessions.
//
// A Manager is owned by the event loop: all methods must be called from it.
package registry

import (
	"sort"
	"time"

	"github.com/dotpreview-project/dotpreview/internal/scheduler"
	"github.com/dotpreview-project/dotpreview/pkg/errclass"
	"github.com/dotpreview-project/dotpreview/pkg/logging"
	"github.com/dotpreview-project/dotpreview/pkg/metrics"
	"github.com/dotpreview-project/dotpreview/pkg/model"
	"github.com/dotpreview-project/dotpreview/pkg/pathutil"
)

// Factory builds the session for a newly opened document.
type Factory func(identity string, lang model.Language) (*scheduler.Session, error)

// Entry is one open document.
type Entry struct {
	Identity string
	Language model.Language
	Session  *scheduler.Session
	OpenedAt time.Time
}

// Manager handles document open/close.
type Manager struct {
	factory Factory
	entries map[string]*Entry
	metrics *metrics.Registry
	log     *logging.Logger
	now     func() time.Time
}

// NewManager creates an empty registry. A nil m records into the default
// metrics registry.
func NewManager(factory Factory, m *metrics.Registry) *Manager {
	if m == nil {
		m = metrics.Default()
	}
	return &Manager{
		factory: factory,
		entries: make(map[string]*Entry),
		metrics: m,
		log:     logging.Component("registry"),
		now:     time.Now,
	}
}

// Open returns the session for path, creating it on first use. created
// reports whether this call created it.
func (m *Manager) Open(path string) (e *Entry, created bool, err error) {
	id, err := pathutil.Identity(path)
	if err != nil {
		return nil, false, err
	}
	if e, ok := m.entries[id]; ok {
		return e, false, nil
	}

	lang, err := pathutil.DetectLanguage(id)
	if err != nil {
		return nil, false, err
	}
	s, err := m.factory(id, lang)
	if err != nil {
		return nil, false, err
	}

	e = &Entry{Identity: id, Language: lang, Session: s, OpenedAt: m.now()}
	m.entries[id] = e
	m.metrics.SessionOpened()
	m.log.Info("document opened", map[string]any{"document": id, "language": string(lang)})
	return e, true, nil
}

// Get returns the session for an open document.
func (m *Manager) Get(path string) (*Entry, error) {
	id, err := pathutil.Identity(path)
	if err != nil {
		return nil, err
	}
	e, ok := m.entries[id]
	if !ok {
		return nil, errclass.ErrDocumentNotOpen.WithMessagef("%s is not open", id)
	}
	return e, nil
}

// Lookup finds an entry by its already-normalised identity.
func (m *Manager) Lookup(identity string) (*Entry, bool) {
	e, ok := m.entries[identity]
	return e, ok
}

// Close closes the session for path and forgets it.
func (m *Manager) Close(path string) error {
	e, err := m.Get(path)
	if err != nil {
		return err
	}
	m.remove(e)
	return nil
}

// CloseAll closes every session and returns how many were open.
func (m *Manager) CloseAll() int {
	n := len(m.entries)
	for _, e := range m.List() {
		m.remove(e)
	}
	return n
}

// List returns the open documents sorted by identity.
func (m *Manager) List() []*Entry {
	list := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Identity < list[j].Identity })
	return list
}

// Len returns the number of open documents.
func (m *Manager) Len() int {
	return len(m.entries)
}

func (m *Manager) remove(e *Entry) {
	e.Session.Close()
	delete(m.entries, e.Identity)
	m.metrics.SessionClosed()
	m.log.Info("document closed", map[string]any{"document": e.Identity})
}
