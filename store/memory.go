package store

import (
	"sync"
)

// memoryBackend keeps everything in memory. Data is lost on restart.
// Safe for concurrent use.
type memoryBackend struct {
	mu  sync.RWMutex
	dbs map[string]*memoryTable
}

// NewMemoryClient returns an ephemeral store, mostly useful for tests.
func NewMemoryClient() Client {
	return newLocalClient(&memoryBackend{dbs: make(map[string]*memoryTable)})
}

func (m *memoryBackend) createDatabase(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dbs[name]; ok {
		return errDatabaseExists()
	}
	m.dbs[name] = &memoryTable{
		records: make(map[string]*record),
		meta:    make(map[string][]byte),
	}
	return nil
}

func (m *memoryBackend) listDatabases() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.dbs))
	for name := range m.dbs {
		names = append(names, name)
	}
	return names, nil
}

func (m *memoryBackend) open(name string) (table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.dbs[name]
	if !ok {
		return nil, errNoDatabase()
	}
	return t, nil
}

func (m *memoryBackend) close() error { return nil }

// memoryTable is only touched under the owning database's lock, so it
// needs no mutex of its own.
type memoryTable struct {
	records map[string]*record
	meta    map[string][]byte
}

// copyRecord keeps callers from mutating stored bodies.
func copyRecord(r *record) *record {
	return &record{Rev: r.Rev, Deleted: r.Deleted, Body: r.Body.Clone()}
}

func (t *memoryTable) get(id string) (*record, error) {
	r, ok := t.records[id]
	if !ok {
		return nil, nil
	}
	return copyRecord(r), nil
}

func (t *memoryTable) put(id string, rec *record) error {
	t.records[id] = copyRecord(rec)
	return nil
}

func (t *memoryTable) scan(fn func(id string, rec *record) error) error {
	for id, r := range t.records {
		if err := fn(id, copyRecord(r)); err != nil {
			return err
		}
	}
	return nil
}

func (t *memoryTable) getMeta(key string) ([]byte, error) {
	return t.meta[key], nil
}

func (t *memoryTable) putMeta(key string, value []byte) error {
	t.meta[key] = append([]byte(nil), value...)
	return nil
}
