package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// jsonFileBackend stores each database as a separate JSON file on disk.
//
// Layout:
//
//	data_dir/
//	  orders.json   # "orders" database
//	  orders.lock   # advisory lock shared by every process using the dir
//	  users.json    # "users" database
type jsonFileBackend struct {
	dir string
}

// jsonFile is the on-disk shape of one database.
type jsonFile struct {
	Docs map[string]*record         `json:"docs"`
	Meta map[string]json.RawMessage `json:"meta"`
}

// NewJsonFileClient stores databases as JSON files in dir.
func NewJsonFileClient(dir string) (Client, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return newLocalClient(&jsonFileBackend{dir: dir}), nil
}

func (s *jsonFileBackend) dataPath(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func (s *jsonFileBackend) lockPath(name string) string {
	return filepath.Join(s.dir, name+".lock")
}

// withFileLock holds an flock on the database's lock file while fn runs.
// The in-process mutex in localClient does not help a second server
// process sharing the same data directory.
func (s *jsonFileBackend) withFileLock(name string, how int, fn func() error) error {
	f, err := os.OpenFile(s.lockPath(name), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		return fmt.Errorf("lock %s: %w", name, err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return fn()
}

func (s *jsonFileBackend) load(name string) (*jsonFile, error) {
	data, err := os.ReadFile(s.dataPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errNoDatabase()
		}
		return nil, err
	}
	var f jsonFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.dataPath(name), err)
	}
	if f.Docs == nil {
		f.Docs = make(map[string]*record)
	}
	if f.Meta == nil {
		f.Meta = make(map[string]json.RawMessage)
	}
	return &f, nil
}

// save writes through a temp file so a crash never leaves a torn database.
func (s *jsonFileBackend) save(name string, f *jsonFile) error {
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.dataPath(name) + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.dataPath(name))
}

func (s *jsonFileBackend) createDatabase(name string) error {
	return s.withFileLock(name, unix.LOCK_EX, func() error {
		if _, err := os.Stat(s.dataPath(name)); err == nil {
			return errDatabaseExists()
		}
		return s.save(name, &jsonFile{
			Docs: map[string]*record{},
			Meta: map[string]json.RawMessage{},
		})
	})
}

func (s *jsonFileBackend) listDatabases() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ".json"))
	}
	return names, nil
}

func (s *jsonFileBackend) open(name string) (table, error) {
	if _, err := os.Stat(s.dataPath(name)); err != nil {
		if os.IsNotExist(err) {
			return nil, errNoDatabase()
		}
		return nil, err
	}
	return &jsonFileTable{backend: s, name: name}, nil
}

func (s *jsonFileBackend) close() error { return nil }

type jsonFileTable struct {
	backend *jsonFileBackend
	name    string
}

func (t *jsonFileTable) read(fn func(f *jsonFile) error) error {
	return t.backend.withFileLock(t.name, unix.LOCK_SH, func() error {
		f, err := t.backend.load(t.name)
		if err != nil {
			return err
		}
		return fn(f)
	})
}

func (t *jsonFileTable) update(fn func(f *jsonFile)) error {
	return t.backend.withFileLock(t.name, unix.LOCK_EX, func() error {
		f, err := t.backend.load(t.name)
		if err != nil {
			return err
		}
		fn(f)
		return t.backend.save(t.name, f)
	})
}

func (t *jsonFileTable) get(id string) (*record, error) {
	var rec *record
	err := t.read(func(f *jsonFile) error {
		rec = f.Docs[id]
		return nil
	})
	return rec, err
}

func (t *jsonFileTable) put(id string, rec *record) error {
	return t.update(func(f *jsonFile) { f.Docs[id] = rec })
}

func (t *jsonFileTable) scan(fn func(id string, rec *record) error) error {
	return t.read(func(f *jsonFile) error {
		for id, rec := range f.Docs {
			if err := fn(id, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (t *jsonFileTable) getMeta(key string) ([]byte, error) {
	var value []byte
	err := t.read(func(f *jsonFile) error {
		if raw, ok := f.Meta[key]; ok {
			value = []byte(raw)
		}
		return nil
	})
	return value, err
}

func (t *jsonFileTable) putMeta(key string, value []byte) error {
	return t.update(func(f *jsonFile) { f.Meta[key] = json.RawMessage(value) })
}
