package store

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"
)

// sqliteBackend stores every database in a single SQLite file.
//
// Tables:
//
//	databases(name)                          PRIMARY KEY (name)
//	documents(db, id, rev, deleted, data)    PRIMARY KEY (db, id)
//	meta(db, key, value)                     PRIMARY KEY (db, key)
type sqliteBackend struct {
	db *sql.DB
}

// NewSqliteClient opens (or creates) the SQLite file at dbPath.
func NewSqliteClient(dbPath string) (Client, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer at a time; locks in localClient only cover a single database.
	db.SetMaxOpenConns(1)
	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		`CREATE TABLE IF NOT EXISTS databases (
			name TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			db TEXT NOT NULL,
			id TEXT NOT NULL,
			rev TEXT NOT NULL,
			deleted INTEGER NOT NULL DEFAULT 0,
			data TEXT,
			PRIMARY KEY (db, id)
		)`,
		`CREATE TABLE IF NOT EXISTS meta (
			db TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB NOT NULL,
			PRIMARY KEY (db, key)
		)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, err
		}
	}
	return newLocalClient(&sqliteBackend{db: db}), nil
}

func (s *sqliteBackend) createDatabase(name string) error {
	_, err := s.db.Exec("INSERT INTO databases (name) VALUES (?)", name)
	if sqliteErr, ok := err.(sqlite3.Error); ok && sqliteErr.Code == sqlite3.ErrConstraint {
		return errDatabaseExists()
	}
	return err
}

func (s *sqliteBackend) listDatabases() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM databases")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *sqliteBackend) open(name string) (table, error) {
	var found string
	err := s.db.QueryRow("SELECT name FROM databases WHERE name = ?", name).Scan(&found)
	if err == sql.ErrNoRows {
		return nil, errNoDatabase()
	}
	if err != nil {
		return nil, err
	}
	return &sqliteTable{db: s.db, name: name}, nil
}

func (s *sqliteBackend) close() error {
	return s.db.Close()
}

type sqliteTable struct {
	db   *sql.DB
	name string
}

func decodeRow(rev string, deleted bool, data sql.NullString) (*record, error) {
	rec := &record{Rev: rev, Deleted: deleted}
	if data.Valid {
		if err := json.Unmarshal([]byte(data.String), &rec.Body); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (t *sqliteTable) get(id string) (*record, error) {
	var (
		rev     string
		deleted bool
		data    sql.NullString
	)
	err := t.db.QueryRow(
		"SELECT rev, deleted, data FROM documents WHERE db = ? AND id = ?",
		t.name, id,
	).Scan(&rev, &deleted, &data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeRow(rev, deleted, data)
}

func (t *sqliteTable) put(id string, rec *record) error {
	var data sql.NullString
	if !rec.Deleted {
		b, err := json.Marshal(rec.Body)
		if err != nil {
			return err
		}
		data = sql.NullString{String: string(b), Valid: true}
	}
	_, err := t.db.Exec(
		`INSERT INTO documents (db, id, rev, deleted, data) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(db, id) DO UPDATE SET
		   rev = excluded.rev, deleted = excluded.deleted, data = excluded.data`,
		t.name, id, rec.Rev, rec.Deleted, data,
	)
	return err
}

func (t *sqliteTable) scan(fn func(id string, rec *record) error) error {
	rows, err := t.db.Query(
		"SELECT id, rev, deleted, data FROM documents WHERE db = ? ORDER BY id", t.name)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id, rev string
			deleted bool
			data    sql.NullString
		)
		if err := rows.Scan(&id, &rev, &deleted, &data); err != nil {
			return err
		}
		rec, err := decodeRow(rev, deleted, data)
		if err != nil {
			return err
		}
		if err := fn(id, rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (t *sqliteTable) getMeta(key string) ([]byte, error) {
	var value []byte
	err := t.db.QueryRow(
		"SELECT value FROM meta WHERE db = ? AND key = ?", t.name, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return value, err
}

func (t *sqliteTable) putMeta(key string, value []byte) error {
	_, err := t.db.Exec(
		`INSERT INTO meta (db, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(db, key) DO UPDATE SET value = excluded.value`,
		t.name, key, value,
	)
	return err
}
