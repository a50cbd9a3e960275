package store

import (
	"fmt"
	"path/filepath"
	"time"
)

// Options selects and configures a backend.
type Options struct {
	Backend  string
	DataDir  string
	CouchURL string
	Timeout  time.Duration
}

// New creates a Client based on the backend name.
//
// Supported backends:
//
//	"couch"  - CouchDB / Cloudant at CouchURL
//	"json"   - JSON files in DataDir (default)
//	"sqlite" - SQLite database at DataDir/store.db
//	"badger" - BadgerDB in DataDir/badger
//	"memory" - In-memory (ephemeral, for testing)
func New(opts Options) (Client, error) {
	switch opts.Backend {
	case "couch":
		if opts.CouchURL == "" {
			return nil, fmt.Errorf("couch backend requires a server url")
		}
		return NewCouchClient(opts.CouchURL, opts.Timeout)
	case "json", "":
		return NewJsonFileClient(opts.DataDir)
	case "sqlite":
		return NewSqliteClient(filepath.Join(opts.DataDir, "store.db"))
	case "badger":
		return NewBadgerClient(filepath.Join(opts.DataDir, "badger"))
	case "memory":
		return NewMemoryClient(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %q (supported: couch, json, sqlite, badger, memory)", opts.Backend)
	}
}
