package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"go.mongodb.org/mongo-driver/bson"
)

// badgerBackend keeps every database in one BadgerDB instance.
//
// Keys:
//
//	dbs:{name}            database registry
//	doc:{name}:{id}       bson-encoded badgerRecord
//	meta:{name}:{key}     index and view definitions
type badgerBackend struct {
	db *badger.DB
}

// badgerRecord is the stored form of a record. The body stays JSON so that
// nested objects round-trip as plain maps.
type badgerRecord struct {
	Rev     string `bson:"rev"`
	Deleted bool   `bson:"deleted,omitempty"`
	Body    []byte `bson:"body,omitempty"`
}

// NewBadgerClient opens (or creates) a BadgerDB directory at path.
func NewBadgerClient(path string) (Client, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.NumVersionsToKeep = 1
	opts.SyncWrites = false
	opts.CompactL0OnClose = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return newLocalClient(&badgerBackend{db: db}), nil
}

func dbKey(name string) []byte { return []byte("dbs:" + name) }

func (b *badgerBackend) createDatabase(name string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(dbKey(name))
		if err == nil {
			return errDatabaseExists()
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(dbKey(name), []byte{})
	})
}

func (b *badgerBackend) listDatabases() ([]string, error) {
	var names []string
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte("dbs:")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			names = append(names, strings.TrimPrefix(string(it.Item().Key()), "dbs:"))
		}
		return nil
	})
	return names, err
}

func (b *badgerBackend) open(name string) (table, error) {
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(dbKey(name))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errNoDatabase()
	}
	if err != nil {
		return nil, err
	}
	return &badgerTable{db: b.db, name: name}, nil
}

func (b *badgerBackend) close() error {
	return b.db.Close()
}

type badgerTable struct {
	db   *badger.DB
	name string
}

func (t *badgerTable) docPrefix() string         { return "doc:" + t.name + ":" }
func (t *badgerTable) docKey(id string) []byte   { return []byte(t.docPrefix() + id) }
func (t *badgerTable) metaKey(key string) []byte { return []byte("meta:" + t.name + ":" + key) }

func encodeRecord(rec *record) ([]byte, error) {
	br := badgerRecord{Rev: rec.Rev, Deleted: rec.Deleted}
	if !rec.Deleted {
		body, err := json.Marshal(rec.Body)
		if err != nil {
			return nil, err
		}
		br.Body = body
	}
	return bson.Marshal(br)
}

func decodeRecord(data []byte) (*record, error) {
	var br badgerRecord
	if err := bson.Unmarshal(data, &br); err != nil {
		return nil, err
	}
	rec := &record{Rev: br.Rev, Deleted: br.Deleted}
	if len(br.Body) > 0 {
		if err := json.Unmarshal(br.Body, &rec.Body); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (t *badgerTable) get(id string) (*record, error) {
	var data []byte
	err := t.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(t.docKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(data)
}

func (t *badgerTable) put(id string, rec *record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return t.db.Update(func(txn *badger.Txn) error {
		return txn.Set(t.docKey(id), data)
	})
}

func (t *badgerTable) scan(fn func(id string, rec *record) error) error {
	return t.db.View(func(txn *badger.Txn) error {
		prefix := []byte(t.docPrefix())
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id := strings.TrimPrefix(string(item.Key()), t.docPrefix())
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			rec, err := decodeRecord(data)
			if err != nil {
				return err
			}
			if err := fn(id, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (t *badgerTable) getMeta(key string) ([]byte, error) {
	var value []byte
	err := t.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(t.metaKey(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	return value, err
}

func (t *badgerTable) putMeta(key string, value []byte) error {
	return t.db.Update(func(txn *badger.Txn) error {
		return txn.Set(t.metaKey(key), value)
	})
}
