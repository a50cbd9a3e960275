package collection

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/stevemurr/collection-server/store"
)

// The count-by-collection view installed in every database.
const (
	CountDesign = "count"
	CountView   = "bycollection"
)

// System databases never listed to clients.
var hiddenDatabases = map[string]bool{
	"_users":      true,
	"_replicator": true,
}

// CreateDatabase creates name and installs, concurrently, an index on the
// collection field, a generic text index and the count-by-collection view.
// Anything already in place counts as installed, so repeating the call on
// a provisioned database succeeds and leaves it unchanged.
func (s *Service) CreateDatabase(ctx context.Context, name string) error {
	if err := s.client.CreateDatabase(ctx, name); err != nil {
		if !store.IsExists(err) {
			return fromStore(err)
		}
		s.log.Debugw("database exists, reprovisioning", "db", name)
	}
	db := s.client.Use(name)

	var g errgroup.Group
	g.Go(func() error {
		return db.CreateIndex(ctx, store.IndexSpec{
			Type:   store.IndexTypeJSON,
			Fields: []string{FieldCollection},
		})
	})
	g.Go(func() error {
		return db.CreateIndex(ctx, store.IndexSpec{Type: store.IndexTypeText})
	})
	g.Go(func() error {
		err := db.DefineView(ctx, store.ViewDef{
			Design: CountDesign,
			Name:   CountView,
			Field:  FieldCollection,
			Reduce: store.ReduceCount,
		})
		if store.IsConflict(err) {
			return nil
		}
		return err
	})
	if err := g.Wait(); err != nil {
		s.log.Errorw("provisioning failed", "db", name, "error", err)
		return fromStore(err)
	}
	s.log.Infow("database provisioned", "db", name)
	return nil
}

// CreateCollection succeeds without touching the store: a collection
// exists as soon as a document is tagged with it.
func (s *Service) CreateCollection(ctx context.Context, database, collection string) error {
	s.log.Debugw("create collection is a no-op", "db", database, "collection", collection)
	return nil
}

// Summarize counts the documents of every non-empty collection.
func (s *Service) Summarize(ctx context.Context, database string) (map[string]int64, error) {
	rows, err := s.client.Use(database).QueryView(ctx, CountDesign, CountView, true)
	if err != nil {
		return nil, fromStore(err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		key, ok := r.Key.(string)
		if !ok {
			key = fmt.Sprint(r.Key)
		}
		n, _ := r.Value.(float64)
		out[key] += int64(n)
	}
	return out, nil
}

// ListDatabases returns every database except the system ones.
func (s *Service) ListDatabases(ctx context.Context) ([]string, error) {
	names, err := s.client.ListDatabases(ctx)
	if err != nil {
		return nil, fromStore(err)
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !hiddenDatabases[n] {
			out = append(out, n)
		}
	}
	return out, nil
}
