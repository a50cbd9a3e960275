package collection

import (
	"context"

	"github.com/stevemurr/collection-server/store"
)

// Insert stores a new document in collection.
func (s *Service) Insert(ctx context.Context, database, collection string, doc store.Document) (store.WriteResult, error) {
	res, err := s.client.Use(database).Insert(ctx, s.stamp(doc.Clone(), collection))
	if err != nil {
		return store.WriteResult{}, fromStore(err)
	}
	return res, nil
}

// BulkInsert stores docs in one call. Failures of individual documents are
// reported in their result slot, not as an error.
func (s *Service) BulkInsert(ctx context.Context, database, collection string, docs []store.Document) ([]store.WriteResult, error) {
	stamped := make([]store.Document, len(docs))
	for i, d := range docs {
		stamped[i] = s.stamp(d.Clone(), collection)
	}
	res, err := s.client.Use(database).BulkInsert(ctx, stamped)
	if err != nil {
		return nil, fromStore(err)
	}
	return res, nil
}
