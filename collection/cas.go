package collection

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/stevemurr/collection-server/store"
)

// maxRetryWait bounds a single wait however many attempts are configured.
const maxRetryWait = time.Minute

// backOff waits b*2^(n+1) before retry n (4b, 8b, ...) and stops after
// s.attempts tries in total.
func (s *Service) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 4 * s.base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = maxRetryWait
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.attempts-1)), ctx)
}

// retry runs op until it succeeds, fails with anything but a conflict, or
// the attempts run out. The last error is returned.
func (s *Service) retry(ctx context.Context, op, id string, fn func() error) error {
	attempt := 0
	err := backoff.RetryNotifyWithTimer(func() error {
		attempt++
		err := fn()
		if err == nil || isConflict(err) {
			return err
		}
		return backoff.Permanent(err)
	}, s.backOff(ctx), func(err error, wait time.Duration) {
		s.log.Debugw("revision conflict, retrying", "op", op, "id", id, "attempt", attempt, "wait", wait)
	}, s.timer)
	if err != nil && isConflict(err) {
		s.log.Warnw("giving up after revision conflicts", "op", op, "id", id, "attempts", attempt)
	}
	return fromStore(err)
}

// fetch loads id and checks that it belongs to collection.
func fetch(ctx context.Context, db store.Database, collection, id string) (store.Document, error) {
	doc, err := db.Get(ctx, id)
	if store.IsNotFound(err) {
		return nil, notFound(msgDocumentMissing)
	}
	if err != nil {
		return nil, fromStore(err)
	}
	if !inCollection(doc, collection) {
		return nil, notFound(msgOutOfScope)
	}
	return doc, nil
}

// Delete removes id from collection using the revision it just read.
// A stale revision restarts the whole read-check-write sequence.
func (s *Service) Delete(ctx context.Context, database, collection, id string) error {
	db := s.client.Use(database)
	return s.retry(ctx, "delete", id, func() error {
		doc, err := fetch(ctx, db, collection, id)
		if err != nil {
			return err
		}
		_, err = db.Destroy(ctx, id, doc.Rev())
		return fromStore(err)
	})
}

// Update replaces every field of id with body, keeping the document's
// identity and collection. The response carries no body, only success.
func (s *Service) Update(ctx context.Context, database, collection, id string, body store.Document) error {
	db := s.client.Use(database)
	next := s.stamp(body.Clone(), collection)
	return s.retry(ctx, "update", id, func() error {
		doc, err := fetch(ctx, db, collection, id)
		if err != nil {
			return err
		}
		write := next.Clone()
		write[store.FieldID] = id
		write[store.FieldRev] = doc.Rev()
		_, err = db.Insert(ctx, write)
		return fromStore(err)
	})
}
