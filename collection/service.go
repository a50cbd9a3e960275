// Package collection implements database / collection / document semantics
// on top of a flat revisioned document store. Collections are a tag on each
// document; updates and deletes are revision-checked and retried on conflict.
package collection

import (
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/stevemurr/collection-server/store"
)

// Fields this layer owns on every document it writes.
const (
	FieldCollection = "collection"
	FieldTimestamp  = "ts"
)

const (
	DefaultRetryAttempts = 3
	DefaultRetryBase     = 50 * time.Millisecond
)

// Options tunes a Service. Zero values fall back to the defaults.
type Options struct {
	// RetryAttempts is the total number of fetch-check-write attempts.
	RetryAttempts int
	// RetryBase is b in the wait of b*2^(n+1) before retry n.
	RetryBase time.Duration
}

// Service runs collection-scoped operations against a store client.
type Service struct {
	client   store.Client
	log      *zap.SugaredLogger
	attempts int
	base     time.Duration

	now   func() time.Time
	timer backoff.Timer
}

// NewService returns a Service using client for every store call.
func NewService(client store.Client, log *zap.SugaredLogger, opts Options) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = DefaultRetryAttempts
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = DefaultRetryBase
	}
	return &Service{
		client:   client,
		log:      log,
		attempts: opts.RetryAttempts,
		base:     opts.RetryBase,
		now:      time.Now,
	}
}

// stamp tags doc with the collection and the current time. Client supplied
// store fields other than _id (_rev, _deleted, ...) are dropped; only the
// CAS path sets a revision.
func (s *Service) stamp(doc store.Document, collection string) store.Document {
	if doc == nil {
		doc = store.Document{}
	}
	for k := range doc {
		if strings.HasPrefix(k, "_") && k != store.FieldID {
			delete(doc, k)
		}
	}
	doc[FieldCollection] = collection
	doc[FieldTimestamp] = s.now().UnixMilli()
	return doc
}

func inCollection(doc store.Document, collection string) bool {
	c, ok := doc[FieldCollection].(string)
	return ok && c == collection
}
