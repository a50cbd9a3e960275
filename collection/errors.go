package collection

import (
	"errors"
	"net/http"

	"github.com/stevemurr/collection-server/store"
)

// Kind classifies a failure of a collection operation.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindConflict
	KindBadRequest
	KindStore
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindBadRequest:
		return "bad_request"
	default:
		return "store_error"
	}
}

// Error is returned by every Service operation that fails. Status is the
// HTTP status the failure maps to and Msg is the client-facing message.
type Error struct {
	Kind   Kind
	Status int
	Msg    string
}

func (e *Error) Error() string { return e.Kind.String() + ": " + e.Msg }

const (
	msgDocumentMissing = "document does not exist"
	msgOutOfScope      = "document is not in the collection"
	msgBadFilter       = "_filter parameter is not JSON"
)

func notFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Status: http.StatusNotFound, Msg: msg}
}

func badRequest(msg string) *Error {
	return &Error{Kind: KindBadRequest, Status: http.StatusBadRequest, Msg: msg}
}

// fromStore converts a store failure into an *Error, keeping the store's
// status and short error name.
func fromStore(err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	var se *store.Error
	if !errors.As(err, &se) {
		return &Error{Kind: KindStore, Status: http.StatusInternalServerError, Msg: err.Error()}
	}
	e := &Error{Status: se.Status, Msg: se.Msg}
	switch se.Status {
	case http.StatusNotFound:
		e.Kind = KindNotFound
	case http.StatusConflict:
		e.Kind = KindConflict
	case http.StatusBadRequest:
		e.Kind = KindBadRequest
	default:
		e.Kind = KindStore
	}
	return e
}

// StatusOf returns the HTTP status for err, 500 when it carries none.
func StatusOf(err error) int {
	var ce *Error
	if errors.As(err, &ce) && ce.Status != 0 {
		return ce.Status
	}
	if s := store.StatusOf(err); s != 0 {
		return s
	}
	return http.StatusInternalServerError
}

// MessageOf returns the client-facing message for err.
func MessageOf(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Msg
	}
	var se *store.Error
	if errors.As(err, &se) {
		return se.Msg
	}
	return err.Error()
}

func isConflict(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == KindConflict
}
