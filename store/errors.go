package store

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a failure reported by the store. Msg is the short error code
// ("not_found", "conflict", ...) and Reason the human readable detail.
type Error struct {
	Status int
	Msg    string
	Reason string
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("store: %d %s", e.Status, e.Msg)
	}
	return fmt.Sprintf("store: %d %s: %s", e.Status, e.Msg, e.Reason)
}

func newError(status int, msg, reason string) *Error {
	return &Error{Status: status, Msg: msg, Reason: reason}
}

func errMissing() *Error { return newError(http.StatusNotFound, "not_found", "missing") }
func errDeleted() *Error { return newError(http.StatusNotFound, "not_found", "deleted") }
func errNoDatabase() *Error {
	return newError(http.StatusNotFound, "not_found", "Database does not exist.")
}
func errConflict() *Error {
	return newError(http.StatusConflict, "conflict", "Document update conflict.")
}
func errDatabaseExists() *Error {
	return newError(http.StatusPreconditionFailed, "file_exists",
		"The database could not be created, the file already exists.")
}
func errBadRequest(reason string) *Error {
	return newError(http.StatusBadRequest, "bad_request", reason)
}

// StatusOf returns the status carried by a store error, or 0.
func StatusOf(err error) int {
	var se *Error
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// IsNotFound reports whether err is a 404 from the store.
func IsNotFound(err error) bool { return StatusOf(err) == http.StatusNotFound }

// IsConflict reports whether err is a stale-revision conflict.
func IsConflict(err error) bool { return StatusOf(err) == http.StatusConflict }

// IsExists reports whether err says the database already exists.
func IsExists(err error) bool { return StatusOf(err) == http.StatusPreconditionFailed }
