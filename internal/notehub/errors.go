package notehub

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/starford/notehub/internal/apperr"
)

// Class is the coarse classification of a transport failure.
type Class int

// Error classes.
const (
	ClassNetwork Class = iota + 1
	ClassClient
	ClassServer
)

func (c Class) String() string {
	switch c {
	case ClassNetwork:
		return "network"
	case ClassClient:
		return "client"
	case ClassServer:
		return "server"
	default:
		return "unknown"
	}
}

// Error is returned by every Client method.
//
// StatusCode is zero for network failures and for validation that failed
// before a request was sent.
type Error struct {
	Op         string
	Class      Class
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("notehub: %s: %s error: status %d: %s", e.Op, e.Class, e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("notehub: %s: %s error: %v", e.Op, e.Class, e.Err)
	default:
		return fmt.Sprintf("notehub: %s: %s error: %s", e.Op, e.Class, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is maps store responses onto the shared sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case apperr.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case apperr.ErrValidation:
		return e.Class == ClassClient &&
			(e.StatusCode == 0 || e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnprocessableEntity)
	case apperr.ErrAlreadyExists:
		return e.StatusCode == http.StatusConflict
	}
	return false
}

// Temporary reports whether the failure is a network failure worth retrying.
func (e *Error) Temporary() bool { return e.Class == ClassNetwork }

// ClassOf returns the class of err, or zero if err is not an *Error.
func ClassOf(err error) Class {
	var nerr *Error
	if errors.As(err, &nerr) {
		return nerr.Class
	}
	return 0
}

func classify(status int) Class {
	if status >= 500 {
		return ClassServer
	}
	return ClassClient
}
