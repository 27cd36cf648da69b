// Package errcodes defines the tagged errors the engine reports across its
// boundary. Navigation queries never surface errors (they degrade to empty
// results); these codes cover the few conditions the OPDS layer must see.
package errcodes

import "net/http"

type Error struct {
	HTTPCode int
	Message  string
	Code     string
}

func (err *Error) Error() string {
	return err.Message
}

func (err *Error) As(target interface{}) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	te.HTTPCode = err.HTTPCode
	te.Message = err.Message
	te.Code = err.Code
	return true
}

func (err *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return te.HTTPCode == err.HTTPCode &&
		te.Message == err.Message &&
		te.Code == err.Code
}

// NotFound returns a 404 error with a message indicating the given resource.
func NotFound(resource string) error {
	return &Error{
		http.StatusNotFound,
		resource + " not found.",
		"not_found",
	}
}

// Gone returns a 410 error for a book whose backing file has disappeared
// from disk.
func Gone(resource string) error {
	return &Error{
		http.StatusGone,
		resource + " is no longer available.",
		"gone",
	}
}

// ValidationError reports a record that fails the validity contract.
func ValidationError(msg string) error {
	return &Error{
		http.StatusUnprocessableEntity,
		msg,
		"validation_error",
	}
}
