package devserver

import (
	"fmt"
	"net/http"
	"strings"
)

// Error is a failure reported to the client in the envelope's exc_type and
// _server_messages, with a matching HTTP status.
type Error struct {
	Status   int
	ExcType  string
	Messages []string
}

func (e *Error) Error() string {
	return e.ExcType + ": " + strings.Join(e.Messages, "; ")
}

func errNotFound(doctype, name string) *Error {
	return &Error{Status: http.StatusNotFound, ExcType: "DoesNotExistError",
		Messages: []string{fmt.Sprintf("%s %s not found", doctype, name)}}
}

func errNotPermitted(ptype, doctype string) *Error {
	return &Error{Status: http.StatusForbidden, ExcType: "PermissionError",
		Messages: []string{fmt.Sprintf("No permission to %s %s", ptype, doctype)}}
}

func errTimestamp(doctype, name string) *Error {
	return &Error{Status: http.StatusConflict, ExcType: "TimestampMismatchError",
		Messages: []string{fmt.Sprintf("Error: Document %s %s has been modified after you have opened it. Please refresh to get the latest document.", doctype, name)}}
}

func errValidation(excType string, msgs ...string) *Error {
	return &Error{Status: http.StatusExpectationFailed, ExcType: excType, Messages: msgs}
}

func errBadRequest(format string, args ...any) *Error {
	return &Error{Status: http.StatusBadRequest, ExcType: "ValidationError", Messages: []string{fmt.Sprintf(format, args...)}}
}
