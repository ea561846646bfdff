package form

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBusy is returned when another lifecycle action of the same form
	// is still running, e.g. a second Save while the first is in flight.
	ErrBusy = errors.New("form is busy")
	// ErrInvalidTransition is returned for an action the document state
	// does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrAlreadyAmended is returned when the server already holds an
	// amendment of the cancelled document.
	ErrAlreadyAmended = errors.New("document is already amended")
	// ErrDeclined is returned when the user answered no to a confirmation.
	ErrDeclined = errors.New("declined")
	// ErrNoDocument is returned when no document is loaded.
	ErrNoDocument = errors.New("no document loaded")
	// ErrNotEditable is returned when setting a field of a submitted or
	// cancelled document.
	ErrNotEditable = errors.New("document is not editable")
)

// ValidationError is a client-side validation failure. No server call was
// made.
type ValidationError struct {
	Doctype string
	Name    string
	// Fields are the fieldnames highlighted on the form.
	Fields []string
	// Labels describe each missing mandatory value.
	Labels []string
	// Reasons are messages of handlers that invalidated the form.
	Reasons []string
}

func (e *ValidationError) Error() string {
	if len(e.Labels) > 0 {
		return fmt.Sprintf("%s %s: missing fields: %s", e.Doctype, e.Name, strings.Join(e.Labels, ", "))
	}
	if len(e.Reasons) > 0 {
		return fmt.Sprintf("%s %s: %s", e.Doctype, e.Name, strings.Join(e.Reasons, "; "))
	}
	return fmt.Sprintf("%s %s: validation failed", e.Doctype, e.Name)
}

// PermissionError is returned when the user may not perform an action,
// whether decided locally from the permission matrix or by the server.
type PermissionError struct {
	Doctype string
	Name    string
	Ptype   string
	Err     error
}

func (e *PermissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: not permitted: %v", e.Doctype, e.Name, e.Err)
	}
	return fmt.Sprintf("%s %s: not permitted to %s", e.Doctype, e.Name, e.Ptype)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// ConflictError is returned when the server copy changed since it was loaded.
type ConflictError struct {
	Doctype string
	Name    string
	Err     error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: document has been modified after it was loaded", e.Doctype, e.Name)
}

func (e *ConflictError) Unwrap() error { return e.Err }
