package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ServerMessage is one entry of _server_messages.
type ServerMessage struct {
	Message   string `json:"message"`
	Title     string `json:"title,omitempty"`
	Indicator string `json:"indicator,omitempty"`
}

// ServerError is returned whenever the envelope carries exc or
// _server_messages, or the HTTP status is not 2xx.
type ServerError struct {
	Method   string
	Status   int
	ExcType  string
	Exc      string
	Messages []ServerMessage
}

func (e *ServerError) Error() string {
	var b strings.Builder
	b.WriteString(e.Method)
	b.WriteString(": ")
	switch {
	case len(e.Messages) > 0:
		msgs := make([]string, len(e.Messages))
		for i, m := range e.Messages {
			msgs[i] = m.Message
		}
		b.WriteString(strings.Join(msgs, "; "))
	case e.ExcType != "":
		b.WriteString(e.ExcType)
	case e.Exc != "":
		b.WriteString(firstLine(e.Exc))
	default:
		b.WriteString(http.StatusText(e.Status))
	}
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func newServerError(method string, r *Response) *ServerError {
	e := &ServerError{
		Method:   method,
		Status:   r.StatusCode,
		ExcType:  r.ExcType,
		Messages: ParseServerMessages(r.ServerMessages),
	}
	if present(r.Exc) {
		var s string
		if err := json.Unmarshal(r.Exc, &s); err == nil {
			e.Exc = s
		} else {
			e.Exc = string(r.Exc)
		}
	}
	return e
}

// ParseServerMessages decodes the doubly JSON-encoded _server_messages field.
func ParseServerMessages(s string) []ServerMessage {
	if !serverMessagesTruthy(s) {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return []ServerMessage{{Message: s}}
	}
	out := make([]ServerMessage, 0, len(items))
	for _, item := range items {
		var m ServerMessage
		if err := json.Unmarshal([]byte(item), &m); err != nil || m.Message == "" {
			m = ServerMessage{Message: item}
		}
		out = append(out, m)
	}
	return out
}

// EncodeServerMessages is the inverse of ParseServerMessages.
func EncodeServerMessages(msgs ...ServerMessage) string {
	items := make([]string, len(msgs))
	for i, m := range msgs {
		b, _ := json.Marshal(m)
		items[i] = string(b)
	}
	b, _ := json.Marshal(items)
	return string(b)
}

// IsPermission reports whether err is a server permission failure.
func IsPermission(err error) bool {
	var se *ServerError
	if !errors.As(err, &se) {
		return false
	}
	return se.Status == http.StatusForbidden || se.ExcType == "PermissionError"
}

// IsConflict reports whether err is a stale-document failure.
func IsConflict(err error) bool {
	var se *ServerError
	if !errors.As(err, &se) {
		return false
	}
	return se.ExcType == "TimestampMismatchError" || se.Status == http.StatusConflict
}

// IsNotFound reports whether err is a missing-document failure.
func IsNotFound(err error) bool {
	var se *ServerError
	if !errors.As(err, &se) {
		return false
	}
	return se.Status == http.StatusNotFound || se.ExcType == "DoesNotExistError"
}

// Describe renders err for a user-facing alert.
func Describe(err error) string {
	var se *ServerError
	if errors.As(err, &se) && len(se.Messages) > 0 {
		return se.Messages[0].Message
	}
	return fmt.Sprint(err)
}
