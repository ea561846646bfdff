// Package event defines the realtime notifications a server pushes to desk
// clients and the rooms they are delivered to.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Realtime event types.
const (
	ListUpdate    = "list_update"
	DocUpdate     = "doc_update"
	DocTypeUpdate = "doctype_update"
	TaskProgress  = "task_progress"
	Msgprint      = "msgprint"
)

// Event carries the canonical shape of every realtime notification.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"event"`
	Room       string          `json:"room"`
	OccurredAt time.Time       `json:"occurred_at"`
	Doctype    string          `json:"doctype,omitempty"`
	Name       string          `json:"name,omitempty"`
	Modified   string          `json:"modified,omitempty"`
	User       string          `json:"user,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

func (e Event) String() string {
	if e.Name != "" {
		return fmt.Sprintf("%s %s/%s", e.Type, e.Doctype, e.Name)
	}
	if e.Doctype != "" {
		return fmt.Sprintf("%s %s", e.Type, e.Doctype)
	}
	return e.Type
}

// ListRoom is joined by list views of a doctype.
func ListRoom(doctype string) string { return "doctype:" + doctype }

// DocRoom is joined by the form holding one document.
func DocRoom(doctype, name string) string { return "doc:" + doctype + "/" + name }

// UserRoom receives notifications addressed to one user.
func UserRoom(user string) string { return "user:" + user }

// TaskRoom receives progress for a background task.
func TaskRoom(taskID string) string { return "task:" + taskID }

func newEvent(typ, room string) Event {
	return Event{ID: ulid.Make().String(), Type: typ, Room: room, OccurredAt: time.Now()}
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// NewListUpdate signals that a document of doctype changed or was deleted.
func NewListUpdate(doctype, name, user string) Event {
	e := newEvent(ListUpdate, ListRoom(doctype))
	e.Doctype, e.Name, e.User = doctype, name, user
	return e
}

// NewDocUpdate signals that a saved document now has a new modified stamp.
func NewDocUpdate(doctype, name, modified, user string) Event {
	e := newEvent(DocUpdate, DocRoom(doctype, name))
	e.Doctype, e.Name, e.Modified, e.User = doctype, name, modified, user
	return e
}

// NewDocTypeUpdate signals that a doctype's metadata changed.
func NewDocTypeUpdate(doctype string) Event {
	e := newEvent(DocTypeUpdate, ListRoom(doctype))
	e.Doctype = doctype
	return e
}

// TaskProgressPayload reports how far a background task got.
type TaskProgressPayload struct {
	TaskID   string   `json:"task_id"`
	Progress int      `json:"progress"`
	Total    int      `json:"total"`
	Title    string   `json:"title,omitempty"`
	Failed   []string `json:"failed,omitempty"`
}

// NewTaskProgress reports progress of a bulk task.
func NewTaskProgress(p TaskProgressPayload) Event {
	e := newEvent(TaskProgress, TaskRoom(p.TaskID))
	e.Payload = mustJSON(p)
	return e
}

// MsgprintPayload is a message pushed to one user.
type MsgprintPayload struct {
	Message string `json:"message"`
	Title   string `json:"title,omitempty"`
}

// NewMsgprint pushes a message to user.
func NewMsgprint(user, title, message string) Event {
	e := newEvent(Msgprint, UserRoom(user))
	e.User = user
	e.Payload = mustJSON(MsgprintPayload{Message: message, Title: title})
	return e
}

// DecodePayload unmarshals the payload into v.
func (e Event) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}
