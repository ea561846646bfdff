package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/desk/internal/auth"
	"github.com/matthewbaird/desk/internal/bulk"
	"github.com/matthewbaird/desk/internal/event"
	"github.com/matthewbaird/desk/internal/eventbus"
	"github.com/matthewbaird/desk/internal/form"
	"github.com/matthewbaird/desk/internal/listview"
	"github.com/matthewbaird/desk/internal/realtime"
	"github.com/matthewbaird/desk/internal/rpc"
	"github.com/matthewbaird/desk/internal/session"
	"github.com/matthewbaird/desk/internal/types"
	"github.com/matthewbaird/desk/internal/ui/uitest"
)

type testServer struct {
	*httptest.Server
	backend *Backend
	hub     *Hub
	events  *event.Recorder
}

func startServer(t *testing.T, iss *auth.Issuer) *testServer {
	t.Helper()
	reg, err := LoadRegistry("")
	require.NoError(t, err)
	hub := NewHub()
	rec := event.NewRecorder(500)
	b := NewBackend(reg, event.Fanout{hub, rec})
	srv := httptest.NewServer(Handler(Config{Backend: b, Hub: hub, Issuer: iss, Events: rec}))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, backend: b, hub: hub, events: rec}
}

func newClientSession(ts *testServer, user string, roles ...string) (*session.Session, *uitest.Recorder) {
	rec := uitest.New()
	return session.New(rpc.NewClient(ts.URL), user, roles, rec), rec
}

func post(t *testing.T, url string, body any) (int, map[string]json.RawMessage) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer resp.Body.Close()
	var env map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestHealthz(t *testing.T) {
	ts := startServer(t, nil)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServeMethod_ErrorEnvelope(t *testing.T) {
	ts := startServer(t, nil)

	status, env := post(t, ts.URL+"/api/method/frappe.desk.form.load.getdoc", map[string]any{"doctype": "ToDo", "name": "nope"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.JSONEq(t, `"DoesNotExistError"`, string(env["exc_type"]))
	var sm string
	require.NoError(t, json.Unmarshal(env["_server_messages"], &sm))
	msgs := rpc.ParseServerMessages(sm)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ToDo nope not found", msgs[0].Message)

	status, _ = post(t, ts.URL+"/api/method/no.such.method", map[string]any{})
	assert.Equal(t, http.StatusNotFound, status)

	status, env = post(t, ts.URL+"/api/method/frappe.desk.reportview.get", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.JSONEq(t, `"ValidationError"`, string(env["exc_type"]))
}

func TestServeMethod_ArgumentShapes(t *testing.T) {
	ts := startServer(t, nil)
	require.NoError(t, Seed(ts.backend))
	c := rpc.NewClient(ts.URL)
	ctx := context.Background()

	// filters as a JSON string of 4-element arrays, fields as a list
	resp, err := c.Call(ctx, listview.MethodGetList, map[string]any{
		"doctype":     "ToDo",
		"fields":      []string{"name", "priority"},
		"filters":     `[["ToDo","priority","=","High"]]`,
		"order_by":    "modified desc",
		"start":       0,
		"page_length": 20,
	})
	require.NoError(t, err)
	var page struct {
		Keys   []string `json:"keys"`
		Values [][]any  `json:"values"`
	}
	require.NoError(t, resp.Decode(&page))
	assert.Equal(t, []string{"name", "priority"}, page.Keys)
	require.Len(t, page.Values, 1)
	assert.Equal(t, "High", page.Values[0][1])

	// filters as a field map with an operator pair
	resp, err = c.Call(ctx, listview.MethodGetCount, map[string]any{
		"doctype": "ToDo",
		"filters": map[string]any{"priority": []any{"in", []string{"High", "Low"}}},
	})
	require.NoError(t, err)
	var n int
	require.NoError(t, resp.Decode(&n))
	assert.Equal(t, 2, n)

	resp, err = c.Call(ctx, "frappe.auth.get_logged_user", nil)
	require.NoError(t, err)
	var user string
	require.NoError(t, resp.Decode(&user))
	assert.Equal(t, "Administrator", user)
}

func TestFormLifecycleAgainstServer(t *testing.T) {
	ts := startServer(t, nil)
	require.NoError(t, Seed(ts.backend))
	sess, rec := newClientSession(ts, "sales@example.com", "Sales User")
	ctx := context.Background()

	f := form.NewController(sess)
	require.NoError(t, f.New(ctx, "Sales Order"))
	require.NoError(t, f.SetValue(ctx, "customer", "Acme Corp"))
	require.NoError(t, f.SetValue(ctx, "delivery_date", "2026-11-30"))
	row, err := f.AddRow(ctx, "items")
	require.NoError(t, err)
	require.NoError(t, f.SetChildValue(ctx, row.Doctype, row.Name, "item_code", "WIDGET"))

	require.NoError(t, f.Save(ctx))
	name := f.Doc().Name
	assert.Equal(t, "SO-00004", name)
	assert.Equal(t, form.StateDraft, f.State())
	assert.Equal(t, 1.0, f.Doc().Children("items")[0].Get("qty"))

	require.NoError(t, f.Submit(ctx))
	assert.Equal(t, form.StateSubmitted, f.State())

	require.NoError(t, f.Cancel(ctx))
	assert.Equal(t, form.StateCancelled, f.State())

	require.NoError(t, f.Amend(ctx))
	require.NoError(t, f.Save(ctx))
	assert.Equal(t, name+"-1", f.Doc().Name)
	assert.Equal(t, name, f.Doc().GetString("amended_from"))
	assert.Equal(t, "", f.Doc().GetString("po_no"))

	stored, err := ts.backend.Get(Administrator, "Sales Order", name)
	require.NoError(t, err)
	assert.Equal(t, types.Cancelled, stored.DocStatus)
	assert.Equal(t, "Saved", rec.LastAlert())
}

func TestFormConflictAgainstServer(t *testing.T) {
	ts := startServer(t, nil)
	todo, err := ts.backend.Save(Administrator, localDoc("ToDo", map[string]any{"description": "first"}), ActionSave)
	require.NoError(t, err)

	sess, _ := newClientSession(ts, "Administrator", "Administrator")
	ctx := context.Background()
	f := form.NewController(sess)
	require.NoError(t, f.Open(ctx, "ToDo", todo.Name))

	_ = todo.Set("description", "someone else")
	_, err = ts.backend.Save(Administrator, todo, ActionSave)
	require.NoError(t, err)

	require.NoError(t, f.SetValue(ctx, "description", "mine"))
	err = f.Save(ctx)
	require.Error(t, err)
	assert.True(t, rpc.IsConflict(err))
}

func TestListAndBulkAgainstServer(t *testing.T) {
	ts := startServer(t, nil)
	require.NoError(t, Seed(ts.backend))
	sess, rec := newClientSession(ts, "sales@example.com", "Sales User")
	ctx := context.Background()

	l := listview.New(sess, "Sales Order")
	l.Throttle = 0
	l.Filters = types.Filters{{Doctype: "Sales Order", Field: "docstatus", Operator: "=", Value: 0}}
	require.NoError(t, l.Refresh(ctx))
	assert.Equal(t, 2, l.Total())
	require.Len(t, l.Data(), 2)

	l.SelectAll()
	names := l.Selected()
	require.Len(t, names, 2)

	r := bulk.NewRunner(sess, "Sales Order")
	var doneErr error
	require.NoError(t, r.Submit(ctx, names, func(err error) { doneErr = err }))
	require.NoError(t, doneErr)
	assert.Equal(t, "Submit: 2 documents", rec.LastAlert())

	require.NoError(t, l.Refresh(ctx))
	assert.Equal(t, 0, l.Total())
	assert.Empty(t, l.Selected())

	err := r.Delete(ctx, names, nil)
	require.ErrorIs(t, err, bulk.ErrNotAllowed)

	require.NoError(t, r.AddTags(ctx, names[:1], []string{"priority"}, nil))
	got, err := ts.backend.Get(Administrator, "Sales Order", names[0])
	require.NoError(t, err)
	assert.Equal(t, "priority", got.GetString("_user_tags"))

	mgr, _ := newClientSession(ts, "boss@example.com", "Sales Manager")
	mr := bulk.NewRunner(mgr, "Sales Order")
	err = mr.Delete(ctx, names, nil)
	var be *bulk.BatchError
	require.ErrorAs(t, err, &be)
	assert.ElementsMatch(t, names, be.Failed)

	out, err := mr.Export(ctx, names, "", nil)
	require.NoError(t, err)
	var file struct {
		Filename string `json:"filename"`
		Content  string `json:"content"`
	}
	require.NoError(t, json.Unmarshal(out, &file))
	assert.Equal(t, "Sales Order.csv", file.Filename)
	assert.Contains(t, file.Content, "name,customer,transaction_date,grand_total")
}

func TestBulkProgressOverSocket(t *testing.T) {
	ts := startServer(t, nil)
	require.NoError(t, Seed(ts.backend))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, _ := newClientSession(ts, "Administrator", "Administrator")
	sess.Bus.Start(ctx)
	defer sess.Bus.Stop()

	var (
		mu       sync.Mutex
		progress []event.TaskProgressPayload
	)
	sess.Bus.Subscribe("progress", eventbus.HandlerFunc(func(_ context.Context, evt event.Event) error {
		if evt.Type != event.TaskProgress {
			return nil
		}
		var p event.TaskProgressPayload
		if err := evt.DecodePayload(&p); err != nil {
			return err
		}
		mu.Lock()
		progress = append(progress, p)
		mu.Unlock()
		return nil
	}))

	rt := realtime.NewClient(ts.URL, sess.Bus)
	require.NoError(t, rt.Connect(ctx))
	go func() { _ = rt.Run(ctx) }()
	defer rt.Close()
	require.Eventually(t, func() bool { return ts.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, values, err := ts.backend.List(Administrator, Query{Doctype: "ToDo", OrderBy: "name asc"})
	require.NoError(t, err)
	require.Len(t, values, 3)
	names := []string{values[0][0].(string), values[1][0].(string)}

	r := bulk.NewRunner(sess, "ToDo")
	require.NoError(t, r.Edit(ctx, names, map[string]any{"priority": "Low"}, nil))
	for _, n := range names {
		d, err := ts.backend.Get(Administrator, "ToDo", n)
		require.NoError(t, err)
		assert.Equal(t, "Low", d.GetString("priority"))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(progress) == 2
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, progress[0].Progress)
	assert.Equal(t, 2, progress[1].Progress)
	assert.Equal(t, 2, progress[1].Total)
	assert.Equal(t, progress[0].TaskID, progress[1].TaskID)
}

func TestHubDeliversTaskProgressToStartingUser(t *testing.T) {
	h := NewHub()
	mine := &conn{user: "a@example.com", rooms: map[string]bool{}, send: make(chan realtime.ServerMessage, 4)}
	other := &conn{user: "b@example.com", rooms: map[string]bool{}, send: make(chan realtime.ServerMessage, 4)}
	h.clients[mine] = struct{}{}
	h.clients[other] = struct{}{}

	evt := event.NewTaskProgress(event.TaskProgressPayload{TaskID: "T1", Progress: 1, Total: 2})
	evt.User = "a@example.com"
	h.Publish(context.Background(), evt)

	require.Len(t, mine.send, 1)
	assert.Empty(t, other.send)
	msg := <-mine.send
	assert.Equal(t, realtime.TypeEvent, msg.Type)
	assert.Equal(t, "task:T1", msg.Event.Room)

	other.join("task:T1")
	h.Publish(context.Background(), evt)
	assert.Len(t, other.send, 1)
}

func TestAuthenticatedServer(t *testing.T) {
	iss, err := auth.NewIssuer("s3cret", time.Hour)
	require.NoError(t, err)
	ts := startServer(t, iss)
	ctx := context.Background()

	_, err = rpc.NewClient(ts.URL).Call(ctx, "frappe.auth.get_logged_user", nil)
	require.Error(t, err)
	assert.True(t, rpc.IsPermission(err))

	status, env := post(t, ts.URL+"/api/method/login", map[string]any{"usr": "guest@example.com", "roles": []string{"Guest"}})
	require.Equal(t, http.StatusOK, status)
	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env["message"], &login))

	c := rpc.NewClient(ts.URL, rpc.WithToken(login.Token))
	resp, err := c.Call(ctx, "frappe.auth.get_logged_user", nil)
	require.NoError(t, err)
	var user string
	require.NoError(t, resp.Decode(&user))
	assert.Equal(t, "guest@example.com", user)

	_, err = c.Call(ctx, listview.MethodGetList, map[string]any{"doctype": "Sales Order"})
	require.Error(t, err)
	assert.True(t, rpc.IsPermission(err))
}

func TestRealtimeThroughHub(t *testing.T) {
	ts := startServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan event.Event, 8)
	c := realtime.NewClient(ts.URL, publisherFunc(func(_ context.Context, evt event.Event) { got <- evt }))
	require.NoError(t, c.Subscribe(ctx, "ToDo"))
	require.NoError(t, c.Connect(ctx))
	go func() { _ = c.Run(ctx) }()
	defer c.Close()

	require.Eventually(t, func() bool { return ts.hub.Clients() == 1 && hubHasRoom(ts.hub, "doctype:ToDo") },
		2*time.Second, 10*time.Millisecond)

	_, err := ts.backend.Save(Administrator, localDoc("ToDo", map[string]any{"description": "ping"}), ActionSave)
	require.NoError(t, err)
	_, err = ts.backend.Save(Administrator, newOrder("Acme Corp", "WIDGET"), ActionSave)
	require.NoError(t, err)

	select {
	case evt := <-got:
		assert.Equal(t, event.ListUpdate, evt.Type)
		assert.Equal(t, "ToDo", evt.Doctype)
	case <-ctx.Done():
		t.Fatal("no event delivered")
	}
	select {
	case evt := <-got:
		t.Fatalf("unexpected event for another room: %v", evt)
	case <-time.After(100 * time.Millisecond):
	}
}

type publisherFunc func(ctx context.Context, evt event.Event)

func (f publisherFunc) Publish(ctx context.Context, evt event.Event) { f(ctx, evt) }

func hubHasRoom(h *Hub, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.in(room) {
			return true
		}
	}
	return false
}

func TestValidRoom(t *testing.T) {
	assert.True(t, validRoom("doctype:ToDo"))
	assert.True(t, validRoom("task:T1"))
	assert.False(t, validRoom("doctype:"))
	assert.False(t, validRoom("lobby"))
}
