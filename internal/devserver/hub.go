package devserver

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/golang/glog"

	"github.com/matthewbaird/desk/internal/event"
	"github.com/matthewbaird/desk/internal/realtime"
)

const (
	// sendBuffer bounds the per-connection backlog; a client that falls
	// further behind loses events.
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
)

// Hub fans published events out to websocket clients by room.
type Hub struct {
	mu      sync.RWMutex
	clients map[*conn]struct{}
}

type conn struct {
	user  string
	mu    sync.Mutex
	rooms map[string]bool
	send  chan realtime.ServerMessage
}

func (c *conn) in(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[room]
}

// owns reports whether evt is progress of a task the client's user started.
// Task rooms are not joined explicitly.
func (c *conn) owns(evt event.Event) bool {
	return evt.Type == event.TaskProgress && evt.User != "" && evt.User == c.user
}

func (c *conn) join(room string) {
	c.mu.Lock()
	c.rooms[room] = true
	c.mu.Unlock()
}

func (c *conn) leave(room string) {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*conn]struct{})}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish queues evt for every client in its room.
func (h *Hub) Publish(_ context.Context, evt event.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.in(evt.Room) && !c.owns(evt) {
			continue
		}
		e := evt
		select {
		case c.send <- realtime.ServerMessage{Type: realtime.TypeEvent, Room: evt.Room, Event: &e}:
		default:
			glog.Warningf("devserver: dropping %s for %s, client backlog full", evt.Type, c.user)
		}
	}
}

// ServeHTTP upgrades to a websocket and runs the subscription loop.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		glog.Errorf("devserver: websocket accept: %v", err)
		return
	}
	defer ws.CloseNow()

	c := &conn{
		user:  actorFrom(r).User,
		rooms: map[string]bool{event.UserRoom(actorFrom(r).User): true},
		send:  make(chan realtime.ServerMessage, sendBuffer),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.writeLoop(ctx, ws, c)

	for {
		var msg realtime.ClientMessage
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				glog.V(1).Infof("devserver: websocket read for %s: %v", c.user, err)
			}
			return
		}
		h.handle(c, msg)
	}
}

func (h *Hub) handle(c *conn, msg realtime.ClientMessage) {
	reply := func(m realtime.ServerMessage) {
		m.RequestID = msg.ID
		select {
		case c.send <- m:
		default:
		}
	}
	switch msg.Type {
	case realtime.TypeSubscribe:
		if !validRoom(msg.Room) {
			reply(realtime.ServerMessage{Type: realtime.TypeError, Error: fmt.Sprintf("invalid room %q", msg.Room)})
			return
		}
		c.join(msg.Room)
		reply(realtime.ServerMessage{Type: realtime.TypeSubscribed, Room: msg.Room})
	case realtime.TypeUnsubscribe:
		c.leave(msg.Room)
	case realtime.TypePing:
		reply(realtime.ServerMessage{Type: realtime.TypePong})
	default:
		reply(realtime.ServerMessage{Type: realtime.TypeError, Error: fmt.Sprintf("unknown message type: %s", msg.Type)})
	}
}

func validRoom(room string) bool {
	for _, p := range []string{"doctype:", "doc:", "user:", "task:"} {
		if strings.HasPrefix(room, p) && len(room) > len(p) {
			return true
		}
	}
	return false
}

func (h *Hub) writeLoop(ctx context.Context, ws *websocket.Conn, c *conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, ws, m)
			cancel()
			if err != nil {
				glog.V(1).Infof("devserver: websocket write for %s: %v", c.user, err)
				return
			}
		}
	}
}
