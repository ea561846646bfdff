// Package realtime is the subscribe-only side of the server's websocket
// channel. Events pushed by the server are published to in-process
// subscribers; the client never publishes domain events itself.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"

	"github.com/matthewbaird/desk/internal/event"
)

// ErrNotConnected is returned by calls that need an open connection.
var ErrNotConnected = errors.New("realtime: not connected")

// Invalidator drops cached metadata for a doctype.
type Invalidator interface {
	Invalidate(doctype string)
}

// Client holds one websocket connection and the rooms joined over it.
type Client struct {
	url   string
	token string
	pub   event.Publisher
	meta  Invalidator

	mu    sync.Mutex
	conn  *websocket.Conn
	rooms map[string]bool
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends a bearer token on connect.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithInvalidator drops cached metadata whenever a doctype_update arrives.
func WithInvalidator(inv Invalidator) Option {
	return func(c *Client) { c.meta = inv }
}

// NewClient creates a client for a server base URL; the socket lives at
// <base>/socket. Received events go to pub.
func NewClient(baseURL string, pub event.Publisher, opts ...Option) *Client {
	c := &Client{
		url:   SocketURL(baseURL),
		pub:   pub,
		rooms: make(map[string]bool),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SocketURL maps an http(s) base URL to its ws(s) socket endpoint.
func SocketURL(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	if strings.HasSuffix(base, "/socket") {
		return base
	}
	return base + "/socket"
}

// Connect dials the server and rejoins every room joined so far.
func (c *Client) Connect(ctx context.Context) error {
	opts := &websocket.DialOptions{}
	if c.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + c.token}}
	}
	conn, _, err := websocket.Dial(ctx, c.url, opts)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	rooms := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.mu.Unlock()

	for _, r := range rooms {
		if err := c.send(ctx, ClientMessage{Type: TypeSubscribe, ID: ulid.Make().String(), Room: r}); err != nil {
			return err
		}
	}
	glog.Infof("realtime: connected to %s (%d rooms)", c.url, len(rooms))
	return nil
}

// Subscribe joins the list room of doctype.
func (c *Client) Subscribe(ctx context.Context, doctype string) error {
	return c.Join(ctx, event.ListRoom(doctype))
}

// SubscribeDoc joins the room of one document.
func (c *Client) SubscribeDoc(ctx context.Context, doctype, name string) error {
	return c.Join(ctx, event.DocRoom(doctype, name))
}

// Join joins a named room such as a task or user channel.
func (c *Client) Join(ctx context.Context, room string) error {
	c.mu.Lock()
	if c.rooms[room] {
		c.mu.Unlock()
		return nil
	}
	c.rooms[room] = true
	connected := c.conn != nil
	c.mu.Unlock()
	if !connected {
		// joined on connect
		return nil
	}
	return c.send(ctx, ClientMessage{Type: TypeSubscribe, ID: ulid.Make().String(), Room: room})
}

// Leave leaves a room.
func (c *Client) Leave(ctx context.Context, room string) error {
	c.mu.Lock()
	if !c.rooms[room] {
		c.mu.Unlock()
		return nil
	}
	delete(c.rooms, room)
	connected := c.conn != nil
	c.mu.Unlock()
	if !connected {
		return nil
	}
	return c.send(ctx, ClientMessage{Type: TypeUnsubscribe, ID: ulid.Make().String(), Room: room})
}

// Rooms returns the joined rooms.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	return out
}

// Ping asks the server for a pong.
func (c *Client) Ping(ctx context.Context) error {
	return c.send(ctx, ClientMessage{Type: TypePing, ID: ulid.Make().String()})
}

func (c *Client) send(ctx context.Context, msg ClientMessage) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		return fmt.Errorf("realtime %s %s: %w", msg.Type, msg.Room, err)
	}
	return nil
}

// Run reads server messages until ctx is done or the connection closes.
// A normal closure returns nil.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	for {
		var msg ServerMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("realtime read: %w", err)
		}
		switch msg.Type {
		case TypeEvent:
			if msg.Event != nil {
				c.Deliver(ctx, *msg.Event)
			}
		case TypeError:
			glog.Warningf("realtime: server error for %s: %s", msg.Room, msg.Error)
		case TypeSubscribed, TypePong:
			glog.V(2).Infof("realtime: %s %s", msg.Type, msg.Room)
		default:
			glog.Warningf("realtime: unknown message type %q", msg.Type)
		}
	}
}

// Deliver hands one server event to in-process subscribers. Metadata of a
// changed doctype is dropped before anyone sees the event.
func (c *Client) Deliver(ctx context.Context, evt event.Event) {
	if evt.Type == event.DocTypeUpdate && c.meta != nil {
		c.meta.Invalidate(evt.Doctype)
	}
	glog.V(1).Infof("realtime: %s", evt)
	if c.pub != nil {
		c.pub.Publish(ctx, evt)
	}
}

// Close closes the connection normally.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "")
}
