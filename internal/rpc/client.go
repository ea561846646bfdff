// Package rpc is the client side of the method-addressed server contract:
// JSON request bodies POSTed to /api/method/<method>, answered with a
// {message, docs, exc, _server_messages} envelope.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"
)

// Caller issues one server call and returns the decoded envelope.
// A non-nil error is returned whenever the envelope reports failure.
type Caller interface {
	Call(ctx context.Context, method string, args any) (*Response, error)
}

// Response is the server envelope.
type Response struct {
	Message        json.RawMessage `json:"message,omitempty"`
	Docs           json.RawMessage `json:"docs,omitempty"`
	Exc            json.RawMessage `json:"exc,omitempty"`
	ExcType        string          `json:"exc_type,omitempty"`
	ServerMessages string          `json:"_server_messages,omitempty"`

	StatusCode int    `json:"-"`
	RequestID  string `json:"-"`
}

// Decode unmarshals the message payload into v. An empty message leaves v untouched.
func (r *Response) Decode(v any) error {
	if !present(r.Message) {
		return nil
	}
	if err := json.Unmarshal(r.Message, v); err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}
	return nil
}

// DecodeDocs unmarshals the docs payload into v.
func (r *Response) DecodeDocs(v any) error {
	if !present(r.Docs) {
		return nil
	}
	if err := json.Unmarshal(r.Docs, v); err != nil {
		return fmt.Errorf("decoding docs: %w", err)
	}
	return nil
}

// Failed reports whether the envelope signals failure regardless of HTTP status.
func (r *Response) Failed() bool {
	return present(r.Exc) || serverMessagesTruthy(r.ServerMessages)
}

func present(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	switch s {
	case "", "null", `""`, "[]", "{}", "0", "false":
		return false
	}
	return true
}

func serverMessagesTruthy(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && s != "[]" && s != "null"
}

// Client talks to one server base URL.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	queue   *Queue
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent with every call.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a Client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
		queue:   NewQueue(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Call performs a blocking call.
func (c *Client) Call(ctx context.Context, method string, args any) (*Response, error) {
	if args == nil {
		args = map[string]any{}
	}
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encoding args for %s: %w", method, err)
	}

	reqID := ulid.Make().String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/method/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", method, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", method, err)
	}
	glog.V(1).Infof("rpc: %s [%s] status=%d in %s", method, reqID, res.StatusCode, time.Since(start))

	resp := &Response{StatusCode: res.StatusCode, RequestID: reqID}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, resp); err != nil {
			if res.StatusCode >= 300 {
				return resp, &ServerError{Method: method, Status: res.StatusCode, Exc: string(raw)}
			}
			return resp, fmt.Errorf("decoding %s response: %w", method, err)
		}
	}

	if resp.Failed() || res.StatusCode >= 300 {
		return resp, newServerError(method, resp)
	}
	return resp, nil
}

// Go issues an asynchronous call tracked by the network queue. done, if
// non-nil, runs before the call is considered drained.
func (c *Client) Go(ctx context.Context, method string, args any, done func(*Response, error)) {
	c.queue.add()
	go func() {
		defer c.queue.done()
		resp, err := c.Call(ctx, method, args)
		if err != nil {
			glog.Warningf("rpc: async %s failed: %v", method, err)
		}
		if done != nil {
			done(resp, err)
		}
	}()
}

// Pending returns the number of in-flight asynchronous calls.
func (c *Client) Pending() int { return c.queue.Pending() }

// Wait blocks until the network queue drains or ctx is done.
func (c *Client) Wait(ctx context.Context) error { return c.queue.Wait(ctx) }
