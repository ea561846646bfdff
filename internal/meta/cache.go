package meta

import (
	"context"
	"fmt"

	"github.com/golang/glog"
	"golang.org/x/sync/singleflight"

	"github.com/matthewbaird/desk/internal/rpc"
)

// MethodGetDocType loads a DocType and its child DocTypes.
const MethodGetDocType = "frappe.desk.form.load.getdoctype"

// Cache fetches DocType metadata lazily, once per session. Concurrent
// requests for the same DocType share one server call.
type Cache struct {
	caller   rpc.Caller
	registry *Registry
	group    singleflight.Group
}

// NewCache creates a Cache backed by caller.
func NewCache(caller rpc.Caller) *Cache {
	return &Cache{caller: caller, registry: NewRegistry()}
}

// Get returns the DocType, fetching it on first use.
func (c *Cache) Get(ctx context.Context, doctype string) (*DocType, error) {
	if dt := c.registry.DocType(doctype); dt != nil {
		return dt, nil
	}
	v, err, _ := c.group.Do(doctype, func() (any, error) {
		if dt := c.registry.DocType(doctype); dt != nil {
			return dt, nil
		}
		return c.fetch(ctx, doctype)
	})
	if err != nil {
		return nil, err
	}
	return v.(*DocType), nil
}

func (c *Cache) fetch(ctx context.Context, doctype string) (*DocType, error) {
	resp, err := c.caller.Call(ctx, MethodGetDocType, map[string]any{"doctype": doctype})
	if err != nil {
		return nil, fmt.Errorf("loading metadata for %s: %w", doctype, err)
	}
	var docs []*DocType
	if err := resp.DecodeDocs(&docs); err != nil {
		return nil, err
	}
	var found *DocType
	for _, dt := range docs {
		c.registry.Register(dt)
		if dt.Name == doctype {
			found = dt
		}
	}
	if found == nil {
		return nil, fmt.Errorf("metadata for %s missing from response", doctype)
	}
	glog.V(1).Infof("meta: cached %s (%d docs)", doctype, len(docs))
	return found, nil
}

// Peek returns a cached DocType without fetching.
func (c *Cache) Peek(doctype string) *DocType {
	return c.registry.DocType(doctype)
}

// Put seeds the cache, e.g. from a server response that embedded metadata.
func (c *Cache) Put(dt *DocType) {
	c.registry.Register(dt)
}

// Invalidate drops a DocType so the next Get refetches it.
func (c *Cache) Invalidate(doctype string) {
	c.registry.Remove(doctype)
	c.group.Forget(doctype)
	glog.Infof("meta: invalidated %s", doctype)
}
