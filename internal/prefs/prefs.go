// Package prefs keeps client-side preferences that never reach the server:
// sidebar visibility, the last doctype picked in a builder and dismissed
// insight banners.
package prefs

import (
	"context"
	"sort"
	"strconv"
	"sync"
)

// Store is a flat key/value preference store.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

func sidebarKey(doctype string) string { return "sidebar_hidden:" + doctype }
func builderKey(builder string) string { return "last_doctype:" + builder }
func bannerKey(banner string) string   { return "banner_dismissed:" + banner }

// SidebarHidden reports whether the user collapsed the sidebar for doctype.
func SidebarHidden(ctx context.Context, s Store, doctype string) bool {
	return boolValue(ctx, s, sidebarKey(doctype))
}

// SetSidebarHidden records the sidebar state for doctype.
func SetSidebarHidden(ctx context.Context, s Store, doctype string, hidden bool) error {
	return s.Set(ctx, sidebarKey(doctype), strconv.FormatBool(hidden))
}

// LastDoctype returns the doctype last chosen in a builder, or "".
func LastDoctype(ctx context.Context, s Store, builder string) string {
	v, _, _ := s.Get(ctx, builderKey(builder))
	return v
}

// SetLastDoctype records the doctype chosen in a builder.
func SetLastDoctype(ctx context.Context, s Store, builder, doctype string) error {
	return s.Set(ctx, builderKey(builder), doctype)
}

// BannerDismissed reports whether an insight banner was dismissed.
func BannerDismissed(ctx context.Context, s Store, banner string) bool {
	return boolValue(ctx, s, bannerKey(banner))
}

// DismissBanner hides an insight banner for good.
func DismissBanner(ctx context.Context, s Store, banner string) error {
	return s.Set(ctx, bannerKey(banner), "true")
}

func boolValue(ctx context.Context, s Store, key string) bool {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false
	}
	b, _ := strconv.ParseBool(v)
	return b
}

// Memory is an in-process Store.
type Memory struct {
	mu sync.RWMutex
	kv map[string]string
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{kv: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.kv[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
	return nil
}

func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.kv))
	for k := range m.kv {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Close() error { return nil }
