// Package session is the arena every controller works inside: one user,
// one document store, one metadata cache and one unload guard.
package session

import (
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/matthewbaird/desk/internal/eventbus"
	"github.com/matthewbaird/desk/internal/locals"
	"github.com/matthewbaird/desk/internal/meta"
	"github.com/matthewbaird/desk/internal/prefs"
	"github.com/matthewbaird/desk/internal/rpc"
	"github.com/matthewbaird/desk/internal/script"
	"github.com/matthewbaird/desk/internal/ui"
)

// Session holds per-user client state shared by every form and list.
type Session struct {
	ID        string
	User      string
	Roles     []string
	CreatedAt time.Time

	RPC     rpc.Caller
	Queue   script.Drainer
	Locals  *locals.Store
	Meta    *meta.Cache
	Scripts *script.Registry
	UI      ui.Presenter
	Prefs   prefs.Store
	Bus     *eventbus.Bus

	// Now is the clock used for staleness checks.
	Now func() time.Time

	mu           sync.Mutex
	guardOwner   string
	lastActiveAt time.Time
}

// New creates a session. If caller also drains a network queue (as
// *rpc.Client does) it becomes the script manager's queue.
func New(caller rpc.Caller, user string, roles []string, presenter ui.Presenter) *Session {
	now := time.Now()
	s := &Session{
		ID:           uuid.New().String(),
		User:         user,
		Roles:        roles,
		CreatedAt:    now,
		RPC:          caller,
		Locals:       locals.New(),
		Meta:         meta.NewCache(caller),
		Scripts:      script.NewRegistry(),
		UI:           presenter,
		Prefs:        prefs.NewMemory(),
		Bus:          eventbus.New(256),
		Now:          time.Now,
		lastActiveAt: now,
	}
	if d, ok := caller.(script.Drainer); ok {
		s.Queue = d
	}
	if s.UI == nil {
		s.UI = &ui.Log{}
	}
	return s
}

// Touch updates the last activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActiveAt = s.Now()
	s.mu.Unlock()
}

// IsIdle reports whether the session has been idle longer than timeout.
func (s *Session) IsIdle(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Now().Sub(s.lastActiveAt) > timeout
}

// HasRole reports whether the user holds role.
func (s *Session) HasRole(role string) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// InstallUnloadGuard installs the single "leave with unsaved changes?"
// guard on behalf of owner. It reports whether the guard was newly
// installed; an installed guard is never duplicated.
func (s *Session) InstallUnloadGuard(owner string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.guardOwner != "" {
		return false
	}
	s.guardOwner = owner
	glog.V(2).Infof("session %s: unload guard installed by %s", s.ID, owner)
	return true
}

// RemoveUnloadGuard gives up the guard if owner holds it. When another
// form still holds unsaved edits the guard passes to that form instead of
// being removed.
func (s *Session) RemoveUnloadGuard(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.guardOwner != owner {
		return
	}
	s.guardOwner = ""
	for _, o := range s.Locals.DirtyOwners() {
		if o != owner {
			s.guardOwner = o
			glog.V(2).Infof("session %s: unload guard passed from %s to %s", s.ID, owner, o)
			return
		}
	}
	glog.V(2).Infof("session %s: unload guard removed by %s", s.ID, owner)
}

// UnloadGuard returns who holds the guard, "" when none is installed.
func (s *Session) UnloadGuard() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guardOwner
}

// CanLeave reports whether leaving needs no confirmation.
func (s *Session) CanLeave() bool { return s.UnloadGuard() == "" }
