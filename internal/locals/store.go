// Package locals is the in-memory document table keyed by (doctype, name).
// One Store belongs to one session and is passed to every component that
// reads or mutates documents.
package locals

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matthewbaird/desk/internal/meta"
	"github.com/matthewbaird/desk/internal/types"
)

// ErrOpenedElsewhere is returned when a document is already held by another form.
var ErrOpenedElsewhere = errors.New("document is open in another form")

type key struct {
	doctype string
	name    string
}

// Store holds every document loaded or created in a session.
type Store struct {
	mu     sync.RWMutex
	docs   map[key]*types.Document
	opened map[key]string
	now    func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		docs:   make(map[key]*types.Document),
		opened: make(map[key]string),
		now:    time.Now,
	}
}

// Get returns a document or nil.
func (s *Store) Get(doctype, name string) *types.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docs[key{doctype, name}]
}

// Put registers a document and its child rows, replacing any previous entry.
func (s *Store) Put(doc *types.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(doc)
}

func (s *Store) put(doc *types.Document) {
	s.docs[key{doc.Doctype, doc.Name}] = doc
	for _, f := range doc.TableFields() {
		for _, row := range doc.Children(f) {
			s.put(row)
		}
	}
}

// Sync replaces the stored copy with a server version and stamps LastSyncOn.
func (s *Store) Sync(doc *types.Document) {
	doc.LastSyncOn = s.now()
	doc.IsLocal = false
	doc.Unsaved = false
	s.Put(doc)
}

// Remove drops a document and its child rows.
func (s *Store) Remove(doctype, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(key{doctype, name})
}

func (s *Store) remove(k key) {
	doc, ok := s.docs[k]
	if !ok {
		return
	}
	for _, f := range doc.TableFields() {
		for _, row := range doc.Children(f) {
			s.remove(key{row.Doctype, row.Name})
		}
	}
	delete(s.docs, k)
	delete(s.opened, k)
}

// Rename moves a document to its server-assigned name. Child rows are
// re-parented and the opened marker follows the document.
func (s *Store) Rename(doctype, oldName, newName string) (*types.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldKey, newKey := key{doctype, oldName}, key{doctype, newName}
	doc, ok := s.docs[oldKey]
	if !ok {
		return nil, fmt.Errorf("%s %s not in store", doctype, oldName)
	}
	delete(s.docs, oldKey)
	doc.Name = newName
	for _, f := range doc.TableFields() {
		for _, row := range doc.Children(f) {
			row.Parent = newName
		}
	}
	s.docs[newKey] = doc
	if owner, ok := s.opened[oldKey]; ok {
		delete(s.opened, oldKey)
		s.opened[newKey] = owner
	}
	return doc, nil
}

// Docs returns the documents of a doctype sorted by name.
func (s *Store) Docs(doctype string) []*types.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Document
	for k, d := range s.docs {
		if k.doctype == doctype {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Clear drops every document of a doctype.
func (s *Store) Clear(doctype string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.docs {
		if k.doctype == doctype {
			delete(s.docs, k)
			delete(s.opened, k)
		}
	}
}

// Len returns the number of stored documents, child rows included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Open marks a document as held by owner. A different owner holding the
// same document gets ErrOpenedElsewhere.
func (s *Store) Open(doctype, name, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{doctype, name}
	if cur, ok := s.opened[k]; ok && cur != owner {
		return fmt.Errorf("%s %s: %w", doctype, name, ErrOpenedElsewhere)
	}
	s.opened[k] = owner
	return nil
}

// Release clears the opened marker if owner holds it.
func (s *Store) Release(doctype, name, owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{doctype, name}
	if s.opened[k] == owner {
		delete(s.opened, k)
	}
}

// OpenedBy returns the owner holding a document, or "".
func (s *Store) OpenedBy(doctype, name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opened[key{doctype, name}]
}

// DirtyOwners returns, sorted, the owners holding a document with unsaved
// edits.
func (s *Store) DirtyOwners() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for k, owner := range s.opened {
		if d := s.docs[k]; d != nil && d.Unsaved && !seen[owner] {
			seen[owner] = true
			out = append(out, owner)
		}
	}
	sort.Strings(out)
	return out
}

// IsLocalName reports whether name is a client-assigned placeholder.
func IsLocalName(name string) bool {
	return strings.HasPrefix(name, "new-")
}

// LocalName returns a fresh placeholder name for an unsaved document.
func LocalName(doctype string) string {
	slug := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(doctype), " ", "-"))
	return "new-" + slug + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

// NewDoc creates an unsaved document with defaults applied and stores it.
func (s *Store) NewDoc(dt *meta.DocType, user string) *types.Document {
	doc := types.NewDocument(dt.Name, LocalName(dt.Name))
	doc.Owner = user
	doc.IsLocal = true
	doc.Unsaved = true
	s.applyDefaults(doc, dt, user)
	s.Put(doc)
	return doc
}

// NewChild appends an unsaved row to a table field of parent and stores it.
func (s *Store) NewChild(parent *types.Document, field string, childMeta *meta.DocType, user string) *types.Document {
	row := types.NewDocument(childMeta.Name, LocalName(childMeta.Name))
	row.IsLocal = true
	s.applyDefaults(row, childMeta, user)
	parent.AddChild(field, row)
	s.Put(row)
	return row
}

func (s *Store) applyDefaults(doc *types.Document, dt *meta.DocType, user string) {
	for _, f := range dt.Fields {
		if f.IsTable() {
			doc.Values[f.Fieldname] = []*types.Document{}
			continue
		}
		if f.Default == "" || !f.HasValue() {
			continue
		}
		doc.Values[f.Fieldname] = s.defaultValue(f, user)
	}
}

func (s *Store) defaultValue(f meta.DocField, user string) any {
	switch strings.ToLower(f.Default) {
	case "today":
		return s.now().Format("2006-01-02")
	case "now":
		return s.now().Format("2006-01-02 15:04:05")
	case "__user", "user":
		return user
	}
	switch f.Fieldtype {
	case "Check", "Int":
		if n, err := strconv.Atoi(f.Default); err == nil {
			return n
		}
	case "Float", "Currency", "Percent":
		if n, err := strconv.ParseFloat(f.Default, 64); err == nil {
			return n
		}
	}
	return f.Default
}
