// Package session holds the per-file metadata of everything the user has
// imported or captured during one run.
package session

import (
	"path/filepath"
	"strings"

	"media-annotator/internal/domain"
)

// Store maps identities to entries and keeps the display order.
//
// Store does no locking. It is owned by the interactive loop, which is the
// only goroutine allowed to call it.
type Store struct {
	entries map[string]*domain.MediaEntry
	names   map[string]string
	order   []string
	nextSeq int64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]*domain.MediaEntry),
		names:   make(map[string]string),
	}
}

// Insert adds entry at the front or back of the display order and assigns its
// sequence id. Entries whose identity or base filename is already present are
// ignored and reported with ok=false.
func (s *Store) Insert(entry domain.MediaEntry, front bool) (domain.MediaEntry, bool) {
	if entry.Identity == "" {
		return domain.MediaEntry{}, false
	}
	if _, exists := s.entries[entry.Identity]; exists {
		return domain.MediaEntry{}, false
	}
	name := filepath.Base(entry.Identity)
	if _, exists := s.names[name]; exists {
		return domain.MediaEntry{}, false
	}

	s.nextSeq++
	entry.SequenceID = s.nextSeq
	if entry.SaveStatus == "" {
		entry.SaveStatus = domain.SaveStatusUnsaved
	}
	stored := entry
	s.entries[entry.Identity] = &stored
	s.names[name] = entry.Identity

	if front {
		s.order = append([]string{entry.Identity}, s.order...)
	} else {
		s.order = append(s.order, entry.Identity)
	}
	return stored, true
}

// HasName reports whether an entry with the same base filename exists.
func (s *Store) HasName(path string) bool {
	_, ok := s.names[filepath.Base(path)]
	return ok
}

// Get returns a copy of the entry for identity.
func (s *Store) Get(identity string) (domain.MediaEntry, bool) {
	e, ok := s.entries[identity]
	if !ok {
		return domain.MediaEntry{}, false
	}
	return *e, true
}

// SetDetections replaces the detections of an entry.
func (s *Store) SetDetections(identity string, detections []domain.Detection) bool {
	e, ok := s.entries[identity]
	if !ok {
		return false
	}
	e.Detections = append([]domain.Detection(nil), detections...)
	return true
}

// MarkSaved flags an entry as exported.
func (s *Store) MarkSaved(identity string) bool {
	e, ok := s.entries[identity]
	if !ok {
		return false
	}
	e.SaveStatus = domain.SaveStatusSaved
	return true
}

// Len returns the number of entries.
func (s *Store) Len() int {
	return len(s.order)
}

// At returns the entry at display position i.
func (s *Store) At(i int) (domain.MediaEntry, bool) {
	if i < 0 || i >= len(s.order) {
		return domain.MediaEntry{}, false
	}
	return s.Get(s.order[i])
}

// Index returns the display position of identity or -1.
func (s *Store) Index(identity string) int {
	for i, id := range s.order {
		if id == identity {
			return i
		}
	}
	return -1
}

// List returns all entries in display order.
func (s *Store) List() []domain.MediaEntry {
	out := make([]domain.MediaEntry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.entries[id])
	}
	return out
}

// MinFilterLength is the shortest query Filter narrows on. Shorter queries
// list everything so typing the first letters does not flicker the list.
const MinFilterLength = 3

// Filter returns entries whose base filename contains query, ignoring case.
func (s *Store) Filter(query string) []domain.MediaEntry {
	q := strings.ToLower(strings.TrimSpace(query))
	if len([]rune(q)) < MinFilterLength {
		return s.List()
	}

	out := make([]domain.MediaEntry, 0)
	for _, id := range s.order {
		if strings.Contains(strings.ToLower(filepath.Base(id)), q) {
			out = append(out, *s.entries[id])
		}
	}
	return out
}

// Clear removes every entry and the display order together. Sequence ids
// keep counting so they are never reused.
func (s *Store) Clear() {
	s.entries = make(map[string]*domain.MediaEntry)
	s.names = make(map[string]string)
	s.order = nil
}
