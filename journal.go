package photopath

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// MemoryJournal is an in-process Journal, newest entries first.
// It is safe for concurrent use.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryJournal returns an empty journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

// SaveEntry stores a copy of e, replacing an entry with the same ID.
func (j *MemoryJournal) SaveEntry(_ context.Context, e *Entry) error {
	if e == nil || e.ID == "" {
		return fmt.Errorf("save entry: missing id")
	}
	cp := *e
	cp.Tags = slices.Clone(e.Tags)

	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = slices.DeleteFunc(j.entries, func(x Entry) bool { return x.ID == e.ID })
	j.entries = slices.Insert(j.entries, 0, cp)
	return nil
}

// ListEntries returns up to limit entries, newest first. limit <= 0 means all.
func (j *MemoryJournal) ListEntries(_ context.Context, limit int) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	n := len(j.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	return slices.Clone(j.entries[:n]), nil
}

// GetEntry returns ErrNotFound for unknown IDs.
func (j *MemoryJournal) GetEntry(_ context.Context, id string) (*Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	for i := range j.entries {
		if j.entries[i].ID == id {
			e := j.entries[i]
			return &e, nil
		}
	}
	return nil, fmt.Errorf("entry %s: %w", id, ErrNotFound)
}
