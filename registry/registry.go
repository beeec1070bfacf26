// Package registry holds the run-wide set of participant records, one per
// audience display slot.
package registry

import (
	"errors"
	"iter"
	"rtc-soak/session"
	"slices"
	"sync"
)

var ErrSlotExists = errors.New("slot already registered")

type Registry struct {
	mu      sync.RWMutex
	records map[int]*Record
}

func New() *Registry {
	return &Registry{records: make(map[int]*Record)}
}

// Create registers a disconnected, unsubscribed record for slot.
func (r *Registry) Create(slot int, desired session.Identity, sess session.Session) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[slot]; exists {
		return nil, ErrSlotExists
	}
	rec := newRecord(slot, desired, sess)
	r.records[slot] = rec
	return rec, nil
}

func (r *Registry) Find(slot int) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[slot]
	return rec, ok
}

// All yields every record ordered by slot. Each range takes a fresh snapshot,
// so the sequence can be ranged over again after records were added.
func (r *Registry) All() iter.Seq[*Record] {
	return func(yield func(*Record) bool) {
		r.mu.RLock()
		records := make([]*Record, 0, len(r.records))
		for _, rec := range r.records {
			records = append(records, rec)
		}
		r.mu.RUnlock()

		slices.SortFunc(records, func(a, b *Record) int { return a.Slot - b.Slot })
		for _, rec := range records {
			if !yield(rec) {
				return
			}
		}
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Clear drops every record. Callers drive records to disconnected first.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.records)
}
