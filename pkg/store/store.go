// Package store provides a generic, thread-safe, append-ordered in-memory
// store for twin records, with optional bounded retention.
package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Store holds records of type T keyed by generated ids, in arrival order.
// When a retention limit is set the oldest records are evicted first.
type Store[T any] struct {
	mu      sync.RWMutex
	items   map[string]T
	order   []string
	prefix  string
	limit   int
	evicted int
	counter atomic.Uint64
}

// New creates a Store whose ids start with prefix, e.g. "hit_000001".
func New[T any](prefix string) *Store[T] {
	return &Store[T]{
		items:  make(map[string]T),
		prefix: prefix,
	}
}

// WithLimit caps the number of retained records. Zero means unbounded.
func (s *Store[T]) WithLimit(n int) *Store[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limit = n
	s.trim()
	return s
}

// NextID generates the next sequential id.
func (s *Store[T]) NextID() string {
	n := s.counter.Add(1)
	return fmt.Sprintf("%s_%06d", s.prefix, n)
}

// Append stores item under a fresh id and returns the id.
func (s *Store[T]) Append(item T) string {
	id := s.NextID()
	s.Set(id, item)
	return id
}

// Set stores item under id. Overwriting keeps the original position.
func (s *Store[T]) Set(id string, item T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[id]; !exists {
		s.order = append(s.order, id)
	}
	s.items[id] = item
	s.trim()
}

// trim evicts the oldest records beyond the limit. Callers hold s.mu.
func (s *Store[T]) trim() {
	if s.limit <= 0 || len(s.order) <= s.limit {
		return
	}
	drop := len(s.order) - s.limit
	for _, id := range s.order[:drop] {
		delete(s.items, id)
	}
	s.order = append([]string(nil), s.order[drop:]...)
	s.evicted += drop
}

// Get returns the record stored under id.
func (s *Store[T]) Get(id string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	return item, ok
}

// List returns every record, oldest first.
func (s *Store[T]) List() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	return out
}

// Filter returns the records matching keep, oldest first.
func (s *Store[T]) Filter(keep func(T) bool) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []T
	for _, id := range s.order {
		if item := s.items[id]; keep(item) {
			out = append(out, item)
		}
	}
	return out
}

// Page is one slice of a listing.
type Page[T any] struct {
	Data    []T    `json:"data"`
	HasMore bool   `json:"has_more"`
	Cursor  string `json:"cursor,omitempty"`
	Total   int    `json:"total"`
}

// Paginate returns up to limit records after cursor, the last id of the
// previous page. A limit of zero returns everything after cursor.
func (s *Store[T]) Paginate(cursor string, limit int) Page[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if cursor != "" {
		for i, id := range s.order {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	end := len(s.order)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	page := Page[T]{
		Data:    make([]T, 0, end-start),
		HasMore: end < len(s.order),
		Total:   len(s.order),
	}
	for _, id := range s.order[start:end] {
		page.Data = append(page.Data, s.items[id])
		page.Cursor = id
	}
	return page
}

// Count returns the number of retained records.
func (s *Store[T]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Evicted returns how many records retention has dropped since the last Reset.
func (s *Store[T]) Evicted() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evicted
}

// Reset clears every record and restarts id generation.
func (s *Store[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]T)
	s.order = nil
	s.evicted = 0
	s.counter.Store(0)
}

// Snapshot returns a copy of every record keyed by id.
func (s *Store[T]) Snapshot() map[string]T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]T, len(s.items))
	for k, v := range s.items {
		out[k] = v
	}
	return out
}

// LoadSnapshot replaces the contents with snapshot. Ids sort into arrival
// order because they are zero-padded, and id generation resumes after the
// highest loaded id.
func (s *Store[T]) LoadSnapshot(snapshot map[string]T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]T, len(snapshot))
	s.order = make([]string, 0, len(snapshot))
	for k, v := range snapshot {
		s.items[k] = v
		s.order = append(s.order, k)
	}
	sort.Strings(s.order)
	s.evicted = 0

	var next uint64
	for _, id := range s.order {
		var n uint64
		if _, err := fmt.Sscanf(id, s.prefix+"_%d", &n); err == nil && n > next {
			next = n
		}
	}
	s.counter.Store(next)
	s.trim()
}

func (s *Store[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

func (s *Store[T]) UnmarshalJSON(data []byte) error {
	var snapshot map[string]T
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	s.LoadSnapshot(snapshot)
	return nil
}

// Clock is a wall clock that can be shifted forward, so twins can simulate
// delayed hits without sleeping.
type Clock struct {
	mu     sync.RWMutex
	offset time.Duration
}

func NewClock() *Clock {
	return &Clock{}
}

// Now returns the shifted time.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Now().Add(c.offset)
}

// Advance shifts the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

// Offset returns the current shift.
func (c *Clock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// Reset removes the shift.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = 0
}
