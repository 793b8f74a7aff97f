package store

import (
	"encoding/json"
	"sync"

	pkgstore "github.com/wondertwin-ai/gtagkit/pkg/store"
)

// DefaultRetention is how many hits are kept before the oldest are dropped.
const DefaultRetention = 10000

// MemoryStore holds all collector twin state in memory.
type MemoryStore struct {
	Hits  *pkgstore.Store[Hit]
	Loads *pkgstore.Store[ScriptLoad]
	Clock *pkgstore.Clock

	mu        sync.RWMutex
	listeners []func(Hit)
}

// New creates an empty store keeping at most retention hits.
func New(retention int) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryStore{
		Hits:  pkgstore.New[Hit]("hit").WithLimit(retention),
		Loads: pkgstore.New[ScriptLoad]("load").WithLimit(retention),
		Clock: pkgstore.NewClock(),
	}
}

// OnHit registers fn to be called with every recorded hit.
func (s *MemoryStore) OnHit(fn func(Hit)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// RecordHit stamps h with an id and receive time, stores it and notifies
// listeners.
func (s *MemoryStore) RecordHit(h Hit) Hit {
	h.ID = s.Hits.NextID()
	h.ReceivedAt = s.Clock.Now()
	if h.Timestamp.IsZero() {
		h.Timestamp = h.ReceivedAt
	}
	s.Hits.Set(h.ID, h)

	s.mu.RLock()
	listeners := s.listeners
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(h)
	}
	return h
}

// RecordScriptLoad notes a script fetch for trackingID.
func (s *MemoryStore) RecordScriptLoad(trackingID, userAgent string) ScriptLoad {
	l := ScriptLoad{
		ID:         s.Loads.NextID(),
		TrackingID: trackingID,
		UserAgent:  userAgent,
		At:         s.Clock.Now(),
	}
	s.Loads.Set(l.ID, l)
	return l
}

// QueryHits returns the hits matching f, oldest first.
func (s *MemoryStore) QueryHits(f HitFilter) []Hit {
	return s.Hits.Filter(f.Match)
}

// ScriptLoadCount returns how often the script was fetched for trackingID,
// or in total when trackingID is empty.
func (s *MemoryStore) ScriptLoadCount(trackingID string) int {
	if trackingID == "" {
		return s.Loads.Count()
	}
	return len(s.Loads.Filter(func(l ScriptLoad) bool { return l.TrackingID == trackingID }))
}

// Summarize aggregates the hits for trackingID, or all hits when empty.
func (s *MemoryStore) Summarize(trackingID string) Summary {
	sum := Summary{
		ByKind:      make(map[string]int),
		Events:      make(map[string]int),
		ScriptLoads: s.ScriptLoadCount(trackingID),
		Evicted:     s.Hits.Evicted(),
	}
	for _, h := range s.QueryHits(HitFilter{TrackingID: trackingID}) {
		sum.Hits++
		sum.ByKind[h.Kind]++
		if h.PageView() {
			sum.PageViews++
		}
		if h.Kind == "event" {
			sum.Events[h.Target]++
		}
	}
	return sum
}

type stateSnapshot struct {
	Hits  map[string]Hit        `json:"hits"`
	Loads map[string]ScriptLoad `json:"script_loads"`
}

// Snapshot returns the full state for the admin plane.
func (s *MemoryStore) Snapshot() any {
	return stateSnapshot{
		Hits:  s.Hits.Snapshot(),
		Loads: s.Loads.Snapshot(),
	}
}

// LoadState replaces the full state from JSON.
func (s *MemoryStore) LoadState(data []byte) error {
	var snap stateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	s.Hits.LoadSnapshot(snap.Hits)
	s.Loads.LoadSnapshot(snap.Loads)
	return nil
}

// Reset clears all state. Listeners stay registered.
func (s *MemoryStore) Reset() {
	s.Hits.Reset()
	s.Loads.Reset()
	s.Clock.Reset()
}
