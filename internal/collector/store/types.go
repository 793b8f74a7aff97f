// Package store holds the collector twin's state: received hits and script
// loads.
package store

import "time"

// Hit is one command the collector received.
type Hit struct {
	ID         string         `json:"id"`
	TrackingID string         `json:"tid"`
	ClientID   string         `json:"cid"`
	Kind       string         `json:"kind"`
	Target     string         `json:"target"`
	Params     map[string]any `json:"params,omitempty"`
	Timestamp  time.Time      `json:"ts"`
	ReceivedAt time.Time      `json:"received_at"`
}

// PageView reports whether the hit is a page view, i.e. a config command
// carrying a page path.
func (h Hit) PageView() bool {
	if h.Kind != "config" {
		return false
	}
	_, ok := h.Params["page_path"]
	return ok
}

// ScriptLoad is one fetch of the collector script.
type ScriptLoad struct {
	ID         string    `json:"id"`
	TrackingID string    `json:"tid"`
	UserAgent  string    `json:"user_agent,omitempty"`
	At         time.Time `json:"at"`
}

// HitFilter selects hits. Empty fields match anything.
type HitFilter struct {
	Kind       string
	Target     string
	TrackingID string
	ClientID   string
}

// Match reports whether h passes the filter.
func (f HitFilter) Match(h Hit) bool {
	return (f.Kind == "" || f.Kind == h.Kind) &&
		(f.Target == "" || f.Target == h.Target) &&
		(f.TrackingID == "" || f.TrackingID == h.TrackingID) &&
		(f.ClientID == "" || f.ClientID == h.ClientID)
}

// Summary aggregates the hits currently held.
type Summary struct {
	Hits        int            `json:"hits"`
	PageViews   int            `json:"page_views"`
	ScriptLoads int            `json:"script_loads"`
	Evicted     int            `json:"evicted"`
	ByKind      map[string]int `json:"by_kind"`
	Events      map[string]int `json:"events"`
}
