package transport

import (
	"slices"
	"sync"
	"time"
)

// Kind is the first argument of a gtag call.
type Kind string

const (
	KindConfig  Kind = "config"
	KindEvent   Kind = "event"
	KindConsent Kind = "consent"
	KindSet     Kind = "set"
	KindJS      Kind = "js"
)

// Command is one gtag call as it sits in the data layer.
type Command struct {
	Kind    Kind           `json:"kind"`
	Target  string         `json:"target"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`

	seq uint64
}

// DefaultHistory is how many delivered commands a DataLayer keeps for inspection.
const DefaultHistory = 1000

// DataLayer is the ordered command queue shared by every caller of a Transport.
// Commands are appended by Push and consumed in order by the installed
// collector. Delivered commands are kept up to the history limit so the layer
// can be inspected the way a browser's dataLayer array can.
type DataLayer struct {
	mu        sync.Mutex
	entries   []Command
	delivered int // entries[:delivered] have been handed to the collector
	history   int
	seq       uint64
}

// NewDataLayer creates an empty data layer. A history of zero or less uses
// DefaultHistory.
func NewDataLayer(history int) *DataLayer {
	if history <= 0 {
		history = DefaultHistory
	}
	return &DataLayer{
		entries: make([]Command, 0, 64),
		history: history,
	}
}

// Push appends a command and returns its sequence number.
func (d *DataLayer) Push(cmd Command) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	cmd.seq = d.seq
	d.entries = append(d.entries, cmd)
	return d.seq
}

// prepend inserts cmds, in order, ahead of every pending command.
func (d *DataLayer) prepend(cmds []Command) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range cmds {
		d.seq++
		cmds[i].seq = d.seq
	}
	d.entries = slices.Insert(d.entries, d.delivered, cmds...)
}

// Valid reports whether the delivery cursor lies within the held commands
// and no more commands are held than were ever pushed.
func (d *DataLayer) Valid() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.delivered >= 0 && d.delivered <= len(d.entries) && uint64(len(d.entries)) <= d.seq
}

// Pending returns the number of commands not yet delivered.
func (d *DataLayer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries) - d.delivered
}

// Len returns the number of commands currently held, delivered or not.
func (d *DataLayer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Entries returns a copy of every command held, oldest first.
func (d *DataLayer) Entries() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Command, len(d.entries))
	copy(out, d.entries)
	return out
}

// take marks all pending commands delivered and returns them in order, then
// trims delivered history beyond the limit.
func (d *DataLayer) take() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.delivered == len(d.entries) {
		return nil
	}
	out := make([]Command, len(d.entries)-d.delivered)
	copy(out, d.entries[d.delivered:])
	d.delivered = len(d.entries)

	if over := d.delivered - d.history; over > 0 {
		d.entries = append(d.entries[:0:0], d.entries[over:]...)
		d.delivered -= over
	}
	return out
}
