// Package debugview streams received hits to websocket subscribers, like the
// collector's DebugView.
package debugview

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wondertwin-ai/gtagkit/internal/collector/store"
)

// ErrTooManySubscribers is returned when the subscriber limit is reached.
var ErrTooManySubscribers = errors.New("debugview: too many subscribers")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Message is one frame sent to subscribers.
type Message struct {
	Type string    `json:"type"`
	Hit  store.Hit `json:"hit"`
}

type subscriber struct {
	conn   *websocket.Conn
	send   chan []byte
	filter store.HitFilter
}

func (s *subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Hub fans hits out to subscribers. Slow subscribers are disconnected rather
// than allowed to block ingestion.
type Hub struct {
	logger   *slog.Logger
	max      int
	upgrader websocket.Upgrader

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewHub creates a hub accepting at most max subscribers (0 for no limit).
func NewHub(max int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger.With("component", "debugview"),
		max:    max,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		subs: make(map[*subscriber]struct{}),
	}
}

func (h *Hub) add(conn *websocket.Conn, filter store.HitFilter) (*subscriber, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.max > 0 && len(h.subs) >= h.max {
		return nil, ErrTooManySubscribers
	}
	s := &subscriber{conn: conn, send: make(chan []byte, 64), filter: filter}
	h.subs[s] = struct{}{}
	go s.writePump()
	return s, nil
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.send)
	}
}

// Publish sends hit to every subscriber whose filter matches.
func (h *Hub) Publish(hit store.Hit) {
	data, err := json.Marshal(Message{Type: "hit", Hit: hit})
	if err != nil {
		h.logger.Error("marshal hit", "id", hit.ID, "err", err)
		return
	}

	h.mu.RLock()
	var slow []*subscriber
	for s := range h.subs {
		if !s.filter.Match(hit) {
			continue
		}
		select {
		case s.send <- data:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		h.logger.Warn("subscriber too slow, disconnecting")
		h.remove(s)
	}
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request and streams matching hits until the client
// goes away. Query parameters kind, target and tid narrow the stream.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.HitFilter{Kind: q.Get("kind"), Target: q.Get("target"), TrackingID: q.Get("tid")}

	h.mu.RLock()
	full := h.max > 0 && len(h.subs) >= h.max
	h.mu.RUnlock()
	if full {
		http.Error(w, ErrTooManySubscribers.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	s, err := h.add(conn, filter)
	if err != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
		conn.Close()
		return
	}
	h.logger.Debug("subscriber connected", "remote", r.RemoteAddr)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer func() {
			h.remove(s)
			h.logger.Debug("subscriber disconnected", "remote", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
