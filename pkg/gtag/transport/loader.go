package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// ErrBeaconFull is returned when the beacon's send buffer is saturated.
var ErrBeaconFull = errors.New("transport: beacon buffer full")

// ErrBeaconClosed is returned for commands consumed after Close.
var ErrBeaconClosed = errors.New("transport: beacon closed")

// Hit is the wire form of a command posted to the collect endpoint.
type Hit struct {
	TrackingID string         `json:"tid"`
	ClientID   string         `json:"cid"`
	Kind       Kind           `json:"kind"`
	Target     string         `json:"target"`
	Params     map[string]any `json:"params,omitempty"`
	Timestamp  time.Time      `json:"ts"`
}

// HitBatch is the body of a collect request.
type HitBatch struct {
	Hits []Hit `json:"hits"`
}

// HTTPLoader fetches the collector script over HTTP and installs a beacon
// that posts commands to the collect endpoint. Concurrent loads of the same
// script URL share one fetch.
type HTTPLoader struct {
	Client *http.Client
	// CollectURL overrides the collect endpoint. When empty it is the script
	// origin plus /g/collect.
	CollectURL string
	// ClientID identifies this process to the collector. When empty a random
	// id is generated per loaded beacon.
	ClientID   string
	BufferSize int
	BatchSize  int
	Logger     *slog.Logger

	group singleflight.Group
}

func (l *HTTPLoader) client() *http.Client {
	if l.Client != nil {
		return l.Client
	}
	return http.DefaultClient
}

func (l *HTTPLoader) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// Load fetches src and returns a beacon collector bound to its tracking id.
func (l *HTTPLoader) Load(ctx context.Context, src string) (Collector, error) {
	u, err := url.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parsing script url: %w", err)
	}

	_, err, shared := l.group.Do(src, func() (any, error) {
		return nil, l.fetch(ctx, src)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		l.logger().Debug("collector script fetch shared", "src", src)
	}

	collect := l.CollectURL
	if collect == "" {
		collect = (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/g/collect"}).String()
	}
	cid := l.ClientID
	if cid == "" {
		cid = uuid.NewString()
	}
	return newBeacon(beaconConfig{
		client:     l.client(),
		url:        collect,
		trackingID: u.Query().Get("id"),
		clientID:   cid,
		bufferSize: l.BufferSize,
		batchSize:  l.BatchSize,
		logger:     l.logger(),
	}), nil
}

func (l *HTTPLoader) fetch(ctx context.Context, src string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return fmt.Errorf("creating script request: %w", err)
	}
	resp, err := l.client().Do(req)
	if err != nil {
		return fmt.Errorf("fetching script: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("fetching script: status %d", resp.StatusCode)
	}
	return nil
}

type beaconConfig struct {
	client     *http.Client
	url        string
	trackingID string
	clientID   string
	bufferSize int
	batchSize  int
	logger     *slog.Logger
}

// beacon posts commands to the collect endpoint from a single worker so the
// send primitive never blocks on the network.
type beacon struct {
	cfg  beaconConfig
	hits chan Hit
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

func newBeacon(cfg beaconConfig) *beacon {
	if cfg.bufferSize <= 0 {
		cfg.bufferSize = 256
	}
	if cfg.batchSize <= 0 {
		cfg.batchSize = 20
	}
	b := &beacon{
		cfg:  cfg,
		hits: make(chan Hit, cfg.bufferSize),
		done: make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *beacon) Consume(ctx context.Context, cmd Command) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBeaconClosed
	}
	hit := Hit{
		TrackingID: b.cfg.trackingID,
		ClientID:   b.cfg.clientID,
		Kind:       cmd.Kind,
		Target:     cmd.Target,
		Params:     cmd.Payload,
		Timestamp:  cmd.At,
	}
	select {
	case b.hits <- hit:
		return nil
	default:
		return ErrBeaconFull
	}
}

func (b *beacon) run() {
	defer close(b.done)
	for hit := range b.hits {
		batch := []Hit{hit}
	fill:
		for len(batch) < b.cfg.batchSize {
			select {
			case next, ok := <-b.hits:
				if !ok {
					break fill
				}
				batch = append(batch, next)
			default:
				break fill
			}
		}
		if err := b.post(batch); err != nil {
			b.cfg.logger.Warn("beacon delivery failed", "hits", len(batch), "err", err)
		}
	}
}

func (b *beacon) post(batch []Hit) error {
	body, err := json.Marshal(HitBatch{Hits: batch})
	if err != nil {
		return fmt.Errorf("marshaling hits: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.cfg.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("collect returned status %d", resp.StatusCode)
	}
	return nil
}

// Close stops accepting commands and waits for queued hits to be posted.
func (b *beacon) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.hits)
	}
	b.mu.Unlock()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
