// Package consent applies the one-time configuration baseline and carries
// runtime consent changes to the collector.
package consent

import (
	"sync"
	"time"

	"github.com/wondertwin-ai/gtagkit/pkg/gtag/transport"
)

// Sender is the send primitive consent changes are written through.
type Sender interface {
	Send(kind transport.Kind, target string, payload map[string]any)
}

// Consent signal values.
const (
	Granted = "granted"
	Denied  = "denied"
)

// State is the consent choice recorded for the session.
type State struct {
	AnalyticsGranted bool `json:"analytics_granted"`
	AdStorageGranted bool `json:"ad_storage_granted"`
}

// DefaultCookieExpires is the cookie lifetime applied by the baseline.
const DefaultCookieExpires = 28 * 24 * time.Hour

// Baseline holds the settings sent once when the collector becomes ready.
type Baseline struct {
	DebugMode     bool
	CookieDomain  string
	CookieFlags   string
	CookieExpires time.Duration
}

// DefaultBaseline returns the production cookie policy.
func DefaultBaseline() Baseline {
	return Baseline{
		CookieDomain:  "auto",
		CookieFlags:   "SameSite=None;Secure",
		CookieExpires: DefaultCookieExpires,
	}
}

// Manager owns the session's consent state. It lives for the whole session.
type Manager struct {
	sender     Sender
	trackingID string
	baseline   Baseline

	once    sync.Once
	mu      sync.RWMutex
	state   State
	applied bool
}

// New creates a Manager with the default-granted consent baseline.
func New(sender Sender, trackingID string, baseline Baseline) *Manager {
	if baseline.CookieExpires <= 0 {
		baseline.CookieExpires = DefaultCookieExpires
	}
	return &Manager{
		sender:     sender,
		trackingID: trackingID,
		baseline:   baseline,
		state:      State{AnalyticsGranted: true, AdStorageGranted: true},
	}
}

// ApplyBaseline sends the configuration baseline followed by the default
// consent grant. Only the first call has any effect.
//
// Automatic page views are disabled here: page views are sent by the
// lifecycle controller only after verification, and an automatic one would
// race ahead of it.
func (m *Manager) ApplyBaseline() {
	m.ApplyBaselineWith(m.sender)
}

// ApplyBaselineWith is ApplyBaseline sending through s. The transport uses
// it to place the baseline ahead of commands buffered before it was ready.
// A consent choice already recorded is kept: the default grant goes on the
// wire first and the recorded update follows it.
func (m *Manager) ApplyBaselineWith(s Sender) {
	m.once.Do(func() {
		s.Send(transport.KindConfig, m.trackingID, map[string]any{
			"send_page_view": false,
			"debug_mode":     m.baseline.DebugMode,
			"cookie_flags":   m.baseline.CookieFlags,
			"cookie_domain":  m.baseline.CookieDomain,
			"cookie_expires": int64(m.baseline.CookieExpires / time.Second),
		})
		s.Send(transport.KindConsent, "default", map[string]any{
			"analytics_storage": Granted,
			"ad_storage":        Granted,
		})

		m.mu.Lock()
		m.applied = true
		m.mu.Unlock()
	})
}

// UpdateConsent records the user's analytics consent choice. Ad storage
// consent is left as it was.
func (m *Manager) UpdateConsent(granted bool) {
	m.mu.Lock()
	m.state.AnalyticsGranted = granted
	m.mu.Unlock()

	m.sender.Send(transport.KindConsent, "update", map[string]any{
		"analytics_storage": signal(granted),
	})
}

// SetUserProperties attaches properties to the current user. Calls made
// before the collector is ready wait in the data layer.
func (m *Manager) SetUserProperties(props map[string]any) {
	m.sender.Send(transport.KindSet, "user_properties", props)
}

// State returns the current consent state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// BaselineApplied reports whether ApplyBaseline has run.
func (m *Manager) BaselineApplied() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.applied
}

func signal(granted bool) string {
	if granted {
		return Granted
	}
	return Denied
}
