// Package verify decides whether a loaded collector can be trusted with
// page-view tracking.
package verify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wondertwin-ai/gtagkit/pkg/gtag/taxonomy"
	"github.com/wondertwin-ai/gtagkit/pkg/gtag/transport"
)

// Target is the transport surface the gate inspects.
type Target interface {
	Installed() bool
	DataLayer() *transport.DataLayer
	Probe(ctx context.Context, kind transport.Kind, target string, payload map[string]any) error
}

// Gate turns "script loaded" into "tracking is trustworthy".
type Gate struct {
	target Target
	logger *slog.Logger
}

// New creates a Gate over target.
func New(target Target, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{target: target, logger: logger.With("component", "verify")}
}

// SelfTestEvent is the synthetic event written during verification.
func SelfTestEvent() taxonomy.Event {
	return taxonomy.Event{
		Action:         taxonomy.ActionVerification,
		Category:       taxonomy.CategorySystem,
		Label:          "GA4 Setup Verification",
		NonInteraction: true,
	}
}

// Verify checks the send primitive, the data layer and one synthetic write.
// It never panics and never returns an error; a failed check is false. It
// does not retry.
func (g *Gate) Verify(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("verification failed", "err", fmt.Errorf("panic: %v", r))
			ok = false
		}
	}()

	if g.target == nil || !g.target.Installed() {
		g.logger.Error("verification failed", "reason", "send primitive not installed")
		return false
	}
	dl := g.target.DataLayer()
	if dl == nil {
		g.logger.Error("verification failed", "reason", "data layer missing")
		return false
	}
	if !dl.Valid() {
		g.logger.Error("verification failed", "reason", "data layer malformed")
		return false
	}

	ev := SelfTestEvent()
	if err := g.target.Probe(ctx, transport.KindEvent, string(ev.Action), taxonomy.Normalize(ev)); err != nil {
		g.logger.Error("verification failed", "reason", "self-test rejected", "err", err)
		return false
	}

	g.logger.Info("verification succeeded")
	return true
}
