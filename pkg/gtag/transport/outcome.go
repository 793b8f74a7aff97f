package transport

import (
	"context"
	"sync"
)

// Outcome is the completion signal of Initialize. Every caller that asks for
// initialization while it is in flight gets the same Outcome.
type Outcome struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newOutcome() *Outcome {
	return &Outcome{done: make(chan struct{})}
}

// settledOutcome returns an Outcome that is already complete.
func settledOutcome(err error) *Outcome {
	o := newOutcome()
	o.resolve(err)
	return o
}

func (o *Outcome) resolve(err error) {
	o.once.Do(func() {
		o.err = err
		close(o.done)
	})
}

// Done is closed once initialization has succeeded or failed.
func (o *Outcome) Done() <-chan struct{} {
	return o.done
}

// Err returns the initialization error. It is nil while pending and after success.
func (o *Outcome) Err() error {
	select {
	case <-o.done:
		return o.err
	default:
		return nil
	}
}

// Wait blocks until initialization settles or ctx is done. Giving up on the
// wait does not cancel the load.
func (o *Outcome) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return o.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
