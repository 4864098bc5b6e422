// Package poller runs a fixed-interval, non-overlapping refresh loop
// tied to the lifetime of one view. Each tick runs to completion before
// the next interval timer is armed; a slow tick delays the next one, it
// is never skipped or queued. Stopping cancels the loop context so an
// in-flight tick can abandon its result.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lodgeline/lodgeline/internal/logging"
)

// TickFunc performs one full refresh cycle. It should honor ctx and
// return promptly once the context is canceled.
type TickFunc func(ctx context.Context) error

// Poller drives one view's refresh loop. Independent views get
// independent Poller instances with independent intervals.
type Poller struct {
	name     string
	interval time.Duration
	tick     TickFunc
	log      zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a poller; it does not start ticking until Start.
func New(name string, interval time.Duration, tick TickFunc) *Poller {
	return &Poller{
		name:     name,
		interval: interval,
		tick:     tick,
		log:      logging.Component("poller").With().Str("view", name).Logger(),
	}
}

// Start launches the loop. The first tick runs immediately. Starting a
// running poller is a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
}

// Stop cancels the loop and waits for it to exit. After Stop returns no
// further tick will run; a tick already in flight sees its context
// canceled. Stop is idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := p.tick(ctx); err != nil && ctx.Err() == nil {
			// The previous valid state stays visible; next tick retries.
			p.log.Warn().Err(err).Msg("poll tick failed")
		}

		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
