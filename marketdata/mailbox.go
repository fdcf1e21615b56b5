// Package marketdata turns exchange price streams into strategy.PriceTick
// values for the engine.
package marketdata

import (
	"sync"
	"sync/atomic"

	"grid_hedge_bot/metrics"
	"grid_hedge_bot/strategy"
)

// Mailbox hands ticks from a feed to the engine. It holds at most one unread
// tick: a newer tick replaces an unread one, so the engine always evaluates
// the latest price once it finishes the action in flight.
type Mailbox struct {
	mu      sync.Mutex
	ch      chan strategy.PriceTick
	closed  bool
	dropped atomic.Uint64
}

func NewMailbox() *Mailbox {
	return &Mailbox{ch: make(chan strategy.PriceTick, 1)}
}

// Put stores tick, replacing any unread tick. It never blocks.
func (m *Mailbox) Put(tick strategy.PriceTick) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.ch <- tick:
		return
	default:
	}
	select {
	case <-m.ch:
		m.dropped.Add(1)
		metrics.TicksCoalesced.Inc()
	default:
	}
	// only Put sends and it holds mu, so the slot is free now
	m.ch <- tick
}

// C is the receive side for the engine. It is closed by Close.
func (m *Mailbox) C() <-chan strategy.PriceTick { return m.ch }

// Close ends the stream. An unread tick can still be received.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.ch)
	}
}

// Dropped is the number of ticks replaced before they were read.
func (m *Mailbox) Dropped() uint64 { return m.dropped.Load() }
