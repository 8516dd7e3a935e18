// Package schedule drives the controller loop. Production uses a wall-clock ticker;
// tests fire ticks by hand.
package schedule

import (
	"sync"
	"time"
)

type Scheduler interface {
	C() <-chan time.Time
	Reset(d time.Duration)
	Stop()
}

type Ticker struct {
	ticker *time.Ticker
}

func NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		d = time.Second
	}
	return &Ticker{ticker: time.NewTicker(d)}
}

func (t *Ticker) C() <-chan time.Time { return t.ticker.C }

func (t *Ticker) Reset(d time.Duration) {
	if d > 0 {
		t.ticker.Reset(d)
	}
}

func (t *Ticker) Stop() { t.ticker.Stop() }

// Manual delivers ticks only when Fire is called.
type Manual struct {
	ch chan time.Time

	mu       sync.Mutex
	interval time.Duration
	resets   []time.Duration
	stopped  bool
}

func NewManual() *Manual {
	return &Manual{ch: make(chan time.Time, 16)}
}

func (m *Manual) C() <-chan time.Time { return m.ch }

func (m *Manual) Fire(t time.Time) {
	m.ch <- t
}

func (m *Manual) Reset(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interval = d
	m.resets = append(m.resets, d)
}

func (m *Manual) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

func (m *Manual) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

func (m *Manual) Resets() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.resets...)
}

func (m *Manual) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}
