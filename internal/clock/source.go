// Package clock provides the recording countdown and the time sources it
// runs on.
//
// Timer is scoped to one recording attempt: it is started when capture
// begins and must be stopped on every exit path. Manual lets tests drive
// ticks one at a time.
package clock

import (
	"sync"
	"time"
)

// Ticker delivers ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Source supplies the current time and tickers.
type Source interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

type realSource struct{}

// Real returns a Source backed by the system clock.
func Real() Source { return realSource{} }

func (realSource) Now() time.Time { return time.Now() }

func (realSource) NewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// Manual is a Source whose tickers only fire when Tick is called.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	tickers map[*manualTicker]struct{}
	changed chan struct{}
}

// NewManual returns a manual source starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{
		now:     start,
		tickers: make(map[*manualTicker]struct{}),
		changed: make(chan struct{}),
	}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) NewTicker(d time.Duration) Ticker {
	t := &manualTicker{owner: m, interval: d, c: make(chan time.Time), stop: make(chan struct{})}
	m.mu.Lock()
	m.tickers[t] = struct{}{}
	m.notifyLocked()
	m.mu.Unlock()
	return t
}

// Tick advances the clock by one interval of each active ticker and delivers
// the tick, blocking until every ticker has received it or been stopped. It
// returns how many tickers received the tick.
func (m *Manual) Tick() int {
	m.mu.Lock()
	active := make([]*manualTicker, 0, len(m.tickers))
	for t := range m.tickers {
		active = append(active, t)
	}
	step := time.Second
	if len(active) > 0 {
		step = active[0].interval
	}
	m.now = m.now.Add(step)
	now := m.now
	m.mu.Unlock()

	delivered := 0
	for _, t := range active {
		select {
		case t.c <- now:
			delivered++
		case <-t.stop:
		}
	}
	return delivered
}

// Active returns the number of running tickers.
func (m *Manual) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tickers)
}

// WaitActive blocks until at least n tickers are running or timeout
// elapses, and reports whether the condition was met.
func (m *Manual) WaitActive(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		m.mu.Lock()
		count := len(m.tickers)
		changed := m.changed
		m.mu.Unlock()
		if count >= n {
			return true
		}
		select {
		case <-changed:
		case <-deadline.C:
			return false
		}
	}
}

func (m *Manual) remove(t *manualTicker) {
	m.mu.Lock()
	delete(m.tickers, t)
	m.notifyLocked()
	m.mu.Unlock()
}

func (m *Manual) notifyLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

type manualTicker struct {
	owner    *Manual
	interval time.Duration
	c        chan time.Time
	stop     chan struct{}
	once     sync.Once
}

func (t *manualTicker) C() <-chan time.Time { return t.c }

func (t *manualTicker) Stop() {
	t.once.Do(func() {
		close(t.stop)
		t.owner.remove(t)
	})
}
