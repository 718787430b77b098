package clock

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrTimerRunning is returned when Start is called on a running timer.
var ErrTimerRunning = errors.New("timer already running")

// Event is emitted once per elapsed second.
type Event struct {
	Elapsed   int
	Remaining int
	// Expired is set on the event where Elapsed reaches the ceiling. No
	// further events follow it.
	Expired bool
}

// Timer counts whole seconds up to a ceiling.
type Timer struct {
	source   Source
	interval time.Duration

	mu      sync.Mutex
	elapsed int
	ceiling int
	stop    chan struct{}
	done    chan struct{}
}

// NewTimer returns a stopped timer ticking once per second on source.
func NewTimer(source Source) *Timer {
	if source == nil {
		source = Real()
	}
	return &Timer{source: source, interval: time.Second}
}

// Start begins counting from zero. The returned channel is unbuffered and
// closed when the timer stops or expires.
func (t *Timer) Start(ceiling int) (<-chan Event, error) {
	if ceiling <= 0 {
		return nil, fmt.Errorf("timer ceiling must be positive, got %d", ceiling)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done != nil {
		select {
		case <-t.done:
		default:
			return nil, ErrTimerRunning
		}
	}

	events := make(chan Event)
	stop := make(chan struct{})
	done := make(chan struct{})
	t.elapsed = 0
	t.ceiling = ceiling
	t.stop = stop
	t.done = done

	ticker := t.source.NewTicker(t.interval)
	go t.run(ticker, events, stop, done)
	return events, nil
}

func (t *Timer) run(ticker Ticker, events chan<- Event, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer close(events)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
		}

		t.mu.Lock()
		t.elapsed++
		ev := Event{Elapsed: t.elapsed, Remaining: t.ceiling - t.elapsed, Expired: t.elapsed >= t.ceiling}
		t.mu.Unlock()

		select {
		case events <- ev:
		case <-stop:
			return
		}
		if ev.Expired {
			return
		}
	}
}

// Stop halts emission and waits for the ticking goroutine to exit. It is
// safe to call repeatedly and on a timer that was never started.
func (t *Timer) Stop() {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop = nil
	t.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	if done != nil {
		<-done
	}
}

// Reset returns elapsed to zero without changing whether the timer runs.
func (t *Timer) Reset() {
	t.mu.Lock()
	t.elapsed = 0
	t.mu.Unlock()
}

// Elapsed returns the seconds counted since Start or Reset.
func (t *Timer) Elapsed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsed
}

// Running reports whether the ticking goroutine is alive.
func (t *Timer) Running() bool {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// FormatRemaining renders the seconds left before the ceiling as MM:SS.
func FormatRemaining(elapsed, ceiling int) string {
	return mmss(max(ceiling-elapsed, 0))
}

// FormatElapsed renders progress as "MM:SS / MM:SS", elapsed over ceiling.
// Elapsed is clamped to the ceiling.
func FormatElapsed(elapsed, ceiling int) string {
	ceiling = max(ceiling, 0)
	return mmss(min(max(elapsed, 0), ceiling)) + " / " + mmss(ceiling)
}

func mmss(seconds int) string {
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
