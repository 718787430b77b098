package pipeline

import (
	"errors"
	"sync"
	"time"

	"lipstalk/internal/clock"
	"lipstalk/internal/media"
	"lipstalk/internal/services"
)

// State is a pipeline state.
type State string

const (
	StateIdle         State = "idle"
	StateRecording    State = "recording"
	StateNormalizing  State = "normalizing"
	StateTranscribing State = "transcribing"
	StatePersisting   State = "persisting"
	StateDisplayed    State = "displayed"
	StateCancelled    State = "cancelled"
	StateFailed       State = "failed"
)

// Terminal reports whether no further work happens without user input.
func (s State) Terminal() bool {
	switch s {
	case StateDisplayed, StateCancelled, StateFailed:
		return true
	default:
		return false
	}
}

// Busy reports whether an attempt goroutine owns the state.
func (s State) Busy() bool {
	switch s {
	case StateRecording, StateNormalizing, StateTranscribing, StatePersisting:
		return true
	default:
		return false
	}
}

// Source tells where an attempt's clip came from.
type Source string

const (
	SourceRecording Source = "recording"
	SourceClip      Source = "clip"
)

var (
	// ErrAttemptActive is returned when a new attempt is requested while one is busy.
	ErrAttemptActive = errors.New("an attempt is already in progress")
	// ErrInvalidTransition is returned when a command does not apply to the current state.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("orchestrator closed")
)

// Snapshot is an immutable view of the current attempt.
type Snapshot struct {
	ID             string          `json:"id,omitempty"`
	Source         Source          `json:"source,omitempty"`
	State          State           `json:"state"`
	ElapsedSeconds int             `json:"elapsed_seconds"`
	MaxSeconds     int             `json:"max_seconds"`
	Remaining      string          `json:"remaining"`
	Progress       string          `json:"progress"`
	Transcript     string          `json:"transcript,omitempty"`
	TranscriptKey  string          `json:"transcript_key,omitempty"`
	ClipKey        string          `json:"clip_key,omitempty"`
	RetainedClip   string          `json:"retained_clip,omitempty"`
	Reason         services.Reason `json:"reason,omitempty"`
	Error          string          `json:"error,omitempty"`
	Hint           string          `json:"hint,omitempty"`
	CanRetry       bool            `json:"can_retry,omitempty"`
	StartedAt      time.Time       `json:"started_at,omitzero"`
	UpdatedAt      time.Time       `json:"updated_at,omitzero"`
}

// attempt is the mutable record behind a Snapshot. Fields are guarded by
// Orchestrator.mu; the request channels are closed at most once.
type attempt struct {
	id         string
	source     Source
	state      State
	startedAt  time.Time
	updatedAt  time.Time
	maxSeconds int
	elapsed    int

	raw        media.ClipRef
	normalized media.ClipRef

	transcript      string
	transcriptReady bool
	transcriptKey   string
	clipKey         string
	retainedClip    string

	lastErr error
	reason  services.Reason

	stopReq    chan struct{}
	stopOnce   sync.Once
	cancelReq  chan struct{}
	cancelOnce sync.Once
	done       chan struct{}
}

func newAttempt(id string, source Source, now time.Time, maxSeconds int) *attempt {
	return &attempt{
		id:         id,
		source:     source,
		startedAt:  now,
		updatedAt:  now,
		maxSeconds: maxSeconds,
		stopReq:    make(chan struct{}),
		cancelReq:  make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (a *attempt) requestStop() {
	a.stopOnce.Do(func() { close(a.stopReq) })
}

func (a *attempt) requestCancel() {
	a.cancelOnce.Do(func() { close(a.cancelReq) })
}

func (a *attempt) cancelRequested() bool {
	select {
	case <-a.cancelReq:
		return true
	default:
		return false
	}
}

func (a *attempt) snapshot() Snapshot {
	snap := Snapshot{
		ID:             a.id,
		Source:         a.source,
		State:          a.state,
		ElapsedSeconds: a.elapsed,
		MaxSeconds:     a.maxSeconds,
		Remaining:      clock.FormatRemaining(a.elapsed, a.maxSeconds),
		Progress:       clock.FormatElapsed(a.elapsed, a.maxSeconds),
		TranscriptKey:  a.transcriptKey,
		ClipKey:        a.clipKey,
		RetainedClip:   a.retainedClip,
		StartedAt:      a.startedAt,
		UpdatedAt:      a.updatedAt,
	}
	if a.transcriptReady {
		snap.Transcript = a.transcript
	}
	if a.state == StateFailed {
		snap.Reason = a.reason
		snap.Hint = a.reason.Hint()
		if a.lastErr != nil {
			snap.Error = a.lastErr.Error()
		}
		snap.CanRetry = a.reason == services.ReasonPersistFailed && a.transcriptReady
	}
	if a.state == StateCancelled {
		snap.Reason = services.ReasonCancelledByUser
	}
	return snap
}
