package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"lipstalk/internal/journal"
	"lipstalk/internal/logging"
)

// Journal stores attempt history.
type Journal interface {
	Record(ctx context.Context, entry journal.Entry) error
}

// JournalObserver returns an Observer that records every state change of
// an attempt. Elapsed-only updates during recording are skipped. Journal
// failures are logged and never affect the attempt.
func JournalObserver(j Journal, logger *slog.Logger) Observer {
	logger = logging.NewComponentLogger(logger, "journal")
	var (
		mu   sync.Mutex
		last = map[string]State{}
	)
	return func(s Snapshot) {
		if s.ID == "" {
			return
		}
		mu.Lock()
		if last[s.ID] == s.State {
			mu.Unlock()
			return
		}
		if s.State.Terminal() {
			delete(last, s.ID)
		} else {
			last[s.ID] = s.State
		}
		mu.Unlock()

		if err := j.Record(context.Background(), EntryFromSnapshot(s)); err != nil {
			logging.WarnWithContext(logger, "attempt journal write failed", "journal_write_failed",
				logging.String(logging.FieldAttemptID, s.ID),
				logging.String(logging.FieldState, string(s.State)),
				logging.Error(err),
				logging.String(logging.FieldImpact, "attempt history is incomplete"),
			)
		}
	}
}

// EntryFromSnapshot converts a snapshot into a journal row.
func EntryFromSnapshot(s Snapshot) journal.Entry {
	entry := journal.Entry{
		ID:             s.ID,
		Source:         string(s.Source),
		State:          string(s.State),
		Reason:         string(s.Reason),
		Error:          s.Error,
		ClipKey:        s.ClipKey,
		TranscriptKey:  s.TranscriptKey,
		RetainedClip:   s.RetainedClip,
		ElapsedSeconds: s.ElapsedSeconds,
		MaxSeconds:     s.MaxSeconds,
		StartedAt:      s.StartedAt,
		UpdatedAt:      s.UpdatedAt,
	}
	if s.State.Terminal() {
		entry.FinishedAt = s.UpdatedAt
	}
	return entry
}
