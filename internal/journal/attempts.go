package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"lipstalk/internal/services"
)

// busyStates are attempt states that cannot survive a process exit.
var busyStates = []string{"recording", "normalizing", "transcribing", "persisting"}

// interruptedState is recorded for attempts found busy by ResetInterrupted.
const interruptedState = "failed"

// Entry is one attempt row.
type Entry struct {
	ID             string
	Source         string
	State          string
	Reason         string
	Error          string
	ClipKey        string
	TranscriptKey  string
	RetainedClip   string
	ElapsedSeconds int
	MaxSeconds     int
	StartedAt      time.Time
	UpdatedAt      time.Time
	FinishedAt     time.Time
}

// Transition is one recorded state change.
type Transition struct {
	State string
	At    time.Time
}

const entryColumns = `id, source, state, reason, error_message, clip_key, transcript_key,
	retained_clip, elapsed_seconds, max_seconds, started_at, updated_at, finished_at`

// Record upserts e and appends a transition row when its state changed.
func (s *Store) Record(ctx context.Context, e Entry) error {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("journal entry requires an id")
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = e.UpdatedAt
	}

	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var previous string
		err = tx.QueryRowContext(ctx, `SELECT state FROM attempts WHERE id = ?`, e.ID).Scan(&previous)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO attempts (`+entryColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				state = excluded.state,
				reason = excluded.reason,
				error_message = excluded.error_message,
				clip_key = excluded.clip_key,
				transcript_key = excluded.transcript_key,
				retained_clip = excluded.retained_clip,
				elapsed_seconds = excluded.elapsed_seconds,
				max_seconds = excluded.max_seconds,
				updated_at = excluded.updated_at,
				finished_at = excluded.finished_at`,
			e.ID,
			e.Source,
			e.State,
			e.Reason,
			e.Error,
			e.ClipKey,
			e.TranscriptKey,
			e.RetainedClip,
			e.ElapsedSeconds,
			e.MaxSeconds,
			formatTime(e.StartedAt),
			formatTime(e.UpdatedAt),
			nullableTime(e.FinishedAt),
		)
		if err != nil {
			return err
		}

		if previous != e.State {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO transitions (attempt_id, state, at) VALUES (?, ?, ?)`,
				e.ID, e.State, formatTime(e.UpdatedAt),
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// Get returns an attempt by id.
func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+entryColumns+` FROM attempts WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, services.Wrap(services.ErrNotFound, "journal", "get", fmt.Sprintf("attempt %s", id), nil)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("journal get: %w", err)
	}
	return entry, nil
}

// List returns the most recent attempts first. limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM attempts ORDER BY started_at DESC, id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal list: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("journal list: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Transitions returns the recorded state changes of an attempt in order.
func (s *Store) Transitions(ctx context.Context, id string) ([]Transition, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT state, at FROM transitions WHERE attempt_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("journal transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var (
			state string
			at    string
		)
		if err := rows.Scan(&state, &at); err != nil {
			return nil, err
		}
		ts, _ := parseTimeString(at)
		out = append(out, Transition{State: state, At: ts})
	}
	return out, rows.Err()
}

// ResetInterrupted marks attempts left in a busy state by a previous process
// as failed and returns how many were updated.
func (s *Store) ResetInterrupted(ctx context.Context) (int64, error) {
	now := formatTime(time.Now())
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(busyStates)), ", ")
	args := []any{interruptedState, string(services.ReasonUnknown), now, now}
	for _, state := range busyStates {
		args = append(args, state)
	}
	res, err := s.execWithRetry(ctx, `UPDATE attempts
		SET state = ?, reason = ?, error_message = 'interrupted: process exited during ' || state,
			updated_at = ?, finished_at = ?
		WHERE state IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("journal reset interrupted: %w", err)
	}
	return res.RowsAffected()
}

// Prune deletes attempts started before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM attempts WHERE started_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("journal prune: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of attempts grouped by final state.
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT state, COUNT(1) FROM attempts GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("journal stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats[state] = count
	}
	return stats, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e        Entry
		started  string
		updated  string
		finished sql.NullString
	)
	if err := row.Scan(
		&e.ID,
		&e.Source,
		&e.State,
		&e.Reason,
		&e.Error,
		&e.ClipKey,
		&e.TranscriptKey,
		&e.RetainedClip,
		&e.ElapsedSeconds,
		&e.MaxSeconds,
		&started,
		&updated,
		&finished,
	); err != nil {
		return Entry{}, err
	}
	e.StartedAt, _ = parseTimeString(started)
	e.UpdatedAt, _ = parseTimeString(updated)
	if finished.Valid {
		e.FinishedAt, _ = parseTimeString(finished.String)
	}
	return e, nil
}

// timeLayout keeps a fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
