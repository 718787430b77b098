package collection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"lipstalk/internal/datekey"
	"lipstalk/internal/services"
)

const lockRetryDelay = 25 * time.Millisecond

// ErrDuplicateKey is returned when an appended record reuses an existing key.
var ErrDuplicateKey = errors.New("duplicate record key")

// Transcript is one stored transcription.
type Transcript struct {
	ID        string    `json:"id,omitempty"`
	Date      string    `json:"date"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// NewTranscript builds a record for text created at at.
func NewTranscript(text string, at time.Time) Transcript {
	return Transcript{
		ID:        uuid.NewString(),
		Date:      datekey.Transcript(at),
		Text:      text,
		CreatedAt: at.UTC().Truncate(time.Second),
	}
}

// Key identifies the record: its id, or its date for records written before
// ids existed.
func (t Transcript) Key() string {
	if t.ID != "" {
		return t.ID
	}
	return t.Date
}

func (t Transcript) DateKey() string    { return t.Date }
func (t Transcript) SearchText() string { return t.Text }

// TranscriptStore persists transcripts newest-first in one JSON file.
type TranscriptStore struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

// OpenTranscripts prepares a store at path, creating its directory.
func OpenTranscripts(path string) (*TranscriptStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, services.Wrap(services.ErrConfiguration, "collection", "open transcripts", "transcripts file path is empty", nil)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, services.Wrap(services.ErrStorage, "collection", "open transcripts", "create transcripts directory", err)
	}
	return &TranscriptStore{path: path, lock: flock.New(path + ".lock")}, nil
}

// Path returns the backing file.
func (s *TranscriptStore) Path() string {
	return s.path
}

// List returns every transcript, newest first.
func (s *TranscriptStore) List(ctx context.Context) ([]Transcript, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := s.read()
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "collection", "list transcripts", "read transcripts", err)
	}
	return records, nil
}

// Get returns the record with the given key.
func (s *TranscriptStore) Get(ctx context.Context, key string) (Transcript, error) {
	records, err := s.List(ctx)
	if err != nil {
		return Transcript{}, err
	}
	if idx := indexOf(records, key); idx >= 0 {
		return records[idx], nil
	}
	return Transcript{}, services.Wrap(services.ErrNotFound, "collection", "get transcript", fmt.Sprintf("no transcript %q", key), nil)
}

// Append inserts record at the head of the collection. Missing id, date, or
// creation time are filled in. The stored record is returned.
func (s *TranscriptStore) Append(ctx context.Context, record Transcript) (Transcript, error) {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	if record.Date == "" {
		record.Date = datekey.Transcript(record.CreatedAt.Local())
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	err := s.update(ctx, "append transcript", func(records []Transcript) ([]Transcript, error) {
		if indexOf(records, record.ID) >= 0 {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, record.ID)
		}
		return append([]Transcript{record}, records...), nil
	})
	if err != nil {
		return Transcript{}, err
	}
	return record, nil
}

// DeleteByKey removes the record with key if present and reports whether
// anything was removed.
func (s *TranscriptStore) DeleteByKey(ctx context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, nil
	}
	removed := false
	err := s.update(ctx, "delete transcript", func(records []Transcript) ([]Transcript, error) {
		idx := indexOf(records, key)
		if idx < 0 {
			return nil, nil
		}
		removed = true
		return append(records[:idx:idx], records[idx+1:]...), nil
	})
	return removed, err
}

// update runs one serialized read-modify-write cycle. A nil result from fn
// means nothing changed and skips the write.
func (s *TranscriptStore) update(ctx context.Context, operation string, fn func([]Transcript) ([]Transcript, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return services.Wrap(services.ErrStorage, "collection", operation, "acquire transcripts lock", err)
	}
	if !locked {
		return services.Wrap(services.ErrStorage, "collection", operation, "transcripts lock unavailable", nil)
	}
	defer func() { _ = s.lock.Unlock() }()

	records, err := s.read()
	if err != nil {
		return services.Wrap(services.ErrStorage, "collection", operation, "read transcripts", err)
	}
	next, err := fn(records)
	if err != nil {
		return services.Wrap(services.ErrStorage, "collection", operation, "update transcripts", err)
	}
	if next == nil {
		return nil
	}
	if err := s.write(next); err != nil {
		return services.Wrap(services.ErrStorage, "collection", operation, "write transcripts", err)
	}
	return nil
}

func (s *TranscriptStore) read() ([]Transcript, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Transcript{}, nil
		}
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return []Transcript{}, nil
	}
	var records []Transcript
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(s.path), err)
	}
	if records == nil {
		records = []Transcript{}
	}
	return records, nil
}

func (s *TranscriptStore) write(records []Transcript) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(s.path, append(data, '\n'))
}

func indexOf(records []Transcript, key string) int {
	for i, r := range records {
		if r.ID != "" && r.ID == key {
			return i
		}
	}
	for i, r := range records {
		if r.Date == key {
			return i
		}
	}
	return -1
}
