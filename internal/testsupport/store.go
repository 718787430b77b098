package testsupport

import (
	"testing"

	"lipstalk/internal/collection"
	"lipstalk/internal/config"
	"lipstalk/internal/journal"
)

// MustOpenJournal opens a journal.Store for tests and registers cleanup.
func MustOpenJournal(t testing.TB, cfg *config.Config) *journal.Store {
	t.Helper()

	store, err := journal.Open(cfg)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenTranscripts opens the transcript store configured in cfg.
func MustOpenTranscripts(t testing.TB, cfg *config.Config) *collection.TranscriptStore {
	t.Helper()

	store, err := collection.OpenTranscripts(cfg.Paths.TranscriptsFile)
	if err != nil {
		t.Fatalf("collection.OpenTranscripts: %v", err)
	}
	return store
}

// MustOpenClips opens the clip store configured in cfg.
func MustOpenClips(t testing.TB, cfg *config.Config) *collection.ClipStore {
	t.Helper()

	store, err := collection.OpenClips(cfg.Paths.ClipsDir)
	if err != nil {
		t.Fatalf("collection.OpenClips: %v", err)
	}
	return store
}
