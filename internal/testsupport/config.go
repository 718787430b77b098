package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"lipstalk/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config rooted in a per-test temp directory.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.ClipsDir = filepath.Join(base, "data", "clips")
	cfgVal.Paths.StagingDir = filepath.Join(base, "data", "staging")
	cfgVal.Paths.LogDir = filepath.Join(base, "data", "logs")
	cfgVal.Paths.TranscriptsFile = filepath.Join(base, "data", "transcriptions.json")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Transcription.Endpoint = "http://127.0.0.1:0/transcribe"

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithMaxDuration overrides the recording ceiling in seconds.
func WithMaxDuration(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Recording.MaxDurationSeconds = seconds
	}
}

// WithTranscriptionEndpoint points the transcription client at url.
func WithTranscriptionEndpoint(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Transcription.Endpoint = url
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. Without names, ffmpeg and ffprobe are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		for _, name := range names {
			WriteExecutable(b.t, filepath.Join(binDir, name), "#!/bin/sh\nexit 0\n")
		}
		b.t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
