package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"lipstalk/internal/config"
	"lipstalk/internal/testsupport"
)

const (
	ffmpegStub = "#!/bin/sh\nfor last; do :; done\nprintf 'normalized-video' > \"$last\"\n"
	// ffprobeStub reports a square video with a positive duration.
	ffprobeStub = `#!/bin/sh
echo '{"streams":[{"index":0,"codec_type":"video","width":256,"height":256}],"format":{"duration":"1.5"}}'
`
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	binDir     string
	service    *httptest.Server

	mu         sync.Mutex
	// transcript is what the fake transcription service answers.
	transcript string
}

func (e *cliTestEnv) setTranscript(text string) {
	e.mu.Lock()
	e.transcript = text
	e.mu.Unlock()
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	env := &cliTestEnv{transcript: "hola mundo"}
	env.service = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		env.mu.Lock()
		text := env.transcript
		env.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
	t.Cleanup(env.service.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithTranscriptionEndpoint(env.service.URL+"/transcribe"))
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", filepath.Join(base, "home"))

	env.binDir = filepath.Join(base, "bin")
	testsupport.WriteExecutable(t, filepath.Join(env.binDir, "ffmpeg"), ffmpegStub)
	testsupport.WriteExecutable(t, filepath.Join(env.binDir, "ffprobe"), ffprobeStub)
	cfg.Recording.FFmpegBinary = filepath.Join(env.binDir, "ffmpeg")
	cfg.Recording.VideoDevice = filepath.Join(base, "missing-video0")
	cfg.Recording.AudioFormat = ""
	cfg.Logging.Level = "error"

	env.cfg = cfg
	env.configPath = filepath.Join(base, "lipstalk.toml")
	writeTestConfig(t, env.configPath, cfg)
	return env
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(""))
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func decodeJSON[T any](t *testing.T, output string) T {
	t.Helper()
	var out T
	if err := json.Unmarshal([]byte(output), &out); err != nil {
		t.Fatalf("decode %q: %v", output, err)
	}
	return out
}
