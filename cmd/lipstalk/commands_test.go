package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lipstalk/internal/collection"
	"lipstalk/internal/pipeline"
	"lipstalk/internal/testsupport"
)

func recordFromFile(t *testing.T, env *cliTestEnv, extra ...string) pipeline.Snapshot {
	t.Helper()
	source := filepath.Join(testsupport.BaseDir(env.cfg), "input.mkv")
	testsupport.WriteClip(t, source, 512)

	args := append([]string{"record", "--from", source, "--json"}, extra...)
	out, stderr, err := runCLI(t, args, env.configPath)
	if err != nil {
		t.Fatalf("record: %v (stderr %q)", err, stderr)
	}
	return decodeJSON[pipeline.Snapshot](t, out)
}

func TestRecordFromFileSavesTranscriptAndClip(t *testing.T) {
	env := setupCLITestEnv(t)

	snap := recordFromFile(t, env)
	if snap.State != pipeline.StateDisplayed || snap.Transcript != "hola mundo" {
		t.Fatalf("unexpected attempt %+v", snap)
	}
	if snap.RetainedClip == "" {
		t.Fatal("expected the clip to be kept")
	}

	out, _, err := runCLI(t, []string{"transcripts", "list", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("transcripts list: %v", err)
	}
	records := decodeJSON[[]collection.Transcript](t, out)
	if len(records) != 1 || records[0].Text != "hola mundo" || records[0].Key() != snap.TranscriptKey {
		t.Fatalf("unexpected transcripts %+v", records)
	}

	out, _, err = runCLI(t, []string{"clips", "list", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("clips list: %v", err)
	}
	clips := decodeJSON[[]collection.Clip](t, out)
	if len(clips) != 1 || clips[0].Name != snap.RetainedClip {
		t.Fatalf("unexpected clips %+v", clips)
	}
}

func TestRecordNoKeepClip(t *testing.T) {
	env := setupCLITestEnv(t)

	snap := recordFromFile(t, env, "--no-keep-clip")
	if snap.State != pipeline.StateDisplayed || snap.RetainedClip != "" {
		t.Fatalf("unexpected attempt %+v", snap)
	}
	out, _, err := runCLI(t, []string{"clips", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("clips list: %v", err)
	}
	requireContains(t, out, "No clips found")
}

func TestRecordFailureReturnsError(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteExecutable(t, env.cfg.Recording.FFmpegBinary, "#!/bin/sh\necho 'encoder exploded' >&2\nexit 1\n")

	source := filepath.Join(testsupport.BaseDir(env.cfg), "input.mkv")
	testsupport.WriteClip(t, source, 512)
	out, _, err := runCLI(t, []string{"record", "--from", source}, env.configPath)
	if err == nil {
		t.Fatal("expected record to fail")
	}
	requireContains(t, err.Error(), "normalize_failed")
	requireContains(t, out, "Attempt failed (normalize_failed)")

	out, _, err = runCLI(t, []string{"attempts", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("attempts: %v", err)
	}
	views := decodeJSON[[]attemptView](t, out)
	if len(views) != 1 || views[0].State != "failed" || views[0].Reason != "normalize_failed" {
		t.Fatalf("unexpected journal %+v", views)
	}
}

func TestAttemptsShowByPrefix(t *testing.T) {
	env := setupCLITestEnv(t)
	snap := recordFromFile(t, env)

	out, _, err := runCLI(t, []string{"attempts", "show", snap.ID[:8], "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("attempts show: %v", err)
	}
	view := decodeJSON[attemptView](t, out)
	if view.ID != snap.ID {
		t.Fatalf("resolved %q, want %q", view.ID, snap.ID)
	}
	var states []string
	for _, tr := range view.Transitions {
		states = append(states, tr.State)
	}
	if got := strings.Join(states, ","); got != "recording,normalizing,transcribing,persisting,displayed" {
		t.Fatalf("unexpected transitions %s", got)
	}

	out, _, err = runCLI(t, []string{"attempts"}, env.configPath)
	if err != nil {
		t.Fatalf("attempts: %v", err)
	}
	requireContains(t, out, snap.ID[:8])
	requireContains(t, out, "Totals: displayed 1")
}

func TestTranscribeStoredClip(t *testing.T) {
	env := setupCLITestEnv(t)
	first := recordFromFile(t, env)

	env.setTranscript("otra vez")
	out, stderr, err := runCLI(t, []string{"transcribe", first.RetainedClip, "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("transcribe: %v (stderr %q)", err, stderr)
	}
	snap := decodeJSON[pipeline.Snapshot](t, out)
	if snap.Source != pipeline.SourceClip || snap.Transcript != "otra vez" {
		t.Fatalf("unexpected attempt %+v", snap)
	}
	if _, err := os.Stat(filepath.Join(env.cfg.Paths.ClipsDir, first.RetainedClip)); err != nil {
		t.Fatalf("stored clip must survive re-transcription: %v", err)
	}

	if _, _, err := runCLI(t, []string{"transcribe", "missing.mp4"}, env.configPath); err == nil {
		t.Fatal("expected error for a missing clip")
	}
}

func TestTranscriptsFilterAndDelete(t *testing.T) {
	env := setupCLITestEnv(t)
	snap := recordFromFile(t, env)

	out, _, err := runCLI(t, []string{"transcripts", "list", "--year", "1999"}, env.configPath)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	requireContains(t, out, "No transcripts found")

	out, _, err = runCLI(t, []string{"transcripts", "list", "-q", "HOLA"}, env.configPath)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	requireContains(t, out, "hola mundo")

	if _, _, err := runCLI(t, []string{"transcripts", "list", "--month", "13"}, env.configPath); err == nil {
		t.Fatal("expected invalid month to fail")
	}

	out, _, err = runCLI(t, []string{"transcripts", "delete", snap.TranscriptKey}, env.configPath)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	requireContains(t, out, "Deleted transcript")
	if _, _, err := runCLI(t, []string{"transcripts", "delete", snap.TranscriptKey}, env.configPath); err == nil {
		t.Fatal("expected second delete to fail")
	}
}

func TestTranscriptsCopyUsesClipboardHelper(t *testing.T) {
	env := setupCLITestEnv(t)
	capturePath := filepath.Join(env.binDir, "clipboard.txt")
	helper := filepath.Join(env.binDir, "wl-copy")
	testsupport.WriteExecutable(t, helper, "#!/bin/sh\ncat > \""+capturePath+"\"\n")
	env.cfg.Speech.ClipboardBinary = helper
	writeTestConfig(t, env.configPath, env.cfg)

	snap := recordFromFile(t, env)
	out, _, err := runCLI(t, []string{"transcripts", "copy", snap.TranscriptKey}, env.configPath)
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	requireContains(t, out, "Copied to clipboard")
	data, err := os.ReadFile(capturePath)
	if err != nil || string(data) != "hola mundo" {
		t.Fatalf("unexpected clipboard %q (%v)", data, err)
	}
}

func TestClipsShareAndDelete(t *testing.T) {
	env := setupCLITestEnv(t)
	snap := recordFromFile(t, env)
	dest := t.TempDir()

	out, _, err := runCLI(t, []string{"clips", "share", snap.RetainedClip, dest}, env.configPath)
	if err != nil {
		t.Fatalf("share: %v", err)
	}
	requireContains(t, out, "Copied "+snap.RetainedClip)
	if _, err := os.Stat(filepath.Join(dest, snap.RetainedClip)); err != nil {
		t.Fatalf("expected shared copy: %v", err)
	}

	if _, _, err := runCLI(t, []string{"clips", "delete", snap.RetainedClip}, env.configPath); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := runCLI(t, []string{"clips", "delete", snap.RetainedClip}, env.configPath); err == nil {
		t.Fatal("expected second delete to fail")
	}
}

func TestPreflightReportsMissingCamera(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"preflight", "--json"}, env.configPath)
	if err == nil {
		t.Fatal("expected preflight to fail without a camera")
	}
	views := decodeJSON[[]preflightView](t, out)
	var sawCamera, sawService bool
	for _, v := range views {
		switch {
		case !v.Passed && strings.Contains(strings.ToLower(v.Name), "camera"):
			sawCamera = true
		case v.Passed && strings.Contains(strings.ToLower(v.Name), "transcription"):
			sawService = true
		}
	}
	if !sawCamera || !sawService {
		t.Fatalf("unexpected preflight results %+v", views)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	env := setupCLITestEnv(t)

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting")
	}

	env.cfg.Transcription.APIKey = "secret-token"
	writeTestConfig(t, env.configPath, env.cfg)
	out, _, err = runCLI(t, []string{"config", "show"}, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "[transcription]")
	if strings.Contains(out, "secret-token") {
		t.Fatal("api key must be masked")
	}
	requireContains(t, out, "se********en")
}

func TestMask(t *testing.T) {
	tests := map[string]string{"": "", "abc": "****", "abcdef": "ab**ef"}
	for in, want := range tests {
		if got := mask(in); got != want {
			t.Fatalf("mask(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPreview(t *testing.T) {
	if got := preview("hola\n  mundo", 20); got != "hola mundo" {
		t.Fatalf("unexpected flattening %q", got)
	}
	if got := preview("ábcdefgh", 4); got != "ábc…" {
		t.Fatalf("unexpected truncation %q", got)
	}
}

func TestLogsFiltersByAttempt(t *testing.T) {
	env := setupCLITestEnv(t)
	path := filepath.Join(env.cfg.Paths.LogDir, "lipstalk.log")
	if err := os.MkdirAll(env.cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := `{"msg":"attempt started","attempt_id":"abc"}
{"msg":"attempt started","attempt_id":"def"}
{"msg":"transcript saved","attempt_id":"abc"}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out, _, err := runCLI(t, []string{"logs", "--attempt", "abc"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "transcript saved")
	if strings.Contains(out, `"def"`) {
		t.Fatalf("unexpected line for another attempt: %s", out)
	}

	out, _, err = runCLI(t, []string{"logs", "-n", "1"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if strings.Count(out, "\n") != 1 {
		t.Fatalf("expected one line, got %q", out)
	}
}

func TestRecordRequiresFFmpeg(t *testing.T) {
	env := setupCLITestEnv(t)
	env.cfg.Recording.FFmpegBinary = filepath.Join(env.binDir, "not-installed")
	writeTestConfig(t, env.configPath, env.cfg)

	_, _, err := runCLI(t, []string{"record", "--from", filepath.Join(env.binDir, "ffmpeg")}, env.configPath)
	if err == nil {
		t.Fatal("expected record to fail without ffmpeg")
	}
	requireContains(t, err.Error(), "FFmpeg unavailable")
}

func TestConfigValidate(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, env.cfg.Paths.TranscriptsFile)

	bad := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(bad, []byte("[logging]\nformat = \"xml\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, err := runCLI(t, []string{"config", "validate"}, bad); err == nil {
		t.Fatal("expected invalid logging format to fail")
	}
}
