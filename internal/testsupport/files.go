package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFile writes content to path, creating parent directories.
func WriteFile(t testing.TB, path, content string) {
	t.Helper()
	writeMode(t, path, content, 0o644)
}

// WriteExecutable writes a script to path with the executable bit set.
func WriteExecutable(t testing.TB, path, script string) {
	t.Helper()
	writeMode(t, path, script, 0o755)
}

// WriteClip fills path with size bytes of a repeating pattern, standing in
// for a video file. A size <= 0 writes a single byte.
func WriteClip(t testing.TB, path string, size int) {
	t.Helper()
	if size <= 0 {
		size = 1
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 0x42
	}
	writeMode(t, path, string(buf), 0o644)
}

func writeMode(t testing.TB, path, content string, mode os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
