package logs

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"lipstalk/internal/logging"
)

// PollInterval is how often Follow checks the file for new lines.
const PollInterval = 250 * time.Millisecond

// Options selects which lines Read and Follow return.
type Options struct {
	// Limit keeps only the last Limit matching lines. Zero keeps all.
	Limit int
	// AttemptID keeps only lines logged for that attempt.
	AttemptID string
}

func (o Options) matches(line string) bool {
	if o.AttemptID == "" {
		return true
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return false
	}
	id, _ := fields[logging.FieldAttemptID].(string)
	return id == o.AttemptID
}

// Read returns the matching lines of path and the offset of its end. A
// missing file yields no lines and offset zero.
func Read(path string, opts Options) ([]string, int64, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return nil, 0, fmt.Errorf("log path %q is a directory", path)
	}
	lines, offset, err := readFrom(path, 0, opts)
	if err != nil {
		return nil, 0, err
	}
	if opts.Limit > 0 && len(lines) > opts.Limit {
		lines = lines[len(lines)-opts.Limit:]
	}
	return lines, offset, nil
}

// Follow calls emit for every matching line appended after offset until ctx
// ends. A file truncated below offset is read again from the start.
func Follow(ctx context.Context, path string, offset int64, opts Options, emit func(string)) error {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		if info, err := os.Stat(path); err == nil && info.Size() < offset {
			offset = 0
		}
		lines, next, err := readFrom(path, offset, opts)
		if err != nil {
			return err
		}
		for _, line := range lines {
			emit(line)
		}
		offset = next

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func readFrom(path string, offset int64, opts Options) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	var lines []string
	for {
		chunk, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				// A partial line stays unread until its newline arrives.
				break
			}
			return nil, offset, fmt.Errorf("read log file: %w", err)
		}
		offset += int64(len(chunk))
		line := chunk[:len(chunk)-1]
		if line != "" && opts.matches(line) {
			lines = append(lines, line)
		}
	}
	return lines, offset, nil
}
