package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"

	"lipstalk/internal/pipeline"
)

// progressPrinter renders pipeline snapshots. On a terminal the countdown is
// redrawn in place; otherwise only state changes are printed, one per line.
type progressPrinter struct {
	mu        sync.Mutex
	out       io.Writer
	live      bool
	lastState pipeline.State
	dirty     bool
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{out: out, live: isTerminal(out)}
}

func isTerminal(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (p *progressPrinter) observe(s pipeline.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.State == pipeline.StateRecording && p.live {
		fmt.Fprintf(p.out, "\r\033[2K● REC %s, %s left (Enter stops, Ctrl+C cancels)", s.Progress, s.Remaining)
		p.dirty = true
		p.lastState = s.State
		return
	}
	if s.State == p.lastState {
		return
	}
	if p.dirty {
		fmt.Fprintln(p.out)
		p.dirty = false
	}
	p.lastState = s.State
	if label := stateLabel(s.State); label != "" {
		fmt.Fprintln(p.out, label)
	}
}

// finish terminates a live line left open by the countdown.
func (p *progressPrinter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dirty {
		fmt.Fprintln(p.out)
		p.dirty = false
	}
}

func stateLabel(state pipeline.State) string {
	switch state {
	case pipeline.StateRecording:
		return "Recording… press Enter to stop, Ctrl+C to cancel"
	case pipeline.StateNormalizing:
		return "Preparing clip…"
	case pipeline.StateTranscribing:
		return "Transcribing…"
	case pipeline.StatePersisting:
		return "Saving…"
	default:
		return ""
	}
}
