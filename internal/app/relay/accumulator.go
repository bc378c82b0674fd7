package relay

import (
	"bytes"
	"strings"
	"sync"
	"unicode/utf8"

	"relay/internal/domain/transcript"
)

const truncationMarker = "…[truncated]…\n"

// Accumulator collects one run's output. Stdout is kept raw and stripped of
// control sequences; stderr is kept apart until finalization.
type Accumulator struct {
	mu        sync.Mutex
	raw       bytes.Buffer
	stderr    bytes.Buffer
	clean     strings.Builder
	runes     int
	stripper  transcript.Stripper
	tailLimit int
	finished  bool
}

// NewAccumulator returns an accumulator whose visible tail holds at most
// tailLimit runes, marker included.
func NewAccumulator(tailLimit int) *Accumulator {
	return &Accumulator{tailLimit: tailLimit}
}

// AppendStdout records a stdout chunk.
func (a *Accumulator) AppendStdout(p []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.raw.Write(p)
	if a.finished {
		return
	}
	a.appendClean(a.stripper.Write(p))
}

// AppendStderr records a stderr chunk.
func (a *Accumulator) AppendStderr(p []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stderr.Write(p)
}

// Finish releases any held-back partial sequence into the clean text.
func (a *Accumulator) Finish() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finished {
		return
	}
	a.appendClean(a.stripper.Flush())
	a.finished = true
}

func (a *Accumulator) appendClean(s string) {
	if s == "" {
		return
	}
	a.clean.WriteString(s)
	a.runes += utf8.RuneCountInString(s)
}

// Raw returns the unmodified stdout.
func (a *Accumulator) Raw() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.raw.String()
}

// Stderr returns the unmodified stderr.
func (a *Accumulator) Stderr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stderr.String()
}

// Clean returns the stripped cumulative stdout.
func (a *Accumulator) Clean() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clean.String()
}

// CleanFrom returns the stripped stdout from byte offset on.
func (a *Accumulator) CleanFrom(offset int) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.clean.String()
	if offset >= len(s) {
		return ""
	}
	return s[offset:]
}

// Len returns the rune length of the stripped stdout.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runes
}

// VisibleTail returns the stripped stdout, or a truncation marker followed
// by its trailing window when it is longer than the tail limit.
func (a *Accumulator) VisibleTail() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runes <= a.tailLimit {
		return a.clean.String()
	}
	keep := a.tailLimit - utf8.RuneCountInString(truncationMarker)
	return truncationMarker + transcript.TailRunes(a.clean.String(), keep)
}
