package relay

import (
	"errors"
	"io"
	"os"
	"time"
)

// Source names one of the agent's output channels.
type Source int

const (
	SourceStdout Source = iota
	SourceStderr
)

func (s Source) String() string {
	if s == SourceStderr {
		return "stderr"
	}
	return "stdout"
}

// StreamChunk is one read from a source, or that source's EOF marker.
type StreamChunk struct {
	Source Source
	Data   []byte
	EOF    bool
}

// readStream pushes bounded reads from r onto queue and finishes with exactly
// one EOF chunk. A closed pipe counts as EOF.
func readStream(source Source, r io.Reader, queue chan<- StreamChunk, readSize int) error {
	defer func() { queue <- StreamChunk{Source: source, EOF: true} }()
	for {
		buf := make([]byte, readSize)
		n, err := r.Read(buf)
		if n > 0 {
			queue <- StreamChunk{Source: source, Data: buf[:n]}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
	}
}

// exitWatcher reports whether the agent process has exited.
type exitWatcher interface {
	Exited() bool
}

// consume drains queue until both sources reached EOF and the process has
// exited. It wakes at least every poll interval so onTick can run even when
// the agent is silent.
func consume(queue <-chan StreamChunk, proc exitWatcher, poll time.Duration, onChunk func(StreamChunk), onTick func()) {
	var stdoutEOF, stderrEOF bool
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if stdoutEOF && stderrEOF && proc.Exited() {
			return
		}
		select {
		case chunk := <-queue:
			switch {
			case chunk.EOF && chunk.Source == SourceStdout:
				stdoutEOF = true
			case chunk.EOF:
				stderrEOF = true
			default:
				onChunk(chunk)
			}
		case <-ticker.C:
		}
		onTick()
	}
}
