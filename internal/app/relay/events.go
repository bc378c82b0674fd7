package relay

import (
	"time"

	"relay/internal/domain/run"
)

// EventType classifies run events.
type EventType string

const (
	EventStarted  EventType = "run.started"
	EventUpdated  EventType = "run.updated"
	EventFinished EventType = "run.finished"
)

// RunEvent describes a change in one run, for observers such as the admin
// websocket stream.
type RunEvent struct {
	Type       EventType            `json:"type"`
	RunID      string               `json:"run_id"`
	Chat       run.ChatContext      `json:"chat"`
	State      run.State            `json:"state"`
	PID        int                  `json:"pid,omitempty"`
	Text       string               `json:"text,omitempty"`
	Transcript *run.FinalTranscript `json:"transcript,omitempty"`
	At         time.Time            `json:"at"`
}

// EventSink receives run events. Publish must not block.
type EventSink interface {
	Publish(event RunEvent)
}

type nopSink struct{}

func (nopSink) Publish(RunEvent) {}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(RunEvent)

func (f EventSinkFunc) Publish(event RunEvent) { f(event) }
