package main

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"

	"relay/internal/app/relay"
	"relay/internal/domain/run"
)

func TestExitCodeOf(t *testing.T) {
	cases := []struct {
		name  string
		event relay.RunEvent
		want  int
	}{
		{"completed", relay.RunEvent{State: run.StateCompleted, Transcript: &run.FinalTranscript{}}, 0},
		{"agent exit code", relay.RunEvent{State: run.StateFailed, Transcript: &run.FinalTranscript{ExitCode: 7}}, 7},
		{"timed out", relay.RunEvent{State: run.StateTimedOut, Transcript: &run.FinalTranscript{TimedOut: true, ExitCode: -1}}, exitTimedOut},
		{"signalled", relay.RunEvent{State: run.StateFailed, Transcript: &run.FinalTranscript{ExitCode: -1}}, 1},
		{"finalize failed", relay.RunEvent{State: run.StateFailed, Transcript: &run.FinalTranscript{}}, 1},
		{"never started", relay.RunEvent{State: run.StateFailed}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, exitCodeOf(tc.event))
		})
	}
}

func TestRunWaiterKeepsFirstFinishedEventOfItsChat(t *testing.T) {
	w := newRunWaiter(run.ChatContext{ChatID: 1})

	w.Publish(relay.RunEvent{Type: relay.EventStarted, Chat: run.ChatContext{ChatID: 1}})
	w.Publish(relay.RunEvent{Type: relay.EventFinished, Chat: run.ChatContext{ChatID: 2}, RunID: "other"})
	w.Publish(relay.RunEvent{Type: relay.EventFinished, Chat: run.ChatContext{ChatID: 1}, RunID: "mine"})
	w.Publish(relay.RunEvent{Type: relay.EventFinished, Chat: run.ChatContext{ChatID: 1}, RunID: "late"})

	got := <-w.done
	assert.Equal(t, "mine", got.RunID)
	assert.Empty(t, w.done)
}

func TestRunOptionsToConfig(t *testing.T) {
	assert.Empty(t, runOptionsToConfig(&runOptions{}))
	assert.Len(t, runOptionsToConfig(&runOptions{mode: "block", timeout: 30}), 2)
}

func TestDetectVersion(t *testing.T) {
	env := func(v string) func(string) (string, bool) {
		return func(string) (string, bool) { return v, v != "" }
	}
	noBuild := func() (*debug.BuildInfo, bool) { return nil, false }

	assert.Equal(t, "1.2.3", detectVersion(env(" 1.2.3 "), noBuild))
	assert.Equal(t, "dev", detectVersion(env(""), noBuild))

	tagged := func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Main: debug.Module{Version: "v0.4.0"}}, true
	}
	assert.Equal(t, "v0.4.0", detectVersion(env(""), tagged))

	devel := func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{
			Main:     debug.Module{Version: "(devel)"},
			Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "abcdef0123"}},
		}, true
	}
	assert.Equal(t, "dev-abcdef0", detectVersion(env(""), devel))
}
