package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/domain/run"
)

func TestDefaultSettingsAreValid(t *testing.T) {
	require.NoError(t, DefaultSettings().Validate())
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"unknown mode", func(s *Settings) { s.Mode = run.DisplayMode("scroll") }},
		{"tail larger than message", func(s *Settings) { s.VisibleTail = s.MaxMessageSize }},
		{"tail smaller than marker", func(s *Settings) { s.VisibleTail = 3 }},
		{"block max larger than message", func(s *Settings) { s.BlockMax = s.MaxMessageSize }},
		{"block min above block max", func(s *Settings) { s.BlockMin = s.BlockMax + 1 }},
		{"zero read size", func(s *Settings) { s.ReadSize = 0 }},
		{"zero timeout", func(s *Settings) { s.Timeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := DefaultSettings()
			tt.mutate(&settings)
			assert.Error(t, settings.Validate())
		})
	}
}
