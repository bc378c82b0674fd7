package relay

import (
	"fmt"
	"time"
	"unicode/utf8"

	"relay/internal/domain/run"
)

// Settings tunes streaming, display and supervision of agent runs.
type Settings struct {
	Mode              run.DisplayMode
	MinUpdateInterval time.Duration
	BlockMin          int
	BlockMax          int
	VisibleTail       int
	Cursor            string
	ReadSize          int
	QueueSize         int
	PollInterval      time.Duration
	MaxMessageSize    int

	Timeout     time.Duration
	GracePeriod time.Duration
	DrainGrace  time.Duration
	ReapEvery   time.Duration
}

// DefaultSettings mirrors the documented defaults.
func DefaultSettings() Settings {
	return Settings{
		Mode:              run.DisplayPartial,
		MinUpdateInterval: 1500 * time.Millisecond,
		BlockMin:          200,
		BlockMax:          800,
		VisibleTail:       3800,
		Cursor:            "▌",
		ReadSize:          512,
		QueueSize:         256,
		PollInterval:      100 * time.Millisecond,
		MaxMessageSize:    4096,
		Timeout:           5 * time.Minute,
		GracePeriod:       5 * time.Second,
		DrainGrace:        10 * time.Second,
		ReapEvery:         time.Second,
	}
}

// Validate checks that every push fits in one transport message.
func (s Settings) Validate() error {
	if _, err := run.ParseDisplayMode(string(s.Mode)); err != nil {
		return err
	}
	cursor := utf8.RuneCountInString(s.Cursor)
	switch {
	case s.MaxMessageSize <= 0:
		return fmt.Errorf("max message size must be positive")
	case s.VisibleTail <= utf8.RuneCountInString(truncationMarker):
		return fmt.Errorf("visible tail %d is too small", s.VisibleTail)
	case s.VisibleTail+cursor > s.MaxMessageSize:
		return fmt.Errorf("visible tail %d plus cursor exceeds max message size %d", s.VisibleTail, s.MaxMessageSize)
	case s.BlockMin <= 0 || s.BlockMin > s.BlockMax:
		return fmt.Errorf("block min %d must be positive and not above block max %d", s.BlockMin, s.BlockMax)
	case s.BlockMax+cursor > s.MaxMessageSize:
		return fmt.Errorf("block max %d plus cursor exceeds max message size %d", s.BlockMax, s.MaxMessageSize)
	case s.ReadSize <= 0 || s.QueueSize <= 0:
		return fmt.Errorf("read size and queue size must be positive")
	case s.MinUpdateInterval <= 0 || s.PollInterval <= 0:
		return fmt.Errorf("update and poll intervals must be positive")
	case s.Timeout <= 0 || s.GracePeriod <= 0 || s.DrainGrace <= 0 || s.ReapEvery <= 0:
		return fmt.Errorf("timeout, grace period, drain grace and reap interval must be positive")
	}
	return nil
}
