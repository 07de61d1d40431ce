package loop

import (
	"fmt"
	"time"
)

// IsPaused reports whether a pause window ending at pausedUntil is still
// active at now. A nil window is never paused, and a window ending exactly at
// now has already ended.
func IsPaused(pausedUntil *time.Time, now time.Time) bool {
	if pausedUntil == nil {
		return false
	}
	return pausedUntil.After(now)
}

// PauseMode selects how long a member pauses participation.
type PauseMode string

const (
	PauseNone   PauseMode = "none"
	PauseWeek   PauseMode = "week"
	Pause2Weeks PauseMode = "2weeks"
	Pause3Weeks PauseMode = "3weeks"
)

const daysPerWeek = 7

var pauseWeeks = map[PauseMode]int{
	PauseNone:   0,
	PauseWeek:   1,
	Pause2Weeks: 2,
	Pause3Weeks: 3,
}

// ParsePauseMode validates s as a pause mode.
func ParsePauseMode(s string) (PauseMode, error) {
	m := PauseMode(s)
	if _, ok := pauseWeeks[m]; !ok {
		return "", fmt.Errorf("unknown pause mode %q: %w", s, ErrValidation)
	}
	return m, nil
}

// Until returns the end of the pause window that starts at now, or nil for
// PauseNone.
func (m PauseMode) Until(now time.Time) (*time.Time, error) {
	weeks, ok := pauseWeeks[m]
	if !ok {
		return nil, fmt.Errorf("unknown pause mode %q: %w", string(m), ErrValidation)
	}
	if weeks == 0 {
		return nil, nil
	}
	t := now.AddDate(0, 0, weeks*daysPerWeek)
	return &t, nil
}
