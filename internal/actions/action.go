// Package actions provides the action catalog, the dispatch registry and the invoker.
package actions

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action is one discrete user-triggered command understood by the controller
type Action string

const (
	Refresh         Action = "refresh"
	Sync            Action = "sync"
	Toggle          Action = "toggle"
	BrightnessUp    Action = "brightness_up"
	BrightnessDown  Action = "brightness_down"
	TemperatureUp   Action = "temperature_up"
	TemperatureDown Action = "temperature_down"
	Stop            Action = "stop"
)

// All lists every action in catalog order
var All = []Action{
	Refresh,
	Sync,
	Toggle,
	BrightnessUp,
	BrightnessDown,
	TemperatureUp,
	TemperatureDown,
	Stop,
}

// Parse converts a configured name into an Action.
// Matching is case-insensitive and accepts '-' in place of '_'.
func Parse(name string) (Action, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for _, a := range All {
		if string(a) == normalized {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown action %q", name)
}

func (a Action) String() string { return string(a) }

// Source identifies who enqueued a job
type Source string

const (
	SourceStartup  Source = "startup"
	SourceHotkey   Source = "hotkey"
	SourceDBus     Source = "dbus"
	SourceScript   Source = "script"
	SourceShutdown Source = "shutdown"
)

// Job is a queued action
type Job struct {
	ID         string
	Action     Action
	Source     Source
	EnqueuedAt time.Time
}

// NewJob creates a job with a fresh ID
func NewJob(action Action, source Source) Job {
	return Job{
		ID:         uuid.NewString(),
		Action:     action,
		Source:     source,
		EnqueuedAt: time.Now(),
	}
}
