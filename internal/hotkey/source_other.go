//go:build !linux

package hotkey

import (
	"context"
	"errors"
)

// Source is unavailable outside Linux; use the D-Bus service or a Lua macro instead
type Source struct{}

// NewSource validates bindings; capture itself is not supported on this platform
func NewSource(devices []string, bindings []Binding) (*Source, error) {
	if _, err := NewMatcher(bindings); err != nil {
		return nil, err
	}
	return &Source{}, nil
}

// Start always fails on this platform
func (s *Source) Start(ctx context.Context) error {
	return errors.New("evdev hotkey capture is only supported on Linux")
}

// Stop is a no-op
func (s *Source) Stop() {}
