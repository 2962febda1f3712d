package controller

import (
	"github.com/dokzlo13/keylightctl/internal/device"
)

const (
	BrightnessMin  = 2
	BrightnessMax  = 100
	BrightnessStep = 1

	TemperatureMin = 143
	TemperatureMax = 344
	// TemperatureStep is applied by TemperatureUp. The raw scale is inverted:
	// a smaller value is a cooler light.
	TemperatureStep = -5
)

// LightState is the cached, last-known state of one light
type LightState struct {
	On          bool
	Brightness  int
	Temperature *int // nil when the light has no colour temperature
}

// ClampBrightness saturates x into [BrightnessMin, BrightnessMax]
func ClampBrightness(x int) int {
	return clamp(x, BrightnessMin, BrightnessMax)
}

// ClampTemperature saturates x into [TemperatureMin, TemperatureMax]
func ClampTemperature(x int) int {
	return clamp(x, TemperatureMin, TemperatureMax)
}

func clamp(x, lo, hi int) int {
	return max(lo, min(hi, x))
}

// stateFromDevice converts a device reading into a cache entry,
// pulling out-of-range values to the nearest bound.
func stateFromDevice(s device.State) *LightState {
	st := &LightState{
		On:         s.On,
		Brightness: ClampBrightness(s.Brightness),
	}
	if s.Temperature != nil {
		t := ClampTemperature(*s.Temperature)
		st.Temperature = &t
	}
	return st
}

func (s *LightState) clone() *LightState {
	c := *s
	if s.Temperature != nil {
		t := *s.Temperature
		c.Temperature = &t
	}
	return &c
}

// LightSnapshot is an immutable view of one light for observers
type LightSnapshot struct {
	Name        string `json:"name"`
	Address     string `json:"address"`
	Known       bool   `json:"known"`
	On          bool   `json:"on"`
	Brightness  int    `json:"brightness,omitempty"`
	Temperature *int   `json:"temperature,omitempty"`
}
