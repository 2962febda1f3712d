package hotkey

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const evKey = 0x01

// Key event values
const (
	keyRelease int32 = 0
	keyPress   int32 = 1
	keyRepeat  int32 = 2
)

// Binding ties a combination to a callback
type Binding struct {
	Combo   Combo
	Repeat  bool   // also fire on auto-repeat
	Label   string // for logs, e.g. the bound action
	Trigger func()
}

// Matcher turns a stream of key events into binding hits.
// It is not safe for concurrent use; the input reader owns it.
type Matcher struct {
	bindings map[Combo]Binding
	held     map[uint16]bool
}

// NewMatcher indexes bindings by combination
func NewMatcher(bindings []Binding) (*Matcher, error) {
	m := &Matcher{
		bindings: make(map[Combo]Binding, len(bindings)),
		held:     make(map[uint16]bool),
	}
	for _, b := range bindings {
		if _, dup := m.bindings[b.Combo]; dup {
			return nil, fmt.Errorf("key %s bound twice", b.Combo)
		}
		m.bindings[b.Combo] = b
	}
	return m, nil
}

// Feed processes one EV_KEY event and returns the binding it fires, if any
func (m *Matcher) Feed(code uint16, value int32) (Binding, bool) {
	if _, isMod := modifierKeys[code]; isMod {
		switch value {
		case keyPress, keyRepeat:
			m.held[code] = true
		case keyRelease:
			delete(m.held, code)
		}
		return Binding{}, false
	}

	if value == keyRelease {
		return Binding{}, false
	}

	b, ok := m.bindings[Combo{Mods: m.mods(), Code: code}]
	if !ok {
		return Binding{}, false
	}
	if value == keyRepeat && !b.Repeat {
		return Binding{}, false
	}
	return b, true
}

// Reset forgets held modifiers, e.g. after a device was reopened
func (m *Matcher) Reset() {
	clear(m.held)
}

func (m *Matcher) mods() Modifier {
	var mods Modifier
	for code := range m.held {
		mods |= modifierKeys[code]
	}
	return mods
}

// inputEvent is struct input_event on 64-bit Linux:
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

var inputEventSize = binary.Size(inputEvent{})

// decodeEvents parses whole input_event records from buf; a trailing partial record is ignored
func decodeEvents(buf []byte) []inputEvent {
	n := len(buf) / inputEventSize
	events := make([]inputEvent, 0, n)
	reader := bytes.NewReader(nil)
	for i := 0; i < n; i++ {
		reader.Reset(buf[i*inputEventSize : (i+1)*inputEventSize])
		var ev inputEvent
		if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
			// Skip malformed events
			continue
		}
		events = append(events, ev)
	}
	return events
}
