package hotkey

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func mustCombo(t *testing.T, s string) Combo {
	t.Helper()
	c, err := ParseCombo(s)
	if err != nil {
		t.Fatalf("ParseCombo(%q): %v", s, err)
	}
	return c
}

func TestMatcher_FiresOnExactModifiers(t *testing.T) {
	m, err := NewMatcher([]Binding{
		{Combo: mustCombo(t, "ctrl+alt+f1"), Label: "toggle"},
		{Combo: mustCombo(t, "f1"), Label: "refresh"},
	})
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}

	// Plain F1
	if b, ok := m.Feed(59, keyPress); !ok || b.Label != "refresh" {
		t.Errorf("f1 = %v/%v, want refresh", b.Label, ok)
	}
	m.Feed(59, keyRelease)

	// Right ctrl + left alt + F1
	m.Feed(keyRightCtrl, keyPress)
	m.Feed(keyLeftAlt, keyPress)
	if b, ok := m.Feed(59, keyPress); !ok || b.Label != "toggle" {
		t.Errorf("ctrl+alt+f1 = %v/%v, want toggle", b.Label, ok)
	}
	if _, ok := m.Feed(59, keyRelease); ok {
		t.Error("release must not fire")
	}

	// Extra shift makes it a different combination
	m.Feed(keyLeftShift, keyPress)
	if _, ok := m.Feed(59, keyPress); ok {
		t.Error("ctrl+alt+shift+f1 must not fire")
	}
	m.Feed(keyLeftShift, keyRelease)
	m.Feed(keyLeftAlt, keyRelease)
	m.Feed(keyRightCtrl, keyRelease)

	if b, ok := m.Feed(59, keyPress); !ok || b.Label != "refresh" {
		t.Errorf("after releasing modifiers f1 = %v/%v, want refresh", b.Label, ok)
	}
}

func TestMatcher_Repeat(t *testing.T) {
	m, err := NewMatcher([]Binding{
		{Combo: mustCombo(t, "super+up"), Label: "brightness_up", Repeat: true},
		{Combo: mustCombo(t, "super+t"), Label: "toggle"},
	})
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}

	m.Feed(keyLeftMeta, keyPress)
	if _, ok := m.Feed(103, keyRepeat); !ok {
		t.Error("repeat binding should fire on auto-repeat")
	}
	if _, ok := m.Feed(20, keyPress); !ok {
		t.Error("toggle should fire on press")
	}
	if _, ok := m.Feed(20, keyRepeat); ok {
		t.Error("non-repeat binding must not fire on auto-repeat")
	}
}

func TestMatcher_Reset(t *testing.T) {
	m, err := NewMatcher([]Binding{{Combo: mustCombo(t, "f2"), Label: "sync"}})
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}

	m.Feed(keyLeftCtrl, keyPress)
	if _, ok := m.Feed(60, keyPress); ok {
		t.Error("ctrl+f2 must not match f2")
	}
	m.Reset()
	if _, ok := m.Feed(60, keyPress); !ok {
		t.Error("after Reset f2 should match")
	}
}

func TestNewMatcher_RejectsDuplicates(t *testing.T) {
	_, err := NewMatcher([]Binding{
		{Combo: mustCombo(t, "ctrl+f1")},
		{Combo: mustCombo(t, "control+f1")},
	})
	if err == nil {
		t.Error("duplicate combinations should be rejected")
	}
}

func TestDecodeEvents(t *testing.T) {
	var buf bytes.Buffer
	for _, ev := range []inputEvent{
		{Sec: 1, Type: evKey, Code: 59, Value: keyPress},
		{Sec: 1, Type: 0, Code: 0, Value: 0},
		{Sec: 2, Type: evKey, Code: 59, Value: keyRelease},
	} {
		if err := binary.Write(&buf, binary.LittleEndian, ev); err != nil {
			t.Fatalf("binary.Write: %v", err)
		}
	}
	// Trailing partial record
	buf.Write([]byte{1, 2, 3})

	events := decodeEvents(buf.Bytes())
	if len(events) != 3 {
		t.Fatalf("decoded %d events, want 3", len(events))
	}
	if events[0].Code != 59 || events[0].Value != keyPress || events[2].Value != keyRelease {
		t.Errorf("unexpected events: %+v", events)
	}
	if inputEventSize != 24 {
		t.Errorf("inputEventSize = %d, want 24", inputEventSize)
	}
}
