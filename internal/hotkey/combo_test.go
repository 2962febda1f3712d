package hotkey

import "testing"

func TestParseCombo(t *testing.T) {
	tests := []struct {
		in       string
		wantMods Modifier
		wantCode uint16
		wantStr  string
	}{
		{in: "f1", wantCode: 59, wantStr: "f1"},
		{in: "ctrl+alt+f1", wantMods: ModCtrl | ModAlt, wantCode: 59, wantStr: "ctrl+alt+f1"},
		{in: "Alt + Ctrl + F1", wantMods: ModCtrl | ModAlt, wantCode: 59, wantStr: "ctrl+alt+f1"},
		{in: "super+up", wantMods: ModSuper, wantCode: 103, wantStr: "super+up"},
		{in: "win+shift+KEY_PAGEUP", wantMods: ModSuper | ModShift, wantCode: 104, wantStr: "shift+super+pageup"},
		{in: "kp_plus", wantCode: 78, wantStr: "kp_plus"},
		{in: "ctrl+code:183", wantMods: ModCtrl, wantCode: 183, wantStr: "ctrl+f13"},
		{in: "code:250", wantCode: 250, wantStr: "code:250"},
		{in: "escape", wantCode: 1, wantStr: "esc"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, err := ParseCombo(tt.in)
			if err != nil {
				t.Fatalf("ParseCombo(%q) error: %v", tt.in, err)
			}
			if c.Mods != tt.wantMods || c.Code != tt.wantCode {
				t.Errorf("ParseCombo(%q) = %+v, want mods=%b code=%d", tt.in, c, tt.wantMods, tt.wantCode)
			}
			if c.String() != tt.wantStr {
				t.Errorf("String() = %q, want %q", c.String(), tt.wantStr)
			}
		})
	}
}

func TestParseCombo_Errors(t *testing.T) {
	for _, in := range []string{
		"",
		"ctrl+",
		"ctrl",
		"ctrl+ctrl+a",
		"a+b",
		"ctrl+nosuchkey",
		"code:abc",
		"code:0",
		"alt+leftctrl",
	} {
		if _, err := ParseCombo(in); err == nil {
			t.Errorf("ParseCombo(%q) should fail", in)
		}
	}
}
