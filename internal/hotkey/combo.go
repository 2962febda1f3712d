// Package hotkey maps global key combinations to callbacks.
package hotkey

import (
	"fmt"
	"strconv"
	"strings"
)

// Combo is a key pressed while exactly Mods are held
type Combo struct {
	Mods Modifier
	Code uint16
}

// ParseCombo parses combinations such as "ctrl+alt+f1", "super+up" or "kp_plus".
// Names are case-insensitive; a raw code can be given as "code:183".
func ParseCombo(s string) (Combo, error) {
	var c Combo
	s = strings.TrimSpace(s)
	if s == "" {
		return c, fmt.Errorf("empty key combination")
	}

	parts := strings.Split(strings.ToLower(s), "+")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return c, fmt.Errorf("key combination %q: empty key", s)
		}

		last := i == len(parts)-1
		if mod, ok := modifierNames[part]; ok && !last {
			if c.Mods&mod != 0 {
				return c, fmt.Errorf("key combination %q: duplicate modifier %q", s, part)
			}
			c.Mods |= mod
			continue
		}
		if !last {
			return c, fmt.Errorf("key combination %q: %q is not a modifier", s, part)
		}

		code, err := parseKey(part)
		if err != nil {
			return c, fmt.Errorf("key combination %q: %w", s, err)
		}
		if _, isMod := modifierKeys[code]; isMod {
			return c, fmt.Errorf("key combination %q: a modifier cannot be the final key", s)
		}
		c.Code = code
	}
	return c, nil
}

func parseKey(name string) (uint16, error) {
	if raw, ok := strings.CutPrefix(name, "code:"); ok {
		code, err := strconv.ParseUint(raw, 10, 16)
		if err != nil || code == 0 {
			return 0, fmt.Errorf("invalid key code %q", raw)
		}
		return uint16(code), nil
	}
	name = strings.TrimPrefix(name, "key_")
	if code, ok := keyCodes[name]; ok {
		return code, nil
	}
	return 0, fmt.Errorf("unknown key %q", name)
}

// String returns the canonical form, e.g. "ctrl+alt+f1"
func (c Combo) String() string {
	var parts []string
	for _, m := range []struct {
		mod  Modifier
		name string
	}{
		{ModCtrl, "ctrl"},
		{ModShift, "shift"},
		{ModAlt, "alt"},
		{ModSuper, "super"},
	} {
		if c.Mods&m.mod != 0 {
			parts = append(parts, m.name)
		}
	}
	if name, ok := keyNames[c.Code]; ok {
		parts = append(parts, name)
	} else {
		parts = append(parts, "code:"+strconv.Itoa(int(c.Code)))
	}
	return strings.Join(parts, "+")
}
