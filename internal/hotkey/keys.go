package hotkey

// Linux input event key codes (linux/input-event-codes.h)
const (
	keyEsc        uint16 = 1
	keyLeftCtrl   uint16 = 29
	keyLeftShift  uint16 = 42
	keyRightShift uint16 = 54
	keyLeftAlt    uint16 = 56
	keyRightCtrl  uint16 = 97
	keyRightAlt   uint16 = 100
	keyLeftMeta   uint16 = 125
	keyRightMeta  uint16 = 126
)

// Modifier is a bit set of logical modifier keys
type Modifier uint8

const (
	ModCtrl Modifier = 1 << iota
	ModShift
	ModAlt
	ModSuper
)

var modifierNames = map[string]Modifier{
	"ctrl":    ModCtrl,
	"control": ModCtrl,
	"shift":   ModShift,
	"alt":     ModAlt,
	"super":   ModSuper,
	"meta":    ModSuper,
	"win":     ModSuper,
}

// modifierKeys maps physical modifier keys to their logical modifier
var modifierKeys = map[uint16]Modifier{
	keyLeftCtrl:   ModCtrl,
	keyRightCtrl:  ModCtrl,
	keyLeftShift:  ModShift,
	keyRightShift: ModShift,
	keyLeftAlt:    ModAlt,
	keyRightAlt:   ModAlt,
	keyLeftMeta:   ModSuper,
	keyRightMeta:  ModSuper,
}

var keyCodes = map[string]uint16{
	"esc": keyEsc, "escape": keyEsc,
	"1": 2, "2": 3, "3": 4, "4": 5, "5": 6, "6": 7, "7": 8, "8": 9, "9": 10, "0": 11,
	"minus": 12, "equal": 13, "backspace": 14, "tab": 15,
	"q": 16, "w": 17, "e": 18, "r": 19, "t": 20, "y": 21, "u": 22, "i": 23, "o": 24, "p": 25,
	"leftbrace": 26, "rightbrace": 27, "enter": 28, "return": 28,
	"a": 30, "s": 31, "d": 32, "f": 33, "g": 34, "h": 35, "j": 36, "k": 37, "l": 38,
	"semicolon": 39, "apostrophe": 40, "grave": 41, "backslash": 43,
	"z": 44, "x": 45, "c": 46, "v": 47, "b": 48, "n": 49, "m": 50,
	"comma": 51, "dot": 52, "slash": 53, "kp_asterisk": 55, "space": 57, "capslock": 58,
	"f1": 59, "f2": 60, "f3": 61, "f4": 62, "f5": 63, "f6": 64, "f7": 65, "f8": 66, "f9": 67, "f10": 68,
	"numlock": 69, "scrolllock": 70,
	"kp7": 71, "kp8": 72, "kp9": 73, "kp_minus": 74, "kp4": 75, "kp5": 76, "kp6": 77, "kp_plus": 78,
	"kp1": 79, "kp2": 80, "kp3": 81, "kp0": 82, "kp_dot": 83,
	"f11": 87, "f12": 88, "kp_enter": 96, "kp_slash": 98, "sysrq": 99, "print": 99,
	"home": 102, "up": 103, "pageup": 104, "left": 105, "right": 106, "end": 107, "down": 108,
	"pagedown": 109, "insert": 110, "delete": 111,
	"mute": 113, "volumedown": 114, "volumeup": 115, "pause": 119,
	"nextsong": 163, "playpause": 164, "previoussong": 165,
	"f13": 183, "f14": 184, "f15": 185, "f16": 186, "f17": 187, "f18": 188,
	"f19": 189, "f20": 190, "f21": 191, "f22": 192, "f23": 193, "f24": 194,
	"brightnessdown": 224, "brightnessup": 225,
}

var keyNames = func() map[uint16]string {
	names := make(map[uint16]string, len(keyCodes))
	for name, code := range keyCodes {
		// Prefer the shortest alias as canonical name
		if prev, ok := names[code]; !ok || len(name) < len(prev) || (len(name) == len(prev) && name < prev) {
			names[code] = name
		}
	}
	return names
}()
