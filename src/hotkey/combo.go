package hotkey

import (
	"runtime"
	"strconv"
	"strings"

	hook "github.com/robotn/gohook"

	"framesense/src/failure"
)

// matchRawcodes enables the Windows virtual-key table. On other platforms
// Rawcode carries keysyms or native keycodes that collide with VK numbers.
var matchRawcodes = runtime.GOOS == "windows"

var modifiers = map[string]bool{"ctrl": true, "alt": true, "shift": true, "cmd": true}

// aliases maps alternative spellings to canonical key names.
var aliases = map[string]string{
	"option":  "alt",
	"opt":     "alt",
	"control": "ctrl",
	"win":     "cmd",
	"super":   "cmd",
	"command": "cmd",
	"meta":    "cmd",
	"return":  "enter",
	"escape":  "esc",
	"del":     "delete",
	"ins":     "insert",
	"pgup":    "pageup",
	"pgdn":    "pagedown",
}

// Combo is a normalised key combination such as alt+space.
type Combo struct {
	keys []string
}

// Keys returns the canonical key names in declaration order.
func (c Combo) Keys() []string { return append([]string(nil), c.keys...) }

func (c Combo) String() string { return strings.Join(c.keys, "+") }

// ParseCombo converts a hotkey string like "Option+Space" or "Ctrl+Alt+Q".
func ParseCombo(s string) (Combo, error) {
	parts := strings.Split(strings.ToLower(s), "+")
	seen := make(map[string]bool, len(parts))
	var keys []string
	nonModifier := 0
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return Combo{}, failure.New(failure.KindInvalidArgument, "parse hotkey", "empty key in %q", s)
		}
		if canon, ok := aliases[part]; ok {
			part = canon
		}
		if len(keyCodes(part)) == 0 && len(keyNameToRawcodes(part)) == 0 {
			return Combo{}, failure.New(failure.KindInvalidArgument, "parse hotkey", "unknown key %q in %q", part, s)
		}
		if seen[part] {
			return Combo{}, failure.New(failure.KindInvalidArgument, "parse hotkey", "key %q repeated in %q", part, s)
		}
		seen[part] = true
		if !modifiers[part] {
			nonModifier++
		}
		keys = append(keys, part)
	}
	if nonModifier != 1 {
		return Combo{}, failure.New(failure.KindInvalidArgument, "parse hotkey", "%q must name exactly one non-modifier key", s)
	}
	return Combo{keys: keys}, nil
}

// keyCodes returns the libuiohook keycodes for name, both hands for modifiers.
func keyCodes(name string) []uint16 {
	var names []string
	switch name {
	case "ctrl":
		names = []string{"lctrl", "rctrl", "ctrl"}
	case "alt":
		names = []string{"lalt", "ralt", "alt"}
	case "shift":
		names = []string{"lshift", "rshift", "shift"}
	case "cmd":
		names = []string{"lcmd", "rcmd", "cmd"}
	default:
		names = []string{name}
	}
	var codes []uint16
	for _, n := range names {
		if c, ok := hook.Keycode[n]; ok && c != 0 && !containsCode(codes, c) {
			codes = append(codes, c)
		}
	}
	return codes
}

func containsCode(codes []uint16, c uint16) bool {
	for _, x := range codes {
		if x == c {
			return true
		}
	}
	return false
}

// vkCodes holds Windows virtual-key codes; modifiers list left and right.
var vkCodes = func() map[string][]uint16 {
	m := map[string][]uint16{
		"ctrl":  {162, 163}, // VK_LCONTROL, VK_RCONTROL
		"alt":   {164, 165}, // VK_LMENU, VK_RMENU
		"shift": {160, 161}, // VK_LSHIFT, VK_RSHIFT
		"cmd":   {91, 92},   // VK_LWIN, VK_RWIN

		"space":     {32},
		"enter":     {13},
		"esc":       {27},
		"tab":       {9},
		"backspace": {8},
		"delete":    {46},
		"insert":    {45},
		"home":      {36},
		"end":       {35},
		"pageup":    {33},
		"pagedown":  {34},
		"left":      {37},
		"up":        {38},
		"right":     {39},
		"down":      {40},
	}
	for c := 'a'; c <= 'z'; c++ {
		m[string(c)] = []uint16{uint16(c - 'a' + 65)}
	}
	for c := '0'; c <= '9'; c++ {
		m[string(c)] = []uint16{uint16(c)}
	}
	for i := 1; i <= 24; i++ {
		m["f"+strconv.Itoa(i)] = []uint16{uint16(111 + i)} // VK_F1 = 112
	}
	return m
}()

// keyNameToRawcodes maps a key name to its Windows virtual-key rawcodes.
func keyNameToRawcodes(keyName string) []uint16 {
	keyName = strings.ToLower(strings.TrimSpace(keyName))
	if canon, ok := aliases[keyName]; ok {
		keyName = canon
	}
	return vkCodes[keyName]
}
