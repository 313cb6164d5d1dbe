package config

import "strings"

// Modifier представляет модификатор клавиши.
type Modifier string

const (
	ModCtrl  Modifier = "ctrl"
	ModShift Modifier = "shift"
	ModAlt   Modifier = "alt"
	ModSuper Modifier = "super" // Win/Cmd
)

// Key представляет клавишу.
type Key string

const (
	KeySpace  Key = "space"
	KeyReturn Key = "return"
	KeyTab    Key = "tab"
	KeyA      Key = "a"
	KeyB      Key = "b"
	KeyC      Key = "c"
	KeyD      Key = "d"
	KeyE      Key = "e"
	KeyF      Key = "f"
	KeyG      Key = "g"
	KeyH      Key = "h"
	KeyI      Key = "i"
	KeyJ      Key = "j"
	KeyK      Key = "k"
	KeyL      Key = "l"
	KeyM      Key = "m"
	KeyN      Key = "n"
	KeyO      Key = "o"
	KeyP      Key = "p"
	KeyQ      Key = "q"
	KeyR      Key = "r"
	KeyS      Key = "s"
	KeyT      Key = "t"
	KeyU      Key = "u"
	KeyV      Key = "v"
	KeyW      Key = "w"
	KeyX      Key = "x"
	KeyY      Key = "y"
	KeyZ      Key = "z"
	KeyF1     Key = "f1"
	KeyF2     Key = "f2"
	KeyF3     Key = "f3"
	KeyF4     Key = "f4"
	KeyF5     Key = "f5"
	KeyF6     Key = "f6"
	KeyF7     Key = "f7"
	KeyF8     Key = "f8"
	KeyF9     Key = "f9"
	KeyF10    Key = "f10"
	KeyF11    Key = "f11"
	KeyF12    Key = "f12"
)

// HotkeyConfig хранит сочетание клавиш.
type HotkeyConfig struct {
	Modifiers []Modifier `koanf:"modifiers" yaml:"modifiers"`
	Key       Key        `koanf:"key" yaml:"key"`
}

// String возвращает строковое представление сочетания, например "ctrl+shift+space".
func (h HotkeyConfig) String() string {
	parts := make([]string, 0, len(h.Modifiers)+1)
	for _, m := range h.Modifiers {
		parts = append(parts, string(m))
	}
	parts = append(parts, string(h.Key))
	return strings.Join(parts, "+")
}

// ParseHotkey разбирает строку вида "ctrl+shift+d".
func ParseHotkey(s string) (HotkeyConfig, bool) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "+")
	if len(parts) < 2 {
		return HotkeyConfig{}, false
	}

	var hk HotkeyConfig
	for _, p := range parts[:len(parts)-1] {
		m := Modifier(strings.TrimSpace(p))
		if !isModifier(m) {
			return HotkeyConfig{}, false
		}
		hk.Modifiers = append(hk.Modifiers, m)
	}

	hk.Key = Key(strings.TrimSpace(parts[len(parts)-1]))
	if !isKey(hk.Key) {
		return HotkeyConfig{}, false
	}
	return hk, true
}

// Valid проверяет, что сочетание содержит известные модификаторы и клавишу.
func (h HotkeyConfig) Valid() bool {
	if len(h.Modifiers) == 0 || !isKey(h.Key) {
		return false
	}
	for _, m := range h.Modifiers {
		if !isModifier(m) {
			return false
		}
	}
	return true
}

func (h HotkeyConfig) clone() HotkeyConfig {
	mods := make([]Modifier, len(h.Modifiers))
	copy(mods, h.Modifiers)
	return HotkeyConfig{Modifiers: mods, Key: h.Key}
}

// AvailableModifiers возвращает список доступных модификаторов.
func AvailableModifiers() []Modifier {
	return []Modifier{ModCtrl, ModShift, ModAlt, ModSuper}
}

// AvailableKeys возвращает список доступных клавиш.
func AvailableKeys() []Key {
	return []Key{
		KeySpace, KeyReturn, KeyTab,
		KeyA, KeyB, KeyC, KeyD, KeyE, KeyF, KeyG, KeyH, KeyI, KeyJ, KeyK, KeyL, KeyM,
		KeyN, KeyO, KeyP, KeyQ, KeyR, KeyS, KeyT, KeyU, KeyV, KeyW, KeyX, KeyY, KeyZ,
		KeyF1, KeyF2, KeyF3, KeyF4, KeyF5, KeyF6, KeyF7, KeyF8, KeyF9, KeyF10, KeyF11, KeyF12,
	}
}

func isModifier(m Modifier) bool {
	for _, v := range AvailableModifiers() {
		if v == m {
			return true
		}
	}
	return false
}

func isKey(k Key) bool {
	for _, v := range AvailableKeys() {
		if v == k {
			return true
		}
	}
	return false
}
