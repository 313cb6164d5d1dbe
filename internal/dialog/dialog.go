// Package dialog предоставляет нативные диалоги (zenity).
package dialog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ncruces/zenity"

	"recallai/internal/config"
	"recallai/internal/i18n"
)

// ErrCanceled - пользователь закрыл диалог.
var ErrCanceled = zenity.ErrCanceled

// ErrNoModifier - в диалоге горячей клавиши не выбран модификатор.
var ErrNoModifier = errors.New("at least one modifier is required")

// Token запрашивает токен доступа скрытым полем ввода.
func Token() (string, error) {
	_, token, err := zenity.Password(
		zenity.Title(i18n.T("dialog_token_title")),
	)
	if err != nil {
		return "", err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrCanceled
	}
	return token, nil
}

// Microphone предлагает выбрать устройство из списка.
func Microphone(devices []string, current string) (string, error) {
	if len(devices) == 0 {
		ShowInfo(i18n.T("dialog_mic_title"), i18n.T("dialog_no_mics"))
		return "", ErrCanceled
	}
	opts := []zenity.Option{zenity.Title(i18n.T("dialog_mic_title"))}
	if current != "" {
		opts = append(opts, zenity.DefaultItems(current))
	}
	return zenity.List(i18n.T("dialog_mic_prompt"), devices, opts...)
}

var modifierLabels = []struct {
	mod   config.Modifier
	label string
}{
	{config.ModCtrl, "Ctrl"},
	{config.ModShift, "Shift"},
	{config.ModAlt, "Alt"},
	{config.ModSuper, "Super (Win/Cmd)"},
}

// SelectHotkey открывает двухшаговый выбор комбинации: модификаторы, затем клавиша.
func SelectHotkey(title string, current config.HotkeyConfig) (config.HotkeyConfig, error) {
	options := make([]string, len(modifierLabels))
	for i, m := range modifierLabels {
		options[i] = m.label
	}

	selected, err := zenity.ListMultiple(
		i18n.T("dialog_hotkey_modifiers"),
		options,
		zenity.Title(title),
		zenity.DefaultItems(modifierNames(current.Modifiers)...),
	)
	if err != nil {
		return current, err
	}
	mods := parseModifiers(selected)
	if len(mods) == 0 {
		return current, ErrNoModifier
	}

	keys := config.AvailableKeys()
	keyOptions := make([]string, len(keys))
	for i, k := range keys {
		keyOptions[i] = keyLabel(k)
	}

	choice, err := zenity.List(
		i18n.T("dialog_hotkey_key"),
		keyOptions,
		zenity.Title(title),
		zenity.DefaultItems(keyLabel(current.Key)),
	)
	if err != nil {
		return current, err
	}
	key, ok := parseKeyLabel(choice)
	if !ok {
		return current, fmt.Errorf("unknown key %q", choice)
	}

	return config.HotkeyConfig{Modifiers: mods, Key: key}, nil
}

// ShowInfo показывает информационное сообщение.
func ShowInfo(title, message string) {
	zenity.Info(message, zenity.Title(title))
}

// ShowError показывает сообщение об ошибке.
func ShowError(message string) {
	zenity.Error(message, zenity.Title(i18n.T("dialog_error_title")))
}

func modifierNames(mods []config.Modifier) []string {
	names := make([]string, 0, len(mods))
	for _, m := range mods {
		for _, ml := range modifierLabels {
			if ml.mod == m {
				names = append(names, ml.label)
			}
		}
	}
	return names
}

func parseModifiers(labels []string) []config.Modifier {
	mods := make([]config.Modifier, 0, len(labels))
	for _, l := range labels {
		for _, ml := range modifierLabels {
			if ml.label == l {
				mods = append(mods, ml.mod)
			}
		}
	}
	return mods
}

// keyLabel: "space" -> "Space", "a" -> "A", "f1" -> "F1".
func keyLabel(k config.Key) string {
	s := string(k)
	if len(s) <= 1 || strings.HasPrefix(s, "f") && len(s) <= 3 {
		return strings.ToUpper(s)
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func parseKeyLabel(label string) (config.Key, bool) {
	for _, k := range config.AvailableKeys() {
		if keyLabel(k) == label {
			return k, true
		}
	}
	return "", false
}
