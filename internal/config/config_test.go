package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettings_MissingFileUsesDefaults(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Backend.Port, s.Backend.Port)
	assert.Equal(t, 5*time.Second, s.Backend.HealthInterval)
	assert.Equal(t, 100*time.Millisecond, s.Session.PollInterval)
	assert.Equal(t, def.UI.SessionHotkey, s.UI.SessionHotkey)
	assert.Equal(t, "http://127.0.0.1:8000", s.BackendURL())
}

func TestLoadSettings_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
backend:
  port: 9001
  restart_delay: 3s
ui:
  language: zh
  dismiss_hotkey:
    modifiers: [alt]
    key: x
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	s, err := LoadSettings(path)
	require.NoError(t, err)

	assert.Equal(t, 9001, s.Backend.Port)
	assert.Equal(t, 3*time.Second, s.Backend.RestartDelay)
	assert.Equal(t, 2*time.Second, s.Backend.StopTimeout)
	assert.Equal(t, "zh", s.UI.Language)
	assert.Equal(t, HotkeyConfig{Modifiers: []Modifier{ModAlt}, Key: KeyX}, s.UI.DismissHotkey)
	assert.True(t, s.UI.Notifications)
}

func TestLoadSettings_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend:\n  port: 9001\n"), 0o600))

	t.Setenv("RECALLAI_BACKEND_PORT", "9100")
	t.Setenv("RECALLAI_SESSION_LOST_AFTER", "7")
	t.Setenv("RECALLAI_BACKEND_HEALTH_INTERVAL", "750ms")

	s, err := LoadSettings(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, s.Backend.Port)
	assert.Equal(t, 7, s.Session.LostAfter)
	assert.Equal(t, 750*time.Millisecond, s.Backend.HealthInterval)
}

func TestLoadSettings_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend:\n  port: 70000\n"), 0o600))

	_, err := LoadSettings(path)
	assert.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"RECALLAI_BACKEND_PORT":          "backend.port",
		"RECALLAI_BACKEND_RESTART_DELAY": "backend.restart_delay",
		"RECALLAI_UI_LANGUAGE":           "ui.language",
		"RECALLAI_DEBUG":                 "debug",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(s *Settings)
	}{
		{"empty host", func(s *Settings) { s.Backend.Host = "" }},
		{"zero port", func(s *Settings) { s.Backend.Port = 0 }},
		{"negative interval", func(s *Settings) { s.Backend.HealthInterval = -time.Second }},
		{"zero poll", func(s *Settings) { s.Session.PollInterval = 0 }},
		{"unknown language", func(s *Settings) { s.UI.Language = "ru" }},
		{"hotkey without modifiers", func(s *Settings) { s.UI.SessionHotkey.Modifiers = nil }},
		{"bridge without addr", func(s *Settings) { s.Bridge.Addr = "" }},
	}

	require.NoError(t, Default().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.modify(&s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestConfig_SettersPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := New(path, Default())

	require.NoError(t, cfg.SetLanguage("zh"))
	require.NoError(t, cfg.SetMicDevice("USB Mic"))
	require.NoError(t, cfg.SetToken("secret"))
	enabled, err := cfg.ToggleNotifications()
	require.NoError(t, err)
	assert.False(t, enabled)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "zh", reloaded.Language())
	assert.Equal(t, "USB Mic", reloaded.MicDevice())
	assert.Equal(t, "secret", reloaded.Token())
	assert.False(t, reloaded.NotificationsEnabled())
}

func TestConfig_SetLanguageRejectsUnknown(t *testing.T) {
	cfg := New("", Default())
	err := cfg.SetLanguage("fr")
	assert.ErrorIs(t, err, ErrUnknownLanguage)
	assert.Equal(t, "en", cfg.Language())
}

func TestConfig_HotkeyCallback(t *testing.T) {
	cfg := New("", Default())

	var gotSession, gotDismiss HotkeyConfig
	cfg.OnHotkeyChange(func(session, dismiss HotkeyConfig) {
		gotSession, gotDismiss = session, dismiss
	})

	hk := HotkeyConfig{Modifiers: []Modifier{ModAlt}, Key: KeyF9}
	require.NoError(t, cfg.SetSessionHotkey(hk))
	assert.Equal(t, hk, gotSession)
	assert.Equal(t, Default().UI.DismissHotkey, gotDismiss)

	assert.Error(t, cfg.SetDismissHotkey(HotkeyConfig{Key: KeyX}))
}

func TestConfig_SettingsIsCopy(t *testing.T) {
	cfg := New("", Default())
	s := cfg.Settings()
	s.UI.SessionHotkey.Modifiers[0] = ModSuper
	assert.Equal(t, ModCtrl, cfg.SessionHotkey().Modifiers[0])
}

func TestParseHotkey(t *testing.T) {
	hk, ok := ParseHotkey("Ctrl+Shift+D")
	require.True(t, ok)
	assert.Equal(t, HotkeyConfig{Modifiers: []Modifier{ModCtrl, ModShift}, Key: KeyD}, hk)
	assert.Equal(t, "ctrl+shift+d", hk.String())

	for _, bad := range []string{"", "d", "hyper+d", "ctrl+enter"} {
		_, ok := ParseHotkey(bad)
		assert.False(t, ok, bad)
	}
}
