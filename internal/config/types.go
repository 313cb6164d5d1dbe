package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

const appDirName = "recallai"

// BackendSettings описывает процесс бэкенда и политику его надзора.
type BackendSettings struct {
	Path            string        `koanf:"path" yaml:"path"`
	Args            []string      `koanf:"args" yaml:"args,omitempty"`
	WorkDir         string        `koanf:"work_dir" yaml:"work_dir"`
	EnvFile         string        `koanf:"env_file" yaml:"env_file"`
	Host            string        `koanf:"host" yaml:"host"`
	Port            int           `koanf:"port" yaml:"port"`
	HealthInterval  time.Duration `koanf:"health_interval" yaml:"health_interval"`
	RestartDelay    time.Duration `koanf:"restart_delay" yaml:"restart_delay"`
	StopTimeout     time.Duration `koanf:"stop_timeout" yaml:"stop_timeout"`
	PortReleaseWait time.Duration `koanf:"port_release_wait" yaml:"port_release_wait"`
	StartupGrace    time.Duration `koanf:"startup_grace" yaml:"startup_grace"`
	MaxRestarts     int           `koanf:"max_restarts" yaml:"max_restarts"`
	RestartWindow   time.Duration `koanf:"restart_window" yaml:"restart_window"`
	RequestTimeout  time.Duration `koanf:"request_timeout" yaml:"request_timeout"`
}

// SessionSettings управляет опросом бэкенда.
type SessionSettings struct {
	PollInterval time.Duration `koanf:"poll_interval" yaml:"poll_interval"`
	LostAfter    int           `koanf:"lost_after" yaml:"lost_after"`
}

// BridgeSettings управляет локальным HTTP API.
type BridgeSettings struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Addr    string `koanf:"addr" yaml:"addr"`
}

// UISettings хранит настройки интерфейса.
type UISettings struct {
	Language      string       `koanf:"language" yaml:"language"`
	Notifications bool         `koanf:"notifications" yaml:"notifications"`
	SessionHotkey HotkeyConfig `koanf:"session_hotkey" yaml:"session_hotkey"`
	DismissHotkey HotkeyConfig `koanf:"dismiss_hotkey" yaml:"dismiss_hotkey"`
	OverlayMargin int          `koanf:"overlay_margin" yaml:"overlay_margin"`
}

// AudioSettings хранит выбранный микрофон.
type AudioSettings struct {
	MicDevice string `koanf:"mic_device" yaml:"mic_device,omitempty"`
}

// AuthSettings хранит токен, переданный бэкенду.
type AuthSettings struct {
	Token string `koanf:"token" yaml:"token,omitempty"`
}

// DataSettings указывает, где лежит база знаний.
type DataSettings struct {
	Dir string `koanf:"dir" yaml:"dir"`
}

// Settings - полный набор настроек приложения.
type Settings struct {
	Backend BackendSettings `koanf:"backend" yaml:"backend"`
	Session SessionSettings `koanf:"session" yaml:"session"`
	Bridge  BridgeSettings  `koanf:"bridge" yaml:"bridge"`
	UI      UISettings      `koanf:"ui" yaml:"ui"`
	Audio   AudioSettings   `koanf:"audio" yaml:"audio"`
	Auth    AuthSettings    `koanf:"auth" yaml:"auth"`
	Data    DataSettings    `koanf:"data" yaml:"data"`
}

// Default возвращает настройки по умолчанию.
// Бэкенд по умолчанию ищется в директории backend/ рядом с бинарником.
func Default() Settings {
	backendDir := filepath.Join(execDir(), "backend")
	name := "backend_executable"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}

	return Settings{
		Backend: BackendSettings{
			Path:            filepath.Join(backendDir, name),
			WorkDir:         backendDir,
			EnvFile:         filepath.Join(backendDir, ".env"),
			Host:            "127.0.0.1",
			Port:            8000,
			HealthInterval:  5 * time.Second,
			RestartDelay:    2 * time.Second,
			StopTimeout:     2 * time.Second,
			PortReleaseWait: time.Second,
			StartupGrace:    30 * time.Second,
			MaxRestarts:     5,
			RestartWindow:   time.Minute,
			RequestTimeout:  3 * time.Second,
		},
		Session: SessionSettings{
			PollInterval: 100 * time.Millisecond,
			LostAfter:    3,
		},
		Bridge: BridgeSettings{
			Enabled: true,
			Addr:    "127.0.0.1:8765",
		},
		UI: UISettings{
			Language:      "en",
			Notifications: true,
			SessionHotkey: HotkeyConfig{Modifiers: []Modifier{ModCtrl, ModShift}, Key: KeySpace},
			DismissHotkey: HotkeyConfig{Modifiers: []Modifier{ModCtrl, ModShift}, Key: KeyD},
			OverlayMargin: 20,
		},
		Data: DataSettings{
			Dir: defaultDataDir(),
		},
	}
}

// Languages - поддерживаемые языки интерфейса.
var Languages = []string{"en", "zh"}

// Validate проверяет настройки.
func (s Settings) Validate() error {
	var errs []error

	if s.Backend.Host == "" {
		errs = append(errs, errors.New("backend.host is required"))
	}
	if s.Backend.Port <= 0 || s.Backend.Port > 65535 {
		errs = append(errs, fmt.Errorf("backend.port must be in 1..65535, got %d", s.Backend.Port))
	}
	for name, d := range map[string]time.Duration{
		"backend.health_interval": s.Backend.HealthInterval,
		"backend.restart_delay":   s.Backend.RestartDelay,
		"backend.stop_timeout":    s.Backend.StopTimeout,
		"backend.restart_window":  s.Backend.RestartWindow,
		"backend.request_timeout": s.Backend.RequestTimeout,
		"session.poll_interval":   s.Session.PollInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if s.Backend.MaxRestarts <= 0 {
		errs = append(errs, errors.New("backend.max_restarts must be positive"))
	}
	if s.Session.LostAfter <= 0 {
		errs = append(errs, errors.New("session.lost_after must be positive"))
	}
	if s.Bridge.Enabled && s.Bridge.Addr == "" {
		errs = append(errs, errors.New("bridge.addr is required when the bridge is enabled"))
	}
	if !knownLanguage(s.UI.Language) {
		errs = append(errs, fmt.Errorf("ui.language %q is not supported", s.UI.Language))
	}
	if !s.UI.SessionHotkey.Valid() {
		errs = append(errs, fmt.Errorf("ui.session_hotkey %q is invalid", s.UI.SessionHotkey))
	}
	if !s.UI.DismissHotkey.Valid() {
		errs = append(errs, fmt.Errorf("ui.dismiss_hotkey %q is invalid", s.UI.DismissHotkey))
	}
	if s.Data.Dir == "" {
		errs = append(errs, errors.New("data.dir is required"))
	}

	return errors.Join(errs...)
}

// BackendURL возвращает базовый URL HTTP API бэкенда.
func (s Settings) BackendURL() string {
	return fmt.Sprintf("http://%s:%d", s.Backend.Host, s.Backend.Port)
}

// DatabasePath возвращает путь к файлу базы знаний.
func (s Settings) DatabasePath() string {
	return filepath.Join(s.Data.Dir, "recallai.db")
}

func (s Settings) clone() Settings {
	out := s
	out.Backend.Args = append([]string(nil), s.Backend.Args...)
	out.UI.SessionHotkey = s.UI.SessionHotkey.clone()
	out.UI.DismissHotkey = s.UI.DismissHotkey.clone()
	return out
}

func knownLanguage(lang string) bool {
	for _, l := range Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// DefaultPath возвращает путь к файлу конфигурации по умолчанию.
func DefaultPath() string {
	return filepath.Join(userDir(), "config.yaml")
}

func defaultDataDir() string {
	return userDir()
}

func userDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, appDirName)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "."+appDirName)
	}
	return appDirName
}

func execDir() string {
	execPath, err := os.Executable()
	if err != nil {
		return "."
	}
	// Резолвим симлинки
	if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
		execPath = resolved
	}
	return filepath.Dir(execPath)
}
