// Package config предоставляет конфигурацию приложения с сохранением в файл.
package config

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownLanguage возвращается при попытке выбрать неподдерживаемый язык.
var ErrUnknownLanguage = errors.New("unknown language")

// Config хранит настройки приложения и сохраняет изменения пользователя.
type Config struct {
	mu             sync.RWMutex
	settings       Settings
	path           string
	onHotkeyChange func(session, dismiss HotkeyConfig)
}

// Load читает конфигурацию из path (пустой путь - путь по умолчанию).
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	s, err := LoadSettings(path)
	if err != nil {
		return nil, err
	}
	return New(path, s), nil
}

// New оборачивает готовые настройки. Пустой path отключает сохранение.
func New(path string, s Settings) *Config {
	return &Config{settings: s.clone(), path: path}
}

// Path возвращает путь к файлу конфигурации.
func (c *Config) Path() string {
	return c.path
}

// Settings возвращает копию текущих настроек.
func (c *Config) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings.clone()
}

// Save сохраняет конфигурацию в файл.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.save()
}

// save вызывается под блокировкой.
func (c *Config) save() error {
	if c.path == "" {
		return nil
	}
	return writeSettings(c.path, c.settings)
}

// update применяет fn под блокировкой и сохраняет результат.
// При ошибке сохранения изменение откатывается.
func (c *Config) update(fn func(s *Settings)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.settings.clone()
	fn(&c.settings)
	if err := c.save(); err != nil {
		c.settings = prev
		return err
	}
	return nil
}

// Language возвращает язык интерфейса.
func (c *Config) Language() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings.UI.Language
}

// SetLanguage устанавливает язык интерфейса.
func (c *Config) SetLanguage(lang string) error {
	if !knownLanguage(lang) {
		return fmt.Errorf("%w: %q", ErrUnknownLanguage, lang)
	}
	return c.update(func(s *Settings) { s.UI.Language = lang })
}

// NotificationsEnabled возвращает true если уведомления включены.
func (c *Config) NotificationsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings.UI.Notifications
}

// ToggleNotifications переключает состояние уведомлений.
func (c *Config) ToggleNotifications() (bool, error) {
	var enabled bool
	err := c.update(func(s *Settings) {
		s.UI.Notifications = !s.UI.Notifications
		enabled = s.UI.Notifications
	})
	if err != nil {
		return c.NotificationsEnabled(), err
	}
	return enabled, nil
}

// SessionHotkey возвращает сочетание для старта/остановки интервью.
func (c *Config) SessionHotkey() HotkeyConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings.UI.SessionHotkey.clone()
}

// DismissHotkey возвращает сочетание для закрытия карточки.
func (c *Config) DismissHotkey() HotkeyConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings.UI.DismissHotkey.clone()
}

// SetSessionHotkey устанавливает сочетание для старта/остановки интервью.
func (c *Config) SetSessionHotkey(hk HotkeyConfig) error {
	return c.setHotkeys(func(s *Settings) { s.UI.SessionHotkey = hk.clone() }, hk)
}

// SetDismissHotkey устанавливает сочетание для закрытия карточки.
func (c *Config) SetDismissHotkey(hk HotkeyConfig) error {
	return c.setHotkeys(func(s *Settings) { s.UI.DismissHotkey = hk.clone() }, hk)
}

func (c *Config) setHotkeys(fn func(s *Settings), hk HotkeyConfig) error {
	if !hk.Valid() {
		return fmt.Errorf("invalid hotkey %q", hk)
	}
	if err := c.update(fn); err != nil {
		return err
	}

	c.mu.RLock()
	callback := c.onHotkeyChange
	session, dismiss := c.settings.UI.SessionHotkey.clone(), c.settings.UI.DismissHotkey.clone()
	c.mu.RUnlock()

	if callback != nil {
		callback(session, dismiss)
	}
	return nil
}

// OnHotkeyChange устанавливает callback для изменения горячих клавиш.
func (c *Config) OnHotkeyChange(fn func(session, dismiss HotkeyConfig)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onHotkeyChange = fn
}

// MicDevice возвращает выбранный микрофон.
func (c *Config) MicDevice() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings.Audio.MicDevice
}

// SetMicDevice запоминает выбранный микрофон.
func (c *Config) SetMicDevice(name string) error {
	return c.update(func(s *Settings) { s.Audio.MicDevice = name })
}

// Token возвращает сохранённый токен авторизации.
func (c *Config) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings.Auth.Token
}

// SetToken сохраняет токен авторизации.
func (c *Config) SetToken(token string) error {
	return c.update(func(s *Settings) { s.Auth.Token = token })
}
