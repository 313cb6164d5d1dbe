// Package hotkey регистрирует глобальные горячие клавиши.
package hotkey

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.design/x/hotkey"
	"golang.design/x/hotkey/mainthread"

	"recallai/internal/config"
)

// Имена привязок.
const (
	Session = "session"
	Dismiss = "dismiss"
)

// debounceInterval защищает от key repeat.
const debounceInterval = 300 * time.Millisecond

const unregisterTimeout = 500 * time.Millisecond

// Manager держит несколько именованных горячих клавиш.
type Manager struct {
	mu       sync.Mutex
	bindings map[string]*binding
	logger   *zap.Logger
}

type binding struct {
	hk     *hotkey.Hotkey
	cfg    config.HotkeyConfig
	stopCh chan struct{}
}

// New создаёт менеджер горячих клавиш.
func New(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		bindings: make(map[string]*binding),
		logger:   logger.Named("hotkey"),
	}
}

// Register регистрирует (или перерегистрирует) привязку name.
// onPress вызывается в отдельной горутине слушателя.
func (m *Manager) Register(name string, cfg config.HotkeyConfig, onPress func()) error {
	mods, key, err := convert(cfg)
	if err != nil {
		return fmt.Errorf("hotkey %s: %w", name, err)
	}

	m.Unregister(name)

	hk := hotkey.New(mods, key)
	if err := hk.Register(); err != nil {
		m.logger.Warn("hotkey registration failed",
			zap.String("name", name), zap.String("hotkey", cfg.String()), zap.Error(err))
		return fmt.Errorf("register %s (%s): %w", name, cfg.String(), err)
	}

	b := &binding{hk: hk, cfg: cfg, stopCh: make(chan struct{})}
	m.mu.Lock()
	m.bindings[name] = b
	m.mu.Unlock()

	m.logger.Info("hotkey registered", zap.String("name", name), zap.String("hotkey", cfg.String()))
	go listen(b, onPress)
	return nil
}

func listen(b *binding, onPress func()) {
	d := debouncer{interval: debounceInterval}
	for {
		select {
		case <-b.stopCh:
			return
		case _, ok := <-b.hk.Keydown():
			if !ok {
				return
			}
			if d.allow(time.Now()) && onPress != nil {
				onPress()
			}
		case _, ok := <-b.hk.Keyup():
			if !ok {
				return
			}
		}
	}
}

// Unregister снимает привязку name, если она есть.
func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	b, ok := m.bindings[name]
	delete(m.bindings, name)
	m.mu.Unlock()
	if !ok {
		return
	}

	close(b.stopCh)

	// Unregister на некоторых платформах может зависнуть.
	done := make(chan struct{})
	go func() {
		if err := b.hk.Unregister(); err != nil {
			m.logger.Debug("hotkey unregister", zap.String("name", name), zap.Error(err))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(unregisterTimeout):
		m.logger.Warn("hotkey unregister timeout", zap.String("name", name))
	}
}

// Close снимает все привязки.
func (m *Manager) Close() {
	m.mu.Lock()
	names := make([]string, 0, len(m.bindings))
	for name := range m.bindings {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		m.Unregister(name)
	}
}

// Current возвращает зарегистрированную комбинацию привязки name.
func (m *Manager) Current(name string) (config.HotkeyConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[name]
	if !ok {
		return config.HotkeyConfig{}, false
	}
	return b.cfg, true
}

// RunOnMainThread запускает функцию в главном потоке (требование для macOS).
func RunOnMainThread(fn func()) {
	mainthread.Init(fn)
}

// debouncer пропускает не больше одного нажатия за interval.
type debouncer struct {
	interval time.Duration
	last     time.Time
}

func (d *debouncer) allow(now time.Time) bool {
	if !d.last.IsZero() && now.Sub(d.last) < d.interval {
		return false
	}
	d.last = now
	return true
}

func convert(cfg config.HotkeyConfig) ([]hotkey.Modifier, hotkey.Key, error) {
	if !cfg.Valid() {
		return nil, 0, fmt.Errorf("invalid hotkey %q", cfg.String())
	}
	mods := make([]hotkey.Modifier, 0, len(cfg.Modifiers))
	for _, mod := range cfg.Modifiers {
		hm, ok := modifierMap[mod]
		if !ok {
			return nil, 0, fmt.Errorf("unsupported modifier %q", mod)
		}
		mods = append(mods, hm)
	}
	key, ok := keyMap[cfg.Key]
	if !ok {
		return nil, 0, fmt.Errorf("unsupported key %q", cfg.Key)
	}
	return mods, key, nil
}

// keyMap переводит клавиши конфигурации в коды hotkey.
var keyMap = map[config.Key]hotkey.Key{
	config.KeySpace:  hotkey.KeySpace,
	config.KeyReturn: hotkey.KeyReturn,
	config.KeyTab:    hotkey.KeyTab,
	config.KeyA:      hotkey.KeyA,
	config.KeyB:      hotkey.KeyB,
	config.KeyC:      hotkey.KeyC,
	config.KeyD:      hotkey.KeyD,
	config.KeyE:      hotkey.KeyE,
	config.KeyF:      hotkey.KeyF,
	config.KeyG:      hotkey.KeyG,
	config.KeyH:      hotkey.KeyH,
	config.KeyI:      hotkey.KeyI,
	config.KeyJ:      hotkey.KeyJ,
	config.KeyK:      hotkey.KeyK,
	config.KeyL:      hotkey.KeyL,
	config.KeyM:      hotkey.KeyM,
	config.KeyN:      hotkey.KeyN,
	config.KeyO:      hotkey.KeyO,
	config.KeyP:      hotkey.KeyP,
	config.KeyQ:      hotkey.KeyQ,
	config.KeyR:      hotkey.KeyR,
	config.KeyS:      hotkey.KeyS,
	config.KeyT:      hotkey.KeyT,
	config.KeyU:      hotkey.KeyU,
	config.KeyV:      hotkey.KeyV,
	config.KeyW:      hotkey.KeyW,
	config.KeyX:      hotkey.KeyX,
	config.KeyY:      hotkey.KeyY,
	config.KeyZ:      hotkey.KeyZ,
	config.KeyF1:     hotkey.KeyF1,
	config.KeyF2:     hotkey.KeyF2,
	config.KeyF3:     hotkey.KeyF3,
	config.KeyF4:     hotkey.KeyF4,
	config.KeyF5:     hotkey.KeyF5,
	config.KeyF6:     hotkey.KeyF6,
	config.KeyF7:     hotkey.KeyF7,
	config.KeyF8:     hotkey.KeyF8,
	config.KeyF9:     hotkey.KeyF9,
	config.KeyF10:    hotkey.KeyF10,
	config.KeyF11:    hotkey.KeyF11,
	config.KeyF12:    hotkey.KeyF12,
}
