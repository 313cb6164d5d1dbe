// Package tray предоставляет системный трей с меню.
package tray

import (
	"sync"

	"github.com/getlantern/systray"
	"go.uber.org/zap"

	"recallai/internal/i18n"
	"recallai/internal/icons"
)

// State представляет состояние приложения для отображения в трее.
type State int

const (
	StateStarting State = iota
	StateReady
	StateRecording
	StateOffline
	StateFailed
)

// Callbacks содержит обработчики событий меню. Каждый вызывается
// в горутине обработки меню.
type Callbacks struct {
	OnToggleSession       func()
	OnRewind              func()
	OnSignIn              func()
	OnMicrophone          func()
	OnSessionHotkey       func()
	OnDismissHotkey       func()
	OnRestartBackend      func()
	OnNotificationsToggle func() bool
	OnLanguage            func(lang i18n.Language)
	OnQuit                func()
}

// view - то, как состояние выглядит в трее.
type view struct {
	icon       icons.Kind
	status     string
	session    string
	canSession bool
}

func viewOf(s State) view {
	switch s {
	case StateReady:
		return view{icons.Ready, "tray_ready", "tray_start", true}
	case StateRecording:
		return view{icons.Recording, "tray_recording", "tray_stop", true}
	case StateOffline:
		return view{icons.Offline, "tray_offline", "tray_start", false}
	case StateFailed:
		return view{icons.Offline, "tray_failed", "tray_start", false}
	default:
		return view{icons.Starting, "tray_starting", "tray_start", false}
	}
}

// Tray управляет иконкой в системном трее.
type Tray struct {
	callbacks Callbacks
	logger    *zap.Logger

	mu           sync.Mutex
	state        State
	notifyOn     bool
	status       *systray.MenuItem
	session      *systray.MenuItem
	rewind       *systray.MenuItem
	signIn       *systray.MenuItem
	microphone   *systray.MenuItem
	hotkeys      *systray.MenuItem
	sessionKey   *systray.MenuItem
	dismissKey   *systray.MenuItem
	restart      *systray.MenuItem
	notify       *systray.MenuItem
	language     *systray.MenuItem
	languageOpts map[i18n.Language]*systray.MenuItem
	quit         *systray.MenuItem
}

// New создаёт новый Tray.
func New(callbacks Callbacks, notificationsOn bool, logger *zap.Logger) *Tray {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tray{
		callbacks: callbacks,
		notifyOn:  notificationsOn,
		logger:    logger.Named("tray"),
	}
}

// Run запускает системный трей. Блокирующая функция.
func (t *Tray) Run(onReady func()) {
	systray.Run(func() {
		t.onReady()
		if onReady != nil {
			onReady()
		}
	}, t.onExit)
}

func (t *Tray) onReady() {
	t.mu.Lock()
	defer t.mu.Unlock()

	systray.SetTitle("RecallAI")

	t.status = systray.AddMenuItem("", "")
	t.status.Disable()

	systray.AddSeparator()

	t.session = systray.AddMenuItem("", "")
	t.rewind = systray.AddMenuItem("", "")

	systray.AddSeparator()

	t.signIn = systray.AddMenuItem("", "")
	t.microphone = systray.AddMenuItem("", "")
	t.hotkeys = systray.AddMenuItem("", "")
	t.sessionKey = t.hotkeys.AddSubMenuItem("", "")
	t.dismissKey = t.hotkeys.AddSubMenuItem("", "")
	t.language = systray.AddMenuItem("", "")
	t.languageOpts = make(map[i18n.Language]*systray.MenuItem)
	for _, lang := range i18n.AvailableLanguages() {
		t.languageOpts[lang] = t.language.AddSubMenuItemCheckbox(i18n.LanguageName(lang), "", lang == i18n.GetLanguage())
	}
	t.notify = systray.AddMenuItemCheckbox("", "", t.notifyOn)

	systray.AddSeparator()

	t.restart = systray.AddMenuItem("", "")
	t.quit = systray.AddMenuItem("", "")

	t.refreshLocked()
	t.applyStateLocked()

	go t.handleMenuEvents()
	for lang, item := range t.languageOpts {
		go t.handleLanguage(lang, item)
	}
}

func (t *Tray) handleMenuEvents() {
	for {
		select {
		case <-t.session.ClickedCh:
			call(t.callbacks.OnToggleSession)
		case <-t.rewind.ClickedCh:
			call(t.callbacks.OnRewind)
		case <-t.signIn.ClickedCh:
			call(t.callbacks.OnSignIn)
		case <-t.microphone.ClickedCh:
			call(t.callbacks.OnMicrophone)
		case <-t.sessionKey.ClickedCh:
			call(t.callbacks.OnSessionHotkey)
		case <-t.dismissKey.ClickedCh:
			call(t.callbacks.OnDismissHotkey)
		case <-t.restart.ClickedCh:
			call(t.callbacks.OnRestartBackend)

		case <-t.notify.ClickedCh:
			if t.callbacks.OnNotificationsToggle != nil {
				t.setNotifications(t.callbacks.OnNotificationsToggle())
			}

		case <-t.quit.ClickedCh:
			t.logger.Info("quit requested from tray")
			call(t.callbacks.OnQuit)
			systray.Quit()
			return
		}
	}
}

func (t *Tray) handleLanguage(lang i18n.Language, item *systray.MenuItem) {
	for range item.ClickedCh {
		if t.callbacks.OnLanguage != nil {
			t.callbacks.OnLanguage(lang)
		}
		t.RefreshUI()
	}
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}

func (t *Tray) setNotifications(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notifyOn = on
	if on {
		t.notify.Check()
	} else {
		t.notify.Uncheck()
	}
}

// SetState устанавливает состояние приложения и обновляет иконку.
func (t *Tray) SetState(state State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = state
	t.applyStateLocked()
}

func (t *Tray) applyStateLocked() {
	if t.status == nil {
		return
	}
	v := viewOf(t.state)
	systray.SetIcon(icons.PNG(v.icon))
	systray.SetTooltip("RecallAI - " + i18n.T(v.status))
	t.status.SetTitle(i18n.T(v.status))
	t.session.SetTitle(i18n.T(v.session))
	if v.canSession {
		t.session.Enable()
	} else {
		t.session.Disable()
	}
	if t.state == StateRecording {
		t.rewind.Enable()
	} else {
		t.rewind.Disable()
	}
}

func (t *Tray) onExit() {
	t.logger.Debug("tray closed")
}

// Quit закрывает системный трей.
func (t *Tray) Quit() {
	systray.Quit()
}

// RefreshUI обновляет все тексты меню на текущем языке.
func (t *Tray) RefreshUI() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refreshLocked()
	t.applyStateLocked()
}

func (t *Tray) refreshLocked() {
	if t.status == nil {
		return
	}
	t.rewind.SetTitle(i18n.T("tray_rewind"))
	t.rewind.SetTooltip(i18n.T("tray_rewind_hint"))
	t.signIn.SetTitle(i18n.T("tray_sign_in"))
	t.signIn.SetTooltip(i18n.T("tray_sign_in_hint"))
	t.microphone.SetTitle(i18n.T("tray_microphone"))
	t.microphone.SetTooltip(i18n.T("tray_microphone_hint"))
	t.hotkeys.SetTitle(i18n.T("tray_hotkeys"))
	t.sessionKey.SetTitle(i18n.T("tray_session_hotkey"))
	t.dismissKey.SetTitle(i18n.T("tray_dismiss_hotkey"))
	t.language.SetTitle(i18n.T("tray_language"))
	for lang, item := range t.languageOpts {
		if lang == i18n.GetLanguage() {
			item.Check()
		} else {
			item.Uncheck()
		}
	}
	t.notify.SetTitle(i18n.T("tray_notifications"))
	t.notify.SetTooltip(i18n.T("tray_notifications_hint"))
	t.restart.SetTitle(i18n.T("tray_restart"))
	t.quit.SetTitle(i18n.T("tray_quit"))
	t.quit.SetTooltip(i18n.T("tray_quit_hint"))
}
