package app

import (
	"errors"

	"go.uber.org/zap"

	"recallai/internal/audio"
	"recallai/internal/backend"
	"recallai/internal/clipboard"
	"recallai/internal/config"
	"recallai/internal/dialog"
	"recallai/internal/hotkey"
	"recallai/internal/i18n"
	"recallai/internal/session"
	"recallai/internal/supervisor"
	"recallai/internal/tray"
)

// uiState - то, что интерфейс знает о бэкенде и сессии.
type uiState struct {
	backend   supervisor.State
	reachable bool // опрос проходит
	recording bool // идёт интервью
	wasReady  bool // бэкенд хотя бы раз был готов
}

// trayState выбирает состояние иконки в трее.
func (s uiState) trayState() tray.State {
	switch s.backend {
	case supervisor.StateFailed:
		return tray.StateFailed
	case supervisor.StateRunning:
		switch {
		case !s.reachable:
			return tray.StateOffline
		case s.recording:
			return tray.StateRecording
		default:
			return tray.StateReady
		}
	case supervisor.StateStarting, supervisor.StateRestarting:
		return tray.StateStarting
	default:
		return tray.StateOffline
	}
}

// updateUI применяет fn к состоянию интерфейса и обновляет трей.
func (a *App) updateUI(fn func(s *uiState)) uiState {
	a.mu.Lock()
	prev := a.ui
	fn(&a.ui)
	next := a.ui
	a.mu.Unlock()

	if prev.trayState() != next.trayState() {
		a.tray.SetState(next.trayState())
	}
	return prev
}

// onBackendState вызывается супервизором при смене состояния.
func (a *App) onBackendState(st supervisor.State) {
	a.logger.Info("backend state", zap.String("state", string(st)))

	prev := a.updateUI(func(s *uiState) {
		s.backend = st
		if st == supervisor.StateRunning {
			s.reachable = true
			s.wasReady = true
		} else {
			s.recording = false
		}
	})

	switch st {
	case supervisor.StateRunning:
		if prev.wasReady {
			a.notifier.BackendRestarted()
		} else {
			a.notifier.BackendReady()
		}
		go a.applyPreferences(a.runCtx())
	case supervisor.StateFailed:
		a.notifier.BackendFailed()
	}

	a.followStartup()
}

// followStartup обновляет окно загрузки, пока бэкенд не стал готов
// в первый раз.
func (a *App) followStartup() {
	a.mu.Lock()
	if a.startupDone {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	if a.startupWin.Follow(a.supervisor.Status()) {
		a.mu.Lock()
		a.startupDone = true
		a.mu.Unlock()
		go a.startupWin.Hide()
	}
}

// handleEvents переводит события сессии в состояние трея, карточки и
// уведомления. Возвращается, когда канал закрыт.
func (a *App) handleEvents(events <-chan session.Event) {
	for e := range events {
		switch e.Type {
		case session.EventRunning:
			a.updateUI(func(s *uiState) { s.recording = e.Running })
			if !e.Running {
				a.overlay.Hide()
			}
		case session.EventCard:
			a.overlay.Show(e.Card)
			a.notifier.Card(e.Card)
		case session.EventCloudError:
			a.notifier.CloudError(e.CloudError)
		case session.EventBackendLost:
			prev := a.updateUI(func(s *uiState) {
				s.reachable = false
				s.recording = false
			})
			if prev.reachable {
				a.notifier.BackendOffline()
			}
		case session.EventBackendBack:
			a.updateUI(func(s *uiState) { s.reachable = true })
		}
	}
}

func (a *App) trayCallbacks() tray.Callbacks {
	return tray.Callbacks{
		OnToggleSession:  a.toggleSession,
		OnRewind:         a.rewind,
		OnSignIn:         a.signIn,
		OnMicrophone:     a.chooseMicrophone,
		OnSessionHotkey:  func() { a.chooseHotkey(hotkey.Session) },
		OnDismissHotkey:  func() { a.chooseHotkey(hotkey.Dismiss) },
		OnRestartBackend: a.restartBackend,
		OnNotificationsToggle: func() bool {
			enabled, err := a.cfg.ToggleNotifications()
			if err != nil {
				a.report("save settings", err)
			}
			a.notifier.SetEnabled(enabled)
			return enabled
		},
		OnLanguage: func(lang i18n.Language) {
			if err := a.cfg.SetLanguage(string(lang)); err != nil {
				a.report("save settings", err)
				return
			}
			i18n.SetLanguage(lang)
		},
		OnQuit: func() {
			a.logger.Info("quit requested")
			a.overlay.Hide()
			a.mu.Lock()
			cancel := a.cancel
			a.mu.Unlock()
			if cancel != nil {
				cancel()
			}
		},
	}
}

// toggleSession начинает или останавливает интервью.
func (a *App) toggleSession() {
	a.mu.Lock()
	recording := a.ui.recording
	a.mu.Unlock()

	ctx := a.runCtx()
	if recording {
		if err := a.client.Stop(ctx); err != nil {
			a.report("stop interview", err)
		}
		return
	}
	if err := a.client.Start(ctx); err != nil {
		a.report("start interview", err)
	}
}

func (a *App) rewind() {
	if err := a.client.Rewind(a.runCtx()); err != nil {
		a.report("rewind", err)
	}
}

// dismissCard закрывает карточку; та же карточка больше не покажется.
func (a *App) dismissCard() {
	a.monitor.DismissCard()
	a.overlay.Hide()
}

func (a *App) copyCard(card backend.Card) {
	if err := clipboard.CopyCard(card); err != nil {
		a.report("copy card", err)
		return
	}
	a.logger.Debug("card copied", zap.String("title", card.Title))
}

func (a *App) signIn() {
	token, err := dialog.Token()
	if errors.Is(err, dialog.ErrCanceled) {
		return
	}
	if err != nil {
		a.report("token dialog", err)
		return
	}
	if err := a.client.SetToken(a.runCtx(), token); err != nil {
		a.report("set token", err)
		return
	}
	if err := a.cfg.SetToken(token); err != nil {
		a.report("save settings", err)
	}
}

func (a *App) chooseMicrophone() {
	ctx := a.runCtx()
	var devices []string
	current := a.cfg.MicDevice()

	mics, err := a.client.MicDevices(ctx)
	if err != nil {
		a.logger.Warn("list backend microphones", zap.Error(err))
	} else {
		devices = mics.Available
		if mics.Current != "" {
			current = mics.Current
		}
	}
	if len(devices) == 0 {
		if devices, err = audio.InputNames(); err != nil {
			a.logger.Warn("list local microphones", zap.Error(err))
		}
	}

	device, err := dialog.Microphone(devices, current)
	if errors.Is(err, dialog.ErrCanceled) {
		return
	}
	if err != nil {
		a.report("microphone dialog", err)
		return
	}
	if err := a.client.SetMicDevice(ctx, device); err != nil {
		a.report("set microphone", err)
		return
	}
	if err := a.cfg.SetMicDevice(device); err != nil {
		a.report("save settings", err)
	}
}

// chooseHotkey спрашивает новое сочетание; перерегистрация идёт через
// config.OnHotkeyChange.
func (a *App) chooseHotkey(name string) {
	title, current, set := i18n.T("tray_session_hotkey"), a.cfg.SessionHotkey(), a.cfg.SetSessionHotkey
	if name == hotkey.Dismiss {
		title, current, set = i18n.T("tray_dismiss_hotkey"), a.cfg.DismissHotkey(), a.cfg.SetDismissHotkey
	}

	hk, err := dialog.SelectHotkey(title, current)
	if errors.Is(err, dialog.ErrCanceled) {
		return
	}
	if err != nil {
		a.report("hotkey dialog", err)
		return
	}
	if err := set(hk); err != nil {
		a.report("save settings", err)
	}
}

func (a *App) registerHotkeys(sessionKey, dismissKey config.HotkeyConfig) {
	if err := a.hotkeys.Register(hotkey.Session, sessionKey, a.toggleSession); err != nil {
		a.report("register hotkey", err)
	}
	if err := a.hotkeys.Register(hotkey.Dismiss, dismissKey, a.dismissCard); err != nil {
		a.report("register hotkey", err)
	}
}

func (a *App) restartBackend() {
	if err := a.supervisor.Restart(a.runCtx()); err != nil {
		a.report("restart backend", err)
	}
}

// report пишет ошибку в журнал и показывает уведомление.
func (a *App) report(action string, err error) {
	a.logger.Error(action+" failed", zap.Error(err))
	a.notifier.Error(action + ": " + err.Error())
}

// fatal сообщает о невосстановимой ошибке и закрывает трей.
func (a *App) fatal(err error) {
	dialog.ShowError(err.Error())
	a.tray.Quit()
}
