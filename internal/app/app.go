// Package app связывает компоненты оболочки: бэкенд, опрос, базу знаний,
// мост и интерфейс в трее.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"recallai/internal/audio"
	"recallai/internal/backend"
	"recallai/internal/bridge"
	"recallai/internal/config"
	"recallai/internal/envfile"
	"recallai/internal/hotkey"
	"recallai/internal/i18n"
	"recallai/internal/kb"
	"recallai/internal/metrics"
	"recallai/internal/notify"
	"recallai/internal/overlay"
	"recallai/internal/session"
	"recallai/internal/startup"
	"recallai/internal/supervisor"
	"recallai/internal/tray"
)

const (
	// envDebounce - пауза перед перезапуском после изменения .env.
	envDebounce = 500 * time.Millisecond
	// stopTimeout ограничивает остановку бэкенда при выходе.
	stopTimeout = 10 * time.Second
	// eventBuffer - размер буфера подписок на события сессии.
	eventBuffer = 256
)

// App представляет главное приложение.
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	store      *kb.Store
	client     *backend.Client
	supervisor *supervisor.Supervisor
	monitor    *session.Monitor
	bridge     *bridge.Server // nil, если мост выключен
	notifier   *notify.Notifier

	// Интерфейс, используется только в режиме трея.
	tray       *tray.Tray
	hotkeys    *hotkey.Manager
	overlay    *overlay.Window
	startupWin *startup.Window

	mu          sync.Mutex
	ui          uiState
	startupDone bool
	ctx         context.Context
	cancel      context.CancelFunc
}

// New создаёт приложение по конфигурации. Процессы и окна не запускаются
// до Run или RunHeadless.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := cfg.Settings()

	if !i18n.SetLanguage(i18n.Language(s.UI.Language)) {
		logger.Warn("unsupported UI language, using default", zap.String("language", s.UI.Language))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	store, err := kb.Open(s.DatabasePath(), logger)
	if err != nil {
		return nil, fmt.Errorf("open knowledge base: %w", err)
	}

	client := backend.New(backend.Config{
		URL:     s.BackendURL(),
		Timeout: s.Backend.RequestTimeout,
	}, logger)

	sup := supervisor.New(supervisor.Config{
		Command:         s.Backend.Path,
		Args:            s.Backend.Args,
		WorkDir:         s.Backend.WorkDir,
		EnvFile:         s.Backend.EnvFile,
		Host:            s.Backend.Host,
		Port:            s.Backend.Port,
		HealthInterval:  s.Backend.HealthInterval,
		RestartDelay:    s.Backend.RestartDelay,
		StopTimeout:     s.Backend.StopTimeout,
		PortReleaseWait: s.Backend.PortReleaseWait,
		StartupGrace:    s.Backend.StartupGrace,
		MaxRestarts:     s.Backend.MaxRestarts,
		RestartWindow:   s.Backend.RestartWindow,
	}, client, logger, m)

	monitor := session.NewMonitor(client, session.Config{
		PollInterval: s.Session.PollInterval,
		LostAfter:    s.Session.LostAfter,
	}, logger, m)

	overlayCfg := overlay.DefaultConfig()
	overlayCfg.Margin = s.UI.OverlayMargin

	a := &App{
		cfg:        cfg,
		logger:     logger,
		registry:   registry,
		metrics:    m,
		store:      store,
		client:     client,
		supervisor: sup,
		monitor:    monitor,
		notifier:   notify.New(s.UI.Notifications, logger),
		hotkeys:    hotkey.New(logger),
		overlay:    overlay.New(overlayCfg, logger),
		startupWin: startup.New(),
		ui:         uiState{backend: supervisor.StateStopped, reachable: true},
	}

	if s.Bridge.Enabled {
		a.bridge = bridge.New(s.Bridge.Addr, bridge.Deps{
			Backend:     client,
			Supervisor:  sup,
			Session:     monitor,
			Store:       store,
			Preferences: cfg,
			Gatherer:    registry,
			LocalMics:   audio.InputNames,
		}, logger)
	}

	a.tray = tray.New(a.trayCallbacks(), s.UI.Notifications, logger)
	sup.OnStateChange(a.onBackendState)
	cfg.OnHotkeyChange(func(session, dismiss config.HotkeyConfig) {
		a.registerHotkeys(session, dismiss)
	})
	a.overlay.OnClose(monitor.DismissCard)
	a.overlay.OnCopy(a.copyCard)

	return a, nil
}

// Run запускает приложение с треем. Блокируется до выхода из трея;
// вызывать из главного потока.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.setContext(ctx, cancel)
	defer cancel()

	ready := make(chan struct{})
	errCh := make(chan error, 1)
	a.tray.Run(func() {
		close(ready)
		a.startupWin.Show()
		a.registerHotkeys(a.cfg.SessionHotkey(), a.cfg.DismissHotkey())

		go func() {
			err := a.serve(ctx, true)
			errCh <- err
			if err != nil {
				a.logger.Error("services stopped", zap.Error(err))
				a.fatal(err)
			}
		}()
	})

	// Трей закрыт: останавливаем сервисы и ждём бэкенд.
	cancel()
	var err error
	select {
	case <-ready:
		err = <-errCh
	default:
	}
	a.close()
	return err
}

// RunHeadless запускает бэкенд, опрос, архив, мост и наблюдение за .env
// без интерфейса до отмены ctx.
func (a *App) RunHeadless(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.setContext(ctx, cancel)
	defer cancel()

	a.notifier.SetEnabled(false)
	err := a.serve(ctx, false)
	a.close()
	return err
}

func (a *App) setContext(ctx context.Context, cancel context.CancelFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ctx = ctx
	a.cancel = cancel
}

// runCtx возвращает контекст работающего приложения.
func (a *App) runCtx() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ctx == nil {
		return context.Background()
	}
	return a.ctx
}

// serve запускает сервисы и блокируется до отмены ctx. Остановка идёт
// в порядке: мост, опрос, наблюдение за .env, затем бэкенд.
func (a *App) serve(ctx context.Context, withUI bool) error {
	a.logger.Info("starting backend", zap.String("path", a.cfg.Settings().Backend.Path))
	if err := a.supervisor.Start(ctx); err != nil {
		return fmt.Errorf("start backend: %w", err)
	}
	defer a.stopBackend()

	// Подписки до запуска опроса, чтобы не потерять первые события.
	archiveEvents, _ := a.monitor.Subscribe(eventBuffer)
	var uiEvents <-chan session.Event
	if withUI {
		uiEvents, _ = a.monitor.Subscribe(eventBuffer)
	}

	r := newRunner(ctx, a.logger)
	if a.bridge != nil {
		r.Stage("bridge", a.bridge.Run)
	}
	r.Stage("poller", a.monitor.Run)
	r.Stage("env watcher", a.watchEnv)

	saver := archiveSaver{store: a.store, notifier: a.notifier}
	r.Go("archive", func() error {
		return session.Archive(context.WithoutCancel(ctx), archiveEvents, saver, a.logger)
	})
	if uiEvents != nil {
		r.Go("ui events", func() error {
			a.handleEvents(uiEvents)
			return nil
		})
	}

	return r.Wait()
}

// watchEnv перезапускает бэкенд при изменении его .env файла.
// Ошибки наблюдения не фатальны.
func (a *App) watchEnv(ctx context.Context) error {
	path := a.cfg.Settings().Backend.EnvFile
	if path == "" {
		return nil
	}
	err := envfile.Watch(ctx, path, envDebounce, a.logger, func() {
		a.logger.Info("env file changed, restarting backend", zap.String("path", path))
		if err := a.supervisor.Restart(ctx); err != nil {
			a.logger.Warn("restart after env change failed", zap.Error(err))
		}
	})
	if err != nil && ctx.Err() == nil {
		a.logger.Warn("env file watcher disabled", zap.String("path", path), zap.Error(err))
		return nil
	}
	return err
}

func (a *App) stopBackend() {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := a.supervisor.Stop(ctx); err != nil {
		a.logger.Warn("stop backend", zap.Error(err))
	}
	a.logger.Info("backend stopped")
}

// applyPreferences передаёт бэкенду сохранённые токен и микрофон.
func (a *App) applyPreferences(ctx context.Context) {
	if token := a.cfg.Token(); token != "" {
		if err := a.client.SetToken(ctx, token); err != nil {
			a.logger.Warn("restore token", zap.Error(err))
		}
	}
	if mic := a.cfg.MicDevice(); mic != "" {
		if err := a.client.SetMicDevice(ctx, mic); err != nil {
			a.logger.Warn("restore microphone", zap.String("device", mic), zap.Error(err))
		}
	}
}

// close освобождает ресурсы приложения.
func (a *App) close() {
	a.hotkeys.Close()
	a.overlay.Hide()
	a.startupWin.Hide()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close knowledge base", zap.Error(err))
	}
}

// archiveSaver сохраняет транскрипт и сообщает об этом пользователю.
type archiveSaver struct {
	store    *kb.Store
	notifier *notify.Notifier
}

func (s archiveSaver) SaveSession(ctx context.Context, name string, lines []backend.TranscriptLine, startedAt, endedAt time.Time) (string, error) {
	id, err := s.store.SaveSession(ctx, name, lines, startedAt, endedAt)
	if err != nil {
		return "", err
	}
	s.notifier.TranscriptSaved(name)
	return id, nil
}
