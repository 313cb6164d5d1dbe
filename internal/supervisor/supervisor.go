// Package supervisor запускает процесс бэкенда и следит за его жизнью:
// проверка порта, перезапуск после падения, проверки здоровья и
// корректная остановка (SIGTERM, затем SIGKILL).
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"recallai/internal/envfile"
	"recallai/internal/metrics"
)

// State - состояние супервизора.
type State string

const (
	StateStopped    State = "stopped"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateRestarting State = "restarting"
	StateStopping   State = "stopping"
	StateFailed     State = "failed"
)

// Причины перезапуска для метрик и логов.
const (
	reasonExit      = "exit"
	reasonUnhealthy = "unhealthy"
	reasonManual    = "manual"
)

var (
	// ErrPortBusy возвращается, если порт бэкенда занят и не освободился.
	ErrPortBusy = errors.New("backend port is busy")
	// ErrAlreadyRunning возвращается при повторном Start.
	ErrAlreadyRunning = errors.New("supervisor already running")
	// ErrNotRunning возвращается при Restart остановленного супервизора.
	ErrNotRunning = errors.New("supervisor is not running")
)

// HealthChecker проверяет, что бэкенд отвечает.
type HealthChecker interface {
	Check(ctx context.Context) error
}

// HealthCheckFunc позволяет использовать функцию как HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

// Check вызывает f(ctx).
func (f HealthCheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Config конфигурация супервизора.
type Config struct {
	Command string
	Args    []string
	WorkDir string
	EnvFile string
	Env     map[string]string

	Host string
	Port int

	HealthInterval  time.Duration
	RestartDelay    time.Duration
	StopTimeout     time.Duration
	PortReleaseWait time.Duration
	StartupGrace    time.Duration

	// Не больше MaxRestarts перезапусков за RestartWindow, иначе StateFailed.
	MaxRestarts   int
	RestartWindow time.Duration
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8000
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 5 * time.Second
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = 2 * time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 2 * time.Second
	}
	if c.PortReleaseWait <= 0 {
		c.PortReleaseWait = time.Second
	}
	if c.MaxRestarts <= 0 {
		c.MaxRestarts = 5
	}
	if c.RestartWindow <= 0 {
		c.RestartWindow = time.Minute
	}
}

// Status - снимок состояния для UI.
type Status struct {
	State     State     `json:"state"`
	PID       int       `json:"pid,omitempty"`
	Restarts  int       `json:"restarts"`
	LastError string    `json:"last_error,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// process - один запущенный экземпляр бэкенда.
type process struct {
	cmd       *exec.Cmd
	done      chan struct{}
	err       error
	startedAt time.Time
	// intentional выставляется, когда процесс завершаем мы сами.
	intentional bool
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Supervisor управляет процессом бэкенда.
type Supervisor struct {
	cfg     Config
	health  HealthChecker
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu             sync.Mutex
	state          State
	proc           *process
	restarts       int
	lastErr        error
	shuttingDown   bool
	respawnPending bool
	limiter        *rate.Limiter
	onState        func(State)
	pending        []State

	// freePort освобождает занятый порт; подменяется в тестах.
	freePort func(ctx context.Context, port int, logger *zap.Logger) error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New создаёт супервизор. health может быть nil: тогда проверки здоровья
// не выполняются и процесс считается готовым сразу после запуска.
func New(cfg Config, health HealthChecker, logger *zap.Logger, m *metrics.Metrics) *Supervisor {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		cfg:      cfg,
		health:   health,
		logger:   logger.Named("supervisor"),
		metrics:  m,
		state:    StateStopped,
		freePort: freePort,
	}
}

func (s *Supervisor) newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(s.cfg.RestartWindow/time.Duration(s.cfg.MaxRestarts)), s.cfg.MaxRestarts)
}

// OnStateChange устанавливает callback смены состояния.
// Callback вызывается вне внутренних блокировок.
func (s *Supervisor) OnStateChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = fn
}

// State возвращает текущее состояние.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status возвращает снимок состояния.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{State: s.state, Restarts: s.restarts}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	if s.proc != nil && !s.proc.exited() {
		st.PID = s.proc.cmd.Process.Pid
		st.StartedAt = s.proc.startedAt
	}
	return st
}

// Start проверяет порт, запускает процесс и цикл проверок здоровья.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.shuttingDown = false
	s.restarts = 0
	s.lastErr = nil
	s.limiter = s.newLimiter()
	s.setStateLocked(StateStarting)
	s.unlock()

	if err := s.ensurePortFree(ctx); err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.setStateLocked(StateStopped)
		s.unlock()
		return err
	}

	s.mu.Lock()
	if s.shuttingDown {
		s.unlock()
		return ErrNotRunning
	}
	if err := s.spawnLocked(); err != nil {
		s.lastErr = err
		s.setStateLocked(StateStopped)
		s.unlock()
		return err
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	runCtx := s.ctx
	if s.health == nil {
		s.setStateLocked(StateRunning)
		s.metrics.SetBackendUp(true)
	} else {
		s.wg.Add(1)
	}
	s.unlock()

	if s.health != nil {
		go s.healthLoop(runCtx)
	}
	return nil
}

// Restart завершает текущий процесс и сразу запускает новый.
// Сбрасывает защиту от циклических падений и выводит из StateFailed.
// Пока Start не запустил первый процесс, возвращает ErrNotRunning.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateStopped || s.shuttingDown || s.ctx == nil {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.limiter = s.newLimiter()
	p := s.proc
	if p != nil {
		p.intentional = true
	}
	s.setStateLocked(StateRestarting)
	s.unlock()

	s.logger.Info("restarting backend")
	if p != nil && !p.exited() {
		s.terminate(ctx, p)
	}
	s.sweepPort(ctx)

	s.mu.Lock()
	defer s.unlock()
	if s.shuttingDown {
		return ErrNotRunning
	}
	if s.proc != nil && s.proc != p && !s.proc.exited() {
		// Отложенный перезапуск успел поднять новый процесс.
		return nil
	}
	if err := s.spawnLocked(); err != nil {
		s.lastErr = err
		s.setStateLocked(StateFailed)
		return err
	}
	s.restarts++
	s.metrics.RecordRestart(reasonManual)
	if s.health == nil {
		s.setStateLocked(StateRunning)
	} else {
		s.setStateLocked(StateStarting)
	}
	return nil
}

// Stop останавливает процесс: SIGTERM, ожидание StopTimeout, SIGKILL,
// затем повторная зачистка порта.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	s.shuttingDown = true
	s.setStateLocked(StateStopping)
	cancel := s.cancel
	s.unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	p := s.proc
	if p != nil {
		p.intentional = true
	}
	s.mu.Unlock()

	if p != nil && !p.exited() {
		s.logger.Info("stopping backend", zap.Int("pid", p.cmd.Process.Pid))
		s.terminate(ctx, p)
	}
	s.sweepPort(ctx)

	s.mu.Lock()
	s.proc = nil
	s.ctx, s.cancel = nil, nil
	s.setStateLocked(StateStopped)
	s.unlock()

	s.metrics.SetBackendUp(false)
	return ctx.Err()
}

// spawnLocked запускает новый процесс. Вызывается под s.mu.
func (s *Supervisor) spawnLocked() error {
	fileEnv, err := envfile.Load(s.cfg.EnvFile)
	if err != nil {
		s.logger.Warn("failed to read env file", zap.String("path", s.cfg.EnvFile), zap.Error(err))
		fileEnv = nil
	}

	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	cmd.Dir = s.cfg.WorkDir
	cmd.Env = envfile.Merge(os.Environ(), fileEnv, s.cfg.Env, map[string]string{"PYTHONUNBUFFERED": "1"})
	stdout := newLineWriter(s.logger, "stdout")
	stderr := newLineWriter(s.logger, "stderr")
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second
	setupProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start backend %s: %w", s.cfg.Command, err)
	}

	p := &process{
		cmd:       cmd,
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
	s.proc = p
	s.logger.Info("backend started",
		zap.String("command", s.cfg.Command),
		zap.Int("pid", cmd.Process.Pid))

	go func() {
		err := cmd.Wait()
		stdout.Flush()
		stderr.Flush()
		p.err = err
		close(p.done)
		s.handleExit(p, err)
	}()
	return nil
}

func (s *Supervisor) handleExit(p *process, err error) {
	s.mu.Lock()
	defer s.unlock()

	if s.proc != p {
		return
	}
	s.metrics.SetBackendUp(false)
	if err != nil {
		s.lastErr = fmt.Errorf("backend exited: %w", err)
	} else {
		s.lastErr = errors.New("backend exited")
	}

	if s.shuttingDown || p.intentional {
		s.logger.Debug("backend exited", zap.Error(err))
		return
	}

	s.logger.Warn("backend exited unexpectedly", zap.Error(err))
	s.scheduleRespawnLocked(reasonExit)
}

// scheduleRespawnLocked планирует перезапуск через RestartDelay.
// Одновременно запланирован не более одного перезапуска.
func (s *Supervisor) scheduleRespawnLocked(reason string) {
	if s.respawnPending || s.shuttingDown || s.ctx == nil {
		return
	}
	if !s.limiter.Allow() {
		s.logger.Error("backend keeps crashing, giving up",
			zap.Int("max_restarts", s.cfg.MaxRestarts),
			zap.Duration("window", s.cfg.RestartWindow))
		s.setStateLocked(StateFailed)
		return
	}

	s.respawnPending = true
	s.setStateLocked(StateRestarting)

	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(s.cfg.RestartDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.respawnPending = false
			s.mu.Unlock()
			return
		case <-timer.C:
		}
		s.respawn(ctx, reason)
	}()
}

func (s *Supervisor) respawn(ctx context.Context, reason string) {
	s.sweepPort(ctx)

	s.mu.Lock()
	defer s.unlock()

	s.respawnPending = false
	if s.shuttingDown {
		return
	}
	if s.proc != nil && !s.proc.exited() {
		return
	}

	s.logger.Info("respawning backend", zap.String("reason", reason))
	if err := s.spawnLocked(); err != nil {
		s.lastErr = err
		s.logger.Error("failed to respawn backend", zap.Error(err))
		s.scheduleRespawnLocked(reason)
		return
	}
	s.restarts++
	s.metrics.RecordRestart(reason)
	if s.health == nil {
		s.setStateLocked(StateRunning)
	} else {
		s.setStateLocked(StateStarting)
	}
}

func (s *Supervisor) healthLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkHealth(ctx)
		}
	}
}

func (s *Supervisor) checkHealth(ctx context.Context) {
	s.mu.Lock()
	p := s.proc
	state := s.state
	s.mu.Unlock()

	if p == nil || (state != StateStarting && state != StateRunning) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.HealthInterval)
	err := s.health.Check(cctx)
	cancel()
	if ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	if s.proc != p || (s.state != StateStarting && s.state != StateRunning) {
		s.unlock()
		return
	}

	if err == nil {
		if s.state == StateStarting {
			s.logger.Info("backend is ready", zap.Duration("after", time.Since(p.startedAt).Round(time.Millisecond)))
			s.setStateLocked(StateRunning)
		}
		s.metrics.SetBackendUp(true)
		s.unlock()
		return
	}

	s.metrics.RecordHealthFailure()
	alive := !p.exited()

	if s.state == StateStarting && alive && time.Since(p.startedAt) < s.cfg.StartupGrace {
		s.logger.Debug("backend not ready yet", zap.Error(err))
		s.unlock()
		return
	}

	s.metrics.SetBackendUp(false)
	if !alive {
		s.logger.Warn("health check failed, backend is dead", zap.Error(err))
		s.scheduleRespawnLocked(reasonUnhealthy)
		s.unlock()
		return
	}

	s.logger.Warn("health check failed, terminating backend", zap.Error(err))
	p.intentional = true
	s.setStateLocked(StateRestarting)
	s.unlock()

	s.terminate(ctx, p)

	s.mu.Lock()
	if s.proc == p {
		s.scheduleRespawnLocked(reasonUnhealthy)
	}
	s.unlock()
}

// terminate посылает SIGTERM, ждёт StopTimeout и добивает SIGKILL.
func (s *Supervisor) terminate(ctx context.Context, p *process) {
	pid := p.cmd.Process.Pid
	if err := terminateProcess(p.cmd); err != nil {
		s.logger.Debug("terminate failed", zap.Int("pid", pid), zap.Error(err))
	}

	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return
	case <-timer.C:
	case <-ctx.Done():
	}

	s.logger.Warn("backend did not exit, killing", zap.Int("pid", pid))
	if err := killProcess(p.cmd); err != nil {
		s.logger.Debug("kill failed", zap.Int("pid", pid), zap.Error(err))
	}

	timer.Reset(s.cfg.StopTimeout)
	select {
	case <-p.done:
	case <-timer.C:
		s.logger.Error("backend survived SIGKILL", zap.Int("pid", pid))
	}
}

func (s *Supervisor) setStateLocked(st State) {
	if s.state == st {
		return
	}
	s.logger.Debug("state changed", zap.String("from", string(s.state)), zap.String("to", string(st)))
	s.state = st
	s.pending = append(s.pending, st)
}

// unlock отпускает s.mu и доставляет накопленные смены состояния.
func (s *Supervisor) unlock() {
	pending := s.pending
	s.pending = nil
	callback := s.onState
	s.mu.Unlock()

	if callback == nil {
		return
	}
	for _, st := range pending {
		callback(st)
	}
}
