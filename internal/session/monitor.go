// Package session опрашивает бэкенд и превращает ответы /api/poll в события.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"recallai/internal/backend"
	"recallai/internal/metrics"
)

// EventType - тип события сессии.
type EventType string

const (
	EventRunning     EventType = "running"
	EventTranscript  EventType = "transcript"
	EventCard        EventType = "card"
	EventCloudError  EventType = "cloud_error"
	EventBackendLost EventType = "backend_lost"
	EventBackendBack EventType = "backend_back"
)

// Event - изменение, замеченное при опросе.
type Event struct {
	Type EventType `json:"type"`
	Time time.Time `json:"time"`

	// EventRunning
	Running bool `json:"running,omitempty"`
	// EventTranscript: новые строки; при Reset - весь транскрипт целиком.
	Lines []backend.TranscriptLine `json:"lines,omitempty"`
	Reset bool                     `json:"reset,omitempty"`
	// EventCard
	Card *backend.Card `json:"card,omitempty"`
	// EventCloudError
	CloudError *backend.CloudAPIError `json:"cloud_error,omitempty"`
	// EventBackendLost
	Err string `json:"error,omitempty"`
}

// Snapshot - последнее известное состояние сессии.
type Snapshot struct {
	Running    bool                     `json:"running"`
	Transcript []backend.TranscriptLine `json:"transcript"`
	Card       *backend.Card            `json:"card,omitempty"`
	CloudError *backend.CloudAPIError   `json:"cloud_error,omitempty"`
	Reachable  bool                     `json:"reachable"`
	LastPoll   time.Time                `json:"last_poll,omitempty"`
}

// Poller - источник ответов /api/poll.
type Poller interface {
	Poll(ctx context.Context) (*backend.PollResponse, error)
}

// Config конфигурация монитора.
type Config struct {
	PollInterval time.Duration
	// LostAfter - сколько неудачных опросов подряд означают потерю бэкенда.
	LostAfter int
}

// Monitor опрашивает бэкенд и рассылает события подписчикам.
type Monitor struct {
	poller  Poller
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu          sync.RWMutex
	snap        Snapshot
	lastCardID  string
	failures    int
	lost        bool
	subscribers map[int]chan Event
	nextID      int
	closed      bool
}

// NewMonitor создаёт монитор.
func NewMonitor(poller Poller, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.LostAfter <= 0 {
		cfg.LostAfter = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		poller:      poller,
		cfg:         cfg,
		logger:      logger.Named("session"),
		metrics:     m,
		now:         time.Now,
		subscribers: make(map[int]chan Event),
	}
}

// Subscribe возвращает канал событий. Медленный подписчик теряет события,
// опрос не блокируется. cancel отписывает и закрывает канал.
func (m *Monitor) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	id := m.nextID
	m.nextID++
	m.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if sub, ok := m.subscribers[id]; ok {
				delete(m.subscribers, id)
				close(sub)
			}
		})
	}
}

// Snapshot возвращает копию последнего состояния.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := m.snap
	snap.Transcript = append([]backend.TranscriptLine(nil), m.snap.Transcript...)
	if m.snap.Card != nil {
		card := *m.snap.Card
		snap.Card = &card
	}
	if m.snap.CloudError != nil {
		ce := *m.snap.CloudError
		snap.CloudError = &ce
	}
	return snap
}

// DismissCard забывает показанную карточку (пользователь её закрыл).
// Та же карточка не будет показана повторно.
func (m *Monitor) DismissCard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.Card = nil
}

// Run опрашивает бэкенд до отмены ctx, затем закрывает каналы подписчиков.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.closeSubscribers()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	m.logger.Debug("polling started", zap.Duration("interval", m.cfg.PollInterval))
	for {
		m.PollOnce(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollOnce выполняет один опрос и рассылает события.
func (m *Monitor) PollOnce(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, pollTimeout(m.cfg.PollInterval))
	start := time.Now()
	resp, err := m.poller.Poll(pctx)
	cancel()
	if ctx.Err() != nil {
		return
	}
	m.metrics.ObservePoll(time.Since(start), err)

	var events []Event
	if err != nil {
		events = m.handleFailure(err)
	} else {
		events = m.handleResponse(resp)
	}
	for _, e := range events {
		m.publish(e)
	}
}

func pollTimeout(interval time.Duration) time.Duration {
	if t := 20 * interval; t > time.Second {
		return t
	}
	return time.Second
}

func (m *Monitor) handleFailure(err error) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failures++
	if m.lost || m.failures < m.cfg.LostAfter {
		return nil
	}

	m.lost = true
	m.snap.Reachable = false
	// Archive закрывает сессию по EventBackendLost; после восстановления
	// опрос снова пошлёт EventRunning, и продолжение станет новой сессией.
	if m.snap.Running {
		m.snap.Running = false
		m.metrics.SetSessionRunning(false)
	}
	m.logger.Warn("backend unreachable", zap.Int("failures", m.failures), zap.Error(err))
	return []Event{{Type: EventBackendLost, Time: m.now(), Err: err.Error()}}
}

func (m *Monitor) handleResponse(resp *backend.PollResponse) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var events []Event

	m.failures = 0
	if m.lost {
		m.lost = false
		m.logger.Info("backend reachable again")
		events = append(events, Event{Type: EventBackendBack, Time: now})
	}
	m.snap.Reachable = true
	m.snap.LastPoll = now

	// Старт сессии идёт раньше её строк, остановка - после: строки
	// относятся к той сессии, в которой появились.
	started := resp.IsRunning && !m.snap.Running
	if started {
		events = append(events, m.setRunning(true, now))
	}
	if e, ok := m.diffTranscript(resp.Transcript, now); ok {
		events = append(events, e)
	}
	if !started && resp.IsRunning != m.snap.Running {
		events = append(events, m.setRunning(false, now))
	}

	if card := resp.Card; card != nil && cardKey(card) != m.lastCardID {
		m.lastCardID = cardKey(card)
		c := *card
		m.snap.Card = &c
		m.metrics.RecordCardShown()
		shown := c
		events = append(events, Event{Type: EventCard, Time: now, Card: &shown})
	}

	switch ce := resp.CloudAPIError; {
	case ce == nil:
		m.snap.CloudError = nil
	case m.snap.CloudError == nil || *m.snap.CloudError != *ce:
		c := *ce
		m.snap.CloudError = &c
		shown := c
		events = append(events, Event{Type: EventCloudError, Time: now, CloudError: &shown})
	}

	return events
}

func (m *Monitor) setRunning(running bool, now time.Time) Event {
	m.snap.Running = running
	m.metrics.SetSessionRunning(running)
	return Event{Type: EventRunning, Time: now, Running: running}
}

// diffTranscript сравнивает новый транскрипт с известным. Если старый
// транскрипт - префикс нового, отдаются только добавленные строки,
// иначе весь транскрипт с Reset.
func (m *Monitor) diffTranscript(lines []backend.TranscriptLine, now time.Time) (Event, bool) {
	old := m.snap.Transcript
	if len(lines) == len(old) && isPrefix(old, lines) {
		return Event{}, false
	}

	m.snap.Transcript = append([]backend.TranscriptLine(nil), lines...)

	if len(lines) > len(old) && isPrefix(old, lines) {
		added := append([]backend.TranscriptLine(nil), lines[len(old):]...)
		return Event{Type: EventTranscript, Time: now, Lines: added}, true
	}
	full := append([]backend.TranscriptLine(nil), lines...)
	return Event{Type: EventTranscript, Time: now, Lines: full, Reset: true}, true
}

// cardKey - идентичность карточки; карточки без id различаются по заголовку.
func cardKey(c *backend.Card) string {
	if c.ID != "" {
		return c.ID
	}
	return "title:" + c.Title
}

func isPrefix(prefix, lines []backend.TranscriptLine) bool {
	if len(prefix) > len(lines) {
		return false
	}
	for i := range prefix {
		if prefix[i] != lines[i] {
			return false
		}
	}
	return true
}

func (m *Monitor) publish(e Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for id, ch := range m.subscribers {
		select {
		case ch <- e:
		default:
			m.logger.Debug("subscriber is slow, dropping event",
				zap.Int("subscriber", id),
				zap.String("type", string(e.Type)))
		}
	}
}

func (m *Monitor) closeSubscribers() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
	m.closed = true
}
