// Package notify предоставляет системные уведомления.
package notify

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"

	"recallai/internal/backend"
	"recallai/internal/i18n"
)

const (
	appName = "RecallAI"

	maxMessage = 100
)

// Notifier отправляет системные уведомления.
type Notifier struct {
	mu      sync.RWMutex
	enabled bool
	logger  *zap.Logger
	send    func(title, message, icon string) error
}

// New создаёт новый Notifier.
func New(enabled bool, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		enabled: enabled,
		logger:  logger.Named("notify"),
		send: func(title, message, icon string) error {
			return beeep.Notify(title, message, icon)
		},
	}
}

// SetEnabled включает/выключает уведомления.
func (n *Notifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// Enabled сообщает, включены ли уведомления.
func (n *Notifier) Enabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.enabled
}

// BackendReady - бэкенд запущен и отвечает.
func (n *Notifier) BackendReady() {
	n.notify(i18n.T("notify_ready"), i18n.T("notify_ready_hint"))
}

// BackendOffline - бэкенд перестал отвечать.
func (n *Notifier) BackendOffline() {
	n.notify(i18n.T("notify_offline"), i18n.T("notify_offline_hint"))
}

// BackendRestarted - бэкенд перезапущен.
func (n *Notifier) BackendRestarted() {
	n.notify(i18n.T("notify_restarted"), "")
}

// BackendFailed - сработала защита от циклических падений.
func (n *Notifier) BackendFailed() {
	n.notify(i18n.T("notify_failed"), i18n.T("notify_failed_hint"))
}

// Card показывает найденную карточку.
func (n *Notifier) Card(c *backend.Card) {
	if c == nil {
		return
	}
	n.notify(i18n.T("notify_card"), c.Title)
}

// CloudError показывает ошибку облачного API.
func (n *Notifier) CloudError(e *backend.CloudAPIError) {
	if e == nil {
		return
	}
	msg := e.Message
	if e.Status != 0 {
		msg = fmt.Sprintf("%d: %s", e.Status, e.Message)
	}
	n.notify(i18n.T("notify_cloud_error"), msg)
}

// TranscriptSaved - транскрипт сессии сохранён в историю.
func (n *Notifier) TranscriptSaved(name string) {
	n.notify(i18n.T("notify_saved"), name)
}

// Error показывает уведомление об ошибке.
func (n *Notifier) Error(msg string) {
	n.notify(i18n.T("notify_error"), msg)
}

func (n *Notifier) notify(title, message string) {
	if !n.Enabled() {
		return
	}
	message = truncate(strings.TrimSpace(message), maxMessage)
	// Ошибки уведомлений не критичны.
	if err := n.send(appName+": "+title, message, ""); err != nil {
		n.logger.Debug("notification failed", zap.String("title", title), zap.Error(err))
	}
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
