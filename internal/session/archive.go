package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"recallai/internal/backend"
)

// TranscriptSaver сохраняет завершённую сессию.
type TranscriptSaver interface {
	SaveSession(ctx context.Context, name string, lines []backend.TranscriptLine, startedAt, endedAt time.Time) (string, error)
}

// SessionName возвращает имя сессии вида "Interview 2026-01-02 15:04".
func SessionName(startedAt time.Time) string {
	return fmt.Sprintf("Interview %s", startedAt.Local().Format("2006-01-02 15:04"))
}

// Archive читает события и сохраняет транскрипт, когда сессия
// останавливается (running -> not running) или бэкенд теряется посреди
// сессии. Строки, пришедшие после нового старта, принадлежат новой сессии. Пустые транскрипты не сохраняются. Если events закрыт во время
// записи, транскрипт тоже сохраняется. Возвращается, когда events закрыт
// или ctx отменён.
func Archive(ctx context.Context, events <-chan Event, saver TranscriptSaver, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("archive")

	var (
		running   bool
		startedAt time.Time
		lines     []backend.TranscriptLine
	)

	flush := func(endedAt time.Time) {
		defer func() {
			lines = nil
			startedAt = time.Time{}
		}()
		if len(lines) == 0 {
			return
		}
		if startedAt.IsZero() {
			startedAt = endedAt
		}
		name := SessionName(startedAt)
		id, err := saver.SaveSession(ctx, name, lines, startedAt, endedAt)
		if err != nil {
			logger.Error("failed to save transcript", zap.String("name", name), zap.Error(err))
			return
		}
		logger.Info("transcript saved",
			zap.String("id", id),
			zap.String("name", name),
			zap.Int("lines", len(lines)))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				// Приложение закрывается посреди интервью.
				if running {
					flush(time.Now())
				}
				return nil
			}
			switch e.Type {
			case EventTranscript:
				if startedAt.IsZero() {
					startedAt = e.Time
				}
				if e.Reset {
					lines = append([]backend.TranscriptLine(nil), e.Lines...)
				} else {
					lines = append(lines, e.Lines...)
				}
			case EventRunning:
				if e.Running {
					running = true
					startedAt = e.Time
					lines = nil
					continue
				}
				if running {
					running = false
					flush(e.Time)
				}
			case EventBackendLost:
				if running {
					running = false
					flush(e.Time)
				}
			}
		}
	}
}
