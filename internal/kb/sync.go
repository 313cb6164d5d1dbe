package kb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"recallai/internal/backend"
)

// CardSink принимает карточки (POST /api/cards бэкенда).
type CardSink interface {
	SaveCards(ctx context.Context, cards []backend.Card) error
}

// CardSource отдаёт карточки бэкенда.
type CardSource interface {
	Cards(ctx context.Context) ([]backend.Card, error)
}

// TranscriptSource отдаёт транскрипты бэкенда.
type TranscriptSource interface {
	Transcripts(ctx context.Context) ([]backend.Transcript, error)
}

// remoteNamespace - пространство имён id для записей бэкенда без id.
var remoteNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("recallai:backend"))

// remoteCardID выводит id карточки из её темы и содержимого, чтобы
// повторная загрузка обновляла ту же карточку.
func remoteCardID(in CardInput) string {
	key := in.Topic + "\x00" + strings.Join(in.Components, "\n")
	return uuid.NewSHA1(remoteNamespace, []byte(key)).String()
}

// remoteTranscriptID выводит id транскрипта из имени и времени начала.
func remoteTranscriptID(t backend.Transcript) string {
	key := strings.TrimSpace(t.Name) + "\x00" + t.StartedAt.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(remoteNamespace, []byte(key)).String()
}

// PushCards отправляет бэкенду все готовые карточки и возвращает их число.
// Черновики бэкенду не нужны.
func (s *Store) PushCards(ctx context.Context, sink CardSink) (int, error) {
	cards, err := s.ListCards(ctx, AllCategories)
	if err != nil {
		return 0, err
	}

	out := make([]backend.Card, 0, len(cards))
	for _, c := range cards {
		if c.Status != StatusReady {
			continue
		}
		out = append(out, ToBackend(c))
	}

	if err := sink.SaveCards(ctx, out); err != nil {
		return 0, fmt.Errorf("push cards: %w", err)
	}
	s.logger.Info("cards pushed", zap.Int("count", len(out)))
	return len(out), nil
}

// PullCards импортирует карточки бэкенда. Карточки без темы или
// содержимого пропускаются; карточкам без id назначается id, зависящий
// только от содержимого.
func (s *Store) PullCards(ctx context.Context, source CardSource) (int, error) {
	remote, err := source.Cards(ctx)
	if err != nil {
		return 0, fmt.Errorf("pull cards: %w", err)
	}

	cards := make([]Card, 0, len(remote))
	for _, rc := range remote {
		c := FromBackend(rc)
		in, err := (CardInput{Topic: c.Topic, Components: c.Components}).normalize()
		if err != nil {
			s.logger.Warn("skipping backend card", zap.String("id", rc.ID), zap.Error(err))
			continue
		}
		if c.ID == "" {
			c.ID = remoteCardID(in)
		}
		cards = append(cards, c)
	}
	return s.ImportCards(ctx, cards)
}

// PullTranscripts импортирует транскрипты бэкенда. Имя, изменённое
// пользователем, сохраняется при повторной загрузке.
func (s *Store) PullTranscripts(ctx context.Context, source TranscriptSource) (int, error) {
	remote, err := source.Transcripts(ctx)
	if err != nil {
		return 0, fmt.Errorf("pull transcripts: %w", err)
	}

	imported := 0
	for _, rt := range remote {
		id := rt.ID
		if id == "" {
			id = remoteTranscriptID(rt)
		}
		_, err := s.importTranscript(ctx, Transcript{
			ID:        id,
			Name:      rt.Name,
			Lines:     rt.Lines,
			StartedAt: rt.StartedAt,
			EndedAt:   rt.EndedAt,
		}, true)
		if err != nil {
			s.logger.Warn("skipping backend transcript", zap.String("id", rt.ID), zap.Error(err))
			continue
		}
		imported++
	}
	return imported, nil
}

// ToBackend переводит карточку в формат бэкенда.
func ToBackend(c Card) backend.Card {
	return backend.Card{
		ID:       c.ID,
		Title:    c.Topic,
		Content:  c.Components,
		Tags:     c.Tags,
		Category: c.Category,
	}
}

// FromBackend переводит карточку бэкенда в локальную.
func FromBackend(c backend.Card) Card {
	return Card{
		ID:         c.ID,
		Topic:      c.Title,
		Components: c.Content,
		Category:   c.Category,
		Tags:       c.Tags,
		Status:     StatusReady,
	}
}
