package kb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Статусы карточек.
const (
	StatusReady = "ready"
	StatusDraft = "draft"
)

// Card - карточка базы знаний.
type Card struct {
	ID         string    `json:"id"`
	Topic      string    `json:"topic"`
	Components []string  `json:"components"`
	Category   string    `json:"category"`
	Tags       []string  `json:"tags"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CardInput - поля карточки, задаваемые пользователем.
type CardInput struct {
	Topic      string   `json:"topic"`
	Components []string `json:"components"`
	Category   string   `json:"category"`
	Tags       []string `json:"tags"`
	Status     string   `json:"status"`
}

// normalize чистит ввод: обрезает пробелы, разбивает компоненты по строкам,
// убирает пустые строки и повторяющиеся теги.
func (in CardInput) normalize() (CardInput, error) {
	out := CardInput{
		Topic:    strings.TrimSpace(in.Topic),
		Category: strings.TrimSpace(in.Category),
		Status:   strings.TrimSpace(in.Status),
	}
	if out.Category == AllCategories {
		out.Category = ""
	}

	for _, c := range in.Components {
		for _, line := range strings.Split(c, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				out.Components = append(out.Components, line)
			}
		}
	}

	seen := make(map[string]bool, len(in.Tags))
	out.Tags = []string{}
	for _, tag := range in.Tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[strings.ToLower(tag)] {
			continue
		}
		seen[strings.ToLower(tag)] = true
		out.Tags = append(out.Tags, tag)
	}

	if out.Status == "" {
		out.Status = StatusReady
	}

	switch {
	case out.Topic == "":
		return out, fmt.Errorf("%w: topic is required", ErrInvalid)
	case len(out.Components) == 0:
		return out, fmt.Errorf("%w: at least one component is required", ErrInvalid)
	case out.Status != StatusReady && out.Status != StatusDraft:
		return out, fmt.Errorf("%w: unknown status %q", ErrInvalid, out.Status)
	}
	return out, nil
}

// CreateCard создаёт карточку.
func (s *Store) CreateCard(ctx context.Context, in CardInput) (*Card, error) {
	in, err := in.normalize()
	if err != nil {
		return nil, err
	}
	if err := s.requireCategory(ctx, s.db, in.Category); err != nil {
		return nil, err
	}

	now := s.now()
	c := &Card{
		ID:         uuid.NewString(),
		Topic:      in.Topic,
		Components: in.Components,
		Category:   in.Category,
		Tags:       in.Tags,
		Status:     in.Status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := upsertCard(ctx, s.db, c); err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateCard заменяет поля карточки.
func (s *Store) UpdateCard(ctx context.Context, id string, in CardInput) (*Card, error) {
	in, err := in.normalize()
	if err != nil {
		return nil, err
	}
	if err := s.requireCategory(ctx, s.db, in.Category); err != nil {
		return nil, err
	}

	c, err := s.GetCard(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Topic = in.Topic
	c.Components = in.Components
	c.Category = in.Category
	c.Tags = in.Tags
	c.Status = in.Status
	c.UpdatedAt = s.now()

	if err := upsertCard(ctx, s.db, c); err != nil {
		return nil, err
	}
	return c, nil
}

// GetCard возвращает карточку по id.
func (s *Store) GetCard(ctx context.Context, id string) (*Card, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = ?`, id)
	c, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("card %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get card: %w", err)
	}
	return c, nil
}

// DeleteCard удаляет карточку.
func (s *Store) DeleteCard(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cards WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete card: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("card %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListCards возвращает карточки категории, новые первыми.
// Пустая категория или "all" - все карточки.
func (s *Store) ListCards(ctx context.Context, category string) ([]Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards`
	var args []any
	if category != "" && category != AllCategories {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	cards := []Card{}
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, *c)
	}
	return cards, rows.Err()
}

// ImportCards вставляет или обновляет карточки по id. Карточки без id
// получают новый id, отсутствующие категории создаются.
func (s *Store) ImportCards(ctx context.Context, cards []Card) (int, error) {
	imported := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, card := range cards {
			in, err := CardInput{
				Topic:      card.Topic,
				Components: card.Components,
				Category:   card.Category,
				Tags:       card.Tags,
				Status:     card.Status,
			}.normalize()
			if err != nil {
				return fmt.Errorf("card %q: %w", card.Topic, err)
			}

			if in.Category != "" {
				if err := s.ensureCategory(ctx, tx, in.Category); err != nil {
					return err
				}
			}

			now := s.now()
			c := card
			c.Topic, c.Components, c.Category, c.Tags, c.Status = in.Topic, in.Components, CategoryID(in.Category), in.Tags, in.Status
			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			if c.CreatedAt.IsZero() {
				c.CreatedAt = now
			}
			if c.UpdatedAt.IsZero() {
				c.UpdatedAt = now
			}
			if err := upsertCard(ctx, tx, &c); err != nil {
				return err
			}
			imported++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return imported, nil
}

func (s *Store) requireCategory(ctx context.Context, q querier, id string) error {
	if id == "" {
		return nil
	}
	ok, err := s.categoryExists(ctx, q, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: category %s does not exist", ErrInvalid, id)
	}
	return nil
}

// ensureCategory создаёт категорию по имени, если её ещё нет.
func (s *Store) ensureCategory(ctx context.Context, q querier, name string) error {
	id := CategoryID(name)
	if id == "" || id == AllCategories {
		return fmt.Errorf("%w: category %q", ErrInvalid, name)
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO categories (id, name, created_at) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		id, name, toUnix(s.now()))
	if err != nil {
		return fmt.Errorf("ensure category: %w", err)
	}
	return nil
}

const cardColumns = `id, topic, components_json, category, tags_json, status, created_at, updated_at`

func upsertCard(ctx context.Context, q querier, c *Card) error {
	components, err := marshalJSON(c.Components)
	if err != nil {
		return fmt.Errorf("marshal components: %w", err)
	}
	tags, err := marshalJSON(c.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO cards (`+cardColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			topic = excluded.topic,
			components_json = excluded.components_json,
			category = excluded.category,
			tags_json = excluded.tags_json,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		c.ID, c.Topic, components, c.Category, tags, c.Status, toUnix(c.CreatedAt), toUnix(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save card: %w", err)
	}
	return nil
}

func scanCard(row scanner) (*Card, error) {
	var (
		c                Card
		components, tags string
		created, updated int64
	)
	if err := row.Scan(&c.ID, &c.Topic, &components, &c.Category, &tags, &c.Status, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(components), &c.Components); err != nil {
		return nil, fmt.Errorf("decode components: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &c.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	c.CreatedAt = fromUnix(created)
	c.UpdatedAt = fromUnix(updated)
	return &c, nil
}
