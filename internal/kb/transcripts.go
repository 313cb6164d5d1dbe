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
	"go.uber.org/zap"

	"recallai/internal/backend"
)

// Transcript - сохранённая запись одной сессии.
type Transcript struct {
	ID        string                   `json:"id"`
	Name      string                   `json:"name"`
	Lines     []backend.TranscriptLine `json:"lines"`
	StartedAt time.Time                `json:"started_at"`
	EndedAt   time.Time                `json:"ended_at"`
}

// SaveSession сохраняет завершённую сессию и возвращает её id.
func (s *Store) SaveSession(ctx context.Context, name string, lines []backend.TranscriptLine, startedAt, endedAt time.Time) (string, error) {
	t := &Transcript{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		Lines:     lines,
		StartedAt: startedAt,
		EndedAt:   endedAt,
	}
	if t.Name == "" {
		return "", fmt.Errorf("%w: transcript name is empty", ErrInvalid)
	}
	if err := upsertTranscript(ctx, s.db, t, false); err != nil {
		return "", err
	}
	s.logger.Info("transcript saved",
		zap.String("id", t.ID), zap.String("name", t.Name), zap.Int("lines", len(lines)))
	return t.ID, nil
}

// ImportTranscript вставляет или заменяет транскрипт по id.
func (s *Store) ImportTranscript(ctx context.Context, t Transcript) (*Transcript, error) {
	return s.importTranscript(ctx, t, false)
}

// importTranscript с keepName не трогает имя уже сохранённого транскрипта.
func (s *Store) importTranscript(ctx context.Context, t Transcript, keepName bool) (*Transcript, error) {
	t.Name = strings.TrimSpace(t.Name)
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Name == "" {
		if t.StartedAt.IsZero() {
			return nil, fmt.Errorf("%w: transcript name is empty", ErrInvalid)
		}
		t.Name = "Interview " + t.StartedAt.Local().Format("2006-01-02 15:04")
	}
	if err := upsertTranscript(ctx, s.db, &t, keepName); err != nil {
		return nil, err
	}
	if keepName {
		return s.GetTranscript(ctx, t.ID)
	}
	return &t, nil
}

// RenameTranscript меняет имя транскрипта.
func (s *Store) RenameTranscript(ctx context.Context, id, name string) (*Transcript, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: transcript name is empty", ErrInvalid)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE transcripts SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return nil, fmt.Errorf("rename transcript: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("transcript %s: %w", id, ErrNotFound)
	}
	return s.GetTranscript(ctx, id)
}

// DeleteTranscript удаляет транскрипт.
func (s *Store) DeleteTranscript(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transcripts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transcript: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transcript %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetTranscript возвращает транскрипт по id.
func (s *Store) GetTranscript(ctx context.Context, id string) (*Transcript, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transcriptColumns+` FROM transcripts WHERE id = ?`, id)
	t, err := scanTranscript(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transcript %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get transcript: %w", err)
	}
	return t, nil
}

// ListTranscripts возвращает транскрипты, новые первыми.
func (s *Store) ListTranscripts(ctx context.Context) ([]Transcript, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transcriptColumns+` FROM transcripts ORDER BY started_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	defer rows.Close()

	transcripts := []Transcript{}
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		transcripts = append(transcripts, *t)
	}
	return transcripts, rows.Err()
}

const transcriptColumns = `id, name, lines_json, started_at, ended_at`

func upsertTranscript(ctx context.Context, q querier, t *Transcript, keepName bool) error {
	if t.Lines == nil {
		t.Lines = []backend.TranscriptLine{}
	}
	lines, err := marshalJSON(t.Lines)
	if err != nil {
		return fmt.Errorf("marshal lines: %w", err)
	}
	name := "excluded.name"
	if keepName {
		name = "transcripts.name"
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO transcripts (`+transcriptColumns+`) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = `+name+`,
			lines_json = excluded.lines_json,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at`,
		t.ID, t.Name, lines, toUnix(t.StartedAt), toUnix(t.EndedAt))
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

func scanTranscript(row scanner) (*Transcript, error) {
	var (
		t              Transcript
		lines          string
		started, ended int64
	)
	if err := row.Scan(&t.ID, &t.Name, &lines, &started, &ended); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(lines), &t.Lines); err != nil {
		return nil, fmt.Errorf("decode lines: %w", err)
	}
	if t.Lines == nil {
		t.Lines = []backend.TranscriptLine{}
	}
	t.StartedAt = fromUnix(started)
	t.EndedAt = fromUnix(ended)
	return &t, nil
}
