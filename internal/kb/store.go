// Package kb хранит базу знаний (категории и карточки) и историю
// транскриптов в SQLite.
package kb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound - запись не найдена.
	ErrNotFound = errors.New("not found")
	// ErrCategoryExists - категория с таким id уже есть.
	ErrCategoryExists = errors.New("category already exists")
	// ErrInvalid - некорректные входные данные.
	ErrInvalid = errors.New("invalid input")
)

// MemoryPath открывает базу в памяти (для тестов).
const MemoryPath = ":memory:"

// Store - хранилище базы знаний.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
	now    func() time.Time
}

// Open открывает или создаёт базу по пути path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Одно соединение: база в памяти живёт в пределах соединения,
	// а PRAGMA применяются к каждому соединению отдельно.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		path:   path,
		logger: logger.Named("kb"),
		now:    time.Now,
	}
	if err := s.initialize(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	s.logger.Debug("knowledge base opened", zap.String("path", path))
	return s, nil
}

// Close закрывает базу.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path возвращает путь к файлу базы.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) initialize(ctx context.Context) error {
	schema := `
	PRAGMA foreign_keys = ON;
	PRAGMA busy_timeout = 5000;

	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cards (
		id TEXT PRIMARY KEY,
		topic TEXT NOT NULL,
		components_json TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		tags_json TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cards_category ON cards(category);
	CREATE INDEX IF NOT EXISTS idx_cards_created ON cards(created_at);

	CREATE TABLE IF NOT EXISTS transcripts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		lines_json TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transcripts_started ON transcripts(started_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Время хранится в unix-наносекундах.
func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// querier - общий интерфейс *sql.DB и *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanner - общий интерфейс *sql.Row и *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// withTx выполняет fn в транзакции.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
