package kb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// AllCategories - зарезервированный id, означающий "все карточки".
const AllCategories = "all"

// Category - категория карточек.
type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// CategoryID строит id из имени: нижний регистр, пробелы заменены на "_".
func CategoryID(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "_")
}

// CreateCategory создаёт категорию.
func (s *Store) CreateCategory(ctx context.Context, name string) (*Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: category name is empty", ErrInvalid)
	}
	id := CategoryID(name)
	if id == AllCategories {
		return nil, fmt.Errorf("%w: category id %q is reserved", ErrInvalid, id)
	}

	c := &Category{ID: id, Name: name, CreatedAt: s.now()}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO categories (id, name, created_at) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		c.ID, c.Name, toUnix(c.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrCategoryExists, id)
	}
	return c, nil
}

// RenameCategory меняет отображаемое имя; id остаётся прежним.
func (s *Store) RenameCategory(ctx context.Context, id, name string) (*Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: category name is empty", ErrInvalid)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE categories SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return nil, fmt.Errorf("rename category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("category %s: %w", id, ErrNotFound)
	}
	return s.GetCategory(ctx, id)
}

// GetCategory возвращает категорию по id.
func (s *Store) GetCategory(ctx context.Context, id string) (*Category, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM categories WHERE id = ?`, id)
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	return c, nil
}

// DeleteCategory удаляет категорию вместе с её карточками и возвращает
// число удалённых карточек.
func (s *Store) DeleteCategory(ctx context.Context, id string) (int, error) {
	var removed int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete category: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("category %s: %w", id, ErrNotFound)
		}

		res, err = tx.ExecContext(ctx, `DELETE FROM cards WHERE category = ?`, id)
		if err != nil {
			return fmt.Errorf("delete category cards: %w", err)
		}
		removed, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(removed), nil
}

// ListCategories возвращает категории в порядке создания.
func (s *Store) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM categories ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	categories := []Category{}
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, *c)
	}
	return categories, rows.Err()
}

func (s *Store) categoryExists(ctx context.Context, q querier, id string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM categories WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("check category: %w", err)
	}
	return n > 0, nil
}

func scanCategory(row scanner) (*Category, error) {
	var (
		c       Category
		created int64
	)
	if err := row.Scan(&c.ID, &c.Name, &created); err != nil {
		return nil, err
	}
	c.CreatedAt = fromUnix(created)
	return &c, nil
}
