// Package envfile читает .env файл бэкенда и следит за его изменениями.
package envfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Load читает dotenv файл. Отсутствующий файл даёт пустую карту без ошибки.
func Load(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	return values, nil
}

// Merge накладывает overlays на base (формат KEY=VALUE, как os.Environ).
// Существующие ключи сохраняют позицию, новые добавляются в отсортированном порядке.
// Более поздний overlay побеждает.
func Merge(base []string, overlays ...map[string]string) []string {
	merged := make(map[string]string)
	for _, o := range overlays {
		for k, v := range o {
			merged[k] = v
		}
	}

	out := make([]string, 0, len(base)+len(merged))
	seen := make(map[string]bool, len(base))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if seen[key] {
			continue
		}
		seen[key] = true
		if v, ok := merged[key]; ok {
			out = append(out, key+"="+v)
			continue
		}
		out = append(out, kv)
	}

	added := make([]string, 0, len(merged))
	for k := range merged {
		if !seen[k] {
			added = append(added, k)
		}
	}
	sort.Strings(added)
	for _, k := range added {
		out = append(out, k+"="+merged[k])
	}
	return out
}

// Watch следит за файлом path и вызывает onChange не чаще раза за debounce.
// Наблюдение идёт за директорией, чтобы пережить замену файла редактором.
// Блокируется до отмены ctx.
func Watch(ctx context.Context, path string, debounce time.Duration, logger *zap.Logger, onChange func()) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve env file path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	logger.Debug("watching env file", zap.String("path", abs))

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			logger.Debug("env file event", zap.String("op", event.Op.String()))
			if !pending {
				pending = true
				timer.Reset(debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("env file watcher error", zap.Error(err))

		case <-timer.C:
			pending = false
			onChange()
		}
	}
}
