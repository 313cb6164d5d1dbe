// Package clipboard копирует текст карточки в системный буфер обмена.
package clipboard

import (
	"errors"
	"strings"

	"github.com/atotto/clipboard"

	"recallai/internal/backend"
)

// ErrUnsupported возвращается, если в системе нет утилиты буфера обмена
// (xclip, xsel или wl-copy на Linux).
var ErrUnsupported = errors.New("clipboard is not available")

// writeAll подменяется в тестах.
var (
	writeAll    = clipboard.WriteAll
	unsupported = func() bool { return clipboard.Unsupported }
)

// Copy помещает text в буфер обмена.
func Copy(text string) error {
	if unsupported() {
		return ErrUnsupported
	}
	return writeAll(text)
}

// CopyCard помещает в буфер обмена текст карточки.
func CopyCard(card backend.Card) error {
	return Copy(CardText(card))
}

// CardText форматирует карточку как обычный текст: заголовок, строки
// содержимого списком и теги.
func CardText(card backend.Card) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(card.Title))
	for _, line := range card.Content {
		if line = strings.TrimSpace(line); line == "" {
			continue
		}
		b.WriteString("\n- ")
		b.WriteString(line)
	}

	tags := make([]string, 0, len(card.Tags))
	for _, t := range card.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, "#"+t)
		}
	}
	if len(tags) > 0 {
		b.WriteString("\n\n")
		b.WriteString(strings.Join(tags, " "))
	}
	return b.String()
}
