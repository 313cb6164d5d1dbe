// Package backend - HTTP-клиент локального бэкенда RecallAI.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultURL     = "http://127.0.0.1:8000"
	DefaultTimeout = 3 * time.Second

	maxErrorBody = 4096
)

// ErrUnavailable оборачивает транспортные ошибки: бэкенд не отвечает.
var ErrUnavailable = errors.New("backend unavailable")

// APIError - ответ бэкенда со статусом не 2xx.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.Status)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// IsUnavailable сообщает, что запрос не дошёл до бэкенда.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// Config конфигурация клиента.
type Config struct {
	URL     string
	Timeout time.Duration
}

// Client представляет клиент HTTP API бэкенда.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// New создаёт клиент.
func New(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	url := strings.TrimRight(cfg.URL, "/")
	if url == "" {
		url = DefaultURL
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("backend"),
	}
}

// BaseURL возвращает адрес бэкенда.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health вызывает GET /health.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// Check - проверка здоровья для супервизора: бэкенд жив, если отвечает на /api/poll.
func (c *Client) Check(ctx context.Context) error {
	_, err := c.Poll(ctx)
	return err
}

// Poll вызывает GET /api/poll.
func (c *Client) Poll(ctx context.Context) (*PollResponse, error) {
	var resp PollResponse
	if err := c.do(ctx, http.MethodGet, "/api/poll", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Start начинает сессию интервью.
func (c *Client) Start(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/start", nil, nil)
}

// Stop останавливает сессию интервью.
func (c *Client) Stop(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/stop", nil, nil)
}

// Rewind сбрасывает контекст сопоставления карточек.
func (c *Client) Rewind(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/rewind", nil, nil)
}

// SetToken передаёт бэкенду токен авторизации.
func (c *Client) SetToken(ctx context.Context, token string) error {
	body := struct {
		Token string `json:"token"`
	}{token}
	return c.do(ctx, http.MethodPost, "/api/set-token", body, nil)
}

// MicDevices возвращает текущий и доступные микрофоны.
func (c *Client) MicDevices(ctx context.Context) (*MicDevices, error) {
	var resp MicDevices
	if err := c.do(ctx, http.MethodGet, "/api/mic-device", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetMicDevice выбирает микрофон.
func (c *Client) SetMicDevice(ctx context.Context, name string) error {
	body := struct {
		Device string `json:"device"`
	}{name}
	return c.do(ctx, http.MethodPost, "/api/mic-device", body, nil)
}

// Cards возвращает карточки, известные бэкенду.
func (c *Client) Cards(ctx context.Context) ([]Card, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/cards", nil, &raw); err != nil {
		return nil, err
	}
	var cards []Card
	if err := decodeList(raw, "cards", &cards); err != nil {
		return nil, fmt.Errorf("decode cards: %w", err)
	}
	return cards, nil
}

// SaveCards отправляет карточки бэкенду.
func (c *Client) SaveCards(ctx context.Context, cards []Card) error {
	if cards == nil {
		cards = []Card{}
	}
	body := struct {
		Cards []Card `json:"cards"`
	}{cards}
	return c.do(ctx, http.MethodPost, "/api/cards", body, nil)
}

// Transcripts возвращает сессии, сохранённые бэкендом.
func (c *Client) Transcripts(ctx context.Context) ([]Transcript, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/transcripts", nil, &raw); err != nil {
		return nil, err
	}
	var transcripts []Transcript
	if err := decodeList(raw, "transcripts", &transcripts); err != nil {
		return nil, fmt.Errorf("decode transcripts: %w", err)
	}
	return transcripts, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{Status: resp.StatusCode, Message: errorMessage(data)}
		c.logger.Debug("backend error",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("message", apiErr.Message))
		return apiErr
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// errorMessage достаёт detail/message/error из JSON или возвращает тело как есть.
func errorMessage(body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"detail", "message", "error"} {
			switch v := payload[key].(type) {
			case string:
				if v != "" {
					return v
				}
			case nil:
			default:
				if data, err := json.Marshal(v); err == nil {
					return string(data)
				}
			}
		}
	}
	return strings.TrimSpace(string(body))
}

// decodeList принимает массив или объект {key: [...]}.
func decodeList(raw json.RawMessage, key string, out any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '[' {
		return json.Unmarshal(trimmed, out)
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return err
	}
	list, ok := wrapped[key]
	if !ok {
		return nil
	}
	return json.Unmarshal(list, out)
}
