package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PollResponse - ответ GET /api/poll.
type PollResponse struct {
	IsRunning     bool             `json:"is_running"`
	Transcript    []TranscriptLine `json:"transcript"`
	Card          *Card            `json:"card,omitempty"`
	CloudAPIError *CloudAPIError   `json:"cloud_api_error,omitempty"`
}

// TranscriptLine - одна распознанная фраза.
type TranscriptLine struct {
	Timestamp string `json:"timestamp"`
	Text      string `json:"text"`
}

// UnmarshalJSON принимает timestamp строкой или числом.
func (l *TranscriptLine) UnmarshalJSON(data []byte) error {
	var raw struct {
		Timestamp json.RawMessage `json:"timestamp"`
		Text      string          `json:"text"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ts, err := flexString(raw.Timestamp)
	if err != nil {
		return fmt.Errorf("transcript timestamp: %w", err)
	}
	l.Timestamp = ts
	l.Text = raw.Text
	return nil
}

// CloudAPIError - ошибка облачного API, о которой сообщает бэкенд.
type CloudAPIError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// UnmarshalJSON принимает status числом или строкой.
func (e *CloudAPIError) UnmarshalJSON(data []byte) error {
	var raw struct {
		Status  json.RawMessage `json:"status"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s, err := flexString(raw.Status)
	if err != nil {
		return fmt.Errorf("cloud error status: %w", err)
	}
	e.Status, _ = strconv.Atoi(s)
	e.Message = raw.Message
	return nil
}

// Card - карточка, найденная бэкендом или отправляемая ему.
type Card struct {
	ID       string   `json:"id"`
	Title    string   `json:"topic"`
	Content  []string `json:"components"`
	Tags     []string `json:"tags"`
	Category string   `json:"category,omitempty"`
}

// UnmarshalJSON принимает topic или title, content или components
// (массив строк либо одну строку с переводами строк) и id строкой или числом.
func (c *Card) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID         json.RawMessage `json:"id"`
		Topic      string          `json:"topic"`
		Title      string          `json:"title"`
		Content    json.RawMessage `json:"content"`
		Components json.RawMessage `json:"components"`
		Tags       []string        `json:"tags"`
		Category   string          `json:"category"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	id, err := flexString(raw.ID)
	if err != nil {
		return fmt.Errorf("card id: %w", err)
	}

	title := raw.Topic
	if title == "" {
		title = raw.Title
	}

	body := raw.Components
	if isEmptyJSON(body) {
		body = raw.Content
	}
	content, err := lines(body)
	if err != nil {
		return fmt.Errorf("card content: %w", err)
	}

	*c = Card{
		ID:       id,
		Title:    title,
		Content:  content,
		Tags:     raw.Tags,
		Category: raw.Category,
	}
	return nil
}

// MicDevices - ответ GET /api/mic-device.
type MicDevices struct {
	Current   string   `json:"device"`
	Available []string `json:"devices"`
}

// UnmarshalJSON принимает устройства строками или объектами с полем name.
func (m *MicDevices) UnmarshalJSON(data []byte) error {
	var raw struct {
		Device  json.RawMessage   `json:"device"`
		Devices []json.RawMessage `json:"devices"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	current, err := deviceName(raw.Device)
	if err != nil {
		return err
	}
	m.Current = current
	m.Available = make([]string, 0, len(raw.Devices))
	for _, d := range raw.Devices {
		name, err := deviceName(d)
		if err != nil {
			return err
		}
		if name != "" {
			m.Available = append(m.Available, name)
		}
	}
	return nil
}

// Transcript - сохранённая бэкендом сессия.
type Transcript struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Lines     []TranscriptLine `json:"lines"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   time.Time        `json:"ended_at"`
}

// UnmarshalJSON принимает lines или transcript, время в RFC3339 или unix-секундах.
func (t *Transcript) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID         json.RawMessage  `json:"id"`
		Name       string           `json:"name"`
		Lines      []TranscriptLine `json:"lines"`
		Transcript []TranscriptLine `json:"transcript"`
		StartedAt  json.RawMessage  `json:"started_at"`
		EndedAt    json.RawMessage  `json:"ended_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	id, err := flexString(raw.ID)
	if err != nil {
		return fmt.Errorf("transcript id: %w", err)
	}
	started, err := flexTime(raw.StartedAt)
	if err != nil {
		return fmt.Errorf("transcript started_at: %w", err)
	}
	ended, err := flexTime(raw.EndedAt)
	if err != nil {
		return fmt.Errorf("transcript ended_at: %w", err)
	}

	lines := raw.Lines
	if lines == nil {
		lines = raw.Transcript
	}

	*t = Transcript{ID: id, Name: raw.Name, Lines: lines, StartedAt: started, EndedAt: ended}
	return nil
}

func isEmptyJSON(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// flexString читает строку или число как строку.
func flexString(data json.RawMessage) (string, error) {
	if isEmptyJSON(data) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return "", fmt.Errorf("expected string or number, got %s", data)
	}
	return n.String(), nil
}

func flexTime(data json.RawMessage) (time.Time, error) {
	s, err := flexString(data)
	if err != nil || s == "" {
		return time.Time{}, err
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("unsupported time %q", s)
	}
	return time.Unix(0, int64(sec*float64(time.Second))).UTC(), nil
}

// lines читает массив строк или одну строку, разбивая её по переводам строк.
func lines(data json.RawMessage) ([]string, error) {
	if isEmptyJSON(data) {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("expected string or array of strings, got %s", data)
	}
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

func deviceName(data json.RawMessage) (string, error) {
	if isEmptyJSON(data) {
		return "", nil
	}
	var obj struct {
		Name string `json:"name"`
	}
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", fmt.Errorf("mic device: %w", err)
		}
		return obj.Name, nil
	}
	name, err := flexString(data)
	if err != nil {
		return "", fmt.Errorf("mic device: %w", err)
	}
	return name, nil
}
