package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"recallai/internal/backend"
	"recallai/internal/kb"
	"recallai/internal/session"
	"recallai/internal/supervisor"
)

const maxBodySize = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

type stateResponse struct {
	Backend *supervisor.Status `json:"backend,omitempty"`
	Session session.Snapshot   `json:"session"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type micRequest struct {
	Device string `json:"device"`
}

type nameRequest struct {
	Name string `json:"name"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// fail переводит ошибку хранилища или бэкенда в HTTP код.
func (s *Server) fail(w http.ResponseWriter, err error) {
	var apiErr *backend.APIError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, kb.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, kb.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, kb.ErrCategoryExists), errors.Is(err, supervisor.ErrAlreadyRunning):
		status = http.StatusConflict
	case backend.IsUnavailable(err), errors.As(err, &apiErr):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeError(w, status, err.Error())
}

// backendFailed отвечает 502 на любую ошибку вызова бэкенда.
func (s *Server) backendFailed(w http.ResponseWriter, err error) {
	s.logger.Warn("backend call failed", zap.Error(err))
	writeError(w, http.StatusBadGateway, err.Error())
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode body: %v", kb.ErrInvalid, err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	var resp stateResponse
	if s.deps.Supervisor != nil {
		st := s.deps.Supervisor.Status()
		resp.Backend = &st
	}
	if s.deps.Session != nil {
		resp.Session = s.deps.Session.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	var err error
	switch action := mux.Vars(r)["action"]; action {
	case "start":
		err = s.deps.Backend.Start(r.Context())
	case "stop":
		err = s.deps.Backend.Stop(r.Context())
	case "rewind":
		err = s.deps.Backend.Rewind(r.Context())
	}
	if err != nil {
		s.backendFailed(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	if err := s.deps.Backend.SetToken(r.Context(), token); err != nil {
		s.backendFailed(w, err)
		return
	}
	if s.deps.Preferences != nil {
		if err := s.deps.Preferences.SetToken(token); err != nil {
			s.fail(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetMic(w http.ResponseWriter, r *http.Request) {
	devices, err := s.deps.Backend.MicDevices(r.Context())
	if err != nil {
		s.backendFailed(w, err)
		return
	}
	if len(devices.Available) == 0 && s.deps.LocalMics != nil {
		local, err := s.deps.LocalMics()
		if err != nil {
			s.logger.Warn("list local microphones", zap.Error(err))
		} else {
			devices.Available = local
		}
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleSetMic(w http.ResponseWriter, r *http.Request) {
	var req micRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if strings.TrimSpace(req.Device) == "" {
		writeError(w, http.StatusBadRequest, "device is required")
		return
	}

	if err := s.deps.Backend.SetMicDevice(r.Context(), req.Device); err != nil {
		s.backendFailed(w, err)
		return
	}
	if s.deps.Preferences != nil {
		if err := s.deps.Preferences.SetMicDevice(req.Device); err != nil {
			s.fail(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, micRequest{Device: req.Device})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if s.deps.Supervisor == nil {
		writeError(w, http.StatusServiceUnavailable, "backend is not supervised")
		return
	}
	if err := s.deps.Supervisor.Restart(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Supervisor.Status())
}

// Категории.

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.deps.Store.ListCategories(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	c, err := s.deps.Store.CreateCategory(r.Context(), req.Name)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleRenameCategory(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	c, err := s.deps.Store.RenameCategory(r.Context(), mux.Vars(r)["id"], req.Name)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	removed, err := s.deps.Store.DeleteCategory(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed_cards": removed})
}

// Карточки.

func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	cards, err := s.deps.Store.ListCards(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

func (s *Server) handleCreateCard(w http.ResponseWriter, r *http.Request) {
	var in kb.CardInput
	if err := decodeBody(r, &in); err != nil {
		s.fail(w, err)
		return
	}
	c, err := s.deps.Store.CreateCard(r.Context(), in)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetCard(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Store.GetCard(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleUpdateCard(w http.ResponseWriter, r *http.Request) {
	var in kb.CardInput
	if err := decodeBody(r, &in); err != nil {
		s.fail(w, err)
		return
	}
	c, err := s.deps.Store.UpdateCard(r.Context(), mux.Vars(r)["id"], in)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteCard(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteCard(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSyncCards(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Store.PushCards(r.Context(), s.deps.Backend)
	if err != nil {
		s.backendFailed(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pushed": n})
}

// handleImportCards сохраняет присланный массив карточек (upsert по id);
// неизвестные категории создаются.
func (s *Server) handleImportCards(w http.ResponseWriter, r *http.Request) {
	var cards []kb.Card
	if err := decodeBody(r, &cards); err != nil {
		s.fail(w, err)
		return
	}
	n, err := s.deps.Store.ImportCards(r.Context(), cards)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}

// handlePullCards забирает карточки бэкенда в базу знаний.
func (s *Server) handlePullCards(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Store.PullCards(r.Context(), s.deps.Backend)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}

// Транскрипты.

func (s *Server) handleListTranscripts(w http.ResponseWriter, r *http.Request) {
	transcripts, err := s.deps.Store.ListTranscripts(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transcripts)
}

// handleImportTranscripts без тела забирает транскрипты бэкенда,
// с телом сохраняет переданный транскрипт.
func (s *Server) handleImportTranscripts(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength == 0 {
		n, err := s.deps.Store.PullTranscripts(r.Context(), s.deps.Backend)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"imported": n})
		return
	}

	var t kb.Transcript
	if err := decodeBody(r, &t); err != nil {
		s.fail(w, err)
		return
	}
	saved, err := s.deps.Store.ImportTranscript(r.Context(), t)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	t, err := s.deps.Store.GetTranscript(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleRenameTranscript(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	t, err := s.deps.Store.RenameTranscript(r.Context(), mux.Vars(r)["id"], req.Name)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTranscript(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteTranscript(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
