// Package bridge - локальный HTTP и websocket API оболочки. Через него
// любой интерфейс (веб-страница, скрипт) управляет сессией, базой знаний
// и историей транскриптов.
package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"recallai/internal/backend"
	"recallai/internal/kb"
	"recallai/internal/session"
	"recallai/internal/supervisor"
)

// DefaultAddr - адрес моста по умолчанию.
const DefaultAddr = "127.0.0.1:8765"

const shutdownTimeout = 5 * time.Second

// Backend - вызовы API бэкенда, доступные через мост.
type Backend interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Rewind(ctx context.Context) error
	SetToken(ctx context.Context, token string) error
	MicDevices(ctx context.Context) (*backend.MicDevices, error)
	SetMicDevice(ctx context.Context, name string) error
	Cards(ctx context.Context) ([]backend.Card, error)
	SaveCards(ctx context.Context, cards []backend.Card) error
	Transcripts(ctx context.Context) ([]backend.Transcript, error)
}

// Supervisor - управление процессом бэкенда.
type Supervisor interface {
	Status() supervisor.Status
	Restart(ctx context.Context) error
}

// Session - источник событий сессии.
type Session interface {
	Snapshot() session.Snapshot
	Subscribe(buffer int) (<-chan session.Event, func())
}

// Preferences сохраняет выбор пользователя.
type Preferences interface {
	SetToken(token string) error
	SetMicDevice(name string) error
}

// Deps - зависимости моста. Supervisor, Preferences, Gatherer и
// LocalMics необязательны.
type Deps struct {
	Backend     Backend
	Supervisor  Supervisor
	Session     Session
	Store       *kb.Store
	Preferences Preferences
	Gatherer    prometheus.Gatherer
	// LocalMics перечисляет локальные микрофоны, если бэкенд их не отдал.
	LocalMics func() ([]string, error)
}

// Server - HTTP сервер моста.
type Server struct {
	addr   string
	deps   Deps
	logger *zap.Logger
	router *mux.Router
	hub    *hub
}

// New создаёт сервер на адресе addr.
func New(addr string, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if addr == "" {
		addr = DefaultAddr
	}
	logger = logger.Named("bridge")

	s := &Server{
		addr:   addr,
		deps:   deps,
		logger: logger,
		router: mux.NewRouter(),
		hub:    newHub(logger),
	}
	s.routes()
	return s
}

// Handler возвращает корневой обработчик.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.logRequests)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/session/{action:start|stop|rewind}", s.handleSession).Methods(http.MethodPost)
	api.HandleFunc("/token", s.handleToken).Methods(http.MethodPost)
	api.HandleFunc("/mic-device", s.handleGetMic).Methods(http.MethodGet)
	api.HandleFunc("/mic-device", s.handleSetMic).Methods(http.MethodPost)
	api.HandleFunc("/backend/restart", s.handleRestart).Methods(http.MethodPost)

	api.HandleFunc("/categories", s.handleListCategories).Methods(http.MethodGet)
	api.HandleFunc("/categories", s.handleCreateCategory).Methods(http.MethodPost)
	api.HandleFunc("/categories/{id}", s.handleRenameCategory).Methods(http.MethodPut)
	api.HandleFunc("/categories/{id}", s.handleDeleteCategory).Methods(http.MethodDelete)

	api.HandleFunc("/cards", s.handleListCards).Methods(http.MethodGet)
	api.HandleFunc("/cards", s.handleCreateCard).Methods(http.MethodPost)
	api.HandleFunc("/cards/sync", s.handleSyncCards).Methods(http.MethodPost)
	api.HandleFunc("/cards/import", s.handleImportCards).Methods(http.MethodPost)
	api.HandleFunc("/cards/pull", s.handlePullCards).Methods(http.MethodPost)
	api.HandleFunc("/cards/{id}", s.handleGetCard).Methods(http.MethodGet)
	api.HandleFunc("/cards/{id}", s.handleUpdateCard).Methods(http.MethodPut)
	api.HandleFunc("/cards/{id}", s.handleDeleteCard).Methods(http.MethodDelete)

	api.HandleFunc("/transcripts", s.handleListTranscripts).Methods(http.MethodGet)
	api.HandleFunc("/transcripts/import", s.handleImportTranscripts).Methods(http.MethodPost)
	api.HandleFunc("/transcripts/{id}", s.handleGetTranscript).Methods(http.MethodGet)
	api.HandleFunc("/transcripts/{id}", s.handleRenameTranscript).Methods(http.MethodPatch)
	api.HandleFunc("/transcripts/{id}", s.handleDeleteTranscript).Methods(http.MethodDelete)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// Run слушает адрес и рассылает события сессии в websocket до отмены ctx.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve обслуживает готовый listener до отмены ctx.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	forwardDone := make(chan struct{})
	unsubscribe := func() {}
	if s.deps.Session != nil {
		var events <-chan session.Event
		events, unsubscribe = s.deps.Session.Subscribe(64)
		go func() {
			defer close(forwardDone)
			s.forward(ctx, events)
		}()
	} else {
		close(forwardDone)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("bridge listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.hub.close()
		unsubscribe()
		<-forwardDone
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down bridge")
	s.hub.close()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	unsubscribe()
	<-forwardDone
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Warn("serve returned", zap.Error(err))
	}
	return err
}

// forward пересылает события сессии всем websocket клиентам.
func (s *Server) forward(ctx context.Context, events <-chan session.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			msg, err := encodeEvent(e)
			if err != nil {
				s.logger.Warn("encode event", zap.String("type", string(e.Type)), zap.Error(err))
				continue
			}
			s.hub.broadcast(msg)
		}
	}
}

// statusRecorder запоминает код ответа для журнала.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap нужен http.ResponseController (websocket hijack).
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	return h.Hijack()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := zap.DebugLevel
		if rec.status >= http.StatusInternalServerError {
			level = zap.WarnLevel
		}
		s.logger.Check(level, "http request").Write(
			zap.String("method", r.Method),
			zap.String("uri", r.RequestURI),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
