// Package mockbackend is a stand-in for the quiz validation service. It
// creates quizzes on request, reports their status and lets tests and demos
// move a quiz through its states by hand or on a timer.
package mockbackend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	holonlog "github.com/holon-run/prquiz/pkg/log"
	"github.com/holon-run/prquiz/pkg/quiz"
)

const (
	// DefaultAddr matches the gate's default backend URL.
	DefaultAddr        = ":3000"
	DefaultFrontendURL = "https://mock-frontend.dev"

	maxBodyBytes    = 5 << 20
	shutdownTimeout = 5 * time.Second
)

// Config configures a Server.
type Config struct {
	Addr        string
	Store       Store
	Behavior    Behavior
	FrontendURL string

	// APIKeys, when non-empty, are the bearer keys accepted on quiz routes.
	APIKeys []string
	// ExpiredKeys are rejected with expired_api_key. Setting any enables
	// authentication too.
	ExpiredKeys []string

	Clock Clock
	NewID func() string
}

// Server serves the validation service HTTP API.
type Server struct {
	store    Store
	behavior Behavior
	frontend string
	keys     map[string]quiz.AuthCode
	now      Clock
	newID    func() string

	router *chi.Mux
	server *http.Server
}

// New creates a Server. The store is owned by the caller.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Behavior.DefaultStatus == "" {
		cfg.Behavior.DefaultStatus = quiz.StatePending
	}
	if err := cfg.Behavior.Validate(); err != nil {
		return nil, err
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.FrontendURL == "" {
		cfg.FrontendURL = DefaultFrontendURL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return "quiz-" + uuid.NewString() }
	}

	s := &Server{
		store:    cfg.Store,
		behavior: cfg.Behavior,
		frontend: strings.TrimRight(cfg.FrontendURL, "/"),
		now:      cfg.Clock,
		newID:    cfg.NewID,
	}
	if len(cfg.APIKeys) > 0 || len(cfg.ExpiredKeys) > 0 {
		s.keys = make(map[string]quiz.AuthCode)
		for _, k := range cfg.APIKeys {
			s.keys[k] = ""
		}
		for _, k := range cfg.ExpiredKeys {
			s.keys[k] = quiz.AuthExpiredKey
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/quizzes", s.handleList)
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/generate-quiz", s.handleGenerate)
		r.Get("/quiz-status/{id}", s.handleStatus)
		r.Post("/quiz-status/{id}/update", s.handleUpdate)
	})
	s.router = r

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the HTTP handler, for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("mock backend listen failed: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	holonlog.Info("mock backend listening", "addr", ln.Addr().String(),
		"default_status", s.behavior.DefaultStatus,
		"auto_pass_after", s.behavior.AutoPassAfter.String(),
		"failed_attempts", s.behavior.FailedAttemptsBeforePass,
		"auth", s.keys != nil)

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("mock backend failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		holonlog.Info("shutting down mock backend")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			holonlog.Warn("mock backend forced to shut down", "error", err)
			return err
		}
		return nil
	case err := <-errChan:
		return err
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		holonlog.Debug("request", "method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration", time.Since(start).String())
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.keys == nil {
			next.ServeHTTP(w, r)
			return
		}
		key, ok := bearer(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, http.StatusUnauthorized, string(quiz.AuthInvalidKey), "missing bearer API key")
			return
		}
		code, known := s.keys[key]
		switch {
		case !known:
			writeError(w, http.StatusUnauthorized, string(quiz.AuthInvalidKey), "API key is not recognized")
		case code == quiz.AuthExpiredKey:
			writeError(w, http.StatusUnauthorized, string(quiz.AuthExpiredKey), "API key has expired")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func bearer(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	key := strings.TrimSpace(header[len(prefix):])
	return key, key != ""
}

type generateResponse struct {
	QuizID  string `json:"quizId"`
	QuizURL string `json:"quizUrl"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var meta Metadata
	if err := decodeBody(w, r, &meta); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	id := s.newID()
	rec := Record{
		ID:        id,
		URL:       s.frontend + "/quiz/" + id,
		Metadata:  meta,
		State:     s.behavior.DefaultStatus,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Create(r.Context(), rec); err != nil {
		holonlog.Error("failed to store quiz", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to store quiz")
		return
	}

	holonlog.Info("quiz created", "id", id,
		"repo", meta.RepoOwner+"/"+meta.RepoName, "pr", meta.PRNumber,
		"files", len(meta.FilesChanged))
	writeJSON(w, http.StatusOK, generateResponse{QuizID: rec.ID, QuizURL: rec.URL})
}

type statusResponse struct {
	Status        quiz.State `json:"status"`
	Attempts      int        `json:"attempts"`
	LastAttemptAt *string    `json:"lastAttemptAt"`
}

func newStatusResponse(r Record) statusResponse {
	out := statusResponse{Status: r.State, Attempts: r.Attempts}
	if r.LastAttemptAt != nil {
		ts := r.LastAttemptAt.UTC().Format(time.RFC3339)
		out.LastAttemptAt = &ts
	}
	return out
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.load(w, r)
	if !ok {
		return
	}

	if s.behavior.apply(&rec, s.now().UTC()) {
		if err := s.store.Update(r.Context(), rec); err != nil {
			holonlog.Error("failed to store quiz", "id", rec.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal", "failed to store quiz")
			return
		}
		holonlog.Info("quiz auto-passed", "id", rec.ID, "attempts", rec.Attempts)
	}

	holonlog.Debug("quiz status", "id", rec.ID, "status", rec.State, "attempts", rec.Attempts)
	writeJSON(w, http.StatusOK, newStatusResponse(rec))
}

type updateRequest struct {
	Status   string `json:"status"`
	Attempts *int   `json:"attempts"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	var state quiz.State
	if req.Status != "" {
		var err error
		if state, err = quiz.ParseState(req.Status); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
	}
	if req.Attempts != nil && *req.Attempts < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "attempts must not be negative")
		return
	}

	rec, ok := s.load(w, r)
	if !ok {
		return
	}
	if state != "" {
		rec.State = state
	}
	if req.Attempts != nil {
		rec.Attempts = *req.Attempts
	}
	now := s.now().UTC()
	rec.LastAttemptAt = &now

	if err := s.store.Update(r.Context(), rec); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "quiz not found")
			return
		}
		holonlog.Error("failed to store quiz", "id", rec.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to store quiz")
		return
	}

	holonlog.Info("quiz updated", "id", rec.ID, "status", rec.State, "attempts", rec.Attempts)
	writeJSON(w, http.StatusOK, newStatusResponse(rec))
}

// load fetches the quiz named in the path and writes the error response when
// it cannot.
func (s *Server) load(w http.ResponseWriter, r *http.Request) (Record, bool) {
	id := chi.URLParam(r, "id")
	rec, err := s.store.Get(r.Context(), id)
	switch {
	case errors.Is(err, ErrNotFound):
		holonlog.Debug("quiz not found", "id", id)
		writeError(w, http.StatusNotFound, "not_found", "quiz not found")
		return Record{}, false
	case err != nil:
		holonlog.Error("failed to load quiz", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to load quiz")
		return Record{}, false
	}
	return rec, true
}

type listEntry struct {
	ID        string     `json:"id"`
	Status    quiz.State `json:"status"`
	Attempts  int        `json:"attempts"`
	PRNumber  int        `json:"prNumber"`
	CreatedAt time.Time  `json:"createdAt"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.List(r.Context())
	if err != nil {
		holonlog.Error("failed to list quizzes", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to list quizzes")
		return
	}
	out := make([]listEntry, 0, len(records))
	for _, rec := range records {
		out = append(out, listEntry{
			ID:        rec.ID,
			Status:    rec.State,
			Attempts:  rec.Attempts,
			PRNumber:  rec.Metadata.PRNumber,
			CreatedAt: rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type healthResponse struct {
	Status    string    `json:"status"`
	Quizzes   int       `json:"quizzes"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Quizzes: n, Timestamp: s.now().UTC()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		holonlog.Warn("failed to write response", "error", err)
	}
}
