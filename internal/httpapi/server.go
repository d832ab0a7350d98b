package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/opsmonitor/internal/domain"
	apimw "github.com/hamed0406/opsmonitor/internal/httpapi/middleware"
	"github.com/hamed0406/opsmonitor/internal/probe"
	"github.com/hamed0406/opsmonitor/internal/repo"
)

// Store is what the API needs from persistence.
type Store interface {
	repo.TargetStore
	repo.LogStore
}

type Server struct {
	Logger      *zap.Logger
	Store       Store
	Checker     probe.Checker
	Live        http.Handler // WebSocket live feed
	Metrics     http.Handler // Prometheus exposition
	Version     string
	Environment string

	// Instrument wraps every request, typically with request metrics.
	Instrument func(http.Handler) http.Handler
}

func NewServer(l *zap.Logger, st Store, c probe.Checker, live http.Handler) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	return &Server{Logger: l, Store: st, Checker: c, Live: live, Version: "dev", Environment: "development"}
}

// RouterConfig carries the access policy for Router.
type RouterConfig struct {
	Keys           apimw.Keys
	AllowedOrigins []string
	PublicRPM      int
	PublicBurst    int
	AdminRPM       int
	AdminBurst     int
}

func (s *Server) Router(rc RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.Instrument != nil {
		r.Use(s.Instrument)
	}
	r.Use(corsHandler(rc.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/health", s.handleHealth)
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(apimw.RateLimit(rc.PublicRPM, rc.PublicBurst))
		r.Use(apimw.RequireAny(rc.Keys))

		if s.Live != nil {
			r.Handle("/ws/live-feed", s.Live)
		}

		r.Route("/api/services", func(r chi.Router) {
			r.Get("/", s.handleListServices)
			r.Get("/stats", s.handleServiceStats)
			r.Get("/{id}", s.handleGetService)

			r.Group(func(r chi.Router) {
				r.Use(apimw.RateLimit(rc.AdminRPM, rc.AdminBurst))
				r.Use(apimw.RequireAdmin(rc.Keys))
				r.Post("/", s.handleCreateService)
				r.Put("/{id}", s.handleUpdateService)
				r.Delete("/{id}", s.handleDeleteService)
				r.Post("/{id}/check", s.handleManualCheck)
			})
		})

		r.Get("/api/logs", s.handleListLogs)
		r.Get("/api/logs/sources", s.handleLogSources)
	})

	return r
}

func corsHandler(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		return cors.AllowAll().Handler
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "ok",
		"version":     s.Version,
		"environment": s.Environment,
	})
}

// ---- services ----

type createPayload struct {
	Name           string           `json:"name"`
	URL            string           `json:"url"`
	CheckType      domain.CheckKind `json:"check_type"`
	ExpectedStatus int              `json:"expected_status"`
	IsActive       *bool            `json:"is_active"`
}

// updatePayload only touches the fields that are present.
type updatePayload struct {
	Name           *string           `json:"name"`
	URL            *string           `json:"url"`
	CheckType      *domain.CheckKind `json:"check_type"`
	ExpectedStatus *int              `json:"expected_status"`
	IsActive       *bool             `json:"is_active"`
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	ts, err := s.Store.List(r.Context())
	if err != nil {
		s.internalError(w, "list_services_error", err)
		return
	}
	if ts == nil {
		ts = []domain.Target{}
	}
	writeJSON(w, http.StatusOK, ts)
}

func (s *Server) handleServiceStats(w http.ResponseWriter, r *http.Request) {
	ts, err := s.Store.List(r.Context())
	if err != nil {
		s.internalError(w, "service_stats_error", err)
		return
	}
	writeJSON(w, http.StatusOK, domain.ComputeStats(ts))
}

func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTarget(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCreateService(w http.ResponseWriter, r *http.Request) {
	var p createPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	t := &domain.Target{
		Name:           strings.TrimSpace(p.Name),
		URL:            strings.TrimSpace(p.URL),
		Kind:           p.CheckType,
		ExpectedStatus: p.ExpectedStatus,
		Active:         p.IsActive == nil || *p.IsActive,
	}
	if t.Kind == "" {
		t.Kind = domain.KindHTTP
	}
	if t.ExpectedStatus == 0 {
		t.ExpectedStatus = http.StatusOK
	}
	if msg := validateTarget(t); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if t.Kind == domain.KindHTTP {
		t.URL = normalizeHTTPURL(t.URL)
	}

	dup, err := s.isDuplicate(r, t)
	if err != nil {
		s.internalError(w, "create_service_error", err)
		return
	}
	if dup {
		writeError(w, http.StatusConflict, "service already monitored")
		return
	}

	if err := s.Store.Add(r.Context(), t); err != nil {
		s.internalError(w, "create_service_error", err)
		return
	}
	s.Logger.Info("service_added",
		zap.String("target_id", string(t.ID)),
		zap.String("name", t.Name),
		zap.String("url", t.URL),
		zap.String("check_type", string(t.Kind)),
	)
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleUpdateService(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTarget(w, r)
	if !ok {
		return
	}
	var p updatePayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	if p.Name != nil {
		t.Name = strings.TrimSpace(*p.Name)
	}
	if p.URL != nil {
		t.URL = strings.TrimSpace(*p.URL)
	}
	if p.CheckType != nil {
		t.Kind = *p.CheckType
	}
	if p.ExpectedStatus != nil {
		t.ExpectedStatus = *p.ExpectedStatus
	}
	if p.IsActive != nil {
		t.Active = *p.IsActive
	}
	if msg := validateTarget(t); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if t.Kind == domain.KindHTTP {
		t.URL = normalizeHTTPURL(t.URL)
	}

	if err := s.Store.Update(r.Context(), t); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "service not found")
			return
		}
		s.internalError(w, "update_service_error", err)
		return
	}
	s.Logger.Info("service_updated", zap.String("target_id", string(t.ID)))
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	id := domain.TargetID(chi.URLParam(r, "id"))
	if err := s.Store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "service not found")
			return
		}
		s.internalError(w, "delete_service_error", err)
		return
	}
	s.Logger.Info("service_deleted", zap.String("target_id", string(id)))
	writeJSON(w, http.StatusOK, map[string]string{"message": "Service deleted"})
}

// handleManualCheck probes one service right away and stores the outcome.
// It is not a cycle: no transition is logged or broadcast.
func (s *Server) handleManualCheck(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTarget(w, r)
	if !ok {
		return
	}
	out := s.Checker.Check(r.Context(), *t)
	u := domain.TargetUpdate{
		ID:             t.ID,
		Status:         out.Status,
		ResponseTimeMS: out.ResponseTimeMS,
		CheckedAt:      time.Now().UTC(),
	}
	if err := s.Store.SetStatus(r.Context(), u); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "service not found")
			return
		}
		s.internalError(w, "manual_check_error", err)
		return
	}
	u.Apply(t)
	s.Logger.Info("manual_check",
		zap.String("target_id", string(t.ID)),
		zap.String("status", string(out.Status)),
	)
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) loadTarget(w http.ResponseWriter, r *http.Request) (*domain.Target, bool) {
	id := domain.TargetID(chi.URLParam(r, "id"))
	t, err := s.Store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "service not found")
			return nil, false
		}
		s.internalError(w, "get_service_error", err)
		return nil, false
	}
	return t, true
}

func (s *Server) isDuplicate(r *http.Request, t *domain.Target) (bool, error) {
	ts, err := s.Store.List(r.Context())
	if err != nil {
		return false, err
	}
	for _, existing := range ts {
		if existing.Kind == t.Kind && strings.EqualFold(existing.URL, t.URL) {
			return true, nil
		}
	}
	return false, nil
}

// ---- logs ----

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := repo.LogFilter{
		Level:  domain.Level(strings.ToUpper(q.Get("level"))),
		Source: q.Get("source"),
	}
	if f.Level != "" && !domain.ValidLevel(f.Level) {
		writeError(w, http.StatusBadRequest, "unknown level")
		return
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		f.Limit = n
	}
	logs, err := s.Store.ListLogs(r.Context(), f)
	if err != nil {
		s.internalError(w, "list_logs_error", err)
		return
	}
	if logs == nil {
		logs = []domain.LogEntry{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleLogSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.Store.LogSources(r.Context())
	if err != nil {
		s.internalError(w, "log_sources_error", err)
		return
	}
	if sources == nil {
		sources = []string{}
	}
	writeJSON(w, http.StatusOK, sources)
}

// ---- helpers ----

func validateTarget(t *domain.Target) string {
	switch {
	case t.Name == "":
		return "name is required"
	case t.URL == "":
		return "url is required"
	case !t.Kind.Valid():
		return "check_type must be one of http, ping, tcp"
	case t.Kind == domain.KindHTTP && !isValidHTTPURL(t.URL):
		return "url must be an http(s) URL"
	case t.ExpectedStatus < 100 || t.ExpectedStatus > 599:
		return "expected_status out of range"
	}
	return ""
}

func isValidHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}

// normalizeHTTPURL lowercases the host, drops default ports and a bare
// trailing slash so equivalent URLs compare equal.
func normalizeHTTPURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = host + ":" + port
	}
	u.Host = host
	if u.Path == "/" {
		u.Path = ""
	}
	return u.String()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) internalError(w http.ResponseWriter, event string, err error) {
	s.Logger.Error(event, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
