package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bookcatalog/internal/ratelimit"
	"bookcatalog/internal/util"
	"bookcatalog/pkg/domain"
	"bookcatalog/services/catalog/internal/app"
)

const maxBodyBytes = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                       *app.App
	RedisAddr                 string
	RedisPassword             string
	CatalogRateLimitPerMinute int
	TrustedProxyCIDRs         []string
}

// Server exposes HTTP endpoints for the catalog service.
type Server struct {
	app     *app.App
	limiter *ratelimit.FixedWindowLimiter
	proxies *util.TrustedProxies
	mux     *http.ServeMux
}

// New constructs the server with routes configured. A positive
// CatalogRateLimitPerMinute requires RedisAddr.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("catalog app is required")
	}
	proxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	s := &Server{
		app:     cfg.App,
		proxies: proxies,
		mux:     http.NewServeMux(),
	}
	if cfg.CatalogRateLimitPerMinute > 0 {
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(ratelimit.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Prefix:   "bookcatalog:ratelimit:catalog",
			Limit:    cfg.CatalogRateLimitPerMinute,
			Window:   time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("init catalog limiter: %w", err)
		}
		s.limiter = limiter
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("catalog", s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/catalog/lookup", s.withRateLimit(s.handleLookup))
	s.mux.Handle("/catalog/", s.withRateLimit(s.handleUserCatalog))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"breaker": s.app.BreakerState(),
	})
}

func (s *Server) withRateLimit(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow(r.Context(), util.ClientIP(r, s.proxies)) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next(w, r)
	})
}

// POST /catalog/lookup
func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var rating domain.Rating
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&rating); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	writeJSON(w, http.StatusOK, s.app.GetCatalogItem(r.Context(), rating))
}

// GET /catalog/{userId} or POST /catalog/{userId}/ratings
func (s *Server) handleUserCatalog(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/catalog/")
	parts := strings.SplitN(path, "/", 2)
	userID := parts[0]
	if userID == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		if parts[1] != "ratings" {
			notFound(w, "not found")
			return
		}
		s.handleRateBook(w, r, userID)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	catalog, err := s.app.GetUserCatalog(r.Context(), userID)
	if err != nil {
		if errors.Is(err, app.ErrUserRequired) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		util.LoggerFromContext(r.Context()).Error("user catalog failed", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, catalog)
}

func (s *Server) handleRateBook(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var rating domain.Rating
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&rating); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	saved, err := s.app.RateBook(userID, rating)
	switch {
	case errors.Is(err, app.ErrUserRequired), errors.Is(err, app.ErrBookRequired), errors.Is(err, app.ErrInvalidRating):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		util.LoggerFromContext(r.Context()).Error("save rating failed", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForCatalog(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get(util.RequestIDHeader)),
	})
}

func errorCodeForCatalog(status int, msg string) string {
	switch msg {
	case app.ErrInvalidRating.Error():
		return "CATALOG_INVALID_RATING"
	case app.ErrBookRequired.Error():
		return "CATALOG_BOOK_REQUIRED"
	case app.ErrUserRequired.Error():
		return "CATALOG_USER_REQUIRED"
	case "invalid JSON body":
		return "CATALOG_INVALID_REQUEST"
	case "too many requests":
		return "RATE_LIMITED"
	}

	switch status {
	case http.StatusBadRequest:
		return "CATALOG_INVALID_REQUEST"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
