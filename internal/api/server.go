// Package api provides the read-side REST API: articles, metadata, reader
// accounts, preferences and the personalized feed.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"

	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/store"
	"github.com/RobinCoderZhao/newsdesk/internal/user"
)

// Config configures the API server.
type Config struct {
	Addr           string        `yaml:"addr" env:"API_ADDR"`
	JWTSecret      string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	TokenTTL       time.Duration `yaml:"token_ttl" env:"JWT_TTL"`
	PerPage        int           `yaml:"per_page" env:"API_PER_PAGE"`
	MaxPerPage     int           `yaml:"max_per_page" env:"API_MAX_PER_PAGE"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"API_ALLOWED_ORIGINS"`
	SecureCookies  bool          `yaml:"secure_cookies" env:"API_SECURE_COOKIES"`
}

// DefaultConfig returns the API defaults.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		TokenTTL:       7 * 24 * time.Hour,
		PerPage:        15,
		MaxPerPage:     100,
		AllowedOrigins: []string{"http://localhost:3000"},
	}
}

// Server holds the dependencies for the API.
type Server struct {
	articles  *store.Store
	users     *user.Store
	cfg       Config
	jwtSecret []byte
	logger    *slog.Logger
}

// NewServer creates a new API Server instance.
func NewServer(articles *store.Store, users *user.Store, cfg Config) *Server {
	def := DefaultConfig()
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = def.TokenTTL
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = def.PerPage
	}
	if cfg.MaxPerPage <= 0 {
		cfg.MaxPerPage = def.MaxPerPage
	}
	return &Server{
		articles:  articles,
		users:     users,
		cfg:       cfg,
		jwtSecret: []byte(cfg.JWTSecret),
		logger:    slog.Default().With("component", "api"),
	}
}

// Routes returns the configured http.Handler (ServeMux) for the API.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Auth
	mux.HandleFunc("POST /api/auth/register", s.handleRegister())
	mux.HandleFunc("POST /api/auth/login", s.handleLogin())
	mux.Handle("POST /api/auth/logout", s.requireAuthHandler(s.handleLogout()))
	mux.Handle("GET /api/auth/user", s.requireAuthHandler(s.handleGetUser()))

	// Articles and metadata (public)
	mux.HandleFunc("GET /api/articles", s.handleListArticles())
	mux.HandleFunc("GET /api/articles/{id}", s.handleGetArticle())
	mux.HandleFunc("GET /api/sources", s.handleSources())
	mux.HandleFunc("GET /api/categories", s.handleCategories())
	mux.HandleFunc("GET /api/authors", s.handleAuthors())
	mux.HandleFunc("GET /api/fetch-runs", s.handleFetchRuns())

	// Reader preferences and feed
	mux.Handle("GET /api/user/preferences", s.requireAuthHandler(s.handleGetPreferences()))
	mux.Handle("POST /api/user/preferences", s.requireAuthHandler(s.handleSavePreferences()))
	mux.Handle("GET /api/user/feed", s.requireAuthHandler(s.handleFeed()))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		respondSuccess(w, http.StatusOK, "ok", nil)
	})

	return mux
}

// Handler wraps Routes with panic recovery, CORS, compression and a
// combined-format access log written to accessLog (nil disables it).
func (s *Server) Handler(accessLog io.Writer) http.Handler {
	h := s.Routes()
	h = handlers.CompressHandler(h)
	h = handlers.CORS(
		handlers.AllowedOrigins(s.cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.AllowCredentials(),
	)(h)
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.logger}),
		handlers.PrintRecoveryStack(false),
	)(h)
	if accessLog != nil {
		h = handlers.CombinedLoggingHandler(accessLog, h)
	}
	return h
}

// recoveryLogger adapts slog to handlers.RecoveryHandlerLogger.
type recoveryLogger struct{ l *slog.Logger }

func (r recoveryLogger) Println(v ...interface{}) {
	r.l.Error("panic recovered", "panic", fmt.Sprint(v...))
}

// --- Helpers ---

// envelope is the body of every API response.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Errors  any    `json:"errors,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondSuccess(w http.ResponseWriter, status int, message string, data any) {
	respondJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, envelope{Success: false, Message: message})
}

// respondValidation reports field errors with 422.
func respondValidation(w http.ResponseWriter, errs fieldErrors) {
	respondJSON(w, http.StatusUnprocessableEntity, envelope{
		Success: false,
		Message: "The given data was invalid.",
		Errors:  errs,
	})
}

// fieldErrors maps a request field to its validation messages.
type fieldErrors map[string][]string

func (f fieldErrors) add(field, msg string) {
	f[field] = append(f[field], msg)
}
