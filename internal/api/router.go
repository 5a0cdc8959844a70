package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/erazemk/najdeno/internal/model"
)

// Config holds the router's dependencies. Optional fields may be nil.
type Config struct {
	DB        *sql.DB
	JWTSecret string
	TokenTTL  time.Duration
	Intake    Submitter

	Uploader  Presigner
	Events    http.Handler
	Extractor ExtractorStatus
	Clients   func() int
	// Pages serves everything outside /api.
	Pages http.Handler

	CORSOrigins []string
	RateLimit   int // requests per minute per IP, 0 disables
}

// NewRouter creates the HTTP handler with all endpoints registered.
func NewRouter(cfg Config) http.Handler {
	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: cfg.DB, JWTSecret: cfg.JWTSecret, TokenTTL: cfg.TokenTTL}
	itemsHandler := &ItemsHandler{DB: cfg.DB, Intake: cfg.Intake}
	uploadsHandler := &UploadsHandler{Uploader: cfg.Uploader}
	usersHandler := &UsersHandler{DB: cfg.DB}
	healthHandler := &HealthHandler{Extractor: cfg.Extractor, Clients: cfg.Clients}

	authMW := AuthMiddleware(cfg.JWTSecret, cfg.DB)
	limit := RateLimitMiddleware(cfg.RateLimit)

	api := func(pattern string, h http.Handler) {
		mux.Handle(pattern, withRoute(pattern, limit(h)))
	}
	authed := func(pattern string, h http.HandlerFunc) {
		api(pattern, authMW(h))
	}
	admin := func(pattern string, h http.HandlerFunc) {
		api(pattern, authMW(RequireRole(model.RoleAdmin)(h)))
	}

	// Auth.
	api("POST /api/auth/register", http.HandlerFunc(authHandler.Register))
	api("POST /api/auth/login", http.HandlerFunc(authHandler.Login))
	authed("POST /api/auth/logout", authHandler.Logout)
	authed("PUT /api/auth/password", authHandler.ChangePassword)

	// Items: public reads, authenticated writes.
	api("GET /api/items", http.HandlerFunc(itemsHandler.List))
	authed("POST /api/items", itemsHandler.Create)
	api("GET /api/items/{id}", http.HandlerFunc(itemsHandler.Get))
	authed("DELETE /api/items/{id}", itemsHandler.Delete)

	authed("GET /api/me/items", itemsHandler.Mine)
	authed("GET /api/me/matches", itemsHandler.MyMatches)

	authed("POST /api/uploads", uploadsHandler.Create)

	// User moderation (admin only).
	admin("GET /api/users", usersHandler.List)
	admin("GET /api/users/{id}", usersHandler.Get)
	admin("PUT /api/users/{id}", usersHandler.Update)
	admin("PUT /api/users/{id}/password", usersHandler.ResetPassword)
	admin("DELETE /api/users/{id}", usersHandler.Deactivate)

	if cfg.Events != nil {
		mux.Handle("GET /api/events", withRoute("GET /api/events", cfg.Events))
	}

	mux.Handle("GET /healthz", withRoute("GET /healthz", http.HandlerFunc(healthHandler.Health)))
	mux.Handle("GET /metrics", withRoute("GET /metrics", promhttp.Handler()))

	if cfg.Pages != nil {
		mux.Handle("/", withRoute("pages", cfg.Pages))
	}

	return LoggingMiddleware(CORSMiddleware(cfg.CORSOrigins)(mux))
}
