package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"emochat/internal/app"
	"emochat/internal/ratelimit"
	"emochat/internal/util"
	"emochat/pkg/auth"
	"emochat/pkg/domain"
)

const defaultRequestTimeout = 10 * time.Second

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App

	// Development exposes internal error detail to clients. Never enable
	// in production.
	Development bool

	// Rate limiting on the credential endpoints is enabled only when a
	// Redis address is configured.
	RedisAddr                string
	RedisPassword            string
	SignupRateLimitPerMinute int
	LoginRateLimitPerMinute  int

	TrustedProxyCIDRs []string

	RequestTimeout time.Duration
}

// Server exposes HTTP endpoints for the chat history API.
type Server struct {
	app *app.App
	mux *http.ServeMux

	development    bool
	requestTimeout time.Duration
	trustedProxies *util.TrustedProxies

	signupLimiter *ratelimit.FixedWindowLimiter
	loginLimiter  *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		development:    cfg.Development,
		requestTimeout: timeout,
		trustedProxies: trusted,
	}
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		signupLimit := cfg.SignupRateLimitPerMinute
		if signupLimit <= 0 {
			signupLimit = 5
		}
		loginLimit := cfg.LoginRateLimitPerMinute
		if loginLimit <= 0 {
			loginLimit = 10
		}
		s.signupLimiter, err = ratelimit.NewRedisFixedWindowLimiter(
			cfg.RedisAddr, cfg.RedisPassword, "emochat:ratelimit:signup", signupLimit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init signup limiter: %w", err)
		}
		s.loginLimiter, err = ratelimit.NewRedisFixedWindowLimiter(
			cfg.RedisAddr, cfg.RedisPassword, "emochat:ratelimit:login", loginLimit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init login limiter: %w", err)
		}
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler wrapped with shared middleware.
func (s *Server) Router() http.Handler {
	handler := http.Handler(s.mux)
	handler = s.recovered(handler)
	handler = util.WithRequestLog(handler)
	handler = util.WithRequestID(handler)
	handler = util.WithCORS(handler)
	handler = util.WithSecurityHeaders(handler)
	return handler
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.Handle("/api/auth/verify", s.authenticated(s.handleVerify))

	// conversations
	s.mux.Handle("/api/conversations", s.authenticated(s.handleConversations))
	s.mux.Handle("/api/conversations/", s.authenticated(s.handleConversationByID))

	// settings
	s.mux.Handle("/api/settings", s.authenticated(s.handleSettings))

	s.mux.HandleFunc("/", s.handleNotFound)
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.requestTimeout)
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "Endpoint not found")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	if err := s.app.Health(ctx); err != nil {
		util.LoggerFromContext(r.Context()).Error("health check failed", "error", err)
		msg := "database connection failed"
		if s.development {
			msg = err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status":  "error",
			"message": msg,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"database":  "connected",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.Identity)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Access token required")
			return
		}
		identity, err := s.app.Identity(token)
		if err != nil {
			util.LoggerFromContext(r.Context()).Warn("token rejected",
				"path", r.URL.Path,
				"reason", err.Error(),
			)
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		next(w, r, identity)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func (s *Server) allow(limiter *ratelimit.FixedWindowLimiter, r *http.Request) bool {
	if limiter == nil {
		return true
	}
	return limiter.Allow(util.ClientIP(r, s.trustedProxies))
}

// auth handlers
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allow(s.signupLimiter, r) {
		writeError(w, http.StatusTooManyRequests, "Too many requests")
		return
	}
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	user, token, err := s.app.SignUp(ctx, req.Name, req.Email, req.Password)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	util.LoggerFromContext(r.Context()).Info("user signed up", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, authResponse{Success: true, User: user, Token: token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allow(s.loginLimiter, r) {
		writeError(w, http.StatusTooManyRequests, "Too many requests")
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	user, token, err := s.app.Login(ctx, req.Email, req.Password)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	util.LoggerFromContext(r.Context()).Info("user logged in", "user_id", user.ID)
	writeJSON(w, http.StatusOK, authResponse{Success: true, User: user, Token: token})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{Success: true, User: identity})
}

// settings handlers
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	switch r.Method {
	case http.MethodGet:
		ctx, cancel := s.requestContext(r)
		defer cancel()
		settings, err := s.app.Settings(ctx, identity.ID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	case http.MethodPut:
		var req updateSettingsRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		ctx, cancel := s.requestContext(r)
		defer cancel()
		settings, err := s.app.UpdateSettings(ctx, identity.ID, req.PreferredModel, req.UseBuiltinKey)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	default:
		methodNotAllowed(w)
	}
}

// recovered turns handler panics into a JSON 500 instead of killing the
// connection.
func (s *Server) recovered(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				util.LoggerFromContext(r.Context()).Error("panic recovered",
					"panic", rec,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				s.writeInternal(w, fmt.Errorf("%v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// writeAppError maps application errors onto HTTP status codes. Anything
// unrecognized is an internal error and its detail stays server-side
// outside development mode.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrSignupFieldsRequired),
		errors.Is(err, app.ErrEmailAndPasswordRequired),
		errors.Is(err, app.ErrEmailAlreadyExists),
		errors.Is(err, app.ErrTitleRequired),
		errors.Is(err, app.ErrRoleAndContentRequired),
		errors.Is(err, app.ErrInvalidRole),
		errors.Is(err, app.ErrMessagesRequired),
		errors.Is(err, auth.ErrPasswordTooShort):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed",
			"path", r.URL.Path,
			"error", err,
		)
		s.writeInternal(w, err)
	}
}

func (s *Server) writeInternal(w http.ResponseWriter, err error) {
	msg := "Something went wrong"
	if s.development && err != nil {
		msg = err.Error()
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error":   "Internal server error",
		"message": msg,
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
}

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Success bool        `json:"success"`
	User    domain.User `json:"user"`
	Token   string      `json:"token"`
}

type verifyResponse struct {
	Success bool            `json:"success"`
	User    domain.Identity `json:"user"`
}

type updateSettingsRequest struct {
	PreferredModel *string `json:"preferredModel"`
	UseBuiltinKey  *bool   `json:"useBuiltinKey"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
