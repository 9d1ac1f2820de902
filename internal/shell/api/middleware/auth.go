// Package middleware provides HTTP middleware for the deployment API.
package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// =============================================================================
// Auth Configuration
// =============================================================================

// DefaultAPIKeyHeader is the alternative header carrying the API token.
const DefaultAPIKeyHeader = "X-API-Key"

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	// Token is the shared API token. If empty, authentication is skipped.
	Token string

	// Header is checked when no bearer token is present.
	Header string

	// Logger for auth middleware logging.
	Logger *slog.Logger
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthMiddleware rejects requests that do not carry the shared API token.
type AuthMiddleware struct {
	config AuthConfig
}

// NewAuthMiddleware creates a new auth middleware with the given config.
func NewAuthMiddleware(cfg AuthConfig) *AuthMiddleware {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Header == "" {
		cfg.Header = DefaultAPIKeyHeader
	}
	return &AuthMiddleware{config: cfg}
}

// Handler returns the middleware handler function. The token is read from
// the Authorization bearer header, then the API key header. Websocket
// upgrades may pass it as the token query parameter since browsers cannot
// set headers on them.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.config.Token == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := m.tokenFrom(r)
		if token == "" {
			writeJSONError(w, http.StatusUnauthorized, "API token required", "unauthorized")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(m.config.Token)) != 1 {
			m.config.Logger.Warn("invalid API token",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			writeJSONError(w, http.StatusUnauthorized, "invalid API token", "unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *AuthMiddleware) tokenFrom(r *http.Request) string {
	if token := ExtractBearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	if token := r.Header.Get(m.config.Header); token != "" {
		return token
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("token")
	}
	return ""
}

// ExtractBearerToken returns the token of a "Bearer <token>" header value.
func ExtractBearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// =============================================================================
// JSON Error Response
// =============================================================================

// ErrorResponse mirrors the API error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeJSONError writes an API error response.
func writeJSONError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Code: code})
}
