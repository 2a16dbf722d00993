package main

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/sessionauth/internal/account"
	"github.com/example/sessionauth/internal/guard"
	"github.com/example/sessionauth/internal/token"
)

// TokenInfo is an RFC 7662 style introspection response.
type TokenInfo struct {
	Active    bool   `json:"active"`
	TokenType string `json:"tokenType,omitempty"`
	ID        string `json:"id,omitempty"`
	Role      string `json:"role,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
}

func infoFrom(kind string, c *token.Claims) TokenInfo {
	info := TokenInfo{Active: true, TokenType: kind, ID: c.AccountID, Role: c.Role}
	if c.ExpiresAt != nil {
		info.ExpiresAt = c.ExpiresAt.Unix()
	}
	return info
}

// HandleTokenIntrospect reports whether a token is currently usable.
// POST /api/v1/auth/introspect
func (a *App) HandleTokenIntrospect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	raw := strings.TrimSpace(req.Token)
	if raw == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "token: is required")
		return
	}

	if c, err := a.Tokens.VerifyAccessToken(raw); err == nil {
		writeJSON(w, http.StatusOK, infoFrom("access", c))
		return
	}

	// a refresh token is only live while its account still holds it
	c, err := a.Tokens.VerifyRefreshToken(raw)
	if err != nil {
		writeJSON(w, http.StatusOK, TokenInfo{Active: false})
		return
	}
	acc, err := a.Store.FindByID(r.Context(), c.AccountID, account.SelectSessions)
	if err != nil && !errors.Is(err, account.ErrNotFound) {
		a.Log.ErrorContext(r.Context(), "introspect: load account", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, codeServerError, "")
		return
	}
	if err != nil || !acc.RefreshTokens.Has(raw) {
		writeJSON(w, http.StatusOK, TokenInfo{Active: false})
		return
	}
	writeJSON(w, http.StatusOK, infoFrom("refresh", c))
}

// HandleMe returns the authenticated principal.
// GET /api/v1/auth/me
func (a *App) HandleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := guard.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, codeServerError, "")
		return
	}
	writeJSON(w, http.StatusOK, p)
}
