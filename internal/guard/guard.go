// Package guard gates HTTP routes behind a verified access token.
package guard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/example/sessionauth/internal/token"
)

// CookieName is the cookie checked for an access token before the
// Authorization header.
const CookieName = "accessToken"

const (
	codeInvalidToken = "invalid-token"
	codeForbidden    = "forbidden-resource"
	codeServerError  = "server-error"
)

// Verifier verifies access tokens.
type Verifier interface {
	VerifyAccessToken(raw string) (*token.Claims, error)
}

// Principal is the authenticated caller attached to a request.
type Principal struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

type ctxKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// PrincipalFrom returns the principal attached by Require.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}

// Decision is the outcome of Authorize.
type Decision int

const (
	Allow Decision = iota
	NoToken
	Forbidden
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case NoToken:
		return "no-token"
	case Forbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Guard authorizes requests against an access-token verifier and the global
// role allow-list.
type Guard struct {
	tokens Verifier
	roles  []string
	log    *slog.Logger
}

// New returns a Guard. roles is the global allow-list every principal's role
// must belong to.
func New(tokens Verifier, roles []string, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{tokens: tokens, roles: slices.Clone(roles), log: logger}
}

// extract reads the raw token, cookie first.
func extract(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Authorize decides whether r may reach a route restricted to routeRoles.
// An empty routeRoles admits any role in the global allow-list.
func (g *Guard) Authorize(r *http.Request, routeRoles []string) (Principal, Decision) {
	raw := extract(r)
	if raw == "" {
		return Principal{}, NoToken
	}
	claims, err := g.tokens.VerifyAccessToken(raw)
	if err != nil {
		return Principal{}, NoToken
	}
	p := Principal{ID: claims.AccountID, Role: claims.Role}
	if len(routeRoles) > 0 && !slices.Contains(routeRoles, p.Role) {
		return p, Forbidden
	}
	if !slices.Contains(g.roles, p.Role) {
		return p, Forbidden
	}
	return p, Allow
}

// Require returns middleware admitting only callers whose role is in roles
// (any configured role when roles is empty).
func (g *Guard) Require(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				p        Principal
				decision Decision
				ok       bool
			)
			func() {
				defer func() {
					if rec := recover(); rec != nil {
						g.log.ErrorContext(r.Context(), "guard panic", "path", r.URL.Path, "panic", rec)
					}
				}()
				p, decision = g.Authorize(r, roles)
				ok = true
			}()

			switch {
			case !ok:
				writeCode(w, http.StatusInternalServerError, codeServerError)
			case decision == NoToken:
				writeCode(w, http.StatusUnauthorized, codeInvalidToken)
			case decision == Forbidden:
				g.log.InfoContext(r.Context(), "forbidden", "path", r.URL.Path, "account_id", p.ID, "role", p.Role)
				writeCode(w, http.StatusForbidden, codeForbidden)
			default:
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
			}
		})
	}
}

func writeCode(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code})
}
