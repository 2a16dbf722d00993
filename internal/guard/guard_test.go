package guard

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/sessionauth/internal/token"
)

func newTokens(t *testing.T) *token.Service {
	t.Helper()
	s, err := token.New(token.Config{AccessSecret: "access-secret", RefreshSecret: "refresh-secret"})
	require.NoError(t, err)
	return s
}

func issue(t *testing.T, s *token.Service, id, role string) string {
	t.Helper()
	raw, err := s.IssueAccessToken(token.Claims{AccountID: id, Role: role})
	require.NoError(t, err)
	return raw
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echo writes the principal it received.
var echo = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	_ = json.NewEncoder(w).Encode(p)
})

func serve(h http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]string) {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	body := map[string]string{}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func TestRequire(t *testing.T) {
	tokens := newTokens(t)
	g := New(tokens, []string{"user", "admin"}, quietLogger())

	userTok := issue(t, tokens, "u1", "user")
	adminTok := issue(t, tokens, "a1", "admin")
	ghostTok := issue(t, tokens, "g1", "ghost")
	refreshTok, err := tokens.IssueRefreshToken(token.Claims{AccountID: "u1", Role: "user"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		roles  []string
		bearer string
		status int
		code   string
		id     string
	}{
		{name: "no token", status: http.StatusUnauthorized, code: "invalid-token"},
		{name: "garbage", bearer: "nope", status: http.StatusUnauthorized, code: "invalid-token"},
		{name: "refresh token rejected", bearer: refreshTok, status: http.StatusUnauthorized, code: "invalid-token"},
		{name: "any configured role", bearer: userTok, status: http.StatusOK, id: "u1"},
		{name: "route role match", roles: []string{"admin"}, bearer: adminTok, status: http.StatusOK, id: "a1"},
		{name: "route role mismatch", roles: []string{"admin"}, bearer: userTok, status: http.StatusForbidden, code: "forbidden-resource"},
		{name: "role outside allow-list", bearer: ghostTok, status: http.StatusForbidden, code: "forbidden-resource"},
		{name: "route allows unknown global role", roles: []string{"ghost"}, bearer: ghostTok, status: http.StatusForbidden, code: "forbidden-resource"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearer)
			}
			rec, body := serve(g.Require(tt.roles...)(echo), req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.code != "" {
				assert.Equal(t, tt.code, body["code"])
			}
			if tt.id != "" {
				assert.Equal(t, tt.id, body["id"])
			}
		})
	}
}

func TestRequire_CookieFirst(t *testing.T) {
	tokens := newTokens(t)
	g := New(tokens, []string{"user"}, quietLogger())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: issue(t, tokens, "from-cookie", "user")})
	req.Header.Set("Authorization", "Bearer "+issue(t, tokens, "from-header", "user"))

	rec, body := serve(g.Require()(echo), req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "from-cookie", body["id"])
}

func TestAuthorize(t *testing.T) {
	tokens := newTokens(t)
	g := New(tokens, []string{"user"}, quietLogger())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+issue(t, tokens, "u1", "user"))
	p, d := g.Authorize(req, nil)
	assert.Equal(t, Allow, d)
	assert.Equal(t, Principal{ID: "u1", Role: "user"}, p)

	req.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
	_, d = g.Authorize(req, nil)
	assert.Equal(t, NoToken, d)
}

type panicVerifier struct{}

func (panicVerifier) VerifyAccessToken(string) (*token.Claims, error) { panic("boom") }

func TestRequire_PanicIsServerError(t *testing.T) {
	g := New(panicVerifier{}, []string{"user"}, quietLogger())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer x.y.z")

	rec, body := serve(g.Require()(echo), req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, map[string]string{"code": "server-error"}, body)
}
