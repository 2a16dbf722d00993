// Package auth implements the session lifecycle: registration, login,
// refresh-token rotation, logout, password change and account deletion.
//
// Each operation is a single transition over an account's persisted
// refresh-token set. A refresh token is honoured only while its digest is in
// that set, which is what makes rotation and logout effective for otherwise
// stateless JWTs.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/example/sessionauth/internal/account"
	"github.com/example/sessionauth/internal/password"
	"github.com/example/sessionauth/internal/token"
)

// Tokens is the subset of the token service the engine needs.
type Tokens interface {
	IssueTokenPair(c token.Claims) (token.Pair, error)
	VerifyRefreshToken(raw string) (*token.Claims, error)
}

// Hasher is the credential verifier contract.
type Hasher interface {
	Hash(plain string) (string, error)
	Compare(hash, plain string) (bool, error)
	CompareDummy(plain string)
	NeedsRehash(hash string) bool
}

// Config is the immutable engine configuration.
type Config struct {
	// Roles is the non-empty allow-list of account roles.
	Roles []string
	// RevokeSessionsOnPasswordChange clears every refresh token when the
	// password changes. Off by default.
	RevokeSessionsOnPasswordChange bool
	// PhoneRegion is the default region for phone numbers written without a
	// leading '+'. Empty requires international format.
	PhoneRegion string
}

// Session is the result of a successful Register, Login or Refresh.
type Session struct {
	Account *account.Account `json:"account"`
	Tokens  token.Pair       `json:"tokens"`
}

// Engine runs the lifecycle operations. It holds no mutable state.
type Engine struct {
	cfg     Config
	store   account.Store
	tokens  Tokens
	hasher  Hasher
	log     *slog.Logger
	metrics *Metrics
}

// Option customises an Engine.
type Option func(*Engine)

// WithMetrics records operation outcomes.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New returns an Engine. It fails if the role allow-list is empty.
func New(cfg Config, store account.Store, tokens Tokens, hasher Hasher, log *slog.Logger, opts ...Option) (*Engine, error) {
	roles := make([]string, 0, len(cfg.Roles))
	for _, r := range cfg.Roles {
		if r = strings.TrimSpace(r); r != "" && !slices.Contains(roles, r) {
			roles = append(roles, r)
		}
	}
	if len(roles) == 0 {
		return nil, errors.New("auth: at least one role is required")
	}
	if store == nil || tokens == nil || hasher == nil {
		return nil, errors.New("auth: store, tokens and hasher are required")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg.Roles = roles
	e := &Engine{cfg: cfg, store: store, tokens: tokens, hasher: hasher, log: log}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Roles returns a copy of the configured role allow-list.
func (e *Engine) Roles() []string { return slices.Clone(e.cfg.Roles) }

// IsRole reports whether role is in the allow-list.
func (e *Engine) IsRole(role string) bool { return slices.Contains(e.cfg.Roles, role) }

func (e *Engine) mint(ctx context.Context, a *account.Account) (token.Pair, *account.Account, error) {
	pair, err := e.tokens.IssueTokenPair(token.Claims{AccountID: a.ID, Role: a.Role})
	if err != nil {
		return token.Pair{}, nil, fmt.Errorf("issue token pair: %w", err)
	}
	updated, err := e.store.RecordLogin(ctx, a.ID, pair.RefreshToken, account.SelectPublic)
	if err != nil {
		return token.Pair{}, nil, fmt.Errorf("record login: %w", err)
	}
	return pair, updated, nil
}

// Register creates an account and logs it in.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (_ *Session, err error) {
	defer func() { e.metrics.observe("register", err) }()

	if verr := normalizeIdentifier(&in.Email, &in.PhoneNumber, e.cfg.PhoneRegion); verr != nil {
		return nil, verr
	}
	if verr := check(&in); verr != nil {
		return nil, verr
	}
	if !e.IsRole(in.Role) {
		return nil, &Error{
			Code:    CodeInvalidRole,
			Message: "role should be one of: " + strings.Join(e.cfg.Roles, ", "),
		}
	}

	cred := account.Credential{Email: in.Email, PhoneNumber: in.PhoneNumber}
	_, err = e.store.FindByCredential(ctx, cred, account.SelectPublic)
	switch {
	case err == nil:
		return nil, ErrAccountExists
	case !errors.Is(err, account.ErrNotFound):
		return nil, fmt.Errorf("find account: %w", err)
	}

	hash, err := e.hasher.Hash(in.Password)
	if err != nil {
		return nil, hashErr("password", err)
	}
	created, err := e.store.Create(ctx, account.NewAccount{
		Email:        in.Email,
		PhoneNumber:  in.PhoneNumber,
		PasswordHash: hash,
		Role:         in.Role,
	}, account.SelectPublic)
	if err != nil {
		// the store's unique index catches a racing registration
		if errors.Is(err, account.ErrAccountExists) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	pair, updated, err := e.mint(ctx, created)
	if err != nil {
		return nil, err
	}
	e.log.InfoContext(ctx, "account registered", "account_id", updated.ID, "role", updated.Role)
	return &Session{Account: updated.Public(), Tokens: pair}, nil
}

// Login verifies credentials and starts a new session. Unknown identifiers
// and wrong passwords are indistinguishable to the caller.
func (e *Engine) Login(ctx context.Context, in LoginInput) (_ *Session, err error) {
	defer func() { e.metrics.observe("login", err) }()

	if verr := normalizeIdentifier(&in.Email, &in.PhoneNumber, e.cfg.PhoneRegion); verr != nil {
		return nil, verr
	}
	if verr := check(&in); verr != nil {
		return nil, verr
	}

	cred := account.Credential{Email: in.Email, PhoneNumber: in.PhoneNumber}
	a, err := e.store.FindByCredential(ctx, cred, account.SelectCredentials)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			e.hasher.CompareDummy(in.Password)
			return nil, ErrCredentialMismatch
		}
		return nil, fmt.Errorf("find account: %w", err)
	}

	ok, err := e.hasher.Compare(a.PasswordHash, in.Password)
	if err != nil {
		return nil, fmt.Errorf("compare password: %w", err)
	}
	if !ok {
		return nil, ErrCredentialMismatch
	}

	if e.hasher.NeedsRehash(a.PasswordHash) {
		e.rehash(ctx, a.ID, in.Password)
	}

	pair, updated, err := e.mint(ctx, a)
	if err != nil {
		return nil, err
	}
	return &Session{Account: updated.Public(), Tokens: pair}, nil
}

// rehash upgrades a stored hash to the current cost. Failures are logged and
// do not fail the login.
func (e *Engine) rehash(ctx context.Context, id, plain string) {
	hash, err := e.hasher.Hash(plain)
	if err == nil {
		_, err = e.store.Update(ctx, id, account.Update{PasswordHash: &hash}, account.SelectPublic)
	}
	if err != nil {
		e.log.WarnContext(ctx, "password rehash failed", "account_id", id, "error", err)
	}
}

// Refresh exchanges a live refresh token for a new pair. The presented token
// is removed in the same store call that adds its replacement, so each
// refresh token works at most once.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (_ *Session, err error) {
	defer func() { e.metrics.observe("refresh", err) }()

	in := refreshInput{RefreshToken: strings.TrimSpace(refreshToken)}
	if verr := check(&in); verr != nil {
		return nil, verr
	}
	claims, err := e.tokens.VerifyRefreshToken(in.RefreshToken)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}

	a, err := e.store.FindByID(ctx, claims.AccountID, account.SelectSessions)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	if !a.RefreshTokens.Has(in.RefreshToken) {
		e.log.WarnContext(ctx, "refresh token not in live set", "account_id", a.ID)
		return nil, ErrInvalidRefreshToken
	}

	pair, err := e.tokens.IssueTokenPair(token.Claims{AccountID: a.ID, Role: a.Role})
	if err != nil {
		return nil, fmt.Errorf("issue token pair: %w", err)
	}
	updated, err := e.store.RotateRefreshToken(ctx, a.ID, in.RefreshToken, pair.RefreshToken, account.SelectPublic)
	if err != nil {
		return nil, e.mapRotateErr(err)
	}
	return &Session{Account: updated.Public(), Tokens: pair}, nil
}

// Logout removes refreshToken from its account's live set. A verified token
// that is already gone is treated as logged out.
func (e *Engine) Logout(ctx context.Context, refreshToken string) (err error) {
	defer func() { e.metrics.observe("logout", err) }()

	in := refreshInput{RefreshToken: strings.TrimSpace(refreshToken)}
	if verr := check(&in); verr != nil {
		return verr
	}
	claims, err := e.tokens.VerifyRefreshToken(in.RefreshToken)
	if err != nil {
		return ErrInvalidRefreshToken
	}
	_, err = e.store.RotateRefreshToken(ctx, claims.AccountID, in.RefreshToken, "", account.SelectPublic)
	if err != nil && !errors.Is(err, account.ErrTokenNotFound) {
		return e.mapRotateErr(err)
	}
	return nil
}

func hashErr(field string, err error) error {
	if errors.Is(err, password.ErrPasswordTooLong) {
		return invalidData(fmt.Sprintf("%s: must be at most %d bytes", field, password.MaxLength))
	}
	return fmt.Errorf("hash password: %w", err)
}

func (e *Engine) mapRotateErr(err error) error {
	switch {
	case errors.Is(err, account.ErrTokenNotFound):
		return ErrInvalidRefreshToken
	case errors.Is(err, account.ErrNotFound):
		return ErrAccountNotFound
	default:
		return fmt.Errorf("rotate refresh token: %w", err)
	}
}

// ChangePassword replaces the password after checking the old one. Existing
// refresh tokens survive unless RevokeSessionsOnPasswordChange is set.
func (e *Engine) ChangePassword(ctx context.Context, in ChangePasswordInput) (err error) {
	defer func() { e.metrics.observe("change_password", err) }()

	if verr := check(&in); verr != nil {
		return verr
	}
	a, err := e.store.FindByID(ctx, in.AccountID, account.SelectCredentials)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("find account: %w", err)
	}

	ok, err := e.hasher.Compare(a.PasswordHash, in.OldPassword)
	if err != nil {
		return fmt.Errorf("compare password: %w", err)
	}
	if !ok {
		return ErrInvalidCredentials
	}

	hash, err := e.hasher.Hash(in.NewPassword)
	if err != nil {
		return hashErr("newPassword", err)
	}
	upd := account.Update{
		PasswordHash:       &hash,
		ClearRefreshTokens: e.cfg.RevokeSessionsOnPasswordChange,
	}
	if _, err := e.store.Update(ctx, a.ID, upd, account.SelectPublic); err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("update account: %w", err)
	}
	e.log.InfoContext(ctx, "password changed", "account_id", a.ID, "sessions_revoked", upd.ClearRefreshTokens)
	return nil
}

// DeleteAccount removes the account and all of its refresh tokens.
func (e *Engine) DeleteAccount(ctx context.Context, accountID string) (err error) {
	defer func() { e.metrics.observe("delete_account", err) }()

	if strings.TrimSpace(accountID) == "" {
		return invalidData("accountId: is required")
	}
	if err := e.store.Delete(ctx, accountID); err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("delete account: %w", err)
	}
	e.log.InfoContext(ctx, "account deleted", "account_id", accountID)
	return nil
}
