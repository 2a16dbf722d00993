// Package account holds the Account model and the persistence contract the
// session engine depends on, together with memory, SQLite and PostgreSQL
// implementations of it.
package account

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no account matches the lookup.
	ErrNotFound = errors.New("account not found")

	// ErrAccountExists is returned by Create when the email or phone number is taken.
	ErrAccountExists = errors.New("account already exists")

	// ErrTokenNotFound is returned by RotateRefreshToken when the presented
	// refresh token is not in the account's live set.
	ErrTokenNotFound = errors.New("refresh token not in live set")
)

// Account represents one registered principal.
type Account struct {
	ID           string     `json:"id"`
	Email        string     `json:"email,omitempty"`
	PhoneNumber  string     `json:"phoneNumber,omitempty"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
	// RefreshTokens is nil unless the lookup selected it.
	RefreshTokens *TokenSet `json:"-"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Public returns a copy without the password hash and refresh-token set.
func (a *Account) Public() *Account {
	if a == nil {
		return nil
	}
	cp := *a
	cp.PasswordHash = ""
	cp.RefreshTokens = nil
	if a.LastLogin != nil {
		t := *a.LastLogin
		cp.LastLogin = &t
	}
	return &cp
}

// Select is the projection of sensitive columns a lookup should load.
// Public columns are always returned.
type Select struct {
	PasswordHash  bool
	RefreshTokens bool
}

var (
	// SelectPublic loads no sensitive columns.
	SelectPublic = Select{}
	// SelectCredentials loads the password hash.
	SelectCredentials = Select{PasswordHash: true}
	// SelectSessions loads the refresh-token set.
	SelectSessions = Select{RefreshTokens: true}
)

// Credential identifies an account by email or phone number. Lookups OR-match
// on whichever fields are non-empty.
type Credential struct {
	Email       string
	PhoneNumber string
}

// NewAccount is the data required to create an account.
type NewAccount struct {
	Email        string
	PhoneNumber  string
	PasswordHash string
	Role         string
}

// Update lists the mutable fields of an account. Nil fields are left unchanged.
type Update struct {
	PasswordHash *string
	// ClearRefreshTokens empties the live refresh-token set.
	ClearRefreshTokens bool
}

// Store is the persistence contract consumed by the session engine.
type Store interface {
	FindByID(ctx context.Context, id string, sel Select) (*Account, error)
	FindByEmail(ctx context.Context, email string, sel Select) (*Account, error)
	FindByCredential(ctx context.Context, cred Credential, sel Select) (*Account, error)
	Create(ctx context.Context, in NewAccount, sel Select) (*Account, error)
	Update(ctx context.Context, id string, in Update, sel Select) (*Account, error)
	// RecordLogin appends refreshToken to the live set and bumps LastLogin.
	RecordLogin(ctx context.Context, id, refreshToken string, sel Select) (*Account, error)
	// RotateRefreshToken removes refreshToken from the live set and, when
	// newRefreshToken is non-empty, adds it in the same atomic step. It returns
	// ErrTokenNotFound without modifying anything if refreshToken is absent.
	RotateRefreshToken(ctx context.Context, id, refreshToken, newRefreshToken string, sel Select) (*Account, error)
	Delete(ctx context.Context, id string) error
}
