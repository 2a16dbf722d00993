package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// sqlStore implements Store over database/sql. Queries are written with '?'
// placeholders and rebound per dialect. Timestamps are unix milliseconds.
type sqlStore struct {
	db       *sql.DB
	max      int
	bind     func(string) string
	isUnique func(error) bool
	now      func() time.Time
}

const accountColumns = `id, email, phone_number, password_hash, role, last_login, created_at, updated_at`

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func bindQuestion(q string) string { return q }

// bindDollar rewrites '?' placeholders into PostgreSQL's $n form.
func bindDollar(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *sqlStore) Ping() bool   { return s.db.Ping() == nil }
func (s *sqlStore) Close() error { return s.db.Close() }

func (s *sqlStore) scanAccount(row interface{ Scan(...any) error }) (*Account, error) {
	var (
		a            Account
		email, phone sql.NullString
		lastLogin    sql.NullInt64
		created, upd int64
	)
	if err := row.Scan(&a.ID, &email, &phone, &a.PasswordHash, &a.Role, &lastLogin, &created, &upd); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Email = email.String
	a.PhoneNumber = phone.String
	if lastLogin.Valid {
		t := fromMillis(lastLogin.Int64)
		a.LastLogin = &t
	}
	a.CreatedAt = fromMillis(created)
	a.UpdatedAt = fromMillis(upd)
	return &a, nil
}

// finish applies the projection, loading the token set when selected.
func (s *sqlStore) finish(ctx context.Context, q querier, a *Account, sel Select) (*Account, error) {
	if !sel.PasswordHash {
		a.PasswordHash = ""
	}
	if sel.RefreshTokens {
		set, err := s.loadTokens(ctx, q, a.ID)
		if err != nil {
			return nil, err
		}
		a.RefreshTokens = set
	}
	return a, nil
}

func (s *sqlStore) loadTokens(ctx context.Context, q querier, id string) (*TokenSet, error) {
	rows, err := q.QueryContext(ctx, s.bind(`SELECT token_hash FROM refresh_tokens WHERE account_id = ? ORDER BY id`), id)
	if err != nil {
		return nil, fmt.Errorf("query refresh tokens: %w", err)
	}
	defer rows.Close()
	var digests []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan refresh token: %w", err)
		}
		digests = append(digests, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tokenSetFromDigests(s.max, digests), nil
}

func (s *sqlStore) findOne(ctx context.Context, q querier, where string, sel Select, args ...any) (*Account, error) {
	row := q.QueryRowContext(ctx, s.bind(`SELECT `+accountColumns+` FROM accounts WHERE `+where), args...)
	a, err := s.scanAccount(row)
	if err != nil {
		return nil, err
	}
	return s.finish(ctx, q, a, sel)
}

func (s *sqlStore) FindByID(ctx context.Context, id string, sel Select) (*Account, error) {
	return s.findOne(ctx, s.db, `id = ?`, sel, id)
}

func (s *sqlStore) FindByEmail(ctx context.Context, email string, sel Select) (*Account, error) {
	if email == "" {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, s.db, `email = ?`, sel, email)
}

func (s *sqlStore) FindByCredential(ctx context.Context, cred Credential, sel Select) (*Account, error) {
	var (
		clauses []string
		args    []any
	)
	if cred.Email != "" {
		clauses = append(clauses, `email = ?`)
		args = append(args, cred.Email)
	}
	if cred.PhoneNumber != "" {
		clauses = append(clauses, `phone_number = ?`)
		args = append(args, cred.PhoneNumber)
	}
	if len(clauses) == 0 {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, s.db, strings.Join(clauses, " OR ")+` LIMIT 1`, sel, args...)
}

func (s *sqlStore) Create(ctx context.Context, in NewAccount, sel Select) (*Account, error) {
	now := s.now()
	a := &Account{
		ID:            uuid.NewString(),
		Email:         in.Email,
		PhoneNumber:   in.PhoneNumber,
		PasswordHash:  in.PasswordHash,
		Role:          in.Role,
		RefreshTokens: NewTokenSet(s.max),
		CreatedAt:     fromMillis(millis(now)),
		UpdatedAt:     fromMillis(millis(now)),
	}
	_, err := s.db.ExecContext(ctx, s.bind(`INSERT INTO accounts(`+accountColumns+`) VALUES(?,?,?,?,?,NULL,?,?)`),
		a.ID, nullable(a.Email), nullable(a.PhoneNumber), a.PasswordHash, a.Role, millis(now), millis(now))
	if err != nil {
		if s.isUnique(err) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}
	if !sel.PasswordHash {
		a.PasswordHash = ""
	}
	if !sel.RefreshTokens {
		a.RefreshTokens = nil
	}
	return a, nil
}

// withTx runs fn in a transaction, rolling back on error.
func (s *sqlStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// touch bumps updated_at (and last_login when set) and reports ErrNotFound
// for unknown ids.
func (s *sqlStore) touch(ctx context.Context, tx *sql.Tx, id string, login bool) error {
	now := millis(s.now())
	q := `UPDATE accounts SET updated_at = ? WHERE id = ?`
	args := []any{now, id}
	if login {
		q = `UPDATE accounts SET updated_at = ?, last_login = ? WHERE id = ?`
		args = []any{now, now, id}
	}
	res, err := tx.ExecContext(ctx, s.bind(q), args...)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// addToken inserts the digest and evicts the oldest rows beyond the bound.
func (s *sqlStore) addToken(ctx context.Context, tx *sql.Tx, id, token string) error {
	if _, err := tx.ExecContext(ctx, s.bind(`INSERT INTO refresh_tokens(account_id, token_hash, created_at) VALUES(?,?,?) ON CONFLICT (token_hash) DO NOTHING`),
		id, Digest(token), millis(s.now())); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	max := s.max
	if max <= 0 {
		max = DefaultMaxRefreshTokens
	}
	if _, err := tx.ExecContext(ctx, s.bind(`DELETE FROM refresh_tokens WHERE account_id = ? AND id NOT IN (SELECT id FROM refresh_tokens WHERE account_id = ? ORDER BY id DESC LIMIT ?)`),
		id, id, max); err != nil {
		return fmt.Errorf("evict refresh tokens: %w", err)
	}
	return nil
}

func (s *sqlStore) Update(ctx context.Context, id string, in Update, sel Select) (*Account, error) {
	var out *Account
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.touch(ctx, tx, id, false); err != nil {
			return err
		}
		if in.PasswordHash != nil {
			if _, err := tx.ExecContext(ctx, s.bind(`UPDATE accounts SET password_hash = ? WHERE id = ?`), *in.PasswordHash, id); err != nil {
				return fmt.Errorf("update password hash: %w", err)
			}
		}
		if in.ClearRefreshTokens {
			if _, err := tx.ExecContext(ctx, s.bind(`DELETE FROM refresh_tokens WHERE account_id = ?`), id); err != nil {
				return fmt.Errorf("clear refresh tokens: %w", err)
			}
		}
		a, err := s.findOne(ctx, tx, `id = ?`, sel, id)
		out = a
		return err
	})
	return out, err
}

func (s *sqlStore) RecordLogin(ctx context.Context, id, refreshToken string, sel Select) (*Account, error) {
	var out *Account
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.touch(ctx, tx, id, true); err != nil {
			return err
		}
		if err := s.addToken(ctx, tx, id, refreshToken); err != nil {
			return err
		}
		a, err := s.findOne(ctx, tx, `id = ?`, sel, id)
		out = a
		return err
	})
	return out, err
}

func (s *sqlStore) RotateRefreshToken(ctx context.Context, id, refreshToken, newRefreshToken string, sel Select) (*Account, error) {
	var out *Account
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		// Locks the account row so concurrent rotations of one account serialise.
		if err := s.touch(ctx, tx, id, false); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, s.bind(`DELETE FROM refresh_tokens WHERE account_id = ? AND token_hash = ?`), id, Digest(refreshToken))
		if err != nil {
			return fmt.Errorf("remove refresh token: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrTokenNotFound
		}
		if newRefreshToken != "" {
			if err := s.addToken(ctx, tx, id, newRefreshToken); err != nil {
				return err
			}
		}
		a, err := s.findOne(ctx, tx, `id = ?`, sel, id)
		out = a
		return err
	})
	return out, err
}

func (s *sqlStore) Delete(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.bind(`DELETE FROM refresh_tokens WHERE account_id = ?`), id); err != nil {
			return fmt.Errorf("delete refresh tokens: %w", err)
		}
		res, err := tx.ExecContext(ctx, s.bind(`DELETE FROM accounts WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("delete account: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}
