package account

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeContract exercises behaviour every Store implementation must share.
func storeContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create and find", func(t *testing.T) {
		s := newStore(t)
		a, err := s.Create(ctx, NewAccount{Email: "a@x.com", PasswordHash: "h", Role: "user"}, SelectPublic)
		require.NoError(t, err)
		require.NotEmpty(t, a.ID)
		assert.Empty(t, a.PasswordHash)
		assert.Nil(t, a.LastLogin)

		got, err := s.FindByID(ctx, a.ID, SelectCredentials)
		require.NoError(t, err)
		assert.Equal(t, "a@x.com", got.Email)
		assert.Equal(t, "h", got.PasswordHash)
		assert.Nil(t, got.RefreshTokens)

		got, err = s.FindByEmail(ctx, "a@x.com", SelectPublic)
		require.NoError(t, err)
		assert.Equal(t, a.ID, got.ID)
		assert.Empty(t, got.PasswordHash)
	})

	t.Run("find by credential or-matches", func(t *testing.T) {
		s := newStore(t)
		byPhone, err := s.Create(ctx, NewAccount{PhoneNumber: "+14155552671", PasswordHash: "h", Role: "user"}, SelectPublic)
		require.NoError(t, err)

		got, err := s.FindByCredential(ctx, Credential{PhoneNumber: "+14155552671"}, SelectPublic)
		require.NoError(t, err)
		assert.Equal(t, byPhone.ID, got.ID)

		got, err = s.FindByCredential(ctx, Credential{Email: "nobody@x.com", PhoneNumber: "+14155552671"}, SelectPublic)
		require.NoError(t, err)
		assert.Equal(t, byPhone.ID, got.ID)

		_, err = s.FindByCredential(ctx, Credential{}, SelectPublic)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("not found", func(t *testing.T) {
		s := newStore(t)
		_, err := s.FindByID(ctx, "missing", SelectPublic)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.FindByEmail(ctx, "missing@x.com", SelectPublic)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.RecordLogin(ctx, "missing", "t", SelectPublic)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.RotateRefreshToken(ctx, "missing", "t", "", SelectPublic)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, "missing"), ErrNotFound)
	})

	t.Run("duplicate identifier", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Create(ctx, NewAccount{Email: "dup@x.com", PasswordHash: "h", Role: "user"}, SelectPublic)
		require.NoError(t, err)
		_, err = s.Create(ctx, NewAccount{Email: "dup@x.com", PasswordHash: "h", Role: "user"}, SelectPublic)
		assert.ErrorIs(t, err, ErrAccountExists)
	})

	t.Run("record login and rotate", func(t *testing.T) {
		s := newStore(t)
		a, err := s.Create(ctx, NewAccount{Email: "r@x.com", PasswordHash: "h", Role: "user"}, SelectPublic)
		require.NoError(t, err)

		got, err := s.RecordLogin(ctx, a.ID, "t1", SelectSessions)
		require.NoError(t, err)
		require.NotNil(t, got.LastLogin)
		assert.True(t, got.RefreshTokens.Has("t1"))

		got, err = s.RotateRefreshToken(ctx, a.ID, "t1", "t2", SelectSessions)
		require.NoError(t, err)
		assert.False(t, got.RefreshTokens.Has("t1"))
		assert.True(t, got.RefreshTokens.Has("t2"))

		_, err = s.RotateRefreshToken(ctx, a.ID, "t1", "t3", SelectSessions)
		assert.ErrorIs(t, err, ErrTokenNotFound)

		got, err = s.FindByID(ctx, a.ID, SelectSessions)
		require.NoError(t, err)
		assert.False(t, got.RefreshTokens.Has("t3"))

		got, err = s.RotateRefreshToken(ctx, a.ID, "t2", "", SelectSessions)
		require.NoError(t, err)
		assert.Equal(t, 0, got.RefreshTokens.Len())
	})

	t.Run("refresh set is bounded", func(t *testing.T) {
		s := newStore(t)
		a, err := s.Create(ctx, NewAccount{Email: "b@x.com", PasswordHash: "h", Role: "user"}, SelectPublic)
		require.NoError(t, err)
		for _, tok := range []string{"t1", "t2", "t3", "t4"} {
			_, err = s.RecordLogin(ctx, a.ID, tok, SelectPublic)
			require.NoError(t, err)
		}
		got, err := s.FindByID(ctx, a.ID, SelectSessions)
		require.NoError(t, err)
		assert.Equal(t, 3, got.RefreshTokens.Len())
		assert.False(t, got.RefreshTokens.Has("t1"))
		assert.True(t, got.RefreshTokens.Has("t4"))
	})

	t.Run("update password and clear tokens", func(t *testing.T) {
		s := newStore(t)
		a, err := s.Create(ctx, NewAccount{Email: "u@x.com", PasswordHash: "old", Role: "user"}, SelectPublic)
		require.NoError(t, err)
		_, err = s.RecordLogin(ctx, a.ID, "t1", SelectPublic)
		require.NoError(t, err)

		hash := "new"
		got, err := s.Update(ctx, a.ID, Update{PasswordHash: &hash}, Select{PasswordHash: true, RefreshTokens: true})
		require.NoError(t, err)
		assert.Equal(t, "new", got.PasswordHash)
		assert.Equal(t, 1, got.RefreshTokens.Len())

		got, err = s.Update(ctx, a.ID, Update{ClearRefreshTokens: true}, SelectSessions)
		require.NoError(t, err)
		assert.Equal(t, 0, got.RefreshTokens.Len())
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		a, err := s.Create(ctx, NewAccount{Email: "d@x.com", PasswordHash: "h", Role: "user"}, SelectPublic)
		require.NoError(t, err)
		_, err = s.RecordLogin(ctx, a.ID, "t1", SelectPublic)
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, a.ID))
		_, err = s.FindByID(ctx, a.ID, SelectPublic)
		assert.ErrorIs(t, err, ErrNotFound)

		// identifier is free again
		_, err = s.Create(ctx, NewAccount{Email: "d@x.com", PasswordHash: "h", Role: "user"}, SelectPublic)
		assert.NoError(t, err)
	})

	t.Run("concurrent rotation succeeds once", func(t *testing.T) {
		s := newStore(t)
		a, err := s.Create(ctx, NewAccount{Email: "c@x.com", PasswordHash: "h", Role: "user"}, SelectPublic)
		require.NoError(t, err)
		_, err = s.RecordLogin(ctx, a.ID, "orig", SelectPublic)
		require.NoError(t, err)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				next := "next-" + string(rune('a'+i))
				if _, err := s.RotateRefreshToken(ctx, a.ID, "orig", next, SelectPublic); err == nil {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		return NewMemoryStore(3)
	})
}

func TestSQLiteStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "accounts.db"), 3)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestBindDollar(t *testing.T) {
	assert.Equal(t, "a = $1 AND b = $2", bindDollar("a = ? AND b = ?"))
	assert.Equal(t, "no params", bindDollar("no params"))
}

func TestAccountPublic(t *testing.T) {
	a := &Account{ID: "1", PasswordHash: "secret", RefreshTokens: NewTokenSet(0)}
	p := a.Public()
	assert.Empty(t, p.PasswordHash)
	assert.Nil(t, p.RefreshTokens)
	assert.Equal(t, "secret", a.PasswordHash)

	var nilAcct *Account
	assert.Nil(t, nilAcct.Public())
}
