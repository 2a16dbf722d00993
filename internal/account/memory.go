package account

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps accounts in process memory. It is meant for tests and
// single-instance development setups.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	byEmail  map[string]string
	byPhone  map[string]string
	max      int
	now      func() time.Time
}

// NewMemoryStore returns an empty store. maxTokens bounds each account's
// refresh-token set (<= 0 means DefaultMaxRefreshTokens).
func NewMemoryStore(maxTokens int) *MemoryStore {
	return &MemoryStore{
		accounts: map[string]*Account{},
		byEmail:  map[string]string{},
		byPhone:  map[string]string{},
		max:      maxTokens,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Init() error  { return nil }
func (m *MemoryStore) Ping() bool   { return true }
func (m *MemoryStore) Close() error { return nil }

// project copies a stored account, keeping only the selected sensitive fields.
func project(a *Account, sel Select) *Account {
	cp := a.Public()
	if sel.PasswordHash {
		cp.PasswordHash = a.PasswordHash
	}
	if sel.RefreshTokens {
		cp.RefreshTokens = a.RefreshTokens.Clone()
	}
	return cp
}

func (m *MemoryStore) FindByID(_ context.Context, id string, sel Select) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return project(a, sel), nil
}

func (m *MemoryStore) FindByEmail(_ context.Context, email string, sel Select) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[email]
	if !ok || email == "" {
		return nil, ErrNotFound
	}
	return project(m.accounts[id], sel), nil
}

func (m *MemoryStore) FindByCredential(_ context.Context, cred Credential, sel Select) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cred.Email != "" {
		if id, ok := m.byEmail[cred.Email]; ok {
			return project(m.accounts[id], sel), nil
		}
	}
	if cred.PhoneNumber != "" {
		if id, ok := m.byPhone[cred.PhoneNumber]; ok {
			return project(m.accounts[id], sel), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) Create(_ context.Context, in NewAccount, sel Select) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[in.Email]; ok && in.Email != "" {
		return nil, ErrAccountExists
	}
	if _, ok := m.byPhone[in.PhoneNumber]; ok && in.PhoneNumber != "" {
		return nil, ErrAccountExists
	}
	now := m.now()
	a := &Account{
		ID:            uuid.NewString(),
		Email:         in.Email,
		PhoneNumber:   in.PhoneNumber,
		PasswordHash:  in.PasswordHash,
		Role:          in.Role,
		RefreshTokens: NewTokenSet(m.max),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.accounts[a.ID] = a
	if a.Email != "" {
		m.byEmail[a.Email] = a.ID
	}
	if a.PhoneNumber != "" {
		m.byPhone[a.PhoneNumber] = a.ID
	}
	return project(a, sel), nil
}

func (m *MemoryStore) Update(_ context.Context, id string, in Update, sel Select) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if in.PasswordHash != nil {
		a.PasswordHash = *in.PasswordHash
	}
	if in.ClearRefreshTokens {
		a.RefreshTokens.Clear()
	}
	a.UpdatedAt = m.now()
	return project(a, sel), nil
}

func (m *MemoryStore) RecordLogin(_ context.Context, id, refreshToken string, sel Select) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	now := m.now()
	a.RefreshTokens.Add(refreshToken)
	a.LastLogin = &now
	a.UpdatedAt = now
	return project(a, sel), nil
}

func (m *MemoryStore) RotateRefreshToken(_ context.Context, id, refreshToken, newRefreshToken string, sel Select) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !a.RefreshTokens.Remove(refreshToken) {
		return nil, ErrTokenNotFound
	}
	if newRefreshToken != "" {
		a.RefreshTokens.Add(newRefreshToken)
	}
	a.UpdatedAt = m.now()
	return project(a, sel), nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.accounts, id)
	delete(m.byEmail, a.Email)
	delete(m.byPhone, a.PhoneNumber)
	return nil
}
