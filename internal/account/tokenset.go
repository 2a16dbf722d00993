package account

import (
	"crypto/sha256"
	"encoding/hex"
)

// DefaultMaxRefreshTokens bounds how many concurrent sessions an account keeps.
const DefaultMaxRefreshTokens = 10

// Digest returns the SHA-256 hex digest under which a refresh token is stored.
func Digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// TokenSet is a bounded, deduplicated, insertion-ordered set of refresh-token
// digests. The zero value is not usable; call NewTokenSet.
type TokenSet struct {
	max    int
	order  []string
	lookup map[string]struct{}
}

// NewTokenSet returns an empty set holding at most max entries.
// A max <= 0 means DefaultMaxRefreshTokens.
func NewTokenSet(max int) *TokenSet {
	if max <= 0 {
		max = DefaultMaxRefreshTokens
	}
	return &TokenSet{max: max, lookup: make(map[string]struct{}, max)}
}

// tokenSetFromDigests rebuilds a set from digests ordered oldest first.
func tokenSetFromDigests(max int, digests []string) *TokenSet {
	s := NewTokenSet(max)
	for _, d := range digests {
		s.addDigest(d)
	}
	return s
}

// Add inserts token. It returns the digests evicted to respect the bound.
func (s *TokenSet) Add(token string) []string {
	return s.addDigest(Digest(token))
}

func (s *TokenSet) addDigest(d string) []string {
	if _, ok := s.lookup[d]; ok {
		return nil
	}
	s.lookup[d] = struct{}{}
	s.order = append(s.order, d)

	var evicted []string
	for len(s.order) > s.max {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.lookup, oldest)
		evicted = append(evicted, oldest)
	}
	return evicted
}

// Has reports whether token is a member.
func (s *TokenSet) Has(token string) bool {
	if s == nil {
		return false
	}
	_, ok := s.lookup[Digest(token)]
	return ok
}

// Remove deletes token and reports whether it was present.
func (s *TokenSet) Remove(token string) bool {
	d := Digest(token)
	if _, ok := s.lookup[d]; !ok {
		return false
	}
	delete(s.lookup, d)
	for i, v := range s.order {
		if v == d {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Clear empties the set.
func (s *TokenSet) Clear() {
	s.order = nil
	s.lookup = make(map[string]struct{}, s.max)
}

// Len returns the number of live tokens.
func (s *TokenSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Digests returns the stored digests, oldest first.
func (s *TokenSet) Digests() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Clone returns an independent copy.
func (s *TokenSet) Clone() *TokenSet {
	if s == nil {
		return nil
	}
	return tokenSetFromDigests(s.max, s.order)
}
