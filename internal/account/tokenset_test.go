package account

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenSet_AddDedups(t *testing.T) {
	s := NewTokenSet(3)
	s.Add("a")
	s.Add("a")
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Has("a"))
	assert.False(t, s.Has("b"))
}

func TestTokenSet_EvictsOldest(t *testing.T) {
	s := NewTokenSet(2)
	s.Add("a")
	s.Add("b")
	evicted := s.Add("c")

	require.Equal(t, []string{Digest("a")}, evicted)
	assert.False(t, s.Has("a"))
	assert.True(t, s.Has("b"))
	assert.True(t, s.Has("c"))
	assert.Equal(t, []string{Digest("b"), Digest("c")}, s.Digests())
}

func TestTokenSet_Remove(t *testing.T) {
	s := NewTokenSet(0)
	s.Add("a")
	s.Add("b")

	assert.True(t, s.Remove("a"))
	assert.False(t, s.Remove("a"))
	assert.Equal(t, []string{Digest("b")}, s.Digests())
}

func TestTokenSet_StoresDigestsOnly(t *testing.T) {
	s := NewTokenSet(0)
	s.Add("raw-token")
	for _, d := range s.Digests() {
		assert.NotEqual(t, "raw-token", d)
		assert.Len(t, d, 64)
	}
}

func TestTokenSet_CloneIsIndependent(t *testing.T) {
	s := NewTokenSet(0)
	s.Add("a")
	c := s.Clone()
	c.Add("b")
	s.Clear()

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 2, c.Len())
}

func TestTokenSet_NilSafe(t *testing.T) {
	var s *TokenSet
	assert.False(t, s.Has("a"))
	assert.Equal(t, 0, s.Len())
	assert.Nil(t, s.Digests())
	assert.Nil(t, s.Clone())
}
