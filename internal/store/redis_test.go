package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourname/battle-server/pkg/types"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewRedisStore(mr.Addr(), "", 0)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStore_Songs(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	songs, err := s.Songs(ctx)
	require.NoError(t, err)
	assert.Empty(t, songs)

	require.NoError(t, s.AddSongs(ctx, "t0", "t1", "t2", "t1"))
	songs, err = s.Songs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t0", "t1", "t2"}, songs)
}

func TestRedisStore_PlayResult(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	want := types.PlayResult{Score: 987654, Grade: 3, Combo: 12, MaxCombo: 800, Stats: types.PlayStats{DecryptedPlus: 700, Decrypted: 90, Received: 8, Lost: 2}}
	require.NoError(t, s.PutPlayResult(ctx, "r1", want))

	got, err := s.PlayResult(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, *got)

	got, err = s.PlayResult(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStore_ProfileAndSave(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	p := types.Profile{
		ID:             "42",
		Username:       "alice",
		UsernameCode:   1234,
		Rating:         12.34,
		BattleRating:   1500,
		Background:     "bg-night",
		Title:          "novice",
		BattleBanned:   true,
		BattleBanUntil: 1900000000,
	}
	require.NoError(t, s.PutProfile(ctx, p, map[string]string{"/dict/currentCharacter": "ilka"}))

	got, err := s.Profile(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, p, *got)

	v, ok, err := s.SaveValue(ctx, "42", "/dict/currentCharacter")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ilka", v)

	_, ok, err = s.SaveValue(ctx, "42", "/dict/skin/active/ilka")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Profile(ctx, "7")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Unavailable(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	mr.Close()
	assert.Error(t, s.Ping(ctx))
	_, err := s.PlayResult(ctx, "r1")
	assert.Error(t, err)
	_, _, err = s.SaveValue(ctx, "42", "/dict/currentCharacter")
	assert.Error(t, err)
}
