package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb, "test:"), mr
}

func TestClaimIsExclusive(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	ok, err := s.Claim(ctx, "webhook:evt_1", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("test:webhook:evt_1"))

	ok, err = s.Claim(ctx, "webhook:evt_1", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	held, err := s.Held(ctx, "webhook:evt_1")
	require.NoError(t, err)
	assert.True(t, held)
}

func TestClaimExpires(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	ok, err := s.Claim(ctx, "notify:pi_1", "a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	ok, err = s.Claim(ctx, "notify:pi_1", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseOnlyByOwner(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Claim(ctx, "notify:pi_1", "owner-a", time.Minute)
	require.NoError(t, err)

	require.NoError(t, s.Release(ctx, "notify:pi_1", "owner-b"))
	held, err := s.Held(ctx, "notify:pi_1")
	require.NoError(t, err)
	assert.True(t, held)

	require.NoError(t, s.Release(ctx, "notify:pi_1", "owner-a"))
	held, err = s.Held(ctx, "notify:pi_1")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestClaimSurfacesRedisErrors(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()

	_, err := s.Claim(context.Background(), "webhook:evt_1", "a", time.Minute)
	require.Error(t, err)
}
