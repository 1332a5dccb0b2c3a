package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()
	session := "test-" + uuid.NewString()

	history, err := s.Load(ctx, session)
	require.NoError(t, err)
	assert.Empty(t, history)

	for i := range 4 {
		require.NoError(t, s.Append(ctx, session, fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i)))
	}

	history, err = s.Load(ctx, session)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, Turn{Role: "user", Content: "q2"}, history[0])
	assert.Equal(t, Turn{Role: "assistant", Content: "a3"}, history[3])

	require.NoError(t, s.Clear(ctx, session))
	history, err = s.Load(ctx, session)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestInMemoryStore(t *testing.T) {
	exerciseStore(t, NewInMemory(4))
}

func TestInMemoryLoadReturnsCopy(t *testing.T) {
	s := NewInMemory(0)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "s", "hi", "hello"))

	history, err := s.Load(ctx, "s")
	require.NoError(t, err)
	history[0].Content = "changed"

	again, err := s.Load(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "hi", again[0].Content)
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisStore(t *testing.T) {
	_, rdb := newRedis(t)
	exerciseStore(t, NewRedis(rdb, time.Minute, 4))
}

func TestRedisStoreSetsTTL(t *testing.T) {
	mr, rdb := newRedis(t)
	s := NewRedis(rdb, time.Hour, 0)

	require.NoError(t, s.Append(context.Background(), "s1", "hi", "hello"))
	assert.Equal(t, time.Hour, mr.TTL(key("s1")))

	raw, err := mr.Get(key("s1"))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]`, raw)

	mr.FastForward(2 * time.Hour)
	history, err := s.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRedisStoreRejectsCorruptHistory(t *testing.T) {
	mr, rdb := newRedis(t)
	require.NoError(t, mr.Set(key("s1"), "not json"))

	_, err := NewRedis(rdb, 0, 0).Load(context.Background(), "s1")
	assert.ErrorContains(t, err, "decoding session")
}
