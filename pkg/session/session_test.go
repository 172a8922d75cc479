package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/usersync/pkg/identity"
	"github.com/platinummonkey/usersync/pkg/storage"
	"github.com/platinummonkey/usersync/pkg/storage/postgres"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := storage.DefaultConfig()
	cfg.RedisURL = "redis://" + mr.Addr()
	client, err := postgres.NewRedisClient(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	store := NewStore(client, Config{TTL: time.Hour, KeyPrefix: "test:"})
	store.now = func() time.Time { return time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC) }
	return store, mr
}

var kakashi = &identity.User{ID: "u-6", Username: "kakashi", UserType: identity.UserTypeAdmin}

func TestStore_CreateAndGet(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, kakashi)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Token)
	assert.Equal(t, "u-6", sess.UserID)
	assert.Equal(t, identity.UserTypeAdmin, sess.UserType)
	assert.Equal(t, time.Hour, sess.ExpiresAt.Sub(sess.CreatedAt))

	assert.Equal(t, time.Hour, mr.TTL("test:session:"+sess.Token))
	indexed, err := mr.Get("test:user:u-6")
	require.NoError(t, err)
	assert.Equal(t, sess.Token, indexed)

	got, err := store.Get(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, "kakashi", got.Username)
	assert.True(t, sess.ExpiresAt.Equal(got.ExpiresAt))
}

func TestStore_CreateRevokesPrevious(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, kakashi)
	require.NoError(t, err)
	second, err := store.Create(ctx, kakashi)
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)

	_, err = store.Get(ctx, first.Token)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = store.Get(ctx, second.Token)
	assert.NoError(t, err)
}

func TestStore_CreateRequiresStoredUser(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Create(context.Background(), &identity.User{Username: "ghost"})
	assert.ErrorIs(t, err, identity.ErrInvalidRequest)
	_, err = store.Create(context.Background(), nil)
	assert.ErrorIs(t, err, identity.ErrInvalidRequest)
}

func TestStore_Expiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, kakashi)
	require.NoError(t, err)

	mr.FastForward(61 * time.Minute)
	_, err = store.Get(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStore_Delete(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, kakashi)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, sess.Token))
	assert.False(t, mr.Exists("test:session:"+sess.Token))
	assert.False(t, mr.Exists("test:user:u-6"))

	assert.ErrorIs(t, store.Delete(ctx, sess.Token), ErrSessionNotFound)
	assert.ErrorIs(t, store.Delete(ctx, ""), ErrSessionNotFound)
}

func TestStore_DeleteStaleTokenKeepsCurrent(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	old, err := store.Create(ctx, kakashi)
	require.NoError(t, err)

	// A stale session record that the user index no longer points at
	stale := *old
	stale.Token = "stale-token"
	require.NoError(t, store.redis.SetJSON(ctx, store.sessionKey(stale.Token), stale, time.Hour))

	require.NoError(t, store.Delete(ctx, "stale-token"))
	assert.True(t, mr.Exists("test:user:u-6"))
	_, err = store.Get(ctx, old.Token)
	assert.NoError(t, err)
}

func TestStore_DeleteByUser(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	assert.NoError(t, store.DeleteByUser(ctx, "nobody"))

	sess, err := store.Create(ctx, kakashi)
	require.NoError(t, err)
	require.NoError(t, store.DeleteByUser(ctx, kakashi.ID))

	_, err = store.Get(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestNewStore_DefaultTTL(t *testing.T) {
	store := NewStore(nil, Config{})
	assert.Equal(t, 24*time.Hour, store.config.TTL)
}
