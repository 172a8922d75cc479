package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/usersync/pkg/identity"
	"github.com/platinummonkey/usersync/pkg/storage"
)

func newSQLiteStore(t *testing.T) *UserStore {
	t.Helper()

	cfg := storage.DefaultConfig()
	cfg.Driver = storage.DriverSQLite
	cfg.DSN = ":memory:"

	conns, err := NewConnectionManager(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conns.Close() })

	require.NoError(t, Migrate(context.Background(), conns.Primary(), cfg.Driver))
	return NewUserStore(conns)
}

func newUser(id, username string) *identity.User {
	now := time.Date(2026, 5, 1, 10, 0, 0, 123456789, time.UTC)
	return &identity.User{
		ID:          id,
		Username:    username,
		Email:       username + "@konoha.example",
		DisplayName: "User " + username,
		UserType:    identity.UserTypeRealUser,
		CreatedAt:   now,
		UpdatedAt:   now,
		IsActive:    true,
	}
}

func TestSQLiteUserStore_CreateAndFind(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	u := newUser("u-1", "hinata")
	u.UserType = identity.UserTypeCharacter
	u.CharacterName = "Hinata Hyuga"
	u.AnimeMangaSource = "Naruto"
	require.NoError(t, store.Create(ctx, u))

	byID, err := store.FindByID(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "hinata", byID.Username)
	assert.Equal(t, identity.UserTypeCharacter, byID.UserType)
	assert.Equal(t, "Hinata Hyuga", byID.CharacterName)
	assert.True(t, byID.IsActive)
	assert.False(t, byID.IsLoggedIn)
	assert.True(t, u.CreatedAt.Truncate(time.Microsecond).Equal(byID.CreatedAt))

	byName, err := store.FindByUsername(ctx, "hinata")
	require.NoError(t, err)
	assert.Equal(t, "u-1", byName.ID)

	byEmail, err := store.FindByEmail(ctx, "HINATA@konoha.example")
	require.NoError(t, err)
	assert.Equal(t, "u-1", byEmail.ID)
}

func TestSQLiteUserStore_NotFound(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	_, err := store.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, identity.ErrUserNotFound)
	_, err = store.FindByUsername(ctx, "missing")
	assert.ErrorIs(t, err, identity.ErrUserNotFound)
	_, err = store.FindByEmail(ctx, "")
	assert.ErrorIs(t, err, identity.ErrUserNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "missing"), identity.ErrUserNotFound)
}

func TestSQLiteUserStore_CreateConflict(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newUser("u-1", "kakashi")))

	tests := []struct {
		name string
		user *identity.User
	}{
		{name: "same username", user: newUser("u-2", "kakashi")},
		{name: "same id", user: newUser("u-1", "obito")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Create(ctx, tt.user)
			assert.ErrorIs(t, err, identity.ErrReconciliationConflict)
		})
	}

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteUserStore_Save(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	u := newUser("u-1", "sakura")
	require.NoError(t, store.Create(ctx, u))

	u.Email = "sakura@leaf.example"
	u.UserType = identity.UserTypeAdmin
	u.Bio = "medical ninja"
	u.IsLoggedIn = true
	u.UpdatedAt = u.UpdatedAt.Add(time.Minute)

	saved, err := store.Save(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, "sakura@leaf.example", saved.Email)
	assert.Equal(t, identity.UserTypeAdmin, saved.UserType)
	assert.Equal(t, "medical ninja", saved.Bio)
	assert.True(t, saved.IsLoggedIn)
	assert.True(t, saved.UpdatedAt.After(saved.CreatedAt))

	// Save inserts unknown ids
	fresh, err := store.Save(ctx, newUser("u-2", "ino"))
	require.NoError(t, err)
	assert.Equal(t, "ino", fresh.Username)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLiteUserStore_SaveUsernameTaken(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newUser("u-1", "shikamaru")))
	require.NoError(t, store.Create(ctx, newUser("u-2", "choji")))

	_, err := store.Save(ctx, newUser("u-2", "shikamaru"))
	assert.ErrorIs(t, err, identity.ErrReconciliationConflict)
}

func TestSQLiteUserStore_ListSearchDelete(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	for i, name := range []string{"rock_lee", "neji", "tenten", "guy"} {
		u := newUser(string(rune('a'+i)), name)
		require.NoError(t, store.Create(ctx, u))
	}

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "guy", all[0].Username)
	assert.Equal(t, "tenten", all[3].Username)

	tests := []struct {
		query string
		want  []string
	}{
		{query: "NEJI", want: []string{"neji"}},
		{query: "user ten", want: []string{"tenten"}},
		{query: "konoha.example", want: []string{"guy", "neji", "rock_lee", "tenten"}},
		{query: "_", want: []string{"rock_lee"}},
		{query: "%", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			users, err := store.Search(ctx, tt.query)
			require.NoError(t, err)
			got := make([]string, 0, len(users))
			for _, u := range users {
				got = append(got, u.Username)
			}
			assert.Equal(t, tt.want, got)
		})
	}

	require.NoError(t, store.Delete(ctx, "b"))
	_, err = store.FindByUsername(ctx, "neji")
	assert.ErrorIs(t, err, identity.ErrUserNotFound)
}
