package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/usersync/pkg/identity"
)

type serviceFixture struct {
	store   *memStore
	idp     *fakeIdP
	service *Service
}

func newServiceFixture(users ...*identity.User) *serviceFixture {
	cfg := testConfig()
	store := newMemStore(users...)
	idp := newFakeIdP()
	pusher := NewPusher(idp, cfg, nil, nil)
	provisioner := NewProvisioner(idp, cfg, nil)
	bulk := NewBulkReconciler(store, pusher, nil, cfg, nil, nil)
	return &serviceFixture{
		store:   store,
		idp:     idp,
		service: NewService(store, idp, pusher, provisioner, bulk, cfg, nil),
	}
}

func strPtr(s string) *string { return &s }

func TestCreateUserRequest_Validate(t *testing.T) {
	tests := []struct {
		name     string
		req      CreateUserRequest
		wantErr  bool
		wantType identity.UserType
	}{
		{name: "defaults to real user", req: CreateUserRequest{Username: "a", Password: "secret"}, wantType: identity.UserTypeRealUser},
		{name: "normalizes case", req: CreateUserRequest{Username: "a", Password: "secret", UserType: "character"}, wantType: identity.UserTypeCharacter},
		{name: "missing username", req: CreateUserRequest{Username: " ", Password: "secret"}, wantErr: true},
		{name: "short password", req: CreateUserRequest{Username: "a", Password: "12345"}, wantErr: true},
		{name: "unknown type", req: CreateUserRequest{Username: "a", Password: "secret", UserType: "ROBOT"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, identity.ErrInvalidRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, tt.req.UserType)
		})
	}
}

func TestService_CreateUser(t *testing.T) {
	f := newServiceFixture()

	created, err := f.service.CreateUser(context.Background(), CreateUserRequest{
		Username: "naruto",
		FullName: "Naruto Uzumaki",
		Email:    "naruto@leaf.jp",
		Password: "rasengan",
		UserType: identity.UserTypeCharacter,
		Profile:  identity.Profile{CharacterName: "Seventh Hokage", AnimeMangaSource: "Naruto"},
	})
	require.NoError(t, err)

	user := created.User
	assert.Equal(t, "Seventh Hokage", user.DisplayName)
	assert.True(t, user.IsVerified)
	assert.True(t, user.IsActive)
	assert.False(t, user.IsLoggedIn)

	stored, err := f.store.FindByUsername(context.Background(), "naruto")
	require.NoError(t, err)
	assert.Equal(t, user.ID, stored.ID)

	idpUser := f.idp.user("naruto")
	require.NotNil(t, idpUser)
	assert.Equal(t, created.IdPUserID, idpUser.ID)
	assert.Equal(t, "Naruto", idpUser.FirstName)
	assert.Equal(t, "Uzumaki", idpUser.LastName)
	assert.Equal(t, "Seventh Hokage", idpUser.Attributes[identity.AttrCharacterName])
	assert.Equal(t, "rasengan", f.idp.passwords[idpUser.ID])
	assert.Equal(t, []string{identity.RoleCharacter}, f.idp.userRoles[idpUser.ID])

	for _, role := range identity.BaselineRoles {
		assert.Contains(t, f.idp.roles, role)
	}
}

func TestService_CreateUser_RolesPerType(t *testing.T) {
	tests := []struct {
		userType identity.UserType
		want     []string
	}{
		{identity.UserTypeAdmin, []string{identity.RoleAdmin, identity.RoleAdminPrefix}},
		{identity.UserTypeRealUser, []string{identity.RoleUser}},
		{identity.UserTypeCharacter, []string{identity.RoleCharacter}},
	}

	for _, tt := range tests {
		t.Run(tt.userType.String(), func(t *testing.T) {
			f := newServiceFixture()
			created, err := f.service.CreateUser(context.Background(), CreateUserRequest{
				Username: "u", Password: "password", UserType: tt.userType,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.idp.userRoles[created.IdPUserID])
		})
	}
}

func TestService_CreateUser_ClearsCharacterFields(t *testing.T) {
	f := newServiceFixture()

	created, err := f.service.CreateUser(context.Background(), CreateUserRequest{
		Username: "ichigo",
		Password: "zangetsu",
		Profile:  identity.Profile{CharacterName: "Substitute", Bio: "student"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ichigo", created.User.DisplayName)
	assert.Empty(t, created.User.CharacterName)
	assert.Equal(t, "student", created.User.Bio)
	assert.NotContains(t, f.idp.user("ichigo").Attributes, identity.AttrCharacterName)
}

func TestService_CreateUser_Duplicates(t *testing.T) {
	existing := &identity.User{ID: "u1", Username: "taken", Email: "taken@x.com"}

	t.Run("username", func(t *testing.T) {
		f := newServiceFixture(existing)
		_, err := f.service.CreateUser(context.Background(), CreateUserRequest{Username: "taken", Password: "password"})
		assert.ErrorIs(t, err, identity.ErrUserExists)
		assert.Nil(t, f.idp.user("taken"))
	})

	t.Run("email", func(t *testing.T) {
		f := newServiceFixture(existing)
		_, err := f.service.CreateUser(context.Background(), CreateUserRequest{Username: "fresh", Email: "taken@x.com", Password: "password"})
		assert.ErrorIs(t, err, identity.ErrUserExists)
		_, err = f.store.FindByUsername(context.Background(), "fresh")
		assert.ErrorIs(t, err, identity.ErrUserNotFound)
	})
}

func TestService_CreateUser_RoleAssignmentFailureIsLogged(t *testing.T) {
	f := newServiceFixture()
	f.idp.assignErr = errors.New("forbidden")

	created, err := f.service.CreateUser(context.Background(), CreateUserRequest{Username: "kenshin", Password: "password"})
	require.NoError(t, err)
	assert.Empty(t, f.idp.userRoles[created.IdPUserID])
}

func TestService_UpdateProfile(t *testing.T) {
	seed := &identity.User{ID: "u1", Username: "mikasa", DisplayName: "Mikasa", UserType: identity.UserTypeRealUser}
	f := newServiceFixture(seed)
	f.idp.addUser("mikasa")

	saved, err := f.service.UpdateProfile(context.Background(), "u1", ProfileUpdate{
		FullName:      strPtr("Mikasa Ackerman"),
		Bio:           strPtr("scout"),
		CharacterName: strPtr("ignored"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Mikasa Ackerman", saved.DisplayName)
	assert.Equal(t, "scout", saved.Bio)
	assert.Empty(t, saved.CharacterName)
	assert.True(t, saved.UpdatedAt.After(seed.UpdatedAt))

	got := f.idp.user("mikasa")
	assert.Equal(t, "Ackerman", got.LastName)
	assert.Equal(t, "scout", got.Attributes[identity.AttrBio])
}

func TestService_UpdateProfile_PushFailureKeepsLocalEdit(t *testing.T) {
	seed := &identity.User{ID: "u1", Username: "eren", UserType: identity.UserTypeCharacter}
	f := newServiceFixture(seed)
	f.idp.addUser("eren")
	f.idp.failUpdateFor["eren"] = identity.ErrIdentityProviderUnavailable

	saved, err := f.service.UpdateProfile(context.Background(), "u1", ProfileUpdate{CharacterName: strPtr("Attack Titan")})
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrIdentityProviderUnavailable)
	assert.Contains(t, err.Error(), "eren")
	require.NotNil(t, saved)

	stored, err := f.store.FindByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Attack Titan", stored.CharacterName)
}

func TestService_UpdateProfile_NotFound(t *testing.T) {
	f := newServiceFixture()
	_, err := f.service.UpdateProfile(context.Background(), "missing", ProfileUpdate{})
	assert.ErrorIs(t, err, identity.ErrUserNotFound)
}

func TestService_DeleteUser(t *testing.T) {
	t.Run("both sides", func(t *testing.T) {
		f := newServiceFixture(&identity.User{ID: "u1", Username: "levi"})
		f.idp.addUser("levi")

		require.NoError(t, f.service.DeleteUser(context.Background(), "u1"))
		assert.Nil(t, f.idp.user("levi"))
		_, err := f.store.FindByID(context.Background(), "u1")
		assert.ErrorIs(t, err, identity.ErrUserNotFound)
	})

	t.Run("missing in identity provider", func(t *testing.T) {
		f := newServiceFixture(&identity.User{ID: "u1", Username: "levi"})

		require.NoError(t, f.service.DeleteUser(context.Background(), "u1"))
		_, err := f.store.FindByID(context.Background(), "u1")
		assert.ErrorIs(t, err, identity.ErrUserNotFound)
	})

	t.Run("identity provider failure keeps local record", func(t *testing.T) {
		f := newServiceFixture(&identity.User{ID: "u1", Username: "levi"})
		f.idp.findErr = identity.ErrIdentityProviderUnavailable

		err := f.service.DeleteUser(context.Background(), "u1")
		assert.ErrorIs(t, err, identity.ErrIdentityProviderUnavailable)
		_, err = f.store.FindByID(context.Background(), "u1")
		assert.NoError(t, err)
	})
}

func TestService_Roles(t *testing.T) {
	f := newServiceFixture()
	f.idp.addUser("hinata")
	ctx := context.Background()

	roles, err := f.service.AssignRole(ctx, "hinata", identity.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, "hinata", roles.Username)
	assert.Equal(t, []string{identity.RoleUser}, roles.Roles)

	roles, err = f.service.UserRoles(ctx, "hinata")
	require.NoError(t, err)
	assert.Equal(t, []string{identity.RoleUser}, roles.Roles)

	_, err = f.service.AssignRole(ctx, "hinata", "")
	assert.ErrorIs(t, err, identity.ErrInvalidRequest)

	_, err = f.service.AssignRole(ctx, "nobody", identity.RoleUser)
	assert.ErrorIs(t, err, identity.ErrUserNotFound)
}

func TestService_PushUser(t *testing.T) {
	f := newServiceFixture(&identity.User{ID: "u1", Username: "kirito", DisplayName: "Kazuto Kirigaya"})
	f.idp.addUser("kirito")

	require.NoError(t, f.service.PushUser(context.Background(), "kirito"))
	assert.Equal(t, "Kazuto", f.idp.user("kirito").FirstName)

	err := f.service.PushUser(context.Background(), "asuna")
	assert.ErrorIs(t, err, identity.ErrUserNotFound)
}

func TestService_ListUsers(t *testing.T) {
	f := newServiceFixture(
		&identity.User{ID: "u1", Username: "light", DisplayName: "Light Yagami"},
		&identity.User{ID: "u2", Username: "ryuk", Email: "ryuk@shinigami.realm"},
	)

	all, err := f.service.ListUsers(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	found, err := f.service.ListUsers(context.Background(), "  YAGAMI ")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "light", found[0].Username)
}

func TestService_SyncStatus(t *testing.T) {
	f := newServiceFixture(&identity.User{ID: "u1", Username: "tanjiro"})
	f.idp.addUser("tanjiro")
	f.idp.addUser("nezuko")

	status, err := f.service.SyncStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Connected)
	assert.Equal(t, 2, status.IdPUserCount)
	assert.Equal(t, 1, status.LocalUsers)
	assert.Nil(t, status.LastSweep)

	_, err = f.service.PushAll(context.Background())
	require.NoError(t, err)
	f.idp.connected = false

	status, err = f.service.SyncStatus(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Connected)
	assert.Equal(t, 0, status.IdPUserCount)
	require.NotNil(t, status.LastSweep)
	assert.Equal(t, 1, status.LastSweep.Succeeded)
}

func TestService_SetLoggedIn(t *testing.T) {
	seed := &identity.User{ID: "u1", Username: "gon", IsLoggedIn: true}
	f := newServiceFixture(seed)

	same, err := f.service.SetLoggedIn(context.Background(), seed, true)
	require.NoError(t, err)
	assert.Same(t, seed, same)
	assert.Equal(t, 0, f.store.Writes())

	out, err := f.service.SetLoggedIn(context.Background(), seed, false)
	require.NoError(t, err)
	assert.False(t, out.IsLoggedIn)
	assert.Equal(t, 1, f.store.Writes())
	assert.True(t, seed.IsLoggedIn)
}
