package api

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/usersync/pkg/identity"
	"github.com/platinummonkey/usersync/pkg/reconcile"
)

// fakeVerifier accepts the tokens it knows
type fakeVerifier map[string]identity.Claims

func (f fakeVerifier) Verify(_ context.Context, raw string) (identity.Claims, error) {
	claims, ok := f[raw]
	if !ok {
		return identity.Claims{}, errors.New("invalid token")
	}
	return claims, nil
}

// fakeService is an in-memory admin service that also reconciles claims
type fakeService struct {
	mu    sync.Mutex
	users map[string]*identity.User
	next  int

	connected bool
	pushErr   error
	roles     map[string][]string
	ensured   int
	sweep     *reconcile.SweepResult
}

func newFakeService() *fakeService {
	return &fakeService{
		users:     map[string]*identity.User{},
		roles:     map[string][]string{},
		connected: true,
	}
}

func (f *fakeService) add(username string, userType identity.UserType) *identity.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addLocked(username, userType)
}

func (f *fakeService) addLocked(username string, userType identity.UserType) *identity.User {
	f.next++
	u := &identity.User{
		ID:        fmt.Sprintf("u-%d", f.next),
		Username:  username,
		Email:     username + "@konoha.example",
		UserType:  userType,
		IsActive:  true,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	f.users[u.ID] = u
	return u
}

func (f *fakeService) byUsername(username string) *identity.User {
	for _, u := range f.users {
		if u.Username == username {
			return u
		}
	}
	return nil
}

func (f *fakeService) Reconcile(_ context.Context, claims identity.Claims) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u := f.byUsername(claims.Username); u != nil {
		return u.Clone(), nil
	}
	return f.addLocked(claims.Username, identity.MapRoles(claims.Roles)).Clone(), nil
}

func (f *fakeService) FindByID(_ context.Context, id string) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return u.Clone(), nil
}

func (f *fakeService) CreateUser(_ context.Context, req reconcile.CreateUserRequest) (*reconcile.CreatedUser, error) {
	if err := req.Validate(); err != nil {
		return nil, identity.NewUserError("create user", req.Username, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byUsername(req.Username) != nil {
		return nil, identity.NewUserError("create user", req.Username, identity.ErrUserExists)
	}
	u := f.addLocked(req.Username, req.UserType)
	u.DisplayName = req.DisplayName()
	return &reconcile.CreatedUser{User: u.Clone(), IdPUserID: "kc-" + u.ID}, nil
}

func (f *fakeService) UpdateProfile(_ context.Context, id string, update reconcile.ProfileUpdate) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, identity.NewUserError("update profile", "", identity.ErrUserNotFound)
	}
	update.Apply(u)
	return u.Clone(), nil
}

func (f *fakeService) DeleteUser(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return identity.NewUserError("delete user", "", identity.ErrUserNotFound)
	}
	delete(f.users, id)
	return nil
}

func (f *fakeService) GetUser(ctx context.Context, id string) (*identity.User, error) {
	return f.FindByID(ctx, id)
}

func (f *fakeService) ListUsers(_ context.Context, search string) ([]*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*identity.User{}
	for _, u := range f.users {
		if search == "" || strings.Contains(strings.ToLower(u.Username), strings.ToLower(search)) {
			out = append(out, u.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (f *fakeService) SetLoggedIn(_ context.Context, user *identity.User, loggedIn bool) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[user.ID]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	u.IsLoggedIn = loggedIn
	return u.Clone(), nil
}

func (f *fakeService) TestConnection(context.Context) bool {
	return f.connected
}

func (f *fakeService) PushAll(context.Context) (*reconcile.SweepResult, error) {
	if f.sweep == nil {
		return nil, errors.New("store offline")
	}
	return f.sweep, nil
}

func (f *fakeService) SyncStatus(context.Context) (*reconcile.SyncStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &reconcile.SyncStatus{Connected: f.connected, IdPUserCount: 3, LocalUsers: len(f.users), LastSweep: f.sweep}, nil
}

func (f *fakeService) EnsureRoles(context.Context) error {
	f.ensured++
	return nil
}

func (f *fakeService) PushUser(_ context.Context, username string) error {
	if f.pushErr != nil {
		return identity.NewUserError("push user", username, f.pushErr)
	}
	return nil
}

func (f *fakeService) AssignRole(_ context.Context, username, role string) (*reconcile.UserRoles, error) {
	if role == "GHOST" {
		return nil, identity.NewUserError("assign role", username, identity.ErrRoleNotFound)
	}
	f.roles[username] = append(f.roles[username], role)
	return &reconcile.UserRoles{Username: username, IdPUserID: "kc-1", Roles: f.roles[username]}, nil
}

func (f *fakeService) UserRoles(_ context.Context, username string) (*reconcile.UserRoles, error) {
	roles, ok := f.roles[username]
	if !ok {
		return nil, identity.NewUserError("user roles", username, identity.ErrUserNotFound)
	}
	return &reconcile.UserRoles{Username: username, IdPUserID: "kc-1", Roles: roles}, nil
}
