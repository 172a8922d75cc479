package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/usersync/pkg/identity"
)

// memStore is an in-memory UserStore that counts writes
type memStore struct {
	mu     sync.Mutex
	users  map[string]*identity.User
	writes int

	// conflictCreates makes the next n creates fail as if another
	// process had inserted the user first
	conflictCreates int
	onConflict      func(u *identity.User)

	findErr error
	listErr error

	// findGate, when set, holds FindByUsername until closed or ctx is done
	findGate    chan struct{}
	findStarted chan struct{}
}

func newMemStore(users ...*identity.User) *memStore {
	s := &memStore{users: make(map[string]*identity.User)}
	for _, u := range users {
		s.users[u.ID] = u.Clone()
	}
	return s
}

func (s *memStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *memStore) FindByID(ctx context.Context, id string) (*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return u.Clone(), nil
	}
	return nil, identity.ErrUserNotFound
}

func (s *memStore) FindByUsername(ctx context.Context, username string) (*identity.User, error) {
	s.mu.Lock()
	gate, started := s.findGate, s.findStarted
	s.mu.Unlock()
	if gate != nil {
		if started != nil {
			select {
			case started <- struct{}{}:
			default:
			}
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, u := range s.users {
		if u.Username == username {
			return u.Clone(), nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (s *memStore) FindByEmail(ctx context.Context, email string) (*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email != "" && strings.EqualFold(u.Email, email) {
			return u.Clone(), nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (s *memStore) Create(ctx context.Context, user *identity.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflictCreates > 0 {
		s.conflictCreates--
		if s.onConflict != nil {
			s.onConflict(user)
		}
		return identity.ErrReconciliationConflict
	}
	for _, u := range s.users {
		if u.ID == user.ID || u.Username == user.Username {
			return identity.ErrReconciliationConflict
		}
	}
	s.writes++
	s.users[user.ID] = user.Clone()
	return nil
}

func (s *memStore) Save(ctx context.Context, user *identity.User) (*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	s.users[user.ID] = user.Clone()
	return user.Clone(), nil
}

func (s *memStore) List(ctx context.Context) ([]*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]*identity.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u.Clone())
	}
	return out, nil
}

func (s *memStore) Search(ctx context.Context, query string) ([]*identity.User, error) {
	all, _ := s.List(ctx)
	q := strings.ToLower(query)
	var out []*identity.User
	for _, u := range all {
		if strings.Contains(strings.ToLower(u.Username), q) ||
			strings.Contains(strings.ToLower(u.DisplayName), q) ||
			strings.Contains(strings.ToLower(u.Email), q) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return identity.ErrUserNotFound
	}
	delete(s.users, id)
	return nil
}

// fakeIdP is an in-memory IdentityProvider
type fakeIdP struct {
	mu        sync.Mutex
	users     map[string]*identity.IdPUser
	roles     map[string]identity.Role
	userRoles map[string][]string
	passwords map[string]string
	nextID    int

	updates       int
	failUpdateFor map[string]error
	findErr       error
	createRoleErr error
	getRoleErr    error
	assignErr     error
	connected     bool
}

func newFakeIdP() *fakeIdP {
	return &fakeIdP{
		users:         make(map[string]*identity.IdPUser),
		roles:         make(map[string]identity.Role),
		userRoles:     make(map[string][]string),
		passwords:     make(map[string]string),
		failUpdateFor: make(map[string]error),
		connected:     true,
	}
}

func (f *fakeIdP) addUser(username string) *identity.IdPUser {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	u := &identity.IdPUser{ID: fmt.Sprintf("idp-%d", f.nextID), Username: username, Enabled: true, Attributes: map[string]string{}}
	f.users[u.ID] = u
	return u
}

func (f *fakeIdP) user(username string) *identity.IdPUser {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			c := *u
			return &c
		}
	}
	return nil
}

func (f *fakeIdP) FindUserByUsername(ctx context.Context, username string) (*identity.IdPUser, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	if u := f.user(username); u != nil {
		return u, nil
	}
	return nil, identity.ErrUserNotFound
}

func (f *fakeIdP) FindUserByEmail(ctx context.Context, email string) (*identity.IdPUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (f *fakeIdP) CreateUser(ctx context.Context, create identity.IdPUserCreate) (string, error) {
	if f.user(create.Username) != nil {
		return "", identity.ErrUserExists
	}
	u := f.addUser(create.Username)
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := f.users[u.ID]
	stored.Email = create.Email
	stored.FirstName = create.FirstName
	stored.LastName = create.LastName
	for k, v := range create.Attributes {
		stored.Attributes[k] = v
	}
	return u.ID, nil
}

func (f *fakeIdP) UpdateUser(ctx context.Context, id string, update identity.IdPUserUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return identity.ErrUserNotFound
	}
	if err, ok := f.failUpdateFor[u.Username]; ok {
		return err
	}
	f.updates++
	if update.Email != nil {
		u.Email = *update.Email
	}
	if update.FirstName != nil {
		u.FirstName = *update.FirstName
	}
	if update.LastName != nil {
		u.LastName = *update.LastName
	}
	attrs := make(map[string]string, len(u.Attributes))
	for k, v := range u.Attributes {
		attrs[k] = v
	}
	for k, v := range update.Attributes {
		if v == "" {
			delete(attrs, k)
			continue
		}
		attrs[k] = v
	}
	u.Attributes = attrs
	return nil
}

func (f *fakeIdP) DeleteUser(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return identity.ErrUserNotFound
	}
	delete(f.users, id)
	return nil
}

func (f *fakeIdP) SetPassword(ctx context.Context, id, password string, temporary bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if temporary {
		return errors.New("unexpected temporary password")
	}
	f.passwords[id] = password
	return nil
}

func (f *fakeIdP) ListUsers(ctx context.Context) ([]*identity.IdPUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*identity.IdPUser, 0, len(f.users))
	for _, u := range f.users {
		c := *u
		out = append(out, &c)
	}
	return out, nil
}

func (f *fakeIdP) ListRealmRoles(ctx context.Context) ([]identity.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]identity.Role, 0, len(f.roles))
	for _, r := range f.roles {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeIdP) GetRealmRole(ctx context.Context, name string) (*identity.Role, error) {
	if f.getRoleErr != nil {
		return nil, f.getRoleErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.roles[name]; ok {
		return &r, nil
	}
	return nil, identity.ErrRoleNotFound
}

func (f *fakeIdP) CreateRealmRole(ctx context.Context, name, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createRoleErr != nil {
		return f.createRoleErr
	}
	if _, ok := f.roles[name]; ok {
		return identity.ErrRoleExists
	}
	f.roles[name] = identity.Role{ID: "role-" + name, Name: name, Description: description}
	return nil
}

func (f *fakeIdP) AssignRealmRole(ctx context.Context, userID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.assignErr != nil {
		return f.assignErr
	}
	if _, ok := f.roles[role]; !ok {
		return identity.ErrRoleNotFound
	}
	f.userRoles[userID] = append(f.userRoles[userID], role)
	return nil
}

func (f *fakeIdP) RemoveRealmRole(ctx context.Context, userID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.userRoles[userID][:0]
	for _, r := range f.userRoles[userID] {
		if r != role {
			kept = append(kept, r)
		}
	}
	f.userRoles[userID] = kept
	return nil
}

func (f *fakeIdP) ListUserRealmRoles(ctx context.Context, userID string) ([]identity.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []identity.Role
	for _, r := range f.userRoles[userID] {
		out = append(out, identity.Role{Name: r})
	}
	return out, nil
}

func (f *fakeIdP) TestConnection(ctx context.Context) bool {
	return f.connected
}

// archiveRecorder captures archived sweeps
type archiveRecorder struct {
	mu      sync.Mutex
	results []*SweepResult
	err     error
}

func (a *archiveRecorder) ArchiveSweep(ctx context.Context, result *SweepResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, result)
	return a.err
}

// testConfig returns a config whose clock advances one second per call
func testConfig() Config {
	base := time.Date(2025, 8, 8, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	ids := 0
	cfg := DefaultConfig()
	cfg.Workers = 4
	cfg.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	cfg.NewID = func() string {
		mu.Lock()
		defer mu.Unlock()
		ids++
		return fmt.Sprintf("id-%d", ids)
	}
	return cfg
}
