package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/usersync/pkg/identity"
	"github.com/platinummonkey/usersync/pkg/observability"
)

// MinPasswordLength is the shortest password accepted for a new user
const MinPasswordLength = 6

// CreateUserRequest describes a user created by an administrator
type CreateUserRequest struct {
	Username string            `json:"username"`
	FullName string            `json:"full_name"`
	Email    string            `json:"email"`
	Password string            `json:"password"`
	UserType identity.UserType `json:"user_type"`
	identity.Profile
}

// Validate checks the request before anything is written
func (r *CreateUserRequest) Validate() error {
	if strings.TrimSpace(r.Username) == "" {
		return fmt.Errorf("%w: username is required", identity.ErrInvalidRequest)
	}
	if len(r.Password) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters long", identity.ErrInvalidRequest, MinPasswordLength)
	}
	if r.UserType == "" {
		r.UserType = identity.UserTypeRealUser
	}
	t, ok := identity.ParseUserType(string(r.UserType))
	if !ok {
		return fmt.Errorf("%w: unknown user type %q", identity.ErrInvalidRequest, r.UserType)
	}
	r.UserType = t
	return nil
}

// DisplayName is the character name for characters that have one,
// otherwise the full name, otherwise the username
func (r *CreateUserRequest) DisplayName() string {
	if r.UserType == identity.UserTypeCharacter && strings.TrimSpace(r.CharacterName) != "" {
		return r.CharacterName
	}
	if strings.TrimSpace(r.FullName) != "" {
		return r.FullName
	}
	return r.Username
}

// ProfileUpdate is a partial profile edit. Nil fields are left untouched.
// Character fields only apply to CHARACTER users.
type ProfileUpdate struct {
	FullName          *string `json:"full_name,omitempty"`
	Email             *string `json:"email,omitempty"`
	PhoneNumber       *string `json:"phone_number,omitempty"`
	Address           *string `json:"address,omitempty"`
	Bio               *string `json:"bio,omitempty"`
	ProfilePictureURL *string `json:"profile_picture_url,omitempty"`
	DateOfBirth       *string `json:"date_of_birth,omitempty"`
	Gender            *string `json:"gender,omitempty"`
	Location          *string `json:"location,omitempty"`

	CharacterName        *string `json:"character_name,omitempty"`
	AnimeMangaSource     *string `json:"anime_manga_source,omitempty"`
	CharacterDescription *string `json:"character_description,omitempty"`
	AvatarURL            *string `json:"avatar_url,omitempty"`
	CoverImageURL        *string `json:"cover_image_url,omitempty"`
	CharacterStatus      *string `json:"character_status,omitempty"`
}

// Apply copies the non-nil fields onto user. The user type is never changed.
func (u *ProfileUpdate) Apply(user *identity.User) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&user.DisplayName, u.FullName)
	set(&user.Email, u.Email)
	set(&user.PhoneNumber, u.PhoneNumber)
	set(&user.Address, u.Address)
	set(&user.Bio, u.Bio)
	set(&user.ProfilePictureURL, u.ProfilePictureURL)
	set(&user.DateOfBirth, u.DateOfBirth)
	set(&user.Gender, u.Gender)
	set(&user.Location, u.Location)

	if !user.IsCharacter() {
		return
	}
	set(&user.CharacterName, u.CharacterName)
	set(&user.AnimeMangaSource, u.AnimeMangaSource)
	set(&user.CharacterDescription, u.CharacterDescription)
	set(&user.AvatarURL, u.AvatarURL)
	set(&user.CoverImageURL, u.CoverImageURL)
	set(&user.CharacterStatus, u.CharacterStatus)
}

// CreatedUser is the result of an administrative create
type CreatedUser struct {
	User      *identity.User `json:"user"`
	IdPUserID string         `json:"idp_user_id"`
}

// UserRoles lists the realm roles held by an identity provider user
type UserRoles struct {
	Username  string   `json:"username"`
	IdPUserID string   `json:"idp_user_id"`
	Roles     []string `json:"roles"`
}

// SyncStatus reports identity provider reachability
type SyncStatus struct {
	Connected    bool         `json:"connected"`
	IdPUserCount int          `json:"idp_user_count"`
	LocalUsers   int          `json:"local_user_count"`
	LastSweep    *SweepResult `json:"last_sweep,omitempty"`
}

// Service implements the administrative user operations that span the
// local store and the identity provider. Nothing here is atomic across
// the two systems; a partial failure leaves them divergent until the
// next push or sweep.
type Service struct {
	store       UserStore
	idp         IdentityProvider
	pusher      *Pusher
	provisioner *Provisioner
	bulk        *BulkReconciler
	config      Config
	logger      *observability.Logger
}

// NewService wires the administrative service
func NewService(store UserStore, idp IdentityProvider, pusher *Pusher, provisioner *Provisioner, bulk *BulkReconciler, config Config, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Service{
		store:       store,
		idp:         idp,
		pusher:      pusher,
		provisioner: provisioner,
		bulk:        bulk,
		config:      config.withDefaults(),
		logger:      logger.WithField("component", "admin"),
	}
}

// CreateUser creates the user locally and in the identity provider, sets
// its password and grants the roles for its user type. Role assignment
// failures are logged only, since the user already exists by then.
func (s *Service) CreateUser(ctx context.Context, req CreateUserRequest) (*CreatedUser, error) {
	const op = "create user"

	if err := req.Validate(); err != nil {
		return nil, identity.NewUserError(op, req.Username, err)
	}
	username := strings.TrimSpace(req.Username)
	log := s.logger.WithField("username", username)

	if _, err := s.findByUsername(ctx, username); err == nil {
		return nil, identity.NewUserError(op, username, fmt.Errorf("%w: username already exists", identity.ErrUserExists))
	} else if !errors.Is(err, identity.ErrUserNotFound) {
		return nil, identity.NewUserError(op, username, err)
	}
	if req.Email != "" {
		if _, err := s.findByEmail(ctx, req.Email); err == nil {
			return nil, identity.NewUserError(op, username, fmt.Errorf("%w: email already exists", identity.ErrUserExists))
		} else if !errors.Is(err, identity.ErrUserNotFound) {
			return nil, identity.NewUserError(op, username, err)
		}
	}

	now := s.config.Now()
	user := &identity.User{
		ID:          s.config.NewID(),
		Username:    username,
		Email:       req.Email,
		DisplayName: req.DisplayName(),
		UserType:    req.UserType,
		Profile:     req.Profile,
		CreatedAt:   now,
		UpdatedAt:   now,
		IsVerified:  true,
		IsActive:    true,
		IsLoggedIn:  false,
	}
	if !user.IsCharacter() {
		clearCharacterFields(&user.Profile)
	}

	if err := s.createLocal(ctx, user); err != nil {
		if errors.Is(err, identity.ErrReconciliationConflict) {
			err = fmt.Errorf("%w: username already exists", identity.ErrUserExists)
		}
		return nil, identity.NewUserError(op, username, err)
	}
	log.Info("created local user")

	if err := s.provisioner.EnsureBaselineRoles(ctx); err != nil {
		log.WithError(err).Warn("failed to ensure baseline roles")
	}

	create := BuildCreate(user)
	create.FirstName, create.LastName = identity.SplitDisplayName(req.FullName)

	idpID, err := s.withIdP(ctx, func(ctx context.Context) (string, error) {
		return s.idp.CreateUser(ctx, create)
	})
	if err != nil {
		return nil, identity.NewUserError(op, username, fmt.Errorf("failed to create identity provider user: %w", err))
	}
	log = log.WithField("idp_user_id", idpID)

	if _, err := s.withIdP(ctx, func(ctx context.Context) (string, error) {
		return "", s.idp.SetPassword(ctx, idpID, req.Password, false)
	}); err != nil {
		return nil, identity.NewUserError(op, username, fmt.Errorf("failed to set password: %w", err))
	}

	for _, role := range identity.RolesForUserType(user.UserType) {
		role := role
		if _, err := s.withIdP(ctx, func(ctx context.Context) (string, error) {
			return "", s.idp.AssignRealmRole(ctx, idpID, role)
		}); err != nil {
			log.WithField("role", role).WithError(err).Error("failed to assign role")
		}
	}

	log.WithField("user_type", user.UserType).Info("created user in identity provider")
	return &CreatedUser{User: user, IdPUserID: idpID}, nil
}

// UpdateProfile applies a profile edit, saves it and pushes the result to
// the identity provider. When the push fails the local edit is kept and
// the failure is returned with the username.
func (s *Service) UpdateProfile(ctx context.Context, id string, update ProfileUpdate) (*identity.User, error) {
	const op = "update user"

	user, err := s.findByID(ctx, id)
	if err != nil {
		return nil, identity.NewUserError(op, "", err)
	}

	update.Apply(user)
	if now := s.config.Now(); now.After(user.UpdatedAt) {
		user.UpdatedAt = now
	}

	saved, err := s.save(ctx, user)
	if err != nil {
		return nil, identity.NewUserError(op, user.Username, err)
	}

	if err := s.pusher.Push(ctx, saved); err != nil {
		return saved, identity.NewUserError("push user", saved.Username, err)
	}
	return saved, nil
}

// DeleteUser removes the identity provider user, then the local record
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	const op = "delete user"

	user, err := s.findByID(ctx, id)
	if err != nil {
		return identity.NewUserError(op, "", err)
	}
	log := s.logger.WithField("username", user.Username)

	idpUser, err := s.findIdPUser(ctx, user.Username)
	switch {
	case errors.Is(err, identity.ErrUserNotFound):
		log.Warn("user not found in identity provider, deleting local record only")
	case err != nil:
		return identity.NewUserError(op, user.Username, err)
	default:
		if _, err := s.withIdP(ctx, func(ctx context.Context) (string, error) {
			return "", s.idp.DeleteUser(ctx, idpUser.ID)
		}); err != nil {
			return identity.NewUserError(op, user.Username, err)
		}
		log.WithField("idp_user_id", idpUser.ID).Info("deleted identity provider user")
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	if err := s.store.Delete(storeCtx, user.ID); err != nil {
		return identity.NewUserError(op, user.Username, err)
	}
	log.Info("deleted local user")
	return nil
}

// GetUser returns a local user by id
func (s *Service) GetUser(ctx context.Context, id string) (*identity.User, error) {
	user, err := s.findByID(ctx, id)
	if err != nil {
		return nil, identity.NewUserError("get user", "", err)
	}
	return user, nil
}

// ListUsers lists local users, filtered by a case-insensitive substring
// of username, display name or email when search is not empty
func (s *Service) ListUsers(ctx context.Context, search string) ([]*identity.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	if strings.TrimSpace(search) == "" {
		return s.store.List(ctx)
	}
	return s.store.Search(ctx, strings.TrimSpace(search))
}

// PushUser pushes a single local user by username
func (s *Service) PushUser(ctx context.Context, username string) error {
	const op = "push user"

	user, err := s.findByUsername(ctx, username)
	if err != nil {
		return identity.NewUserError(op, username, err)
	}
	return wrapUserError(op, username, s.pusher.Push(ctx, user))
}

// PushAll runs a bulk sweep
func (s *Service) PushAll(ctx context.Context) (*SweepResult, error) {
	return s.bulk.PushAll(ctx)
}

// EnsureRoles ensures the configured baseline roles exist
func (s *Service) EnsureRoles(ctx context.Context) error {
	return s.provisioner.EnsureBaselineRoles(ctx)
}

// AssignRole grants a realm role to the identity provider user and
// returns the roles it holds afterwards
func (s *Service) AssignRole(ctx context.Context, username, role string) (*UserRoles, error) {
	const op = "assign role"

	if strings.TrimSpace(role) == "" {
		return nil, identity.NewUserError(op, username, fmt.Errorf("%w: role is required", identity.ErrInvalidRequest))
	}
	if err := s.provisioner.EnsureBaselineRoles(ctx); err != nil {
		s.logger.WithError(err).Warn("failed to ensure baseline roles")
	}

	idpUser, err := s.findIdPUser(ctx, username)
	if err != nil {
		return nil, identity.NewUserError(op, username, err)
	}

	if _, err := s.withIdP(ctx, func(ctx context.Context) (string, error) {
		return "", s.idp.AssignRealmRole(ctx, idpUser.ID, role)
	}); err != nil {
		return nil, identity.NewUserError(op, username, err)
	}
	s.logger.WithFields(map[string]interface{}{"username": username, "role": role}).Info("assigned realm role")

	return s.rolesOf(ctx, op, username, idpUser.ID)
}

// UserRoles lists the realm roles of the identity provider user
func (s *Service) UserRoles(ctx context.Context, username string) (*UserRoles, error) {
	const op = "list roles"

	idpUser, err := s.findIdPUser(ctx, username)
	if err != nil {
		return nil, identity.NewUserError(op, username, err)
	}
	return s.rolesOf(ctx, op, username, idpUser.ID)
}

// TestConnection reports whether the identity provider admin API answers
func (s *Service) TestConnection(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, s.config.IdPTimeout)
	defer cancel()
	return s.idp.TestConnection(ctx)
}

// SyncStatus reports connectivity, user counts and the last sweep
func (s *Service) SyncStatus(ctx context.Context) (*SyncStatus, error) {
	status := &SyncStatus{Connected: s.TestConnection(ctx)}
	if s.bulk != nil {
		status.LastSweep = s.bulk.LastResult()
	}

	if status.Connected {
		users, err := s.withIdPUsers(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list identity provider users: %w", err)
		}
		status.IdPUserCount = len(users)
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	local, err := s.store.List(storeCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to list local users: %w", err)
	}
	status.LocalUsers = len(local)
	return status, nil
}

// SetLoggedIn records a login or logout on the local user
func (s *Service) SetLoggedIn(ctx context.Context, user *identity.User, loggedIn bool) (*identity.User, error) {
	if user.IsLoggedIn == loggedIn {
		return user, nil
	}
	next := user.Clone()
	next.IsLoggedIn = loggedIn
	if now := s.config.Now(); now.After(next.UpdatedAt) {
		next.UpdatedAt = now
	}
	saved, err := s.save(ctx, next)
	if err != nil {
		return nil, identity.NewUserError("set logged in", user.Username, err)
	}
	return saved, nil
}

// FindByUsername returns a local user by username
func (s *Service) FindByUsername(ctx context.Context, username string) (*identity.User, error) {
	return s.findByUsername(ctx, username)
}

func (s *Service) rolesOf(ctx context.Context, op, username, idpID string) (*UserRoles, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.IdPTimeout)
	defer cancel()

	roles, err := s.idp.ListUserRealmRoles(ctx, idpID)
	if err != nil {
		return nil, identity.NewUserError(op, username, err)
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return &UserRoles{Username: username, IdPUserID: idpID, Roles: names}, nil
}

func (s *Service) withIdP(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.IdPTimeout)
	defer cancel()
	return fn(ctx)
}

func (s *Service) withIdPUsers(ctx context.Context) ([]*identity.IdPUser, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.IdPTimeout)
	defer cancel()
	return s.idp.ListUsers(ctx)
}

func (s *Service) findIdPUser(ctx context.Context, username string) (*identity.IdPUser, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.IdPTimeout)
	defer cancel()
	return s.idp.FindUserByUsername(ctx, username)
}

func (s *Service) findByID(ctx context.Context, id string) (*identity.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	return s.store.FindByID(ctx, id)
}

func (s *Service) findByUsername(ctx context.Context, username string) (*identity.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	return s.store.FindByUsername(ctx, username)
}

func (s *Service) findByEmail(ctx context.Context, email string) (*identity.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	return s.store.FindByEmail(ctx, email)
}

func (s *Service) createLocal(ctx context.Context, user *identity.User) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	return s.store.Create(ctx, user)
}

func (s *Service) save(ctx context.Context, user *identity.User) (*identity.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	return s.store.Save(ctx, user)
}

func clearCharacterFields(p *identity.Profile) {
	p.CharacterName = ""
	p.AnimeMangaSource = ""
	p.CharacterDescription = ""
	p.AvatarURL = ""
	p.CoverImageURL = ""
	p.CharacterStatus = ""
}
