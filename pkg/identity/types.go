package identity

import (
	"strings"
	"time"
)

// UserType is the application-level classification of a user
type UserType string

const (
	UserTypeRealUser  UserType = "REAL_USER"
	UserTypeCharacter UserType = "CHARACTER"
	UserTypeAdmin     UserType = "ADMIN"
)

// ParseUserType parses a user type case-insensitively. Unknown values
// return false.
func ParseUserType(s string) (UserType, bool) {
	switch UserType(strings.ToUpper(strings.TrimSpace(s))) {
	case UserTypeRealUser:
		return UserTypeRealUser, true
	case UserTypeCharacter:
		return UserTypeCharacter, true
	case UserTypeAdmin:
		return UserTypeAdmin, true
	}
	return "", false
}

func (t UserType) String() string {
	return string(t)
}

// Claims is the flat identity extracted from a verified token
type Claims struct {
	Username    string   `json:"username"`               // preferred_username, required
	Email       string   `json:"email,omitempty"`        // optional
	DisplayName string   `json:"display_name,omitempty"` // name claim, optional
	Roles       []string `json:"roles,omitempty"`        // realm roles, else client roles
}

// User is the locally owned user record
type User struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name"`
	UserType    UserType `json:"user_type"`

	Profile

	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	IsVerified bool      `json:"is_verified"`
	IsActive   bool      `json:"is_active"`
	IsLoggedIn bool      `json:"is_logged_in"`
}

// Profile holds the editable profile fields of a user. Character fields
// only carry meaning when the owning user is a CHARACTER.
type Profile struct {
	PhoneNumber string `json:"phone_number,omitempty"`
	Address     string `json:"address,omitempty"`

	// Real user fields
	Bio               string `json:"bio,omitempty"`
	ProfilePictureURL string `json:"profile_picture_url,omitempty"`
	DateOfBirth       string `json:"date_of_birth,omitempty"`
	Gender            string `json:"gender,omitempty"`
	Location          string `json:"location,omitempty"`

	// Character fields
	CharacterName        string `json:"character_name,omitempty"`
	AnimeMangaSource     string `json:"anime_manga_source,omitempty"`
	CharacterDescription string `json:"character_description,omitempty"`
	AvatarURL            string `json:"avatar_url,omitempty"`
	CoverImageURL        string `json:"cover_image_url,omitempty"`
	CharacterStatus      string `json:"character_status,omitempty"`
}

// IsAdmin reports whether the user is an administrator
func (u *User) IsAdmin() bool {
	return u.UserType == UserTypeAdmin
}

// IsCharacter reports whether the user is a character account
func (u *User) IsCharacter() bool {
	return u.UserType == UserTypeCharacter
}

// Name returns the name shown to other users: the character name for
// characters that have one, otherwise the display name, otherwise the username.
func (u *User) Name() string {
	if u.IsCharacter() && u.CharacterName != "" {
		return u.CharacterName
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Clone returns a copy of the user that shares no mutable state
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// IdPUser is a user record as held by the identity provider
type IdPUser struct {
	ID            string            `json:"id"`
	Username      string            `json:"username"`
	Email         string            `json:"email,omitempty"`
	FirstName     string            `json:"first_name,omitempty"`
	LastName      string            `json:"last_name,omitempty"`
	Enabled       bool              `json:"enabled"`
	EmailVerified bool              `json:"email_verified"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// FullName joins first and last name, falling back to the username
func (u *IdPUser) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// Attribute returns a single attribute value or the empty string
func (u *IdPUser) Attribute(key string) string {
	if u.Attributes == nil {
		return ""
	}
	return u.Attributes[key]
}

// IdPUserCreate describes a user to create in the identity provider
type IdPUserCreate struct {
	Username   string
	Email      string
	FirstName  string
	LastName   string
	Attributes map[string]string
}

// IdPUserUpdate describes an update of an identity provider user. Nil
// fields are left untouched. Every key in Attributes is written; an empty
// value removes the attribute.
type IdPUserUpdate struct {
	Email      *string
	FirstName  *string
	LastName   *string
	Attributes map[string]string
}

// Role is a realm-level role in the identity provider
type Role struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Attribute keys pushed to the identity provider
const (
	AttrUserType         = "userType"
	AttrBio              = "bio"
	AttrLocation         = "location"
	AttrCharacterName    = "characterName"
	AttrAnimeMangaSource = "animeMangaSource"
)

// Realm role names
const (
	RoleAdmin       = "ADMIN"
	RoleAdminPrefix = "ROLE_ADMIN"
	RoleUser        = "USER"
	RoleCharacter   = "CHARACTER"
)

// BaselineRoles are the realm roles that must exist before any assignment
var BaselineRoles = []string{RoleAdmin, RoleAdminPrefix, RoleUser, RoleCharacter}

// RoleDescription is attached to roles created by the provisioner
const RoleDescription = "Auto-created role for SSS application"

// RolesForUserType returns the realm roles granted to a newly created user
func RolesForUserType(t UserType) []string {
	switch t {
	case UserTypeAdmin:
		return []string{RoleAdmin, RoleAdminPrefix}
	case UserTypeCharacter:
		return []string{RoleCharacter}
	default:
		return []string{RoleUser}
	}
}
