package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/usersync/pkg/identity"
)

var tracer = otel.Tracer("usersync/storage")

const userColumns = `id, username, email, display_name, user_type,
	phone_number, address, bio, profile_picture_url, date_of_birth, gender, location,
	character_name, anime_manga_source, character_description, avatar_url, cover_image_url, character_status,
	created_at, updated_at, is_verified, is_active, is_logged_in`

const userValues = `$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
	$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23`

// UserStore persists local users in a SQL database
type UserStore struct {
	conns *ConnectionManager
}

// NewUserStore creates a user store on top of conns
func NewUserStore(conns *ConnectionManager) *UserStore {
	return &UserStore{conns: conns}
}

// FindByID returns the user with id
func (s *UserStore) FindByID(ctx context.Context, id string) (*identity.User, error) {
	return s.findOne(ctx, "FindByID", "id = $1", id)
}

// FindByUsername returns the user with username
func (s *UserStore) FindByUsername(ctx context.Context, username string) (*identity.User, error) {
	return s.findOne(ctx, "FindByUsername", "username = $1", username)
}

// FindByEmail returns the first user with email, compared case-insensitively
func (s *UserStore) FindByEmail(ctx context.Context, email string) (*identity.User, error) {
	if email == "" {
		return nil, identity.ErrUserNotFound
	}
	return s.findOne(ctx, "FindByEmail", "LOWER(email) = LOWER($1) ORDER BY created_at LIMIT 1", email)
}

func (s *UserStore) findOne(ctx context.Context, op, where string, arg string) (*identity.User, error) {
	ctx, span := s.start(ctx, op)
	defer span.End()

	query := "SELECT " + userColumns + " FROM users WHERE " + where
	user, err := scanUser(s.conns.Primary().QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrUserNotFound
	}
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("failed to get user: %w", err))
	}
	return user, nil
}

// Create inserts user. An existing id or username fails with
// identity.ErrReconciliationConflict.
func (s *UserStore) Create(ctx context.Context, user *identity.User) error {
	ctx, span := s.start(ctx, "Create")
	defer span.End()
	span.SetAttributes(attribute.String("user.username", user.Username))

	query := "INSERT INTO users (" + userColumns + ") VALUES (" + userValues + ") ON CONFLICT DO NOTHING"
	res, err := s.conns.Primary().ExecContext(ctx, query, userArgs(user)...)
	if err != nil {
		if isUniqueViolation(err) {
			return identity.ErrReconciliationConflict
		}
		return s.fail(span, fmt.Errorf("failed to insert user: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.fail(span, fmt.Errorf("failed to read insert result: %w", err))
	}
	if n == 0 {
		return identity.ErrReconciliationConflict
	}
	return nil
}

// Save inserts or replaces the user with user.ID and returns the stored row
func (s *UserStore) Save(ctx context.Context, user *identity.User) (*identity.User, error) {
	ctx, span := s.start(ctx, "Save")
	defer span.End()
	span.SetAttributes(attribute.String("user.username", user.Username))

	query := "INSERT INTO users (" + userColumns + ") VALUES (" + userValues + `)
		ON CONFLICT (id) DO UPDATE SET
			username = excluded.username,
			email = excluded.email,
			display_name = excluded.display_name,
			user_type = excluded.user_type,
			phone_number = excluded.phone_number,
			address = excluded.address,
			bio = excluded.bio,
			profile_picture_url = excluded.profile_picture_url,
			date_of_birth = excluded.date_of_birth,
			gender = excluded.gender,
			location = excluded.location,
			character_name = excluded.character_name,
			anime_manga_source = excluded.anime_manga_source,
			character_description = excluded.character_description,
			avatar_url = excluded.avatar_url,
			cover_image_url = excluded.cover_image_url,
			character_status = excluded.character_status,
			updated_at = excluded.updated_at,
			is_verified = excluded.is_verified,
			is_active = excluded.is_active,
			is_logged_in = excluded.is_logged_in`

	if _, err := s.conns.Primary().ExecContext(ctx, query, userArgs(user)...); err != nil {
		if isUniqueViolation(err) {
			return nil, identity.ErrReconciliationConflict
		}
		return nil, s.fail(span, fmt.Errorf("failed to save user: %w", err))
	}
	return s.FindByID(ctx, user.ID)
}

// List returns every user ordered by username
func (s *UserStore) List(ctx context.Context) ([]*identity.User, error) {
	ctx, span := s.start(ctx, "List")
	defer span.End()

	query := "SELECT " + userColumns + " FROM users ORDER BY username"
	return s.query(ctx, span, s.conns.Replica(), query)
}

// Search returns users whose username, display name or email contains
// query, ignoring case
func (s *UserStore) Search(ctx context.Context, query string) ([]*identity.User, error) {
	ctx, span := s.start(ctx, "Search")
	defer span.End()

	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	stmt := "SELECT " + userColumns + ` FROM users
		WHERE LOWER(username) LIKE $1 ESCAPE '\'
		   OR LOWER(display_name) LIKE $1 ESCAPE '\'
		   OR LOWER(email) LIKE $1 ESCAPE '\'
		ORDER BY username`
	return s.query(ctx, span, s.conns.Replica(), stmt, pattern)
}

// Delete removes the user with id
func (s *UserStore) Delete(ctx context.Context, id string) error {
	ctx, span := s.start(ctx, "Delete")
	defer span.End()

	res, err := s.conns.Primary().ExecContext(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return s.fail(span, fmt.Errorf("failed to delete user: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.fail(span, fmt.Errorf("failed to read delete result: %w", err))
	}
	if n == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// Count returns the number of stored users
func (s *UserStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.conns.Replica().QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

func (s *UserStore) query(ctx context.Context, span trace.Span, db *sql.DB, query string, args ...interface{}) ([]*identity.User, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("failed to query users: %w", err))
	}
	defer rows.Close()

	users := make([]*identity.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, s.fail(span, fmt.Errorf("failed to scan user: %w", err))
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(span, fmt.Errorf("failed to iterate users: %w", err))
	}
	span.SetAttributes(attribute.Int("db.rows", len(users)))
	return users, nil
}

func (s *UserStore) start(ctx context.Context, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "UserStore."+op, trace.WithAttributes(
		attribute.String("db.system", s.conns.Driver()),
		attribute.String("db.operation", op),
	))
}

func (s *UserStore) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*identity.User, error) {
	var u identity.User
	var userType string
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.DisplayName, &userType,
		&u.PhoneNumber, &u.Address, &u.Bio, &u.ProfilePictureURL, &u.DateOfBirth, &u.Gender, &u.Location,
		&u.CharacterName, &u.AnimeMangaSource, &u.CharacterDescription, &u.AvatarURL, &u.CoverImageURL, &u.CharacterStatus,
		&u.CreatedAt, &u.UpdatedAt, &u.IsVerified, &u.IsActive, &u.IsLoggedIn,
	)
	if err != nil {
		return nil, err
	}
	if t, ok := identity.ParseUserType(userType); ok {
		u.UserType = t
	} else {
		u.UserType = identity.UserTypeRealUser
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

func userArgs(u *identity.User) []interface{} {
	return []interface{}{
		u.ID, u.Username, u.Email, u.DisplayName, u.UserType.String(),
		u.PhoneNumber, u.Address, u.Bio, u.ProfilePictureURL, u.DateOfBirth, u.Gender, u.Location,
		u.CharacterName, u.AnimeMangaSource, u.CharacterDescription, u.AvatarURL, u.CoverImageURL, u.CharacterStatus,
		dbTime(u.CreatedAt), dbTime(u.UpdatedAt), u.IsVerified, u.IsActive, u.IsLoggedIn,
	}
}

// dbTime drops precision below what PostgreSQL stores
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
