package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/usersync/pkg/identity"
	"github.com/platinummonkey/usersync/pkg/storage/postgres"
)

// ErrSessionNotFound is returned for unknown or expired tokens
var ErrSessionNotFound = errors.New("session not found")

// Session is an opaque login issued after a verified bearer token
type Session struct {
	Token     string            `json:"token"`
	UserID    string            `json:"user_id"`
	Username  string            `json:"username"`
	UserType  identity.UserType `json:"user_type"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Config for the session store
type Config struct {
	TTL       time.Duration
	KeyPrefix string
}

// DefaultConfig returns a 24h session lifetime
func DefaultConfig() Config {
	return Config{TTL: 24 * time.Hour, KeyPrefix: "usersync:"}
}

// Store keeps sessions in Redis. Each session lives under
// <prefix>session:<token>, and <prefix>user:<id> points at the user's
// current token so that a user holds at most one live session.
type Store struct {
	redis  *postgres.RedisClient
	config Config
	now    func() time.Time
}

// NewStore creates a session store
func NewStore(redis *postgres.RedisClient, config Config) *Store {
	if config.TTL <= 0 {
		config.TTL = DefaultConfig().TTL
	}
	return &Store{redis: redis, config: config, now: time.Now}
}

func (s *Store) sessionKey(token string) string {
	return s.config.KeyPrefix + "session:" + token
}

func (s *Store) userKey(userID string) string {
	return s.config.KeyPrefix + "user:" + userID
}

// Create issues a new session for user, revoking any previous one
func (s *Store) Create(ctx context.Context, user *identity.User) (*Session, error) {
	if user == nil || user.ID == "" {
		return nil, fmt.Errorf("%w: session requires a stored user", identity.ErrInvalidRequest)
	}

	if err := s.DeleteByUser(ctx, user.ID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sess := &Session{
		Token:     uuid.NewString(),
		UserID:    user.ID,
		Username:  user.Username,
		UserType:  user.UserType,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.TTL),
	}

	if err := s.redis.SetJSON(ctx, s.sessionKey(sess.Token), sess, s.config.TTL); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	if err := s.redis.Set(ctx, s.userKey(user.ID), sess.Token, s.config.TTL); err != nil {
		return nil, fmt.Errorf("failed to index session: %w", err)
	}
	return sess, nil
}

// Get returns the live session for token
func (s *Store) Get(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}

	var sess Session
	err := s.redis.GetJSON(ctx, s.sessionKey(token), &sess)
	if errors.Is(err, postgres.ErrCacheMiss) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &sess, nil
}

// Delete revokes token. Unknown tokens return ErrSessionNotFound.
func (s *Store) Delete(ctx context.Context, token string) error {
	sess, err := s.Get(ctx, token)
	if err != nil {
		return err
	}

	keys := []string{s.sessionKey(token)}
	if current, err := s.redis.Get(ctx, s.userKey(sess.UserID)); err == nil && current == token {
		keys = append(keys, s.userKey(sess.UserID))
	}
	if _, err := s.redis.Del(ctx, keys...); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByUser revokes the user's current session, if any
func (s *Store) DeleteByUser(ctx context.Context, userID string) error {
	token, err := s.redis.GetDel(ctx, s.userKey(userID))
	if errors.Is(err, postgres.ErrCacheMiss) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up session: %w", err)
	}
	if _, err := s.redis.Del(ctx, s.sessionKey(token)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
