package reconcile

import (
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/usersync/pkg/identity"
)

// Config tunes timeouts and concurrency for reconciliation
type Config struct {
	// StoreTimeout bounds every local store call
	StoreTimeout time.Duration
	// IdPTimeout bounds every identity provider call
	IdPTimeout time.Duration
	// MaxAttempts bounds the re-read loop after a duplicate-key rejection
	MaxAttempts int
	// Workers caps concurrent pushes during a bulk sweep
	Workers int
	// ItemTimeout bounds a single user's push during a bulk sweep
	ItemTimeout time.Duration
	// RequiredRoles are the realm roles ensured before role assignment
	RequiredRoles []string

	// Now and NewID are overridable for tests
	Now   func() time.Time
	NewID func() string
}

// DefaultConfig returns the default reconciliation configuration
func DefaultConfig() Config {
	return Config{
		StoreTimeout:  5 * time.Second,
		IdPTimeout:    10 * time.Second,
		MaxAttempts:   3,
		Workers:       8,
		ItemTimeout:   30 * time.Second,
		RequiredRoles: append([]string(nil), identity.BaselineRoles...),
		Now:           time.Now,
		NewID:         uuid.NewString,
	}
}

// withDefaults fills zero values from DefaultConfig
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = d.StoreTimeout
	}
	if c.IdPTimeout <= 0 {
		c.IdPTimeout = d.IdPTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = d.ItemTimeout
	}
	if len(c.RequiredRoles) == 0 {
		c.RequiredRoles = d.RequiredRoles
	}
	if c.Now == nil {
		c.Now = d.Now
	}
	if c.NewID == nil {
		c.NewID = d.NewID
	}
	return c
}
