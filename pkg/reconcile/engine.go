package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/usersync/pkg/identity"
	"github.com/platinummonkey/usersync/pkg/observability"
)

var tracer = otel.Tracer("usersync/reconcile")

// Engine keeps the local user record current with token claims
type Engine struct {
	store   UserStore
	config  Config
	logger  *observability.Logger
	metrics *observability.Metrics
	group   singleflight.Group
}

// NewEngine creates a reconciliation engine. metrics may be nil.
func NewEngine(store UserStore, config Config, logger *observability.Logger, metrics *observability.Metrics) *Engine {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Engine{
		store:   store,
		config:  config.withDefaults(),
		logger:  logger.WithField("component", "reconcile"),
		metrics: metrics,
	}
}

// Reconcile guarantees a local record exists for claims.Username and that
// its email, display name and user type match the claims. Calling it
// twice with the same claims writes at most once.
//
// Concurrent calls with identical claims in this process share one
// execution, which is not canceled when one of the callers goes away. Across processes, a duplicate-key rejection on create is
// retried by re-reading the record.
func (e *Engine) Reconcile(ctx context.Context, claims identity.Claims) (*identity.User, error) {
	username := strings.TrimSpace(claims.Username)
	if username == "" {
		e.metrics.RecordReconcile(observability.OutcomeFailed)
		return nil, identity.ErrMissingIdentity
	}
	claims.Username = username

	userType := identity.MapRoles(claims.Roles)
	key := fingerprint(claims, userType)

	// The shared execution outlives any one caller; store and IdP timeouts
	// still bound it. Each caller stops waiting when its own ctx is done.
	ch := e.group.DoChan(key, func() (interface{}, error) {
		return e.reconcile(context.WithoutCancel(ctx), claims, userType)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("reconcile %q: %w", username, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*identity.User).Clone(), nil
	}
}

func (e *Engine) reconcile(ctx context.Context, claims identity.Claims, userType identity.UserType) (*identity.User, error) {
	ctx, span := tracer.Start(ctx, "reconcile.Reconcile")
	defer span.End()
	span.SetAttributes(
		attribute.String("user.username", claims.Username),
		attribute.String("user.type", userType.String()),
	)

	log := e.logger.WithField("username", claims.Username)

	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		existing, err := e.findByUsername(ctx, claims.Username)
		switch {
		case errors.Is(err, identity.ErrUserNotFound):
			user, err := e.create(ctx, claims, userType)
			if errors.Is(err, identity.ErrReconciliationConflict) {
				e.metrics.RecordConflict()
				log.WithField("attempt", attempt).Warn("concurrent first-time reconciliation, re-reading user")
				continue
			}
			if err != nil {
				return nil, e.fail(span, err)
			}
			e.metrics.RecordReconcile(observability.OutcomeCreated)
			log.WithField("user_type", userType).Info("created local user from token claims")
			return user, nil

		case err != nil:
			return nil, e.fail(span, err)
		}

		updated, changed, err := e.update(ctx, existing, claims, userType)
		if err != nil {
			return nil, e.fail(span, err)
		}
		if !changed {
			e.metrics.RecordReconcile(observability.OutcomeUnchanged)
			return existing, nil
		}
		e.metrics.RecordReconcile(observability.OutcomeUpdated)
		log.WithField("user_type", updated.UserType).Info("updated local user from token claims")
		return updated, nil
	}

	err := fmt.Errorf("reconcile %q after %d attempts: %w", claims.Username, e.config.MaxAttempts, identity.ErrReconciliationConflict)
	return nil, e.fail(span, err)
}

func (e *Engine) fail(span trace.Span, err error) error {
	e.metrics.RecordReconcile(observability.OutcomeFailed)
	span.RecordError(err)
	span.SetStatus(codes.Error, "reconcile failed")
	return err
}

func (e *Engine) findByUsername(ctx context.Context, username string) (*identity.User, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.StoreTimeout)
	defer cancel()

	start := time.Now()
	user, err := e.store.FindByUsername(ctx, username)
	if errors.Is(err, identity.ErrUserNotFound) {
		e.metrics.RecordStoreOperation("find_by_username", time.Since(start), nil)
		return nil, err
	}
	e.metrics.RecordStoreOperation("find_by_username", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to find user %q: %w", username, err)
	}
	return user, nil
}

func (e *Engine) create(ctx context.Context, claims identity.Claims, userType identity.UserType) (*identity.User, error) {
	user := NewUserFromClaims(claims, userType, e.config.Now(), e.config.NewID())

	ctx, cancel := context.WithTimeout(ctx, e.config.StoreTimeout)
	defer cancel()

	start := time.Now()
	err := e.store.Create(ctx, user)
	e.metrics.RecordStoreOperation("create", time.Since(start), err)
	if err != nil {
		if errors.Is(err, identity.ErrReconciliationConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user %q: %w", claims.Username, err)
	}
	return user, nil
}

func (e *Engine) update(ctx context.Context, existing *identity.User, claims identity.Claims, userType identity.UserType) (*identity.User, bool, error) {
	next := existing.Clone()
	if !ApplyClaims(next, claims, userType) {
		return existing, false, nil
	}

	now := e.config.Now()
	if now.After(next.UpdatedAt) {
		next.UpdatedAt = now
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.StoreTimeout)
	defer cancel()

	start := time.Now()
	saved, err := e.store.Save(ctx, next)
	e.metrics.RecordStoreOperation("save", time.Since(start), err)
	if err != nil {
		return nil, false, fmt.Errorf("failed to update user %q: %w", existing.Username, err)
	}
	return saved, true, nil
}

// NewUserFromClaims builds the record created on first authentication
func NewUserFromClaims(claims identity.Claims, userType identity.UserType, now time.Time, id string) *identity.User {
	displayName := claims.DisplayName
	if displayName == "" {
		displayName = claims.Username
	}
	return &identity.User{
		ID:          id,
		Username:    claims.Username,
		Email:       claims.Email,
		DisplayName: displayName,
		UserType:    userType,
		CreatedAt:   now,
		UpdatedAt:   now,
		IsVerified:  true,
		IsActive:    true,
		IsLoggedIn:  true,
	}
}

// ApplyClaims copies the differing claim fields onto user and reports
// whether anything changed. Empty email or display name claims never
// overwrite a stored value.
func ApplyClaims(user *identity.User, claims identity.Claims, userType identity.UserType) bool {
	changed := false
	if claims.Email != "" && claims.Email != user.Email {
		user.Email = claims.Email
		changed = true
	}
	if claims.DisplayName != "" && claims.DisplayName != user.DisplayName {
		user.DisplayName = claims.DisplayName
		changed = true
	}
	if userType != "" && userType != user.UserType {
		user.UserType = userType
		changed = true
	}
	return changed
}

func fingerprint(claims identity.Claims, userType identity.UserType) string {
	return strings.Join([]string{claims.Username, claims.Email, claims.DisplayName, userType.String()}, "\x00")
}
