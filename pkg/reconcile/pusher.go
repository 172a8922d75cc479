package reconcile

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/usersync/pkg/identity"
	"github.com/platinummonkey/usersync/pkg/observability"
)

// TrackedAttributes are the identity provider attribute keys owned by
// this service. Every push writes all of them.
var TrackedAttributes = []string{
	identity.AttrUserType,
	identity.AttrBio,
	identity.AttrLocation,
	identity.AttrCharacterName,
	identity.AttrAnimeMangaSource,
}

// Pusher writes local profile edits back to the identity provider
type Pusher struct {
	idp     UserDirectory
	config  Config
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewPusher creates an attribute pusher. metrics may be nil.
func NewPusher(idp UserDirectory, config Config, logger *observability.Logger, metrics *observability.Metrics) *Pusher {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Pusher{
		idp:     idp,
		config:  config.withDefaults(),
		logger:  logger.WithField("component", "push"),
		metrics: metrics,
	}
}

// Push replaces the tracked attributes of the identity provider user that
// shares user's username. A user unknown to the identity provider is
// skipped without error. Identity provider failures are returned as is.
func (p *Pusher) Push(ctx context.Context, user *identity.User) error {
	_, err := p.push(ctx, user)
	return err
}

// push reports whether an update was sent
func (p *Pusher) push(ctx context.Context, user *identity.User) (bool, error) {
	ctx, span := tracer.Start(ctx, "reconcile.Push")
	defer span.End()
	span.SetAttributes(attribute.String("user.username", user.Username))

	log := p.logger.WithField("username", user.Username)

	idpUser, err := p.findUser(ctx, user.Username)
	if errors.Is(err, identity.ErrUserNotFound) {
		p.metrics.RecordPush(observability.OutcomeSkipped)
		log.Info("user not found in identity provider, skipping push")
		return false, nil
	}
	if err != nil {
		p.metrics.RecordPush(observability.OutcomeFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		return false, err
	}

	if err := p.updateUser(ctx, idpUser.ID, BuildUpdate(user)); err != nil {
		p.metrics.RecordPush(observability.OutcomeFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return false, err
	}

	p.metrics.RecordPush(observability.OutcomePushed)
	log.WithField("idp_user_id", idpUser.ID).Debug("pushed user attributes to identity provider")
	return true, nil
}

func (p *Pusher) findUser(ctx context.Context, username string) (*identity.IdPUser, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.IdPTimeout)
	defer cancel()

	start := time.Now()
	u, err := p.idp.FindUserByUsername(ctx, username)
	p.metrics.RecordIdPRequest("find_user_by_username", time.Since(start), ignoreNotFound(err))
	return u, err
}

func (p *Pusher) updateUser(ctx context.Context, id string, update identity.IdPUserUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.IdPTimeout)
	defer cancel()

	start := time.Now()
	err := p.idp.UpdateUser(ctx, id, update)
	p.metrics.RecordIdPRequest("update_user", time.Since(start), err)
	return err
}

// BuildUpdate derives the identity provider update for user. Names come
// from splitting the display name on the first space. Character
// attributes are only populated for CHARACTER users and are cleared for
// everyone else, so the result is a full replace of TrackedAttributes.
func BuildUpdate(user *identity.User) identity.IdPUserUpdate {
	first, last := identity.SplitDisplayName(user.DisplayName)

	attrs := make(map[string]string, len(TrackedAttributes))
	for _, key := range TrackedAttributes {
		attrs[key] = ""
	}
	attrs[identity.AttrUserType] = user.UserType.String()
	attrs[identity.AttrBio] = user.Bio
	attrs[identity.AttrLocation] = user.Location
	if user.IsCharacter() {
		attrs[identity.AttrCharacterName] = user.CharacterName
		attrs[identity.AttrAnimeMangaSource] = user.AnimeMangaSource
	}

	update := identity.IdPUserUpdate{
		FirstName:  &first,
		LastName:   &last,
		Attributes: attrs,
	}
	if user.Email != "" {
		email := user.Email
		update.Email = &email
	}
	return update
}

// BuildCreate derives the identity provider record for a new user
func BuildCreate(user *identity.User) identity.IdPUserCreate {
	update := BuildUpdate(user)
	attrs := make(map[string]string, len(update.Attributes))
	for k, v := range update.Attributes {
		if v != "" {
			attrs[k] = v
		}
	}
	return identity.IdPUserCreate{
		Username:   user.Username,
		Email:      user.Email,
		FirstName:  *update.FirstName,
		LastName:   *update.LastName,
		Attributes: attrs,
	}
}

func ignoreNotFound(err error) error {
	if errors.Is(err, identity.ErrUserNotFound) {
		return nil
	}
	return err
}

func wrapUserError(op, username string, err error) error {
	if err == nil {
		return nil
	}
	var ue *identity.UserError
	if errors.As(err, &ue) {
		return err
	}
	return identity.NewUserError(op, username, err)
}
