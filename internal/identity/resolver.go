package identity

import (
	"context"
	"errors"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/gatehouse/internal/autherr"
	"github.com/dropDatabas3/gatehouse/internal/observability/logger"
	"github.com/dropDatabas3/gatehouse/internal/oidc/idtoken"
	"github.com/dropDatabas3/gatehouse/internal/security/password"
	"github.com/dropDatabas3/gatehouse/internal/util"
)

// Policy controls what Resolve may do when no link exists yet.
type Policy struct {
	// Provider is the key stored on links, e.g. "oidc" or "keycloak".
	Provider string

	// AutoLink attaches the external identity to an existing account with
	// the same email address.
	AutoLink bool

	// AutoProvision creates a fresh local account when nothing matches.
	AutoProvision bool
}

// Notifier is told about accounts created during resolution. Failures are
// logged, never surfaced: the login already succeeded.
type Notifier interface {
	Welcome(ctx context.Context, u *User) error
}

// Resolver applies the link / auto-link / provision policy.
type Resolver struct {
	users    UserStore
	links    LinkStore
	policy   Policy
	notifier Notifier
	now      func() time.Time
}

type ResolverOption func(*Resolver)

// WithNotifier wires a welcome notifier for provisioned accounts.
func WithNotifier(n Notifier) ResolverOption {
	return func(r *Resolver) { r.notifier = n }
}

// WithResolverClock injects a time source (tests).
func WithResolverClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

func NewResolver(users UserStore, links LinkStore, policy Policy, opts ...ResolverOption) *Resolver {
	r := &Resolver{users: users, links: links, policy: policy, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve maps verified claims to a local account: existing link first,
// then auto-link by email, then provisioning, each gated by policy. Two
// concurrent resolutions of the same identity converge on one link; the
// loser of the create race re-reads the winner's row.
func (r *Resolver) Resolve(ctx context.Context, claims *idtoken.Claims) (*Resolved, error) {
	if claims == nil || claims.Subject == "" {
		return nil, autherr.New(autherr.KindIdentityResolution, "claims carry no subject")
	}
	log := logger.From(ctx).With(
		logger.Component("identity"),
		logger.Provider(r.policy.Provider),
		logger.Subject(claims.Subject),
	)

	link, err := r.links.ByProviderSubject(ctx, r.policy.Provider, claims.Subject)
	switch {
	case err == nil:
		return r.returning(ctx, log, link, claims)
	case errors.Is(err, ErrNotFound):
		// fall through to policy
	default:
		return nil, autherr.Wrap(autherr.KindIdentityResolution, "link lookup failed", err)
	}

	if r.policy.AutoLink && claims.Email != "" {
		res, err := r.autoLink(ctx, log, claims)
		if err == nil || !errors.Is(err, ErrNotFound) {
			return res, err
		}
	}

	if r.policy.AutoProvision {
		return r.provision(ctx, log, claims)
	}

	return nil, autherr.Newf(autherr.KindIdentityResolution,
		"no local account for subject and provisioning is disabled")
}

// returning handles the established-link path: refresh the stored profile
// snapshot when claims changed and record the login time.
func (r *Resolver) returning(ctx context.Context, log *zap.Logger, link *Link, claims *idtoken.Claims) (*Resolved, error) {
	u, err := r.users.ByID(ctx, link.UserID)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindIdentityResolution, "linked user missing", err)
	}

	if changed := r.refreshLink(link, claims); changed {
		if err := r.links.Update(ctx, link); err != nil {
			log.Warn("link profile refresh failed", logger.Err(err))
		}
	}
	if len(claims.Custom) > 0 && !reflect.DeepEqual(u.Metadata, claims.Custom) {
		u.Metadata = claims.Custom
		if err := r.users.Update(ctx, u); err != nil {
			log.Warn("user metadata refresh failed", logger.Err(err))
		}
	}
	now := r.now()
	if err := r.links.Touch(ctx, link.Provider, link.Subject, now); err != nil {
		log.Warn("link touch failed", logger.Err(err))
	}
	link.LastLoginAt = now

	log.Debug("resolved via existing link", logger.UserID(u.ID))
	return &Resolved{User: u, Link: link}, nil
}

func (r *Resolver) autoLink(ctx context.Context, log *zap.Logger, claims *idtoken.Claims) (*Resolved, error) {
	u, err := r.users.ByEmail(ctx, claims.Email)
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, autherr.Wrap(autherr.KindIdentityResolution, "email lookup failed", err)
	}

	link, err := r.createLink(ctx, u.ID, claims)
	if err != nil {
		return nil, err
	}
	log.Info("external identity linked to existing account",
		logger.UserID(u.ID), logger.EmailMasked(util.MaskEmail(claims.Email)))
	return &Resolved{User: u, Link: link, LinkCreated: true}, nil
}

func (r *Resolver) provision(ctx context.Context, log *zap.Logger, claims *idtoken.Claims) (*Resolved, error) {
	username, err := freeUsername(ctx, r.users, claims)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindIdentityResolution, "username derivation failed", err)
	}
	hash, err := password.RandomUnusable(password.Default)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindIdentityResolution, "password generation failed", err)
	}

	now := r.now()
	u := &User{
		Username:     username,
		Email:        claims.Email,
		DisplayName:  displayName(claims, username),
		PasswordHash: hash,
		Metadata:     claims.Custom,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.users.Create(ctx, u); err != nil {
		if errors.Is(err, ErrConflict) {
			// Lost a race on username or email. Re-run the whole
			// resolution once: the winner may have created our link too.
			return r.resolveAfterRace(ctx, claims)
		}
		return nil, autherr.Wrap(autherr.KindIdentityResolution, "user creation failed", err)
	}

	link, err := r.createLink(ctx, u.ID, claims)
	if err != nil {
		return nil, err
	}

	log.Info("account provisioned",
		logger.UserID(u.ID), logger.Username(username),
		logger.EmailMasked(util.MaskEmail(claims.Email)))

	if r.notifier != nil {
		if err := r.notifier.Welcome(ctx, u); err != nil {
			log.Warn("welcome notification failed", logger.Err(err))
		}
	}
	return &Resolved{User: u, Link: link, Provisioned: true, LinkCreated: true}, nil
}

// createLink inserts the link, treating a conflict as another process
// having linked the same identity first: its row wins.
func (r *Resolver) createLink(ctx context.Context, userID string, claims *idtoken.Claims) (*Link, error) {
	now := r.now()
	link := &Link{
		UserID:      userID,
		Provider:    r.policy.Provider,
		Subject:     claims.Subject,
		Email:       claims.Email,
		Name:        claims.Name,
		Picture:     claims.Picture,
		CreatedAt:   now,
		LastLoginAt: now,
	}
	err := r.links.Create(ctx, link)
	if errors.Is(err, ErrConflict) {
		existing, err2 := r.links.ByProviderSubject(ctx, r.policy.Provider, claims.Subject)
		if err2 != nil {
			return nil, autherr.Wrap(autherr.KindIdentityResolution, "link re-read after conflict failed", err2)
		}
		return existing, nil
	}
	if err != nil {
		return nil, autherr.Wrap(autherr.KindIdentityResolution, "link creation failed", err)
	}
	return link, nil
}

func (r *Resolver) resolveAfterRace(ctx context.Context, claims *idtoken.Claims) (*Resolved, error) {
	link, err := r.links.ByProviderSubject(ctx, r.policy.Provider, claims.Subject)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindIdentityResolution, "provisioning race lost and no link found", err)
	}
	u, err := r.users.ByID(ctx, link.UserID)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindIdentityResolution, "linked user missing after race", err)
	}
	return &Resolved{User: u, Link: link}, nil
}

// refreshLink copies changed profile claims onto the stored link snapshot.
func (r *Resolver) refreshLink(link *Link, claims *idtoken.Claims) bool {
	changed := false
	if claims.Email != "" && claims.Email != link.Email {
		link.Email = claims.Email
		changed = true
	}
	if claims.Name != "" && claims.Name != link.Name {
		link.Name = claims.Name
		changed = true
	}
	if claims.Picture != "" && claims.Picture != link.Picture {
		link.Picture = claims.Picture
		changed = true
	}
	return changed
}

// Unlink removes the caller's link for the resolver's provider.
func (r *Resolver) Unlink(ctx context.Context, userID string) error {
	link, err := r.links.ByUser(ctx, userID, r.policy.Provider)
	if errors.Is(err, ErrNotFound) {
		return autherr.New(autherr.KindIdentityResolution, "account has no link for this provider")
	}
	if err != nil {
		return autherr.Wrap(autherr.KindIdentityResolution, "link lookup failed", err)
	}
	if err := r.links.Delete(ctx, link.Provider, link.Subject); err != nil {
		return autherr.Wrap(autherr.KindIdentityResolution, "unlink failed", err)
	}
	return nil
}

func displayName(c *idtoken.Claims, fallback string) string {
	if c.Name != "" {
		return c.Name
	}
	if c.GivenName != "" || c.FamilyName != "" {
		if c.GivenName == "" {
			return c.FamilyName
		}
		if c.FamilyName == "" {
			return c.GivenName
		}
		return c.GivenName + " " + c.FamilyName
	}
	return fallback
}
