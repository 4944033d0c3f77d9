// Package flow drives the authorization-code login from the first redirect
// to a resolved local account.
package flow

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/gatehouse/internal/autherr"
	"github.com/dropDatabas3/gatehouse/internal/config"
	"github.com/dropDatabas3/gatehouse/internal/identity"
	"github.com/dropDatabas3/gatehouse/internal/metrics"
	"github.com/dropDatabas3/gatehouse/internal/observability/logger"
	"github.com/dropDatabas3/gatehouse/internal/oidc/discovery"
	"github.com/dropDatabas3/gatehouse/internal/oidc/idtoken"
	"github.com/dropDatabas3/gatehouse/internal/oidc/token"
	"github.com/dropDatabas3/gatehouse/internal/security/tokens"
)

// stateBytes sizes the state and nonce values: 16 random bytes each.
const stateBytes = 16

// IdentityResolver is either the policy resolver or the static one.
type IdentityResolver interface {
	Resolve(ctx context.Context, claims *idtoken.Claims) (*identity.Resolved, error)
}

// Flow wires the login pipeline together. Stateless between calls except
// for the pending-state store; safe for concurrent attempts.
type Flow struct {
	cfg        *config.Settings
	providers  *discovery.Resolver
	exchanger  *token.Exchanger
	validator  *idtoken.Validator
	identities IdentityResolver
	states     *StateStore
}

func New(cfg *config.Settings, providers *discovery.Resolver, exchanger *token.Exchanger,
	validator *idtoken.Validator, identities IdentityResolver, states *StateStore) *Flow {
	return &Flow{
		cfg:        cfg,
		providers:  providers,
		exchanger:  exchanger,
		validator:  validator,
		identities: identities,
		states:     states,
	}
}

// Callback carries the query parameters the provider sent back.
type Callback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// Pending is the half of an authorization round-trip the host must keep
// with the browser session that started it, and hand back to Complete.
// Complete refuses a callback whose state does not match its Pending, so a
// state issued to one session cannot finish a login in another.
type Pending struct {
	State string
	Nonce string
}

// Start issues state and nonce, records them, and returns the provider
// authorization URL to redirect the user to, plus the Pending the host
// must stash session-side for the callback.
func (f *Flow) Start(ctx context.Context) (string, *Pending, error) {
	if !f.cfg.EnableLogin {
		return "", nil, autherr.New(autherr.KindConfiguration, "external login is disabled")
	}
	provider, err := f.provider(ctx)
	if err != nil {
		return "", nil, err
	}
	if !provider.SupportsAuthorizationCode() {
		return "", nil, autherr.New(autherr.KindDiscovery, "provider does not support the authorization code flow")
	}

	state, err := tokens.GenerateOpaqueToken(stateBytes)
	if err != nil {
		return "", nil, autherr.Wrap(autherr.KindConfiguration, "state generation failed", err)
	}
	nonce, err := tokens.GenerateOpaqueToken(stateBytes)
	if err != nil {
		return "", nil, autherr.Wrap(autherr.KindConfiguration, "nonce generation failed", err)
	}
	f.states.Put(state, nonce)

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", f.cfg.ClientID)
	q.Set("redirect_uri", f.cfg.RedirectURI)
	q.Set("scope", strings.Join(f.cfg.Scope, " "))
	q.Set("state", state)
	q.Set("nonce", nonce)

	sep := "?"
	if strings.Contains(provider.AuthorizationEndpoint, "?") {
		sep = "&"
	}
	return provider.AuthorizationEndpoint + sep + q.Encode(), &Pending{State: state, Nonce: nonce}, nil
}

// Complete handles the provider callback: state first, then the code
// exchange, token validation, and identity resolution. The callback state
// must match the Pending stashed by the session that called Start, and the
// state is consumed before any network call, so both a cross-session
// callback and a replay fail even when the later steps would have failed
// too.
func (f *Flow) Complete(ctx context.Context, cb Callback, pending Pending) (*identity.Resolved, error) {
	metrics.LoginAttempts.Inc()
	res, err := f.complete(ctx, cb, pending)
	if err != nil {
		metrics.LoginFailures.WithLabelValues(string(autherr.KindOf(err))).Inc()
		return nil, err
	}
	metrics.LoginSuccesses.Inc()
	return res, nil
}

func (f *Flow) complete(ctx context.Context, cb Callback, pending Pending) (*identity.Resolved, error) {
	log := logger.From(ctx).With(logger.Component("flow"))
	start := time.Now()

	if pending.State == "" || cb.State != pending.State {
		return nil, autherr.New(autherr.KindCSRF, "state was not issued to this session")
	}
	nonce, ok := f.states.Consume(cb.State)
	if !ok {
		return nil, autherr.New(autherr.KindCSRF, "state is unknown, expired, or already used")
	}
	if nonce != pending.Nonce {
		return nil, autherr.New(autherr.KindCSRF, "nonce was not issued with this state")
	}

	if cb.Error != "" {
		log.Info("provider denied the authorization",
			logger.String("provider_error", cb.Error),
			logger.String("provider_error_description", cb.ErrorDescription))
		return nil, autherr.Newf(autherr.KindProviderDenied, "provider returned %s", cb.Error)
	}
	if cb.Code == "" {
		return nil, autherr.New(autherr.KindProviderDenied, "callback carries no authorization code")
	}

	provider, err := f.provider(ctx)
	if err != nil {
		return nil, err
	}

	tr, err := f.exchanger.Exchange(ctx, provider, token.Input{
		Code:         cb.Code,
		ClientID:     f.cfg.ClientID,
		ClientSecret: f.cfg.ClientSecret,
		RedirectURI:  f.cfg.RedirectURI,
		Scope:        f.cfg.Scope,
	})
	if err != nil {
		return nil, err
	}

	claims, err := f.claims(ctx, provider, tr, nonce)
	if err != nil {
		return nil, err
	}

	res, err := f.identities.Resolve(ctx, claims)
	if err != nil {
		return nil, err
	}

	log.Info("login completed",
		logger.UserID(res.User.ID),
		logger.Subject(claims.Subject),
		logger.Bool("provisioned", res.Provisioned),
		logger.Duration(time.Since(start)))
	return res, nil
}

// claims validates the ID token when one was issued; otherwise it falls
// back to the userinfo endpoint, which some providers use exclusively.
func (f *Flow) claims(ctx context.Context, provider *discovery.ProviderConfig, tr *token.Response, nonce string) (*idtoken.Claims, error) {
	if tr.IDToken != "" {
		return f.validator.Validate(ctx, tr.IDToken, idtoken.Expected{
			Issuer:   provider.Issuer,
			Audience: f.cfg.ClientID,
			Nonce:    nonce,
			JWKSURI:  provider.JWKSURI,
		})
	}
	ui, err := f.exchanger.Userinfo(ctx, provider, tr.AccessToken)
	if err != nil {
		return nil, err
	}
	return idtoken.FromUserinfo(ui)
}

// provider resolves the active provider configuration: discovery when a
// discovery URL is set, otherwise the manual endpoint layout.
func (f *Flow) provider(ctx context.Context) (*discovery.ProviderConfig, error) {
	if f.cfg.DiscoveryURL != "" {
		return f.providers.Resolve(ctx, f.cfg.DiscoveryURL)
	}
	return discovery.FromManualBase(f.cfg.OAuthURL)
}
