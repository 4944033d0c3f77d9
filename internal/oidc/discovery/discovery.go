// Package discovery resolves and caches OIDC provider metadata.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/gatehouse/internal/autherr"
	"github.com/dropDatabas3/gatehouse/internal/cache"
	"github.com/dropDatabas3/gatehouse/internal/metrics"
	"github.com/dropDatabas3/gatehouse/internal/observability/logger"
	"github.com/dropDatabas3/gatehouse/internal/security/tokens"
)

// CacheTTL is how long a validated provider config stays cached.
const CacheTTL = time.Hour

const cachePrefix = "discovery:"

// maxDocumentSize bounds the discovery document body read.
const maxDocumentSize = 1 << 20

// ProviderConfig is a validated provider discovery document. Immutable once
// resolved; identified by its source discovery URL.
type ProviderConfig struct {
	Issuer                  string   `json:"issuer"`
	AuthorizationEndpoint   string   `json:"authorization_endpoint"`
	TokenEndpoint           string   `json:"token_endpoint"`
	UserinfoEndpoint        string   `json:"userinfo_endpoint"`
	JWKSURI                 string   `json:"jwks_uri,omitempty"`
	ResponseTypesSupported  []string `json:"response_types_supported,omitempty"`
	SubjectTypesSupported   []string `json:"subject_types_supported,omitempty"`
	GrantTypesSupported     []string `json:"grant_types_supported,omitempty"`
	IDTokenSigningAlgValues []string `json:"id_token_signing_alg_values_supported,omitempty"`
	ClaimsSupported         []string `json:"claims_supported,omitempty"`
	ScopesSupported         []string `json:"scopes_supported,omitempty"`
}

// SupportsAuthorizationCode reports whether "code" is an advertised
// response type.
func (p *ProviderConfig) SupportsAuthorizationCode() bool {
	for _, rt := range p.ResponseTypesSupported {
		if rt == "code" {
			return true
		}
	}
	return false
}

// SupportsRefreshToken reports whether the provider advertises the
// refresh_token grant.
func (p *ProviderConfig) SupportsRefreshToken() bool {
	for _, gt := range p.GrantTypesSupported {
		if gt == "refresh_token" {
			return true
		}
	}
	return false
}

// Resolver fetches, validates, and caches provider metadata.
type Resolver struct {
	http  *http.Client
	cache cache.Cache

	// allowInsecure skips the https requirement on endpoint URLs.
	// Local development only.
	allowInsecure bool

	ttl time.Duration
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient replaces the outbound client (tests, custom TLS).
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.http = c }
}

// WithInsecureHTTP permits plain-http provider endpoints.
func WithInsecureHTTP(allow bool) Option {
	return func(r *Resolver) { r.allowInsecure = allow }
}

// WithTTL overrides the cache TTL (tests).
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) { r.ttl = ttl }
}

// NewResolver builds a Resolver over the given cache.
func NewResolver(c cache.Cache, opts ...Option) *Resolver {
	r := &Resolver{
		http:  &http.Client{Timeout: 15 * time.Second},
		cache: c,
		ttl:   CacheTTL,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func cacheKey(discoveryURL string) string {
	return cachePrefix + tokens.SHA256Hex(discoveryURL)
}

// Resolve returns the provider config for discoveryURL, from cache when an
// unexpired entry exists (no network call), fetching and validating
// otherwise. Concurrent resolutions of an uncached URL may each fetch;
// the fetch is idempotent and bounded, so no stampede guard is applied.
func (r *Resolver) Resolve(ctx context.Context, discoveryURL string) (*ProviderConfig, error) {
	log := logger.From(ctx).With(logger.Component("discovery"))

	key := cacheKey(discoveryURL)
	if b, ok := r.cache.Get(key); ok {
		var pc ProviderConfig
		if err := json.Unmarshal(b, &pc); err == nil {
			metrics.DiscoveryCacheHits.Inc()
			return &pc, nil
		}
		// Corrupt entry: drop it and fall through to a fresh fetch.
		r.cache.Delete(key)
	}
	metrics.DiscoveryCacheMisses.Inc()

	pc, err := r.fetch(ctx, discoveryURL)
	if err != nil {
		log.Warn("discovery fetch failed", logger.Endpoint(discoveryURL), logger.Err(err))
		return nil, err
	}
	if err := r.validate(pc); err != nil {
		log.Warn("discovery document invalid", logger.Endpoint(discoveryURL), logger.Err(err))
		return nil, err
	}
	applyDefaults(pc)

	if b, err := json.Marshal(pc); err == nil {
		r.cache.Set(key, b, r.ttl)
	}

	log.Info("discovery document resolved",
		logger.Endpoint(discoveryURL),
		logger.Issuer(pc.Issuer),
	)
	return pc, nil
}

// Clear evicts the cached entry for discoveryURL, or every cached entry
// when discoveryURL is empty.
func (r *Resolver) Clear(discoveryURL string) {
	if discoveryURL == "" {
		r.cache.Flush()
		return
	}
	r.cache.Delete(cacheKey(discoveryURL))
}

func (r *Resolver) fetch(ctx context.Context, discoveryURL string) (*ProviderConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindDiscovery, "invalid discovery url", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindDiscovery, "discovery request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, autherr.Newf(autherr.KindDiscovery, "discovery returned status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "json") {
		return nil, autherr.Newf(autherr.KindDiscovery, "discovery content-type %q is not JSON", ct)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, autherr.Wrap(autherr.KindDiscovery, "reading discovery body", err)
	}

	var pc ProviderConfig
	if err := json.Unmarshal(body, &pc); err != nil {
		return nil, autherr.Wrap(autherr.KindDiscovery, "discovery body is not valid JSON", err)
	}
	return &pc, nil
}

func (r *Resolver) validate(pc *ProviderConfig) error {
	required := []struct {
		name  string
		value string
	}{
		{"issuer", pc.Issuer},
		{"authorization_endpoint", pc.AuthorizationEndpoint},
		{"token_endpoint", pc.TokenEndpoint},
		{"userinfo_endpoint", pc.UserinfoEndpoint},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return autherr.Newf(autherr.KindDiscovery, "discovery document missing required field %s", f.name)
		}
		u, err := url.Parse(f.value)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return autherr.Newf(autherr.KindDiscovery, "discovery field %s is not an absolute URL: %s", f.name, f.value)
		}
		if !r.allowInsecure && u.Scheme != "https" {
			return autherr.Newf(autherr.KindDiscovery, "discovery field %s must use https: %s", f.name, f.value)
		}
	}
	return nil
}

func applyDefaults(pc *ProviderConfig) {
	if len(pc.ResponseTypesSupported) == 0 {
		pc.ResponseTypesSupported = []string{"code"}
	}
	if len(pc.SubjectTypesSupported) == 0 {
		pc.SubjectTypesSupported = []string{"public"}
	}
	if len(pc.IDTokenSigningAlgValues) == 0 {
		pc.IDTokenSigningAlgValues = []string{"RS256"}
	}
}

// FromManualBase derives a ProviderConfig from a manual OAuth base URL, the
// fallback used when no discovery document is configured. The provider is
// assumed to expose the conventional /oauth2/* endpoint layout.
func FromManualBase(oauthURL string) (*ProviderConfig, error) {
	base := strings.TrimRight(strings.TrimSpace(oauthURL), "/")
	if base == "" {
		return nil, autherr.New(autherr.KindConfiguration, "oauth base url is empty")
	}
	u, err := url.Parse(base)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, autherr.Newf(autherr.KindConfiguration, "oauth base url is not absolute: %s", oauthURL)
	}
	pc := &ProviderConfig{
		Issuer:                fmt.Sprintf("%s://%s", u.Scheme, u.Host),
		AuthorizationEndpoint: base + "/oauth2/authorize",
		TokenEndpoint:         base + "/oauth2/token",
		UserinfoEndpoint:      base + "/oauth2/userinfo",
	}
	applyDefaults(pc)
	return pc, nil
}
