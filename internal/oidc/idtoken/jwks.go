package idtoken

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/gatehouse/internal/autherr"
	"github.com/dropDatabas3/gatehouse/internal/cache"
	"github.com/dropDatabas3/gatehouse/internal/observability/logger"
	"github.com/dropDatabas3/gatehouse/internal/security/tokens"
)

// KeySource retrieves the provider's active signing key.
type KeySource interface {
	// SigningKey returns the RSA public key for the provider. jwksURI may
	// be empty, in which case it is derived from the issuer.
	SigningKey(ctx context.Context, issuer, jwksURI string) (*rsa.PublicKey, error)
}

const (
	jwksCachePrefix = "jwks:"
	jwksCacheTTL    = time.Hour
	maxJWKSSize     = 1 << 20
)

type jwk struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
	Kid string `json:"kid,omitempty"`
	N   string `json:"n"` // base64url modulus
	E   string `json:"e"` // base64url exponent
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

// CachedKeySource fetches a provider's JWKS over HTTP and caches the raw
// document. At most one active signing key is assumed: the first RSA entry
// wins, no kid matching.
type CachedKeySource struct {
	http  *http.Client
	cache cache.Cache
}

// NewKeySource builds a CachedKeySource.
func NewKeySource(c cache.Cache, timeout time.Duration) *CachedKeySource {
	return &CachedKeySource{
		http:  &http.Client{Timeout: timeout},
		cache: c,
	}
}

// NewKeySourceWithClient is the test hook.
func NewKeySourceWithClient(c cache.Cache, hc *http.Client) *CachedKeySource {
	return &CachedKeySource{http: hc, cache: c}
}

// JWKSEndpoint resolves the effective JWKS URL.
func JWKSEndpoint(issuer, jwksURI string) string {
	if strings.TrimSpace(jwksURI) != "" {
		return jwksURI
	}
	return strings.TrimRight(issuer, "/") + "/.well-known/jwks.json"
}

func (s *CachedKeySource) SigningKey(ctx context.Context, issuer, jwksURI string) (*rsa.PublicKey, error) {
	endpoint := JWKSEndpoint(issuer, jwksURI)
	key := jwksCachePrefix + tokens.SHA256Hex(endpoint)

	if b, ok := s.cache.Get(key); ok {
		var doc jwks
		if err := json.Unmarshal(b, &doc); err == nil {
			if pk, err := firstRSAKey(&doc); err == nil {
				return pk, nil
			}
		}
		s.cache.Delete(key)
	}

	body, err := s.fetch(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var doc jwks
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, autherr.Wrap(autherr.KindSignatureVerification, "jwks document is not valid JSON", err)
	}
	pk, err := firstRSAKey(&doc)
	if err != nil {
		return nil, err
	}

	s.cache.Set(key, body, jwksCacheTTL)
	return pk, nil
}

func (s *CachedKeySource) fetch(ctx context.Context, endpoint string) ([]byte, error) {
	log := logger.From(ctx).With(logger.Component("jwks"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindSignatureVerification, "invalid jwks url", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		log.Warn("jwks endpoint unreachable", logger.Endpoint(endpoint), logger.Err(err))
		return nil, autherr.Wrap(autherr.KindSignatureVerification, "jwks request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn("jwks request rejected", logger.Endpoint(endpoint), logger.Status(resp.StatusCode))
		return nil, autherr.Newf(autherr.KindSignatureVerification, "jwks endpoint returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxJWKSSize))
}

func firstRSAKey(doc *jwks) (*rsa.PublicKey, error) {
	for _, k := range doc.Keys {
		if !strings.EqualFold(k.Kty, "RSA") || k.N == "" || k.E == "" {
			continue
		}
		nb, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			continue
		}
		eb, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			continue
		}
		e := 0
		for _, b := range eb {
			e = (e << 8) | int(b)
		}
		if e == 0 {
			e = 65537
		}
		return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
	}
	return nil, autherr.New(autherr.KindSignatureVerification, "jwks document contains no usable RSA key")
}
