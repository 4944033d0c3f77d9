// Package idtoken validates ID tokens: structure, algorithm, claims, time
// window, and signature against the provider's published key.
package idtoken

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/gatehouse/internal/autherr"
	"github.com/dropDatabas3/gatehouse/internal/observability/logger"
)

// ClockSkew is the fixed tolerance applied to iat/exp/nbf checks.
const ClockSkew = 300 * time.Second

// Validator verifies ID tokens. One instance serves all attempts; it holds
// no per-attempt state.
type Validator struct {
	keys KeySource

	// failOpen skips signature verification when the signing key cannot be
	// retrieved, matching the legacy plugin behavior. Default is false:
	// the attempt fails closed. Every fail-open pass logs a warning.
	failOpen bool

	now func() time.Time
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithFailOpen restores the legacy skip-verification-on-key-failure
// behavior. Do not enable outside environments that knowingly accept it.
func WithFailOpen(v bool) ValidatorOption {
	return func(val *Validator) { val.failOpen = v }
}

// WithClock injects a time source (tests).
func WithClock(now func() time.Time) ValidatorOption {
	return func(val *Validator) { val.now = now }
}

// NewValidator builds a Validator over the given key source.
func NewValidator(keys KeySource, opts ...ValidatorOption) *Validator {
	v := &Validator{keys: keys, now: time.Now}
	for _, o := range opts {
		o(v)
	}
	return v
}

type header struct {
	Alg string `json:"alg"`
	Kid string `json:"kid,omitempty"`
	Typ string `json:"typ,omitempty"`
}

// Expected carries the per-attempt verification inputs. Nonce is the value
// recorded at authorization time; it is only compared when the token
// carries a nonce claim. JWKSURI may be empty (derived from the issuer).
type Expected struct {
	Issuer   string
	Audience string
	Nonce    string
	JWKSURI  string
}

// Validate runs the full check sequence and returns the verified claims.
func (v *Validator) Validate(ctx context.Context, raw string, expect Expected) (*Claims, error) {
	log := logger.From(ctx).With(logger.Component("idtoken"))

	// 1. Structure: exactly three non-empty segments.
	parts := strings.Split(raw, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, autherr.New(autherr.KindMalformedToken, "token does not have three segments")
	}

	// 2. Header: declared algorithm must not be "none", ever.
	hb, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, autherr.Wrap(autherr.KindMalformedToken, "header is not base64url", err)
	}
	var hdr header
	if err := json.Unmarshal(hb, &hdr); err != nil {
		return nil, autherr.Wrap(autherr.KindMalformedToken, "header is not valid JSON", err)
	}
	if hdr.Alg == "" || strings.EqualFold(hdr.Alg, "none") {
		return nil, autherr.New(autherr.KindInsecureAlgorithm, "token algorithm is none")
	}

	// 3. Payload decode.
	pb, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, autherr.Wrap(autherr.KindMalformedToken, "payload is not base64url", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(pb, &payload); err != nil {
		return nil, autherr.Wrap(autherr.KindMalformedToken, "payload is not valid JSON", err)
	}

	claims := claimsFromMap(payload)

	// 4. Claim checks, fixed order, first failure wins.
	if claims.Issuer == "" || claims.Issuer != expect.Issuer {
		return nil, autherr.Newf(autherr.KindIssuerMismatch, "issuer %q does not match %q", claims.Issuer, expect.Issuer)
	}
	if len(claims.Audience) == 0 {
		return nil, autherr.New(autherr.KindAudienceMismatch, "token has no audience")
	}
	if !containsString(claims.Audience, expect.Audience) {
		return nil, autherr.Newf(autherr.KindAudienceMismatch, "audience does not include client %q", expect.Audience)
	}
	if claims.Subject == "" {
		return nil, autherr.New(autherr.KindMissingSubject, "token has no subject")
	}
	if _, present := payload["nonce"]; present {
		if claims.Nonce != expect.Nonce || expect.Nonce == "" {
			return nil, autherr.New(autherr.KindNonceMismatch, "nonce does not match authorization request")
		}
	}

	// 5. Time window, +-300s, boundaries inclusive.
	now := v.now()
	if !claims.IssuedAt.IsZero() && claims.IssuedAt.After(now.Add(ClockSkew)) {
		return nil, autherr.New(autherr.KindTokenNotYetValid, "token issued in the future")
	}
	if !claims.ExpiresAt.IsZero() && claims.ExpiresAt.Before(now.Add(-ClockSkew)) {
		return nil, autherr.New(autherr.KindTokenExpired, "token expired")
	}
	if !claims.NotBefore.IsZero() && claims.NotBefore.After(now.Add(ClockSkew)) {
		return nil, autherr.New(autherr.KindTokenNotYetValid, "token not yet valid")
	}

	// 6. Signature.
	if err := v.verifySignature(ctx, hdr, parts, expect); err != nil {
		return nil, err
	}

	log.Debug("id token validated", logger.Issuer(claims.Issuer), logger.Subject(claims.Subject))
	return claims, nil
}

func (v *Validator) verifySignature(ctx context.Context, hdr header, parts []string, expect Expected) error {
	log := logger.From(ctx).With(logger.Component("idtoken"))

	method := jwtv5.GetSigningMethod(hdr.Alg)
	rsaMethod, ok := method.(*jwtv5.SigningMethodRSA)
	if method == nil || !ok {
		return autherr.Newf(autherr.KindSignatureVerification, "unsupported signing algorithm %q", hdr.Alg)
	}

	key, err := v.keys.SigningKey(ctx, expect.Issuer, expect.JWKSURI)
	if err != nil {
		if v.failOpen {
			// Legacy behavior: proceed without verification when the
			// key is unavailable. Guarded behind an explicit option.
			log.Warn("signing key unavailable, accepting token unverified (fail-open enabled)",
				logger.Issuer(expect.Issuer), logger.Err(err))
			return nil
		}
		return autherr.Wrap(autherr.KindSignatureVerification, "signing key unavailable", err)
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return autherr.Wrap(autherr.KindMalformedToken, "signature is not base64url", err)
	}
	if err := rsaMethod.Verify(parts[0]+"."+parts[1], sig, key); err != nil {
		return autherr.Wrap(autherr.KindSignatureVerification, "signature verification failed", err)
	}
	return nil
}

// FromUserinfo builds Claims from a userinfo document for deployments
// whose provider returns no ID token. Only sub is mandatory; callers did
// bearer-token auth already, so no further validation applies.
func FromUserinfo(ui map[string]any) (*Claims, error) {
	c := claimsFromMap(ui)
	if c.Subject == "" {
		return nil, autherr.New(autherr.KindMissingSubject, "userinfo has no subject")
	}
	return c, nil
}

func containsString(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}
