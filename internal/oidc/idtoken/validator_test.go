package idtoken

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/gatehouse/internal/autherr"
	"github.com/dropDatabas3/gatehouse/internal/cache/memory"
)

var (
	testNow    = time.Unix(1700000000, 0)
	testIssuer = "https://idp.example"
	testClient = "client-1"
)

type staticKeySource struct {
	key *rsa.PublicKey
	err error
}

func (s *staticKeySource) SigningKey(ctx context.Context, issuer, jwksURI string) (*rsa.PublicKey, error) {
	return s.key, s.err
}

func genKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating rsa key: %v", err)
	}
	return key
}

func seg(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal segment: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// mint builds a signed token with the given payload.
func mint(t *testing.T, key *rsa.PrivateKey, payload map[string]any) string {
	t.Helper()
	h := seg(t, map[string]string{"alg": "RS256", "typ": "JWT"})
	p := seg(t, payload)
	sig, err := jwtv5.SigningMethodRS256.Sign(h+"."+p, key)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return h + "." + p + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func basePayload() map[string]any {
	return map[string]any{
		"iss":   testIssuer,
		"aud":   testClient,
		"sub":   "abc123",
		"iat":   testNow.Add(-time.Minute).Unix(),
		"exp":   testNow.Add(time.Hour).Unix(),
		"email": "a@b.com",
	}
}

func newValidator(t *testing.T, keys KeySource, opts ...ValidatorOption) *Validator {
	t.Helper()
	opts = append([]ValidatorOption{WithClock(func() time.Time { return testNow })}, opts...)
	return NewValidator(keys, opts...)
}

func expected() Expected {
	return Expected{Issuer: testIssuer, Audience: testClient}
}

func TestValidate_Success(t *testing.T) {
	key := genKey(t)
	v := newValidator(t, &staticKeySource{key: &key.PublicKey})

	payload := basePayload()
	payload["department"] = "engineering"
	payload["preferred_username"] = "alice"

	claims, err := v.Validate(context.Background(), mint(t, key, payload), expected())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != "abc123" || claims.Email != "a@b.com" {
		t.Fatalf("claims = %+v", claims)
	}
	if claims.PreferredUsername != "alice" {
		t.Fatalf("preferred_username = %q", claims.PreferredUsername)
	}
	// Unknown claims land in Custom, known ones do not.
	if claims.Custom["department"] != "engineering" {
		t.Fatalf("custom claims = %v", claims.Custom)
	}
	if _, ok := claims.Custom["email"]; ok {
		t.Fatal("known claim leaked into Custom")
	}
}

func TestValidate_AlgNoneAlwaysRejected(t *testing.T) {
	v := newValidator(t, &staticKeySource{})

	for _, alg := range []string{"none", "None", "NONE"} {
		h := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"` + alg + `"}`))
		p := base64.RawURLEncoding.EncodeToString([]byte(`{"iss":"` + testIssuer + `","aud":"` + testClient + `","sub":"abc123"}`))
		tok := h + "." + p + ".sig"

		_, err := v.Validate(context.Background(), tok, expected())
		if !autherr.IsKind(err, autherr.KindInsecureAlgorithm) {
			t.Fatalf("alg %q: expected insecure algorithm error, got %v", alg, err)
		}
	}
}

func TestValidate_Malformed(t *testing.T) {
	v := newValidator(t, &staticKeySource{})

	for _, tok := range []string{
		"",
		"onlyone",
		"two.parts",
		"a.b.c.d",
		"..",
		"!!!.!!!.!!!", // not base64url
	} {
		_, err := v.Validate(context.Background(), tok, expected())
		if !autherr.IsKind(err, autherr.KindMalformedToken) {
			t.Fatalf("token %q: expected malformed token error, got %v", tok, err)
		}
	}
}

func TestValidate_PayloadNotJSON(t *testing.T) {
	v := newValidator(t, &staticKeySource{})
	h := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256"}`))
	p := base64.RawURLEncoding.EncodeToString([]byte(`{not json`))
	_, err := v.Validate(context.Background(), h+"."+p+".sig", expected())
	if !autherr.IsKind(err, autherr.KindMalformedToken) {
		t.Fatalf("expected malformed token error, got %v", err)
	}
}

func TestValidate_ClaimChecks(t *testing.T) {
	key := genKey(t)
	v := newValidator(t, &staticKeySource{key: &key.PublicKey})

	cases := []struct {
		name   string
		mutate func(p map[string]any)
		expect Expected
		kind   autherr.Kind
	}{
		{"issuer mismatch", func(p map[string]any) { p["iss"] = "https://evil.example" }, expected(), autherr.KindIssuerMismatch},
		{"issuer missing", func(p map[string]any) { delete(p, "iss") }, expected(), autherr.KindIssuerMismatch},
		{"audience missing", func(p map[string]any) { delete(p, "aud") }, expected(), autherr.KindAudienceMismatch},
		{"audience scalar mismatch", func(p map[string]any) { p["aud"] = "other-client" }, expected(), autherr.KindAudienceMismatch},
		{"audience list without client", func(p map[string]any) { p["aud"] = []string{"x", "y"} }, expected(), autherr.KindAudienceMismatch},
		{"subject missing", func(p map[string]any) { delete(p, "sub") }, expected(), autherr.KindMissingSubject},
		{"subject empty", func(p map[string]any) { p["sub"] = "" }, expected(), autherr.KindMissingSubject},
		{"nonce mismatch", func(p map[string]any) { p["nonce"] = "n-1" }, Expected{Issuer: testIssuer, Audience: testClient, Nonce: "n-2"}, autherr.KindNonceMismatch},
		{"nonce unexpected", func(p map[string]any) { p["nonce"] = "n-1" }, expected(), autherr.KindNonceMismatch},
	}
	for _, tc := range cases {
		payload := basePayload()
		tc.mutate(payload)
		_, err := v.Validate(context.Background(), mint(t, key, payload), tc.expect)
		if !autherr.IsKind(err, tc.kind) {
			t.Fatalf("%s: expected %s, got %v", tc.name, tc.kind, err)
		}
	}
}

func TestValidate_AudienceList(t *testing.T) {
	key := genKey(t)
	v := newValidator(t, &staticKeySource{key: &key.PublicKey})

	payload := basePayload()
	payload["aud"] = []string{"other", testClient}
	if _, err := v.Validate(context.Background(), mint(t, key, payload), expected()); err != nil {
		t.Fatalf("audience list membership should pass: %v", err)
	}
}

func TestValidate_NonceMatch(t *testing.T) {
	key := genKey(t)
	v := newValidator(t, &staticKeySource{key: &key.PublicKey})

	payload := basePayload()
	payload["nonce"] = "n-1"
	exp := Expected{Issuer: testIssuer, Audience: testClient, Nonce: "n-1"}
	if _, err := v.Validate(context.Background(), mint(t, key, payload), exp); err != nil {
		t.Fatalf("matching nonce should pass: %v", err)
	}
}

func TestValidate_ExpiryBoundary(t *testing.T) {
	key := genKey(t)
	v := newValidator(t, &staticKeySource{key: &key.PublicKey})

	// Exactly 300s in the past: still valid (boundary inclusive).
	payload := basePayload()
	payload["exp"] = testNow.Add(-ClockSkew).Unix()
	if _, err := v.Validate(context.Background(), mint(t, key, payload), expected()); err != nil {
		t.Fatalf("exp at skew boundary should pass: %v", err)
	}

	// One second past the boundary: expired.
	payload["exp"] = testNow.Add(-ClockSkew - time.Second).Unix()
	_, err := v.Validate(context.Background(), mint(t, key, payload), expected())
	if !autherr.IsKind(err, autherr.KindTokenExpired) {
		t.Fatalf("expected token expired, got %v", err)
	}
}

func TestValidate_NotYetValid(t *testing.T) {
	key := genKey(t)
	v := newValidator(t, &staticKeySource{key: &key.PublicKey})

	payload := basePayload()
	payload["nbf"] = testNow.Add(ClockSkew + time.Second).Unix()
	_, err := v.Validate(context.Background(), mint(t, key, payload), expected())
	if !autherr.IsKind(err, autherr.KindTokenNotYetValid) {
		t.Fatalf("expected not-yet-valid for future nbf, got %v", err)
	}

	payload = basePayload()
	payload["iat"] = testNow.Add(ClockSkew + time.Second).Unix()
	_, err = v.Validate(context.Background(), mint(t, key, payload), expected())
	if !autherr.IsKind(err, autherr.KindTokenNotYetValid) {
		t.Fatalf("expected not-yet-valid for future iat, got %v", err)
	}
}

func TestValidate_TamperedSignature(t *testing.T) {
	key := genKey(t)
	v := newValidator(t, &staticKeySource{key: &key.PublicKey})

	tok := mint(t, key, basePayload())
	// Swap in a payload the signature does not cover.
	tampered := basePayload()
	tampered["sub"] = "mallory"
	h := seg(t, map[string]string{"alg": "RS256", "typ": "JWT"})
	p := seg(t, tampered)
	forged := h + "." + p + "." + lastSegment(tok)

	_, err := v.Validate(context.Background(), forged, expected())
	if !autherr.IsKind(err, autherr.KindSignatureVerification) {
		t.Fatalf("expected signature verification error, got %v", err)
	}
}

func TestValidate_WrongKey(t *testing.T) {
	signingKey := genKey(t)
	otherKey := genKey(t)
	v := newValidator(t, &staticKeySource{key: &otherKey.PublicKey})

	_, err := v.Validate(context.Background(), mint(t, signingKey, basePayload()), expected())
	if !autherr.IsKind(err, autherr.KindSignatureVerification) {
		t.Fatalf("expected signature verification error, got %v", err)
	}
}

func TestValidate_KeyUnavailableFailsClosed(t *testing.T) {
	key := genKey(t)
	src := &staticKeySource{err: autherr.New(autherr.KindSignatureVerification, "jwks unreachable")}
	v := newValidator(t, src)

	_, err := v.Validate(context.Background(), mint(t, key, basePayload()), expected())
	if !autherr.IsKind(err, autherr.KindSignatureVerification) {
		t.Fatalf("expected fail-closed signature error, got %v", err)
	}
}

func TestValidate_KeyUnavailableFailOpenOptIn(t *testing.T) {
	key := genKey(t)
	src := &staticKeySource{err: autherr.New(autherr.KindSignatureVerification, "jwks unreachable")}
	v := newValidator(t, src, WithFailOpen(true))

	claims, err := v.Validate(context.Background(), mint(t, key, basePayload()), expected())
	if err != nil {
		t.Fatalf("fail-open should accept the token: %v", err)
	}
	if claims.Subject != "abc123" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestValidate_UnsupportedAlgorithm(t *testing.T) {
	v := newValidator(t, &staticKeySource{})

	h := seg(t, map[string]string{"alg": "HS256"})
	p := seg(t, basePayload())
	_, err := v.Validate(context.Background(), h+"."+p+".c2ln", expected())
	if !autherr.IsKind(err, autherr.KindSignatureVerification) {
		t.Fatalf("expected unsupported-algorithm signature error, got %v", err)
	}
}

func TestFromUserinfo(t *testing.T) {
	c, err := FromUserinfo(map[string]any{
		"sub": "abc123", "email": "a@b.com", "plan": "pro",
	})
	if err != nil {
		t.Fatalf("from userinfo: %v", err)
	}
	if c.Subject != "abc123" || c.Custom["plan"] != "pro" {
		t.Fatalf("claims = %+v", c)
	}

	if _, err := FromUserinfo(map[string]any{"email": "a@b.com"}); !autherr.IsKind(err, autherr.KindMissingSubject) {
		t.Fatalf("expected missing subject, got %v", err)
	}
}

func TestCachedKeySource(t *testing.T) {
	key := genKey(t)
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.URL.Path != "/.well-known/jwks.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString([]byte{0x01, 0x00, 0x01}),
			}},
		})
	}))
	defer srv.Close()

	src := NewKeySource(memory.New(time.Minute), 10*time.Second)

	pk, err := src.SigningKey(context.Background(), srv.URL, "")
	if err != nil {
		t.Fatalf("signing key: %v", err)
	}
	if pk.N.Cmp(key.PublicKey.N) != 0 || pk.E != key.PublicKey.E {
		t.Fatal("reconstructed key differs from served key")
	}

	if _, err := src.SigningKey(context.Background(), srv.URL, ""); err != nil {
		t.Fatalf("cached signing key: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected one jwks fetch, got %d", hits)
	}
}

func TestCachedKeySource_NoUsableKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{"kty": "EC"}}})
	}))
	defer srv.Close()

	src := NewKeySource(memory.New(time.Minute), 10*time.Second)
	_, err := src.SigningKey(context.Background(), srv.URL, "")
	if !autherr.IsKind(err, autherr.KindSignatureVerification) {
		t.Fatalf("expected signature verification error, got %v", err)
	}
}

func lastSegment(tok string) string {
	for i := len(tok) - 1; i >= 0; i-- {
		if tok[i] == '.' {
			return tok[i+1:]
		}
	}
	return tok
}
