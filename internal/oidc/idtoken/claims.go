package idtoken

import "time"

// Claims are the verified assertions of an ID token or userinfo document.
// Subject plus the configured provider key uniquely identifies the
// external identity.
type Claims struct {
	Subject  string
	Issuer   string
	Audience []string

	IssuedAt  time.Time // zero when absent
	ExpiresAt time.Time // zero when absent
	NotBefore time.Time // zero when absent
	Nonce     string

	Email             string
	EmailVerified     bool
	Name              string
	GivenName         string
	FamilyName        string
	PreferredUsername string
	Picture           string
	Locale            string

	// Custom holds every claim outside the known profile set, forwarded
	// untouched to the identity resolver.
	Custom map[string]any
}

// knownClaims is the set that maps onto typed fields; everything else goes
// to Custom.
var knownClaims = map[string]struct{}{
	"iss": {}, "aud": {}, "sub": {}, "iat": {}, "exp": {}, "nbf": {},
	"nonce": {}, "azp": {}, "at_hash": {},
	"email": {}, "email_verified": {}, "name": {}, "given_name": {},
	"family_name": {}, "preferred_username": {}, "picture": {}, "locale": {},
}

// claimsFromMap builds Claims out of a decoded payload or userinfo map.
// No validation happens here; callers check what they need first.
func claimsFromMap(m map[string]any) *Claims {
	c := &Claims{
		Subject:           strClaim(m, "sub"),
		Issuer:            strClaim(m, "iss"),
		Audience:          audClaim(m["aud"]),
		Nonce:             strClaim(m, "nonce"),
		Email:             strClaim(m, "email"),
		EmailVerified:     boolClaim(m, "email_verified"),
		Name:              strClaim(m, "name"),
		GivenName:         strClaim(m, "given_name"),
		FamilyName:        strClaim(m, "family_name"),
		PreferredUsername: strClaim(m, "preferred_username"),
		Picture:           strClaim(m, "picture"),
		Locale:            strClaim(m, "locale"),
	}
	if v, ok := numClaim(m, "iat"); ok {
		c.IssuedAt = time.Unix(v, 0)
	}
	if v, ok := numClaim(m, "exp"); ok {
		c.ExpiresAt = time.Unix(v, 0)
	}
	if v, ok := numClaim(m, "nbf"); ok {
		c.NotBefore = time.Unix(v, 0)
	}
	for k, v := range m {
		if _, known := knownClaims[k]; known {
			continue
		}
		if c.Custom == nil {
			c.Custom = map[string]any{}
		}
		c.Custom[k] = v
	}
	return c
}

func strClaim(m map[string]any, k string) string {
	s, _ := m[k].(string)
	return s
}

func boolClaim(m map[string]any, k string) bool {
	b, _ := m[k].(bool)
	return b
}

func numClaim(m map[string]any, k string) (int64, bool) {
	switch v := m[k].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	}
	return 0, false
}

func audClaim(v any) []string {
	switch a := v.(type) {
	case string:
		return []string{a}
	case []any:
		out := make([]string, 0, len(a))
		for _, e := range a {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return a
	}
	return nil
}
