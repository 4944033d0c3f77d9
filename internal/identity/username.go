package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dropDatabas3/gatehouse/internal/oidc/idtoken"
)

// maxSuffix bounds the collision loop when deriving a free username.
const maxSuffix = 50

// usernameCandidates lists derivation sources in priority order:
// preferred_username, the local part of the email, the display name, and a
// fixed fallback. The first source that survives sanitization wins.
func usernameCandidates(c *idtoken.Claims) []string {
	var out []string
	if c.PreferredUsername != "" {
		out = append(out, c.PreferredUsername)
	}
	if at := strings.IndexByte(c.Email, '@'); at > 0 {
		out = append(out, c.Email[:at])
	}
	if c.Name != "" {
		out = append(out, c.Name)
	}
	return append(out, "oidc_user")
}

// sanitizeUsername lowercases and strips everything outside [a-z0-9._-].
// Spaces become underscores first so multi-word names stay readable.
func sanitizeUsername(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "._-")
}

// freeUsername derives a username from the claims and probes the store
// until an unused one is found, appending _1, _2, ... on collision.
func freeUsername(ctx context.Context, users UserStore, c *idtoken.Claims) (string, error) {
	var base string
	for _, cand := range usernameCandidates(c) {
		if s := sanitizeUsername(cand); s != "" {
			base = s
			break
		}
	}
	if base == "" {
		base = "oidc_user"
	}

	for i := 0; i <= maxSuffix; i++ {
		name := base
		if i > 0 {
			name = fmt.Sprintf("%s_%d", base, i)
		}
		_, err := users.ByUsername(ctx, name)
		if errors.Is(err, ErrNotFound) {
			return name, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("no free username after %d attempts on %q", maxSuffix, base)
}
