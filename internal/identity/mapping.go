package identity

import (
	"bufio"
	"context"
	"errors"
	"strings"

	"github.com/dropDatabas3/gatehouse/internal/autherr"
	"github.com/dropDatabas3/gatehouse/internal/oidc/idtoken"
)

// Mapping is a static external-name to local-username table. Deployments
// that forbid provisioning configure one instead of a link policy.
type Mapping struct {
	entries []mapEntry
}

type mapEntry struct{ from, to string }

// ParseMapping reads one entry per line, "external=local". Blank lines and
// lines starting with # are skipped. Order is preserved: on lookup the
// first matching entry wins.
func ParseMapping(text string) (*Mapping, error) {
	m := &Mapping{}
	sc := bufio.NewScanner(strings.NewReader(text))
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		from, to, ok := strings.Cut(raw, "=")
		from, to = strings.TrimSpace(from), strings.TrimSpace(to)
		if !ok || from == "" || to == "" {
			return nil, autherr.Newf(autherr.KindConfiguration,
				"username mapping line %d is not external=local", line)
		}
		m.entries = append(m.entries, mapEntry{from: from, to: to})
	}
	if err := sc.Err(); err != nil {
		return nil, autherr.Wrap(autherr.KindConfiguration, "reading username mapping", err)
	}
	return m, nil
}

// Translate maps an external name to its local counterpart. Names without
// an entry pass through unchanged.
func (m *Mapping) Translate(external string) string {
	for _, e := range m.entries {
		if e.from == external {
			return e.to
		}
	}
	return external
}

// StaticResolver resolves claims against existing accounts only, through a
// Mapping. It never provisions and never writes: an unknown identity is a
// terminal failure the operator fixes by editing the table.
type StaticResolver struct {
	users   UserStore
	mapping *Mapping
}

func NewStaticResolver(users UserStore, mapping *Mapping) *StaticResolver {
	return &StaticResolver{users: users, mapping: mapping}
}

// Resolve tries the claim identifiers in order: preferred_username, name,
// then email, each passed through the mapping. Username candidates are
// looked up by username, the email candidate by email.
func (s *StaticResolver) Resolve(ctx context.Context, claims *idtoken.Claims) (*Resolved, error) {
	if claims == nil || claims.Subject == "" {
		return nil, autherr.New(autherr.KindIdentityResolution, "claims carry no subject")
	}

	for _, cand := range []string{claims.PreferredUsername, claims.Name} {
		if cand == "" {
			continue
		}
		u, err := s.users.ByUsername(ctx, s.mapping.Translate(cand))
		if err == nil {
			return &Resolved{User: u}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, autherr.Wrap(autherr.KindIdentityResolution, "username lookup failed", err)
		}
	}

	if claims.Email != "" {
		u, err := s.users.ByEmail(ctx, s.mapping.Translate(claims.Email))
		if err == nil {
			return &Resolved{User: u}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, autherr.Wrap(autherr.KindIdentityResolution, "email lookup failed", err)
		}
	}

	return nil, autherr.New(autherr.KindUserNotFound, "no local account matches the external identity")
}
