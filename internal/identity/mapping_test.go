package identity_test

import (
	"context"
	"testing"

	"github.com/dropDatabas3/gatehouse/internal/autherr"
	"github.com/dropDatabas3/gatehouse/internal/identity"
	"github.com/dropDatabas3/gatehouse/internal/oidc/idtoken"
	storemem "github.com/dropDatabas3/gatehouse/internal/store/memory"
)

func TestParseMapping(t *testing.T) {
	m, err := identity.ParseMapping(`
# comment
alice@idp.example = alice
bob = robert
bob = ignored-second-entry
`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := m.Translate("alice@idp.example"); got != "alice" {
		t.Fatalf("translate = %q", got)
	}
	// First entry wins; unmapped names pass through.
	if got := m.Translate("bob"); got != "robert" {
		t.Fatalf("translate = %q", got)
	}
	if got := m.Translate("carol"); got != "carol" {
		t.Fatalf("translate = %q", got)
	}
}

func TestParseMapping_Invalid(t *testing.T) {
	for _, text := range []string{"no-separator", "=nolocal", "noexternal="} {
		if _, err := identity.ParseMapping(text); !autherr.IsKind(err, autherr.KindConfiguration) {
			t.Fatalf("text %q: expected configuration error, got %v", text, err)
		}
	}
}

func TestStaticResolve(t *testing.T) {
	ctx := context.Background()
	st := storemem.New()
	for _, u := range []*identity.User{
		{Username: "alice", Email: "alice@local.example"},
		{Username: "robert", Email: "robert@local.example"},
	} {
		if err := st.Users().Create(ctx, u); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	m, err := identity.ParseMapping("bob=robert\nalice@idp.example=alice")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	r := identity.NewStaticResolver(st.Users(), m)

	// preferred_username through the table.
	res, err := r.Resolve(ctx, &idtoken.Claims{Subject: "s1", PreferredUsername: "bob"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.User.Username != "robert" {
		t.Fatalf("user = %q", res.User.Username)
	}

	// Unmapped username passes through to a direct lookup.
	res, err = r.Resolve(ctx, &idtoken.Claims{Subject: "s2", PreferredUsername: "alice"})
	if err != nil || res.User.Username != "alice" {
		t.Fatalf("resolve = %v, %v", res, err)
	}

	// Email candidate is matched against local emails.
	res, err = r.Resolve(ctx, &idtoken.Claims{Subject: "s3", Email: "robert@local.example"})
	if err != nil || res.User.Username != "robert" {
		t.Fatalf("resolve = %v, %v", res, err)
	}
}

func TestStaticResolve_UnknownIsTerminal(t *testing.T) {
	st := storemem.New()
	m, _ := identity.ParseMapping("")
	r := identity.NewStaticResolver(st.Users(), m)

	_, err := r.Resolve(context.Background(), &idtoken.Claims{Subject: "s1", PreferredUsername: "nobody"})
	if !autherr.IsKind(err, autherr.KindUserNotFound) {
		t.Fatalf("expected user-not-found, got %v", err)
	}
	if autherr.KindUserNotFound.Disposition() != autherr.DispositionFatal {
		t.Fatalf("user-not-found must be terminal")
	}
}
