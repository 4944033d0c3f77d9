package http

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	cachemem "github.com/dropDatabas3/gatehouse/internal/cache/memory"
	"github.com/dropDatabas3/gatehouse/internal/config"
	"github.com/dropDatabas3/gatehouse/internal/identity"
	"github.com/dropDatabas3/gatehouse/internal/oidc/discovery"
	"github.com/dropDatabas3/gatehouse/internal/oidc/flow"
	"github.com/dropDatabas3/gatehouse/internal/oidc/idtoken"
	"github.com/dropDatabas3/gatehouse/internal/oidc/token"
	storemem "github.com/dropDatabas3/gatehouse/internal/store/memory"
)

func newTestRouter(t *testing.T) (chi.Router, *Sessions, *storemem.Store) {
	t.Helper()
	cfg := &config.Settings{
		EnableLogin:  true,
		ClientID:     "client-1",
		ClientSecret: "hunter2",
		OAuthURL:     "https://idp.example",
		RedirectURI:  "https://rp.example/cb",
		Scope:        []string{"openid"},
	}
	c := cachemem.New(time.Minute)
	st := storemem.New()
	f := flow.New(
		cfg,
		discovery.NewResolver(c),
		token.NewExchanger(10*time.Second),
		idtoken.NewValidator(idtoken.NewKeySource(c, 10*time.Second)),
		identity.NewResolver(st.Users(), st.Links(), identity.Policy{Provider: "oidc"}),
		flow.NewStateStore(c, 0),
	)
	sessions := NewSessions(c, false)

	r := chi.NewRouter()
	NewLoginHandler(f, st.Users(), sessions).Register(r)
	return r, sessions, st
}

// beginLogin hits /login and returns the issued state with the
// pending-login cookie the browser would carry to the callback.
func beginLogin(t *testing.T, r chi.Router) (state string, pending *http.Cookie) {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("login status = %d", rec.Code)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("location: %v", err)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == pendingCookie {
			pending = c
		}
	}
	if pending == nil || !pending.HttpOnly {
		t.Fatalf("no http-only pending cookie set, cookies = %v", rec.Result().Cookies())
	}
	return loc.Query().Get("state"), pending
}

func TestLogin_RedirectsToProvider(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d", rec.Code)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("location: %v", err)
	}
	if loc.Host != "idp.example" || loc.Path != "/oauth2/authorize" {
		t.Fatalf("redirect = %q", loc)
	}
	if loc.Query().Get("state") == "" || loc.Query().Get("nonce") == "" {
		t.Fatalf("query = %v", loc.Query())
	}
}

func TestCallback_ForgedStateIsForbidden(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oidc/callback?code=c&state=forged", nil))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCallback_StateFromAnotherSessionIsForbidden(t *testing.T) {
	r, _, _ := newTestRouter(t)

	victimState, _ := beginLogin(t, r)
	_, attackerCookie := beginLogin(t, r)

	// The attacker's browser presents the victim's state.
	req := httptest.NewRequest(http.MethodGet,
		"/oidc/callback?code=c&state="+url.QueryEscape(victimState), nil)
	req.AddCookie(attackerCookie)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cross-session status = %d", rec.Code)
	}

	// A browser with no pending login at all is refused too.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/oidc/callback?code=c&state="+url.QueryEscape(victimState), nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cookieless status = %d", rec.Code)
	}
}

func TestCallback_ProviderDenialRedirectsHome(t *testing.T) {
	r, _, _ := newTestRouter(t)

	state, pending := beginLogin(t, r)

	req := httptest.NewRequest(http.MethodGet,
		"/oidc/callback?error=access_denied&state="+url.QueryEscape(state), nil)
	req.AddCookie(pending)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/" {
		t.Fatalf("status = %d location = %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestMe_SessionLifecycle(t *testing.T) {
	r, sessions, st := newTestRouter(t)
	u := &identity.User{Username: "alice", Email: "a@b.com"}
	if err := st.Users().Create(httptest.NewRequest(http.MethodGet, "/", nil).Context(), u); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Anonymous.
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", rec.Code)
	}

	// Issue a session and replay its cookie.
	rec = httptest.NewRecorder()
	if err := sessions.Issue(rec, u.ID); err != nil {
		t.Fatalf("issue: %v", err)
	}
	cookie := rec.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("logged-in status = %d body = %s", rec.Code, rec.Body.String())
	}

	// Logout clears the session.
	req = httptest.NewRequest(http.MethodGet, "/logout", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusFound {
		t.Fatalf("logout status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("after logout status = %d", rec.Code)
	}
}
