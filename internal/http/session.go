package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/gatehouse/internal/cache"
	"github.com/dropDatabas3/gatehouse/internal/oidc/flow"
	"github.com/dropDatabas3/gatehouse/internal/security/tokens"
)

const (
	sessionCookie = "gatehouse_session"
	sessionPrefix = "session:"
	sessionTTL    = 24 * time.Hour

	pendingCookie = "gatehouse_pending"
	pendingTTL    = 5 * time.Minute
)

// Sessions maps opaque cookies to user IDs through the shared cache, so a
// Redis-backed deployment shares sessions across instances.
type Sessions struct {
	cache  cache.Cache
	secure bool
}

func NewSessions(c cache.Cache, secure bool) *Sessions {
	return &Sessions{cache: c, secure: secure}
}

func (s *Sessions) Issue(w http.ResponseWriter, userID string) error {
	tok, err := tokens.GenerateOpaqueToken(32)
	if err != nil {
		return err
	}
	s.cache.Set(sessionPrefix+tokens.SHA256Hex(tok), []byte(userID), sessionTTL)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    tok,
		Path:     "/",
		MaxAge:   int(sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// UserID returns the logged-in user for the request, if any.
func (s *Sessions) UserID(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return "", false
	}
	b, ok := s.cache.Get(sessionPrefix + tokens.SHA256Hex(c.Value))
	if !ok {
		return "", false
	}
	return string(b), true
}

// StashPending binds an in-flight login to this browser: the state and
// nonce ride back on the callback in an HttpOnly cookie, so a state issued
// to one session cannot complete a login in another. The state and nonce
// are base64url, so "." is a safe separator.
func (s *Sessions) StashPending(w http.ResponseWriter, p *flow.Pending) {
	http.SetCookie(w, &http.Cookie{
		Name:     pendingCookie,
		Value:    p.State + "." + p.Nonce,
		Path:     "/",
		MaxAge:   int(pendingTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// TakePending reads and clears the pending-login cookie.
func (s *Sessions) TakePending(w http.ResponseWriter, r *http.Request) (flow.Pending, bool) {
	c, err := r.Cookie(pendingCookie)
	if err != nil || c.Value == "" {
		return flow.Pending{}, false
	}
	http.SetCookie(w, &http.Cookie{
		Name: pendingCookie, Value: "", Path: "/", MaxAge: -1,
		HttpOnly: true, Secure: s.secure, SameSite: http.SameSiteLaxMode,
	})
	state, nonce, ok := strings.Cut(c.Value, ".")
	if !ok || state == "" || nonce == "" {
		return flow.Pending{}, false
	}
	return flow.Pending{State: state, Nonce: nonce}, true
}

func (s *Sessions) Clear(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		s.cache.Delete(sessionPrefix + tokens.SHA256Hex(c.Value))
	}
	http.SetCookie(w, &http.Cookie{
		Name: sessionCookie, Value: "", Path: "/", MaxAge: -1,
		HttpOnly: true, Secure: s.secure, SameSite: http.SameSiteLaxMode,
	})
}
