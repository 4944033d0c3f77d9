// Package http hosts the login endpoints: the redirect into the provider,
// the callback that finishes the flow, and a minimal session surface.
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/gatehouse/internal/autherr"
	"github.com/dropDatabas3/gatehouse/internal/identity"
	"github.com/dropDatabas3/gatehouse/internal/observability/logger"
	"github.com/dropDatabas3/gatehouse/internal/oidc/flow"
)

type LoginHandler struct {
	flow     *flow.Flow
	users    identity.UserStore
	sessions *Sessions
}

func NewLoginHandler(f *flow.Flow, users identity.UserStore, sessions *Sessions) *LoginHandler {
	return &LoginHandler{flow: f, users: users, sessions: sessions}
}

func (h *LoginHandler) Register(r chi.Router) {
	r.Get("/login", h.login)
	r.Get("/oidc/callback", h.callback)
	r.Get("/logout", h.logout)
	r.Get("/me", h.me)
}

func (h *LoginHandler) login(w http.ResponseWriter, r *http.Request) {
	authURL, pending, err := h.flow.Start(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sessions.StashPending(w, pending)
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (h *LoginHandler) callback(w http.ResponseWriter, r *http.Request) {
	pending, ok := h.sessions.TakePending(w, r)
	if !ok {
		h.fail(w, r, autherr.New(autherr.KindCSRF, "no login pending for this session"))
		return
	}
	q := r.URL.Query()
	res, err := h.flow.Complete(r.Context(), flow.Callback{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}, pending)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.sessions.Issue(w, res.User.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	http.Redirect(w, r, "/me", http.StatusFound)
}

func (h *LoginHandler) logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(w, r)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *LoginHandler) me(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessions.UserID(r)
	if !ok {
		http.Error(w, "not logged in", http.StatusUnauthorized)
		return
	}
	u, err := h.users.ByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			h.sessions.Clear(w, r)
			http.Error(w, "not logged in", http.StatusUnauthorized)
			return
		}
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"id":           u.ID,
		"username":     u.Username,
		"email":        u.Email,
		"display_name": u.DisplayName,
	})
}

// fail translates an error's disposition into what the browser sees. The
// underlying cause stays in the logs; the user gets a generic page.
func (h *LoginHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := autherr.KindOf(err)
	logger.From(r.Context()).Warn("login attempt failed",
		logger.Component("http"),
		logger.String("kind", string(kind)),
		logger.Err(err))

	switch kind.Disposition() {
	case autherr.DispositionRedirectHome:
		http.Redirect(w, r, "/", http.StatusFound)
	case autherr.DispositionRetry:
		http.Error(w, "sign-in is temporarily unavailable, please try again", http.StatusBadGateway)
	default:
		http.Error(w, "sign-in failed", http.StatusForbidden)
	}
}
