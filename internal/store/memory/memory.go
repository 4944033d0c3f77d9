// Package memory implements the identity stores with in-process maps.
// Used by tests and single-node demo deployments; uniqueness constraints
// mirror the SQL schema so policy code sees identical conflict behavior.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/gatehouse/internal/identity"
)

// Store holds users and links behind one lock. Users() and Links() expose
// the two store contracts over the same data.
type Store struct {
	mu    sync.RWMutex
	users map[string]*identity.User // by ID
	links map[string]*identity.Link // by provider \x00 subject
}

func New() *Store {
	return &Store{
		users: map[string]*identity.User{},
		links: map[string]*identity.Link{},
	}
}

func (s *Store) Users() identity.UserStore { return userStore{s} }
func (s *Store) Links() identity.LinkStore { return linkStore{s} }

func linkKey(provider, subject string) string { return provider + "\x00" + subject }

func cloneUser(u *identity.User) *identity.User {
	c := *u
	if u.Metadata != nil {
		c.Metadata = make(map[string]any, len(u.Metadata))
		for k, v := range u.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
func cloneLink(l *identity.Link) *identity.Link { c := *l; return &c }

type userStore struct{ s *Store }

func (us userStore) Create(ctx context.Context, u *identity.User) error {
	us.s.mu.Lock()
	defer us.s.mu.Unlock()
	for _, e := range us.s.users {
		if strings.EqualFold(e.Username, u.Username) {
			return identity.ErrConflict
		}
		if u.Email != "" && strings.EqualFold(e.Email, u.Email) {
			return identity.ErrConflict
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	us.s.users[u.ID] = cloneUser(u)
	return nil
}

func (us userStore) ByID(ctx context.Context, id string) (*identity.User, error) {
	us.s.mu.RLock()
	defer us.s.mu.RUnlock()
	if u, ok := us.s.users[id]; ok {
		return cloneUser(u), nil
	}
	return nil, identity.ErrNotFound
}

func (us userStore) ByUsername(ctx context.Context, username string) (*identity.User, error) {
	us.s.mu.RLock()
	defer us.s.mu.RUnlock()
	for _, u := range us.s.users {
		if strings.EqualFold(u.Username, username) {
			return cloneUser(u), nil
		}
	}
	return nil, identity.ErrNotFound
}

func (us userStore) ByEmail(ctx context.Context, email string) (*identity.User, error) {
	us.s.mu.RLock()
	defer us.s.mu.RUnlock()
	for _, u := range us.s.users {
		if u.Email != "" && strings.EqualFold(u.Email, email) {
			return cloneUser(u), nil
		}
	}
	return nil, identity.ErrNotFound
}

func (us userStore) Update(ctx context.Context, u *identity.User) error {
	us.s.mu.Lock()
	defer us.s.mu.Unlock()
	if _, ok := us.s.users[u.ID]; !ok {
		return identity.ErrNotFound
	}
	c := cloneUser(u)
	// The SQL store stamps updated_at = now() on every update.
	c.UpdatedAt = time.Now()
	us.s.users[u.ID] = c
	return nil
}

type linkStore struct{ s *Store }

func (ls linkStore) Create(ctx context.Context, l *identity.Link) error {
	ls.s.mu.Lock()
	defer ls.s.mu.Unlock()
	k := linkKey(l.Provider, l.Subject)
	if _, ok := ls.s.links[k]; ok {
		return identity.ErrConflict
	}
	ls.s.links[k] = cloneLink(l)
	return nil
}

func (ls linkStore) ByProviderSubject(ctx context.Context, provider, subject string) (*identity.Link, error) {
	ls.s.mu.RLock()
	defer ls.s.mu.RUnlock()
	if l, ok := ls.s.links[linkKey(provider, subject)]; ok {
		return cloneLink(l), nil
	}
	return nil, identity.ErrNotFound
}

func (ls linkStore) ByUser(ctx context.Context, userID, provider string) (*identity.Link, error) {
	ls.s.mu.RLock()
	defer ls.s.mu.RUnlock()
	for _, l := range ls.s.links {
		if l.UserID == userID && l.Provider == provider {
			return cloneLink(l), nil
		}
	}
	return nil, identity.ErrNotFound
}

func (ls linkStore) Update(ctx context.Context, l *identity.Link) error {
	ls.s.mu.Lock()
	defer ls.s.mu.Unlock()
	k := linkKey(l.Provider, l.Subject)
	if _, ok := ls.s.links[k]; !ok {
		return identity.ErrNotFound
	}
	ls.s.links[k] = cloneLink(l)
	return nil
}

func (ls linkStore) Touch(ctx context.Context, provider, subject string, at time.Time) error {
	ls.s.mu.Lock()
	defer ls.s.mu.Unlock()
	l, ok := ls.s.links[linkKey(provider, subject)]
	if !ok {
		return identity.ErrNotFound
	}
	l.LastLoginAt = at
	return nil
}

func (ls linkStore) Delete(ctx context.Context, provider, subject string) error {
	ls.s.mu.Lock()
	defer ls.s.mu.Unlock()
	k := linkKey(provider, subject)
	if _, ok := ls.s.links[k]; !ok {
		return identity.ErrNotFound
	}
	delete(ls.s.links, k)
	return nil
}

func (ls linkStore) DeleteStale(ctx context.Context, before time.Time) (int, error) {
	ls.s.mu.Lock()
	defer ls.s.mu.Unlock()
	n := 0
	for k, l := range ls.s.links {
		if l.LastLoginAt.Before(before) {
			delete(ls.s.links, k)
			n++
		}
	}
	return n, nil
}
