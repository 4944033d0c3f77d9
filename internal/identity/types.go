// Package identity maps verified external identities onto local accounts.
package identity

import "time"

// User is a local account. PasswordHash is a PHC argon2id string; accounts
// provisioned from an external identity get a random hash nobody knows the
// preimage of, so password login stays impossible until a reset.
type User struct {
	ID           string
	Username     string
	Email        string
	DisplayName  string
	PasswordHash string

	// Metadata carries the provider's custom claims, refreshed on every
	// successful login.
	Metadata map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Link ties a local user to one external identity. (Provider, Subject) is
// unique; a user may hold one link per provider.
type Link struct {
	UserID      string
	Provider    string
	Subject     string
	Email       string
	Name        string
	Picture     string
	CreatedAt   time.Time
	LastLoginAt time.Time
}

// Resolved is the outcome of mapping claims to a local account.
type Resolved struct {
	User *User
	Link *Link

	// Provisioned is true when the account was created during this
	// resolution. LinkCreated is true when the link is new, which covers
	// both provisioning and auto-link of a pre-existing account.
	Provisioned bool
	LinkCreated bool
}
