// Package model defines the data structures used throughout the application.
package model

import "time"

// PrincipalKind tags which account collection a principal lives in.
type PrincipalKind string

const (
	PrincipalEmail PrincipalKind = "email"
	PrincipalOAuth PrincipalKind = "oauth"
)

// Valid reports whether k is one of the known kinds.
func (k PrincipalKind) Valid() bool {
	return k == PrincipalEmail || k == PrincipalOAuth
}

// Principal is what a session stores: enough to find the account again,
// nothing more. Resolution dispatches on Kind.
type Principal struct {
	Kind PrincipalKind `json:"kind"`
	ID   string        `json:"id"`
}

// EmailAccount is an account created through signup with a password.
//
// It starts unverified and becomes usable for login only after the
// verification token mailed at signup is consumed. An unverified account
// whose token expires is deleted.
type EmailAccount struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"fullName"`
	Email        string    `json:"email"` // unique, stored lower case
	PasswordHash string    `json:"-"`
	AvatarRef    string    `json:"avatar,omitempty"`
	Verified     bool      `json:"verified"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Principal returns the session identity of the account.
func (a *EmailAccount) Principal() Principal {
	return Principal{Kind: PrincipalEmail, ID: a.ID}
}

// Public returns the fields that may leave the server.
func (a *EmailAccount) Public() *PublicAccount {
	return &PublicAccount{
		ID:          a.ID,
		Kind:        PrincipalEmail,
		DisplayName: a.DisplayName,
		Email:       a.Email,
		AvatarRef:   a.AvatarRef,
		Verified:    a.Verified,
	}
}

// OAuthAccount is an account created lazily on the first successful OAuth
// callback for a provider subject. It is read-only after creation.
type OAuthAccount struct {
	ID                string    `json:"id"`
	ProviderSubjectID string    `json:"-"` // unique
	DisplayName       string    `json:"name"`
	Email             string    `json:"email"` // unique
	AvatarRef         string    `json:"avatar,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Principal returns the session identity of the account.
func (a *OAuthAccount) Principal() Principal {
	return Principal{Kind: PrincipalOAuth, ID: a.ID}
}

// Public returns the fields that may leave the server.
func (a *OAuthAccount) Public() *PublicAccount {
	return &PublicAccount{
		ID:          a.ID,
		Kind:        PrincipalOAuth,
		DisplayName: a.DisplayName,
		Email:       a.Email,
		AvatarRef:   a.AvatarRef,
		Verified:    true,
	}
}

// PublicAccount is the client-facing view of either account variant.
// It never carries a password hash or a provider subject id.
type PublicAccount struct {
	ID          string        `json:"id"`
	Kind        PrincipalKind `json:"kind"`
	DisplayName string        `json:"name"`
	Email       string        `json:"email"`
	AvatarRef   string        `json:"avatar,omitempty"`
	Verified    bool          `json:"verified"`
}
