package datastore

import (
	"time"

	"cloud.google.com/go/datastore"

	"github.com/sakif/digest/internal/model"
)

// Entity kinds.
const (
	KindEmailAccount = "EmailAccount"
	KindOAuthAccount = "OAuthAccount"
	KindVerification = "Verification"
	KindSession      = "Session"

	// KindUniqueIndex rows map a unique value to the owning account id.
	// Datastore has no unique constraints, so inserts claim the index row
	// inside the same transaction as the account.
	KindUniqueIndex = "UniqueIndex"
)

// Index key prefixes for KindUniqueIndex names.
const (
	indexEmailAccountEmail = "email-account-email:"
	indexOAuthEmail        = "oauth-account-email:"
	indexOAuthSubject      = "oauth-account-subject:"
)

type emailAccountEntity struct {
	Key          *datastore.Key `datastore:"__key__"`
	DisplayName  string         `datastore:"display_name,noindex"`
	Email        string         `datastore:"email"`
	PasswordHash string         `datastore:"password_hash,noindex"`
	AvatarRef    string         `datastore:"avatar_ref,noindex"`
	Verified     bool           `datastore:"verified"`
	CreatedAt    time.Time      `datastore:"created_at"`
	UpdatedAt    time.Time      `datastore:"updated_at"`
}

func (e *emailAccountEntity) toModel() *model.EmailAccount {
	return &model.EmailAccount{
		ID:           e.Key.Name,
		DisplayName:  e.DisplayName,
		Email:        e.Email,
		PasswordHash: e.PasswordHash,
		AvatarRef:    e.AvatarRef,
		Verified:     e.Verified,
		CreatedAt:    e.CreatedAt.UTC(),
		UpdatedAt:    e.UpdatedAt.UTC(),
	}
}

type oauthAccountEntity struct {
	Key               *datastore.Key `datastore:"__key__"`
	ProviderSubjectID string         `datastore:"provider_subject_id"`
	DisplayName       string         `datastore:"display_name,noindex"`
	Email             string         `datastore:"email"`
	AvatarRef         string         `datastore:"avatar_ref,noindex"`
	CreatedAt         time.Time      `datastore:"created_at"`
}

func (e *oauthAccountEntity) toModel() *model.OAuthAccount {
	return &model.OAuthAccount{
		ID:                e.Key.Name,
		ProviderSubjectID: e.ProviderSubjectID,
		DisplayName:       e.DisplayName,
		Email:             e.Email,
		AvatarRef:         e.AvatarRef,
		CreatedAt:         e.CreatedAt.UTC(),
	}
}

// verificationEntity is keyed by account id.
type verificationEntity struct {
	Key                *datastore.Key `datastore:"__key__"`
	AccountEmail       string         `datastore:"account_email,noindex"`
	AccountDisplayName string         `datastore:"account_display_name,noindex"`
	ProofHash          string         `datastore:"proof_hash,noindex"`
	CreatedAt          time.Time      `datastore:"created_at"`
	ExpiresAt          time.Time      `datastore:"expires_at"`
}

func (e *verificationEntity) toModel() model.VerificationRecord {
	return model.VerificationRecord{
		AccountID:          e.Key.Name,
		AccountEmail:       e.AccountEmail,
		AccountDisplayName: e.AccountDisplayName,
		ProofHash:          e.ProofHash,
		CreatedAt:          e.CreatedAt.UTC(),
		ExpiresAt:          e.ExpiresAt.UTC(),
	}
}

type uniqueIndexEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	AccountID string         `datastore:"account_id"`
	CreatedAt time.Time      `datastore:"created_at"`
}

type sessionEntity struct {
	Key    *datastore.Key `datastore:"__key__"`
	Data   []byte         `datastore:"data,noindex"`
	Expiry time.Time      `datastore:"expiry"`
}
