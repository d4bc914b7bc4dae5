// Package repository declares the persistence contracts the service layer
// depends on. Implementations live in subpackages (sqlite, datastore).
//
// Lookups that find nothing return an error wrapping apperror.ErrNotFound.
// Inserts that hit a unique constraint (email, provider subject, live
// verification record per account) return an error wrapping
// apperror.ErrConflict. Everything else is a plain wrapped driver error.
package repository

import (
	"context"
	"time"

	"github.com/sakif/digest/internal/model"
)

// EmailAccountRepository stores password-based accounts.
type EmailAccountRepository interface {
	// CreateEmailAccount assigns ID and timestamps and inserts the account.
	CreateEmailAccount(ctx context.Context, account *model.EmailAccount) error
	GetEmailAccountByID(ctx context.Context, id string) (*model.EmailAccount, error)
	GetEmailAccountByEmail(ctx context.Context, email string) (*model.EmailAccount, error)
	MarkEmailAccountVerified(ctx context.Context, id string) error
	// DeleteEmailAccount is a no-op for an unknown id.
	DeleteEmailAccount(ctx context.Context, id string) error
}

// OAuthAccountRepository stores accounts created by the OAuth provider.
type OAuthAccountRepository interface {
	// GetOrCreateOAuthAccount looks the account up by ProviderSubjectID and
	// inserts it when absent. On return account holds the stored record and
	// created reports whether an insert happened.
	GetOrCreateOAuthAccount(ctx context.Context, account *model.OAuthAccount) (created bool, err error)
	GetOAuthAccountByID(ctx context.Context, id string) (*model.OAuthAccount, error)
}

// VerificationRepository is the persistence half of the verification ledger.
type VerificationRepository interface {
	CreateVerification(ctx context.Context, record *model.VerificationRecord) error
	GetVerificationByAccountID(ctx context.Context, accountID string) (*model.VerificationRecord, error)
	// DeleteVerification is a no-op when the account has no record.
	DeleteVerification(ctx context.Context, accountID string) error
	// ListExpiredVerifications returns records whose ExpiresAt is before cutoff.
	ListExpiredVerifications(ctx context.Context, cutoff time.Time, limit int) ([]model.VerificationRecord, error)
}

// Store bundles every repository plus lifecycle. One value backs the whole
// process; it is opened in main and closed on shutdown.
type Store interface {
	EmailAccountRepository
	OAuthAccountRepository
	VerificationRepository

	Ping(ctx context.Context) error
	Close() error
}
