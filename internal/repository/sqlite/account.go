package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/digest/internal/apperror"
	"github.com/sakif/digest/internal/model"
)

// CreateEmailAccount inserts a new password account.
//
// The caller's struct is filled in place: after a successful call
// account.ID, CreatedAt and UpdatedAt are set. A duplicate email surfaces as
// apperror.ErrConflict from the UNIQUE index, not from a prior lookup.
func (db *DB) CreateEmailAccount(ctx context.Context, account *model.EmailAccount) error {
	now := time.Now().UTC()
	account.ID = xid.New().String()
	account.CreatedAt = now
	account.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO email_accounts
			(id, display_name, email, password_hash, avatar_ref, verified, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID,
		account.DisplayName,
		account.Email,
		account.PasswordHash,
		account.AvatarRef,
		account.Verified,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("an account with this email already exists")
		}
		return fmt.Errorf("sqlite: inserting email account: %w", err)
	}

	return nil
}

const emailAccountColumns = `id, display_name, email, password_hash, avatar_ref, verified, created_at, updated_at`

func scanEmailAccount(row *sql.Row) (*model.EmailAccount, error) {
	var a model.EmailAccount
	err := row.Scan(
		&a.ID,
		&a.DisplayName,
		&a.Email,
		&a.PasswordHash,
		&a.AvatarRef,
		&a.Verified,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetEmailAccountByID retrieves a password account by its internal ID.
// Returns apperror.ErrNotFound if no account exists with that ID.
func (db *DB) GetEmailAccountByID(ctx context.Context, id string) (*model.EmailAccount, error) {
	a, err := scanEmailAccount(db.conn.QueryRowContext(ctx,
		`SELECT `+emailAccountColumns+` FROM email_accounts WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("account not found")
		}
		return nil, fmt.Errorf("sqlite: getting email account %s: %w", id, err)
	}
	return a, nil
}

// GetEmailAccountByEmail retrieves a password account by its email address.
func (db *DB) GetEmailAccountByEmail(ctx context.Context, email string) (*model.EmailAccount, error) {
	a, err := scanEmailAccount(db.conn.QueryRowContext(ctx,
		`SELECT `+emailAccountColumns+` FROM email_accounts WHERE email = ?`, email,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("account not found")
		}
		return nil, fmt.Errorf("sqlite: getting email account by email: %w", err)
	}
	return a, nil
}

// MarkEmailAccountVerified flips verified to true. There is no way back.
func (db *DB) MarkEmailAccountVerified(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE email_accounts SET verified = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: verifying email account %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rows == 0 {
		return apperror.NotFound("account not found")
	}
	return nil
}

// DeleteEmailAccount removes a password account. Deleting an unknown ID is not an error.
func (db *DB) DeleteEmailAccount(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM email_accounts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: deleting email account %s: %w", id, err)
	}
	return nil
}

// GetOrCreateOAuthAccount returns the account for account.ProviderSubjectID,
// inserting it first if this is the subject's first login.
//
// Two concurrent first logins for the same subject race on the UNIQUE
// index; the loser re-reads the winner's row instead of failing.
func (db *DB) GetOrCreateOAuthAccount(ctx context.Context, account *model.OAuthAccount) (bool, error) {
	existing, err := db.getOAuthAccountBySubject(ctx, account.ProviderSubjectID)
	if err == nil {
		*account = *existing
		return false, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return false, err
	}

	account.ID = xid.New().String()
	account.CreatedAt = time.Now().UTC()

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO oauth_accounts (id, provider_subject_id, display_name, email, avatar_ref, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		account.ID,
		account.ProviderSubjectID,
		account.DisplayName,
		account.Email,
		account.AvatarRef,
		account.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			winner, getErr := db.getOAuthAccountBySubject(ctx, account.ProviderSubjectID)
			if getErr == nil {
				*account = *winner
				return false, nil
			}
			// The clash was on email, held by a different subject.
			return false, apperror.Conflict("an account with this email already exists")
		}
		return false, fmt.Errorf("sqlite: inserting oauth account: %w", err)
	}

	return true, nil
}

const oauthAccountColumns = `id, provider_subject_id, display_name, email, avatar_ref, created_at`

func scanOAuthAccount(row *sql.Row) (*model.OAuthAccount, error) {
	var a model.OAuthAccount
	if err := row.Scan(
		&a.ID,
		&a.ProviderSubjectID,
		&a.DisplayName,
		&a.Email,
		&a.AvatarRef,
		&a.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &a, nil
}

func (db *DB) getOAuthAccountBySubject(ctx context.Context, subject string) (*model.OAuthAccount, error) {
	a, err := scanOAuthAccount(db.conn.QueryRowContext(ctx,
		`SELECT `+oauthAccountColumns+` FROM oauth_accounts WHERE provider_subject_id = ?`, subject,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("account not found")
		}
		return nil, fmt.Errorf("sqlite: getting oauth account by subject: %w", err)
	}
	return a, nil
}

// GetOAuthAccountByID retrieves an OAuth account by its internal ID.
func (db *DB) GetOAuthAccountByID(ctx context.Context, id string) (*model.OAuthAccount, error) {
	a, err := scanOAuthAccount(db.conn.QueryRowContext(ctx,
		`SELECT `+oauthAccountColumns+` FROM oauth_accounts WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("account not found")
		}
		return nil, fmt.Errorf("sqlite: getting oauth account %s: %w", id, err)
	}
	return a, nil
}
