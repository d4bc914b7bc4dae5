package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/digest/internal/apperror"
	"github.com/sakif/digest/internal/model"
)

// CreateVerification inserts a ledger record. A live record for the same
// account violates the primary key and comes back as apperror.ErrConflict.
func (db *DB) CreateVerification(ctx context.Context, record *model.VerificationRecord) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO verification_records
			(account_id, account_email, account_display_name, proof_hash, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		record.AccountID,
		record.AccountEmail,
		record.AccountDisplayName,
		record.ProofHash,
		record.CreatedAt.UnixNano(),
		record.ExpiresAt.UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("a verification is already pending for this account")
		}
		return fmt.Errorf("sqlite: inserting verification record: %w", err)
	}
	return nil
}

// GetVerificationByAccountID returns the live record for an account.
// Returns apperror.ErrNotFound if there is none.
func (db *DB) GetVerificationByAccountID(ctx context.Context, accountID string) (*model.VerificationRecord, error) {
	var (
		r                  model.VerificationRecord
		createdAt, expires int64
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT account_id, account_email, account_display_name, proof_hash, created_at, expires_at
		 FROM verification_records WHERE account_id = ?`,
		accountID,
	).Scan(&r.AccountID, &r.AccountEmail, &r.AccountDisplayName, &r.ProofHash, &createdAt, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("verification record not found")
		}
		return nil, fmt.Errorf("sqlite: getting verification record for %s: %w", accountID, err)
	}

	r.CreatedAt = time.Unix(0, createdAt).UTC()
	r.ExpiresAt = time.Unix(0, expires).UTC()
	return &r, nil
}

// DeleteVerification removes the record for an account, if any.
func (db *DB) DeleteVerification(ctx context.Context, accountID string) error {
	if _, err := db.conn.ExecContext(ctx,
		`DELETE FROM verification_records WHERE account_id = ?`, accountID,
	); err != nil {
		return fmt.Errorf("sqlite: deleting verification record for %s: %w", accountID, err)
	}
	return nil
}

// ListExpiredVerifications returns up to limit records that expired before cutoff,
// oldest first.
func (db *DB) ListExpiredVerifications(ctx context.Context, cutoff time.Time, limit int) ([]model.VerificationRecord, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT account_id, account_email, account_display_name, proof_hash, created_at, expires_at
		 FROM verification_records
		 WHERE expires_at < ?
		 ORDER BY expires_at ASC
		 LIMIT ?`,
		cutoff.UnixNano(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing expired verification records: %w", err)
	}
	defer rows.Close()

	var records []model.VerificationRecord
	for rows.Next() {
		var (
			r                  model.VerificationRecord
			createdAt, expires int64
		)
		if err := rows.Scan(&r.AccountID, &r.AccountEmail, &r.AccountDisplayName, &r.ProofHash, &createdAt, &expires); err != nil {
			return nil, fmt.Errorf("sqlite: scanning verification record: %w", err)
		}
		r.CreatedAt = time.Unix(0, createdAt).UTC()
		r.ExpiresAt = time.Unix(0, expires).UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating verification records: %w", err)
	}

	return records, nil
}
