package datastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	"github.com/sakif/digest/internal/apperror"
	"github.com/sakif/digest/internal/model"
)

// CreateVerification writes the record unless the account already has one.
func (s *Store) CreateVerification(ctx context.Context, record *model.VerificationRecord) error {
	key := s.key(KindVerification, record.AccountID)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing verificationEntity
		err := tx.Get(key, &existing)
		if err == nil {
			return apperror.Conflict("a verification is already pending for this account")
		}
		if !isNotFound(err) {
			return err
		}
		_, err = tx.Put(key, &verificationEntity{
			Key:                key,
			AccountEmail:       record.AccountEmail,
			AccountDisplayName: record.AccountDisplayName,
			ProofHash:          record.ProofHash,
			CreatedAt:          record.CreatedAt,
			ExpiresAt:          record.ExpiresAt,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return err
		}
		return fmt.Errorf("datastore: creating verification: %w", err)
	}
	return nil
}

func (s *Store) GetVerificationByAccountID(ctx context.Context, accountID string) (*model.VerificationRecord, error) {
	var entity verificationEntity
	if err := s.client.Get(ctx, s.key(KindVerification, accountID), &entity); err != nil {
		if isNotFound(err) {
			return nil, apperror.NotFound("verification record not found")
		}
		return nil, fmt.Errorf("datastore: getting verification %s: %w", accountID, err)
	}
	record := entity.toModel()
	return &record, nil
}

// DeleteVerification relies on Datastore deletes of missing keys succeeding.
func (s *Store) DeleteVerification(ctx context.Context, accountID string) error {
	if err := s.client.Delete(ctx, s.key(KindVerification, accountID)); err != nil {
		return fmt.Errorf("datastore: deleting verification %s: %w", accountID, err)
	}
	return nil
}

func (s *Store) ListExpiredVerifications(ctx context.Context, cutoff time.Time, limit int) ([]model.VerificationRecord, error) {
	q := s.query(KindVerification).
		FilterField("expires_at", "<", cutoff).
		Order("expires_at").
		Limit(limit)

	var records []model.VerificationRecord
	it := s.client.Run(ctx, q)
	for {
		var entity verificationEntity
		_, err := it.Next(&entity)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("datastore: listing expired verifications: %w", err)
		}
		records = append(records, entity.toModel())
	}
	return records, nil
}
