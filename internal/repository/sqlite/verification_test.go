package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/digest/internal/apperror"
	"github.com/sakif/digest/internal/model"
)

func newTestRecord(accountID string, expiresAt time.Time) *model.VerificationRecord {
	return &model.VerificationRecord{
		AccountID:          accountID,
		AccountEmail:       accountID + "@example.com",
		AccountDisplayName: "Jane Doe",
		ProofHash:          "$2a$04$proof",
		CreatedAt:          expiresAt.Add(-6 * time.Hour),
		ExpiresAt:          expiresAt,
	}
}

func TestCreateVerification_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	expires := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)

	require.NoError(t, db.CreateVerification(ctx, newTestRecord("acc-1", expires)))

	got, err := db.GetVerificationByAccountID(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "acc-1@example.com", got.AccountEmail)
	assert.Equal(t, "$2a$04$proof", got.ProofHash)
	assert.True(t, got.ExpiresAt.Equal(expires), "ExpiresAt = %v, want %v", got.ExpiresAt, expires)
}

func TestCreateVerification_OneLiveRecordPerAccount(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)

	require.NoError(t, db.CreateVerification(ctx, newTestRecord("acc-1", expires)))

	err := db.CreateVerification(ctx, newTestRecord("acc-1", expires))
	assert.True(t, errors.Is(err, apperror.ErrConflict), "error = %v, want ErrConflict", err)
}

func TestGetVerificationByAccountID_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetVerificationByAccountID(context.Background(), "nobody")
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "error = %v, want ErrNotFound", err)
}

func TestDeleteVerification(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateVerification(ctx, newTestRecord("acc-1", time.Now().Add(time.Hour))))
	require.NoError(t, db.DeleteVerification(ctx, "acc-1"))

	_, err := db.GetVerificationByAccountID(ctx, "acc-1")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	// Idempotent.
	assert.NoError(t, db.DeleteVerification(ctx, "acc-1"))
}

func TestListExpiredVerifications(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, db.CreateVerification(ctx, newTestRecord("old", now.Add(-2*time.Hour))))
	require.NoError(t, db.CreateVerification(ctx, newTestRecord("older", now.Add(-3*time.Hour))))
	require.NoError(t, db.CreateVerification(ctx, newTestRecord("live", now.Add(time.Hour))))

	expired, err := db.ListExpiredVerifications(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, "older", expired[0].AccountID)
	assert.Equal(t, "old", expired[1].AccountID)

	limited, err := db.ListExpiredVerifications(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
