package datastore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/digest/internal/apperror"
	"github.com/sakif/digest/internal/model"
)

// newTestStore connects to the Datastore emulator in a fresh namespace.
// Start one with: gcloud beta emulators datastore start --no-store-on-disk
func newTestStore(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("DATASTORE_EMULATOR_HOST") == "" {
		t.Skip("DATASTORE_EMULATOR_HOST not set")
	}

	ctx := context.Background()
	store, err := New(ctx, "digest-test", "test-"+xid.New().String())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEmailAccountLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	account := &model.EmailAccount{
		DisplayName:  "Jane Doe",
		Email:        "jane@example.com",
		PasswordHash: "$2a$10$hash",
	}
	require.NoError(t, store.CreateEmailAccount(ctx, account))
	require.NotEmpty(t, account.ID)

	err := store.CreateEmailAccount(ctx, &model.EmailAccount{Email: "jane@example.com"})
	assert.True(t, errors.Is(err, apperror.ErrConflict), "error = %v, want ErrConflict", err)

	got, err := store.GetEmailAccountByEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)
	assert.False(t, got.Verified)

	require.NoError(t, store.MarkEmailAccountVerified(ctx, account.ID))
	got, err = store.GetEmailAccountByID(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, got.Verified)

	require.NoError(t, store.DeleteEmailAccount(ctx, account.ID))
	require.NoError(t, store.DeleteEmailAccount(ctx, account.ID))

	_, err = store.GetEmailAccountByEmail(ctx, "jane@example.com")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	// The email is free again.
	assert.NoError(t, store.CreateEmailAccount(ctx, &model.EmailAccount{Email: "jane@example.com"}))
}

func TestMarkEmailAccountVerified_NotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.MarkEmailAccountVerified(context.Background(), "missing")
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "error = %v, want ErrNotFound", err)
}

func TestGetOrCreateOAuthAccount_ConcurrentFirstLogin(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const callers = 4
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[string]bool{}
		created int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			account := &model.OAuthAccount{
				ProviderSubjectID: "google-123",
				DisplayName:       "Jane Doe",
				Email:             "jane@gmail.com",
			}
			isNew, err := store.GetOrCreateOAuthAccount(ctx, account)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[account.ID] = true
			if isNew {
				created++
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 1, "all callers must see the same account")
	assert.Equal(t, 1, created)
}

func TestGetOrCreateOAuthAccount_EmailTaken(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetOrCreateOAuthAccount(ctx, &model.OAuthAccount{ProviderSubjectID: "a", Email: "x@gmail.com"})
	require.NoError(t, err)

	_, err = store.GetOrCreateOAuthAccount(ctx, &model.OAuthAccount{ProviderSubjectID: "b", Email: "x@gmail.com"})
	assert.True(t, errors.Is(err, apperror.ErrConflict), "error = %v, want ErrConflict", err)
}

func TestVerificationRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	record := &model.VerificationRecord{
		AccountID:    "acc-1",
		AccountEmail: "jane@example.com",
		ProofHash:    "$2a$04$proof",
		CreatedAt:    now.Add(-7 * time.Hour),
		ExpiresAt:    now.Add(-time.Hour),
	}
	require.NoError(t, store.CreateVerification(ctx, record))

	err := store.CreateVerification(ctx, record)
	assert.True(t, errors.Is(err, apperror.ErrConflict))

	got, err := store.GetVerificationByAccountID(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, got.ExpiresAt.Equal(record.ExpiresAt))

	expired, err := store.ListExpiredVerifications(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "acc-1", expired[0].AccountID)

	require.NoError(t, store.DeleteVerification(ctx, "acc-1"))
	require.NoError(t, store.DeleteVerification(ctx, "acc-1"))

	_, err = store.GetVerificationByAccountID(ctx, "acc-1")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestSessionStore(t *testing.T) {
	sessions := newTestStore(t).Sessions()

	require.NoError(t, sessions.Commit("live", []byte("a"), time.Now().Add(time.Hour)))
	require.NoError(t, sessions.Commit("stale", []byte("b"), time.Now().Add(-time.Hour)))

	data, found, err := sessions.Find("live")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("a"), data)

	_, found, err = sessions.Find("stale")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, sessions.Delete("live"))
	require.NoError(t, sessions.Delete("live"))
	_, found, err = sessions.Find("live")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSessionStore_DeleteExpiredPages(t *testing.T) {
	sessions := newTestStore(t).Sessions()
	sessions.batch = 2

	for i := range 5 {
		token := fmt.Sprintf("stale-%d", i)
		require.NoError(t, sessions.Commit(token, []byte("x"), time.Now().Add(-time.Hour)))
	}
	require.NoError(t, sessions.Commit("live", []byte("a"), time.Now().Add(time.Hour)))

	n, err := sessions.DeleteExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = sessions.DeleteExpired()
	require.NoError(t, err)
	assert.Zero(t, n)

	_, found, err := sessions.Find("live")
	require.NoError(t, err)
	assert.True(t, found)
}
