package datastore

import (
	"context"
	"fmt"
	"time"

	"github.com/alexedwards/scs/v2"
)

var _ scs.CtxStore = (*SessionStore)(nil)

// maxMutations is the most entities a single Datastore commit may touch.
const maxMutations = 500

// SessionStore keeps scs session blobs as Session entities keyed by token.
type SessionStore struct {
	store *Store
	now   func() time.Time
	batch int
}

// Sessions returns the scs store backed by this Datastore.
func (s *Store) Sessions() *SessionStore {
	return &SessionStore{store: s, now: time.Now, batch: maxMutations}
}

func (ss *SessionStore) Find(token string) ([]byte, bool, error) {
	return ss.FindCtx(context.Background(), token)
}

func (ss *SessionStore) Commit(token string, data []byte, expiry time.Time) error {
	return ss.CommitCtx(context.Background(), token, data, expiry)
}

func (ss *SessionStore) Delete(token string) error {
	return ss.DeleteCtx(context.Background(), token)
}

// FindCtx treats expired entities as missing.
func (ss *SessionStore) FindCtx(ctx context.Context, token string) ([]byte, bool, error) {
	var entity sessionEntity
	if err := ss.store.client.Get(ctx, ss.store.key(KindSession, token), &entity); err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("datastore: finding session: %w", err)
	}
	if !entity.Expiry.After(ss.now()) {
		return nil, false, nil
	}
	return entity.Data, true, nil
}

func (ss *SessionStore) CommitCtx(ctx context.Context, token string, data []byte, expiry time.Time) error {
	key := ss.store.key(KindSession, token)
	if _, err := ss.store.client.Put(ctx, key, &sessionEntity{Key: key, Data: data, Expiry: expiry}); err != nil {
		return fmt.Errorf("datastore: committing session: %w", err)
	}
	return nil
}

func (ss *SessionStore) DeleteCtx(ctx context.Context, token string) error {
	if err := ss.store.client.Delete(ctx, ss.store.key(KindSession, token)); err != nil {
		return fmt.Errorf("datastore: deleting session: %w", err)
	}
	return nil
}

// DeleteExpired purges expired sessions and reports how many went. Keys
// are fetched and deleted one page at a time so no commit goes over the
// mutation limit.
func (ss *SessionStore) DeleteExpired() (int64, error) {
	ctx := context.Background()
	cutoff := ss.now()

	var total int64
	for {
		q := ss.store.query(KindSession).
			FilterField("expiry", "<=", cutoff).
			KeysOnly().
			Limit(ss.batch)

		keys, err := ss.store.client.GetAll(ctx, q, nil)
		if err != nil {
			return total, fmt.Errorf("datastore: listing expired sessions: %w", err)
		}
		if len(keys) == 0 {
			return total, nil
		}
		if err := ss.store.client.DeleteMulti(ctx, keys); err != nil {
			return total, fmt.Errorf("datastore: deleting expired sessions: %w", err)
		}
		total += int64(len(keys))

		if len(keys) < ss.batch {
			return total, nil
		}
	}
}
