// Package datastore implements the repository interfaces on Google Cloud
// Datastore (Firestore in Datastore mode).
//
// Unique fields are enforced with UniqueIndex entities written in the same
// transaction as the account they point to. Verification records are keyed
// by account id, so there is at most one per account by construction.
//
// The client honours DATASTORE_EMULATOR_HOST, which is how the tests run.
package datastore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/datastore"

	"github.com/sakif/digest/internal/repository"
)

var _ repository.Store = (*Store)(nil)

// Store is a Datastore-backed repository.Store.
type Store struct {
	client    *datastore.Client
	namespace string
}

// New connects to Datastore for projectID. An empty namespace uses the
// default namespace.
func New(ctx context.Context, projectID, namespace string) (*Store, error) {
	client, err := datastore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("datastore: creating client: %w", err)
	}
	return NewWithClient(client, namespace), nil
}

// NewWithClient wraps an existing client. The Store takes ownership and
// closes it in Close.
func NewWithClient(client *datastore.Client, namespace string) *Store {
	return &Store{client: client, namespace: namespace}
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping issues a cheap keys-only query.
func (s *Store) Ping(ctx context.Context) error {
	q := s.query(KindEmailAccount).KeysOnly().Limit(1)
	if _, err := s.client.GetAll(ctx, q, nil); err != nil {
		return fmt.Errorf("datastore: ping: %w", err)
	}
	return nil
}

func (s *Store) key(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *Store) query(kind string) *datastore.Query {
	q := datastore.NewQuery(kind)
	if s.namespace != "" {
		q = q.Namespace(s.namespace)
	}
	return q
}

func isNotFound(err error) bool {
	return errors.Is(err, datastore.ErrNoSuchEntity)
}
