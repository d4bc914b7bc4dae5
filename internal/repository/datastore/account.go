package datastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/rs/xid"

	"github.com/sakif/digest/internal/apperror"
	"github.com/sakif/digest/internal/model"
)

// CreateEmailAccount claims the email index row and writes the account in
// one transaction. A taken email is apperror.ErrConflict.
func (s *Store) CreateEmailAccount(ctx context.Context, account *model.EmailAccount) error {
	now := time.Now().UTC()
	id := xid.New().String()
	indexKey := s.key(KindUniqueIndex, indexEmailAccountEmail+account.Email)
	accountKey := s.key(KindEmailAccount, id)

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing uniqueIndexEntity
		err := tx.Get(indexKey, &existing)
		if err == nil {
			return apperror.Conflict("an account with this email already exists")
		}
		if !isNotFound(err) {
			return err
		}

		entity := &emailAccountEntity{
			Key:          accountKey,
			DisplayName:  account.DisplayName,
			Email:        account.Email,
			PasswordHash: account.PasswordHash,
			AvatarRef:    account.AvatarRef,
			Verified:     account.Verified,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		_, err = tx.PutMulti(
			[]*datastore.Key{indexKey, accountKey},
			[]any{&uniqueIndexEntity{Key: indexKey, AccountID: id, CreatedAt: now}, entity},
		)
		return err
	})
	if err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return err
		}
		return fmt.Errorf("datastore: creating email account: %w", err)
	}

	account.ID = id
	account.CreatedAt = now
	account.UpdatedAt = now
	return nil
}

// GetEmailAccountByID returns apperror.ErrNotFound for an unknown id.
func (s *Store) GetEmailAccountByID(ctx context.Context, id string) (*model.EmailAccount, error) {
	var entity emailAccountEntity
	if err := s.client.Get(ctx, s.key(KindEmailAccount, id), &entity); err != nil {
		if isNotFound(err) {
			return nil, apperror.NotFound("account not found")
		}
		return nil, fmt.Errorf("datastore: getting email account %s: %w", id, err)
	}
	return entity.toModel(), nil
}

// GetEmailAccountByEmail resolves the index row first, so the read is
// strongly consistent.
func (s *Store) GetEmailAccountByEmail(ctx context.Context, email string) (*model.EmailAccount, error) {
	var index uniqueIndexEntity
	if err := s.client.Get(ctx, s.key(KindUniqueIndex, indexEmailAccountEmail+email), &index); err != nil {
		if isNotFound(err) {
			return nil, apperror.NotFound("account not found")
		}
		return nil, fmt.Errorf("datastore: looking up email index: %w", err)
	}
	return s.GetEmailAccountByID(ctx, index.AccountID)
}

func (s *Store) MarkEmailAccountVerified(ctx context.Context, id string) error {
	key := s.key(KindEmailAccount, id)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity emailAccountEntity
		if err := tx.Get(key, &entity); err != nil {
			return err
		}
		entity.Verified = true
		entity.UpdatedAt = time.Now().UTC()
		_, err := tx.Put(key, &entity)
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return apperror.NotFound("account not found")
		}
		return fmt.Errorf("datastore: verifying email account %s: %w", id, err)
	}
	return nil
}

// DeleteEmailAccount removes the account and frees its email.
func (s *Store) DeleteEmailAccount(ctx context.Context, id string) error {
	key := s.key(KindEmailAccount, id)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity emailAccountEntity
		if err := tx.Get(key, &entity); err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
		return tx.DeleteMulti([]*datastore.Key{
			key,
			s.key(KindUniqueIndex, indexEmailAccountEmail+entity.Email),
		})
	})
	if err != nil {
		return fmt.Errorf("datastore: deleting email account %s: %w", id, err)
	}
	return nil
}

// GetOrCreateOAuthAccount runs lookup and insert in one transaction. Two
// concurrent first logins for the same subject contend on the subject index
// row; the loser retries and finds the winner's account.
func (s *Store) GetOrCreateOAuthAccount(ctx context.Context, account *model.OAuthAccount) (bool, error) {
	subjectKey := s.key(KindUniqueIndex, indexOAuthSubject+account.ProviderSubjectID)
	emailKey := s.key(KindUniqueIndex, indexOAuthEmail+account.Email)

	var (
		stored  *model.OAuthAccount
		created bool
	)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		created = false

		var index uniqueIndexEntity
		err := tx.Get(subjectKey, &index)
		if err == nil {
			var entity oauthAccountEntity
			if err := tx.Get(s.key(KindOAuthAccount, index.AccountID), &entity); err != nil {
				return err
			}
			stored = entity.toModel()
			return nil
		}
		if !isNotFound(err) {
			return err
		}

		var emailIndex uniqueIndexEntity
		err = tx.Get(emailKey, &emailIndex)
		if err == nil {
			return apperror.Conflict("an account with this email already exists")
		}
		if !isNotFound(err) {
			return err
		}

		now := time.Now().UTC()
		id := xid.New().String()
		accountKey := s.key(KindOAuthAccount, id)
		entity := &oauthAccountEntity{
			Key:               accountKey,
			ProviderSubjectID: account.ProviderSubjectID,
			DisplayName:       account.DisplayName,
			Email:             account.Email,
			AvatarRef:         account.AvatarRef,
			CreatedAt:         now,
		}
		_, err = tx.PutMulti(
			[]*datastore.Key{subjectKey, emailKey, accountKey},
			[]any{
				&uniqueIndexEntity{Key: subjectKey, AccountID: id, CreatedAt: now},
				&uniqueIndexEntity{Key: emailKey, AccountID: id, CreatedAt: now},
				entity,
			},
		)
		if err != nil {
			return err
		}
		stored = entity.toModel()
		created = true
		return nil
	})
	if err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return false, err
		}
		return false, fmt.Errorf("datastore: get or create oauth account: %w", err)
	}

	*account = *stored
	return created, nil
}

func (s *Store) GetOAuthAccountByID(ctx context.Context, id string) (*model.OAuthAccount, error) {
	var entity oauthAccountEntity
	if err := s.client.Get(ctx, s.key(KindOAuthAccount, id), &entity); err != nil {
		if isNotFound(err) {
			return nil, apperror.NotFound("account not found")
		}
		return nil, fmt.Errorf("datastore: getting oauth account %s: %w", id, err)
	}
	return entity.toModel(), nil
}
