package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/digest/internal/apperror"
	"github.com/sakif/digest/internal/auth"
	"github.com/sakif/digest/internal/mail"
	"github.com/sakif/digest/internal/model"
	"github.com/sakif/digest/internal/repository"
)

// DefaultVerificationWindow is how long a verification link stays valid.
const DefaultVerificationWindow = 6 * time.Hour

const sweepBatchSize = 100

// maxTokenBytes is bcrypt's input limit.
const maxTokenBytes = 72

// Consumption failure messages.
const (
	msgNoRecord     = "already verified or never signed up"
	msgLinkExpired  = "link expired, sign up again"
	msgInvalidProof = "invalid verification details"
)

// VerificationLedger issues and consumes single-use email verification
// tokens.
//
// WHY A LEDGER?
// A verification link is a bearer credential: whoever holds it can activate
// the account. Treating it like a password keeps a database leak from
// handing out working links. A token is a random UUID followed by the
// account id. Only its bcrypt hash is stored, in a record keyed by account
// id, so an account has at most one live token.
//
// EXPIRY:
// Nothing runs on a timer to expire a link. ConsumeToken checks expiresAt
// when the link is clicked and purges the signup if it is too late. Sweep
// does the same purge in bulk for links nobody ever clicks.
type VerificationLedger struct {
	records   repository.VerificationRepository
	accounts  repository.EmailAccountRepository
	passwords *auth.PasswordService
	sender    mail.Sender
	logger    *slog.Logger

	baseURL string
	window  time.Duration
	now     func() time.Time
}

// LedgerConfig holds the ledger's tunables.
type LedgerConfig struct {
	// BaseURL is the public origin the verification link points at.
	BaseURL string
	// Window is the token lifetime. Zero means DefaultVerificationWindow.
	Window time.Duration
}

func NewVerificationLedger(
	records repository.VerificationRepository,
	accounts repository.EmailAccountRepository,
	passwords *auth.PasswordService,
	sender mail.Sender,
	cfg LedgerConfig,
	logger *slog.Logger,
) *VerificationLedger {
	window := cfg.Window
	if window <= 0 {
		window = DefaultVerificationWindow
	}
	return &VerificationLedger{
		records:   records,
		accounts:  accounts,
		passwords: passwords,
		sender:    sender,
		logger:    logger,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		window:    window,
		now:       time.Now,
	}
}

// IssueToken replaces any pending token for account with a new one and
// mails the link.
//
// A mail failure returns an ErrExternal error; the account and the new
// record are kept so the user can ask for the link again.
func (l *VerificationLedger) IssueToken(ctx context.Context, account *model.EmailAccount) error {
	token := uuid.NewString() + account.ID

	proofHash, err := l.passwords.Hash(token)
	if err != nil {
		return apperror.Persistence("hashing verification token", err)
	}

	if err := l.records.DeleteVerification(ctx, account.ID); err != nil {
		l.logger.Error("deleting previous verification", slog.String("accountID", account.ID), slog.String("error", err.Error()))
		return apperror.Persistence("deleting previous verification", err)
	}

	now := l.now().UTC()
	record := &model.VerificationRecord{
		AccountID:          account.ID,
		AccountEmail:       account.Email,
		AccountDisplayName: account.DisplayName,
		ProofHash:          proofHash,
		CreatedAt:          now,
		ExpiresAt:          now.Add(l.window),
	}
	if err := l.records.CreateVerification(ctx, record); err != nil {
		l.logger.Error("creating verification", slog.String("accountID", account.ID), slog.String("error", err.Error()))
		return apperror.Persistence("creating verification", err)
	}

	msg := mail.Verification{
		To:   account.Email,
		Name: account.DisplayName,
		Link: l.link(account.ID, token),
	}
	if err := l.sender.SendVerification(ctx, msg); err != nil {
		l.logger.Warn("verification email not delivered",
			slog.String("accountID", account.ID),
			slog.String("error", err.Error()),
		)
		return apperror.External("mail service", err)
	}

	l.logger.Info("verification issued",
		slog.String("accountID", account.ID),
		slog.Time("expiresAt", record.ExpiresAt),
	)
	return nil
}

func (l *VerificationLedger) link(accountID, token string) string {
	return fmt.Sprintf("%s/auth/verify/%s/%s", l.baseURL, url.PathEscape(accountID), url.PathEscape(token))
}

// ConsumeToken checks a presented token and verifies the account.
//
//  1. No record: NotFound. Also what a second, successful click sees.
//  2. Record expired: the record and its unverified account are deleted,
//     whatever token was presented. Expired.
//  3. Token does not match: nothing changes. Mismatch.
//  4. Match on an account that is gone or already verified: the stray
//     record is deleted. NotFound.
//  5. Match: the account is marked verified and the record deleted.
//
// SINGLE USE:
// The record is the token's only state. Deleting it after a match is what
// makes the link one-shot, and step 4 keeps it one-shot even when that
// delete failed on an earlier click: a verified account never verifies
// twice.
func (l *VerificationLedger) ConsumeToken(ctx context.Context, accountID, token string) error {
	record, err := l.records.GetVerificationByAccountID(ctx, accountID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.NotFound(msgNoRecord)
		}
		return apperror.Persistence("loading verification", err)
	}

	if record.IsExpired(l.now()) {
		if err := l.purge(ctx, record); err != nil {
			return err
		}
		l.logger.Info("expired verification purged", slog.String("accountID", accountID))
		return apperror.Expired(msgLinkExpired)
	}

	if err := l.checkProof(record.ProofHash, token); err != nil {
		return err
	}

	account, err := l.accounts.GetEmailAccountByID(ctx, accountID)
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		l.dropStray(ctx, accountID, "account missing")
		return apperror.NotFound(msgNoRecord)
	case err != nil:
		return apperror.Persistence("loading account for verification", err)
	case account.Verified:
		l.dropStray(ctx, accountID, "account already verified")
		return apperror.NotFound(msgNoRecord)
	}

	if err := l.accounts.MarkEmailAccountVerified(ctx, accountID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			l.dropStray(ctx, accountID, "account missing")
			return apperror.NotFound(msgNoRecord)
		}
		return apperror.Persistence("marking account verified", err)
	}

	// A leftover record is caught by the already-verified check above.
	if err := l.records.DeleteVerification(ctx, accountID); err != nil {
		l.logger.Error("deleting consumed verification", slog.String("accountID", accountID), slog.String("error", err.Error()))
	}

	l.logger.Info("account verified", slog.String("accountID", accountID))
	return nil
}

// dropStray deletes a record that no longer guards a pending account.
// Failure is only logged; the caller answers NotFound either way.
func (l *VerificationLedger) dropStray(ctx context.Context, accountID, reason string) {
	if err := l.records.DeleteVerification(ctx, accountID); err != nil {
		l.logger.Error("deleting stray verification",
			slog.String("accountID", accountID),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return
	}
	l.logger.Warn("stray verification deleted", slog.String("accountID", accountID), slog.String("reason", reason))
}

func (l *VerificationLedger) checkProof(proofHash, token string) error {
	if token == "" || len(token) > maxTokenBytes {
		return apperror.Mismatch(msgInvalidProof)
	}
	err := l.passwords.Verify(proofHash, token)
	if err == nil {
		return nil
	}
	if errors.Is(err, auth.ErrMismatch) {
		return apperror.Mismatch(msgInvalidProof)
	}
	return apperror.Persistence("comparing verification proof", err)
}

// purge deletes an expired record and the account it was holding open.
// A verified account is never deleted.
//
// The account goes first. If that fails the record stays, so the next
// click or sweep finds it and tries again.
func (l *VerificationLedger) purge(ctx context.Context, record *model.VerificationRecord) error {
	account, err := l.accounts.GetEmailAccountByID(ctx, record.AccountID)
	switch {
	case errors.Is(err, apperror.ErrNotFound):
	case err != nil:
		return apperror.Persistence("loading account for expired verification", err)
	case !account.Verified:
		if err := l.accounts.DeleteEmailAccount(ctx, record.AccountID); err != nil {
			l.logger.Error("deleting unverified account",
				slog.String("accountID", record.AccountID),
				slog.String("error", err.Error()),
			)
			return apperror.Persistence("deleting unverified account", err)
		}
	}

	if err := l.records.DeleteVerification(ctx, record.AccountID); err != nil {
		return apperror.Persistence("deleting expired verification", err)
	}
	return nil
}

// Sweep purges every expired record and reports how many it removed.
func (l *VerificationLedger) Sweep(ctx context.Context) (int, error) {
	purged := 0
	for {
		expired, err := l.records.ListExpiredVerifications(ctx, l.now(), sweepBatchSize)
		if err != nil {
			return purged, apperror.Persistence("listing expired verifications", err)
		}

		for i := range expired {
			if err := l.purge(ctx, &expired[i]); err != nil {
				return purged, err
			}
			purged++
		}

		if len(expired) < sweepBatchSize {
			return purged, nil
		}
	}
}
