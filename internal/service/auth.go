// Package service holds the business rules. Handlers call it; it calls the
// repositories, the password service and the verification ledger. Nothing
// here knows about HTTP, cookies or sessions: workflows return a Result
// naming the principal to log in, and the handler establishes the session.
//
//	AuthHandler (HTTP) → AuthService → EmailAccountRepository / OAuthAccountRepository
//	                               ↘ VerificationLedger → VerificationRepository, mail.Sender
package service

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"

	"github.com/sakif/digest/internal/apperror"
	"github.com/sakif/digest/internal/auth"
	"github.com/sakif/digest/internal/model"
	"github.com/sakif/digest/internal/repository"
)

const minPasswordLength = 8

var (
	displayNamePattern = regexp.MustCompile(`^[A-Za-z ]+$`)
	emailPattern       = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// Messages the client sees.
const (
	msgAlreadyExists      = "already exists"
	msgIncorrectCreds     = "incorrect credentials"
	msgNotVerified        = "account not verified"
	msgNotAuthenticated   = "not authenticated"
	msgVerificationSent   = "verification email sent, check your inbox"
	msgResendNeutral      = "if an unverified account exists for this email, a new link has been sent"
	msgLoginSucceeded     = "login successful"
	msgAccountVerified    = "email verified, you can now log in"
	msgAuthenticated      = "authenticated"
	msgOAuthLoginComplete = "signed in with Google"
)

// SignupInput is the signup request after JSON decoding.
type SignupInput struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Avatar   string `json:"avatar"`
}

// AuthService runs the authentication workflows.
type AuthService struct {
	emails    repository.EmailAccountRepository
	oauth     repository.OAuthAccountRepository
	ledger    *VerificationLedger
	passwords *auth.PasswordService
	logger    *slog.Logger
}

func NewAuthService(
	emails repository.EmailAccountRepository,
	oauth repository.OAuthAccountRepository,
	ledger *VerificationLedger,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		emails:    emails,
		oauth:     oauth,
		ledger:    ledger,
		passwords: passwords,
		logger:    logger,
	}
}

// Signup creates an unverified EmailAccount and mails its verification
// link. The steps run in order and stop at the first failure:
// validate → check email → hash → create account → issue token.
//
// If only the mail step fails the account and record exist and the error
// wraps apperror.ErrExternal.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (*Result, error) {
	in, err := validateSignup(in)
	if err != nil {
		return nil, err
	}

	_, err = s.emails.GetEmailAccountByEmail(ctx, in.Email)
	switch {
	case err == nil:
		return nil, apperror.Conflict(msgAlreadyExists)
	case !errors.Is(err, apperror.ErrNotFound):
		s.logger.Error("signup lookup failed", slog.String("error", err.Error()))
		return nil, apperror.Persistence("looking up account", err)
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, apperror.Persistence("hashing password", err)
	}

	account := &model.EmailAccount{
		DisplayName:  in.FullName,
		Email:        in.Email,
		PasswordHash: hash,
		AvatarRef:    in.Avatar,
	}
	if err := s.emails.CreateEmailAccount(ctx, account); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.Conflict(msgAlreadyExists)
		}
		s.logger.Error("creating account failed", slog.String("error", err.Error()))
		return nil, apperror.Persistence("creating account", err)
	}

	s.logger.Info("account created", slog.String("accountID", account.ID))

	if err := s.ledger.IssueToken(ctx, account); err != nil {
		return nil, err
	}

	return &Result{
		Status:  StatusPending,
		Message: msgVerificationSent,
		Account: account.Public(),
	}, nil
}

func validateSignup(in SignupInput) (SignupInput, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Avatar = strings.TrimSpace(in.Avatar)

	switch {
	case in.FullName == "":
		return in, apperror.ValidationFailed("fullName", "full name is required")
	case in.Email == "":
		return in, apperror.ValidationFailed("email", "email is required")
	case strings.TrimSpace(in.Password) == "":
		return in, apperror.ValidationFailed("password", "password is required")
	case !displayNamePattern.MatchString(in.FullName):
		return in, apperror.ValidationFailed("fullName", "full name may only contain letters and spaces")
	case !emailPattern.MatchString(in.Email):
		return in, apperror.ValidationFailed("email", "invalid email format")
	case len(in.Password) < minPasswordLength:
		return in, apperror.ValidationFailed("password", "password must be at least 8 characters")
	case len(in.Password) > maxTokenBytes:
		return in, apperror.ValidationFailed("password", "password must be at most 72 bytes")
	}
	return in, nil
}

// Login checks credentials for a verified EmailAccount.
//
// An unknown email and a wrong password give the same "incorrect
// credentials" answer, and the unknown case still spends a bcrypt
// comparison. An unverified account is refused before the password is
// checked.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Result, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, apperror.ValidationFailed("email", "email and password are required")
	}

	account, err := s.emails.GetEmailAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			_ = s.passwords.VerifyDummy(password)
			return nil, apperror.Unauthorized(msgIncorrectCreds)
		}
		s.logger.Error("login lookup failed", slog.String("error", err.Error()))
		return nil, apperror.Persistence("looking up account", err)
	}

	if !account.Verified {
		return nil, apperror.Forbidden(msgNotVerified)
	}

	if err := s.passwords.Verify(account.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrMismatch) {
			return nil, apperror.Unauthorized(msgIncorrectCreds)
		}
		s.logger.Error("comparing password failed", slog.String("accountID", account.ID), slog.String("error", err.Error()))
		return nil, apperror.Persistence("comparing password", err)
	}

	principal := account.Principal()
	s.logger.Info("login succeeded", slog.String("accountID", account.ID))
	return &Result{
		Status:    StatusSuccess,
		Message:   msgLoginSucceeded,
		Account:   account.Public(),
		Principal: &principal,
	}, nil
}

// LoginOrRegisterGoogle maps a provider profile to a local OAuthAccount,
// creating it on the first login for that subject.
//
// The account is persisted before the Result names a principal, so a
// failed callback never leaves a session pointing at nothing.
func (s *AuthService) LoginOrRegisterGoogle(ctx context.Context, profile *auth.GoogleProfile) (*Result, error) {
	if profile == nil || profile.Subject == "" {
		return nil, apperror.ValidationFailed("profile", "provider profile is incomplete")
	}

	account := &model.OAuthAccount{
		ProviderSubjectID: profile.Subject,
		DisplayName:       profile.Name,
		Email:             strings.ToLower(profile.Email),
		AvatarRef:         profile.Picture,
	}
	created, err := s.oauth.GetOrCreateOAuthAccount(ctx, account)
	if err != nil {
		s.logger.Error("oauth account lookup failed", slog.String("error", err.Error()))
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.Conflict("an account with this email already exists")
		}
		return nil, apperror.Persistence("saving oauth account", err)
	}

	s.logger.Info("user authenticated via Google",
		slog.String("accountID", account.ID),
		slog.Bool("created", created),
	)

	principal := account.Principal()
	return &Result{
		Status:    StatusSuccess,
		Message:   msgOAuthLoginComplete,
		Account:   account.Public(),
		Principal: &principal,
	}, nil
}

// VerifyEmail consumes a verification link.
func (s *AuthService) VerifyEmail(ctx context.Context, accountID, token string) (*Result, error) {
	if strings.TrimSpace(accountID) == "" || strings.TrimSpace(token) == "" {
		return nil, apperror.Mismatch(msgInvalidProof)
	}
	if err := s.ledger.ConsumeToken(ctx, accountID, token); err != nil {
		return nil, err
	}
	return &Result{Status: StatusSuccess, Message: msgAccountVerified}, nil
}

// ResendVerification issues a fresh link for an unverified account. The
// answer is the same whether or not such an account exists.
func (s *AuthService) ResendVerification(ctx context.Context, email string) (*Result, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !emailPattern.MatchString(email) {
		return nil, apperror.ValidationFailed("email", "invalid email format")
	}

	neutral := &Result{Status: StatusPending, Message: msgResendNeutral}

	account, err := s.emails.GetEmailAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return neutral, nil
		}
		return nil, apperror.Persistence("looking up account", err)
	}
	if account.Verified {
		return neutral, nil
	}

	if err := s.ledger.IssueToken(ctx, account); err != nil {
		return nil, err
	}
	return neutral, nil
}

// ResolvePrincipal loads the account a session points at. A principal whose
// account no longer exists is unauthenticated, not an error.
func (s *AuthService) ResolvePrincipal(ctx context.Context, p model.Principal) (*model.PublicAccount, error) {
	var (
		account *model.PublicAccount
		err     error
	)

	switch p.Kind {
	case model.PrincipalEmail:
		var a *model.EmailAccount
		if a, err = s.emails.GetEmailAccountByID(ctx, p.ID); err == nil {
			if !a.Verified {
				return nil, apperror.Unauthorized(msgNotAuthenticated)
			}
			account = a.Public()
		}
	case model.PrincipalOAuth:
		var a *model.OAuthAccount
		if a, err = s.oauth.GetOAuthAccountByID(ctx, p.ID); err == nil {
			account = a.Public()
		}
	default:
		return nil, apperror.Unauthorized(msgNotAuthenticated)
	}

	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized(msgNotAuthenticated)
		}
		return nil, apperror.Persistence("resolving session account", err)
	}
	return account, nil
}

// Status reports who the session belongs to. It only reads the store.
func (s *AuthService) Status(ctx context.Context, p *model.Principal) (*Result, error) {
	if p == nil {
		return nil, apperror.Unauthorized(msgNotAuthenticated)
	}
	account, err := s.ResolvePrincipal(ctx, *p)
	if err != nil {
		return nil, err
	}
	return &Result{Status: StatusSuccess, Message: msgAuthenticated, Account: account}, nil
}
