package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/digest/internal/apperror"
	"github.com/sakif/digest/internal/model"
)

// contextKey is unexported so only this package can set or read the
// account stored on a request context.
type contextKey string

const accountKey contextKey = "account"

// AccountResolver turns a session principal into the account it names.
// It returns an error wrapping apperror.ErrUnauthorized when the account
// no longer exists.
type AccountResolver interface {
	ResolvePrincipal(ctx context.Context, p model.Principal) (*model.PublicAccount, error)
}

// RequireAuth rejects requests without a live session with 401.
//
// Both middlewares must run inside the scs LoadAndSave handler, which
// loads the session named by the cookie before they look at it.
func RequireAuth(sessions *SessionResolver, accounts AccountResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account, err := resolve(r, sessions, accounts)
			if err != nil {
				if errors.Is(err, apperror.ErrUnauthorized) {
					writeAuthError(w, http.StatusUnauthorized, "unauthorized", "valid authentication required")
					return
				}
				logger.Error("resolving session principal", slog.String("error", err.Error()))
				writeAuthError(w, http.StatusInternalServerError, "persistence_error", "something went wrong, please try again")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), account)))
		})
	}
}

// OptionalAuth attaches the account when there is one and never blocks.
func OptionalAuth(sessions *SessionResolver, accounts AccountResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if account, err := resolve(r, sessions, accounts); err == nil {
				r = r.WithContext(WithAccount(r.Context(), account))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithAccount returns a copy of ctx carrying account.
func WithAccount(ctx context.Context, account *model.PublicAccount) context.Context {
	return context.WithValue(ctx, accountKey, account)
}

// AccountFromContext returns the authenticated account, or (nil, false)
// for an anonymous request.
func AccountFromContext(ctx context.Context) (*model.PublicAccount, bool) {
	account, ok := ctx.Value(accountKey).(*model.PublicAccount)
	return account, ok && account != nil
}

// resolve reads the principal from the session and looks the account up.
// A principal whose account has gone is dropped from the session.
func resolve(r *http.Request, sessions *SessionResolver, accounts AccountResolver) (*model.PublicAccount, error) {
	ctx := r.Context()
	p, ok := sessions.Principal(ctx)
	if !ok {
		return nil, apperror.Unauthorized("not authenticated")
	}

	account, err := accounts.ResolvePrincipal(ctx, p)
	if err != nil {
		if errors.Is(err, apperror.ErrUnauthorized) {
			_ = sessions.Destroy(ctx)
		}
		return nil, err
	}
	return account, nil
}

func writeAuthError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"status":"FAILED","error":"` + kind + `","message":"` + message + `"}`))
}
