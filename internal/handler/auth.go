// Package handler contains the HTTP handlers. Handlers decode the request,
// call a service workflow and render its Result or error; they hold no
// business rules of their own.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/digest/internal/apperror"
	"github.com/sakif/digest/internal/auth"
	"github.com/sakif/digest/internal/metrics"
	"github.com/sakif/digest/internal/model"
	"github.com/sakif/digest/internal/service"
)

// Authenticator is the slice of service.AuthService the handlers call.
type Authenticator interface {
	Signup(ctx context.Context, in service.SignupInput) (*service.Result, error)
	Login(ctx context.Context, email, password string) (*service.Result, error)
	LoginOrRegisterGoogle(ctx context.Context, profile *auth.GoogleProfile) (*service.Result, error)
	VerifyEmail(ctx context.Context, accountID, token string) (*service.Result, error)
	ResendVerification(ctx context.Context, email string) (*service.Result, error)
	Status(ctx context.Context, p *model.Principal) (*service.Result, error)
}

// OAuthProvider is the authorization-code half of an OAuth provider.
type OAuthProvider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.GoogleProfile, error)
}

// AuthHandler serves the /auth routes and the protected dashboard.
type AuthHandler struct {
	svc         Authenticator
	sessions    *auth.SessionResolver
	google      OAuthProvider // nil when Google sign-in is not configured
	state       *auth.StateSigner
	frontendURL string
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// AuthHandlerConfig carries the optional collaborators of AuthHandler.
type AuthHandlerConfig struct {
	Google      OAuthProvider
	State       *auth.StateSigner
	FrontendURL string
	Metrics     *metrics.Metrics
}

func NewAuthHandler(svc Authenticator, sessions *auth.SessionResolver, cfg AuthHandlerConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		svc:         svc,
		sessions:    sessions,
		google:      cfg.Google,
		state:       cfg.State,
		frontendURL: strings.TrimRight(cfg.FrontendURL, "/"),
		metrics:     cfg.Metrics,
		logger:      logger,
	}
}

type signupRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Avatar   string `json:"avatar"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type resendRequest struct {
	Email string `json:"email"`
}

// HandleSignup creates an unverified account and mails its verification link.
//
// HTTP: POST /auth/signup
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	err := decodeJSON(w, r, &req)
	if err == nil {
		var res *service.Result
		res, err = h.svc.Signup(r.Context(), service.SignupInput{
			FullName: req.FullName,
			Email:    req.Email,
			Password: req.Password,
			Avatar:   req.Avatar,
		})
		if err == nil {
			h.metrics.ObserveAuth(metrics.OpSignup, nil)
			writeResult(w, http.StatusCreated, res)
			return
		}
	}
	h.metrics.ObserveAuth(metrics.OpSignup, err)
	writeError(w, h.logger, err)
}

// HandleLogin checks credentials and starts a session.
//
// HTTP: POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	res, err := h.login(w, r)
	h.metrics.ObserveAuth(metrics.OpLogin, err)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeResult(w, http.StatusOK, res)
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) (*service.Result, error) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return nil, err
	}
	res, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		return nil, err
	}
	if err := h.sessions.Establish(r.Context(), *res.Principal); err != nil {
		return nil, apperror.Persistence("establishing session", err)
	}
	return res, nil
}

// HandleLogout destroys the session. Logging out without a session succeeds.
//
// HTTP: GET /auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Destroy(r.Context()); err != nil {
		err = apperror.Persistence("destroying session", err)
		h.metrics.ObserveAuth(metrics.OpLogout, err)
		writeError(w, h.logger, err)
		return
	}
	h.metrics.ObserveAuth(metrics.OpLogout, nil)
	writeJSON(w, http.StatusOK, Response{Status: service.StatusSuccess, Message: "logged out"})
}

// HandleStatus reports who is logged in.
//
// HTTP: GET /auth/status
func (h *AuthHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var principal *model.Principal
	if p, ok := h.sessions.Principal(ctx); ok {
		principal = &p
	}

	res, err := h.svc.Status(ctx, principal)
	h.metrics.ObserveAuth(metrics.OpStatus, err)
	if err != nil {
		// The session names an account that is gone or no longer usable.
		if principal != nil && errors.Is(err, apperror.ErrUnauthorized) {
			_ = h.sessions.Destroy(ctx)
		}
		writeError(w, h.logger, err)
		return
	}
	writeResult(w, http.StatusOK, res)
}

// HandleGoogleStart redirects the browser to Google's consent screen.
//
// HTTP: GET /auth/google?redirect=/path
//
// The signed state carries a nonce that is also parked in the session, so
// a callback replayed into a different browser fails the comparison.
func (h *AuthHandler) HandleGoogleStart(w http.ResponseWriter, r *http.Request) {
	token, nonce, err := h.state.Issue(safeRedirect(r.URL.Query().Get("redirect")))
	if err != nil {
		writeError(w, h.logger, apperror.Persistence("issuing oauth state", err))
		return
	}
	h.sessions.PutOAuthNonce(r.Context(), nonce)
	http.Redirect(w, r, h.google.AuthURL(token), http.StatusFound)
}

// HandleGoogleCallback finishes the authorization-code flow.
//
// HTTP: GET /auth/google/callback?code=...&state=...
//
// Steps:
//  1. A provider error (the user pressed "Cancel") goes back to the login page.
//  2. The state must parse and match the nonce in this browser's session.
//  3. The code is exchanged for the user's profile.
//  4. The account is fetched or created, and only then is a session set.
func (h *AuthHandler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if reason := q.Get("error"); reason != "" {
		h.logger.Info("oauth denied by user", slog.String("reason", reason))
		h.metrics.ObserveAuth(metrics.OpOAuth, apperror.Unauthorized("oauth denied"))
		h.redirectToFrontend(w, r, "/login?auth=denied")
		return
	}

	nonce := h.sessions.PopOAuthNonce(ctx)
	st, err := h.state.Parse(q.Get("state"))
	if err != nil || nonce == "" || st.Nonce != nonce {
		h.logger.Warn("oauth state rejected", slog.Bool("nonce_present", nonce != ""))
		err := apperror.ValidationFailed("state", "invalid or expired sign-in attempt, please try again")
		h.metrics.ObserveAuth(metrics.OpOAuth, err)
		writeError(w, h.logger, err)
		return
	}

	code := q.Get("code")
	if code == "" {
		err := apperror.ValidationFailed("code", "missing authorization code")
		h.metrics.ObserveAuth(metrics.OpOAuth, err)
		writeError(w, h.logger, err)
		return
	}

	profile, err := h.google.Exchange(ctx, code)
	if err != nil {
		h.logger.Error("oauth exchange failed", slog.String("error", err.Error()))
		h.metrics.ObserveAuth(metrics.OpOAuth, apperror.External("google", err))
		h.redirectToFrontend(w, r, "/login?auth=failed")
		return
	}

	res, err := h.svc.LoginOrRegisterGoogle(ctx, profile)
	if err == nil {
		if serr := h.sessions.Establish(ctx, *res.Principal); serr != nil {
			err = apperror.Persistence("establishing session", serr)
		}
	}
	h.metrics.ObserveAuth(metrics.OpOAuth, err)
	if err != nil {
		h.logger.Error("oauth login failed", slog.String("error", err.Error()))
		h.redirectToFrontend(w, r, "/login?auth=failed")
		return
	}

	h.redirectToFrontend(w, r, st.Redirect)
}

// HandleVerify consumes the link mailed at signup.
//
// HTTP: GET /auth/verify/{accountId}/{token}
func (h *AuthHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.VerifyEmail(r.Context(), chi.URLParam(r, "accountId"), chi.URLParam(r, "token"))
	h.metrics.ObserveAuth(metrics.OpVerify, err)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeResult(w, http.StatusOK, res)
}

// HandleResend issues a new verification link.
//
// HTTP: POST /auth/verify/resend
func (h *AuthHandler) HandleResend(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	err := decodeJSON(w, r, &req)
	if err == nil {
		var res *service.Result
		if res, err = h.svc.ResendVerification(r.Context(), req.Email); err == nil {
			h.metrics.ObserveAuth(metrics.OpResend, nil)
			writeResult(w, http.StatusAccepted, res)
			return
		}
	}
	h.metrics.ObserveAuth(metrics.OpResend, err)
	writeError(w, h.logger, err)
}

// HandleDashboard greets the authenticated user.
//
// HTTP: GET /api/dashboard
// Auth: Required
func (h *AuthHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.Unauthorized("not authenticated"))
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Status:  service.StatusSuccess,
		Message: "Welcome, " + account.DisplayName,
		User:    account,
	})
}

func (h *AuthHandler) redirectToFrontend(w http.ResponseWriter, r *http.Request, path string) {
	http.Redirect(w, r, h.frontendURL+path, http.StatusSeeOther)
}

// safeRedirect keeps post-login destinations on the frontend: only
// absolute paths are accepted, and "//host" is not a path.
func safeRedirect(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return "/"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return raw
}
