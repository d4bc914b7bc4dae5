package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"

	"github.com/sakif/digest/internal/model"
)

// Session keys. Only the principal tag and id are stored; the account is
// looked up again on every request.
const (
	sessionKindKey  = "principal.kind"
	sessionIDKey    = "principal.id"
	oauthNonceKey   = "oauth.nonce"
	defaultLifetime = 24 * time.Hour
)

// CookieConfig controls the session cookie.
type CookieConfig struct {
	Name     string
	Lifetime time.Duration
	Secure   bool
	SameSite string // "lax", "strict" or "none"
}

// ParseSameSite maps a config value to http.SameSite.
func ParseSameSite(v string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("auth: unknown same_site value %q", v)
	}
}

// NewSessionManager returns an scs manager on store with an HttpOnly cookie.
// SameSite=None requires Secure, so it is forced on in that case.
func NewSessionManager(store scs.Store, cfg CookieConfig) (*scs.SessionManager, error) {
	sameSite, err := ParseSameSite(cfg.SameSite)
	if err != nil {
		return nil, err
	}

	sm := scs.New()
	sm.Store = store
	sm.Lifetime = cfg.Lifetime
	if sm.Lifetime <= 0 {
		sm.Lifetime = defaultLifetime
	}
	if cfg.Name != "" {
		sm.Cookie.Name = cfg.Name
	}
	sm.Cookie.HttpOnly = true
	sm.Cookie.Path = "/"
	sm.Cookie.Persist = true
	sm.Cookie.SameSite = sameSite
	sm.Cookie.Secure = cfg.Secure || sameSite == http.SameSiteNoneMode

	return sm, nil
}

// SessionResolver maps a request's session to a Principal and back.
//
// SERVER-SIDE SESSIONS:
// The browser only holds an opaque random token in an HttpOnly cookie. The
// principal it maps to lives in the scs store (SQLite or Datastore), so
// logout is a real delete: once the row is gone the cookie is worthless,
// even if someone copied it. Compare a signed JWT cookie, which stays valid
// until it expires no matter what the server does.
type SessionResolver struct {
	sm *scs.SessionManager
}

func NewSessionResolver(sm *scs.SessionManager) *SessionResolver {
	return &SessionResolver{sm: sm}
}

// Manager exposes the scs manager so the router can install LoadAndSave.
func (r *SessionResolver) Manager() *scs.SessionManager {
	return r.sm
}

// Establish binds p to the current session.
//
// SESSION FIXATION:
// The token is renewed before the principal is stored. An attacker who
// planted a session id in the victim's browser before login is left holding
// an id that no longer exists.
func (r *SessionResolver) Establish(ctx context.Context, p model.Principal) error {
	if err := r.sm.RenewToken(ctx); err != nil {
		return fmt.Errorf("auth: renewing session token: %w", err)
	}
	r.sm.Put(ctx, sessionKindKey, string(p.Kind))
	r.sm.Put(ctx, sessionIDKey, p.ID)
	return nil
}

// Principal returns the principal stored in the session, if any.
func (r *SessionResolver) Principal(ctx context.Context) (model.Principal, bool) {
	kind := model.PrincipalKind(r.sm.GetString(ctx, sessionKindKey))
	id := r.sm.GetString(ctx, sessionIDKey)
	if !kind.Valid() || id == "" {
		return model.Principal{}, false
	}
	return model.Principal{Kind: kind, ID: id}, true
}

// Destroy deletes the session server side and expires the cookie.
// Destroying a session that holds nothing is not an error.
func (r *SessionResolver) Destroy(ctx context.Context) error {
	if err := r.sm.Destroy(ctx); err != nil {
		return fmt.Errorf("auth: destroying session: %w", err)
	}
	return nil
}

// PutOAuthNonce remembers the nonce of an OAuth flow in progress.
func (r *SessionResolver) PutOAuthNonce(ctx context.Context, nonce string) {
	r.sm.Put(ctx, oauthNonceKey, nonce)
}

// PopOAuthNonce returns and clears the pending OAuth nonce.
func (r *SessionResolver) PopOAuthNonce(ctx context.Context) string {
	return r.sm.PopString(ctx, oauthNonceKey)
}
