package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"
)

const (
	stateIssuer = "digest"
	stateTTL    = 10 * time.Minute
)

// ErrStateExpired is returned by Parse when the OAuth round trip took longer
// than the state's lifetime.
var ErrStateExpired = errors.New("auth: oauth state expired")

// StateSigner issues and checks the OAuth "state" parameter.
//
// The state is a compact HS256 JWT carrying a random nonce and the path to
// return to after login. The nonce is also stored in the caller's session
// when the flow starts; the callback accepts the state only if the
// signature is valid, it has not expired, and its nonce matches the
// session. That binds the callback to the browser that started the flow.
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateSigner returns a StateSigner for secret. The secret must be at
// least 16 characters.
func NewStateSigner(secret string) (*StateSigner, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: state secret must be at least 16 characters")
	}
	return &StateSigner{secret: []byte(secret), ttl: stateTTL, now: time.Now}, nil
}

// OAuthState is the decoded state parameter.
type OAuthState struct {
	Nonce    string
	Redirect string
}

type stateClaims struct {
	Redirect string `json:"rd,omitempty"`
	jwt.RegisteredClaims
}

// Issue returns a signed state and the nonce inside it.
func (s *StateSigner) Issue(redirect string) (token, nonce string, err error) {
	return s.issueWithTTL(redirect, s.ttl)
}

func (s *StateSigner) issueWithTTL(redirect string, ttl time.Duration) (string, string, error) {
	now := s.now()
	nonce := xid.New().String()

	c := stateClaims{
		Redirect: redirect,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        nonce,
			Issuer:    stateIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", "", fmt.Errorf("auth: signing state: %w", err)
	}
	return signed, nonce, nil
}

// Parse verifies a state string and returns its contents. Only HS256 with
// this signer's secret and issuer is accepted.
func (s *StateSigner) Parse(token string) (*OAuthState, error) {
	parsed, err := jwt.ParseWithClaims(
		token,
		&stateClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", t.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrStateExpired
		}
		return nil, fmt.Errorf("auth: invalid state: %w", err)
	}

	c, ok := parsed.Claims.(*stateClaims)
	if !ok || !parsed.Valid || c.ID == "" {
		return nil, errors.New("auth: invalid state claims")
	}

	return &OAuthState{Nonce: c.ID, Redirect: c.Redirect}, nil
}
