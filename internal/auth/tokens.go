package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind distinguishes short-lived access tokens from long-lived
// refresh tokens. A token of one kind is never accepted where the other
// is expected.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

var (
	// ErrTokenExpired means the signature was fine but the token's
	// validity window has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid covers malformed tokens and bad signatures.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrWrongTokenKind means an otherwise valid token of the wrong kind
	// was presented (e.g. a refresh token on a websocket handshake).
	ErrWrongTokenKind = errors.New("wrong token kind")
)

// Claims is the payload carried by both token kinds.
type Claims struct {
	Kind TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

// TokenPair is the result of a login or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// TokenManager issues and verifies HS256-signed bearer tokens. Tokens are
// stateless: validity is fully determined by signature and expiry, so
// there is no revocation list and refreshing does not invalidate the old
// refresh token.
type TokenManager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	nowFn      func() time.Time // injectable clock for testing
}

// NewTokenManager creates a TokenManager signing with the given secret.
func NewTokenManager(secret string, accessTTL, refreshTTL time.Duration) *TokenManager {
	return NewTokenManagerAt(secret, accessTTL, refreshTTL, time.Now)
}

// NewTokenManagerAt creates a TokenManager with an explicit clock.
func NewTokenManagerAt(secret string, accessTTL, refreshTTL time.Duration, nowFn func() time.Time) *TokenManager {
	return &TokenManager{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		nowFn:      nowFn,
	}
}

// Issue creates a fresh access/refresh token pair for the subject.
func (tm *TokenManager) Issue(subject string) (TokenPair, error) {
	access, err := tm.sign(subject, TokenAccess, tm.accessTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := tm.sign(subject, TokenRefresh, tm.refreshTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(tm.accessTTL.Seconds()),
	}, nil
}

func (tm *TokenManager) sign(subject string, kind TokenKind, ttl time.Duration) (string, error) {
	now := tm.nowFn()
	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.New().String(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
}

// Verify checks signature, expiry, and kind, failing with a distinct error
// for each.
func (tm *TokenManager) Verify(tokenString string, kind TokenKind) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return tm.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(tm.nowFn),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Kind != kind {
		return nil, fmt.Errorf("%w: expected %s token", ErrWrongTokenKind, kind)
	}
	return claims, nil
}

// Refresh validates a refresh token and issues a new pair for its subject.
func (tm *TokenManager) Refresh(refreshToken string) (TokenPair, error) {
	claims, err := tm.Verify(refreshToken, TokenRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	return tm.Issue(claims.Subject)
}
