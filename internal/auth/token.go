package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid session token")

// Session is the identity carried by an admin session token.
type Session struct {
	Username  string
	ExpiresAt time.Time
	TokenID   string
}

// TokenManager issues and verifies admin session tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

func NewTokenManager(secret string, ttl time.Duration, issuer string) (*TokenManager, error) {
	if secret == "" {
		return nil, errors.New("token secret required")
	}
	if ttl <= 0 {
		return nil, errors.New("session ttl must be > 0")
	}
	return &TokenManager{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: issuer,
		now:    time.Now,
	}, nil
}

// Issue signs a session token for username.
func (tm *TokenManager) Issue(username string) (string, Session, error) {
	now := tm.now()
	exp := now.Add(tm.ttl)
	id := uuid.NewString()

	claims := jwt.MapClaims{
		"sub": username,
		"iat": now.Unix(),
		"exp": exp.Unix(),
		"iss": tm.issuer,
		"typ": "admin_session",
		"jti": id,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", Session{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, Session{Username: username, ExpiresAt: exp, TokenID: id}, nil
}

// Verify parses a token and returns its session when valid.
func (tm *TokenManager) Verify(raw string) (Session, error) {
	if raw == "" {
		return Session{}, ErrInvalidToken
	}
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return tm.secret, nil
	},
		jwt.WithIssuer(tm.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil || !token.Valid {
		return Session{}, ErrInvalidToken
	}
	if typ, _ := claims["typ"].(string); typ != "admin_session" {
		return Session{}, ErrInvalidToken
	}
	sub, _ := claims.GetSubject()
	exp, _ := claims.GetExpirationTime()
	jti, _ := claims["jti"].(string)
	session := Session{Username: sub, TokenID: jti}
	if exp != nil {
		session.ExpiresAt = exp.Time
	}
	return session, nil
}
