package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vaultofvirtue/techescape/internal/domain"
	"github.com/vaultofvirtue/techescape/internal/errors"
)

// DefaultTokenTTL is the auth token validity window. It is deliberately much
// longer than the one-hour challenge session: holding a valid token says
// nothing about the challenge clock.
const DefaultTokenTTL = 7 * 24 * time.Hour

// Claims carried by a verified bearer token.
type Claims struct {
	UID      string
	Username string
	IsAdmin  bool
}

// Issuer mints and verifies HS256-signed bearer tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Issuer{secret: secret, ttl: ttl, now: time.Now}
}

func (i *Issuer) Issue(u *domain.User) (string, error) {
	now := i.now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"uid":      u.ID,
		"username": u.Username,
		"isAdmin":  u.IsAdmin,
		"iat":      now.Unix(),
		"exp":      now.Add(i.ttl).Unix(),
	})

	signed, err := t.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry and extracts the identity claims.
// Malformed, tampered and expired tokens all fail with CodeInvalidToken.
func (i *Issuer) Verify(token string) (Claims, error) {
	parsed, err := jwt.Parse(token,
		func(t *jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return Claims{}, errors.New(errors.CodeInvalidToken, errors.WithCause(err))
	}

	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, errors.New(errors.CodeInvalidToken)
	}

	uid, _ := mc["uid"].(string)
	username, _ := mc["username"].(string)
	isAdmin, _ := mc["isAdmin"].(bool)
	if uid == "" {
		return Claims{}, errors.New(errors.CodeInvalidToken,
			errors.WithMessagef("Invalid token claims"))
	}

	return Claims{UID: uid, Username: username, IsAdmin: isAdmin}, nil
}
