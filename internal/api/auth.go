package api

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleOrgAdmin = "org_admin"
	RoleAppUser  = "app_user"

	tokenIssuer = "bastion"
)

// Claims identify the caller, the organization it acts for and its role.
type Claims struct {
	Org  string `json:"org"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// SignToken issues an HS256 token for subject in org with role.
func SignToken(secret []byte, subject, org, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Org:  org,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken verifies an HS256 token and returns its claims.
func ParseToken(secret []byte, tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	}, jwt.WithLeeway(30*time.Second), jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" || claims.Org == "" {
		return nil, errors.New("token lacks subject or org")
	}
	return claims, nil
}
