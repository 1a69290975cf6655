package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/salary-advance-lending/internal/domain/shared"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the token body issued by the identity collaborator
type Claims struct {
	jwt.RegisteredClaims
	TenantID       string   `json:"tenant_id"`
	OrganizationID *int64   `json:"organization_id,omitempty"`
	Roles          []string `json:"roles"`
}

// TokenValidator verifies HS256 bearer tokens
type TokenValidator struct {
	secret []byte
	issuer string
}

func NewTokenValidator(secret, issuer string) *TokenValidator {
	return &TokenValidator{secret: []byte(secret), issuer: issuer}
}

func (v *TokenValidator) Validate(tokenString string) (Caller, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Caller{}, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}
	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		return Caller{}, fmt.Errorf("%w: tenant_id is not a uuid", ErrInvalidToken)
	}

	caller := Caller{
		UserID:         userID,
		TenantID:       tenantID,
		OrganizationID: claims.OrganizationID,
	}
	for _, role := range claims.Roles {
		caller.Roles = append(caller.Roles, shared.Role(role))
	}
	return caller, nil
}

// Issue signs a token for caller; used by tooling and tests
func (v *TokenValidator) Issue(caller Caller, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.UserID.String(),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TenantID:       caller.TenantID.String(),
		OrganizationID: caller.OrganizationID,
	}
	for _, role := range caller.Roles {
		claims.Roles = append(claims.Roles, string(role))
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
