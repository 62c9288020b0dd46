package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	RoleAdmin     = "ADMIN"
	RoleFrontDesk = "FRONT_DESK"
	RoleDoctor    = "DOCTOR"
)

// Claims is the session issued by the identity provider.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string  `json:"user_id"`
	Role     string  `json:"role"`
	ClinicID *string `json:"clinic_id,omitempty"`
}

func BuildJWT(secret []byte, userID, role string, clinicID *string, exp time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(exp)),
		},
		UserID:   userID,
		Role:     role,
		ClinicID: clinicID,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(secret)
}

// ParseJWT accepts only HS256 tokens signed with secret.
func ParseJWT(secret []byte, tokenString string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, &IdentityError{Reason: ReasonInvalidToken, Err: err}
	}
	if c, ok := t.Claims.(*Claims); ok && t.Valid {
		return c, nil
	}
	return nil, &IdentityError{Reason: ReasonInvalidToken, Err: jwt.ErrTokenInvalidClaims}
}

// Reason is why a caller could not be identified or authorized.
type Reason string

const (
	ReasonMissingSession Reason = "missing_session"
	ReasonInvalidToken   Reason = "invalid_token"
	ReasonNoClinic       Reason = "no_clinic"
	ReasonForbiddenRole  Reason = "forbidden_role"
)

type IdentityError struct {
	Reason Reason
	Err    error
}

func (e *IdentityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("identity: %s: %v", e.Reason, e.Err)
	}
	return "identity: " + string(e.Reason)
}

func (e *IdentityError) Unwrap() error { return e.Err }

// Forbidden reports whether err means "known caller, not allowed" (403) rather than 401.
func Forbidden(err error) bool {
	var ie *IdentityError
	return errors.As(err, &ie) && ie.Reason == ReasonForbiddenRole
}
