package auth

import (
	"context"
	"slices"

	"github.com/google/uuid"
)

type contextKey string

const claimsKey contextKey = "claims"

func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

func ClaimsFrom(ctx context.Context) *Claims {
	if c, _ := ctx.Value(claimsKey).(*Claims); c != nil {
		return c
	}
	return nil
}

func RoleFrom(ctx context.Context) string {
	c := ClaimsFrom(ctx)
	if c == nil {
		return ""
	}
	return c.Role
}

// Session is a caller resolved to a clinic.
type Session struct {
	UserID   uuid.UUID
	ClinicID uuid.UUID
	Role     string
}

// SessionFrom resolves the caller and checks its role is one of roles (any role when empty).
func SessionFrom(ctx context.Context, roles ...string) (*Session, error) {
	c := ClaimsFrom(ctx)
	if c == nil {
		return nil, &IdentityError{Reason: ReasonMissingSession}
	}
	userID, err := uuid.Parse(c.UserID)
	if err != nil {
		return nil, &IdentityError{Reason: ReasonInvalidToken, Err: err}
	}
	if len(roles) > 0 && !slices.Contains(roles, c.Role) {
		return nil, &IdentityError{Reason: ReasonForbiddenRole}
	}
	if c.ClinicID == nil {
		return nil, &IdentityError{Reason: ReasonNoClinic}
	}
	clinicID, err := uuid.Parse(*c.ClinicID)
	if err != nil {
		return nil, &IdentityError{Reason: ReasonNoClinic, Err: err}
	}
	return &Session{UserID: userID, ClinicID: clinicID, Role: c.Role}, nil
}
