// Package auth resolves request identities and decides what they may do.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Role is the coarse privilege level of an identity.
type Role string

// Roles
const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// ParseRole parses a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleUser:
		return RoleUser, nil
	case RoleAdmin:
		return RoleAdmin, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Capability names one guarded action.
type Capability string

// Capabilities
const (
	CapBookSlot    Capability = "slot:book"
	CapManageSlots Capability = "slot:manage"
	CapManageLots  Capability = "lot:manage"
	CapViewStats   Capability = "stats:view"
)

var roleCapabilities = map[Role]map[Capability]bool{
	RoleUser: {
		CapBookSlot: true,
	},
	RoleAdmin: {
		CapBookSlot:    true,
		CapManageSlots: true,
		CapManageLots:  true,
		CapViewStats:   true,
	},
}

// Identity is an authenticated caller.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	Role     Role   `json:"role"`
}

// Authorization errors.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("forbidden")
)

// Authorize reports whether id may perform capability. A nil identity yields
// ErrUnauthenticated; a known identity lacking the capability yields ErrForbidden.
func Authorize(id *Identity, capability Capability) error {
	if id == nil || id.ID == "" {
		return ErrUnauthenticated
	}
	if !roleCapabilities[id.Role][capability] {
		return fmt.Errorf("role %s lacks %s: %w", id.Role, capability, ErrForbidden)
	}
	return nil
}

type contextKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored in ctx, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(contextKey{}).(*Identity)
	return id
}
