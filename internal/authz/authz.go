// Package authz answers "may this user do that" from the roles stored on the
// user account.
package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/Paisa224/ferreteria/internal/domain"
	"github.com/Paisa224/ferreteria/internal/store"
)

type UserLookup interface {
	GetUserByID(ctx context.Context, id int64) (*domain.UserAccount, error)
}

var allCapabilities = []domain.Capability{
	domain.CapInventoryManage,
	domain.CapCashManage,
	domain.CapCashOpen,
	domain.CapCashClose,
	domain.CapCashMove,
	domain.CapCashCount,
	domain.CapPOSSell,
}

// DefaultRoleCapabilities is the built-in role table.
func DefaultRoleCapabilities() map[string][]domain.Capability {
	return map[string][]domain.Capability{
		domain.RoleSuperAdmin: allCapabilities,
		domain.RoleVendedor: {
			domain.CapPOSSell,
			domain.CapCashOpen,
			domain.CapCashCount,
			domain.CapCashClose,
			domain.CapCashMove,
		},
	}
}

type RoleAuthorizer struct {
	users UserLookup
	roles map[string]map[domain.Capability]struct{}
}

func NewRoleAuthorizer(users UserLookup, table map[string][]domain.Capability) *RoleAuthorizer {
	if table == nil {
		table = DefaultRoleCapabilities()
	}
	roles := make(map[string]map[domain.Capability]struct{}, len(table))
	for role, caps := range table {
		set := make(map[domain.Capability]struct{}, len(caps))
		for _, c := range caps {
			set[c] = struct{}{}
		}
		roles[role] = set
	}
	return &RoleAuthorizer{users: users, roles: roles}
}

// HasCapability is false for unknown and inactive users.
func (a *RoleAuthorizer) HasCapability(ctx context.Context, userID int64, capability domain.Capability) (bool, error) {
	caps, err := a.Capabilities(ctx, userID)
	if err != nil {
		return false, err
	}
	_, ok := caps[capability]
	return ok, nil
}

// HasAny reports whether the user holds at least one of capabilities. An
// empty list only requires an active account.
func (a *RoleAuthorizer) HasAny(ctx context.Context, userID int64, capabilities ...domain.Capability) (bool, error) {
	caps, err := a.Capabilities(ctx, userID)
	if err != nil {
		return false, err
	}
	if len(capabilities) == 0 {
		return len(caps) > 0 || a.isActive(ctx, userID), nil
	}
	for _, c := range capabilities {
		if _, ok := caps[c]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (a *RoleAuthorizer) Capabilities(ctx context.Context, userID int64) (map[domain.Capability]struct{}, error) {
	user, err := a.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return map[domain.Capability]struct{}{}, nil
		}
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}
	granted := make(map[domain.Capability]struct{})
	if !user.Active {
		return granted, nil
	}
	for _, role := range user.Roles {
		for c := range a.roles[role] {
			granted[c] = struct{}{}
		}
	}
	return granted, nil
}

func (a *RoleAuthorizer) isActive(ctx context.Context, userID int64) bool {
	user, err := a.users.GetUserByID(ctx, userID)
	return err == nil && user.Active
}
