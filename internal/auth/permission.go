package auth

import (
	"context"
	"strings"
)

// RolePermission grants attendance marking to a fixed set of roles.
type RolePermission struct {
	roles map[string]bool
}

// NewRolePermission builds a permission check from role names (case-insensitive).
func NewRolePermission(roles ...string) *RolePermission {
	p := &RolePermission{roles: make(map[string]bool, len(roles))}
	for _, r := range roles {
		if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
			p.roles[r] = true
		}
	}
	return p
}

// CanMarkAttendance reports whether the caller in ctx has a marking role.
func (p *RolePermission) CanMarkAttendance(ctx context.Context) bool {
	claims, ok := ClaimsFrom(ctx)
	if !ok {
		return false
	}
	return p.roles[strings.ToLower(claims.Role)]
}
