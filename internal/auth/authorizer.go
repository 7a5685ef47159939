package auth

import "cart-service/internal/apperr"

// Permissions checked by the boundary layer
const (
	PermOrderTransition = "orders:transition"
)

// Authorizer decides whether an actor holds a permission
type Authorizer interface {
	Authorize(actor Actor, permission string) error
}

// RoleAuthorizer grants administrative permissions to one role
type RoleAuthorizer struct {
	AdminRole string
}

func (a RoleAuthorizer) Authorize(actor Actor, permission string) error {
	if !actor.IsAuthenticated() {
		return apperr.PermissionDenied("%s requires an authenticated user", permission)
	}
	if actor.Role != a.AdminRole {
		return apperr.PermissionDenied("role %q lacks %s", actor.Role, permission)
	}
	return nil
}
