package rbac

// Role names. Keep these stable; the identity system issues them.
const (
	RoleAgent      = "agent"
	RoleSupervisor = "supervisor"
	RoleAdmin      = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

// CanActForOthers reports whether role may drive another agent's session.
func CanActForOthers(role string) bool {
	return role == RoleSupervisor || role == RoleAdmin
}
