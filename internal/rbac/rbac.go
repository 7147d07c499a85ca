package rbac

type Role string
type Action string

const (
	RoleContributor Role = "contributor"
	RoleModerator   Role = "moderator"
	RoleAdmin       Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionSubmit   Action = "submit"
	ActionModerate Action = "moderate"
	ActionAdmin    Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleModerator:
		return action == ActionRead || action == ActionSubmit || action == ActionModerate
	case RoleContributor:
		return action == ActionRead || action == ActionSubmit
	default:
		return false
	}
}

// CanModerate reports whether the global role may moderate content on any board.
func CanModerate(role Role) bool {
	return Can(role, ActionModerate)
}

func CanAdmin(role Role) bool {
	return Can(role, ActionAdmin)
}

func Valid(role string) bool {
	switch Role(role) {
	case RoleContributor, RoleModerator, RoleAdmin:
		return true
	default:
		return false
	}
}

func Normalize(role string) Role {
	if Valid(role) {
		return Role(role)
	}
	return RoleContributor
}
