package rbac

type Role string
type Action string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionReview  Action = "review"
	ActionPublish Action = "publish"
	ActionAdmin   Action = "admin"
)

// Can gates gateway routes. Whether a user may review a particular change is
// decided per vocabulary by the gestored flag, not here.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleUser:
		return action == ActionRead || action == ActionReview
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleUser, RoleAdmin:
		return Role(role)
	default:
		return RoleUser
	}
}
