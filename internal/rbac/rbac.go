package rbac

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

const (
	ActionRead    Action = "read"
	ActionComment Action = "comment"
	ActionWrite   Action = "write"
	// ActionManage covers team membership and plate deletion.
	ActionManage Action = "manage"
	ActionOwn    Action = "own"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleAdmin:
		return action != ActionOwn
	case RoleMember:
		return action == ActionRead || action == ActionComment || action == ActionWrite
	case RoleViewer:
		return action == ActionRead || action == ActionComment
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleMember, RoleAdmin, RoleOwner:
		return Role(role)
	default:
		return RoleViewer
	}
}

// Assignable reports whether actor may grant target to another member.
// Only owners can mint owners.
func Assignable(actor, target Role) bool {
	if !Can(actor, ActionManage) {
		return false
	}
	if target == RoleOwner {
		return actor == RoleOwner
	}
	return true
}
