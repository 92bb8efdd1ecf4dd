package authz

// Decision is the outcome of an authorization check.
type Decision int

const (
	// Deny means the action is not permitted.
	Deny Decision = iota

	// Allow means the action is permitted.
	Allow
)

// String returns "allow" or "deny".
func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// Reason explains which rule produced a decision.
type Reason int

const (
	// ReasonUnknownRole means the actor's role is not a portal role.
	ReasonUnknownRole Reason = iota

	// ReasonAdministrator means the administrator override applied.
	ReasonAdministrator

	// ReasonOwnGroup means the actor belongs to the target group.
	ReasonOwnGroup

	// ReasonCuratedGroup means the actor is the target group's curator.
	ReasonCuratedGroup

	// ReasonNoAffiliation means the actor has no group (or curator group)
	// to match against.
	ReasonNoAffiliation

	// ReasonOtherGroup means the actor's affiliation is a different group.
	ReasonOtherGroup
)

func (r Reason) String() string {
	switch r {
	case ReasonAdministrator:
		return "administrator"
	case ReasonOwnGroup:
		return "own group"
	case ReasonCuratedGroup:
		return "curated group"
	case ReasonNoAffiliation:
		return "no affiliation"
	case ReasonOtherGroup:
		return "other group"
	default:
		return "unknown role"
	}
}

// Actor is the authenticated principal as seen by route guards.
type Actor struct {
	UserID       int64
	Role         Role
	Group        string
	CuratorGroup string
}

// Authorize decides whether actor may act on resources of target group.
func Authorize(actor Actor, target string) Decision {
	d, _ := Explain(actor, target)
	return d
}

// Explain is Authorize plus the rule that decided. It is defined for every
// input: an empty affiliation never matches, not even an empty target.
func Explain(actor Actor, target string) (Decision, Reason) {
	switch actor.Role {
	case RoleAdministrator:
		return Allow, ReasonAdministrator
	case RoleStudent, RoleClassRepresentative:
		return matchGroup(actor.Group, target, ReasonOwnGroup)
	case RoleTeacher:
		return matchGroup(actor.CuratorGroup, target, ReasonCuratedGroup)
	default:
		return Deny, ReasonUnknownRole
	}
}

func matchGroup(have, target string, onMatch Reason) (Decision, Reason) {
	if have == "" {
		return Deny, ReasonNoAffiliation
	}
	if have != target {
		return Deny, ReasonOtherGroup
	}
	return Allow, onMatch
}

// HasRole reports whether actor holds one of roles. It guards routes that
// are not scoped to a group, such as the admin panel.
func HasRole(actor Actor, roles ...Role) bool {
	for _, r := range roles {
		if actor.Role == r {
			return true
		}
	}
	return false
}
