package occupancy

// TargetApartment is the extra conflict-target kind for direct apartment
// record changes, which have no request state machine of their own.
const TargetApartment RequestKind = "apartment"

// ConflictTarget carries the parties of the resource an actor is asked to
// decide. The store loads it together with the request row so the check runs
// against fresh state.
type ConflictTarget struct {
	Kind RequestKind
	// SubjectUser is the relationship's user, or the registration target.
	SubjectUser string
	// Transfer parties.
	FromUser string
	ToUser   string
	// ActorOwnsApartment is true when the acting committee member holds
	// active ownership of the target apartment; it only disqualifies for
	// apartment targets.
	ActorOwnsApartment bool
}

// CheckConflict determines whether the actor is disqualified from deciding
// the target because they are a party to it. This is a committee-specific
// control: non-committee actors (e.g. an admin) bypass it entirely. The
// caller is responsible for auditing a refusal before returning it.
func CheckConflict(actor Actor, target ConflictTarget) error {
	if !actor.Perms.Committee {
		return nil
	}
	conflicted := false
	switch target.Kind {
	case KindRegistration:
		conflicted = actor.ID == target.SubjectUser
	case KindTransfer:
		conflicted = actor.ID == target.FromUser || actor.ID == target.ToUser
	case KindOwnership, KindTenancy:
		conflicted = actor.ID == target.SubjectUser
	case TargetApartment:
		conflicted = target.ActorOwnsApartment
	}
	if conflicted {
		return Errf(CodeConflict, "committee member %s is a party to this %s target", actor.ID, target.Kind)
	}
	return nil
}
