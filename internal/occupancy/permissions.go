package occupancy

// PermissionSet is the capability record derived from a user's active role
// assignments. Booleans come from explicit role capability bits; numeric
// fields come from rank. Ties among equal-rank roles resolve by any-match.
type PermissionSet struct {
	MaxRank         int
	CanApprove      bool
	CanReject       bool
	CanModify       bool
	CanOverride     bool
	InstantApproval bool
	Committee       bool
	Office          Office
}

// Derive folds active assignments into a PermissionSet. Inactive
// assignments and inactive roles contribute nothing; a user with no active
// roles gets the zero set (rank 0, no capabilities).
func Derive(assignments []Assignment) PermissionSet {
	var ps PermissionSet
	for _, a := range assignments {
		if !a.Active || !a.Role.Active {
			continue
		}
		r := a.Role
		if r.Rank > ps.MaxRank {
			ps.MaxRank = r.Rank
		}
		if r.Caps.Has(CapApprove) {
			ps.CanApprove = true
		}
		if r.Caps.Has(CapReject) {
			ps.CanReject = true
		}
		if r.Caps.Has(CapModify) {
			ps.CanModify = true
		}
		if r.Caps.Has(CapOverride) {
			ps.CanOverride = true
		}
		if r.Office != OfficeNone {
			ps.Committee = true
			if ps.Office == OfficeNone {
				ps.Office = r.Office
			}
		}
		// The president overrides regardless of capability bits.
		if r.Office == OfficePresident {
			ps.CanOverride = true
		}
	}
	if ps.MaxRank >= OverrideRank {
		ps.CanOverride = true
	}
	ps.InstantApproval = ps.MaxRank >= InstantApprovalRank
	return ps
}

// PrimaryRoleName returns the name of the highest-ranked active role, used
// as the decided_role / actor_role stamp. Empty when no role is active.
func PrimaryRoleName(assignments []Assignment) string {
	best := ""
	rank := -1
	for _, a := range assignments {
		if !a.Active || !a.Role.Active {
			continue
		}
		if a.Role.Rank > rank {
			rank = a.Role.Rank
			best = a.Role.Name
		}
	}
	return best
}

// RoleNames returns the active role names, used for token claims.
func RoleNames(assignments []Assignment) []string {
	var names []string
	for _, a := range assignments {
		if a.Active && a.Role.Active {
			names = append(names, a.Role.Name)
		}
	}
	return names
}
