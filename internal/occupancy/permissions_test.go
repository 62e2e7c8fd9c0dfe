package occupancy

import "testing"

func roleAssignment(r Role, active bool) Assignment {
	return Assignment{UserID: "u1", RoleID: r.ID, Role: r, Active: active}
}

func TestDeriveZeroSet(t *testing.T) {
	ps := Derive(nil)
	if ps.MaxRank != 0 || ps.CanApprove || ps.CanModify || ps.CanOverride || ps.Committee || ps.InstantApproval {
		t.Fatalf("expected zero permission set, got %#v", ps)
	}
}

func TestDeriveCapabilityBits(t *testing.T) {
	r := Role{ID: "r1", Name: "board", Rank: 50, Caps: CapApprove | CapReject, Active: true}
	ps := Derive([]Assignment{roleAssignment(r, true)})
	if !ps.CanApprove || !ps.CanReject {
		t.Fatalf("capability bits not derived: %#v", ps)
	}
	if ps.CanModify || ps.CanOverride || ps.InstantApproval {
		t.Fatalf("unexpected capabilities: %#v", ps)
	}
}

func TestDeriveIgnoresInactive(t *testing.T) {
	admin := Role{ID: "r1", Name: "admin", Rank: 90, Caps: CapApprove, Active: true}
	retired := Role{ID: "r2", Name: "retired", Rank: 95, Caps: CapOverride, Active: false}
	ps := Derive([]Assignment{
		roleAssignment(admin, false), // inactive assignment
		roleAssignment(retired, true),
	})
	if ps.MaxRank != 0 || ps.CanApprove || ps.CanOverride {
		t.Fatalf("inactive rows leaked into permissions: %#v", ps)
	}
}

func TestDeriveRankThresholds(t *testing.T) {
	at79 := Derive([]Assignment{roleAssignment(Role{ID: "a", Rank: 79, Active: true}, true)})
	if at79.InstantApproval {
		t.Fatalf("rank 79 must not grant instant approval")
	}
	at80 := Derive([]Assignment{roleAssignment(Role{ID: "b", Rank: 80, Active: true}, true)})
	if !at80.InstantApproval || at80.CanOverride {
		t.Fatalf("rank 80: want instant approval without override, got %#v", at80)
	}
	at90 := Derive([]Assignment{roleAssignment(Role{ID: "c", Rank: 90, Active: true}, true)})
	if !at90.CanOverride {
		t.Fatalf("rank 90 must imply override")
	}
}

func TestDeriveCommitteeOffice(t *testing.T) {
	pres := Role{ID: "p", Name: "president", Rank: 80, Office: OfficePresident, Active: true}
	treas := Role{ID: "t", Name: "treasurer", Rank: 80, Office: OfficeTreasurer, Active: true}
	ps := Derive([]Assignment{roleAssignment(pres, true), roleAssignment(treas, true)})
	if !ps.Committee {
		t.Fatalf("office role must mark the actor as committee")
	}
	if ps.Office != OfficePresident {
		t.Fatalf("first office wins, got %q", ps.Office)
	}
}

func TestDerivePresidentOverride(t *testing.T) {
	pres := Role{ID: "p", Name: "president", Rank: 80,
		Caps: CapApprove | CapReject | CapModify, Office: OfficePresident, Active: true}
	ps := Derive([]Assignment{roleAssignment(pres, true)})
	if !ps.CanOverride {
		t.Fatalf("president must derive override without the capability bit: %#v", ps)
	}

	treas := Role{ID: "t", Name: "treasurer", Rank: 80,
		Caps: CapApprove | CapReject, Office: OfficeTreasurer, Active: true}
	if Derive([]Assignment{roleAssignment(treas, true)}).CanOverride {
		t.Fatalf("treasurer at rank 80 must not derive override")
	}

	// The grant holds even when another office was assigned first.
	both := Derive([]Assignment{roleAssignment(treas, true), roleAssignment(pres, true)})
	if !both.CanOverride || both.Office != OfficeTreasurer {
		t.Fatalf("president override must not depend on office ordering: %#v", both)
	}
}

func TestPrimaryRoleName(t *testing.T) {
	list := []Assignment{
		roleAssignment(Role{ID: "a", Name: "resident", Rank: 10, Active: true}, true),
		roleAssignment(Role{ID: "b", Name: "president", Rank: 80, Active: true}, true),
		roleAssignment(Role{ID: "c", Name: "ghost", Rank: 99, Active: true}, false),
	}
	if got := PrimaryRoleName(list); got != "president" {
		t.Fatalf("want president, got %q", got)
	}
	if got := PrimaryRoleName(nil); got != "" {
		t.Fatalf("want empty for no roles, got %q", got)
	}
}
