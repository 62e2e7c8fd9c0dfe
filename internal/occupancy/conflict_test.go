package occupancy

import "testing"

func committeeActor(id string) Actor {
	return Actor{ID: id, Perms: PermissionSet{CanApprove: true, Committee: true, Office: OfficeTreasurer, MaxRank: 80}, Role: "treasurer"}
}

func TestConflictNonCommitteeBypass(t *testing.T) {
	admin := Actor{ID: "adm", Perms: PermissionSet{CanApprove: true, CanOverride: true, MaxRank: 90}, Role: "admin"}
	err := CheckConflict(admin, ConflictTarget{Kind: KindOwnership, SubjectUser: "adm"})
	if err != nil {
		t.Fatalf("non-committee actor must bypass the guard: %v", err)
	}
}

func TestConflictRelationshipSubject(t *testing.T) {
	actor := committeeActor("pres")
	if err := CheckConflict(actor, ConflictTarget{Kind: KindOwnership, SubjectUser: "pres"}); !IsCode(err, CodeConflict) {
		t.Fatalf("own ownership: want %s, got %v", CodeConflict, err)
	}
	if err := CheckConflict(actor, ConflictTarget{Kind: KindTenancy, SubjectUser: "other"}); err != nil {
		t.Fatalf("unrelated subject: %v", err)
	}
}

func TestConflictTransferParties(t *testing.T) {
	actor := committeeActor("pres")
	if err := CheckConflict(actor, ConflictTarget{Kind: KindTransfer, FromUser: "pres", ToUser: "bob"}); !IsCode(err, CodeConflict) {
		t.Fatalf("transferor side: want %s, got %v", CodeConflict, err)
	}
	if err := CheckConflict(actor, ConflictTarget{Kind: KindTransfer, FromUser: "alice", ToUser: "pres"}); !IsCode(err, CodeConflict) {
		t.Fatalf("transferee side: want %s, got %v", CodeConflict, err)
	}
	if err := CheckConflict(actor, ConflictTarget{Kind: KindTransfer, FromUser: "alice", ToUser: "bob"}); err != nil {
		t.Fatalf("unrelated transfer: %v", err)
	}
}

func TestConflictRegistrationSelf(t *testing.T) {
	actor := committeeActor("sec")
	if err := CheckConflict(actor, ConflictTarget{Kind: KindRegistration, SubjectUser: "sec"}); !IsCode(err, CodeConflict) {
		t.Fatalf("own registration: want %s, got %v", CodeConflict, err)
	}
}

func TestConflictApartmentOwnership(t *testing.T) {
	actor := committeeActor("pres")
	if err := CheckConflict(actor, ConflictTarget{Kind: TargetApartment, ActorOwnsApartment: true}); !IsCode(err, CodeConflict) {
		t.Fatalf("owned apartment: want %s, got %v", CodeConflict, err)
	}
	// Owning the apartment only disqualifies for apartment targets.
	if err := CheckConflict(actor, ConflictTarget{Kind: KindOwnership, SubjectUser: "bob", ActorOwnsApartment: true}); err != nil {
		t.Fatalf("relationship target in an owned apartment: %v", err)
	}
}
