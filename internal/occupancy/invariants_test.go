package occupancy

import (
	"testing"
	"time"
)

func holding(id, user string, bp int32) Ownership {
	return Ownership{ID: id, UserID: user, ApartmentID: "apt-1", ShareBP: bp, Status: StateApproved, Active: true}
}

func TestCheckOwnershipShare(t *testing.T) {
	if err := CheckOwnershipShare(nil, "", 0); !IsCode(err, CodeShareInvalid) {
		t.Fatalf("zero share: want %s, got %v", CodeShareInvalid, err)
	}
	if err := CheckOwnershipShare(nil, "", FullShareBP+1); !IsCode(err, CodeShareInvalid) {
		t.Fatalf("over 100%%: want %s, got %v", CodeShareInvalid, err)
	}

	// Single first owner may hold a partial share.
	if err := CheckOwnershipShare(nil, "", 7000); err != nil {
		t.Fatalf("sole partial owner: %v", err)
	}

	// Once an owner holds share, the split must complete to exactly 100%.
	owners := []Ownership{holding("o1", "alice", 7000)}
	if err := CheckOwnershipShare(owners, "", 3000); err != nil {
		t.Fatalf("completing split to 100%%: %v", err)
	}
	if err := CheckOwnershipShare(owners, "", 2000); !IsCode(err, CodeShareInvalid) {
		t.Fatalf("partial completion: want %s, got %v", CodeShareInvalid, err)
	}
	if err := CheckOwnershipShare(owners, "", 5000); !IsCode(err, CodeShareInvalid) {
		t.Fatalf("oversubscription: want %s, got %v", CodeShareInvalid, err)
	}

	// Pending and rejected rows hold no share.
	open := []Ownership{
		{ID: "p1", UserID: "bob", ShareBP: 9000, Status: StatePending},
		{ID: "r1", UserID: "carol", ShareBP: 9000, Status: StateRejected},
	}
	if err := CheckOwnershipShare(open, "", 6000); err != nil {
		t.Fatalf("pending rows must not count toward the sum: %v", err)
	}

	// The row being re-validated excludes itself.
	if err := CheckOwnershipShare(owners, "o1", 10000); err != nil {
		t.Fatalf("exclude own row: %v", err)
	}
}

func TestCheckOwnerCeiling(t *testing.T) {
	owners := []Ownership{holding("o1", "a", 5000), holding("o2", "b", 5000)}
	if err := CheckOwnerCeiling(owners, ""); !IsCode(err, CodeFullOwners) {
		t.Fatalf("third owner: want %s, got %v", CodeFullOwners, err)
	}
	if err := CheckOwnerCeiling(owners, "o2"); err != nil {
		t.Fatalf("modifying an existing owner row: %v", err)
	}
	closed := []Ownership{holding("o1", "a", 5000), {ID: "o2", UserID: "b", Status: StateApproved, Active: false}}
	if err := CheckOwnerCeiling(closed, ""); err != nil {
		t.Fatalf("closed rows must not count: %v", err)
	}
}

func TestCheckTenantCeiling(t *testing.T) {
	lease := func(id, user string) Tenancy {
		return Tenancy{ID: id, UserID: user, Status: StateApproved, Active: true}
	}
	tenancies := []Tenancy{lease("t1", "a"), lease("t2", "b")}
	if err := CheckTenantCeiling(tenancies, ""); !IsCode(err, CodeFullTenants) {
		t.Fatalf("third tenant: want %s, got %v", CodeFullTenants, err)
	}
	if err := CheckTenantCeiling(tenancies[:1], ""); err != nil {
		t.Fatalf("second tenant: %v", err)
	}
}

func TestCheckLeaseDates(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := CheckLeaseDates(start, start); !IsCode(err, CodeLeaseDates) {
		t.Fatalf("end == start: want %s, got %v", CodeLeaseDates, err)
	}
	if err := CheckLeaseDates(start, start.AddDate(0, -1, 0)); !IsCode(err, CodeLeaseDates) {
		t.Fatalf("end before start: want %s, got %v", CodeLeaseDates, err)
	}
	if err := CheckLeaseDates(start, start.AddDate(1, 0, 0)); err != nil {
		t.Fatalf("valid lease: %v", err)
	}
}

func TestCheckDuplicateOwnership(t *testing.T) {
	rows := []Ownership{
		{ID: "p1", UserID: "alice", Status: StatePending},
		{ID: "r1", UserID: "bob", Status: StateRejected},
	}
	if err := CheckDuplicateOwnership(rows, "alice", ""); !IsCode(err, CodeDuplicate) {
		t.Fatalf("pending row blocks resubmission: want %s, got %v", CodeDuplicate, err)
	}
	if err := CheckDuplicateOwnership(rows, "bob", ""); err != nil {
		t.Fatalf("rejected row must not poison the pair: %v", err)
	}
}

func TestCheckTransfer(t *testing.T) {
	from := holding("o1", "alice", 6000)

	if err := CheckTransfer(&from, false, "alice", "alice", 1000); !IsCode(err, CodeTransferSelf) {
		t.Fatalf("self transfer: want %s, got %v", CodeTransferSelf, err)
	}
	if err := CheckTransfer(nil, false, "alice", "bob", 1000); !IsCode(err, CodeInsufficientShare) {
		t.Fatalf("no holding row: want %s, got %v", CodeInsufficientShare, err)
	}
	if err := CheckTransfer(&from, false, "alice", "bob", 7000); !IsCode(err, CodeInsufficientShare) {
		t.Fatalf("over-transfer: want %s, got %v", CodeInsufficientShare, err)
	}
	if err := CheckTransfer(&from, true, "alice", "bob", 1000); !IsCode(err, CodeTargetIsOwner) {
		t.Fatalf("transferee already owns: want %s, got %v", CodeTargetIsOwner, err)
	}
	if err := CheckTransfer(&from, false, "alice", "bob", 6000); err != nil {
		t.Fatalf("full-share transfer of held amount: %v", err)
	}
}
