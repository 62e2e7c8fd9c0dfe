package occupancy

import "time"

// Invariant checkers are pure functions over a candidate mutation plus the
// current aggregate state. Failures are deterministic rejections of the
// request content, each mapped to a stable code; nothing here is retried.
//
// "Holding" rows are the ones that count toward share sums and occupancy:
// approved and still active. Pending rows hold nothing until decided.

func holdsShare(o Ownership) bool { return o.Status == StateApproved && o.Active }
func holdsLease(t Tenancy) bool   { return t.Status == StateApproved && t.Active }

// MaxOccupants is the occupancy ceiling for both owners and tenants.
const MaxOccupants = 2

// CheckOwnershipShare validates a candidate share against the apartment's
// holding owners, excluding the row being modified. Beyond the 100% cap,
// once any owner holds an approved share the split must complete to exactly
// 100%: partially specified splits are deliberately not allowed.
func CheckOwnershipShare(owners []Ownership, excludeID string, candidateBP int32) error {
	if candidateBP <= 0 || candidateBP > FullShareBP {
		return Errf(CodeShareInvalid, "share must be in (0, %d] basis points, got %d", FullShareBP, candidateBP)
	}
	var sum int32
	var others int
	for _, o := range owners {
		if o.ID == excludeID || !holdsShare(o) {
			continue
		}
		sum += o.ShareBP
		others++
	}
	total := sum + candidateBP
	if total > FullShareBP {
		return Errf(CodeShareInvalid, "shares would total %d basis points, exceeding %d", total, FullShareBP)
	}
	if others > 0 && total != FullShareBP {
		return Errf(CodeShareInvalid, "shares must total exactly %d basis points once an owner exists, got %d", FullShareBP, total)
	}
	return nil
}

// CheckOwnerCeiling rejects a third holding owner row for one apartment.
func CheckOwnerCeiling(owners []Ownership, excludeID string) error {
	var n int
	for _, o := range owners {
		if o.ID != excludeID && holdsShare(o) {
			n++
		}
	}
	if n >= MaxOccupants {
		return Errf(CodeFullOwners, "apartment already has %d active owners", n)
	}
	return nil
}

// CheckTenantCeiling rejects a third holding tenancy row for one apartment.
func CheckTenantCeiling(tenancies []Tenancy, excludeID string) error {
	var n int
	for _, t := range tenancies {
		if t.ID != excludeID && holdsLease(t) {
			n++
		}
	}
	if n >= MaxOccupants {
		return Errf(CodeFullTenants, "apartment already has %d active tenants", n)
	}
	return nil
}

// CheckLeaseDates rejects a lease that ends on or before its start.
func CheckLeaseDates(start, end time.Time) error {
	if !end.After(start) {
		return Errf(CodeLeaseDates, "lease end %s must be after start %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	return nil
}

// CheckDuplicateOwnership rejects a second open (pending or holding) row for
// the same user and apartment. Rejected and soft-closed rows stay history
// and do not poison the pair.
func CheckDuplicateOwnership(owners []Ownership, userID, excludeID string) error {
	for _, o := range owners {
		if o.ID == excludeID || o.UserID != userID {
			continue
		}
		if o.Status == StatePending || holdsShare(o) {
			return Errf(CodeDuplicate, "user %s already has an open ownership row for this apartment", userID)
		}
	}
	return nil
}

// CheckDuplicateTenancy is CheckDuplicateOwnership for leases.
func CheckDuplicateTenancy(tenancies []Tenancy, userID, excludeID string) error {
	for _, t := range tenancies {
		if t.ID == excludeID || t.UserID != userID {
			continue
		}
		if t.Status == StatePending || holdsLease(t) {
			return Errf(CodeDuplicate, "user %s already has an open tenancy row for this apartment", userID)
		}
	}
	return nil
}

// CheckTransfer validates a transfer request (or re-validates it at decision
// and completion time) against the transferor's current holding row and the
// transferee's standing in the apartment.
func CheckTransfer(from *Ownership, toHoldsShare bool, fromUser, toUser string, shareBP int32) error {
	if fromUser == toUser {
		return Errf(CodeTransferSelf, "transferor and transferee are the same user")
	}
	if shareBP <= 0 || shareBP > FullShareBP {
		return Errf(CodeValidation, "share must be in (0, %d] basis points, got %d", FullShareBP, shareBP)
	}
	if from == nil || !holdsShare(*from) {
		return Errf(CodeInsufficientShare, "transferor holds no active ownership in this apartment")
	}
	if shareBP > from.ShareBP {
		return Errf(CodeInsufficientShare, "transfer of %d basis points exceeds held share of %d", shareBP, from.ShareBP)
	}
	if toHoldsShare {
		return Errf(CodeTargetIsOwner, "transferee already holds active ownership in this apartment")
	}
	return nil
}
