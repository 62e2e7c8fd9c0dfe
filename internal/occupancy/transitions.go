package occupancy

import (
	"fmt"
	"strings"
	"time"

	"uyim.org/internal/ids"
)

// Transitions are pure given their inputs: a loaded snapshot of the request
// and the aggregates its invariants touch, the acting identity, and the
// clock. They return the mutated rows plus the effect list. Stores persist
// rows and audit effects inside one transaction and hand notices back to the
// engine for post-commit dispatch.
//
// Stores must load the snapshot inside the same transaction that persists
// the result, so the invariant re-validation here runs against fresh state.

// DecisionInput is the shared input of the four decide transitions.
type DecisionInput struct {
	Actor   Actor
	Approve bool
	Reason  string
	Now     time.Time
}

func (in DecisionInput) actionType() string {
	if in.Approve {
		return "approval"
	}
	return "rejection"
}

// checkDecidable enforces the exactly-once decision rule. Approving an
// already-approved request is ALREADY_APPROVED, never a silent second
// success.
func checkDecidable(status RequestState) error {
	switch status {
	case StatePending:
		return nil
	case StateApproved:
		return Errf(CodeAlreadyApproved, "request is already approved")
	default:
		return Errf(CodeAlreadyDecided, "request is already decided")
	}
}

func checkReason(in DecisionInput) error {
	if !in.Approve && strings.TrimSpace(in.Reason) == "" {
		return Errf(CodeReasonRequired, "a rejection requires a non-empty reason")
	}
	return nil
}

// --- Submissions -----------------------------------------------------------

// BuildOwnership validates and constructs an ownership request. A submitter
// at or above the instant-approval rank gets the row created already
// approved, stamped with themselves as the decider.
func BuildOwnership(actor Actor, forUser, apartmentID string, shareBP int32, start time.Time, owners []Ownership, committee []string, now time.Time) (Ownership, Effects, error) {
	var fx Effects
	if forUser == "" || apartmentID == "" {
		return Ownership{}, fx, Errf(CodeValidation, "user and apartment are required")
	}
	if start.IsZero() {
		return Ownership{}, fx, Errf(CodeValidation, "start date is required")
	}
	if err := CheckDuplicateOwnership(owners, forUser, ""); err != nil {
		return Ownership{}, fx, err
	}
	if err := CheckOwnerCeiling(owners, ""); err != nil {
		return Ownership{}, fx, err
	}
	if err := CheckOwnershipShare(owners, "", shareBP); err != nil {
		return Ownership{}, fx, err
	}

	o := Ownership{
		ID:          ids.New(),
		UserID:      forUser,
		ApartmentID: apartmentID,
		ShareBP:     shareBP,
		StartDate:   start,
		Status:      StatePending,
		CreatedAt:   now,
	}
	if actor.Perms.InstantApproval {
		stampApproval(&o.Status, &o.Active, &o.DecidedBy, &o.DecidedRole, &o.DecidedAt, actor, now)
	}

	fx.audit(actor, "INSERT", TableOwnerships, o.ID, nil, asMap(o), "", now)
	link := "/v1/requests/ownership/" + o.ID
	if o.Status == StateApproved {
		fx.committee(actor, "approval", TableOwnerships, o.ID, "ownership created pre-approved", "", now)
		fx.notify(forUser, "ownership.approved", "Ownership approved",
			fmt.Sprintf("Your ownership of apartment %s was approved.", apartmentID),
			PriorityHigh, link, actor, now)
	} else {
		fx.notifyAll(committee, "ownership.submitted", "New ownership request",
			fmt.Sprintf("User %s requested ownership of apartment %s.", forUser, apartmentID),
			PriorityMedium, link, actor, now)
	}
	return o, fx, nil
}

// BuildTenancy validates and constructs a tenancy request.
func BuildTenancy(actor Actor, forUser, apartmentID string, leaseStart, leaseEnd time.Time, autoRenew bool, tenancies []Tenancy, committee []string, now time.Time) (Tenancy, Effects, error) {
	var fx Effects
	if forUser == "" || apartmentID == "" {
		return Tenancy{}, fx, Errf(CodeValidation, "user and apartment are required")
	}
	if err := CheckLeaseDates(leaseStart, leaseEnd); err != nil {
		return Tenancy{}, fx, err
	}
	if err := CheckDuplicateTenancy(tenancies, forUser, ""); err != nil {
		return Tenancy{}, fx, err
	}
	if err := CheckTenantCeiling(tenancies, ""); err != nil {
		return Tenancy{}, fx, err
	}

	t := Tenancy{
		ID:          ids.New(),
		UserID:      forUser,
		ApartmentID: apartmentID,
		LeaseStart:  leaseStart,
		LeaseEnd:    leaseEnd,
		AutoRenew:   autoRenew,
		Status:      StatePending,
		CreatedAt:   now,
	}
	if actor.Perms.InstantApproval {
		stampApproval(&t.Status, &t.Active, &t.DecidedBy, &t.DecidedRole, &t.DecidedAt, actor, now)
	}

	fx.audit(actor, "INSERT", TableTenancies, t.ID, nil, asMap(t), "", now)
	link := "/v1/requests/tenancy/" + t.ID
	if t.Status == StateApproved {
		fx.committee(actor, "approval", TableTenancies, t.ID, "tenancy created pre-approved", "", now)
		fx.notify(forUser, "tenancy.approved", "Tenancy approved",
			fmt.Sprintf("Your tenancy in apartment %s was approved.", apartmentID),
			PriorityHigh, link, actor, now)
	} else {
		fx.notifyAll(committee, "tenancy.submitted", "New tenancy request",
			fmt.Sprintf("User %s requested a tenancy in apartment %s.", forUser, apartmentID),
			PriorityMedium, link, actor, now)
	}
	return t, fx, nil
}

// TransferOutcome bundles a transfer with the ownership rows a completion
// mutates. UpdatedFrom and NewOwnership are nil until completion happens.
type TransferOutcome struct {
	Transfer     Transfer
	UpdatedFrom  *Ownership
	NewOwnership *Ownership
}

// BuildTransfer validates and constructs a transfer request against the
// transferor's current holding row. Submission by an instant-approval actor
// creates the transfer already approved and completed.
func BuildTransfer(actor Actor, apartmentID, fromUser, toUser string, shareBP int32, from *Ownership, toHolds bool, committee []string, now time.Time) (TransferOutcome, Effects, error) {
	var fx Effects
	if apartmentID == "" || fromUser == "" || toUser == "" {
		return TransferOutcome{}, fx, Errf(CodeValidation, "apartment, transferor and transferee are required")
	}
	if err := CheckTransfer(from, toHolds, fromUser, toUser, shareBP); err != nil {
		return TransferOutcome{}, fx, err
	}

	tr := Transfer{
		ID:          ids.New(),
		ApartmentID: apartmentID,
		FromUser:    fromUser,
		ToUser:      toUser,
		ShareBP:     shareBP,
		Status:      StatePending,
		CreatedAt:   now,
	}
	out := TransferOutcome{Transfer: tr}
	fx.audit(actor, "INSERT", TableTransfers, tr.ID, nil, asMap(tr), "", now)
	link := "/v1/requests/transfer/" + tr.ID

	if actor.Perms.InstantApproval {
		out.Transfer.Status = StateApproved
		out.Transfer.DecidedBy = actor.ID
		out.Transfer.DecidedRole = actor.Role
		decidedAt := now
		out.Transfer.DecidedAt = &decidedAt
		completed := applyCompletion(&out, *from, actor, now, &fx)
		fx.committee(actor, "approval", TableTransfers, tr.ID, "transfer created pre-approved", "", now)
		notifyTransferParties(&fx, out.Transfer, actor, true, completed, link, now)
		return out, fx, nil
	}

	fx.notifyAll(committee, "transfer.submitted", "New transfer request",
		fmt.Sprintf("Transfer of %s of apartment %s from %s to %s awaits review.",
			formatShare(shareBP), apartmentID, fromUser, toUser),
		PriorityHigh, link, actor, now)
	return out, fx, nil
}

// BuildRegistration constructs a pending user registration and fans out to
// the committee at critical priority.
func BuildRegistration(email, fullName, passwordHash string, committee []string, now time.Time) (User, Effects, error) {
	var fx Effects
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fx, Errf(CodeValidation, "valid email is required")
	}
	if passwordHash == "" {
		return User{}, fx, Errf(CodeValidation, "password is required")
	}
	u := User{
		ID:           ids.New(),
		Email:        email,
		FullName:     strings.TrimSpace(fullName),
		PasswordHash: passwordHash,
		Registration: StatePending,
		CreatedAt:    now,
	}
	self := Actor{ID: u.ID}
	fx.audit(self, "INSERT", TableUsers, u.ID, nil, asMap(u), "", now)
	fx.notifyAll(committee, "registration.submitted", "New registration",
		fmt.Sprintf("User %s (%s) awaits registration review.", u.FullName, u.Email),
		PriorityCritical, "/v1/requests/registration/"+u.ID, self, now)
	return u, fx, nil
}

// --- Decisions -------------------------------------------------------------

// DecideOwnership applies an approve/reject decision to a pending ownership
// row, re-validating the share and ceiling invariants against the fresh
// owner set.
func DecideOwnership(o Ownership, owners []Ownership, in DecisionInput) (Ownership, Effects, error) {
	var fx Effects
	if err := checkDecidable(o.Status); err != nil {
		return o, fx, err
	}
	if err := checkReason(in); err != nil {
		return o, fx, err
	}
	old := asMap(o)
	if in.Approve {
		if err := CheckOwnerCeiling(owners, o.ID); err != nil {
			return o, fx, err
		}
		if err := CheckOwnershipShare(owners, o.ID, o.ShareBP); err != nil {
			return o, fx, err
		}
		stampApproval(&o.Status, &o.Active, &o.DecidedBy, &o.DecidedRole, &o.DecidedAt, in.Actor, in.Now)
	} else {
		stampRejection(&o.Status, &o.DecidedBy, &o.DecidedRole, &o.DecidedAt, &o.Reason, in)
	}

	fx.audit(in.Actor, "UPDATE", TableOwnerships, o.ID, old, asMap(o), in.Reason, in.Now)
	fx.committee(in.Actor, in.actionType(), TableOwnerships, o.ID, "ownership decision", in.Reason, in.Now)
	notifyDecision(&fx, o.UserID, "ownership", o.ApartmentID, in, "/v1/requests/ownership/"+o.ID)
	return o, fx, nil
}

// DecideTenancy applies an approve/reject decision to a pending tenancy row.
func DecideTenancy(t Tenancy, tenancies []Tenancy, in DecisionInput) (Tenancy, Effects, error) {
	var fx Effects
	if err := checkDecidable(t.Status); err != nil {
		return t, fx, err
	}
	if err := checkReason(in); err != nil {
		return t, fx, err
	}
	old := asMap(t)
	if in.Approve {
		if err := CheckLeaseDates(t.LeaseStart, t.LeaseEnd); err != nil {
			return t, fx, err
		}
		if err := CheckTenantCeiling(tenancies, t.ID); err != nil {
			return t, fx, err
		}
		stampApproval(&t.Status, &t.Active, &t.DecidedBy, &t.DecidedRole, &t.DecidedAt, in.Actor, in.Now)
	} else {
		stampRejection(&t.Status, &t.DecidedBy, &t.DecidedRole, &t.DecidedAt, &t.Reason, in)
	}

	fx.audit(in.Actor, "UPDATE", TableTenancies, t.ID, old, asMap(t), in.Reason, in.Now)
	fx.committee(in.Actor, in.actionType(), TableTenancies, t.ID, "tenancy decision", in.Reason, in.Now)
	notifyDecision(&fx, t.UserID, "tenancy", t.ApartmentID, in, "/v1/requests/tenancy/"+t.ID)
	return t, fx, nil
}

// DecideTransfer applies a decision to a pending transfer. An approver at or
// above the instant-approval rank completes the transfer in the same call:
// the transferor's row is decremented (deactivated at zero) and the
// transferee's row is created, all in one transaction at the store.
func DecideTransfer(tr Transfer, from *Ownership, toHolds bool, in DecisionInput) (TransferOutcome, Effects, error) {
	var fx Effects
	out := TransferOutcome{Transfer: tr}
	if err := checkDecidable(tr.Status); err != nil {
		return out, fx, err
	}
	if err := checkReason(in); err != nil {
		return out, fx, err
	}
	old := asMap(tr)
	link := "/v1/requests/transfer/" + tr.ID

	if !in.Approve {
		stampRejection(&out.Transfer.Status, &out.Transfer.DecidedBy, &out.Transfer.DecidedRole, &out.Transfer.DecidedAt, &out.Transfer.Reason, in)
		fx.audit(in.Actor, "UPDATE", TableTransfers, tr.ID, old, asMap(out.Transfer), in.Reason, in.Now)
		fx.committee(in.Actor, "rejection", TableTransfers, tr.ID, "transfer decision", in.Reason, in.Now)
		notifyTransferParties(&fx, out.Transfer, in.Actor, false, false, link, in.Now)
		return out, fx, nil
	}

	// Re-validate at decision time: another transfer may have consumed the
	// transferor's share since submission.
	if err := CheckTransfer(from, toHolds, tr.FromUser, tr.ToUser, tr.ShareBP); err != nil {
		return out, fx, err
	}
	out.Transfer.Status = StateApproved
	out.Transfer.DecidedBy = in.Actor.ID
	out.Transfer.DecidedRole = in.Actor.Role
	decidedAt := in.Now
	out.Transfer.DecidedAt = &decidedAt

	completed := false
	if in.Actor.Perms.InstantApproval {
		completed = applyCompletion(&out, *from, in.Actor, in.Now, &fx)
	}
	fx.audit(in.Actor, "UPDATE", TableTransfers, tr.ID, old, asMap(out.Transfer), in.Reason, in.Now)
	fx.committee(in.Actor, "approval", TableTransfers, tr.ID, "transfer decision", in.Reason, in.Now)
	notifyTransferParties(&fx, out.Transfer, in.Actor, true, completed, link, in.Now)
	return out, fx, nil
}

// DecideRegistration applies a decision to a pending user registration.
func DecideRegistration(u User, in DecisionInput) (User, Effects, error) {
	var fx Effects
	if err := checkDecidable(u.Registration); err != nil {
		return u, fx, err
	}
	if err := checkReason(in); err != nil {
		return u, fx, err
	}
	old := asMap(u)
	decidedAt := in.Now
	if in.Approve {
		u.Registration = StateApproved
	} else {
		u.Registration = StateRejected
		u.Reason = in.Reason
	}
	u.DecidedBy = in.Actor.ID
	u.DecidedRole = in.Actor.Role
	u.DecidedAt = &decidedAt

	fx.audit(in.Actor, "UPDATE", TableUsers, u.ID, old, asMap(u), in.Reason, in.Now)
	fx.committee(in.Actor, in.actionType(), TableUsers, u.ID, "registration decision", in.Reason, in.Now)
	if in.Approve {
		fx.notify(u.ID, "registration.approved", "Registration approved",
			"Your registration was approved. You can now sign in.",
			PriorityHigh, "", in.Actor, in.Now)
	} else {
		fx.notify(u.ID, "registration.rejected", "Registration rejected",
			fmt.Sprintf("Your registration was rejected: %s", in.Reason),
			PriorityMedium, "", in.Actor, in.Now)
	}
	return u, fx, nil
}

// --- Side transitions ------------------------------------------------------

// CompleteTransferStep performs the deferred completion of an approved
// transfer, re-validating sufficiency against the transferor's current row.
func CompleteTransferStep(tr Transfer, from *Ownership, toHolds bool, actor Actor, now time.Time) (TransferOutcome, Effects, error) {
	var fx Effects
	out := TransferOutcome{Transfer: tr}
	switch tr.Status {
	case StateApproved:
	case StatePending, StateRejected:
		return out, fx, Errf(CodeNotApproved, "transfer is %s, not approved", tr.Status)
	}
	if tr.CompletedAt != nil {
		return out, fx, Errf(CodeAlreadyCompleted, "transfer is already completed")
	}
	if err := CheckTransfer(from, toHolds, tr.FromUser, tr.ToUser, tr.ShareBP); err != nil {
		return out, fx, err
	}
	old := asMap(tr)
	applyCompletion(&out, *from, actor, now, &fx)
	fx.audit(actor, "UPDATE", TableTransfers, tr.ID, old, asMap(out.Transfer), "", now)
	fx.committee(actor, "modification", TableTransfers, tr.ID, "transfer completion", "", now)
	notifyTransferParties(&fx, out.Transfer, actor, true, true, "/v1/requests/transfer/"+tr.ID, now)
	return out, fx, nil
}

// ExtendLeaseStep pushes an approved tenancy's end date forward. The new end
// must be strictly later; the row never re-enters the pending state.
func ExtendLeaseStep(t Tenancy, actor Actor, newEnd time.Time, reason string, now time.Time) (Tenancy, Effects, error) {
	var fx Effects
	if t.Status != StateApproved || !t.Active {
		return t, fx, Errf(CodeNotPending, "only an active approved tenancy can be extended")
	}
	if !newEnd.After(t.LeaseEnd) {
		return t, fx, Errf(CodeLeaseExtension, "new lease end %s is not after current end %s",
			newEnd.Format("2006-01-02"), t.LeaseEnd.Format("2006-01-02"))
	}
	old := asMap(t)
	t.LeaseEnd = newEnd
	fx.audit(actor, "UPDATE", TableTenancies, t.ID, old, asMap(t), reason, now)
	fx.committee(actor, "modification", TableTenancies, t.ID, "lease extension", reason, now)
	fx.notify(t.UserID, "tenancy.extended", "Lease extended",
		fmt.Sprintf("Your lease in apartment %s was extended to %s.", t.ApartmentID, newEnd.Format("2006-01-02")),
		PriorityMedium, "/v1/requests/tenancy/"+t.ID, actor, now)
	return t, fx, nil
}

// EndOwnershipStep soft-closes a holding ownership row. This is a lifecycle
// event, not a revocation of the approval.
func EndOwnershipStep(o Ownership, actor Actor, endDate time.Time, now time.Time) (Ownership, Effects, error) {
	var fx Effects
	if !holdsShare(o) {
		return o, fx, Errf(CodeRelationshipClosed, "ownership is not active")
	}
	old := asMap(o)
	o.Active = false
	o.EndDate = &endDate
	fx.audit(actor, "UPDATE", TableOwnerships, o.ID, old, asMap(o), "", now)
	fx.committee(actor, "modification", TableOwnerships, o.ID, "ownership closed", "", now)
	fx.notify(o.UserID, "ownership.closed", "Ownership closed",
		fmt.Sprintf("Your ownership of apartment %s was closed as of %s.", o.ApartmentID, endDate.Format("2006-01-02")),
		PriorityMedium, "", actor, now)
	return o, fx, nil
}

// EndTenancyStep soft-closes a holding tenancy row.
func EndTenancyStep(t Tenancy, actor Actor, endDate time.Time, now time.Time) (Tenancy, Effects, error) {
	var fx Effects
	if !holdsLease(t) {
		return t, fx, Errf(CodeRelationshipClosed, "tenancy is not active")
	}
	old := asMap(t)
	t.Active = false
	t.LeaseEnd = endDate
	fx.audit(actor, "UPDATE", TableTenancies, t.ID, old, asMap(t), "", now)
	fx.committee(actor, "modification", TableTenancies, t.ID, "tenancy closed", "", now)
	fx.notify(t.UserID, "tenancy.closed", "Tenancy closed",
		fmt.Sprintf("Your tenancy in apartment %s ended as of %s.", t.ApartmentID, endDate.Format("2006-01-02")),
		PriorityMedium, "", actor, now)
	return t, fx, nil
}

// --- helpers ---------------------------------------------------------------

// applyCompletion reassigns the share: decrement the transferor's row
// (deactivate at zero) and create the transferee's holding row. Returns true
// for the callers' notification wording.
func applyCompletion(out *TransferOutcome, from Ownership, actor Actor, now time.Time, fx *Effects) bool {
	oldFrom := asMap(from)
	from.ShareBP -= out.Transfer.ShareBP
	if from.ShareBP == 0 {
		from.Active = false
		end := now
		from.EndDate = &end
	}
	out.UpdatedFrom = &from
	fx.audit(actor, "UPDATE", TableOwnerships, from.ID, oldFrom, asMap(from), "transfer completion", now)

	decidedAt := now
	to := Ownership{
		ID:          ids.New(),
		UserID:      out.Transfer.ToUser,
		ApartmentID: out.Transfer.ApartmentID,
		ShareBP:     out.Transfer.ShareBP,
		StartDate:   now,
		Active:      true,
		Status:      StateApproved,
		DecidedBy:   actor.ID,
		DecidedRole: actor.Role,
		DecidedAt:   &decidedAt,
		CreatedAt:   now,
	}
	out.NewOwnership = &to
	fx.audit(actor, "INSERT", TableOwnerships, to.ID, nil, asMap(to), "transfer completion", now)

	completedAt := now
	out.Transfer.CompletedAt = &completedAt
	return true
}

func stampApproval(status *RequestState, active *bool, by, role *string, at **time.Time, actor Actor, now time.Time) {
	*status = StateApproved
	*active = true
	*by = actor.ID
	*role = actor.Role
	ts := now
	*at = &ts
}

func stampRejection(status *RequestState, by, role *string, at **time.Time, reason *string, in DecisionInput) {
	*status = StateRejected
	*by = in.Actor.ID
	*role = in.Actor.Role
	ts := in.Now
	*at = &ts
	*reason = in.Reason
}

func notifyDecision(fx *Effects, recipient, noun, apartmentID string, in DecisionInput, link string) {
	if in.Approve {
		fx.notify(recipient, noun+".approved", titleCase(noun)+" approved",
			fmt.Sprintf("Your %s request for apartment %s was approved.", noun, apartmentID),
			PriorityHigh, link, in.Actor, in.Now)
		return
	}
	fx.notify(recipient, noun+".rejected", titleCase(noun)+" rejected",
		fmt.Sprintf("Your %s request for apartment %s was rejected: %s", noun, apartmentID, in.Reason),
		PriorityMedium, link, in.Actor, in.Now)
}

// notifyTransferParties informs both parties. Message text branches on
// whether completion happened in the same call.
func notifyTransferParties(fx *Effects, tr Transfer, actor Actor, approved, completed bool, link string, now time.Time) {
	var title, msg, prio string
	switch {
	case approved && completed:
		title = "Transfer approved"
		msg = fmt.Sprintf("Transfer of %s of apartment %s was approved and completed immediately.",
			formatShare(tr.ShareBP), tr.ApartmentID)
		prio = PriorityHigh
	case approved:
		title = "Transfer approved"
		msg = fmt.Sprintf("Transfer of %s of apartment %s was approved; completion is pending.",
			formatShare(tr.ShareBP), tr.ApartmentID)
		prio = PriorityHigh
	default:
		title = "Transfer rejected"
		msg = fmt.Sprintf("Transfer of %s of apartment %s was rejected: %s",
			formatShare(tr.ShareBP), tr.ApartmentID, tr.Reason)
		prio = PriorityMedium
	}
	fx.notify(tr.FromUser, "transfer.decided", title, msg, prio, link, actor, now)
	fx.notify(tr.ToUser, "transfer.decided", title, msg, prio, link, actor, now)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func formatShare(bp int32) string {
	if bp%100 == 0 {
		return fmt.Sprintf("%d%%", bp/100)
	}
	return fmt.Sprintf("%d.%02d%%", bp/100, bp%100)
}
