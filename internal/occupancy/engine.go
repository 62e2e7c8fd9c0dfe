package occupancy

import (
	"context"
	"time"

	"uyim.org/internal/obs"
)

// Store is the persistence boundary of the engine. Every mutating method
// loads its snapshot, runs the transition and persists the resulting rows
// together with the audit and committee effects inside one transaction,
// stamping the clock itself. It returns the notices for the engine to
// dispatch after commit. A conflict-of-interest refusal must persist its
// audit entry even though the operation fails.
type Store interface {
	Assignments(ctx context.Context, userID string) ([]Assignment, error)
	User(ctx context.Context, id string) (User, error)
	UserByEmail(ctx context.Context, email string) (User, error)

	SubmitOwnership(ctx context.Context, actor Actor, forUser, apartmentID string, shareBP int32, start time.Time) (Ownership, []Notification, error)
	SubmitTenancy(ctx context.Context, actor Actor, forUser, apartmentID string, leaseStart, leaseEnd time.Time, autoRenew bool) (Tenancy, []Notification, error)
	SubmitTransfer(ctx context.Context, actor Actor, apartmentID, fromUser, toUser string, shareBP int32) (TransferOutcome, []Notification, error)
	SubmitRegistration(ctx context.Context, email, fullName, passwordHash string) (User, []Notification, error)

	DecideOwnership(ctx context.Context, in DecisionInput, id string) (Ownership, []Notification, error)
	DecideTenancy(ctx context.Context, in DecisionInput, id string) (Tenancy, []Notification, error)
	DecideTransfer(ctx context.Context, in DecisionInput, id string) (TransferOutcome, []Notification, error)
	DecideRegistration(ctx context.Context, in DecisionInput, id string) (User, []Notification, error)

	CompleteTransfer(ctx context.Context, actor Actor, id string) (TransferOutcome, []Notification, error)
	ExtendLease(ctx context.Context, actor Actor, id string, newEnd time.Time, reason string) (Tenancy, []Notification, error)
	EndOwnership(ctx context.Context, actor Actor, id string, endDate time.Time) (Ownership, []Notification, error)
	EndTenancy(ctx context.Context, actor Actor, id string, endDate time.Time) (Tenancy, []Notification, error)

	// ListPending returns open requests oldest first; kind "" interleaves
	// all kinds by creation time.
	ListPending(ctx context.Context, kind RequestKind, limit int) ([]PendingRequest, error)

	Notifications(ctx context.Context, userID string, unreadOnly bool) ([]Notification, error)
	SaveNotifications(ctx context.Context, notices []Notification) error
	MarkNotificationRead(ctx context.Context, userID, id string) error
}

// Notifier pushes a notification to the delivery transport. Delivery is
// at-most-once and must never fail the caller.
type Notifier interface {
	Publish(ctx context.Context, n Notification)
}

// Engine is the authorization gateway in front of the store: it resolves
// the actor's permissions, rejects missing capabilities before any state is
// read, delegates to the store and dispatches notices after commit.
type Engine struct {
	store    Store
	notifier Notifier
}

// NewEngine wires the engine. notifier may be nil (notices are still saved).
func NewEngine(store Store, notifier Notifier) *Engine {
	return &Engine{store: store, notifier: notifier}
}

// ResolveActor loads the caller's active assignments and derives their
// permission set.
func (e *Engine) ResolveActor(ctx context.Context, userID string) (Actor, error) {
	if userID == "" {
		return Actor{}, ErrForbidden
	}
	assignments, err := e.store.Assignments(ctx, userID)
	if err != nil {
		return Actor{}, err
	}
	return Actor{
		ID:    userID,
		Perms: Derive(assignments),
		Role:  PrimaryRoleName(assignments),
	}, nil
}

// SubmitOwnership files an ownership request. forUser defaults to the actor;
// filing on someone else's behalf requires the modify capability.
func (e *Engine) SubmitOwnership(ctx context.Context, actorID, forUser, apartmentID string, shareBP int32, start time.Time) (Ownership, error) {
	actor, err := e.ResolveActor(ctx, actorID)
	if err != nil {
		return Ownership{}, err
	}
	if forUser == "" {
		forUser = actor.ID
	}
	if forUser != actor.ID && !actor.Perms.CanModify {
		return Ownership{}, ErrForbidden
	}
	o, notices, err := e.store.SubmitOwnership(ctx, actor, forUser, apartmentID, shareBP, start)
	if err != nil {
		return Ownership{}, err
	}
	e.dispatch(ctx, notices)
	return o, nil
}

// SubmitTenancy files a tenancy request, same actor rules as SubmitOwnership.
func (e *Engine) SubmitTenancy(ctx context.Context, actorID, forUser, apartmentID string, leaseStart, leaseEnd time.Time, autoRenew bool) (Tenancy, error) {
	actor, err := e.ResolveActor(ctx, actorID)
	if err != nil {
		return Tenancy{}, err
	}
	if forUser == "" {
		forUser = actor.ID
	}
	if forUser != actor.ID && !actor.Perms.CanModify {
		return Tenancy{}, ErrForbidden
	}
	t, notices, err := e.store.SubmitTenancy(ctx, actor, forUser, apartmentID, leaseStart, leaseEnd, autoRenew)
	if err != nil {
		return Tenancy{}, err
	}
	e.dispatch(ctx, notices)
	return t, nil
}

// SubmitTransfer files a transfer request. The actor must be a party to the
// transfer or hold the modify capability.
func (e *Engine) SubmitTransfer(ctx context.Context, actorID, apartmentID, fromUser, toUser string, shareBP int32) (Transfer, error) {
	actor, err := e.ResolveActor(ctx, actorID)
	if err != nil {
		return Transfer{}, err
	}
	if actor.ID != fromUser && actor.ID != toUser && !actor.Perms.CanModify {
		return Transfer{}, ErrForbidden
	}
	out, notices, err := e.store.SubmitTransfer(ctx, actor, apartmentID, fromUser, toUser, shareBP)
	if err != nil {
		return Transfer{}, err
	}
	e.dispatch(ctx, notices)
	return out.Transfer, nil
}

// Register files a user registration; the caller is unauthenticated.
func (e *Engine) Register(ctx context.Context, email, fullName, passwordHash string) (User, error) {
	u, notices, err := e.store.SubmitRegistration(ctx, email, fullName, passwordHash)
	if err != nil {
		return User{}, err
	}
	e.dispatch(ctx, notices)
	return u, nil
}

// Decide applies an approve/reject decision to a pending request of any
// kind. Authorization and the conflict-of-interest guard run before the
// state machine; invariants are re-validated inside the store transaction.
func (e *Engine) Decide(ctx context.Context, actorID string, kind RequestKind, id string, approve bool, reason string) (any, error) {
	if !ValidKind(kind) {
		return nil, Errf(CodeValidation, "unknown request kind %q", kind)
	}
	actor, err := e.ResolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if approve && !actor.Perms.CanApprove {
		return nil, ErrForbidden
	}
	if !approve && !actor.Perms.CanReject {
		return nil, ErrForbidden
	}
	in := DecisionInput{Actor: actor, Approve: approve, Reason: reason}

	var (
		result  any
		notices []Notification
	)
	switch kind {
	case KindOwnership:
		result, notices, err = e.store.DecideOwnership(ctx, in, id)
	case KindTenancy:
		result, notices, err = e.store.DecideTenancy(ctx, in, id)
	case KindTransfer:
		var out TransferOutcome
		out, notices, err = e.store.DecideTransfer(ctx, in, id)
		result = out.Transfer
	case KindRegistration:
		result, notices, err = e.store.DecideRegistration(ctx, in, id)
	}
	if err != nil {
		return nil, err
	}
	obs.ObserveDecision(string(kind), decisionLabel(approve))
	e.dispatch(ctx, notices)
	return result, nil
}

// CompleteTransfer performs the deferred completion step of an approved
// transfer.
func (e *Engine) CompleteTransfer(ctx context.Context, actorID, id string) (Transfer, error) {
	actor, err := e.ResolveActor(ctx, actorID)
	if err != nil {
		return Transfer{}, err
	}
	if !actor.Perms.CanApprove {
		return Transfer{}, ErrForbidden
	}
	out, notices, err := e.store.CompleteTransfer(ctx, actor, id)
	if err != nil {
		return Transfer{}, err
	}
	e.dispatch(ctx, notices)
	return out.Transfer, nil
}

// ExtendLease pushes an approved tenancy's end date forward.
func (e *Engine) ExtendLease(ctx context.Context, actorID, id string, newEnd time.Time, reason string) (Tenancy, error) {
	actor, err := e.ResolveActor(ctx, actorID)
	if err != nil {
		return Tenancy{}, err
	}
	if !actor.Perms.CanModify {
		return Tenancy{}, ErrForbidden
	}
	t, notices, err := e.store.ExtendLease(ctx, actor, id, newEnd, reason)
	if err != nil {
		return Tenancy{}, err
	}
	e.dispatch(ctx, notices)
	return t, nil
}

// EndOwnership soft-closes a holding ownership row.
func (e *Engine) EndOwnership(ctx context.Context, actorID, id string, endDate time.Time) (Ownership, error) {
	actor, err := e.ResolveActor(ctx, actorID)
	if err != nil {
		return Ownership{}, err
	}
	if !actor.Perms.CanModify {
		return Ownership{}, ErrForbidden
	}
	o, notices, err := e.store.EndOwnership(ctx, actor, id, endDate)
	if err != nil {
		return Ownership{}, err
	}
	e.dispatch(ctx, notices)
	return o, nil
}

// EndTenancy soft-closes a holding tenancy row.
func (e *Engine) EndTenancy(ctx context.Context, actorID, id string, endDate time.Time) (Tenancy, error) {
	actor, err := e.ResolveActor(ctx, actorID)
	if err != nil {
		return Tenancy{}, err
	}
	if !actor.Perms.CanModify {
		return Tenancy{}, ErrForbidden
	}
	t, notices, err := e.store.EndTenancy(ctx, actor, id, endDate)
	if err != nil {
		return Tenancy{}, err
	}
	e.dispatch(ctx, notices)
	return t, nil
}

// ListPending returns the advisory queue of open requests, oldest first.
func (e *Engine) ListPending(ctx context.Context, actorID string, kind RequestKind, limit int) ([]PendingRequest, error) {
	actor, err := e.ResolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.Perms.CanApprove {
		return nil, ErrForbidden
	}
	if kind != "" && !ValidKind(kind) {
		return nil, Errf(CodeValidation, "unknown request kind %q", kind)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return e.store.ListPending(ctx, kind, limit)
}

// Notifications returns the caller's inbox.
func (e *Engine) Notifications(ctx context.Context, userID string, unreadOnly bool) ([]Notification, error) {
	return e.store.Notifications(ctx, userID, unreadOnly)
}

// MarkNotificationRead marks one of the caller's notifications as read.
func (e *Engine) MarkNotificationRead(ctx context.Context, userID, id string) error {
	return e.store.MarkNotificationRead(ctx, userID, id)
}

// dispatch persists and pushes notices after the transaction committed.
// A delivery failure must never surface as a failure of the approval
// itself.
func (e *Engine) dispatch(ctx context.Context, notices []Notification) {
	if len(notices) == 0 {
		return
	}
	if err := e.store.SaveNotifications(ctx, notices); err != nil {
		obs.Logger().Printf(`{"level":"warn","msg":"notification save failed","error":%q}`, err.Error())
	}
	if e.notifier == nil {
		return
	}
	for _, n := range notices {
		e.notifier.Publish(ctx, n)
	}
}

func decisionLabel(approve bool) string {
	if approve {
		return "approved"
	}
	return "rejected"
}
