package occupancy

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"uyim.org/internal/ids"
)

// InMemory implements Store with in-process concurrency safety. The durable
// implementation lives in internal/store/pg; this one backs tests and the
// DSN-less development mode.
type InMemory struct {
	mu  sync.RWMutex
	now func() time.Time

	users        map[string]User
	emailIndex   map[string]string
	roles        map[string]Role
	assignments  map[string][]Assignment
	ownerships   map[string]Ownership
	tenancies    map[string]Tenancy
	transfers    map[string]Transfer
	inboxes      map[string][]Notification
	auditLog     []AuditEntry
	committeeLog []CommitteeAction
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		now:         time.Now,
		users:       make(map[string]User),
		emailIndex:  make(map[string]string),
		roles:       make(map[string]Role),
		assignments: make(map[string][]Assignment),
		ownerships:  make(map[string]Ownership),
		tenancies:   make(map[string]Tenancy),
		transfers:   make(map[string]Transfer),
		inboxes:     make(map[string][]Notification),
	}
}

// SetClock overrides the time source (useful for tests).
func (s *InMemory) SetClock(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

// --- seeding helpers -------------------------------------------------------

// PutRole upserts a role catalog entry.
func (s *InMemory) PutRole(r Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = ids.New()
	}
	s.roles[r.ID] = r
}

// PutUser upserts a user.
func (s *InMemory) PutUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = ids.New()
	}
	s.users[u.ID] = u
	if u.Email != "" {
		s.emailIndex[strings.ToLower(u.Email)] = u.ID
	}
}

// PutAssignment adds a role assignment, resolving the role from the catalog.
func (s *InMemory) PutAssignment(a Assignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if role, ok := s.roles[a.RoleID]; ok {
		a.Role = role
	}
	if a.AssignedAt.IsZero() {
		a.AssignedAt = s.now()
	}
	s.assignments[a.UserID] = append(s.assignments[a.UserID], a)
}

// AuditEntries returns a copy of the append-only audit log.
func (s *InMemory) AuditEntries() []AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AuditEntry, len(s.auditLog))
	copy(out, s.auditLog)
	return out
}

// CommitteeActions returns a copy of the committee action log.
func (s *InMemory) CommitteeActions() []CommitteeAction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CommitteeAction, len(s.committeeLog))
	copy(out, s.committeeLog)
	return out
}

// --- reads -----------------------------------------------------------------

func (s *InMemory) Assignments(ctx context.Context, userID string) ([]Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.assignments[userID]
	out := make([]Assignment, len(list))
	copy(out, list)
	return out, nil
}

func (s *InMemory) User(ctx context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *InMemory) UserByEmail(ctx context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emailIndex[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return User{}, ErrNotFound
	}
	return s.users[id], nil
}

// --- submissions -----------------------------------------------------------

func (s *InMemory) SubmitOwnership(ctx context.Context, actor Actor, forUser, apartmentID string, shareBP int32, start time.Time) (Ownership, []Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, fx, err := BuildOwnership(actor, forUser, apartmentID, shareBP, start,
		s.apartmentOwnerships(apartmentID), s.committeeIDs(), s.now())
	if err != nil {
		return Ownership{}, nil, err
	}
	s.ownerships[o.ID] = o
	s.persist(fx)
	return o, fx.Notices, nil
}

func (s *InMemory) SubmitTenancy(ctx context.Context, actor Actor, forUser, apartmentID string, leaseStart, leaseEnd time.Time, autoRenew bool) (Tenancy, []Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, fx, err := BuildTenancy(actor, forUser, apartmentID, leaseStart, leaseEnd, autoRenew,
		s.apartmentTenancies(apartmentID), s.committeeIDs(), s.now())
	if err != nil {
		return Tenancy{}, nil, err
	}
	s.tenancies[t.ID] = t
	s.persist(fx)
	return t, fx.Notices, nil
}

func (s *InMemory) SubmitTransfer(ctx context.Context, actor Actor, apartmentID, fromUser, toUser string, shareBP int32) (TransferOutcome, []Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := s.holdingRow(apartmentID, fromUser)
	toHolds := s.holdingRow(apartmentID, toUser) != nil
	out, fx, err := BuildTransfer(actor, apartmentID, fromUser, toUser, shareBP, from, toHolds,
		s.committeeIDs(), s.now())
	if err != nil {
		return TransferOutcome{}, nil, err
	}
	s.applyOutcome(out)
	s.persist(fx)
	return out, fx.Notices, nil
}

func (s *InMemory) SubmitRegistration(ctx context.Context, email, fullName, passwordHash string) (User, []Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.emailIndex[strings.ToLower(strings.TrimSpace(email))]; exists {
		return User{}, nil, Errf(CodeValidation, "email is already registered")
	}
	u, fx, err := BuildRegistration(email, fullName, passwordHash, s.committeeIDs(), s.now())
	if err != nil {
		return User{}, nil, err
	}
	s.users[u.ID] = u
	s.emailIndex[u.Email] = u.ID
	s.persist(fx)
	return u, fx.Notices, nil
}

// --- decisions -------------------------------------------------------------

func (s *InMemory) DecideOwnership(ctx context.Context, in DecisionInput, id string) (Ownership, []Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.ownerships[id]
	if !ok {
		return Ownership{}, nil, ErrNotFound
	}
	in.Now = s.now()
	target := ConflictTarget{Kind: KindOwnership, SubjectUser: o.UserID}
	if err := s.refuseOnConflict(in.Actor, target, TableOwnerships, id, in.Now); err != nil {
		return Ownership{}, nil, err
	}
	updated, fx, err := DecideOwnership(o, s.apartmentOwnerships(o.ApartmentID), in)
	if err != nil {
		return Ownership{}, nil, err
	}
	s.ownerships[id] = updated
	s.persist(fx)
	return updated, fx.Notices, nil
}

func (s *InMemory) DecideTenancy(ctx context.Context, in DecisionInput, id string) (Tenancy, []Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenancies[id]
	if !ok {
		return Tenancy{}, nil, ErrNotFound
	}
	in.Now = s.now()
	target := ConflictTarget{Kind: KindTenancy, SubjectUser: t.UserID}
	if err := s.refuseOnConflict(in.Actor, target, TableTenancies, id, in.Now); err != nil {
		return Tenancy{}, nil, err
	}
	updated, fx, err := DecideTenancy(t, s.apartmentTenancies(t.ApartmentID), in)
	if err != nil {
		return Tenancy{}, nil, err
	}
	s.tenancies[id] = updated
	s.persist(fx)
	return updated, fx.Notices, nil
}

func (s *InMemory) DecideTransfer(ctx context.Context, in DecisionInput, id string) (TransferOutcome, []Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.transfers[id]
	if !ok {
		return TransferOutcome{}, nil, ErrNotFound
	}
	in.Now = s.now()
	target := ConflictTarget{Kind: KindTransfer, FromUser: tr.FromUser, ToUser: tr.ToUser}
	if err := s.refuseOnConflict(in.Actor, target, TableTransfers, id, in.Now); err != nil {
		return TransferOutcome{}, nil, err
	}
	from := s.holdingRow(tr.ApartmentID, tr.FromUser)
	toHolds := s.holdingRow(tr.ApartmentID, tr.ToUser) != nil
	out, fx, err := DecideTransfer(tr, from, toHolds, in)
	if err != nil {
		return TransferOutcome{}, nil, err
	}
	s.applyOutcome(out)
	s.persist(fx)
	return out, fx.Notices, nil
}

func (s *InMemory) DecideRegistration(ctx context.Context, in DecisionInput, id string) (User, []Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, nil, ErrNotFound
	}
	in.Now = s.now()
	target := ConflictTarget{Kind: KindRegistration, SubjectUser: u.ID}
	if err := s.refuseOnConflict(in.Actor, target, TableUsers, id, in.Now); err != nil {
		return User{}, nil, err
	}
	updated, fx, err := DecideRegistration(u, in)
	if err != nil {
		return User{}, nil, err
	}
	s.users[id] = updated
	s.persist(fx)
	return updated, fx.Notices, nil
}

// --- side transitions ------------------------------------------------------

func (s *InMemory) CompleteTransfer(ctx context.Context, actor Actor, id string) (TransferOutcome, []Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.transfers[id]
	if !ok {
		return TransferOutcome{}, nil, ErrNotFound
	}
	now := s.now()
	target := ConflictTarget{Kind: KindTransfer, FromUser: tr.FromUser, ToUser: tr.ToUser}
	if err := s.refuseOnConflict(actor, target, TableTransfers, id, now); err != nil {
		return TransferOutcome{}, nil, err
	}
	from := s.holdingRow(tr.ApartmentID, tr.FromUser)
	toHolds := s.holdingRow(tr.ApartmentID, tr.ToUser) != nil
	out, fx, err := CompleteTransferStep(tr, from, toHolds, actor, now)
	if err != nil {
		return TransferOutcome{}, nil, err
	}
	s.applyOutcome(out)
	s.persist(fx)
	return out, fx.Notices, nil
}

func (s *InMemory) ExtendLease(ctx context.Context, actor Actor, id string, newEnd time.Time, reason string) (Tenancy, []Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenancies[id]
	if !ok {
		return Tenancy{}, nil, ErrNotFound
	}
	now := s.now()
	target := ConflictTarget{Kind: KindTenancy, SubjectUser: t.UserID}
	if err := s.refuseOnConflict(actor, target, TableTenancies, id, now); err != nil {
		return Tenancy{}, nil, err
	}
	updated, fx, err := ExtendLeaseStep(t, actor, newEnd, reason, now)
	if err != nil {
		return Tenancy{}, nil, err
	}
	s.tenancies[id] = updated
	s.persist(fx)
	return updated, fx.Notices, nil
}

func (s *InMemory) EndOwnership(ctx context.Context, actor Actor, id string, endDate time.Time) (Ownership, []Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.ownerships[id]
	if !ok {
		return Ownership{}, nil, ErrNotFound
	}
	updated, fx, err := EndOwnershipStep(o, actor, endDate, s.now())
	if err != nil {
		return Ownership{}, nil, err
	}
	s.ownerships[id] = updated
	s.persist(fx)
	return updated, fx.Notices, nil
}

func (s *InMemory) EndTenancy(ctx context.Context, actor Actor, id string, endDate time.Time) (Tenancy, []Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenancies[id]
	if !ok {
		return Tenancy{}, nil, ErrNotFound
	}
	updated, fx, err := EndTenancyStep(t, actor, endDate, s.now())
	if err != nil {
		return Tenancy{}, nil, err
	}
	s.tenancies[id] = updated
	s.persist(fx)
	return updated, fx.Notices, nil
}

// --- queries ---------------------------------------------------------------

func (s *InMemory) ListPending(ctx context.Context, kind RequestKind, limit int) ([]PendingRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []PendingRequest
	add := func(p PendingRequest) {
		if kind == "" || p.Kind == kind {
			out = append(out, p)
		}
	}
	for _, o := range s.ownerships {
		if o.Status == StatePending {
			add(PendingRequest{Kind: KindOwnership, ID: o.ID, ApartmentID: o.ApartmentID, UserID: o.UserID, ShareBP: o.ShareBP, CreatedAt: o.CreatedAt})
		}
	}
	for _, t := range s.tenancies {
		if t.Status == StatePending {
			add(PendingRequest{Kind: KindTenancy, ID: t.ID, ApartmentID: t.ApartmentID, UserID: t.UserID, CreatedAt: t.CreatedAt})
		}
	}
	for _, tr := range s.transfers {
		if tr.Status == StatePending {
			add(PendingRequest{Kind: KindTransfer, ID: tr.ID, ApartmentID: tr.ApartmentID, FromUser: tr.FromUser, ToUser: tr.ToUser, ShareBP: tr.ShareBP, CreatedAt: tr.CreatedAt})
		}
	}
	for _, u := range s.users {
		if u.Registration == StatePending {
			add(PendingRequest{Kind: KindRegistration, ID: u.ID, UserID: u.ID, CreatedAt: u.CreatedAt})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) Notifications(ctx context.Context, userID string, unreadOnly bool) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Notification
	for _, n := range s.inboxes[userID] {
		if unreadOnly && n.Read {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) SaveNotifications(ctx context.Context, notices []Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range notices {
		if n.ID == "" {
			n.ID = ids.New()
		}
		s.inboxes[n.RecipientID] = append(s.inboxes[n.RecipientID], n)
	}
	return nil
}

func (s *InMemory) MarkNotificationRead(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inbox := s.inboxes[userID]
	for i := range inbox {
		if inbox[i].ID == id {
			if !inbox[i].Read {
				inbox[i].Read = true
				ts := s.now()
				inbox[i].ReadAt = &ts
			}
			return nil
		}
	}
	return ErrNotFound
}

// --- internals -------------------------------------------------------------

func (s *InMemory) apartmentOwnerships(apartmentID string) []Ownership {
	var out []Ownership
	for _, o := range s.ownerships {
		if o.ApartmentID == apartmentID {
			out = append(out, o)
		}
	}
	return out
}

func (s *InMemory) apartmentTenancies(apartmentID string) []Tenancy {
	var out []Tenancy
	for _, t := range s.tenancies {
		if t.ApartmentID == apartmentID {
			out = append(out, t)
		}
	}
	return out
}

func (s *InMemory) holdingRow(apartmentID, userID string) *Ownership {
	for _, o := range s.ownerships {
		if o.ApartmentID == apartmentID && o.UserID == userID && holdsShare(o) {
			row := o
			return &row
		}
	}
	return nil
}

func (s *InMemory) committeeIDs() []string {
	seen := make(map[string]struct{})
	var out []string
	for userID, list := range s.assignments {
		for _, a := range list {
			if a.Active && a.Role.Active && a.Role.Office != OfficeNone {
				if _, ok := seen[userID]; !ok {
					seen[userID] = struct{}{}
					out = append(out, userID)
				}
			}
		}
	}
	sort.Strings(out)
	return out
}

func (s *InMemory) applyOutcome(out TransferOutcome) {
	s.transfers[out.Transfer.ID] = out.Transfer
	if out.UpdatedFrom != nil {
		s.ownerships[out.UpdatedFrom.ID] = *out.UpdatedFrom
	}
	if out.NewOwnership != nil {
		s.ownerships[out.NewOwnership.ID] = *out.NewOwnership
	}
}

func (s *InMemory) persist(fx Effects) {
	for _, entry := range fx.Audit {
		if entry.ID == "" {
			entry.ID = ids.New()
		}
		s.auditLog = append(s.auditLog, entry)
	}
	for _, action := range fx.Actions {
		if action.ID == "" {
			action.ID = ids.New()
		}
		s.committeeLog = append(s.committeeLog, action)
	}
}

// refuseOnConflict runs the guard and, on conflict, records the audited
// refusal before returning the error.
func (s *InMemory) refuseOnConflict(actor Actor, target ConflictTarget, table, recordID string, now time.Time) error {
	if err := CheckConflict(actor, target); err != nil {
		entry := ConflictRefusalAudit(actor, target, table, recordID, now)
		entry.ID = ids.New()
		s.auditLog = append(s.auditLog, entry)
		return err
	}
	return nil
}
