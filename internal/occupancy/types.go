package occupancy

import "time"

// RequestState is the unified lifecycle state shared by all four request
// kinds. Every request is created pending and transitions exactly once to
// approved or rejected.
type RequestState string

const (
	StatePending  RequestState = "pending"
	StateApproved RequestState = "approved"
	StateRejected RequestState = "rejected"
)

// RequestKind identifies which state machine a request belongs to.
type RequestKind string

const (
	KindOwnership    RequestKind = "ownership"
	KindTenancy      RequestKind = "tenancy"
	KindTransfer     RequestKind = "transfer"
	KindRegistration RequestKind = "registration"
)

// ValidKind reports whether k names one of the four request kinds.
func ValidKind(k RequestKind) bool {
	switch k {
	case KindOwnership, KindTenancy, KindTransfer, KindRegistration:
		return true
	}
	return false
}

// Office is the elected committee seat attached to a role, if any.
type Office string

const (
	OfficeNone      Office = ""
	OfficePresident Office = "president"
	OfficeSecretary Office = "secretary"
	OfficeTreasurer Office = "treasurer"
)

// Capability is an explicit per-role capability bitset. Roles declare what
// they may do instead of being matched by name.
type Capability uint8

const (
	CapApprove Capability = 1 << iota
	CapReject
	CapModify
	CapOverride
)

// Has reports whether all bits in want are set.
func (c Capability) Has(want Capability) bool { return c&want == want }

// Rank thresholds. InstantApprovalRank is the single most consequential
// threshold in the system: at or above it an approval completes the
// underlying change immediately instead of leaving it to a later step.
const (
	InstantApprovalRank = 80
	OverrideRank        = 90
)

// FullShareBP is a whole apartment expressed in basis points. Shares are
// integers (no floats), following the minor-units convention for money.
const FullShareBP int32 = 10000

// Role is an entry in the immutable role catalog. Deactivation, not
// deletion: a role referenced by history keeps its row forever.
type Role struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Rank   int        `json:"rank"`
	Caps   Capability `json:"caps"`
	Office Office     `json:"office,omitempty"`
	Active bool       `json:"active"`
}

// Assignment is a user-role-apartment tuple. A user may hold several
// concurrent active assignments; no duplicate active (user, role, apartment)
// triple may exist.
type Assignment struct {
	UserID        string     `json:"user_id"`
	RoleID        string     `json:"role_id"`
	ApartmentID   string     `json:"apartment_id,omitempty"`
	Role          Role       `json:"role"`
	Active        bool       `json:"active"`
	AssignedBy    string     `json:"assigned_by,omitempty"`
	AssignedAt    time.Time  `json:"assigned_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

// Ownership is an ownership relationship between a user and an apartment.
// ShareBP is the owned share in basis points, in (0, 10000].
type Ownership struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	ApartmentID string       `json:"apartment_id"`
	ShareBP     int32        `json:"share_bp"`
	StartDate   time.Time    `json:"start_date"`
	EndDate     *time.Time   `json:"end_date,omitempty"`
	Active      bool         `json:"active"`
	Status      RequestState `json:"status"`
	DecidedBy   string       `json:"decided_by,omitempty"`
	DecidedRole string       `json:"decided_role,omitempty"`
	DecidedAt   *time.Time   `json:"decided_at,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Tenancy is a lease relationship between a user and an apartment.
type Tenancy struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	ApartmentID string       `json:"apartment_id"`
	LeaseStart  time.Time    `json:"lease_start"`
	LeaseEnd    time.Time    `json:"lease_end"`
	AutoRenew   bool         `json:"auto_renew"`
	Active      bool         `json:"active"`
	Status      RequestState `json:"status"`
	DecidedBy   string       `json:"decided_by,omitempty"`
	DecidedRole string       `json:"decided_role,omitempty"`
	DecidedAt   *time.Time   `json:"decided_at,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Transfer moves part or all of an ownership share between two users.
// Approval and completion are distinct events: a sub-threshold approver
// leaves CompletedAt unset until an explicit completion step runs.
type Transfer struct {
	ID          string       `json:"id"`
	ApartmentID string       `json:"apartment_id"`
	FromUser    string       `json:"from_user"`
	ToUser      string       `json:"to_user"`
	ShareBP     int32        `json:"share_bp"`
	Status      RequestState `json:"status"`
	DecidedBy   string       `json:"decided_by,omitempty"`
	DecidedRole string       `json:"decided_role,omitempty"`
	DecidedAt   *time.Time   `json:"decided_at,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// User carries the registration review fields; registration is a gated
// request, not a separate entity.
type User struct {
	ID           string       `json:"id"`
	Email        string       `json:"email"`
	FullName     string       `json:"full_name"`
	PasswordHash string       `json:"-"`
	Registration RequestState `json:"registration"`
	DecidedBy    string       `json:"decided_by,omitempty"`
	DecidedRole  string       `json:"decided_role,omitempty"`
	DecidedAt    *time.Time   `json:"decided_at,omitempty"`
	Reason       string       `json:"reason,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// AuditEntry is an append-only record of a committed mutation. Entries are
// never updated or deleted.
type AuditEntry struct {
	ID        string         `json:"id"`
	ActorID   string         `json:"actor_id"`
	Action    string         `json:"action"` // INSERT, UPDATE, DELETE
	Table     string         `json:"table_name"`
	RecordID  string         `json:"record_id"`
	OldValue  map[string]any `json:"old_value,omitempty"`
	NewValue  map[string]any `json:"new_value,omitempty"`
	ActorRole string         `json:"actor_role,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// CommitteeAction supplements the audit log whenever the actor holds a
// committee office. It never replaces the generic entry.
type CommitteeAction struct {
	ID         string    `json:"id"`
	ActorID    string    `json:"actor_id"`
	Office     Office    `json:"office"`
	ActionType string    `json:"action_type"` // approval, rejection, override, modification
	Table      string    `json:"table_name"`
	RecordID   string    `json:"record_id"`
	Details    string    `json:"details,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Notification priorities.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Notification is a targeted message produced by a committed transition.
// Delivery is best-effort: losing one never rolls back an approval.
type Notification struct {
	ID          string     `json:"id"`
	RecipientID string     `json:"recipient_id"`
	Type        string     `json:"type"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	Priority    string     `json:"priority"`
	Link        string     `json:"link,omitempty"`
	SenderID    string     `json:"sender_id,omitempty"`
	SenderRole  string     `json:"sender_role,omitempty"`
	Read        bool       `json:"read"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// PendingRequest is a uniform row in the pending queue, ordered oldest first.
type PendingRequest struct {
	Kind        RequestKind `json:"kind"`
	ID          string      `json:"id"`
	ApartmentID string      `json:"apartment_id,omitempty"`
	UserID      string      `json:"user_id,omitempty"`
	FromUser    string      `json:"from_user,omitempty"`
	ToUser      string      `json:"to_user,omitempty"`
	ShareBP     int32       `json:"share_bp,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Actor is a resolved identity plus derived permissions; every engine
// operation runs on behalf of exactly one actor.
type Actor struct {
	ID    string
	Perms PermissionSet
	// Role is the display label stamped into decided_role and audit rows:
	// the name of the actor's highest-ranked active role.
	Role string
}
