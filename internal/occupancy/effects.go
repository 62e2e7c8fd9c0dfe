package occupancy

import (
	"encoding/json"
	"fmt"
	"time"
)

// Effects is the post-commit effect list attached to a transition. Audit and
// committee rows must be persisted inside the same transaction as the state
// change; notices are dispatched after commit, best-effort.
type Effects struct {
	Audit   []AuditEntry
	Actions []CommitteeAction
	Notices []Notification
}

func (e *Effects) audit(actor Actor, action, table, recordID string, oldV, newV map[string]any, reason string, now time.Time) {
	e.Audit = append(e.Audit, AuditEntry{
		ActorID:   actor.ID,
		Action:    action,
		Table:     table,
		RecordID:  recordID,
		OldValue:  oldV,
		NewValue:  newV,
		ActorRole: actor.Role,
		Reason:    reason,
		CreatedAt: now,
	})
}

// committee records a committee action; a no-op for non-committee actors.
func (e *Effects) committee(actor Actor, actionType, table, recordID, details, reason string, now time.Time) {
	if !actor.Perms.Committee {
		return
	}
	e.Actions = append(e.Actions, CommitteeAction{
		ActorID:    actor.ID,
		Office:     actor.Perms.Office,
		ActionType: actionType,
		Table:      table,
		RecordID:   recordID,
		Details:    details,
		Reason:     reason,
		CreatedAt:  now,
	})
}

func (e *Effects) notify(recipient, typ, title, message, priority, link string, actor Actor, now time.Time) {
	if recipient == "" {
		return
	}
	e.Notices = append(e.Notices, Notification{
		RecipientID: recipient,
		Type:        typ,
		Title:       title,
		Message:     message,
		Priority:    priority,
		Link:        link,
		SenderID:    actor.ID,
		SenderRole:  actor.Role,
		CreatedAt:   now,
	})
}

func (e *Effects) notifyAll(recipients []string, typ, title, message, priority, link string, actor Actor, now time.Time) {
	for _, r := range recipients {
		e.notify(r, typ, title, message, priority, link, actor, now)
	}
}

// ConflictRefusalAudit is the audit entry written when a committee member is
// refused for self-interest. The attempt itself is recorded before the error
// is returned: an audited refusal, not merely a denial.
func ConflictRefusalAudit(actor Actor, target ConflictTarget, table, recordID string, now time.Time) AuditEntry {
	return AuditEntry{
		ActorID:   actor.ID,
		Action:    "UPDATE",
		Table:     table,
		RecordID:  recordID,
		ActorRole: actor.Role,
		Reason:    fmt.Sprintf("refused: %s conflict of interest (%s)", target.Kind, CodeConflict),
		NewValue:  map[string]any{"refused": true, "code": CodeConflict},
		CreatedAt: now,
	}
}

// asMap flattens an entity into the old/new_value audit snapshot form.
func asMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]any{"marshal_error": err.Error()}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"unmarshal_error": err.Error()}
	}
	return m
}

// Table names used in audit rows.
const (
	TableOwnerships = "ownership_relationships"
	TableTenancies  = "tenant_relationships"
	TableTransfers  = "ownership_transfers"
	TableUsers      = "users"
)

// TableForKind maps a request kind to its backing table.
func TableForKind(kind RequestKind) string {
	switch kind {
	case KindOwnership:
		return TableOwnerships
	case KindTenancy:
		return TableTenancies
	case KindTransfer:
		return TableTransfers
	case KindRegistration:
		return TableUsers
	}
	return string(kind)
}
