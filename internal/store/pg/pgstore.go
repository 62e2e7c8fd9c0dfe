package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"uyim.org/internal/ids"
	"uyim.org/internal/occupancy"
)

// Store is the durable occupancy.Store. Every mutating method runs one
// serializable transaction: snapshot rows are locked with FOR UPDATE in a
// stable order (by id), the pure transition runs against that snapshot, and
// the resulting rows are persisted together with the audit and committee
// effects. A conflict-of-interest refusal commits its audit entry and then
// returns the error.
type Store struct {
	db *sql.DB
}

var _ occupancy.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle (tests use this with sqlmock).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) begin(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
}

// --- reads -----------------------------------------------------------------

func (s *Store) Assignments(ctx context.Context, userID string) ([]occupancy.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select a.user_id, a.role_id, coalesce(a.apartment_id,''), a.active,
		       coalesce(a.assigned_by,''), a.assigned_at, a.deactivated_at,
		       r.id, r.name, r.rank, r.caps, coalesce(r.office,''), r.active
		from role_assignments a
		join roles r on r.id = a.role_id
		where a.user_id = $1
		order by a.assigned_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []occupancy.Assignment
	for rows.Next() {
		var a occupancy.Assignment
		var caps int
		var office string
		var deactivated sql.NullTime
		if err := rows.Scan(&a.UserID, &a.RoleID, &a.ApartmentID, &a.Active,
			&a.AssignedBy, &a.AssignedAt, &deactivated,
			&a.Role.ID, &a.Role.Name, &a.Role.Rank, &caps, &office, &a.Role.Active); err != nil {
			return nil, err
		}
		a.Role.Caps = occupancy.Capability(caps)
		a.Role.Office = occupancy.Office(office)
		if deactivated.Valid {
			a.DeactivatedAt = &deactivated.Time
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const userColumns = `id, email, coalesce(full_name,''), coalesce(password_hash,''), registration,
       coalesce(decided_by,''), coalesce(decided_role,''), decided_at, coalesce(reason,''), created_at`

func (s *Store) User(ctx context.Context, id string) (occupancy.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id=$1`, id))
}

func (s *Store) UserByEmail(ctx context.Context, email string) (occupancy.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email=$1`, email))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (occupancy.User, error) {
	var u occupancy.User
	var decidedAt sql.NullTime
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.Registration,
		&u.DecidedBy, &u.DecidedRole, &decidedAt, &u.Reason, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return occupancy.User{}, occupancy.ErrNotFound
	}
	if err != nil {
		return occupancy.User{}, err
	}
	if decidedAt.Valid {
		u.DecidedAt = &decidedAt.Time
	}
	return u, nil
}

// --- submissions -----------------------------------------------------------

func (s *Store) SubmitOwnership(ctx context.Context, actor occupancy.Actor, forUser, apartmentID string, shareBP int32, start time.Time) (occupancy.Ownership, []occupancy.Notification, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return occupancy.Ownership{}, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	owners, err := ownershipsForUpdate(ctx, tx, apartmentID)
	if err != nil {
		return occupancy.Ownership{}, nil, err
	}
	committee, err := committeeIDs(ctx, tx)
	if err != nil {
		return occupancy.Ownership{}, nil, err
	}
	o, fx, err := occupancy.BuildOwnership(actor, forUser, apartmentID, shareBP, start, owners, committee, time.Now().UTC())
	if err != nil {
		return occupancy.Ownership{}, nil, err
	}
	if err := insertOwnership(ctx, tx, o); err != nil {
		return occupancy.Ownership{}, nil, err
	}
	if err := persistEffects(ctx, tx, fx); err != nil {
		return occupancy.Ownership{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return occupancy.Ownership{}, nil, err
	}
	return o, fx.Notices, nil
}

func (s *Store) SubmitTenancy(ctx context.Context, actor occupancy.Actor, forUser, apartmentID string, leaseStart, leaseEnd time.Time, autoRenew bool) (occupancy.Tenancy, []occupancy.Notification, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return occupancy.Tenancy{}, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	tenancies, err := tenanciesForUpdate(ctx, tx, apartmentID)
	if err != nil {
		return occupancy.Tenancy{}, nil, err
	}
	committee, err := committeeIDs(ctx, tx)
	if err != nil {
		return occupancy.Tenancy{}, nil, err
	}
	t, fx, err := occupancy.BuildTenancy(actor, forUser, apartmentID, leaseStart, leaseEnd, autoRenew, tenancies, committee, time.Now().UTC())
	if err != nil {
		return occupancy.Tenancy{}, nil, err
	}
	if err := insertTenancy(ctx, tx, t); err != nil {
		return occupancy.Tenancy{}, nil, err
	}
	if err := persistEffects(ctx, tx, fx); err != nil {
		return occupancy.Tenancy{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return occupancy.Tenancy{}, nil, err
	}
	return t, fx.Notices, nil
}

func (s *Store) SubmitTransfer(ctx context.Context, actor occupancy.Actor, apartmentID, fromUser, toUser string, shareBP int32) (occupancy.TransferOutcome, []occupancy.Notification, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return occupancy.TransferOutcome{}, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	owners, err := ownershipsForUpdate(ctx, tx, apartmentID)
	if err != nil {
		return occupancy.TransferOutcome{}, nil, err
	}
	committee, err := committeeIDs(ctx, tx)
	if err != nil {
		return occupancy.TransferOutcome{}, nil, err
	}
	from, toHolds := transferParties(owners, fromUser, toUser)
	out, fx, err := occupancy.BuildTransfer(actor, apartmentID, fromUser, toUser, shareBP, from, toHolds, committee, time.Now().UTC())
	if err != nil {
		return occupancy.TransferOutcome{}, nil, err
	}
	if err := insertTransfer(ctx, tx, out.Transfer); err != nil {
		return occupancy.TransferOutcome{}, nil, err
	}
	if err := applyOutcomeRows(ctx, tx, out, false); err != nil {
		return occupancy.TransferOutcome{}, nil, err
	}
	if err := persistEffects(ctx, tx, fx); err != nil {
		return occupancy.TransferOutcome{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return occupancy.TransferOutcome{}, nil, err
	}
	return out, fx.Notices, nil
}

func (s *Store) SubmitRegistration(ctx context.Context, email, fullName, passwordHash string) (occupancy.User, []occupancy.Notification, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return occupancy.User{}, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `select exists(select 1 from users where email=$1)`,
		strings.ToLower(strings.TrimSpace(email))).Scan(&exists); err != nil {
		return occupancy.User{}, nil, err
	}
	if exists {
		return occupancy.User{}, nil, occupancy.Errf(occupancy.CodeValidation, "email is already registered")
	}
	committee, err := committeeIDs(ctx, tx)
	if err != nil {
		return occupancy.User{}, nil, err
	}
	u, fx, err := occupancy.BuildRegistration(email, fullName, passwordHash, committee, time.Now().UTC())
	if err != nil {
		return occupancy.User{}, nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into users(id, email, full_name, password_hash, registration, created_at)
		values ($1,$2,$3,$4,$5,$6)
	`, u.ID, u.Email, u.FullName, u.PasswordHash, u.Registration, u.CreatedAt); err != nil {
		return occupancy.User{}, nil, err
	}
	if err := persistEffects(ctx, tx, fx); err != nil {
		return occupancy.User{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return occupancy.User{}, nil, err
	}
	return u, fx.Notices, nil
}

// --- decisions -------------------------------------------------------------

func (s *Store) DecideOwnership(ctx context.Context, in occupancy.DecisionInput, id string) (occupancy.Ownership, []occupancy.Notification, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return occupancy.Ownership{}, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	o, err := ownershipForUpdate(ctx, tx, id)
	if err != nil {
		return occupancy.Ownership{}, nil, err
	}
	in.Now = time.Now().UTC()
	target := occupancy.ConflictTarget{Kind: occupancy.KindOwnership, SubjectUser: o.UserID}
	if err := refuseOnConflict(ctx, tx, in.Actor, target, occupancy.TableOwnerships, id, in.Now); err != nil {
		return occupancy.Ownership{}, nil, err
	}
	owners, err := ownershipsForUpdate(ctx, tx, o.ApartmentID)
	if err != nil {
		return occupancy.Ownership{}, nil, err
	}
	updated, fx, err := occupancy.DecideOwnership(o, owners, in)
	if err != nil {
		return occupancy.Ownership{}, nil, err
	}
	if err := updateOwnership(ctx, tx, updated); err != nil {
		return occupancy.Ownership{}, nil, err
	}
	if err := persistEffects(ctx, tx, fx); err != nil {
		return occupancy.Ownership{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return occupancy.Ownership{}, nil, err
	}
	return updated, fx.Notices, nil
}

func (s *Store) DecideTenancy(ctx context.Context, in occupancy.DecisionInput, id string) (occupancy.Tenancy, []occupancy.Notification, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return occupancy.Tenancy{}, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	t, err := tenancyForUpdate(ctx, tx, id)
	if err != nil {
		return occupancy.Tenancy{}, nil, err
	}
	in.Now = time.Now().UTC()
	target := occupancy.ConflictTarget{Kind: occupancy.KindTenancy, SubjectUser: t.UserID}
	if err := refuseOnConflict(ctx, tx, in.Actor, target, occupancy.TableTenancies, id, in.Now); err != nil {
		return occupancy.Tenancy{}, nil, err
	}
	tenancies, err := tenanciesForUpdate(ctx, tx, t.ApartmentID)
	if err != nil {
		return occupancy.Tenancy{}, nil, err
	}
	updated, fx, err := occupancy.DecideTenancy(t, tenancies, in)
	if err != nil {
		return occupancy.Tenancy{}, nil, err
	}
	if err := updateTenancy(ctx, tx, updated); err != nil {
		return occupancy.Tenancy{}, nil, err
	}
	if err := persistEffects(ctx, tx, fx); err != nil {
		return occupancy.Tenancy{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return occupancy.Tenancy{}, nil, err
	}
	return updated, fx.Notices, nil
}

func (s *Store) DecideTransfer(ctx context.Context, in occupancy.DecisionInput, id string) (occupancy.TransferOutcome, []occupancy.Notification, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return occupancy.TransferOutcome{}, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	tr, err := transferForUpdate(ctx, tx, id)
	if err != nil {
		return occupancy.TransferOutcome{}, nil, err
	}
	in.Now = time.Now().UTC()
	target := occupancy.ConflictTarget{Kind: occupancy.KindTransfer, FromUser: tr.FromUser, ToUser: tr.ToUser}
	if err := refuseOnConflict(ctx, tx, in.Actor, target, occupancy.TableTransfers, id, in.Now); err != nil {
		return occupancy.TransferOutcome{}, nil, err
	}
	owners, err := ownershipsForUpdate(ctx, tx, tr.ApartmentID)
	if err != nil {
		return occupancy.TransferOutcome{}, nil, err
	}
	from, toHolds := transferParties(owners, tr.FromUser, tr.ToUser)
	out, fx, err := occupancy.DecideTransfer(tr, from, toHolds, in)
	if err != nil {
		return occupancy.TransferOutcome{}, nil, err
	}
	if err := applyOutcomeRows(ctx, tx, out, true); err != nil {
		return occupancy.TransferOutcome{}, nil, err
	}
	if err := persistEffects(ctx, tx, fx); err != nil {
		return occupancy.TransferOutcome{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return occupancy.TransferOutcome{}, nil, err
	}
	return out, fx.Notices, nil
}

func (s *Store) DecideRegistration(ctx context.Context, in occupancy.DecisionInput, id string) (occupancy.User, []occupancy.Notification, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return occupancy.User{}, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	u, err := userForUpdate(ctx, tx, id)
	if err != nil {
		return occupancy.User{}, nil, err
	}
	in.Now = time.Now().UTC()
	target := occupancy.ConflictTarget{Kind: occupancy.KindRegistration, SubjectUser: u.ID}
	if err := refuseOnConflict(ctx, tx, in.Actor, target, occupancy.TableUsers, id, in.Now); err != nil {
		return occupancy.User{}, nil, err
	}
	updated, fx, err := occupancy.DecideRegistration(u, in)
	if err != nil {
		return occupancy.User{}, nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		update users set registration=$2, decided_by=nullif($3,''), decided_role=nullif($4,''),
		       decided_at=$5, reason=nullif($6,'')
		where id=$1
	`, updated.ID, updated.Registration, updated.DecidedBy, updated.DecidedRole, updated.DecidedAt, updated.Reason); err != nil {
		return occupancy.User{}, nil, err
	}
	if err := persistEffects(ctx, tx, fx); err != nil {
		return occupancy.User{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return occupancy.User{}, nil, err
	}
	return updated, fx.Notices, nil
}

// --- side transitions ------------------------------------------------------

func (s *Store) CompleteTransfer(ctx context.Context, actor occupancy.Actor, id string) (occupancy.TransferOutcome, []occupancy.Notification, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return occupancy.TransferOutcome{}, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	tr, err := transferForUpdate(ctx, tx, id)
	if err != nil {
		return occupancy.TransferOutcome{}, nil, err
	}
	now := time.Now().UTC()
	target := occupancy.ConflictTarget{Kind: occupancy.KindTransfer, FromUser: tr.FromUser, ToUser: tr.ToUser}
	if err := refuseOnConflict(ctx, tx, actor, target, occupancy.TableTransfers, id, now); err != nil {
		return occupancy.TransferOutcome{}, nil, err
	}
	owners, err := ownershipsForUpdate(ctx, tx, tr.ApartmentID)
	if err != nil {
		return occupancy.TransferOutcome{}, nil, err
	}
	from, toHolds := transferParties(owners, tr.FromUser, tr.ToUser)
	out, fx, err := occupancy.CompleteTransferStep(tr, from, toHolds, actor, now)
	if err != nil {
		return occupancy.TransferOutcome{}, nil, err
	}
	if err := applyOutcomeRows(ctx, tx, out, true); err != nil {
		return occupancy.TransferOutcome{}, nil, err
	}
	if err := persistEffects(ctx, tx, fx); err != nil {
		return occupancy.TransferOutcome{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return occupancy.TransferOutcome{}, nil, err
	}
	return out, fx.Notices, nil
}

func (s *Store) ExtendLease(ctx context.Context, actor occupancy.Actor, id string, newEnd time.Time, reason string) (occupancy.Tenancy, []occupancy.Notification, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return occupancy.Tenancy{}, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	t, err := tenancyForUpdate(ctx, tx, id)
	if err != nil {
		return occupancy.Tenancy{}, nil, err
	}
	now := time.Now().UTC()
	target := occupancy.ConflictTarget{Kind: occupancy.KindTenancy, SubjectUser: t.UserID}
	if err := refuseOnConflict(ctx, tx, actor, target, occupancy.TableTenancies, id, now); err != nil {
		return occupancy.Tenancy{}, nil, err
	}
	updated, fx, err := occupancy.ExtendLeaseStep(t, actor, newEnd, reason, now)
	if err != nil {
		return occupancy.Tenancy{}, nil, err
	}
	if err := updateTenancy(ctx, tx, updated); err != nil {
		return occupancy.Tenancy{}, nil, err
	}
	if err := persistEffects(ctx, tx, fx); err != nil {
		return occupancy.Tenancy{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return occupancy.Tenancy{}, nil, err
	}
	return updated, fx.Notices, nil
}

func (s *Store) EndOwnership(ctx context.Context, actor occupancy.Actor, id string, endDate time.Time) (occupancy.Ownership, []occupancy.Notification, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return occupancy.Ownership{}, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	o, err := ownershipForUpdate(ctx, tx, id)
	if err != nil {
		return occupancy.Ownership{}, nil, err
	}
	updated, fx, err := occupancy.EndOwnershipStep(o, actor, endDate, time.Now().UTC())
	if err != nil {
		return occupancy.Ownership{}, nil, err
	}
	if err := updateOwnership(ctx, tx, updated); err != nil {
		return occupancy.Ownership{}, nil, err
	}
	if err := persistEffects(ctx, tx, fx); err != nil {
		return occupancy.Ownership{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return occupancy.Ownership{}, nil, err
	}
	return updated, fx.Notices, nil
}

func (s *Store) EndTenancy(ctx context.Context, actor occupancy.Actor, id string, endDate time.Time) (occupancy.Tenancy, []occupancy.Notification, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return occupancy.Tenancy{}, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	t, err := tenancyForUpdate(ctx, tx, id)
	if err != nil {
		return occupancy.Tenancy{}, nil, err
	}
	updated, fx, err := occupancy.EndTenancyStep(t, actor, endDate, time.Now().UTC())
	if err != nil {
		return occupancy.Tenancy{}, nil, err
	}
	if err := updateTenancy(ctx, tx, updated); err != nil {
		return occupancy.Tenancy{}, nil, err
	}
	if err := persistEffects(ctx, tx, fx); err != nil {
		return occupancy.Tenancy{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return occupancy.Tenancy{}, nil, err
	}
	return updated, fx.Notices, nil
}

// --- queries ---------------------------------------------------------------

func (s *Store) ListPending(ctx context.Context, kind occupancy.RequestKind, limit int) ([]occupancy.PendingRequest, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select kind, id, apartment_id, user_id, from_user, to_user, share_bp, created_at from (
			select 'ownership' as kind, id, apartment_id, user_id, '' as from_user, '' as to_user, share_bp, created_at
			from ownership_relationships where status='pending'
			union all
			select 'tenancy', id, apartment_id, user_id, '', '', 0, created_at
			from tenant_relationships where status='pending'
			union all
			select 'transfer', id, apartment_id, '', from_user, to_user, share_bp, created_at
			from ownership_transfers where status='pending'
			union all
			select 'registration', id, '', id, '', '', 0, created_at
			from users where registration='pending'
		) q
		where ($1 = '' or kind = $1)
		order by created_at, id
		limit $2
	`, string(kind), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []occupancy.PendingRequest
	for rows.Next() {
		var p occupancy.PendingRequest
		if err := rows.Scan(&p.Kind, &p.ID, &p.ApartmentID, &p.UserID, &p.FromUser, &p.ToUser, &p.ShareBP, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) Notifications(ctx context.Context, userID string, unreadOnly bool) ([]occupancy.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, recipient_id, type, title, message, priority, coalesce(link,''),
		       coalesce(sender_id,''), coalesce(sender_role,''), read, read_at, created_at
		from notifications
		where recipient_id=$1 and ($2 = false or read = false)
		order by created_at desc
	`, userID, unreadOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []occupancy.Notification
	for rows.Next() {
		var n occupancy.Notification
		var readAt sql.NullTime
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Type, &n.Title, &n.Message, &n.Priority,
			&n.Link, &n.SenderID, &n.SenderRole, &n.Read, &readAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		if readAt.Valid {
			n.ReadAt = &readAt.Time
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) SaveNotifications(ctx context.Context, notices []occupancy.Notification) error {
	if len(notices) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, n := range notices {
		if n.ID == "" {
			n.ID = ids.New()
		}
		if _, err := tx.ExecContext(ctx, `
			insert into notifications(id, recipient_id, type, title, message, priority, link, sender_id, sender_role, read, created_at)
			values ($1,$2,$3,$4,$5,$6,nullif($7,''),nullif($8,''),nullif($9,''),false,$10)
		`, n.ID, n.RecipientID, n.Type, n.Title, n.Message, n.Priority, n.Link, n.SenderID, n.SenderRole, n.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) MarkNotificationRead(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `
		update notifications set read=true, read_at=now()
		where id=$1 and recipient_id=$2 and read=false
	`, id, userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		var exists bool
		if qerr := s.db.QueryRowContext(ctx, `
			select exists(select 1 from notifications where id=$1 and recipient_id=$2)
		`, id, userID).Scan(&exists); qerr == nil && !exists {
			return occupancy.ErrNotFound
		}
	}
	return nil
}

// --- row helpers -----------------------------------------------------------

const ownershipColumns = `id, user_id, apartment_id, share_bp, start_date, end_date, active, status,
       coalesce(decided_by,''), coalesce(decided_role,''), decided_at, coalesce(reason,''), created_at`

func scanOwnership(row rowScanner) (occupancy.Ownership, error) {
	var o occupancy.Ownership
	var endDate, decidedAt sql.NullTime
	err := row.Scan(&o.ID, &o.UserID, &o.ApartmentID, &o.ShareBP, &o.StartDate, &endDate, &o.Active,
		&o.Status, &o.DecidedBy, &o.DecidedRole, &decidedAt, &o.Reason, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return occupancy.Ownership{}, occupancy.ErrNotFound
	}
	if err != nil {
		return occupancy.Ownership{}, err
	}
	if endDate.Valid {
		o.EndDate = &endDate.Time
	}
	if decidedAt.Valid {
		o.DecidedAt = &decidedAt.Time
	}
	return o, nil
}

func ownershipForUpdate(ctx context.Context, tx *sql.Tx, id string) (occupancy.Ownership, error) {
	return scanOwnership(tx.QueryRowContext(ctx,
		`select `+ownershipColumns+` from ownership_relationships where id=$1 for update`, id))
}

// ownershipsForUpdate locks the apartment's rows in id order so concurrent
// transactions acquire them in the same sequence.
func ownershipsForUpdate(ctx context.Context, tx *sql.Tx, apartmentID string) ([]occupancy.Ownership, error) {
	rows, err := tx.QueryContext(ctx,
		`select `+ownershipColumns+` from ownership_relationships where apartment_id=$1 order by id for update`, apartmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []occupancy.Ownership
	for rows.Next() {
		o, err := scanOwnership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func insertOwnership(ctx context.Context, tx *sql.Tx, o occupancy.Ownership) error {
	_, err := tx.ExecContext(ctx, `
		insert into ownership_relationships(id, user_id, apartment_id, share_bp, start_date, end_date, active, status, decided_by, decided_role, decided_at, reason, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,nullif($9,''),nullif($10,''),$11,nullif($12,''),$13)
	`, o.ID, o.UserID, o.ApartmentID, o.ShareBP, o.StartDate, o.EndDate, o.Active, o.Status,
		o.DecidedBy, o.DecidedRole, o.DecidedAt, o.Reason, o.CreatedAt)
	return err
}

func updateOwnership(ctx context.Context, tx *sql.Tx, o occupancy.Ownership) error {
	_, err := tx.ExecContext(ctx, `
		update ownership_relationships
		set share_bp=$2, end_date=$3, active=$4, status=$5, decided_by=nullif($6,''),
		    decided_role=nullif($7,''), decided_at=$8, reason=nullif($9,'')
		where id=$1
	`, o.ID, o.ShareBP, o.EndDate, o.Active, o.Status, o.DecidedBy, o.DecidedRole, o.DecidedAt, o.Reason)
	return err
}

const tenancyColumns = `id, user_id, apartment_id, lease_start, lease_end, auto_renew, active, status,
       coalesce(decided_by,''), coalesce(decided_role,''), decided_at, coalesce(reason,''), created_at`

func scanTenancy(row rowScanner) (occupancy.Tenancy, error) {
	var t occupancy.Tenancy
	var decidedAt sql.NullTime
	err := row.Scan(&t.ID, &t.UserID, &t.ApartmentID, &t.LeaseStart, &t.LeaseEnd, &t.AutoRenew, &t.Active,
		&t.Status, &t.DecidedBy, &t.DecidedRole, &decidedAt, &t.Reason, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return occupancy.Tenancy{}, occupancy.ErrNotFound
	}
	if err != nil {
		return occupancy.Tenancy{}, err
	}
	if decidedAt.Valid {
		t.DecidedAt = &decidedAt.Time
	}
	return t, nil
}

func tenancyForUpdate(ctx context.Context, tx *sql.Tx, id string) (occupancy.Tenancy, error) {
	return scanTenancy(tx.QueryRowContext(ctx,
		`select `+tenancyColumns+` from tenant_relationships where id=$1 for update`, id))
}

func tenanciesForUpdate(ctx context.Context, tx *sql.Tx, apartmentID string) ([]occupancy.Tenancy, error) {
	rows, err := tx.QueryContext(ctx,
		`select `+tenancyColumns+` from tenant_relationships where apartment_id=$1 order by id for update`, apartmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []occupancy.Tenancy
	for rows.Next() {
		t, err := scanTenancy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func insertTenancy(ctx context.Context, tx *sql.Tx, t occupancy.Tenancy) error {
	_, err := tx.ExecContext(ctx, `
		insert into tenant_relationships(id, user_id, apartment_id, lease_start, lease_end, auto_renew, active, status, decided_by, decided_role, decided_at, reason, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,nullif($9,''),nullif($10,''),$11,nullif($12,''),$13)
	`, t.ID, t.UserID, t.ApartmentID, t.LeaseStart, t.LeaseEnd, t.AutoRenew, t.Active, t.Status,
		t.DecidedBy, t.DecidedRole, t.DecidedAt, t.Reason, t.CreatedAt)
	return err
}

func updateTenancy(ctx context.Context, tx *sql.Tx, t occupancy.Tenancy) error {
	_, err := tx.ExecContext(ctx, `
		update tenant_relationships
		set lease_end=$2, auto_renew=$3, active=$4, status=$5, decided_by=nullif($6,''),
		    decided_role=nullif($7,''), decided_at=$8, reason=nullif($9,'')
		where id=$1
	`, t.ID, t.LeaseEnd, t.AutoRenew, t.Active, t.Status, t.DecidedBy, t.DecidedRole, t.DecidedAt, t.Reason)
	return err
}

const transferColumns = `id, apartment_id, from_user, to_user, share_bp, status,
       coalesce(decided_by,''), coalesce(decided_role,''), decided_at, coalesce(reason,''), completed_at, created_at`

func scanTransfer(row rowScanner) (occupancy.Transfer, error) {
	var tr occupancy.Transfer
	var decidedAt, completedAt sql.NullTime
	err := row.Scan(&tr.ID, &tr.ApartmentID, &tr.FromUser, &tr.ToUser, &tr.ShareBP, &tr.Status,
		&tr.DecidedBy, &tr.DecidedRole, &decidedAt, &tr.Reason, &completedAt, &tr.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return occupancy.Transfer{}, occupancy.ErrNotFound
	}
	if err != nil {
		return occupancy.Transfer{}, err
	}
	if decidedAt.Valid {
		tr.DecidedAt = &decidedAt.Time
	}
	if completedAt.Valid {
		tr.CompletedAt = &completedAt.Time
	}
	return tr, nil
}

func transferForUpdate(ctx context.Context, tx *sql.Tx, id string) (occupancy.Transfer, error) {
	return scanTransfer(tx.QueryRowContext(ctx,
		`select `+transferColumns+` from ownership_transfers where id=$1 for update`, id))
}

func insertTransfer(ctx context.Context, tx *sql.Tx, tr occupancy.Transfer) error {
	_, err := tx.ExecContext(ctx, `
		insert into ownership_transfers(id, apartment_id, from_user, to_user, share_bp, status, decided_by, decided_role, decided_at, reason, completed_at, created_at)
		values ($1,$2,$3,$4,$5,$6,nullif($7,''),nullif($8,''),$9,nullif($10,''),$11,$12)
	`, tr.ID, tr.ApartmentID, tr.FromUser, tr.ToUser, tr.ShareBP, tr.Status,
		tr.DecidedBy, tr.DecidedRole, tr.DecidedAt, tr.Reason, tr.CompletedAt, tr.CreatedAt)
	return err
}

func updateTransfer(ctx context.Context, tx *sql.Tx, tr occupancy.Transfer) error {
	_, err := tx.ExecContext(ctx, `
		update ownership_transfers
		set status=$2, decided_by=nullif($3,''), decided_role=nullif($4,''), decided_at=$5,
		    reason=nullif($6,''), completed_at=$7
		where id=$1
	`, tr.ID, tr.Status, tr.DecidedBy, tr.DecidedRole, tr.DecidedAt, tr.Reason, tr.CompletedAt)
	return err
}

// applyOutcomeRows persists a transfer outcome. updateRow is false for a
// fresh submission whose transfer row was just inserted.
func applyOutcomeRows(ctx context.Context, tx *sql.Tx, out occupancy.TransferOutcome, updateRow bool) error {
	if updateRow {
		if err := updateTransfer(ctx, tx, out.Transfer); err != nil {
			return err
		}
	}
	if out.UpdatedFrom != nil {
		if err := updateOwnership(ctx, tx, *out.UpdatedFrom); err != nil {
			return err
		}
	}
	if out.NewOwnership != nil {
		if err := insertOwnership(ctx, tx, *out.NewOwnership); err != nil {
			return err
		}
	}
	return nil
}

func userForUpdate(ctx context.Context, tx *sql.Tx, id string) (occupancy.User, error) {
	return scanUser(tx.QueryRowContext(ctx, `select `+userColumns+` from users where id=$1 for update`, id))
}

func transferParties(owners []occupancy.Ownership, fromUser, toUser string) (*occupancy.Ownership, bool) {
	var from *occupancy.Ownership
	toHolds := false
	for i := range owners {
		o := owners[i]
		if o.Status != occupancy.StateApproved || !o.Active {
			continue
		}
		switch o.UserID {
		case fromUser:
			from = &owners[i]
		case toUser:
			toHolds = true
		}
	}
	return from, toHolds
}

func committeeIDs(ctx context.Context, tx *sql.Tx) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		select distinct a.user_id
		from role_assignments a
		join roles r on r.id = a.role_id
		where a.active and r.active and coalesce(r.office,'') <> ''
		order by a.user_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func persistEffects(ctx context.Context, tx *sql.Tx, fx occupancy.Effects) error {
	for _, entry := range fx.Audit {
		if err := insertAudit(ctx, tx, entry); err != nil {
			return err
		}
	}
	for _, action := range fx.Actions {
		if action.ID == "" {
			action.ID = ids.New()
		}
		if _, err := tx.ExecContext(ctx, `
			insert into committee_actions(id, actor_id, office, action_type, table_name, record_id, details, reason, created_at)
			values ($1,$2,$3,$4,$5,$6,nullif($7,''),nullif($8,''),$9)
		`, action.ID, action.ActorID, action.Office, action.ActionType, action.Table, action.RecordID,
			action.Details, action.Reason, action.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func insertAudit(ctx context.Context, tx *sql.Tx, entry occupancy.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	oldV, err := jsonOrNil(entry.OldValue)
	if err != nil {
		return err
	}
	newV, err := jsonOrNil(entry.NewValue)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		insert into audit_log(id, actor_id, action, table_name, record_id, old_value, new_value, actor_role, reason, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,nullif($8,''),nullif($9,''),$10)
	`, entry.ID, entry.ActorID, entry.Action, entry.Table, entry.RecordID, oldV, newV,
		entry.ActorRole, entry.Reason, entry.CreatedAt)
	return err
}

func jsonOrNil(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// refuseOnConflict runs the guard and, on conflict, commits the audited
// refusal on its own before returning the error. The caller's deferred
// rollback becomes a no-op.
func refuseOnConflict(ctx context.Context, tx *sql.Tx, actor occupancy.Actor, target occupancy.ConflictTarget, table, recordID string, now time.Time) error {
	guardErr := occupancy.CheckConflict(actor, target)
	if guardErr == nil {
		return nil
	}
	if err := insertAudit(ctx, tx, occupancy.ConflictRefusalAudit(actor, target, table, recordID, now)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return guardErr
}
