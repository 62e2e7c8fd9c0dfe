package pg

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"uyim.org/internal/occupancy"
)

var ownershipCols = []string{
	"id", "user_id", "apartment_id", "share_bp", "start_date", "end_date", "active", "status",
	"decided_by", "decided_role", "decided_at", "reason", "created_at",
}

func pendingOwnershipRow(id, user, apartment string, shareBP int32, created time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(ownershipCols).
		AddRow(id, user, apartment, shareBP, created, nil, false, "pending", "", "", nil, "", created)
}

func TestDecideOwnershipApprove(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	s := NewWithDB(db)

	created := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("from ownership_relationships where id=(.+) for update").
		WithArgs("own-1").
		WillReturnRows(pendingOwnershipRow("own-1", "alice", "apt-1", 10000, created))
	mock.ExpectQuery("from ownership_relationships where apartment_id=(.+) order by id for update").
		WithArgs("apt-1").
		WillReturnRows(pendingOwnershipRow("own-1", "alice", "apt-1", 10000, created))
	mock.ExpectExec("update ownership_relationships").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into audit_log").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	in := occupancy.DecisionInput{
		Actor:   occupancy.Actor{ID: "adm", Perms: occupancy.PermissionSet{CanApprove: true, MaxRank: 90}, Role: "admin"},
		Approve: true,
	}
	o, notices, err := s.DecideOwnership(context.Background(), in, "own-1")
	if err != nil {
		t.Fatalf("DecideOwnership: %v", err)
	}
	if o.Status != occupancy.StateApproved || !o.Active || o.DecidedBy != "adm" {
		t.Fatalf("unexpected row: %#v", o)
	}
	if len(notices) != 1 || notices[0].RecipientID != "alice" {
		t.Fatalf("unexpected notices: %#v", notices)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDecideOwnershipConflictCommitsRefusalAudit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	s := NewWithDB(db)

	created := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("from ownership_relationships where id=(.+) for update").
		WithArgs("own-1").
		WillReturnRows(pendingOwnershipRow("own-1", "pres", "apt-1", 10000, created))
	// The refusal is audited and committed even though the call fails.
	mock.ExpectExec("insert into audit_log").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	in := occupancy.DecisionInput{
		Actor: occupancy.Actor{
			ID:    "pres",
			Perms: occupancy.PermissionSet{CanApprove: true, Committee: true, Office: occupancy.OfficePresident, MaxRank: 80},
			Role:  "president",
		},
		Approve: true,
	}
	_, _, err = s.DecideOwnership(context.Background(), in, "own-1")
	if !occupancy.IsCode(err, occupancy.CodeConflict) {
		t.Fatalf("want %s, got %v", occupancy.CodeConflict, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSubmitRegistrationDuplicateEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	s := NewWithDB(db)

	mock.ExpectBegin()
	mock.ExpectQuery("select exists").
		WithArgs("dana@example.org").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, _, err = s.SubmitRegistration(context.Background(), "Dana@Example.org", "Dana", "hash")
	if !occupancy.IsCode(err, occupancy.CodeValidation) {
		t.Fatalf("want %s, got %v", occupancy.CodeValidation, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	s := NewWithDB(db)

	created := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"kind", "id", "apartment_id", "user_id", "from_user", "to_user", "share_bp", "created_at"}).
		AddRow("ownership", "own-1", "apt-1", "alice", "", "", 10000, created).
		AddRow("transfer", "tr-1", "apt-2", "", "alice", "bob", 6000, created.Add(time.Minute))
	mock.ExpectQuery("order by created_at, id").
		WithArgs("", 100).
		WillReturnRows(rows)

	out, err := s.ListPending(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(out) != 2 || out[0].Kind != occupancy.KindOwnership || out[1].Kind != occupancy.KindTransfer {
		t.Fatalf("unexpected queue: %#v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMarkNotificationReadNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	s := NewWithDB(db)

	mock.ExpectExec("update notifications set read=true").
		WithArgs("n-1", "alice").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").
		WithArgs("n-1", "alice").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	if err := s.MarkNotificationRead(context.Background(), "alice", "n-1"); err != occupancy.ErrNotFound {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
