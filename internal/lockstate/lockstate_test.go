package lockstate

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"yearlist/internal/abort"
)

func TestIsYearLocked(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	g := New(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM year_locks WHERE year = $1`)).
		WithArgs(2022).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	locked, err := g.IsYearLocked(context.Background(), 2022)
	if err != nil {
		t.Fatalf("IsYearLocked: %v", err)
	}
	if !locked {
		t.Fatalf("expected 2022 to be locked")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestValidateYearNotLockedNilYear(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	g := New(db)

	// A nil year never touches the database.
	if err := g.ValidateYearNotLocked(context.Background(), nil, "update list"); err != nil {
		t.Fatalf("expected nil year to pass, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestValidateYearNotLockedRejection(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	g := New(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM year_locks WHERE year = $1`)).
		WithArgs(2022).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	year := 2022
	err = g.ValidateYearNotLocked(context.Background(), &year, "reorder items")
	ab, ok := abort.From(err)
	if !ok {
		t.Fatalf("expected abort error, got %v", err)
	}
	if ab.Status != 403 {
		t.Fatalf("expected 403, got %d", ab.Status)
	}
	if ab.Fields["year"] != 2022 || ab.Fields["action"] != "reorder items" {
		t.Fatalf("unexpected payload: %#v", ab.Fields)
	}
}

func TestValidateMainListNotLockedSkipsNonMain(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	g := New(db)

	// Non-main lists in a locked year stay editable; no lookup happens.
	year := 2022
	if err := g.ValidateMainListNotLocked(context.Background(), &year, false, "edit comment"); err != nil {
		t.Fatalf("expected non-main edit to pass, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLockYear(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	g := New(db)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO year_locks (year, locked_at)`)).
		WithArgs(2023).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := g.LockYear(context.Background(), 2023); err != nil {
		t.Fatalf("LockYear: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
