package migrate

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"0001_init.up.sql":   {Data: []byte("create table a(id int); -- first\ncreate table b(id int);")},
		"0001_init.down.sql": {Data: []byte("drop table b; drop table a;")},
		"0002_more.up.sql":   {Data: []byte("alter table a add column note text default 'x;y';")},
	}
}

func expectPrologue(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`select pg_advisory_lock`).WithArgs(lockKey).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`create table if not exists schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`create table if not exists schema_seeds`).WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpAppliesPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectPrologue(mock)
	mock.ExpectQuery(`select name from schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_init.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(`alter table a add column note`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`insert into schema_migrations`).WithArgs("0002_more.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec(`select pg_advisory_unlock`).WithArgs(lockKey).WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err := NewManager(db, testFS()).Up(context.Background())
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if !reflect.DeepEqual(applied, []string{"0002_more.up.sql"}) {
		t.Fatalf("unexpected applied list: %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpRollsBackFailedFile(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectPrologue(mock)
	mock.ExpectQuery(`select name from schema_migrations`).WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec(`create table a`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`create table b`).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()
	mock.ExpectExec(`select pg_advisory_unlock`).WithArgs(lockKey).WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err := NewManager(db, testFS()).Up(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(applied) != 0 {
		t.Fatalf("nothing should be reported applied, got %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownRollsBackLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now()
	expectPrologue(mock)
	mock.ExpectQuery(`select name, applied_at from schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"name", "applied_at"}).AddRow("0001_init.up.sql", now))
	mock.ExpectBegin()
	mock.ExpectExec(`drop table b`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`drop table a`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec(`delete from schema_migrations`).WithArgs("0001_init.up.sql").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`select pg_advisory_unlock`).WithArgs(lockKey).WillReturnResult(sqlmock.NewResult(0, 0))

	name, err := NewManager(db, testFS()).Down(context.Background())
	if err != nil {
		t.Fatalf("Down: %v", err)
	}
	if name != "0001_init.up.sql" {
		t.Fatalf("unexpected rollback: %s", name)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownWithNothingApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectPrologue(mock)
	mock.ExpectQuery(`select name, applied_at from schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"name", "applied_at"}))
	mock.ExpectExec(`select pg_advisory_unlock`).WithArgs(lockKey).WillReturnResult(sqlmock.NewResult(0, 0))

	if _, err := NewManager(db, testFS()).Down(context.Background()); !errors.Is(err, ErrNothingApplied) {
		t.Fatalf("expected ErrNothingApplied, got %v", err)
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("-- header\ncreate table a(id int);\ninsert into a values ('x;y'); -- trailing\n\n;")
	want := []string{"create table a(id int)", "insert into a values ('x;y')"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("splitStatements = %q, want %q", got, want)
	}
}

func TestCollectSQLSeedsSkipDirectional(t *testing.T) {
	files, err := collectSQL(fstest.MapFS{
		"0001_demo.sql":   {},
		"0002_x.up.sql":   {},
		"0002_x.down.sql": {},
		"notes.txt":       {},
	}, ".sql")
	if err != nil {
		t.Fatalf("collectSQL: %v", err)
	}
	if !reflect.DeepEqual(files, []string{"0001_demo.sql"}) {
		t.Fatalf("unexpected files: %v", files)
	}
}
