package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestLoaderGroupsColumnsByTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock setup failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	rows := sqlmock.NewRows([]string{"table_name", "column_name", "data_type", "description"}).
		AddRow("programs", "program_name", "text", "").
		AddRow("spending", "ministry", "text", "responsible ministry").
		AddRow("spending", "amount", "numeric", "").
		AddRow("spending", "year", "integer", "fiscal year")
	mock.ExpectQuery("FROM information_schema.columns").
		WithArgs("public").
		WillReturnRows(rows)

	descriptor, err := NewLoader(db, "").Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if len(descriptor.Tables) != 2 {
		t.Fatalf("tables = %+v", descriptor.Tables)
	}
	if descriptor.Tables[0].Name != "programs" || descriptor.Tables[1].Name != "spending" {
		t.Fatalf("table order = %+v", descriptor.Tables)
	}
	spending := descriptor.Tables[1]
	if len(spending.Columns) != 3 {
		t.Fatalf("spending columns = %+v", spending.Columns)
	}
	if spending.Columns[0].Description != "responsible ministry" {
		t.Fatalf("column description = %q", spending.Columns[0].Description)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLoaderUsesConfiguredSearchPath(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock setup failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("FROM information_schema.columns").
		WithArgs("analytics").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "data_type", "description"}).
			AddRow("spending", "amount", "numeric", ""))

	if _, err := NewLoader(db, "analytics").Load(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLoaderSurfacesQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock setup failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("FROM information_schema.columns").
		WithArgs("public").
		WillReturnError(errors.New("connection reset"))

	if _, err := NewLoader(db, "").Load(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
