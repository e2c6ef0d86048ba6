package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestResolveReturnsOnlyKnownDocuments(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()
	catalog := &DocumentCatalog{db: db}

	rows := sqlmock.NewRows([]string{"id", "filename", "preview_url"}).
		AddRow("d1", "report.pdf", "/previews/d1")

	mock.ExpectQuery("FROM documents").
		WithArgs(`{"d1","missing"}`).
		WillReturnRows(rows)

	got, err := catalog.Resolve(context.Background(), []string{"d1", "missing"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one resolved document, got %d", len(got))
	}
	if got["d1"].FileName != "report.pdf" {
		t.Fatalf("unexpected ref: %+v", got["d1"])
	}
	if _, ok := got["missing"]; ok {
		t.Fatalf("unknown id must be absent from the result")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResolveEmptyInputSkipsQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()
	catalog := &DocumentCatalog{db: db}

	got, err := catalog.Resolve(context.Background(), nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty map, got %v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
