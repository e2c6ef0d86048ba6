package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/docchat/internal/core/domain"
)

func TestSaveTurnInsertsSourcesAsJSON(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()
	repo := &MessageRepository{db: db}

	createdAt := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO chat_turns").
		WithArgs("turn-1", "conv-1", "user-1", "q?", "a [1].", []byte(`[{"index":1,"document_id":"d1","file_name":"a.pdf","content":"chunk","similarity":0.9}]`), createdAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.SaveTurn(context.Background(), domain.CompletedTurn{
		TurnID:         "turn-1",
		ConversationID: "conv-1",
		OwnerID:        "user-1",
		Question:       "q?",
		Content:        "a [1].",
		Sources: []domain.Source{
			{Index: 1, DocumentID: "d1", FileName: "a.pdf", Content: "chunk", Similarity: 0.9},
		},
		CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("SaveTurn() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveTurnIsIdempotentOnConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()
	repo := &MessageRepository{db: db}

	mock.ExpectExec("ON CONFLICT \\(id\\) DO NOTHING").
		WithArgs("turn-1", "conv-1", "user-1", "q?", "a.", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.SaveTurn(context.Background(), domain.CompletedTurn{
		TurnID:         "turn-1",
		ConversationID: "conv-1",
		OwnerID:        "user-1",
		Question:       "q?",
		Content:        "a.",
	})
	if err != nil {
		t.Fatalf("SaveTurn() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
