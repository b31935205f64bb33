package session

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSnapshotSaveUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	store := NewPostgresSnapshotStore(db)
	now := time.Now().UTC()

	mock.ExpectExec("INSERT INTO session_snapshots").
		WithArgs("wa:1", "booking", sqlmock.AnyArg(), sqlmock.AnyArg(), now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.Save(context.Background(), &Session{
		ConversationID: "wa:1",
		LastIntent:     "booking",
		Attributes:     map[string]string{"doctor_id": "d1"},
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSnapshotLoadMergesSummary(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	store := NewPostgresSnapshotStore(db)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"last_intent", "attributes", "recent_turns", "created_at", "updated_at", "summary_text"}).
		AddRow("booking", []byte(`{"doctor_id":"d1"}`), []byte(`[{"role":"user","text":"hi"}]`), now, now, "Patient asked about Monday slots.")

	mock.ExpectQuery("SELECT ss.last_intent").WithArgs("wa:1").WillReturnRows(rows)

	sess, err := store.Load(context.Background(), "wa:1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if sess == nil {
		t.Fatal("expected snapshot")
	}
	if sess.Attributes["doctor_id"] != "d1" {
		t.Fatalf("attributes lost: %v", sess.Attributes)
	}
	if sess.Attributes["summary"] != "Patient asked about Monday slots." {
		t.Fatalf("summary not merged: %v", sess.Attributes)
	}
	if len(sess.RecentTurns) != 1 || sess.RecentTurns[0].Text != "hi" {
		t.Fatalf("turns lost: %+v", sess.RecentTurns)
	}
}

func TestSnapshotLoadAbsent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	store := NewPostgresSnapshotStore(db)
	mock.ExpectQuery("SELECT ss.last_intent").WithArgs("wa:none").WillReturnError(sql.ErrNoRows)

	sess, err := store.Load(context.Background(), "wa:none")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if sess != nil {
		t.Fatalf("expected nil, got %+v", sess)
	}
}
