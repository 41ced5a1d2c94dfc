package store

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func openTestDB(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("CHECKIT_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("CHECKIT_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	db, err := Open(ctx, dsn, DefaultPoolOptions())
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	applied, err := ApplyMigrations(ctx, db, migrationsDir)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if len(applied) == 0 {
		t.Fatal("expected migrations to be applied on a fresh schema")
	}
	again, err := ApplyMigrations(ctx, db, migrationsDir)
	if err != nil || len(again) != 0 {
		t.Fatalf("second pass applied %v, err %v", again, err)
	}
	return NewPostgresStore(db)
}

func TestReviewEventsRoundTripPostgres(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	err := s.InsertReviewEvent(ctx, ReviewEvent{
		Operation:     "resolveRestriction",
		ChangeID:      "grouped/7",
		PublicationID: "p1",
		VocabularyURI: "v1",
		TargetState:   "APPROVED",
		Outcome:       OutcomeSettled,
		Actor:         "u1",
		AffectedURIs:  []string{"u7", "u8"},
	})
	if err != nil {
		t.Fatalf("InsertReviewEvent: %v", err)
	}

	events, err := s.ListReviewEvents(ctx, "p1", "v1", 10)
	if err != nil {
		t.Fatalf("ListReviewEvents: %v", err)
	}
	if len(events) != 1 || len(events[0].AffectedURIs) != 2 || events[0].Outcome != OutcomeSettled {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestReviewEventsImmutabilityBlocksUpdateAndDelete(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	if err := s.InsertReviewEvent(ctx, ReviewEvent{Operation: "resolve", ChangeID: "1", PublicationID: "p1", VocabularyURI: "v1", TargetState: "APPROVED", Outcome: OutcomeSettled}); err != nil {
		t.Fatalf("InsertReviewEvent: %v", err)
	}

	for _, statement := range []string{
		`UPDATE review_events SET outcome = 'UNDONE' WHERE change_id = '1'`,
		`DELETE FROM review_events WHERE change_id = '1'`,
	} {
		_, err := s.DB().ExecContext(ctx, statement)
		if err == nil {
			t.Fatalf("expected %q to be blocked", statement)
		}
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) {
			t.Fatalf("expected PostgreSQL error, got: %v", err)
		}
		if pgErr.SQLState() != "55000" {
			t.Fatalf("expected SQLSTATE 55000, got: %s", pgErr.SQLState())
		}
	}
}
