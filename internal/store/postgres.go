package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) InsertReviewEvent(ctx context.Context, event ReviewEvent) error {
	affected := event.AffectedURIs
	if affected == nil {
		affected = []string{}
	}
	encodedAffected, err := json.Marshal(affected)
	if err != nil {
		return fmt.Errorf("marshal affected uris: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO review_events (operation, change_id, publication_id, vocabulary_uri, target_state, outcome, error_kind, actor, affected_uris)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb)
	`, event.Operation, event.ChangeID, event.PublicationID, event.VocabularyURI, event.TargetState, string(event.Outcome), event.ErrorKind, event.Actor, string(encodedAffected))
	if err != nil {
		return fmt.Errorf("insert review event: %w", err)
	}
	return nil
}

// ListReviewEvents returns the newest events of a publication first. An empty
// vocabularyURI lists every vocabulary.
func (s *PostgresStore) ListReviewEvents(ctx context.Context, publicationID, vocabularyURI string, limit int) ([]ReviewEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operation, change_id, publication_id, vocabulary_uri, target_state, outcome, error_kind, actor, affected_uris, created_at
		FROM review_events
		WHERE publication_id=$1 AND ($2='' OR vocabulary_uri=$2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, publicationID, vocabularyURI, limit)
	if err != nil {
		return nil, fmt.Errorf("list review events: %w", err)
	}
	defer rows.Close()

	items := make([]ReviewEvent, 0)
	for rows.Next() {
		var item ReviewEvent
		var outcome string
		var affectedRaw []byte
		if err := rows.Scan(
			&item.ID,
			&item.Operation,
			&item.ChangeID,
			&item.PublicationID,
			&item.VocabularyURI,
			&item.TargetState,
			&outcome,
			&item.ErrorKind,
			&item.Actor,
			&affectedRaw,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan review event: %w", err)
		}
		item.Outcome = Outcome(outcome)
		_ = json.Unmarshal(affectedRaw, &item.AffectedURIs)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review events: %w", err)
	}
	return items, nil
}
