package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps the review log in process when no database is
// configured. It is lost on restart.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	events []ReviewEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) InsertReviewEvent(_ context.Context, event ReviewEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	event.ID = s.nextID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	event.AffectedURIs = append([]string(nil), event.AffectedURIs...)
	s.events = append(s.events, event)
	return nil
}

func (s *MemoryStore) ListReviewEvents(_ context.Context, publicationID, vocabularyURI string, limit int) ([]ReviewEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	items := make([]ReviewEvent, 0)
	for _, event := range s.events {
		if event.PublicationID != publicationID {
			continue
		}
		if vocabularyURI != "" && event.VocabularyURI != vocabularyURI {
			continue
		}
		items = append(items, event)
	}
	s.mu.Unlock()

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].ID > items[j].ID
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
