package search

import (
	"github.com/google/uuid"

	"checkit/api/internal/review"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ChangeID      string `json:"changeId"`
	PublicationID string `json:"publicationId"`
	VocabularyURI string `json:"vocabularyUri"`
	Subject       string `json:"subject"`
	Label         string `json:"label"`
	Predicate     string `json:"predicate"`
	Snippet       string `json:"snippet"`
	State         string `json:"state"`
	Type          string `json:"type"`
}

// Query describes a search request. Empty filters match everything.
type Query struct {
	Text          string
	PublicationID string
	VocabularyURI string
	State         review.ChangeState
	Limit         int
	Offset        int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return 20
	}
	if q.Limit > 100 {
		return 100
	}
	return q.Limit
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over indexed changes.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ChangeRecord is the data we index for a change. Key is the index primary
// key; change ids themselves contain characters Meilisearch refuses.
type ChangeRecord struct {
	Key           string `json:"key"`
	ChangeID      string `json:"changeId"`
	PublicationID string `json:"publicationId"`
	VocabularyURI string `json:"vocabularyUri"`
	Subject       string `json:"subject"`
	Label         string `json:"label"`
	Predicate     string `json:"predicate"`
	ObjectValue   string `json:"objectValue"`
	State         string `json:"state"`
	Type          string `json:"type"`
}

func recordKey(publicationID, vocabularyURI, changeID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(publicationID+"\n"+vocabularyURI+"\n"+changeID)).String()
}

// RecordsFor turns a normalized vocabulary payload into index records.
func RecordsFor(vc review.VocabularyChanges) []ChangeRecord {
	records := make([]ChangeRecord, 0, len(vc.Changes))
	for _, change := range vc.Changes {
		objectValue := change.Object.Value
		if change.NewObject != nil && change.NewObject.Value != "" {
			objectValue += " " + change.NewObject.Value
		}
		records = append(records, ChangeRecord{
			Key:           recordKey(change.PublicationID, change.VocabularyURI, change.ID),
			ChangeID:      change.ID,
			PublicationID: change.PublicationID,
			VocabularyURI: change.VocabularyURI,
			Subject:       change.Subject,
			Label:         change.Label,
			Predicate:     change.Predicate,
			ObjectValue:   objectValue,
			State:         string(change.State),
			Type:          string(change.Type),
		})
	}
	return records
}

func (r ChangeRecord) result() Result {
	return Result{
		ChangeID:      r.ChangeID,
		PublicationID: r.PublicationID,
		VocabularyURI: r.VocabularyURI,
		Subject:       r.Subject,
		Label:         r.Label,
		Predicate:     r.Predicate,
		Snippet:       r.ObjectValue,
		State:         r.State,
		Type:          r.Type,
	}
}
