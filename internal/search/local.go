package search

import (
	"sort"
	"strings"
	"sync"
)

// Local is the in-process fallback index used when Meilisearch is not
// configured or unhealthy.
type Local struct {
	mu      sync.RWMutex
	records map[string]ChangeRecord
}

func NewLocal() *Local {
	return &Local{records: make(map[string]ChangeRecord)}
}

func (l *Local) Healthy() bool {
	return true
}

func (l *Local) Index(records []ChangeRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, record := range records {
		l.records[record.Key] = record
	}
}

// Replace drops every record of the vocabulary before indexing records, so
// changes that disappeared upstream stop matching.
func (l *Local) Replace(publicationID, vocabularyURI string, records []ChangeRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, record := range l.records {
		if record.PublicationID == publicationID && record.VocabularyURI == vocabularyURI {
			delete(l.records, key)
		}
	}
	for _, record := range records {
		l.records[record.Key] = record
	}
}

func (l *Local) Search(q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))

	l.mu.RLock()
	matched := make([]ChangeRecord, 0)
	for _, record := range l.records {
		if q.PublicationID != "" && record.PublicationID != q.PublicationID {
			continue
		}
		if q.VocabularyURI != "" && record.VocabularyURI != q.VocabularyURI {
			continue
		}
		if q.State != "" && record.State != string(q.State) {
			continue
		}
		if needle != "" && !matches(record, needle) {
			continue
		}
		matched = append(matched, record)
	}
	l.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Subject != matched[j].Subject {
			return matched[i].Subject < matched[j].Subject
		}
		return matched[i].ChangeID < matched[j].ChangeID
	})

	total := len(matched)
	start := q.Offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := start + q.limit()
	if end > total {
		end = total
	}

	results := make([]Result, 0, end-start)
	for _, record := range matched[start:end] {
		results = append(results, record.result())
	}
	return results, total, nil
}

func matches(record ChangeRecord, needle string) bool {
	for _, field := range []string{record.Label, record.Subject, record.ObjectValue} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}
