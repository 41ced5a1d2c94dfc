package search

import (
	"github.com/sirupsen/logrus"

	"checkit/api/internal/review"
)

// Service is the facade that tries Meilisearch first and falls back to the
// local index, which is always kept current.
type Service struct {
	meili *Meili
	local *Local
	log   logrus.FieldLogger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, local *Local, logger logrus.FieldLogger) *Service {
	if local == nil {
		local = NewLocal()
	}
	return &Service{meili: meili, local: local, log: logger.WithField("component", "search")}
}

func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.WithError(err).Warn("meilisearch error, falling back to local index")
	}

	results, total, err := s.local.Search(q)
	if err != nil {
		s.log.WithError(err).Error("local search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexVocabulary indexes a freshly fetched vocabulary payload. The local
// index is updated synchronously; Meilisearch is fire-and-forget.
func (s *Service) IndexVocabulary(vc review.VocabularyChanges, publicationID string) {
	records := RecordsFor(vc)
	s.local.Replace(publicationID, vc.URI, records)

	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexChanges(records); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"publication_id": publicationID,
				"vocabulary_uri": vc.URI,
			}).Warn("index vocabulary changes")
		}
	}()
}

// IndexChange re-indexes a single change after a settled transition.
func (s *Service) IndexChange(change review.Change) {
	records := RecordsFor(review.VocabularyChanges{Changes: []review.Change{change}})
	s.local.Index(records)

	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexChanges(records); err != nil {
			s.log.WithError(err).WithField("change_id", change.ID).Warn("index change")
		}
	}()
}

func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
