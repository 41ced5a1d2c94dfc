package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"checkit/api/internal/cache"
	"checkit/api/internal/checkit"
	"checkit/api/internal/review"
	"checkit/api/internal/search"
	"checkit/api/internal/session"
	"checkit/api/internal/store"
)

type remote interface {
	RelevantPublications(context.Context, session.Session) ([]review.PublicationContext, error)
	ClosedPublications(context.Context, session.Session, int) ([]review.PublicationContext, error)
	Publication(context.Context, session.Session, string) (review.Publication, error)
	VocabularyChanges(context.Context, session.Session, string, string) (review.VocabularyChanges, error)
	ResolveChange(context.Context, session.Session, string, review.ChangeState, string, string) (review.Change, error)
	ClearReview(context.Context, session.Session, string, string) (review.Change, error)
	ResolveRestriction(context.Context, session.Session, []string, review.ChangeState, string) (review.Change, error)
	ClearRestriction(context.Context, session.Session, []string, string) (review.Change, error)
	ResolvePublication(context.Context, session.Session, string, bool, string) (review.Publication, error)
	CurrentUser(context.Context, session.Session) (session.User, error)
}

type eventLog interface {
	InsertReviewEvent(context.Context, store.ReviewEvent) error
	ListReviewEvents(context.Context, string, string, int) ([]store.ReviewEvent, error)
	Ping(context.Context) error
}

type userCache interface {
	SaveUser(context.Context, string, session.User) error
	LookupUser(context.Context, string) (session.User, error)
	Revoke(context.Context, string) error
	Ping(context.Context) error
}

type changeIndex interface {
	Search(search.Query) search.Response
	IndexVocabulary(review.VocabularyChanges, string)
	IndexChange(review.Change)
}

type Options struct {
	Remote  remote
	Cache   *cache.Cache
	Events  eventLog
	Users   userCache
	Search  changeIndex
	Metrics *Metrics
	Logger  logrus.FieldLogger
}

type Service struct {
	remote  remote
	cache   *cache.Cache
	events  eventLog
	users   userCache
	search  changeIndex
	metrics *Metrics
	log     logrus.FieldLogger

	mu       sync.Mutex
	inFlight map[string]*Action
	settling sync.WaitGroup
}

// New wires the service. Users may be nil, in which case every request
// resolves the current user upstream.
func New(opts Options) *Service {
	svc := &Service{
		remote:   opts.Remote,
		cache:    opts.Cache,
		events:   opts.Events,
		users:    opts.Users,
		search:   opts.Search,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		inFlight: make(map[string]*Action),
	}
	if svc.cache == nil {
		svc.cache = cache.New()
	}
	if svc.events == nil {
		svc.events = store.NewMemoryStore()
	}
	if svc.metrics == nil {
		svc.metrics = NewMetrics()
	}
	if svc.log == nil {
		svc.log = logrus.StandardLogger()
	}
	if svc.search == nil {
		svc.search = search.NewService(nil, nil, svc.log)
	}
	return svc
}

func (s *Service) Metrics() *Metrics {
	return s.metrics
}

// Ping reports the health of every configured backend by name.
func (s *Service) Ping(ctx context.Context) map[string]error {
	checks := map[string]error{
		"reviewLog": s.events.Ping(ctx),
	}
	if s.users != nil {
		checks["sessionCache"] = s.users.Ping(ctx)
	}
	return checks
}

// ResolveSession turns a bearer token into a session, consulting the user
// cache before asking upstream who the token belongs to.
func (s *Service) ResolveSession(ctx context.Context, token string) (session.Session, error) {
	if token == "" {
		return session.Session{}, ErrUnauthenticated
	}
	sess := session.Session{Token: token}
	tokenHash := session.HashToken(token)

	if s.users != nil {
		user, err := s.users.LookupUser(ctx, tokenHash)
		if err == nil {
			sess.User = user
			return sess, nil
		}
		if !errors.Is(err, session.ErrNotFound) {
			s.log.WithError(err).Warn("session cache lookup failed")
		}
	}

	user, err := s.remote.CurrentUser(ctx, sess)
	if err != nil {
		switch checkit.Status(err) {
		case http.StatusUnauthorized, http.StatusForbidden:
			return session.Session{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
		}
		return session.Session{}, err
	}
	sess.User = user

	if s.users != nil {
		if err := s.users.SaveUser(ctx, tokenHash, user); err != nil {
			s.log.WithError(err).Warn("session cache save failed")
		}
	}
	return sess, nil
}

// Logout forgets the cached profile of token.
func (s *Service) Logout(ctx context.Context, token string) error {
	if s.users == nil || token == "" {
		return nil
	}
	return s.users.Revoke(ctx, session.HashToken(token))
}

func (s *Service) vocabularyChanges(ctx context.Context, sess session.Session, key cache.VocabularyKey) (review.VocabularyChanges, error) {
	if vc, ok := s.cache.VocabularyChanges(key); ok {
		s.metrics.cacheLookup(true)
		return vc, nil
	}
	s.metrics.cacheLookup(false)

	vc, err := s.remote.VocabularyChanges(ctx, sess, key.PublicationID, key.VocabularyURI)
	if err != nil {
		return review.VocabularyChanges{}, err
	}
	s.cache.PutVocabularyChanges(key, vc)
	s.search.IndexVocabulary(vc, key.PublicationID)
	return vc, nil
}

type ChangeListView struct {
	PublicationID         string                  `json:"publicationId"`
	VocabularyURI         string                  `json:"vocabularyUri"`
	Label                 string                  `json:"label"`
	Gestored              bool                    `json:"gestored"`
	ReadOnly              bool                    `json:"readOnly"`
	PublicationState      review.PublicationState `json:"publicationState"`
	PublicationLastUpdate string                  `json:"publicationLastUpdate"`
	List                  review.ChangeListData   `json:"list"`
	Summary               review.Summary          `json:"summary"`
	Finished              bool                    `json:"finished"`
	Pending               []string                `json:"pending"`
}

// ChangeList returns the grouped change list of one vocabulary in a
// publication, fetching it upstream on a cache miss.
func (s *Service) ChangeList(ctx context.Context, sess session.Session, publicationID, vocabularyURI string) (ChangeListView, error) {
	key := cache.VocabularyKey{PublicationID: publicationID, VocabularyURI: vocabularyURI}
	vc, err := s.vocabularyChanges(ctx, sess, key)
	if err != nil {
		return ChangeListView{}, err
	}
	return ChangeListView{
		PublicationID:         publicationID,
		VocabularyURI:         vc.URI,
		Label:                 vc.Label,
		Gestored:              vc.Gestored,
		ReadOnly:              vc.PublicationState.Terminal(),
		PublicationState:      vc.PublicationState,
		PublicationLastUpdate: vc.PublicationLastUpdate,
		List:                  review.BuildChangeList(vc.Changes),
		Summary:               review.Summarize(vc.Changes),
		Finished:              review.Finished(vc.Changes),
		Pending:               s.pendingIn(publicationID, vc.Changes),
	}, nil
}

type ChangeView struct {
	Change  review.Change `json:"change"`
	Triple  string        `json:"triple"`
	Pending bool          `json:"pending"`
}

func (s *Service) Change(ctx context.Context, sess session.Session, publicationID, vocabularyURI, changeID string) (ChangeView, error) {
	key := cache.VocabularyKey{PublicationID: publicationID, VocabularyURI: vocabularyURI}
	vc, err := s.vocabularyChanges(ctx, sess, key)
	if err != nil {
		return ChangeView{}, err
	}
	index := vc.FindChange(changeID)
	if index < 0 {
		return ChangeView{}, fmt.Errorf("change %s in %s: %w", changeID, key, review.ErrChangeNotFound)
	}
	change := vc.Changes[index]
	return ChangeView{
		Change:  change,
		Triple:  review.GenerateTriple(change),
		Pending: s.isPending(changeFlightKey(publicationID, changeID)),
	}, nil
}

func (s *Service) Publication(ctx context.Context, sess session.Session, publicationID string) (review.Publication, error) {
	if publication, ok := s.cache.Publication(publicationID); ok {
		s.metrics.cacheLookup(true)
		return publication, nil
	}
	s.metrics.cacheLookup(false)

	publication, err := s.remote.Publication(ctx, sess, publicationID)
	if err != nil {
		return review.Publication{}, err
	}
	s.cache.PutPublication(publication)
	return publication, nil
}

func (s *Service) RelevantPublications(ctx context.Context, sess session.Session) ([]review.PublicationContext, error) {
	key := cache.RelevantListingKey()
	if rows, ok := s.cache.Listing(key); ok {
		s.metrics.cacheLookup(true)
		return rows, nil
	}
	s.metrics.cacheLookup(false)

	rows, err := s.remote.RelevantPublications(ctx, sess)
	if err != nil {
		return nil, err
	}
	s.cache.PutListing(key, rows, cache.TagAllRelevantPublications)
	return rows, nil
}

func (s *Service) ClosedPublications(ctx context.Context, sess session.Session, page int) ([]review.PublicationContext, error) {
	if page < 0 {
		page = 0
	}
	key := cache.ClosedListingKey(page)
	if rows, ok := s.cache.Listing(key); ok {
		s.metrics.cacheLookup(true)
		return rows, nil
	}
	s.metrics.cacheLookup(false)

	rows, err := s.remote.ClosedPublications(ctx, sess, page)
	if err != nil {
		return nil, err
	}
	s.cache.PutListing(key, rows, cache.TagClosedPublications)
	return rows, nil
}

type VocabularySummary struct {
	URI      string         `json:"uri"`
	Label    string         `json:"label"`
	Gestored bool           `json:"gestored"`
	Summary  review.Summary `json:"summary"`
	Finished bool           `json:"finished"`
}

type PublicationSummary struct {
	PublicationID string                  `json:"publicationId"`
	State         review.PublicationState `json:"state"`
	Vocabularies  []VocabularySummary     `json:"vocabularies"`
	Total         review.Summary          `json:"total"`
	Finished      bool                    `json:"finished"`
}

// PublicationSummary aggregates review progress over every vocabulary the
// publication touches.
func (s *Service) PublicationSummary(ctx context.Context, sess session.Session, publicationID string) (PublicationSummary, error) {
	publication, err := s.Publication(ctx, sess, publicationID)
	if err != nil {
		return PublicationSummary{}, err
	}

	result := PublicationSummary{
		PublicationID: publicationID,
		State:         publication.State,
		Vocabularies:  make([]VocabularySummary, 0, len(publication.Vocabularies)),
		Finished:      true,
	}
	for _, ref := range publication.Vocabularies {
		vc, err := s.vocabularyChanges(ctx, sess, cache.VocabularyKey{PublicationID: publicationID, VocabularyURI: ref.URI})
		if err != nil {
			return PublicationSummary{}, err
		}
		summary := review.Summarize(vc.Changes)
		label := vc.Label
		if label == "" {
			label = ref.Label
		}
		item := VocabularySummary{
			URI:      ref.URI,
			Label:    label,
			Gestored: vc.Gestored,
			Summary:  summary,
			Finished: summary.Remaining == 0,
		}
		result.Vocabularies = append(result.Vocabularies, item)
		result.Total = result.Total.Add(summary)
		result.Finished = result.Finished && item.Finished
	}
	return result, nil
}

// Refresh drops the cached vocabulary entry so the next read refetches it,
// typically after a stale version was reported.
func (s *Service) Refresh(publicationID, vocabularyURI string) {
	key := cache.VocabularyKey{PublicationID: publicationID, VocabularyURI: vocabularyURI}
	removed := s.cache.Invalidate(cache.VocabularyChangesTag(key))
	s.log.WithFields(logrus.Fields{
		"publication_id": publicationID,
		"vocabulary_uri": vocabularyURI,
		"removed":        removed,
	}).Debug("vocabulary changes invalidated")
}

type ReviewLogEntry struct {
	ID            int64    `json:"id"`
	Operation     string   `json:"operation"`
	ChangeID      string   `json:"changeId"`
	VocabularyURI string   `json:"vocabularyUri"`
	TargetState   string   `json:"targetState"`
	Outcome       string   `json:"outcome"`
	ErrorKind     string   `json:"errorKind,omitempty"`
	Actor         string   `json:"actor,omitempty"`
	AffectedURIs  []string `json:"affectedUris,omitempty"`
	CreatedAt     string   `json:"createdAt"`
}

func (s *Service) ReviewLog(ctx context.Context, publicationID, vocabularyURI string, limit int) ([]ReviewLogEntry, error) {
	events, err := s.events.ListReviewEvents(ctx, publicationID, vocabularyURI, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]ReviewLogEntry, 0, len(events))
	for _, event := range events {
		entries = append(entries, ReviewLogEntry{
			ID:            event.ID,
			Operation:     event.Operation,
			ChangeID:      event.ChangeID,
			VocabularyURI: event.VocabularyURI,
			TargetState:   event.TargetState,
			Outcome:       string(event.Outcome),
			ErrorKind:     event.ErrorKind,
			Actor:         event.Actor,
			AffectedURIs:  event.AffectedURIs,
			CreatedAt:     event.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return entries, nil
}

func (s *Service) SearchChanges(q search.Query) search.Response {
	return s.search.Search(q)
}

func (s *Service) pendingIn(publicationID string, changes []review.Change) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := make([]string, 0)
	for _, change := range changes {
		if _, ok := s.inFlight[changeFlightKey(publicationID, change.ID)]; ok {
			pending = append(pending, change.ID)
		}
	}
	sort.Strings(pending)
	return pending
}

func (s *Service) isPending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[key]
	return ok
}
