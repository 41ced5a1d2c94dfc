package app

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"checkit/api/internal/checkit"
	"checkit/api/internal/review"
	"checkit/api/internal/session"
	"checkit/api/internal/store"
)

const (
	testPublication = "pub-1"
	testVocabulary  = "http://example.org/vocab"
	testVersion     = "2026-10-01T10:00:00Z"
)

type fakeRemote struct {
	relevantFn           func(context.Context, session.Session) ([]review.PublicationContext, error)
	closedFn             func(context.Context, session.Session, int) ([]review.PublicationContext, error)
	publicationFn        func(context.Context, session.Session, string) (review.Publication, error)
	vocabularyChangesFn  func(context.Context, session.Session, string, string) (review.VocabularyChanges, error)
	resolveChangeFn      func(context.Context, session.Session, string, review.ChangeState, string, string) (review.Change, error)
	clearReviewFn        func(context.Context, session.Session, string, string) (review.Change, error)
	resolveRestrictionFn func(context.Context, session.Session, []string, review.ChangeState, string) (review.Change, error)
	clearRestrictionFn   func(context.Context, session.Session, []string, string) (review.Change, error)
	resolvePublicationFn func(context.Context, session.Session, string, bool, string) (review.Publication, error)
	currentUserFn        func(context.Context, session.Session) (session.User, error)

	mu    sync.Mutex
	calls []string
}

func (f *fakeRemote) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeRemote) callCount(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, c := range f.calls {
		if c == call {
			count++
		}
	}
	return count
}

func (f *fakeRemote) RelevantPublications(ctx context.Context, sess session.Session) ([]review.PublicationContext, error) {
	f.record("relevant")
	if f.relevantFn != nil {
		return f.relevantFn(ctx, sess)
	}
	return nil, nil
}

func (f *fakeRemote) ClosedPublications(ctx context.Context, sess session.Session, page int) ([]review.PublicationContext, error) {
	f.record("closed")
	if f.closedFn != nil {
		return f.closedFn(ctx, sess, page)
	}
	return nil, nil
}

func (f *fakeRemote) Publication(ctx context.Context, sess session.Session, id string) (review.Publication, error) {
	f.record("publication")
	if f.publicationFn != nil {
		return f.publicationFn(ctx, sess, id)
	}
	return testPublicationFixture(), nil
}

func (f *fakeRemote) VocabularyChanges(ctx context.Context, sess session.Session, publicationID, vocabularyURI string) (review.VocabularyChanges, error) {
	f.record("vocabularyChanges")
	if f.vocabularyChangesFn != nil {
		return f.vocabularyChangesFn(ctx, sess, publicationID, vocabularyURI)
	}
	return testVocabularyFixture(), nil
}

func (f *fakeRemote) ResolveChange(ctx context.Context, sess session.Session, changeID string, state review.ChangeState, versionDate, declineMessage string) (review.Change, error) {
	f.record("resolveChange")
	if f.resolveChangeFn != nil {
		return f.resolveChangeFn(ctx, sess, changeID, state, versionDate, declineMessage)
	}
	return review.Change{ID: changeID, State: state}, nil
}

func (f *fakeRemote) ClearReview(ctx context.Context, sess session.Session, changeID, versionDate string) (review.Change, error) {
	f.record("clearReview")
	if f.clearReviewFn != nil {
		return f.clearReviewFn(ctx, sess, changeID, versionDate)
	}
	return review.Change{ID: changeID, State: review.StateNotReviewed}, nil
}

func (f *fakeRemote) ResolveRestriction(ctx context.Context, sess session.Session, uris []string, state review.ChangeState, versionDate string) (review.Change, error) {
	f.record("resolveRestriction")
	if f.resolveRestrictionFn != nil {
		return f.resolveRestrictionFn(ctx, sess, uris, state, versionDate)
	}
	return review.Change{State: state}, nil
}

func (f *fakeRemote) ClearRestriction(ctx context.Context, sess session.Session, uris []string, versionDate string) (review.Change, error) {
	f.record("clearRestriction")
	if f.clearRestrictionFn != nil {
		return f.clearRestrictionFn(ctx, sess, uris, versionDate)
	}
	return review.Change{State: review.StateNotReviewed}, nil
}

func (f *fakeRemote) ResolvePublication(ctx context.Context, sess session.Session, id string, approved bool, comment string) (review.Publication, error) {
	f.record("resolvePublication")
	if f.resolvePublicationFn != nil {
		return f.resolvePublicationFn(ctx, sess, id, approved, comment)
	}
	return review.Publication{ID: id}, nil
}

func (f *fakeRemote) CurrentUser(ctx context.Context, sess session.Session) (session.User, error) {
	f.record("currentUser")
	if f.currentUserFn != nil {
		return f.currentUserFn(ctx, sess)
	}
	return testUser(), nil
}

type fakeEvents struct {
	*store.MemoryStore
	pingFn func(context.Context) error
}

func (f *fakeEvents) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func testUser() session.User {
	return session.User{
		ID:        "user-1",
		FirstName: "Ada",
		LastName:  "Reviewer",
		GestoredVocabularies: []session.GestoredVocabulary{
			{URI: testVocabulary, Label: "Example"},
		},
	}
}

func testSession() session.Session {
	return session.Session{Token: "token-1", User: testUser()}
}

func testPublicationFixture() review.Publication {
	return review.Publication{
		ID:    testPublication,
		Label: "Autumn release",
		State: "WAITING_FOR_OTHERS",
		Vocabularies: []review.VocabularyRef{
			{URI: testVocabulary, Label: "Example"},
		},
	}
}

func stamped(change review.Change) review.Change {
	change.VocabularyURI = testVocabulary
	change.PublicationID = testPublication
	change.Gestored = true
	change.PublicationDate = testVersion
	return change
}

func testVocabularyFixture() review.VocabularyChanges {
	return review.VocabularyChanges{
		URI:                   testVocabulary,
		Label:                 "Example",
		Gestored:              true,
		PublicationState:      "WAITING_FOR_OTHERS",
		PublicationLastUpdate: testVersion,
		Changes: []review.Change{
			stamped(review.Change{
				ID: "c1", URI: "u1", Subject: "http://example.org/a", Predicate: "http://www.w3.org/2004/02/skos/core#prefLabel",
				Object: review.ObjectData{Value: "Alpha"}, Type: review.ChangeCreated, State: review.StateNotReviewed, Label: "Alpha",
			}),
			stamped(review.Change{
				ID: "c2", URI: "u2", Subject: "http://example.org/a", Predicate: "http://www.w3.org/2004/02/skos/core#altLabel",
				Object: review.ObjectData{Value: "A"}, Type: review.ChangeCreated, State: review.StateRejected, DeclineMessage: "typo", Label: "Alpha",
			}),
			stamped(review.Change{
				ID: "grouped/r1", URI: "grouped/ru1", Subject: "http://example.org/b", Predicate: review.CustomRelationship,
				Type: review.ChangeCreated, State: review.StateNotReviewed, Label: "Beta",
				Object: review.ObjectData{Restriction: &review.Restriction{AffectedChanges: []review.AffectedChange{
					{URI: "ru1", ID: "r1"},
					{URI: "ru2", ID: "r2"},
				}}},
			}),
		},
	}
}

func staleErr(op string) error {
	return &checkit.RemoteError{Op: op, Status: http.StatusConflict, Kind: review.ErrStaleVersion}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestService(remote *fakeRemote) (*Service, *fakeEvents) {
	events := &fakeEvents{MemoryStore: store.NewMemoryStore()}
	svc := New(Options{
		Remote: remote,
		Events: events,
		Logger: quietLogger(),
	})
	return svc, events
}
