package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"checkit/api/internal/cache"
	"checkit/api/internal/review"
	"checkit/api/internal/session"
	"checkit/api/internal/store"
	"checkit/api/internal/util"
)

type TransitionRequest struct {
	PublicationID  string
	VocabularyURI  string
	ChangeID       string
	Target         review.ChangeState
	DeclineMessage string
}

// Action is a dispatched transition. Its optimistic patch is already visible
// in the cache; Done closes once the upstream call has settled and the patch
// either stood or was undone.
type Action struct {
	ID         string
	Transition review.Transition

	done chan struct{}
	err  error
}

func newAction(transition review.Transition) *Action {
	return &Action{
		ID:         util.NewID("action"),
		Transition: transition,
		done:       make(chan struct{}),
	}
}

func (a *Action) Done() <-chan struct{} {
	return a.done
}

func (a *Action) Pending() bool {
	select {
	case <-a.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the action settles or ctx ends. Cancelling ctx does not
// cancel the action.
func (a *Action) Wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err is the settlement error; it is only meaningful once Done is closed.
func (a *Action) Err() error {
	if a.Pending() {
		return nil
	}
	return a.err
}

func changeFlightKey(publicationID, changeID string) string {
	return "change:" + publicationID + ":" + changeID
}

func publicationFlightKey(publicationID string) string {
	return "publication:" + publicationID
}

// claim registers action under key. It fails when key, or any of the
// blocking keys, is already in flight.
func (s *Service) claim(key string, action *Action, blockers ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range append([]string{key}, blockers...) {
		if _, busy := s.inFlight[k]; busy {
			return fmt.Errorf("%s: %w", k, review.ErrTransitionPending)
		}
	}
	s.inFlight[key] = action
	return nil
}

func (s *Service) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, key)
}

// finish releases key and settles action with err.
func (s *Service) finish(key string, action *Action, err error) {
	action.err = err
	s.release(key)
	close(action.done)
}

// Dispatch plans a transition, applies its post-image to the cached change
// and returns before the upstream call resolves. The caller observes the
// outcome through the returned Action.
func (s *Service) Dispatch(ctx context.Context, sess session.Session, req TransitionRequest) (*Action, error) {
	key := cache.VocabularyKey{PublicationID: req.PublicationID, VocabularyURI: req.VocabularyURI}
	vc, err := s.vocabularyChanges(ctx, sess, key)
	if err != nil {
		return nil, err
	}
	index := vc.FindChange(req.ChangeID)
	if index < 0 {
		return nil, fmt.Errorf("change %s in %s: %w", req.ChangeID, key, review.ErrChangeNotFound)
	}

	transition, err := review.Plan(vc.Changes[index], req.Target, req.DeclineMessage)
	if err != nil {
		s.refused(ctx, sess, req, err)
		return nil, err
	}

	action := newAction(transition)
	flightKey := changeFlightKey(req.PublicationID, req.ChangeID)
	if err := s.claim(flightKey, action, publicationFlightKey(req.PublicationID)); err != nil {
		s.refused(ctx, sess, req, err)
		return nil, err
	}

	patch, err := s.cache.ApplyChangePatch(key, req.ChangeID, transition.Fields())
	if err != nil {
		s.release(flightKey)
		return nil, err
	}

	s.settling.Add(1)
	go s.settle(context.WithoutCancel(ctx), sess, action, patch, flightKey)
	return action, nil
}

// Transition dispatches and waits for the upstream call. On success it
// returns the cached change as patched.
func (s *Service) Transition(ctx context.Context, sess session.Session, req TransitionRequest) (review.Change, error) {
	action, err := s.Dispatch(ctx, sess, req)
	if err != nil {
		return review.Change{}, err
	}
	if err := action.Wait(ctx); err != nil {
		return review.Change{}, err
	}
	view, err := s.Change(ctx, sess, req.PublicationID, req.VocabularyURI, req.ChangeID)
	if err != nil {
		return review.Change{}, err
	}
	return view.Change, nil
}

func (s *Service) settle(ctx context.Context, sess session.Session, action *Action, patch *cache.ChangePatch, flightKey string) {
	defer s.settling.Done()

	transition := action.Transition
	logger := s.log.WithFields(logrus.Fields{
		"action_id":      action.ID,
		"operation":      transition.Op,
		"change_id":      transition.ChangeID,
		"publication_id": transition.PublicationID,
		"vocabulary_uri": transition.VocabularyURI,
		"target_state":   transition.Target,
	})

	err := s.send(ctx, sess, transition)
	event := store.ReviewEvent{
		Operation:     string(transition.Op),
		ChangeID:      transition.ChangeID,
		PublicationID: transition.PublicationID,
		VocabularyURI: transition.VocabularyURI,
		TargetState:   string(transition.Target),
		Actor:         sess.User.ID,
		AffectedURIs:  transition.AffectedURIs,
	}

	if err != nil {
		restored := patch.Undo()
		s.metrics.undo(string(transition.Op))
		s.metrics.transition(string(transition.Op), outcomeUndone)
		event.Outcome = store.OutcomeUndone
		event.ErrorKind = review.Kind(err)
		logger.WithError(err).WithFields(logrus.Fields{
			"error_kind": event.ErrorKind,
			"restored":   restored,
		}).Warn("transition failed, optimistic patch undone")
	} else {
		s.metrics.transition(string(transition.Op), outcomeSettled)
		event.Outcome = store.OutcomeSettled
		if vc, ok := s.cache.VocabularyChanges(patch.Key); ok {
			if index := vc.FindChange(transition.ChangeID); index >= 0 {
				s.search.IndexChange(vc.Changes[index])
			}
		}
		logger.Info("transition settled")
	}

	s.recordEvent(ctx, event)
	s.finish(flightKey, action, err)
}

func (s *Service) send(ctx context.Context, sess session.Session, t review.Transition) error {
	var err error
	switch t.Op {
	case review.OpResolve:
		_, err = s.remote.ResolveChange(ctx, sess, t.ChangeID, t.Target, t.VersionDate, t.DeclineMessage)
	case review.OpClearReview:
		_, err = s.remote.ClearReview(ctx, sess, t.ChangeID, t.VersionDate)
	case review.OpResolveRestriction:
		_, err = s.remote.ResolveRestriction(ctx, sess, t.AffectedURIs, t.Target, t.VersionDate)
	case review.OpClearRestriction:
		_, err = s.remote.ClearRestriction(ctx, sess, t.AffectedURIs, t.VersionDate)
	default:
		err = fmt.Errorf("operation %q: %w", t.Op, review.ErrInvalidTransition)
	}
	return err
}

func (s *Service) refused(ctx context.Context, sess session.Session, req TransitionRequest, err error) {
	s.metrics.transition("plan", outcomeRefused)
	s.log.WithError(err).WithFields(logrus.Fields{
		"change_id":      req.ChangeID,
		"publication_id": req.PublicationID,
		"vocabulary_uri": req.VocabularyURI,
		"target_state":   req.Target,
		"error_kind":     review.Kind(err),
	}).Info("transition refused")
	s.recordEvent(ctx, store.ReviewEvent{
		Operation:     "plan",
		ChangeID:      req.ChangeID,
		PublicationID: req.PublicationID,
		VocabularyURI: req.VocabularyURI,
		TargetState:   string(req.Target),
		Outcome:       store.OutcomeRefused,
		ErrorKind:     review.Kind(err),
		Actor:         sess.User.ID,
	})
}

func (s *Service) recordEvent(ctx context.Context, event store.ReviewEvent) {
	if err := s.events.InsertReviewEvent(ctx, event); err != nil {
		s.log.WithError(err).WithField("change_id", event.ChangeID).Error("record review event")
	}
}

// ResolvePublication approves or rejects a whole publication. The cached
// publication is patched first and restored if upstream refuses. Change
// transitions on the publication are refused until it returns.
func (s *Service) ResolvePublication(ctx context.Context, sess session.Session, publicationID string, approved bool, closingComment string) (_ review.Publication, err error) {
	publication, err := s.Publication(ctx, sess, publicationID)
	if err != nil {
		return review.Publication{}, err
	}
	plan, err := review.PlanPublication(publication, approved, closingComment)
	if err != nil {
		return review.Publication{}, err
	}

	operation := "rejectPublication"
	if approved {
		operation = "approvePublication"
	}
	flightKey := publicationFlightKey(publicationID)
	action := newAction(review.Transition{PublicationID: publicationID})
	if err := s.claim(flightKey, action); err != nil {
		return review.Publication{}, err
	}
	defer func() { s.finish(flightKey, action, err) }()

	patch, err := s.cache.ApplyPublicationPatch(publicationID, plan.Fields())
	if err != nil {
		return review.Publication{}, err
	}

	event := store.ReviewEvent{
		Operation:     operation,
		PublicationID: publicationID,
		TargetState:   string(plan.Fields().State),
		Actor:         sess.User.ID,
	}
	logger := s.log.WithFields(logrus.Fields{"publication_id": publicationID, "operation": operation})

	if _, err := s.remote.ResolvePublication(context.WithoutCancel(ctx), sess, publicationID, approved, plan.ClosingComment); err != nil {
		patch.Undo()
		s.metrics.undo(operation)
		s.metrics.transition(operation, outcomeUndone)
		event.Outcome = store.OutcomeUndone
		event.ErrorKind = review.Kind(err)
		s.recordEvent(ctx, event)
		logger.WithError(err).WithField("error_kind", event.ErrorKind).Warn("publication resolution failed, optimistic patch undone")
		return review.Publication{}, err
	}

	s.metrics.transition(operation, outcomeSettled)
	event.Outcome = store.OutcomeSettled
	s.recordEvent(ctx, event)
	s.cache.Invalidate(
		cache.PublicationVocabulariesTag(publicationID),
		cache.TagAllRelevantPublications,
		cache.TagClosedPublications,
	)
	logger.Info("publication resolved")

	resolved, ok := s.cache.Publication(publicationID)
	if !ok {
		return review.Publication{}, fmt.Errorf("publication %s: %w", publicationID, cache.ErrNotCached)
	}
	return resolved, nil
}

// Drain waits for dispatched actions to settle, up to ctx.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.settling.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DrainTimeout is how long shutdown waits for in-flight transitions.
const DrainTimeout = 10 * time.Second
