package review

import (
	"fmt"
	"strings"
)

type Operation string

const (
	OpResolve            Operation = "resolve"
	OpClearReview        Operation = "clearReview"
	OpResolveRestriction Operation = "resolveRestriction"
	OpClearRestriction   Operation = "clearRestriction"
)

// ChangeFields is a field-level image of the mutable part of a Change.
type ChangeFields struct {
	State          ChangeState `json:"state"`
	DeclineMessage string      `json:"declineMessage,omitempty"`
}

func FieldsOf(change Change) ChangeFields {
	return ChangeFields{State: change.State, DeclineMessage: change.DeclineMessage}
}

func (f ChangeFields) ApplyTo(change *Change) {
	change.State = f.State
	change.DeclineMessage = f.DeclineMessage
}

// Transition is a planned review transition, ready to be applied
// optimistically and sent upstream.
type Transition struct {
	Op             Operation
	ChangeID       string
	VocabularyURI  string
	PublicationID  string
	From           ChangeState
	Target         ChangeState
	VersionDate    string
	AffectedURIs   []string
	DeclineMessage string
}

// Fields is the post-image applied to the cached change.
func (t Transition) Fields() ChangeFields {
	return ChangeFields{State: t.Target, DeclineMessage: t.DeclineMessage}
}

func (t Transition) Restriction() bool {
	return t.Op == OpResolveRestriction || t.Op == OpClearRestriction
}

// Guard refuses changes the acting user may not transition.
func Guard(change Change) error {
	if !change.Gestored {
		return fmt.Errorf("change %s: vocabulary %s is not gestored by the acting user: %w", change.ID, change.VocabularyURI, ErrPermissionDenied)
	}
	if change.ReadOnly {
		return fmt.Errorf("change %s: publication %s is closed: %w", change.ID, change.PublicationID, ErrPermissionDenied)
	}
	return nil
}

// Plan validates a requested target state against the change and picks the
// operation. NOT_REVIEWED may move to APPROVED or REJECTED; a reviewed change
// may only be cleared back to NOT_REVIEWED.
func Plan(change Change, target ChangeState, declineMessage string) (Transition, error) {
	if err := Guard(change); err != nil {
		return Transition{}, err
	}
	if !target.Valid() {
		return Transition{}, fmt.Errorf("unknown state %q: %w", target, ErrInvalidTransition)
	}

	transition := Transition{
		ChangeID:      change.ID,
		VocabularyURI: change.VocabularyURI,
		PublicationID: change.PublicationID,
		From:          change.State,
		Target:        target,
		VersionDate:   change.PublicationDate,
	}

	grouped := change.Grouped()
	if grouped {
		transition.AffectedURIs = change.AffectedURIs()
		if len(transition.AffectedURIs) == 0 {
			return Transition{}, fmt.Errorf("change %s: %w", change.ID, ErrMalformedRestriction)
		}
	}

	switch {
	case change.State == StateNotReviewed && target != StateNotReviewed:
		transition.Op = OpResolve
		if grouped {
			transition.Op = OpResolveRestriction
		}
		if target == StateRejected {
			transition.DeclineMessage = strings.TrimSpace(declineMessage)
		}
	case change.State != StateNotReviewed && target == StateNotReviewed:
		transition.Op = OpClearReview
		if grouped {
			transition.Op = OpClearRestriction
		}
	default:
		return Transition{}, fmt.Errorf("change %s: %s -> %s: %w", change.ID, change.State, target, ErrInvalidTransition)
	}
	return transition, nil
}

// PublicationFields is a field-level image of the mutable part of a Publication.
type PublicationFields struct {
	State          PublicationState `json:"state"`
	ClosingComment string           `json:"closingComment,omitempty"`
}

func PublicationFieldsOf(p Publication) PublicationFields {
	return PublicationFields{State: p.State, ClosingComment: p.ClosingComment}
}

func (f PublicationFields) ApplyTo(p *Publication) {
	p.State = f.State
	p.ClosingComment = f.ClosingComment
}

type PublicationTransition struct {
	PublicationID  string
	Approved       bool
	ClosingComment string
}

func (t PublicationTransition) Fields() PublicationFields {
	state := PublicationRejected
	if t.Approved {
		state = PublicationApproved
	}
	return PublicationFields{State: state, ClosingComment: t.ClosingComment}
}

// PlanPublication refuses publications that are already closed.
func PlanPublication(p Publication, approved bool, closingComment string) (PublicationTransition, error) {
	if p.State.Terminal() {
		return PublicationTransition{}, fmt.Errorf("publication %s is already %s: %w", p.ID, p.State, ErrInvalidTransition)
	}
	return PublicationTransition{
		PublicationID:  p.ID,
		Approved:       approved,
		ClosingComment: strings.TrimSpace(closingComment),
	}, nil
}
