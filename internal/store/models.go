package store

import "time"

type Outcome string

const (
	OutcomeSettled Outcome = "SETTLED"
	OutcomeUndone  Outcome = "UNDONE"
	OutcomeRefused Outcome = "REFUSED"
)

// ReviewEvent is one row of the append-only review log. Every dispatched
// transition produces exactly one event once it settles or is refused.
type ReviewEvent struct {
	ID            int64
	Operation     string
	ChangeID      string
	PublicationID string
	VocabularyURI string
	TargetState   string
	Outcome       Outcome
	ErrorKind     string
	Actor         string
	AffectedURIs  []string
	CreatedAt     time.Time
}
