// Package review holds the change-review core: the change model, identity
// normalization, subject grouping, progress aggregation and the review state
// machine. Everything here is pure; transport and caching live elsewhere.
package review

import "strings"

type ChangeType string

const (
	ChangeCreated    ChangeType = "CREATED"
	ChangeRemoved    ChangeType = "REMOVED"
	ChangeModified   ChangeType = "MODIFIED"
	ChangeRollbacked ChangeType = "ROLLBACKED"
)

type ChangeState string

const (
	StateNotReviewed ChangeState = "NOT_REVIEWED"
	StateApproved    ChangeState = "APPROVED"
	StateRejected    ChangeState = "REJECTED"
)

func (s ChangeState) Valid() bool {
	switch s {
	case StateNotReviewed, StateApproved, StateRejected:
		return true
	default:
		return false
	}
}

// PublicationState is open for every value except the two terminal ones.
type PublicationState string

const (
	PublicationApproved PublicationState = "APPROVED"
	PublicationRejected PublicationState = "REJECTED"
)

func (s PublicationState) Terminal() bool {
	return s == PublicationApproved || s == PublicationRejected
}

const (
	// GroupedPrefix marks identities synthesized for restriction changes.
	GroupedPrefix = "grouped/"
	// CustomRelationship is the predicate forced onto restriction changes.
	CustomRelationship = "CUSTOM_RELATIONSHIP"
)

type AffectedChange struct {
	URI string `json:"uri"`
	ID  string `json:"id"`
}

type Restriction struct {
	AffectedChanges []AffectedChange `json:"affectedChanges"`
}

type ObjectData struct {
	Value       string       `json:"value"`
	Type        string       `json:"type,omitempty"`
	LanguageTag string       `json:"languageTag,omitempty"`
	Restriction *Restriction `json:"restriction,omitempty"`
}

type Change struct {
	ID             string      `json:"id"`
	URI            string      `json:"uri"`
	Subject        string      `json:"subject"`
	Predicate      string      `json:"predicate"`
	Object         ObjectData  `json:"object"`
	NewObject      *ObjectData `json:"newObject,omitempty"`
	Type           ChangeType  `json:"type"`
	State          ChangeState `json:"state"`
	Label          string      `json:"label,omitempty"`
	DeclineMessage string      `json:"declineMessage,omitempty"`

	// Context stamped by Normalize, never by the user.
	VocabularyURI   string `json:"vocabularyUri,omitempty"`
	PublicationID   string `json:"publicationId,omitempty"`
	Gestored        bool   `json:"gestored"`
	ReadOnly        bool   `json:"readOnly"`
	PublicationDate string `json:"publicationDate,omitempty"`
}

// Grouped reports whether the change carries a synthesized restriction identity.
func (c Change) Grouped() bool {
	return strings.HasPrefix(c.URI, GroupedPrefix)
}

// AffectedURIs lists the uris of the bundled sub-changes in order.
func (c Change) AffectedURIs() []string {
	if c.Object.Restriction == nil {
		return nil
	}
	uris := make([]string, 0, len(c.Object.Restriction.AffectedChanges))
	for _, affected := range c.Object.Restriction.AffectedChanges {
		uris = append(uris, affected.URI)
	}
	return uris
}

type VocabularyChanges struct {
	URI                   string           `json:"uri"`
	Label                 string           `json:"label"`
	Gestored              bool             `json:"gestored"`
	PublicationState      PublicationState `json:"publicationState"`
	PublicationLastUpdate string           `json:"publicationLastUpdate"`
	Changes               []Change         `json:"changes"`
}

// FindChange returns the index of the change with the given id, or -1.
func (v *VocabularyChanges) FindChange(id string) int {
	for i := range v.Changes {
		if v.Changes[i].ID == id {
			return i
		}
	}
	return -1
}

type VocabularyRef struct {
	URI      string `json:"uri"`
	Label    string `json:"label"`
	Gestored bool   `json:"gestored,omitempty"`
}

type Publication struct {
	ID             string           `json:"id"`
	Label          string           `json:"label,omitempty"`
	State          PublicationState `json:"state"`
	ClosingComment string           `json:"closingComment,omitempty"`
	Created        string           `json:"created,omitempty"`
	LastUpdate     string           `json:"lastUpdate,omitempty"`
	Vocabularies   []VocabularyRef  `json:"affectedVocabularies,omitempty"`
}

// PublicationContext is a listing row; Reviewable is set by the gateway.
type PublicationContext struct {
	ID         string           `json:"id"`
	Label      string           `json:"label,omitempty"`
	State      PublicationState `json:"state,omitempty"`
	Created    string           `json:"created,omitempty"`
	LastUpdate string           `json:"lastUpdate,omitempty"`
	Reviewable bool             `json:"reviewable"`
}
