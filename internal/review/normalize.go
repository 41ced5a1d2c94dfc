package review

import "fmt"

// Normalize derives identities for restriction changes and stamps every change
// with its container context. It runs in place, once per fetch, and must run
// before grouping or caching: downstream code relies on non-empty uri and id.
//
// A change without a uri must carry object.restriction.affectedChanges[0]; if it
// does not, the whole payload is refused with ErrMalformedRestriction.
func Normalize(vc *VocabularyChanges, publicationID string) error {
	readOnly := vc.PublicationState.Terminal()
	for i := range vc.Changes {
		change := &vc.Changes[i]
		if change.URI == "" {
			restriction := change.Object.Restriction
			if restriction == nil || len(restriction.AffectedChanges) == 0 {
				return fmt.Errorf("change %d of vocabulary %s: %w", i, vc.URI, ErrMalformedRestriction)
			}
			first := restriction.AffectedChanges[0]
			change.URI = GroupedPrefix + first.URI
			change.ID = GroupedPrefix + first.ID
			change.Predicate = CustomRelationship
		}
		change.VocabularyURI = vc.URI
		change.PublicationID = publicationID
		change.Gestored = vc.Gestored
		change.ReadOnly = readOnly
		change.PublicationDate = vc.PublicationLastUpdate
	}
	return nil
}
