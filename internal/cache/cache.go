// Package cache keeps the gateway's local copy of upstream review data. Entries
// are tagged for invalidation and mutated only through patch commands that
// record a field-level pre-image so a failed upstream call can be undone.
package cache

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/mitchellh/hashstructure"

	"checkit/api/internal/review"
)

var ErrNotCached = errors.New("entry not cached")

const (
	TagAllRelevantPublications = "ALL_RELEVANT_PUBLICATIONS"
	TagClosedPublications      = "CLOSED_PUBLICATIONS"
)

func VocabularyChangesTag(key VocabularyKey) string {
	return "VOCABULARY_CHANGES:" + key.PublicationID + "_" + key.VocabularyURI
}

// PublicationVocabulariesTag groups every vocabulary entry of a publication.
func PublicationVocabulariesTag(publicationID string) string {
	return "PUBLICATION_VOCABULARIES:" + publicationID
}

func PublicationTag(publicationID string) string {
	return "PUBLICATIONS:" + publicationID
}

type VocabularyKey struct {
	PublicationID string
	VocabularyURI string
}

func (k VocabularyKey) String() string {
	return k.PublicationID + "_" + k.VocabularyURI
}

type vocabularyEntry struct {
	data review.VocabularyChanges
	tags []string
}

type publicationEntry struct {
	data review.Publication
	tags []string
}

type listingEntry struct {
	data []review.PublicationContext
	tags []string
}

type Cache struct {
	mu           sync.Mutex
	vocabularies map[VocabularyKey]*vocabularyEntry
	publications map[string]*publicationEntry
	listings     map[string]*listingEntry
}

func New() *Cache {
	return &Cache{
		vocabularies: make(map[VocabularyKey]*vocabularyEntry),
		publications: make(map[string]*publicationEntry),
		listings:     make(map[string]*listingEntry),
	}
}

// PutVocabularyChanges stores an already normalized payload.
func (c *Cache) PutVocabularyChanges(key VocabularyKey, data review.VocabularyChanges) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vocabularies[key] = &vocabularyEntry{
		data: cloneVocabularyChanges(data),
		tags: []string{VocabularyChangesTag(key), PublicationVocabulariesTag(key.PublicationID)},
	}
}

func (c *Cache) VocabularyChanges(key VocabularyKey) (review.VocabularyChanges, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.vocabularies[key]
	if !ok {
		return review.VocabularyChanges{}, false
	}
	return cloneVocabularyChanges(entry.data), true
}

func (c *Cache) PutPublication(publication review.Publication) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publications[publication.ID] = &publicationEntry{
		data: clonePublication(publication),
		tags: []string{PublicationTag(publication.ID)},
	}
}

func (c *Cache) Publication(id string) (review.Publication, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.publications[id]
	if !ok {
		return review.Publication{}, false
	}
	return clonePublication(entry.data), true
}

func RelevantListingKey() string {
	return "relevant"
}

func ClosedListingKey(page int) string {
	return "closed:" + strconv.Itoa(page)
}

func (c *Cache) PutListing(key string, rows []review.PublicationContext, tags ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listings[key] = &listingEntry{
		data: append([]review.PublicationContext(nil), rows...),
		tags: append([]string(nil), tags...),
	}
}

func (c *Cache) Listing(key string) ([]review.PublicationContext, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.listings[key]
	if !ok {
		return nil, false
	}
	return append([]review.PublicationContext(nil), entry.data...), true
}

// Invalidate drops every entry carrying at least one of the tags and reports
// how many entries were removed.
func (c *Cache) Invalidate(tags ...string) int {
	if len(tags) == 0 {
		return 0
	}
	wanted := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		wanted[tag] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, entry := range c.vocabularies {
		if hasTag(entry.tags, wanted) {
			delete(c.vocabularies, key)
			removed++
		}
	}
	for key, entry := range c.publications {
		if hasTag(entry.tags, wanted) {
			delete(c.publications, key)
			removed++
		}
	}
	for key, entry := range c.listings {
		if hasTag(entry.tags, wanted) {
			delete(c.listings, key)
			removed++
		}
	}
	return removed
}

func hasTag(tags []string, wanted map[string]struct{}) bool {
	for _, tag := range tags {
		if _, ok := wanted[tag]; ok {
			return true
		}
	}
	return false
}

// Fingerprint hashes the cached vocabulary entry; it changes whenever any
// field of any change changes.
func (c *Cache) Fingerprint(key VocabularyKey) (uint64, error) {
	data, ok := c.VocabularyChanges(key)
	if !ok {
		return 0, fmt.Errorf("fingerprint %s: %w", key, ErrNotCached)
	}
	return Fingerprint(data)
}

func Fingerprint(v any) (uint64, error) {
	return hashstructure.Hash(v, nil)
}

func cloneVocabularyChanges(in review.VocabularyChanges) review.VocabularyChanges {
	out := in
	if in.Changes != nil {
		out.Changes = make([]review.Change, len(in.Changes))
		for i, change := range in.Changes {
			out.Changes[i] = cloneChange(change)
		}
	}
	return out
}

func cloneChange(in review.Change) review.Change {
	out := in
	out.Object = cloneObject(in.Object)
	if in.NewObject != nil {
		newObject := cloneObject(*in.NewObject)
		out.NewObject = &newObject
	}
	return out
}

func cloneObject(in review.ObjectData) review.ObjectData {
	out := in
	if in.Restriction != nil {
		out.Restriction = &review.Restriction{
			AffectedChanges: append([]review.AffectedChange(nil), in.Restriction.AffectedChanges...),
		}
	}
	return out
}

func clonePublication(in review.Publication) review.Publication {
	out := in
	if in.Vocabularies != nil {
		out.Vocabularies = append([]review.VocabularyRef(nil), in.Vocabularies...)
	}
	return out
}
