package cache

import (
	"fmt"
	"sync"

	"checkit/api/internal/review"
	"checkit/api/internal/util"
)

// ChangePatch is a compensating command against one cached change. Apply has
// already happened when the patch is returned; Undo reapplies the pre-image.
type ChangePatch struct {
	ID       string
	Key      VocabularyKey
	ChangeID string
	Pre      review.ChangeFields
	Post     review.ChangeFields

	cache *Cache
	entry *vocabularyEntry
	once  sync.Once
}

// ApplyChangePatch merges the post-image into the cached change in place and
// records the pre-image. Concurrent patches on the same change are not
// serialized here; each gets its own undo record.
func (c *Cache) ApplyChangePatch(key VocabularyKey, changeID string, post review.ChangeFields) (*ChangePatch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.vocabularies[key]
	if !ok {
		return nil, fmt.Errorf("patch change %s in %s: %w", changeID, key, ErrNotCached)
	}
	index := entry.data.FindChange(changeID)
	if index < 0 {
		return nil, fmt.Errorf("patch change %s in %s: %w", changeID, key, review.ErrChangeNotFound)
	}
	change := &entry.data.Changes[index]
	patch := &ChangePatch{
		ID:       util.NewID("patch"),
		Key:      key,
		ChangeID: changeID,
		Pre:      review.FieldsOf(*change),
		Post:     post,
		cache:    c,
		entry:    entry,
	}
	post.ApplyTo(change)
	return patch, nil
}

// Undo restores the pre-image. It reports false when the patched entry is no
// longer the cached one, e.g. after an invalidation or a refetch; the
// refetched data is authoritative then.
func (p *ChangePatch) Undo() bool {
	restored := false
	p.once.Do(func() {
		p.cache.mu.Lock()
		defer p.cache.mu.Unlock()
		entry, ok := p.cache.vocabularies[p.Key]
		if !ok || entry != p.entry {
			return
		}
		index := entry.data.FindChange(p.ChangeID)
		if index < 0 {
			return
		}
		p.Pre.ApplyTo(&entry.data.Changes[index])
		restored = true
	})
	return restored
}

type PublicationPatch struct {
	ID            string
	PublicationID string
	Pre           review.PublicationFields
	Post          review.PublicationFields

	cache *Cache
	entry *publicationEntry
	once  sync.Once
}

func (c *Cache) ApplyPublicationPatch(publicationID string, post review.PublicationFields) (*PublicationPatch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.publications[publicationID]
	if !ok {
		return nil, fmt.Errorf("patch publication %s: %w", publicationID, ErrNotCached)
	}
	patch := &PublicationPatch{
		ID:            util.NewID("patch"),
		PublicationID: publicationID,
		Pre:           review.PublicationFieldsOf(entry.data),
		Post:          post,
		cache:         c,
		entry:         entry,
	}
	post.ApplyTo(&entry.data)
	return patch, nil
}

func (p *PublicationPatch) Undo() bool {
	restored := false
	p.once.Do(func() {
		p.cache.mu.Lock()
		defer p.cache.mu.Unlock()
		entry, ok := p.cache.publications[p.PublicationID]
		if !ok || entry != p.entry {
			return
		}
		p.Pre.ApplyTo(&entry.data)
		restored = true
	})
	return restored
}
