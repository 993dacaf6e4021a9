package capture

import (
	"sync"

	"github.com/google/uuid"
)

// Gallery is the concurrency-safe, append-only, ordered collection of clips.
// Clips are never reordered, removed, or deduplicated.
type Gallery struct {
	mu    sync.RWMutex
	store Store
}

// NewGallery constructs a gallery backed by an in-memory store.
func NewGallery() *Gallery {
	return NewGalleryWithStore(NewInMemoryStore())
}

// NewGalleryWithStore constructs a gallery that uses the given Store.
func NewGalleryWithStore(store Store) *Gallery {
	return &Gallery{store: store}
}

// Append adds clips in the order given. Appending nothing is a no-op.
func (g *Gallery) Append(clips ...Clip) {
	if len(clips) == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range clips {
		g.store.Append(c)
	}
}

// Get returns the clip with the given ID.
func (g *Gallery) Get(id uuid.UUID) (Clip, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.Get(id)
}

// List returns an ordered snapshot of every clip.
func (g *Gallery) List() []Clip {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.List()
}

// Len returns the number of clips. Used for metrics.
func (g *Gallery) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.Len()
}
