package capture

import "github.com/google/uuid"

// Store is the storage abstraction behind the Gallery.
// Implementations only need to keep insertion order; the Gallery does the
// locking, so a Store does not have to be safe for concurrent use.
type Store interface {
	Append(c Clip)
	Get(id uuid.UUID) (Clip, bool)
	List() []Clip
	Len() int
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	clips []Clip
	index map[uuid.UUID]int
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		index: make(map[uuid.UUID]int),
	}
}

// Append implements Store.Append.
func (s *InMemoryStore) Append(c Clip) {
	s.index[c.ID] = len(s.clips)
	s.clips = append(s.clips, c)
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(id uuid.UUID) (Clip, bool) {
	i, ok := s.index[id]
	if !ok {
		return Clip{}, false
	}
	return s.clips[i], true
}

// List implements Store.List. The returned slice is a copy.
func (s *InMemoryStore) List() []Clip {
	out := make([]Clip, len(s.clips))
	copy(out, s.clips)
	return out
}

// Len implements Store.Len.
func (s *InMemoryStore) Len() int {
	return len(s.clips)
}
