package capture

import (
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestGallery_Append_preserves_order(t *testing.T) {
	g := NewGallery()
	a := newClip("a.mp4", "video/mp4", SourceUploaded, []byte("a"))
	b := newClip("", RecordedType, SourceRecorded, []byte("bb"))
	c := newClip("c.mov", "video/quicktime", SourceUploaded, []byte("ccc"))

	g.Append(a, b)
	g.Append(c)

	got := g.List()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []Clip{a, b, c} {
		if got[i].ID != want.ID {
			t.Errorf("List()[%d] = %s, want %s", i, got[i].ID, want.ID)
		}
	}
}

func TestGallery_Append_no_dedup(t *testing.T) {
	g := NewGallery()
	a := newClip("a.mp4", "video/mp4", SourceUploaded, []byte("a"))
	g.Append(a)
	g.Append(a)
	if g.Len() != 2 {
		t.Errorf("len = %d, want 2", g.Len())
	}
}

func TestGallery_Append_nothing(t *testing.T) {
	g := NewGallery()
	g.Append()
	if g.Len() != 0 {
		t.Errorf("len = %d, want 0", g.Len())
	}
}

func TestGallery_Get(t *testing.T) {
	g := NewGallery()
	a := newClip("a.mp4", "video/mp4", SourceUploaded, []byte("payload"))
	g.Append(a)

	got, ok := g.Get(a.ID)
	if !ok || string(got.Bytes()) != "payload" {
		t.Errorf("Get = (%v, %v)", got, ok)
	}
	if _, ok := g.Get(uuid.New()); ok {
		t.Error("unknown id should not be found")
	}
}

func TestGallery_List_is_a_copy(t *testing.T) {
	g := NewGallery()
	g.Append(newClip("a.mp4", "video/mp4", SourceUploaded, []byte("a")))

	list := g.List()
	list[0].Name = "changed"

	if g.List()[0].Name != "a.mp4" {
		t.Error("mutating a listed clip must not change the gallery")
	}
}

func TestGallery_concurrent_append(t *testing.T) {
	g := NewGallery()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Append(newClip("x.mp4", "video/mp4", SourceUploaded, []byte("x")))
			_ = g.List()
		}()
	}
	wg.Wait()
	if g.Len() != 50 {
		t.Errorf("len = %d, want 50", g.Len())
	}
}

func TestNewGalleryWithStore(t *testing.T) {
	store := NewInMemoryStore()
	g := NewGalleryWithStore(store)
	a := newClip("a.mp4", "video/mp4", SourceUploaded, []byte("a"))
	g.Append(a)

	if _, ok := store.Get(a.ID); !ok {
		t.Error("injected store should contain the appended clip")
	}
}

// listCountingStore counts full listings so Len can be checked not to copy.
type listCountingStore struct {
	*InMemoryStore
	lists int
}

func (s *listCountingStore) List() []Clip {
	s.lists++
	return s.InMemoryStore.List()
}

func TestGallery_Len_does_not_list(t *testing.T) {
	store := &listCountingStore{InMemoryStore: NewInMemoryStore()}
	g := NewGalleryWithStore(store)
	g.Append(
		newClip("a.mp4", "video/mp4", SourceUploaded, []byte("a")),
		newClip("", RecordedType, SourceRecorded, []byte("bb")),
	)

	if got := g.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
	if store.lists != 0 {
		t.Errorf("Len listed the store %d times, want 0", store.lists)
	}
	if got := NewGallery().Len(); got != 0 {
		t.Errorf("empty Len() = %d, want 0", got)
	}
}

func TestClip_Bytes_is_a_copy(t *testing.T) {
	c := newClip("", RecordedType, SourceRecorded, []byte("abc"))
	b := c.Bytes()
	b[0] = 'z'
	if string(c.Bytes()) != "abc" {
		t.Error("clip payload must not change through Bytes()")
	}
	if c.PlaybackPath() != "/clips/"+c.ID.String()+"/media" {
		t.Errorf("PlaybackPath = %s", c.PlaybackPath())
	}
}
