package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	db "github.com/fable-games/fable/internal/database"
	"github.com/fable-games/fable/internal/database/storydb/model"
)

type mapCache struct {
	entries map[interface{}]interface{}
}

func newMapCache() *mapCache {
	return &mapCache{entries: map[interface{}]interface{}{}}
}

func (c *mapCache) Get(key interface{}) (interface{}, bool) {
	v, ok := c.entries[key]
	return v, ok
}

func (c *mapCache) Add(key, value interface{}) { c.entries[key] = value }

func (c *mapCache) Keys() []interface{} {
	keys := make([]interface{}, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

func (c *mapCache) Delete(key interface{}) { delete(c.entries, key) }

func openDB(t *testing.T) (*DB, *mapCache) {
	t.Helper()

	ctx := context.Background()
	boltDB, err := db.NewFromEnv(ctx, &db.Config{FilePath: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { boltDB.Close(ctx) })

	cache := newMapCache()
	return New(boltDB, cache), cache
}

func record(id, narrator string) model.Record {
	return model.Record{
		ID:           id,
		Theme:        "Haunted lighthouse",
		Narrator:     narrator,
		Participants: []string{"Alice", "Bob"},
		Segments:     []string{"Once upon a time."},
		FinishedAt:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAddAndFetch(t *testing.T) {
	t.Parallel()

	sdb, _ := openDB(t)

	want := record("story-1", "Alice")
	if err := sdb.Add(want); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := sdb.Fetch("story-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.ID != want.ID || got.Narrator != want.Narrator || len(got.Segments) != 1 {
		t.Errorf("fetched %+v, want %+v", got, want)
	}
}

func TestFetchMissing(t *testing.T) {
	t.Parallel()

	sdb, _ := openDB(t)

	if _, err := sdb.Fetch("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFetchAllEmptyDatabase(t *testing.T) {
	t.Parallel()

	sdb, _ := openDB(t)

	list, err := sdb.FetchAll()
	if err != nil {
		t.Fatalf("fetch all: %v", err)
	}
	if list != nil {
		t.Errorf("list = %v, want nil", list)
	}
}

func TestFetchByNarratorCachesAndInvalidates(t *testing.T) {
	t.Parallel()

	sdb, cache := openDB(t)

	if err := sdb.Add(record("story-1", "Alice")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := sdb.Add(record("story-2", "Bob")); err != nil {
		t.Fatalf("add: %v", err)
	}

	list, err := sdb.FetchByNarrator("Alice")
	if err != nil {
		t.Fatalf("fetch by narrator: %v", err)
	}
	if len(list) != 1 || list[0].ID != "story-1" {
		t.Fatalf("list = %+v", list)
	}

	if _, ok := cache.Get(sdb.narratorKey("Alice")); !ok {
		t.Fatal("read result not cached")
	}

	// a new story by the same narrator must evict the cached result
	if err := sdb.Add(record("story-3", "Alice")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, ok := cache.Get(sdb.narratorKey("Alice")); ok {
		t.Fatal("cache entry survived a write")
	}

	list, err = sdb.FetchByNarrator("Alice")
	if err != nil {
		t.Fatalf("fetch by narrator: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("list length = %d, want 2", len(list))
	}
}
