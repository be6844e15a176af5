package store

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/lkern/shrinkarr/internal/media"
)

func benchStore(b *testing.B) *SQLiteStore {
	b.Helper()
	dbPath := filepath.Join(b.TempDir(), "bench.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		b.Fatalf("failed to create store: %v", err)
	}
	b.Cleanup(func() { store.Close() })
	return store
}

func BenchmarkUpsertFile(b *testing.B) {
	store := benchStore(b)
	lib := &media.Library{Name: "Movies", Path: "/media/movies", Enabled: true}
	if err := store.CreateLibrary(lib); err != nil {
		b.Fatalf("failed to create library: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f := &media.File{
			LibraryID: lib.ID,
			FilePath:  fmt.Sprintf("/media/movies/f%d.mkv", i),
			FileName:  fmt.Sprintf("f%d.mkv", i),
			Status:    media.StatusQueued,
		}
		if err := store.UpsertFile(f); err != nil {
			b.Fatalf("upsert failed: %v", err)
		}
	}
}

func BenchmarkNextQueued(b *testing.B) {
	store := benchStore(b)
	lib := &media.Library{Name: "Movies", Path: "/media/movies", Enabled: true}
	if err := store.CreateLibrary(lib); err != nil {
		b.Fatalf("failed to create library: %v", err)
	}
	for i := 0; i < 1000; i++ {
		f := &media.File{
			LibraryID:       lib.ID,
			FilePath:        fmt.Sprintf("/media/movies/f%d.mkv", i),
			FileName:        fmt.Sprintf("f%d.mkv", i),
			OriginalBitrate: int64(1_000_000 + i),
			Status:          media.StatusQueued,
		}
		if err := store.UpsertFile(f); err != nil {
			b.Fatalf("seed failed: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := store.NextQueued(SortBitrateDesc, PriorityAlphabeticalAsc); err != nil {
			b.Fatalf("pick failed: %v", err)
		}
	}
}

func BenchmarkAddStats(b *testing.B) {
	store := benchStore(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := store.AddStats(StatsDelta{Processed: 1, Finished: 1, SpaceSaved: 1000}); err != nil {
			b.Fatalf("add stats failed: %v", err)
		}
	}
}
