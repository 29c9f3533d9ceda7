package sqlite

import (
	"context"
	"path/filepath"
	"testing"
)

// newTestStore opens a fresh database in a temp directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(context.Background(), filepath.Join(t.TempDir(), "test.db"), 0, nil)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
