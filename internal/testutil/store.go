package testutil

import (
	"context"
	"testing"

	"github.io/infrasutra/gigdesk/internal/store"
)

// NewTestStore creates an in-memory sqlite store with the schema applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()

	ctx := context.Background()
	s, err := store.Open(ctx, store.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("applying schema: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}
