package testsupport

import (
	"context"
	"testing"

	"edicola/internal/config"
	"edicola/internal/store"
)

// MustOpenStore opens a workflow store backed by a throwaway database and
// registers cleanup with the test.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	if cfg == nil {
		cfg = NewConfig(t)
	}
	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return st
}

// MustCreatePublication inserts a publication with sane defaults for tests.
func MustCreatePublication(t testing.TB, st *store.Store, name, issueID string) *store.Publication {
	t.Helper()

	pub, err := st.CreatePublication(context.Background(), &store.Publication{
		Name:     name,
		IssueID:  issueID,
		MaxScale: 100,
		Language: "it",
		Enabled:  true,
	})
	if err != nil {
		t.Fatalf("create publication %s: %v", name, err)
	}
	return pub
}

// MustCreateWorkflow registers an issue and fails the test on error.
func MustCreateWorkflow(t testing.TB, st *store.Store, publicationName, issueDate string) *store.WorkflowRecord {
	t.Helper()

	record, _, err := st.GetOrCreateWorkflow(context.Background(), publicationName, issueDate)
	if err != nil {
		t.Fatalf("create workflow %s/%s: %v", publicationName, issueDate, err)
	}
	return record
}
