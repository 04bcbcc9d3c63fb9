package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"edicola/internal/store"
	"edicola/internal/testsupport"
)

func TestGetOrCreateWorkflowIsIdempotent(t *testing.T) {
	st := testsupport.MustOpenStore(t, nil)
	ctx := context.Background()

	first, created, err := st.GetOrCreateWorkflow(ctx, "repubblica", "20260115")
	if err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if !created {
		t.Fatal("expected first registration to create a record")
	}

	if _, err := st.MarkDownloaded(ctx, "repubblica", "20260115"); err != nil {
		t.Fatalf("mark downloaded: %v", err)
	}

	second, created, err := st.GetOrCreateWorkflow(ctx, "repubblica", "20260115")
	if err != nil {
		t.Fatalf("second registration: %v", err)
	}
	if created {
		t.Fatal("expected second registration to return the existing record")
	}
	if second.ID != first.ID {
		t.Fatalf("expected same record, got id %d then %d", first.ID, second.ID)
	}
	if !second.Downloaded {
		t.Fatal("re-registration must not reset the downloaded flag")
	}

	count, err := st.CountWorkflows(ctx, "")
	if err != nil {
		t.Fatalf("count workflows: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one record, got %d", count)
	}
}

func TestStageTransitionsRequirePriorStage(t *testing.T) {
	st := testsupport.MustOpenStore(t, nil)
	ctx := context.Background()
	testsupport.MustCreateWorkflow(t, st, "lastampa", "20260201")

	// OCR before download must not apply.
	applied, err := st.MarkOCRProcessed(ctx, "lastampa", "20260201")
	if err != nil {
		t.Fatalf("mark ocr processed: %v", err)
	}
	if applied {
		t.Fatal("ocr transition applied before download completed")
	}

	// Upload before OCR must not apply.
	applied, err = st.MarkUploaded(ctx, "lastampa", "20260201", 42, 99, "file-x")
	if err != nil {
		t.Fatalf("mark uploaded: %v", err)
	}
	if applied {
		t.Fatal("upload transition applied before ocr completed")
	}

	record, err := st.GetWorkflow(ctx, "lastampa", "20260201")
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if record.Downloaded || record.OCRProcessed || record.Uploaded {
		t.Fatalf("flags mutated by rejected transitions: %+v", record)
	}
}

func TestStageTransitionsAdvanceInOrder(t *testing.T) {
	st := testsupport.MustOpenStore(t, nil)
	ctx := context.Background()
	testsupport.MustCreateWorkflow(t, st, "corriere", "20260310")

	steps := []struct {
		name  string
		apply func() (bool, error)
		stage string
	}{
		{"downloaded", func() (bool, error) { return st.MarkDownloaded(ctx, "corriere", "20260310") }, "downloaded"},
		{"ocr", func() (bool, error) { return st.MarkOCRProcessed(ctx, "corriere", "20260310") }, "ocr_processed"},
		{"uploaded", func() (bool, error) { return st.MarkUploaded(ctx, "corriere", "20260310", 7, 12, "file-7") }, "uploaded"},
	}
	for _, step := range steps {
		applied, err := step.apply()
		if err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		if !applied {
			t.Fatalf("%s transition did not apply", step.name)
		}
		// Applying the same transition twice is a no-op.
		applied, err = step.apply()
		if err != nil {
			t.Fatalf("%s repeat: %v", step.name, err)
		}
		if applied {
			t.Fatalf("%s transition applied twice", step.name)
		}
		record, err := st.GetWorkflow(ctx, "corriere", "20260310")
		if err != nil {
			t.Fatalf("get workflow: %v", err)
		}
		if record.Stage() != step.stage {
			t.Fatalf("expected stage %s, got %s", step.stage, record.Stage())
		}
	}

	record, err := st.GetWorkflow(ctx, "corriere", "20260310")
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if record.ChannelID != 7 || record.MessageID != 12 || record.FileID != "file-7" {
		t.Fatalf("delivery identifiers not recorded: %+v", record)
	}
}

func TestListUndownloadedReturnsOldestFirst(t *testing.T) {
	st := testsupport.MustOpenStore(t, nil)
	ctx := context.Background()

	testsupport.MustCreateWorkflow(t, st, "gazzetta", "20260101")
	testsupport.MustCreateWorkflow(t, st, "gazzetta", "20260102")
	testsupport.MustCreateWorkflow(t, st, "gazzetta", "20260103")

	if _, err := st.MarkDownloaded(ctx, "gazzetta", "20260102"); err != nil {
		t.Fatalf("mark downloaded: %v", err)
	}

	pending, err := st.ListUndownloaded(ctx)
	if err != nil {
		t.Fatalf("list undownloaded: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending records, got %d", len(pending))
	}
	if pending[0].IssueDate != "20260101" || pending[1].IssueDate != "20260103" {
		t.Fatalf("unexpected pending order: %s, %s", pending[0].IssueDate, pending[1].IssueDate)
	}
}

func TestDeleteWorkflowAllowsRediscovery(t *testing.T) {
	st := testsupport.MustOpenStore(t, nil)
	ctx := context.Background()
	testsupport.MustCreateWorkflow(t, st, "sole24ore", "20260420")

	deleted, err := st.DeleteWorkflow(ctx, "sole24ore", "20260420")
	if err != nil {
		t.Fatalf("delete workflow: %v", err)
	}
	if !deleted {
		t.Fatal("expected delete to remove the record")
	}

	deleted, err = st.DeleteWorkflow(ctx, "sole24ore", "20260420")
	if err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
	if deleted {
		t.Fatal("expected second delete to be a no-op")
	}

	_, created, err := st.GetOrCreateWorkflow(ctx, "sole24ore", "20260420")
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if !created {
		t.Fatal("expected re-registration after delete to create a fresh record")
	}
}

func TestListWorkflowsPaginatesAndFilters(t *testing.T) {
	st := testsupport.MustOpenStore(t, nil)
	ctx := context.Background()

	for _, date := range []string{"20260101", "20260102", "20260103"} {
		testsupport.MustCreateWorkflow(t, st, "espresso", date)
	}
	testsupport.MustCreateWorkflow(t, st, "panorama", "20260104")

	page, err := st.ListWorkflows(ctx, "", 2, 0)
	if err != nil {
		t.Fatalf("list workflows: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected page of 2, got %d", len(page))
	}

	rest, err := st.ListWorkflows(ctx, "", 10, 2)
	if err != nil {
		t.Fatalf("list workflows offset: %v", err)
	}
	if len(rest) != 2 {
		t.Fatalf("expected 2 remaining records, got %d", len(rest))
	}

	filtered, err := st.ListWorkflows(ctx, "espr", 10, 0)
	if err != nil {
		t.Fatalf("list workflows filtered: %v", err)
	}
	if len(filtered) != 3 {
		t.Fatalf("expected 3 espresso records, got %d", len(filtered))
	}
	for _, record := range filtered {
		if record.PublicationName != "espresso" {
			t.Fatalf("filter leaked record for %s", record.PublicationName)
		}
	}

	count, err := st.CountWorkflows(ctx, "panorama")
	if err != nil {
		t.Fatalf("count workflows: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 panorama record, got %d", count)
	}
}

func TestHealthAggregatesStages(t *testing.T) {
	st := testsupport.MustOpenStore(t, nil)
	ctx := context.Background()

	testsupport.MustCreateWorkflow(t, st, "verita", "20260501")
	testsupport.MustCreateWorkflow(t, st, "verita", "20260502")
	testsupport.MustCreateWorkflow(t, st, "verita", "20260503")

	if _, err := st.MarkDownloaded(ctx, "verita", "20260502"); err != nil {
		t.Fatalf("mark downloaded: %v", err)
	}
	if _, err := st.MarkDownloaded(ctx, "verita", "20260503"); err != nil {
		t.Fatalf("mark downloaded: %v", err)
	}
	if _, err := st.MarkOCRProcessed(ctx, "verita", "20260503"); err != nil {
		t.Fatalf("mark ocr processed: %v", err)
	}

	health, err := st.Health(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	want := store.HealthSummary{Total: 3, Registered: 1, Downloaded: 1, OCRProcessed: 1}
	if health != want {
		t.Fatalf("health mismatch: got %+v want %+v", health, want)
	}
}

func TestCreatePublicationRejectsDuplicateName(t *testing.T) {
	st := testsupport.MustOpenStore(t, nil)
	testsupport.MustCreatePublication(t, st, "fatto", "9x7a")

	_, err := st.CreatePublication(context.Background(), &store.Publication{
		Name:    "fatto",
		IssueID: "other",
		Enabled: true,
	})
	if !errors.Is(err, store.ErrPublicationExists) {
		t.Fatalf("expected ErrPublicationExists, got %v", err)
	}
}

func TestSetLastFinishedControlsEligibility(t *testing.T) {
	st := testsupport.MustOpenStore(t, nil)
	ctx := context.Background()
	testsupport.MustCreatePublication(t, st, "foglio", "f001")
	testsupport.MustCreatePublication(t, st, "domani", "d001")

	disabled := testsupport.MustCreatePublication(t, st, "paused", "p001")
	disabled.Enabled = false
	if err := st.UpdatePublication(ctx, disabled); err != nil {
		t.Fatalf("disable publication: %v", err)
	}

	if err := st.SetLastFinished(ctx, "foglio", "20260601"); err != nil {
		t.Fatalf("set last finished: %v", err)
	}

	eligible, err := st.ListEnabledPublicationsNotFinishedOn(ctx, "20260601")
	if err != nil {
		t.Fatalf("list eligible: %v", err)
	}
	if len(eligible) != 1 || eligible[0].Name != "domani" {
		t.Fatalf("unexpected eligible set: %+v", eligible)
	}

	// The next day foglio becomes eligible again.
	eligible, err = st.ListEnabledPublicationsNotFinishedOn(ctx, "20260602")
	if err != nil {
		t.Fatalf("list eligible next day: %v", err)
	}
	if len(eligible) != 2 {
		t.Fatalf("expected 2 eligible publications, got %d", len(eligible))
	}
}

func TestSeedPublicationsPreservesExistingRows(t *testing.T) {
	st := testsupport.MustOpenStore(t, nil)
	ctx := context.Background()

	existing := testsupport.MustCreatePublication(t, st, "repubblica", "orig")
	existing.MaxScale = 80
	if err := st.UpdatePublication(ctx, existing); err != nil {
		t.Fatalf("update publication: %v", err)
	}

	entries := []map[string]any{
		{"name": "repubblica", "issue_id": "seeded", "max_scale": 100, "language": "it"},
		{"name": "avvenire", "issue_id": "a100", "max_scale": 100, "language": "it", "display_name": "Avvenire"},
	}
	data, err := json.Marshal(entries)
	if err != nil {
		t.Fatalf("marshal entries: %v", err)
	}
	path := filepath.Join(t.TempDir(), "publications.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write seed file: %v", err)
	}

	if err := st.SeedPublications(ctx, path, nil); err != nil {
		t.Fatalf("seed publications: %v", err)
	}

	kept, err := st.GetPublication(ctx, "repubblica")
	if err != nil {
		t.Fatalf("get publication: %v", err)
	}
	if kept.IssueID != "orig" || kept.MaxScale != 80 {
		t.Fatalf("seed overwrote operator edits: %+v", kept)
	}

	added, err := st.GetPublication(ctx, "avvenire")
	if err != nil {
		t.Fatalf("get seeded publication: %v", err)
	}
	if added == nil || added.DisplayName != "Avvenire" || !added.Enabled {
		t.Fatalf("seeded publication missing or wrong: %+v", added)
	}
}

func TestSeedPublicationsIgnoresMissingFile(t *testing.T) {
	st := testsupport.MustOpenStore(t, nil)
	path := filepath.Join(t.TempDir(), "absent.json")
	if err := st.SeedPublications(context.Background(), path, nil); err != nil {
		t.Fatalf("missing seed file should not error: %v", err)
	}
}
