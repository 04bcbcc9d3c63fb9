package workers_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"edicola/internal/config"
	"edicola/internal/ocr"
	"edicola/internal/pressreader"
	"edicola/internal/store"
	"edicola/internal/telegram"
	"edicola/internal/testsupport"
	"edicola/internal/workers"
)

func pngPage(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 40, 60))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type fakeSource struct {
	latest    map[string]string
	manifests map[string][]pressreader.Page
	err       error
	calls     int
}

func (f *fakeSource) LatestIssueDate(_ context.Context, issueID string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	date, ok := f.latest[issueID]
	if !ok {
		return "", errors.New("unknown publication")
	}
	return date, nil
}

func (f *fakeSource) PageManifest(_ context.Context, issueID, issueDate string) ([]pressreader.Page, error) {
	if f.err != nil {
		return nil, f.err
	}
	manifest, ok := f.manifests[issueID+"/"+issueDate]
	if !ok {
		return nil, pressreader.ErrIssueNotFound
	}
	return manifest, nil
}

type fakeFetcher struct {
	image    []byte
	failPage map[int]bool
	scales   []int
}

func (f *fakeFetcher) FetchPage(_ context.Context, _ string, scale, pageNumber int, _ string) ([]byte, error) {
	f.scales = append(f.scales, scale)
	if f.failPage[pageNumber] {
		return nil, pressreader.ErrPageUnavailable
	}
	return f.image, nil
}

type copyProcessor struct {
	languages []string
	err       error
}

func (p *copyProcessor) Process(_ context.Context, inputPath, outputPath, language string) error {
	p.languages = append(p.languages, language)
	if p.err != nil {
		return p.err
	}
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(outputPath, data, 0o644)
}

type fakeSender struct {
	captions   []string
	thumbnails []string
	delivery   telegram.Delivery
	err        error
}

func (s *fakeSender) SendDocument(_ context.Context, _, thumbnailPath, caption string) (telegram.Delivery, error) {
	if s.err != nil {
		return telegram.Delivery{}, s.err
	}
	s.captions = append(s.captions, caption)
	s.thumbnails = append(s.thumbnails, thumbnailPath)
	return s.delivery, nil
}

func newPipeline(t *testing.T) (*config.Config, *store.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	return cfg, st
}

func TestSchedulerSkipsDisabledPublications(t *testing.T) {
	cfg, st := newPipeline(t)
	ctx := context.Background()

	pub := testsupport.MustCreatePublication(t, st, "paused", "p001")
	pub.Enabled = false
	if err := st.UpdatePublication(ctx, pub); err != nil {
		t.Fatalf("disable publication: %v", err)
	}

	source := &fakeSource{latest: map[string]string{"p001": "20260827"}}
	scheduler := workers.NewScheduler(cfg, st, source, nil)

	created, err := scheduler.FindNewIssues(ctx)
	if err != nil {
		t.Fatalf("find new issues: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("disabled publication produced %d records", len(created))
	}
	if source.calls != 0 {
		t.Fatal("upstream queried for a disabled publication")
	}
}

func TestSchedulerScanIsIdempotent(t *testing.T) {
	cfg, st := newPipeline(t)
	ctx := context.Background()
	testsupport.MustCreatePublication(t, st, "gazzetta", "g001")

	source := &fakeSource{latest: map[string]string{"g001": "20260827"}}
	scheduler := workers.NewScheduler(cfg, st, source, nil)

	created, err := scheduler.FindNewIssues(ctx)
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected 1 new record, got %d", len(created))
	}

	created, err = scheduler.FindNewIssues(ctx)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("unchanged upstream produced %d new records", len(created))
	}

	count, err := st.CountWorkflows(ctx, "")
	if err != nil {
		t.Fatalf("count workflows: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 record, got %d", count)
	}
}

func TestSchedulerHonorsThresholdDate(t *testing.T) {
	cfg, st := newPipeline(t)
	cfg.Workflow.ThresholdDate = "20260101"
	testsupport.MustCreatePublication(t, st, "archivio", "a001")

	source := &fakeSource{latest: map[string]string{"a001": "20251231"}}
	scheduler := workers.NewScheduler(cfg, st, source, nil)

	created, err := scheduler.FindNewIssues(context.Background())
	if err != nil {
		t.Fatalf("find new issues: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("issue older than threshold was registered")
	}
}

func TestDownloaderNeverAcceptsSinglePageIssues(t *testing.T) {
	cfg, st := newPipeline(t)
	ctx := context.Background()
	testsupport.MustCreatePublication(t, st, "mono", "m001")
	testsupport.MustCreateWorkflow(t, st, "mono", "20260827")

	source := &fakeSource{manifests: map[string][]pressreader.Page{
		"m001/20260827": {{Number: 1, Key: "k1"}},
	}}
	fetcher := &fakeFetcher{image: pngPage(t)}
	downloader := workers.NewDownloader(cfg, st, source, fetcher, nil)

	if err := downloader.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}

	record, err := st.GetWorkflow(ctx, "mono", "20260827")
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if record.Downloaded {
		t.Fatal("single-page issue must never be marked downloaded")
	}
	if len(fetcher.scales) != 0 {
		t.Fatal("no pages should be fetched for a single-page manifest")
	}
}

func TestDownloaderRemovesRecordForMissingIssue(t *testing.T) {
	cfg, st := newPipeline(t)
	ctx := context.Background()
	testsupport.MustCreatePublication(t, st, "ghost", "x001")
	testsupport.MustCreateWorkflow(t, st, "ghost", "20260827")

	source := &fakeSource{manifests: map[string][]pressreader.Page{}}
	downloader := workers.NewDownloader(cfg, st, source, &fakeFetcher{image: pngPage(t)}, nil)

	if err := downloader.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}

	record, err := st.GetWorkflow(ctx, "ghost", "20260827")
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if record != nil {
		t.Fatal("record for a withdrawn issue must be removed")
	}
}

func TestDownloaderAssemblesAndAdvances(t *testing.T) {
	cfg, st := newPipeline(t)
	ctx := context.Background()
	pub := testsupport.MustCreatePublication(t, st, "gazzetta", "g001")
	pub.MaxScale = 90
	if err := st.UpdatePublication(ctx, pub); err != nil {
		t.Fatalf("update publication: %v", err)
	}
	testsupport.MustCreateWorkflow(t, st, "gazzetta", "20260827")

	source := &fakeSource{manifests: map[string][]pressreader.Page{
		"g001/20260827": {{Number: 1, Key: "k1"}, {Number: 2, Key: "k2"}, {Number: 3, Key: "k3"}},
	}}
	fetcher := &fakeFetcher{image: pngPage(t)}
	downloader := workers.NewDownloader(cfg, st, source, fetcher, nil)

	if err := downloader.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}

	record, err := st.GetWorkflow(ctx, "gazzetta", "20260827")
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if !record.Downloaded {
		t.Fatal("record not marked downloaded")
	}
	for _, scale := range fetcher.scales {
		if scale != 90 {
			t.Fatalf("fetch used scale %d, want the publication's 90", scale)
		}
	}

	tempPath := filepath.Join(cfg.Paths.DownloadDir, "gazzetta_20260827.temp.pdf")
	if _, err := os.Stat(tempPath); err != nil {
		t.Fatalf("provisional document missing: %v", err)
	}
	thumbPath := filepath.Join(cfg.Paths.DownloadDir, "gazzetta_20260827.jpg")
	if _, err := os.Stat(thumbPath); err != nil {
		t.Fatalf("thumbnail missing: %v", err)
	}
}

func TestDownloaderRequiresTwoFetchedPages(t *testing.T) {
	cfg, st := newPipeline(t)
	ctx := context.Background()
	testsupport.MustCreatePublication(t, st, "flaky", "f001")
	testsupport.MustCreateWorkflow(t, st, "flaky", "20260827")

	source := &fakeSource{manifests: map[string][]pressreader.Page{
		"f001/20260827": {{Number: 1, Key: "k1"}, {Number: 2, Key: "k2"}, {Number: 3, Key: "k3"}},
	}}
	fetcher := &fakeFetcher{image: pngPage(t), failPage: map[int]bool{2: true, 3: true}}
	downloader := workers.NewDownloader(cfg, st, source, fetcher, nil)

	if err := downloader.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}

	record, err := st.GetWorkflow(ctx, "flaky", "20260827")
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if record.Downloaded {
		t.Fatal("issue with one fetched page must not be marked downloaded")
	}
}

func TestFinisherProcessesProvisionalDocuments(t *testing.T) {
	cfg, st := newPipeline(t)
	ctx := context.Background()
	pub := testsupport.MustCreatePublication(t, st, "gazzetta", "g001")
	pub.Language = "ita"
	if err := st.UpdatePublication(ctx, pub); err != nil {
		t.Fatalf("update publication: %v", err)
	}
	testsupport.MustCreateWorkflow(t, st, "gazzetta", "20260827")
	if _, err := st.MarkDownloaded(ctx, "gazzetta", "20260827"); err != nil {
		t.Fatalf("mark downloaded: %v", err)
	}

	tempPath := filepath.Join(cfg.Paths.DownloadDir, "gazzetta_20260827.temp.pdf")
	if err := os.WriteFile(tempPath, []byte("%PDF-raw"), 0o644); err != nil {
		t.Fatalf("write provisional: %v", err)
	}

	processor := &copyProcessor{}
	finisher := workers.NewFinisher(cfg, st, processor, nil)
	if err := finisher.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}

	record, err := st.GetWorkflow(ctx, "gazzetta", "20260827")
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if !record.OCRProcessed {
		t.Fatal("record not marked ocr_processed")
	}
	if len(processor.languages) != 1 || processor.languages[0] != "ita" {
		t.Fatalf("processor languages %v, want [ita]", processor.languages)
	}
	if _, err := os.Stat(tempPath); !os.IsNotExist(err) {
		t.Fatal("provisional file not removed after processing")
	}
	finishedPath := filepath.Join(cfg.Paths.FinishedDir, "gazzetta_20260827.pdf")
	if _, err := os.Stat(finishedPath); err != nil {
		t.Fatalf("finished document missing: %v", err)
	}
}

func TestFinisherSkipsUndownloadedRecords(t *testing.T) {
	cfg, st := newPipeline(t)
	ctx := context.Background()
	testsupport.MustCreatePublication(t, st, "early", "e001")
	testsupport.MustCreateWorkflow(t, st, "early", "20260827")

	tempPath := filepath.Join(cfg.Paths.DownloadDir, "early_20260827.temp.pdf")
	if err := os.WriteFile(tempPath, []byte("partial"), 0o644); err != nil {
		t.Fatalf("write provisional: %v", err)
	}

	processor := &copyProcessor{}
	finisher := workers.NewFinisher(cfg, st, processor, nil)
	if err := finisher.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(processor.languages) != 0 {
		t.Fatal("ocr ran before the download completed")
	}
	if _, err := os.Stat(tempPath); err != nil {
		t.Fatal("provisional file must stay for the next scan")
	}
}

func TestFinisherCleansStaleDuplicates(t *testing.T) {
	cfg, st := newPipeline(t)
	ctx := context.Background()
	testsupport.MustCreatePublication(t, st, "dup", "d001")
	testsupport.MustCreateWorkflow(t, st, "dup", "20260827")
	if _, err := st.MarkDownloaded(ctx, "dup", "20260827"); err != nil {
		t.Fatalf("mark downloaded: %v", err)
	}
	if _, err := st.MarkOCRProcessed(ctx, "dup", "20260827"); err != nil {
		t.Fatalf("mark ocr processed: %v", err)
	}

	finishedPath := filepath.Join(cfg.Paths.FinishedDir, "dup_20260827.pdf")
	if err := os.WriteFile(finishedPath, []byte("%PDF-final"), 0o644); err != nil {
		t.Fatalf("write finished: %v", err)
	}
	tempPath := filepath.Join(cfg.Paths.DownloadDir, "dup_20260827.temp.pdf")
	if err := os.WriteFile(tempPath, []byte("%PDF-stale"), 0o644); err != nil {
		t.Fatalf("write provisional: %v", err)
	}

	finisher := workers.NewFinisher(cfg, st, &copyProcessor{}, nil)
	if err := finisher.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if _, err := os.Stat(tempPath); !os.IsNotExist(err) {
		t.Fatal("stale provisional duplicate not removed")
	}
}

func TestUploaderDeliversAndRetires(t *testing.T) {
	cfg, st := newPipeline(t)
	ctx := context.Background()
	pub := testsupport.MustCreatePublication(t, st, "gazzetta", "g001")
	pub.DisplayName = "La Gazzetta"
	if err := st.UpdatePublication(ctx, pub); err != nil {
		t.Fatalf("update publication: %v", err)
	}
	testsupport.MustCreateWorkflow(t, st, "gazzetta", "20260827")
	if _, err := st.MarkDownloaded(ctx, "gazzetta", "20260827"); err != nil {
		t.Fatalf("mark downloaded: %v", err)
	}
	if _, err := st.MarkOCRProcessed(ctx, "gazzetta", "20260827"); err != nil {
		t.Fatalf("mark ocr processed: %v", err)
	}

	finishedPath := filepath.Join(cfg.Paths.FinishedDir, "gazzetta_20260827.pdf")
	if err := os.WriteFile(finishedPath, []byte("%PDF-final"), 0o644); err != nil {
		t.Fatalf("write finished: %v", err)
	}

	sender := &fakeSender{delivery: telegram.Delivery{ChatID: -100123, MessageID: 77, FileID: "file-77"}}
	uploader := workers.NewUploader(cfg, st, sender, nil)
	if err := uploader.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}

	record, err := st.GetWorkflow(ctx, "gazzetta", "20260827")
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if !record.Uploaded || record.ChannelID != -100123 || record.MessageID != 77 || record.FileID != "file-77" {
		t.Fatalf("delivery not recorded: %+v", record)
	}

	updated, err := st.GetPublication(ctx, "gazzetta")
	if err != nil {
		t.Fatalf("get publication: %v", err)
	}
	if updated.LastFinished != "20260827" {
		t.Fatalf("last_finished not set, got %q", updated.LastFinished)
	}

	if len(sender.captions) != 1 || !strings.HasPrefix(sender.captions[0], "La Gazzetta — 27 agosto 2026") {
		t.Fatalf("unexpected caption %v", sender.captions)
	}

	if _, err := os.Stat(finishedPath); !os.IsNotExist(err) {
		t.Fatal("delivered file still in finished area")
	}
	donePath := filepath.Join(cfg.Paths.DoneDir, "gazzetta_20260827.pdf")
	if _, err := os.Stat(donePath); err != nil {
		t.Fatalf("delivered file not moved to done area: %v", err)
	}
}

func TestUploaderDeletesWhenRetentionDisabled(t *testing.T) {
	cfg, st := newPipeline(t)
	cfg.Workflow.DeleteAfterDone = true
	ctx := context.Background()
	testsupport.MustCreatePublication(t, st, "ephemeral", "e001")
	testsupport.MustCreateWorkflow(t, st, "ephemeral", "20260827")
	if _, err := st.MarkDownloaded(ctx, "ephemeral", "20260827"); err != nil {
		t.Fatalf("mark downloaded: %v", err)
	}
	if _, err := st.MarkOCRProcessed(ctx, "ephemeral", "20260827"); err != nil {
		t.Fatalf("mark ocr processed: %v", err)
	}
	finishedPath := filepath.Join(cfg.Paths.FinishedDir, "ephemeral_20260827.pdf")
	if err := os.WriteFile(finishedPath, []byte("%PDF"), 0o644); err != nil {
		t.Fatalf("write finished: %v", err)
	}

	uploader := workers.NewUploader(cfg, st, &fakeSender{}, nil)
	if err := uploader.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if _, err := os.Stat(finishedPath); !os.IsNotExist(err) {
		t.Fatal("delivered file not deleted")
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.DoneDir, "ephemeral_20260827.pdf")); !os.IsNotExist(err) {
		t.Fatal("file moved to done area despite delete retention")
	}
}

func TestUploaderSkipsUnprocessedAndCleansDelivered(t *testing.T) {
	cfg, st := newPipeline(t)
	ctx := context.Background()
	testsupport.MustCreatePublication(t, st, "mixed", "m001")

	// Not yet OCR processed: must stay untouched.
	testsupport.MustCreateWorkflow(t, st, "mixed", "20260801")
	if _, err := st.MarkDownloaded(ctx, "mixed", "20260801"); err != nil {
		t.Fatalf("mark downloaded: %v", err)
	}
	pendingPath := filepath.Join(cfg.Paths.FinishedDir, "mixed_20260801.pdf")
	if err := os.WriteFile(pendingPath, []byte("%PDF"), 0o644); err != nil {
		t.Fatalf("write pending: %v", err)
	}

	// Already uploaded: leftover file is removed without a second delivery.
	testsupport.MustCreateWorkflow(t, st, "mixed", "20260802")
	if _, err := st.MarkDownloaded(ctx, "mixed", "20260802"); err != nil {
		t.Fatalf("mark downloaded: %v", err)
	}
	if _, err := st.MarkOCRProcessed(ctx, "mixed", "20260802"); err != nil {
		t.Fatalf("mark ocr processed: %v", err)
	}
	if _, err := st.MarkUploaded(ctx, "mixed", "20260802", 1, 2, "f"); err != nil {
		t.Fatalf("mark uploaded: %v", err)
	}
	deliveredPath := filepath.Join(cfg.Paths.FinishedDir, "mixed_20260802.pdf")
	if err := os.WriteFile(deliveredPath, []byte("%PDF"), 0o644); err != nil {
		t.Fatalf("write delivered: %v", err)
	}

	sender := &fakeSender{}
	uploader := workers.NewUploader(cfg, st, sender, nil)
	if err := uploader.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(sender.captions) != 0 {
		t.Fatalf("unexpected deliveries: %v", sender.captions)
	}
	if _, err := os.Stat(pendingPath); err != nil {
		t.Fatal("unprocessed file must stay for the next scan")
	}
	if _, err := os.Stat(deliveredPath); !os.IsNotExist(err) {
		t.Fatal("already-delivered file not cleaned up")
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	cfg, st := newPipeline(t)
	cfg.Workflow.ThresholdDate = "20200101"
	ctx := context.Background()

	pub := testsupport.MustCreatePublication(t, st, "corriere", "c001")
	pub.Language = "eng"
	if err := st.UpdatePublication(ctx, pub); err != nil {
		t.Fatalf("update publication: %v", err)
	}

	issueDate := time.Now().Format("20060102")
	source := &fakeSource{
		latest: map[string]string{"c001": issueDate},
		manifests: map[string][]pressreader.Page{
			"c001/" + issueDate: {{Number: 1, Key: "k1"}, {Number: 2, Key: "k2"}, {Number: 3, Key: "k3"}},
		},
	}
	fetcher := &fakeFetcher{image: pngPage(t)}
	processor := &copyProcessor{}
	sender := &fakeSender{delivery: telegram.Delivery{ChatID: -42, MessageID: 9, FileID: "file-9"}}

	scheduler := workers.NewScheduler(cfg, st, source, nil)
	downloader := workers.NewDownloader(cfg, st, source, fetcher, nil)
	finisher := workers.NewFinisher(cfg, st, processor, nil)
	uploader := workers.NewUploader(cfg, st, sender, nil)

	created, err := scheduler.FindNewIssues(ctx)
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected 1 registered issue, got %d", len(created))
	}

	if err := downloader.Scan(ctx); err != nil {
		t.Fatalf("downloader: %v", err)
	}
	if err := finisher.Scan(ctx); err != nil {
		t.Fatalf("finisher: %v", err)
	}
	if err := uploader.Scan(ctx); err != nil {
		t.Fatalf("uploader: %v", err)
	}

	record, err := st.GetWorkflow(ctx, "corriere", issueDate)
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if !record.Downloaded || !record.OCRProcessed || !record.Uploaded {
		t.Fatalf("pipeline incomplete: %+v", record)
	}
	if record.ChannelID != -42 || record.MessageID != 9 {
		t.Fatalf("delivery identifiers missing: %+v", record)
	}

	final, err := st.GetPublication(ctx, "corriere")
	if err != nil {
		t.Fatalf("get publication: %v", err)
	}
	if final.LastFinished != issueDate {
		t.Fatalf("last_finished %q, want %q", final.LastFinished, issueDate)
	}

	donePath := filepath.Join(cfg.Paths.DoneDir, fmt.Sprintf("corriere_%s.pdf", issueDate))
	if _, err := os.Stat(donePath); err != nil {
		t.Fatalf("delivered document not in done area: %v", err)
	}
	if len(processor.languages) != 1 || processor.languages[0] != "eng" {
		t.Fatalf("ocr language %v, want [eng]", processor.languages)
	}
	wantThumb := filepath.Join(cfg.Paths.FinishedDir, fmt.Sprintf("corriere_%s.jpg", issueDate))
	if len(sender.thumbnails) != 1 || sender.thumbnails[0] != wantThumb {
		t.Fatalf("thumbnail paths %v, want [%s]", sender.thumbnails, wantThumb)
	}
	if _, err := os.Stat(wantThumb); !os.IsNotExist(err) {
		t.Fatal("thumbnail not cleaned up after delivery")
	}
}

func TestManagerStartStop(t *testing.T) {
	manager := workers.NewManager(nil, &blockingWorker{name: "a"}, &blockingWorker{name: "b"})
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := manager.Start(context.Background()); err == nil {
		t.Fatal("second start must fail while running")
	}

	done := make(chan struct{})
	go func() {
		manager.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not return")
	}
}

type blockingWorker struct{ name string }

func (w *blockingWorker) Name() string { return w.name }

func (w *blockingWorker) Run(ctx context.Context) { <-ctx.Done() }

var _ ocr.Processor = (*copyProcessor)(nil)
