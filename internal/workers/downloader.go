package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"edicola/internal/config"
	"edicola/internal/logging"
	"edicola/internal/naming"
	"edicola/internal/pdf"
	"edicola/internal/pressreader"
	"edicola/internal/store"
)

// PageFetcher downloads one page image. Satisfied by *pressreader.Fetcher.
type PageFetcher interface {
	FetchPage(ctx context.Context, issueNumber string, scale, pageNumber int, pageKey string) ([]byte, error)
}

// minUsablePages guards against systemic failure masquerading as a short
// issue: a one-page result means the upstream is broken, not that the issue
// has one page.
const minUsablePages = 2

// Downloader fetches registered issues page by page and assembles provisional
// documents for the OCR stage.
type Downloader struct {
	store       *store.Store
	source      IssueSource
	fetcher     PageFetcher
	logger      *slog.Logger
	downloadDir string
	interval    time.Duration
	pageDelay   time.Duration

	assemble      func(path, title string, pages [][]byte) error
	saveThumbnail func(path string, page []byte) error
}

// NewDownloader builds the download worker.
func NewDownloader(cfg *config.Config, st *store.Store, source IssueSource, fetcher PageFetcher, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Downloader{
		store:         st,
		source:        source,
		fetcher:       fetcher,
		logger:        logging.WithComponent(logger, "downloader"),
		downloadDir:   cfg.Paths.DownloadDir,
		interval:      time.Duration(cfg.Workflow.DownloaderInterval) * time.Second,
		pageDelay:     time.Duration(cfg.Upstream.ManifestDelay) * time.Second,
		assemble:      pdf.Assemble,
		saveThumbnail: pdf.SaveThumbnail,
	}
}

// Name implements Worker.
func (d *Downloader) Name() string { return "downloader" }

// Run polls for undownloaded issues until cancelled.
func (d *Downloader) Run(ctx context.Context) {
	pollLoop(ctx, d.interval, d.logger, d.Scan)
}

// Scan processes every record still awaiting download. Failures are per
// record: a record that cannot complete this scan is left untouched for the
// next one.
func (d *Downloader) Scan(ctx context.Context) error {
	records, err := d.store.ListUndownloaded(ctx)
	if err != nil {
		return fmt.Errorf("list undownloaded: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	names := make([]string, 0, len(records))
	for _, record := range records {
		names = append(names, record.PublicationName)
	}
	publications, err := d.store.ListPublicationsByName(ctx, names)
	if err != nil {
		return fmt.Errorf("resolve publications: %w", err)
	}

	for _, record := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.processRecord(ctx, record, publications[record.PublicationName])
	}
	return nil
}

func (d *Downloader) processRecord(ctx context.Context, record *store.WorkflowRecord, pub *store.Publication) {
	logger := d.logger.With(
		logging.String("publication", record.PublicationName),
		logging.String("issue_date", record.IssueDate))

	if pub == nil {
		logger.Warn("record has no matching publication")
		return
	}

	manifest, err := d.source.PageManifest(ctx, pub.IssueID, record.IssueDate)
	if err != nil {
		if errors.Is(err, pressreader.ErrIssueNotFound) {
			// The upstream disowns the issue; drop the record so the
			// scheduler can rediscover a corrected one.
			logger.Warn("issue not found upstream, removing record")
			if _, delErr := d.store.DeleteWorkflow(ctx, record.PublicationName, record.IssueDate); delErr != nil {
				logger.Error("remove orphaned record", logging.Error(delErr))
			}
			return
		}
		logger.Warn("manifest fetch failed, will retry", logging.Error(err))
		return
	}

	if len(manifest) < minUsablePages {
		logger.Warn("issue reports too few pages, will retry",
			logging.Int("pages", len(manifest)))
		return
	}

	issueNumber := pressreader.IssueNumber(pub.IssueID, record.IssueDate)
	images := make([][]byte, 0, len(manifest))
	for i, page := range manifest {
		if i > 0 && d.pageDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.pageDelay):
			}
		}
		data, err := d.fetcher.FetchPage(ctx, issueNumber, pub.MaxScale, page.Number, page.Key)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("page download failed",
				logging.Int("page", page.Number),
				logging.Error(err))
			continue
		}
		images = append(images, data)
	}
	logger.Info("pages downloaded",
		logging.Int("downloaded", len(images)),
		logging.Int("total", len(manifest)))

	if len(images) < minUsablePages {
		logger.Warn("too few pages downloaded, will retry")
		return
	}

	tempPath := filepath.Join(d.downloadDir, naming.TempFileName(record.PublicationName, record.IssueDate))
	title := naming.Title(tempPath, pub.DisplayName)
	if err := d.assemble(tempPath, title, images); err != nil {
		logger.Error("assemble document", logging.Error(err))
		return
	}

	thumbPath := filepath.Join(d.downloadDir, naming.ThumbnailFileName(record.PublicationName, record.IssueDate))
	if err := d.saveThumbnail(thumbPath, images[0]); err != nil {
		logger.Warn("save thumbnail", logging.Error(err))
	}

	applied, err := d.store.MarkDownloaded(ctx, record.PublicationName, record.IssueDate)
	if err != nil {
		logger.Error("mark downloaded", logging.Error(err))
		return
	}
	if !applied {
		logger.Debug("record advanced elsewhere, leaving as-is")
		return
	}
	logger.Info("issue downloaded", logging.String("path", tempPath))
}
