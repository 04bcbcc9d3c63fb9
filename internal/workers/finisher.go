package workers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"edicola/internal/config"
	"edicola/internal/logging"
	"edicola/internal/naming"
	"edicola/internal/ocr"
	"edicola/internal/store"
)

// Finisher turns provisional documents into searchable ones via the OCR
// collaborator and advances their records.
type Finisher struct {
	store       *store.Store
	processor   ocr.Processor
	logger      *slog.Logger
	downloadDir string
	finishedDir string
	interval    time.Duration
}

// NewFinisher builds the OCR worker.
func NewFinisher(cfg *config.Config, st *store.Store, processor ocr.Processor, logger *slog.Logger) *Finisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Finisher{
		store:       st,
		processor:   processor,
		logger:      logging.WithComponent(logger, "finisher"),
		downloadDir: cfg.Paths.DownloadDir,
		finishedDir: cfg.Paths.FinishedDir,
		interval:    time.Duration(cfg.Workflow.FinisherInterval) * time.Second,
	}
}

// Name implements Worker.
func (f *Finisher) Name() string { return "finisher" }

// Run polls the downloads area until cancelled.
func (f *Finisher) Run(ctx context.Context) {
	pollLoop(ctx, f.interval, f.logger, f.Scan)
}

// Scan processes every provisional document on disk. A file whose record is
// not ready yet is simply left for a later scan; this is the expected race
// with the downloader, not an error.
func (f *Finisher) Scan(ctx context.Context) error {
	entries, err := os.ReadDir(f.downloadDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read downloads area: %w", err)
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), naming.TempSuffix) {
			continue
		}
		f.processFile(ctx, filepath.Join(f.downloadDir, entry.Name()))
	}
	return nil
}

func (f *Finisher) processFile(ctx context.Context, tempPath string) {
	publicationName, issueDate := naming.SplitFileName(tempPath)
	logger := f.logger.With(
		logging.String("publication", publicationName),
		logging.String("issue_date", issueDate))

	if issueDate == "" {
		logger.Warn("provisional file without an issue date, ignoring",
			logging.String("path", tempPath))
		return
	}

	record, err := f.store.GetWorkflow(ctx, publicationName, issueDate)
	if err != nil {
		logger.Error("look up record", logging.Error(err))
		return
	}
	if record == nil {
		logger.Warn("provisional file has no record, ignoring")
		return
	}

	outputPath := filepath.Join(f.finishedDir, naming.FileName(publicationName, issueDate))

	if record.OCRProcessed {
		if _, err := os.Stat(outputPath); err == nil {
			// Stale duplicate of an already finished issue.
			logger.Debug("already processed, removing provisional file")
			if err := os.Remove(tempPath); err != nil {
				logger.Warn("remove stale provisional file", logging.Error(err))
			}
		}
		return
	}
	if !record.Downloaded {
		// Download still in flight.
		return
	}

	pub, err := f.store.GetPublication(ctx, publicationName)
	if err != nil {
		logger.Error("look up publication", logging.Error(err))
		return
	}
	language := ""
	if pub != nil {
		language = pub.Language
	}

	if err := f.processor.Process(ctx, tempPath, outputPath, language); err != nil {
		// Left in place; retried next scan.
		logger.Error("ocr failed", logging.Error(err))
		return
	}

	applied, err := f.store.MarkOCRProcessed(ctx, publicationName, issueDate)
	if err != nil {
		logger.Error("mark ocr processed", logging.Error(err))
		return
	}
	if !applied {
		logger.Debug("record advanced elsewhere, leaving as-is")
		return
	}

	if err := os.Remove(tempPath); err != nil {
		logger.Warn("remove provisional file", logging.Error(err))
	}

	// The thumbnail travels with the document to the finished area so the
	// uploader can attach it.
	thumbName := naming.ThumbnailFileName(publicationName, issueDate)
	if err := os.Rename(filepath.Join(f.downloadDir, thumbName), filepath.Join(f.finishedDir, thumbName)); err != nil && !os.IsNotExist(err) {
		logger.Warn("move thumbnail", logging.Error(err))
	}
	logger.Info("issue processed", logging.String("path", outputPath))
}
