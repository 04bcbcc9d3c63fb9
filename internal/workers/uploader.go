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
	"edicola/internal/store"
	"edicola/internal/telegram"
)

// Uploader delivers finished documents to the channel and closes out their
// records.
type Uploader struct {
	store       *store.Store
	sender      telegram.Sender
	logger      *slog.Logger
	finishedDir string
	doneDir     string
	deleteDone  bool
	interval    time.Duration
}

// NewUploader builds the delivery worker.
func NewUploader(cfg *config.Config, st *store.Store, sender telegram.Sender, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Uploader{
		store:       st,
		sender:      sender,
		logger:      logging.WithComponent(logger, "uploader"),
		finishedDir: cfg.Paths.FinishedDir,
		doneDir:     cfg.Paths.DoneDir,
		deleteDone:  cfg.Workflow.DeleteAfterDone,
		interval:    time.Duration(cfg.Workflow.UploaderInterval) * time.Second,
	}
}

// Name implements Worker.
func (u *Uploader) Name() string { return "uploader" }

// Run polls the finished area until cancelled.
func (u *Uploader) Run(ctx context.Context) {
	pollLoop(ctx, u.interval, u.logger, u.Scan)
}

// Scan delivers every finished document on disk whose record is ready.
func (u *Uploader) Scan(ctx context.Context) error {
	entries, err := os.ReadDir(u.finishedDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read finished area: %w", err)
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, naming.PDFSuffix) || strings.HasSuffix(name, naming.TempSuffix) {
			continue
		}
		u.processFile(ctx, filepath.Join(u.finishedDir, name))
	}
	return nil
}

func (u *Uploader) processFile(ctx context.Context, path string) {
	publicationName, issueDate := naming.SplitFileName(path)
	logger := u.logger.With(
		logging.String("publication", publicationName),
		logging.String("issue_date", issueDate))

	if issueDate == "" {
		logger.Warn("finished file without an issue date, ignoring",
			logging.String("path", path))
		return
	}

	record, err := u.store.GetWorkflow(ctx, publicationName, issueDate)
	if err != nil {
		logger.Error("look up record", logging.Error(err))
		return
	}
	if record == nil {
		logger.Warn("finished file has no record, ignoring")
		return
	}
	if record.Uploaded {
		// Already delivered; the leftover file is just cleanup.
		logger.Debug("already delivered, removing local file")
		if err := os.Remove(path); err != nil {
			logger.Warn("remove delivered file", logging.Error(err))
		}
		return
	}
	if !record.OCRProcessed {
		// OCR still in flight.
		return
	}

	pub, err := u.store.GetPublication(ctx, publicationName)
	if err != nil {
		logger.Error("look up publication", logging.Error(err))
		return
	}
	displayName := ""
	if pub != nil {
		displayName = pub.DisplayName
	}

	caption := naming.Caption(path, displayName)
	thumbPath := strings.TrimSuffix(path, naming.PDFSuffix) + naming.ThumbnailSuffix
	if _, err := os.Stat(thumbPath); err != nil {
		thumbPath = ""
	}
	delivery, err := u.sender.SendDocument(ctx, path, thumbPath, caption)
	if err != nil {
		logger.Error("deliver document", logging.Error(err))
		return
	}

	applied, err := u.store.MarkUploaded(ctx, publicationName, issueDate,
		delivery.ChatID, delivery.MessageID, delivery.FileID)
	if err != nil {
		logger.Error("mark uploaded", logging.Error(err))
		return
	}
	if !applied {
		logger.Debug("record advanced elsewhere, leaving as-is")
		return
	}

	if err := u.store.SetLastFinished(ctx, publicationName, issueDate); err != nil {
		logger.Error("update last finished", logging.Error(err))
	}

	u.retire(logger, path)
	if thumbPath != "" {
		if err := os.Remove(thumbPath); err != nil {
			logger.Warn("remove thumbnail", logging.Error(err))
		}
	}
	logger.Info("issue delivered",
		logging.Int64("chat_id", delivery.ChatID),
		logging.Int64("message_id", delivery.MessageID))
}

// retire applies the retention policy to a delivered file: delete it, or park
// it in the done area for later on-demand retrieval.
func (u *Uploader) retire(logger *slog.Logger, path string) {
	if u.deleteDone {
		if err := os.Remove(path); err != nil {
			logger.Warn("remove delivered file", logging.Error(err))
		}
		return
	}
	if err := os.MkdirAll(u.doneDir, 0o755); err != nil {
		logger.Warn("create done area", logging.Error(err))
		return
	}
	target := filepath.Join(u.doneDir, filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		logger.Warn("move delivered file to done area", logging.Error(err))
	}
}
