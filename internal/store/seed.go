package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"edicola/internal/logging"
)

type seedEntry struct {
	Name        string `json:"name"`
	IssueID     string `json:"issue_id"`
	MaxScale    int    `json:"max_scale"`
	Language    string `json:"language"`
	DisplayName string `json:"display_name"`
}

// SeedPublications imports publications from a JSON file, get-or-create per
// entry so existing rows (and operator edits to them) are never overwritten.
// A missing file is not an error; the daemon simply starts with whatever is
// already configured.
func (s *Store) SeedPublications(ctx context.Context, path string, logger *slog.Logger) error {
	if path == "" {
		return nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read publications file: %w", err)
	}

	var entries []seedEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse publications file: %w", err)
	}

	for _, entry := range entries {
		if entry.Name == "" || entry.IssueID == "" {
			logger.Warn("skipping seed entry without name or issue_id",
				logging.String("name", entry.Name))
			continue
		}
		pub := &Publication{
			Name:        entry.Name,
			IssueID:     entry.IssueID,
			MaxScale:    entry.MaxScale,
			Language:    entry.Language,
			DisplayName: entry.DisplayName,
			Enabled:     true,
		}
		if _, created, err := s.GetOrCreatePublication(ctx, pub); err != nil {
			return fmt.Errorf("seed publication %s: %w", entry.Name, err)
		} else if created {
			logger.Info("publication imported", logging.String("publication", entry.Name))
		}
	}
	return nil
}
