// Package ocr wraps the external text-recognition tool that turns assembled
// page-image documents into searchable PDFs.
package ocr

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"edicola/internal/config"
)

// Processor converts a provisional document into a searchable one.
type Processor interface {
	Process(ctx context.Context, inputPath, outputPath, language string) error
}

// Service runs ocrmypdf against provisional documents.
type Service struct {
	binary        string
	timeout       time.Duration
	commandRunner func(ctx context.Context, name string, args ...string) error
}

// NewService creates an OCR service from configuration.
func NewService(cfg *config.Config) *Service {
	return &Service{
		binary:  cfg.OCR.Binary,
		timeout: time.Duration(cfg.OCR.Timeout) * time.Second,
	}
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Service) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	s.commandRunner = runner
}

// Process runs the tool, leaving the input untouched and writing the
// searchable document to outputPath. Page images are left as-is; only the
// text layer is added.
func (s *Service) Process(ctx context.Context, inputPath, outputPath, language string) error {
	if inputPath == "" || outputPath == "" {
		return fmt.Errorf("ocr: input and output paths required")
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("ocr: ensure output dir: %w", err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	args := []string{"--skip-text", "--optimize", "0"}
	if language != "" {
		args = append(args, "--language", language)
	}
	args = append(args, inputPath, outputPath)

	if err := s.run(ctx, s.binary, args...); err != nil {
		return fmt.Errorf("ocr %s: %w", filepath.Base(inputPath), err)
	}
	return nil
}

func (s *Service) run(ctx context.Context, name string, args ...string) error {
	if s.commandRunner != nil {
		return s.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}
