// Package pdf assembles downloaded page images into a single document and
// persists first-page thumbnails.
package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	_ "image/jpeg"
	_ "image/png"

	"github.com/go-pdf/fpdf"
)

// ErrNoPages is returned when Assemble is called without page images.
var ErrNoPages = errors.New("no pages to assemble")

const pixelsPerMillimetre = 96.0 / 25.4

// Assemble writes one PDF containing the given page images, in order, each on
// a page sized to the image. The title is stored in the document metadata.
func Assemble(path, title string, pages [][]byte) error {
	if len(pages) == 0 {
		return ErrNoPages
	}

	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetTitle(title, true)
	doc.SetAutoPageBreak(false, 0)

	for i, page := range pages {
		imageType, width, height, err := imageGeometry(page)
		if err != nil {
			return fmt.Errorf("page %d: %w", i+1, err)
		}

		widthMM := float64(width) / pixelsPerMillimetre
		heightMM := float64(height) / pixelsPerMillimetre
		doc.AddPageFormat("P", fpdf.SizeType{Wd: widthMM, Ht: heightMM})

		name := fmt.Sprintf("page-%d", i+1)
		opts := fpdf.ImageOptions{ImageType: imageType}
		doc.RegisterImageOptionsReader(name, opts, bytes.NewReader(page))
		doc.ImageOptions(name, 0, 0, widthMM, heightMM, false, opts, 0, "")
	}
	if err := doc.Error(); err != nil {
		return fmt.Errorf("assemble document: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := doc.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return nil
}

// SaveThumbnail persists the first page's raw image bytes as a preview file.
func SaveThumbnail(path string, page []byte) error {
	if len(page) == 0 {
		return errors.New("empty thumbnail image")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create thumbnail directory: %w", err)
	}
	if err := os.WriteFile(path, page, 0o644); err != nil {
		return fmt.Errorf("write thumbnail: %w", err)
	}
	return nil
}

func imageGeometry(data []byte) (imageType string, width, height int, err error) {
	config, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", 0, 0, fmt.Errorf("decode image: %w", err)
	}
	switch format {
	case "jpeg":
		imageType = "JPG"
	case "png":
		imageType = "PNG"
	default:
		return "", 0, 0, fmt.Errorf("unsupported image format %q", format)
	}
	return imageType, config.Width, config.Height, nil
}
