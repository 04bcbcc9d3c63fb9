// Package naming defines the filename scheme that ties on-disk documents to
// workflow records, and builds the delivery captions derived from it.
package naming

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// PDFSuffix marks finished documents.
	PDFSuffix = ".pdf"
	// TempSuffix marks provisional documents awaiting OCR.
	TempSuffix = ".temp" + PDFSuffix
	// ThumbnailSuffix marks first-page preview images.
	ThumbnailSuffix = ".jpg"

	separator     = " — "
	fieldSep      = "_"
	hashtagStrip  = " ',.!?;:-_()\""
	issueDateForm = "20060102"
)

var monthNames = []string{
	"gennaio", "febbraio", "marzo", "aprile", "maggio", "giugno",
	"luglio", "agosto", "settembre", "ottobre", "novembre", "dicembre",
}

// NoLower keeps already-capitalized letters intact so display names such as
// "L'Uncinetto di Giò" survive hashtag derivation.
var titleCaser = cases.Title(language.Italian, cases.NoLower)

// FileName returns the finished-document filename for an issue,
// e.g. corriere-della-sera_20240615.pdf.
func FileName(publicationName, issueDate string) string {
	return publicationName + fieldSep + issueDate + PDFSuffix
}

// TempFileName returns the provisional-document filename for an issue.
func TempFileName(publicationName, issueDate string) string {
	return publicationName + fieldSep + issueDate + TempSuffix
}

// ThumbnailFileName returns the preview-image filename for an issue.
func ThumbnailFileName(publicationName, issueDate string) string {
	return publicationName + fieldSep + issueDate + ThumbnailSuffix
}

// SplitFileName recovers the publication name and issue date from a document
// filename, provisional or finished. The date is empty when the filename does
// not carry one.
func SplitFileName(path string) (publicationName, issueDate string) {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, PDFSuffix)
	base = strings.TrimSuffix(base, ".temp")
	base = strings.TrimSuffix(base, ThumbnailSuffix)

	idx := strings.LastIndex(base, fieldSep)
	if idx < 0 {
		return base, ""
	}
	return base[:idx], base[idx+1:]
}

// Title builds the human-readable document title. The display name wins when
// set; otherwise the publication name is de-hyphenated and title-cased. The
// issue date is rendered with Italian month names,
// e.g. "Corriere Della Sera — 15 giugno 2024".
func Title(path, displayName string) string {
	namePart, datePart := SplitFileName(path)

	name := titleCaser.String(strings.ReplaceAll(namePart, "-", " "))
	if displayName != "" {
		name = displayName
	}

	formatted := datePart
	if parsed, err := time.Parse(issueDateForm, datePart); err == nil {
		formatted = fmt.Sprintf("%d %s %d", parsed.Day(), monthNames[parsed.Month()-1], parsed.Year())
	}
	if formatted != "" {
		formatted = separator + formatted
	}
	return name + formatted
}

// Hashtag derives a channel hashtag from a document title: the name part is
// title-cased and every separator or punctuation character is dropped,
// e.g. "L'Uncinetto di Giò — 14 dicembre 2025" becomes "#LUncinettoDiGiò".
func Hashtag(title string) string {
	name, _, _ := strings.Cut(title, separator)
	name = titleCaser.String(strings.TrimSpace(name))

	var b strings.Builder
	b.WriteByte('#')
	for _, r := range name {
		if strings.ContainsRune(hashtagStrip, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Caption builds the delivery caption: title, blank line, hashtag.
func Caption(path, displayName string) string {
	title := Title(path, displayName)
	return title + "\n\n" + Hashtag(title)
}
