package store

import "time"

// Publication is a configured content source.
type Publication struct {
	ID           int64
	Name         string
	IssueID      string
	MaxScale     int
	Language     string
	Enabled      bool
	DisplayName  string
	LastFinished string
	CreatedAt    time.Time
}

// WorkflowRecord tracks one (publication, issue) pair through the pipeline.
// The three flags only ever advance; uploaded implies ocr_processed which
// implies downloaded.
type WorkflowRecord struct {
	ID              int64
	PublicationName string
	IssueDate       string
	Downloaded      bool
	OCRProcessed    bool
	Uploaded        bool
	ChannelID       int64
	MessageID       int64
	FileID          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Stage reports the record's current pipeline position for display.
func (r WorkflowRecord) Stage() string {
	switch {
	case r.Uploaded:
		return "uploaded"
	case r.OCRProcessed:
		return "ocr_processed"
	case r.Downloaded:
		return "downloaded"
	default:
		return "registered"
	}
}

// HealthSummary describes aggregated workflow counts per pipeline stage.
type HealthSummary struct {
	Total        int
	Registered   int
	Downloaded   int
	OCRProcessed int
	Uploaded     int
}
