// Package api defines the administrative service consumed by the daemon's
// HTTP surface and the CLI: typed views over publications, workflow records,
// and pipeline health.
package api

import "time"

// PublicationView is the wire representation of a configured publication.
type PublicationView struct {
	Name         string `json:"name"`
	IssueID      string `json:"issue_id"`
	MaxScale     int    `json:"max_scale"`
	Language     string `json:"language"`
	Enabled      bool   `json:"enabled"`
	DisplayName  string `json:"display_name,omitempty"`
	LastFinished string `json:"last_finished,omitempty"`
}

// WorkflowView is the wire representation of one issue's pipeline record.
type WorkflowView struct {
	ID              int64     `json:"id"`
	PublicationName string    `json:"publication_name"`
	IssueDate       string    `json:"issue_date"`
	Stage           string    `json:"stage"`
	Downloaded      bool      `json:"downloaded"`
	OCRProcessed    bool      `json:"ocr_processed"`
	Uploaded        bool      `json:"uploaded"`
	ChannelID       int64     `json:"channel_id,omitempty"`
	MessageID       int64     `json:"message_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// WorkflowPage is one page of workflow records.
type WorkflowPage struct {
	Records []WorkflowView `json:"records"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
}

// HealthView summarizes pipeline state for the health endpoint.
type HealthView struct {
	Running      bool   `json:"running"`
	DatabasePath string `json:"database_path"`
	Total        int    `json:"total"`
	Registered   int    `json:"registered"`
	Downloaded   int    `json:"downloaded"`
	OCRProcessed int    `json:"ocr_processed"`
	Uploaded     int    `json:"uploaded"`
}

// ScanResult reports the outcome of an on-demand discovery scan.
type ScanResult struct {
	Created []WorkflowView `json:"created"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
