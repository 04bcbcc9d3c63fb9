package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"edicola/internal/store"
)

// ErrNotFound is returned for lookups of unknown publications or records.
var ErrNotFound = errors.New("not found")

// ErrInvalid is returned for malformed input.
var ErrInvalid = errors.New("invalid request")

// Scanner triggers an on-demand discovery scan. Satisfied by
// *workers.Scheduler.
type Scanner interface {
	FindNewIssues(ctx context.Context) ([]*store.WorkflowRecord, error)
}

// DocumentFetcher retrieves a delivered document from the channel by its
// stored identifiers.
type DocumentFetcher interface {
	FetchByMessage(ctx context.Context, chatID, messageID int64, fileID string) ([]byte, error)
}

// Service implements the administrative operations over the workflow store.
type Service struct {
	store   *store.Store
	scanner Scanner
	fetcher DocumentFetcher
	running func() bool
}

// NewService builds the administrative service. scanner and fetcher may be
// nil when the corresponding collaborator is not configured; the operations
// depending on them then fail cleanly.
func NewService(st *store.Store, scanner Scanner, fetcher DocumentFetcher, running func() bool) *Service {
	if running == nil {
		running = func() bool { return false }
	}
	return &Service{store: st, scanner: scanner, fetcher: fetcher, running: running}
}

// Health reports pipeline-wide record counts.
func (s *Service) Health(ctx context.Context) (HealthView, error) {
	health, err := s.store.Health(ctx)
	if err != nil {
		return HealthView{}, err
	}
	return HealthView{
		Running:      s.running(),
		DatabasePath: s.store.Path(),
		Total:        health.Total,
		Registered:   health.Registered,
		Downloaded:   health.Downloaded,
		OCRProcessed: health.OCRProcessed,
		Uploaded:     health.Uploaded,
	}, nil
}

// ListPublications returns all configured publications.
func (s *Service) ListPublications(ctx context.Context) ([]PublicationView, error) {
	pubs, err := s.store.ListPublications(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]PublicationView, 0, len(pubs))
	for _, pub := range pubs {
		views = append(views, publicationView(pub))
	}
	return views, nil
}

// GetPublication returns one publication by name.
func (s *Service) GetPublication(ctx context.Context, name string) (PublicationView, error) {
	pub, err := s.store.GetPublication(ctx, name)
	if err != nil {
		return PublicationView{}, err
	}
	if pub == nil {
		return PublicationView{}, fmt.Errorf("%w: publication %s", ErrNotFound, name)
	}
	return publicationView(pub), nil
}

// CreatePublication registers a new publication.
func (s *Service) CreatePublication(ctx context.Context, view PublicationView) (PublicationView, error) {
	if err := validatePublication(view); err != nil {
		return PublicationView{}, err
	}
	created, err := s.store.CreatePublication(ctx, &store.Publication{
		Name:        view.Name,
		IssueID:     view.IssueID,
		MaxScale:    view.MaxScale,
		Language:    view.Language,
		Enabled:     view.Enabled,
		DisplayName: view.DisplayName,
	})
	if err != nil {
		return PublicationView{}, err
	}
	return publicationView(created), nil
}

// UpdatePublication modifies an existing publication. last_finished is owned
// by the delivery loop and is not writable here.
func (s *Service) UpdatePublication(ctx context.Context, name string, view PublicationView) (PublicationView, error) {
	existing, err := s.store.GetPublication(ctx, name)
	if err != nil {
		return PublicationView{}, err
	}
	if existing == nil {
		return PublicationView{}, fmt.Errorf("%w: publication %s", ErrNotFound, name)
	}

	view.Name = name
	if err := validatePublication(view); err != nil {
		return PublicationView{}, err
	}

	existing.IssueID = view.IssueID
	existing.MaxScale = view.MaxScale
	existing.Language = view.Language
	existing.Enabled = view.Enabled
	existing.DisplayName = view.DisplayName
	if err := s.store.UpdatePublication(ctx, existing); err != nil {
		return PublicationView{}, err
	}
	return publicationView(existing), nil
}

// DeletePublication removes a publication by name.
func (s *Service) DeletePublication(ctx context.Context, name string) error {
	deleted, err := s.store.DeletePublication(ctx, name)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("%w: publication %s", ErrNotFound, name)
	}
	return nil
}

// ListWorkflows returns one page of workflow records, newest first.
func (s *Service) ListWorkflows(ctx context.Context, search string, limit, offset int) (WorkflowPage, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	records, err := s.store.ListWorkflows(ctx, search, limit, offset)
	if err != nil {
		return WorkflowPage{}, err
	}
	total, err := s.store.CountWorkflows(ctx, search)
	if err != nil {
		return WorkflowPage{}, err
	}

	page := WorkflowPage{Records: make([]WorkflowView, 0, len(records)), Total: total, Limit: limit, Offset: offset}
	for _, record := range records {
		page.Records = append(page.Records, workflowView(record))
	}
	return page, nil
}

// RegisterIssue creates a workflow record by hand, bypassing discovery. Used
// to re-queue a specific back issue.
func (s *Service) RegisterIssue(ctx context.Context, publicationName, issueDate string) (WorkflowView, bool, error) {
	publicationName = strings.TrimSpace(publicationName)
	if publicationName == "" {
		return WorkflowView{}, false, fmt.Errorf("%w: publication name required", ErrInvalid)
	}
	if !validIssueDate(issueDate) {
		return WorkflowView{}, false, fmt.Errorf("%w: issue date must be YYYYMMDD", ErrInvalid)
	}
	pub, err := s.store.GetPublication(ctx, publicationName)
	if err != nil {
		return WorkflowView{}, false, err
	}
	if pub == nil {
		return WorkflowView{}, false, fmt.Errorf("%w: publication %s", ErrNotFound, publicationName)
	}

	record, created, err := s.store.GetOrCreateWorkflow(ctx, publicationName, issueDate)
	if err != nil {
		return WorkflowView{}, false, err
	}
	return workflowView(record), created, nil
}

// TriggerScan runs the discovery scan immediately.
func (s *Service) TriggerScan(ctx context.Context) (ScanResult, error) {
	if s.scanner == nil {
		return ScanResult{}, errors.New("scanner not configured")
	}
	created, err := s.scanner.FindNewIssues(ctx)
	if err != nil {
		return ScanResult{}, err
	}
	result := ScanResult{Created: make([]WorkflowView, 0, len(created))}
	for _, record := range created {
		result.Created = append(result.Created, workflowView(record))
	}
	return result, nil
}

// FetchDeliveredDocument re-downloads a delivered issue from the channel.
func (s *Service) FetchDeliveredDocument(ctx context.Context, publicationName, issueDate string) ([]byte, string, error) {
	if s.fetcher == nil {
		return nil, "", errors.New("delivery channel not configured")
	}
	record, err := s.store.GetWorkflow(ctx, publicationName, issueDate)
	if err != nil {
		return nil, "", err
	}
	if record == nil {
		return nil, "", fmt.Errorf("%w: no record for %s/%s", ErrNotFound, publicationName, issueDate)
	}
	if !record.Uploaded {
		return nil, "", fmt.Errorf("%w: issue %s/%s not delivered yet", ErrInvalid, publicationName, issueDate)
	}

	data, err := s.fetcher.FetchByMessage(ctx, record.ChannelID, record.MessageID, record.FileID)
	if err != nil {
		return nil, "", err
	}
	return data, publicationName + "_" + issueDate + ".pdf", nil
}

func publicationView(pub *store.Publication) PublicationView {
	return PublicationView{
		Name:         pub.Name,
		IssueID:      pub.IssueID,
		MaxScale:     pub.MaxScale,
		Language:     pub.Language,
		Enabled:      pub.Enabled,
		DisplayName:  pub.DisplayName,
		LastFinished: pub.LastFinished,
	}
}

func workflowView(record *store.WorkflowRecord) WorkflowView {
	return WorkflowView{
		ID:              record.ID,
		PublicationName: record.PublicationName,
		IssueDate:       record.IssueDate,
		Stage:           record.Stage(),
		Downloaded:      record.Downloaded,
		OCRProcessed:    record.OCRProcessed,
		Uploaded:        record.Uploaded,
		ChannelID:       record.ChannelID,
		MessageID:       record.MessageID,
		CreatedAt:       record.CreatedAt,
		UpdatedAt:       record.UpdatedAt,
	}
}

func validatePublication(view PublicationView) error {
	if strings.TrimSpace(view.Name) == "" {
		return fmt.Errorf("%w: name required", ErrInvalid)
	}
	if strings.TrimSpace(view.IssueID) == "" {
		return fmt.Errorf("%w: issue_id required", ErrInvalid)
	}
	if view.MaxScale <= 0 {
		return fmt.Errorf("%w: max_scale must be positive", ErrInvalid)
	}
	return nil
}

func validIssueDate(date string) bool {
	if len(date) != 8 {
		return false
	}
	for _, r := range date {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
