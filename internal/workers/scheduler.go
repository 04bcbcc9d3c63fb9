package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"edicola/internal/config"
	"edicola/internal/logging"
	"edicola/internal/pressreader"
	"edicola/internal/store"
)

// IssueSource provides issue metadata and page manifests for publications.
// Satisfied by *pressreader.Client.
type IssueSource interface {
	LatestIssueDate(ctx context.Context, issueID string) (string, error)
	PageManifest(ctx context.Context, issueID, issueDate string) ([]pressreader.Page, error)
}

// Scheduler discovers newly available issues once per day and registers them
// for processing. The same scan is exposed on demand for the admin surface.
type Scheduler struct {
	store         *store.Store
	source        IssueSource
	logger        *slog.Logger
	schedulerTime string
	thresholdDate string

	now func() time.Time
}

// NewScheduler builds the discovery worker.
func NewScheduler(cfg *config.Config, st *store.Store, source IssueSource, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{
		store:         st,
		source:        source,
		logger:        logging.WithComponent(logger, "scheduler"),
		schedulerTime: cfg.Workflow.SchedulerTime,
		thresholdDate: cfg.Workflow.ThresholdDate,
		now:           time.Now,
	}
}

// Name implements Worker.
func (s *Scheduler) Name() string { return "scheduler" }

// Run fires the daily scan at the configured time until cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	spec, err := cronSpec(s.schedulerTime)
	if err != nil {
		s.logger.Error("invalid scheduler time", logging.Error(err))
		return
	}

	runner := cron.New()
	if _, err := runner.AddFunc(spec, func() {
		if _, err := s.FindNewIssues(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduled scan failed", logging.Error(err))
		}
	}); err != nil {
		s.logger.Error("register scheduled scan", logging.Error(err))
		return
	}

	runner.Start()
	<-ctx.Done()
	stopCtx := runner.Stop()
	<-stopCtx.Done()
}

// FindNewIssues queries the upstream for each eligible publication and
// registers any newly available issue. Registration is get-or-create, so
// repeated scans against an unchanged upstream create nothing new. Returns
// the records created by this scan.
func (s *Scheduler) FindNewIssues(ctx context.Context) ([]*store.WorkflowRecord, error) {
	scanID := uuid.NewString()
	logger := s.logger.With(logging.String(logging.FieldScanID, scanID))

	today := s.now().Format("20060102")
	publications, err := s.store.ListEnabledPublicationsNotFinishedOn(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("list eligible publications: %w", err)
	}

	var created []*store.WorkflowRecord
	for _, pub := range publications {
		if ctx.Err() != nil {
			return created, ctx.Err()
		}

		issueDate, err := s.source.LatestIssueDate(ctx, pub.IssueID)
		if err != nil {
			logger.Error("issue info unavailable",
				logging.String("publication", pub.Name),
				logging.Error(err))
			continue
		}
		if issueDate < s.thresholdDate {
			logger.Debug("latest issue predates threshold",
				logging.String("publication", pub.Name),
				logging.String("issue_date", issueDate))
			continue
		}

		record, isNew, err := s.store.GetOrCreateWorkflow(ctx, pub.Name, issueDate)
		if err != nil {
			logger.Error("register issue",
				logging.String("publication", pub.Name),
				logging.Error(err))
			continue
		}
		if isNew {
			logger.Info("issue registered",
				logging.String("publication", pub.Name),
				logging.String("issue_date", issueDate))
			created = append(created, record)
		}
	}
	return created, nil
}

// cronSpec converts an HH:MM time-of-day into a daily cron expression.
func cronSpec(timeOfDay string) (string, error) {
	parsed, err := time.Parse("15:04", timeOfDay)
	if err != nil {
		return "", fmt.Errorf("scheduler time %q is not HH:MM", timeOfDay)
	}
	return fmt.Sprintf("%d %d * * *", parsed.Minute(), parsed.Hour()), nil
}
