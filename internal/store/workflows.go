package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const workflowColumns = "id, publication_name, issue_date, downloaded, ocr_processed, uploaded, channel_id, message_id, file_id, created_at, updated_at"

// GetOrCreateWorkflow registers an issue for processing. Re-discovering an
// already-registered issue returns the existing record with its flags intact.
// The boolean reports whether a new record was created.
func (s *Store) GetOrCreateWorkflow(ctx context.Context, publicationName, issueDate string) (*WorkflowRecord, bool, error) {
	existing, err := s.GetWorkflow(ctx, publicationName, issueDate)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	now := timestamp(time.Now())
	_, err = s.execWithRetry(
		ctx,
		`INSERT INTO workflows (publication_name, issue_date, created_at, updated_at)
         VALUES (?, ?, ?, ?)`,
		publicationName,
		issueDate,
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// Concurrent registration of the same issue; the unique index
			// guarantees a single pipeline either way.
			existing, getErr := s.GetWorkflow(ctx, publicationName, issueDate)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("insert workflow: %w", err)
	}

	record, err := s.GetWorkflow(ctx, publicationName, issueDate)
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

// GetWorkflow fetches a workflow record by its composite identity.
func (s *Store) GetWorkflow(ctx context.Context, publicationName, issueDate string) (*WorkflowRecord, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE publication_name = ? AND issue_date = ?`,
		publicationName,
		issueDate,
	)
	record, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return record, nil
}

// ListUndownloaded returns records still awaiting download, oldest first.
func (s *Store) ListUndownloaded(ctx context.Context) ([]*WorkflowRecord, error) {
	return s.listWhere(ctx, `downloaded = 0`)
}

// MarkDownloaded advances a record past the download stage. A no-op when the
// record is already downloaded or has been deleted; the boolean reports
// whether the transition applied.
func (s *Store) MarkDownloaded(ctx context.Context, publicationName, issueDate string) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE workflows SET downloaded = 1, updated_at = ?
         WHERE publication_name = ? AND issue_date = ? AND downloaded = 0`,
		timestamp(time.Now()),
		publicationName,
		issueDate,
	)
	if err != nil {
		return false, fmt.Errorf("mark downloaded: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkOCRProcessed advances a record past the OCR stage. The precondition
// (downloaded) is enforced in the WHERE clause so a record whose download has
// not completed is skipped, never corrupted.
func (s *Store) MarkOCRProcessed(ctx context.Context, publicationName, issueDate string) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE workflows SET ocr_processed = 1, updated_at = ?
         WHERE publication_name = ? AND issue_date = ? AND downloaded = 1 AND ocr_processed = 0`,
		timestamp(time.Now()),
		publicationName,
		issueDate,
	)
	if err != nil {
		return false, fmt.Errorf("mark ocr processed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkUploaded advances a record to its terminal stage and records the
// delivery identifiers. Requires ocr_processed.
func (s *Store) MarkUploaded(ctx context.Context, publicationName, issueDate string, channelID, messageID int64, fileID string) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE workflows SET uploaded = 1, channel_id = ?, message_id = ?, file_id = ?, updated_at = ?
         WHERE publication_name = ? AND issue_date = ? AND ocr_processed = 1 AND uploaded = 0`,
		nullableInt64(channelID),
		nullableInt64(messageID),
		nullableString(fileID),
		timestamp(time.Now()),
		publicationName,
		issueDate,
	)
	if err != nil {
		return false, fmt.Errorf("mark uploaded: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// DeleteWorkflow removes a record. Used only when the upstream reports the
// issue does not exist, so the scheduler can rediscover a corrected one.
func (s *Store) DeleteWorkflow(ctx context.Context, publicationName, issueDate string) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM workflows WHERE publication_name = ? AND issue_date = ?`,
		publicationName,
		issueDate,
	)
	if err != nil {
		return false, fmt.Errorf("delete workflow: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListWorkflows returns records newest-first with offset pagination and an
// optional publication-name filter for the admin surface.
func (s *Store) ListWorkflows(ctx context.Context, search string, limit, offset int) ([]*WorkflowRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + workflowColumns + ` FROM workflows`
	args := []any{}
	if search != "" {
		query += ` WHERE publication_name LIKE ?`
		args = append(args, "%"+search+"%")
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var records []*WorkflowRecord
	for rows.Next() {
		record, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// CountWorkflows returns the total number of records matching the filter.
func (s *Store) CountWorkflows(ctx context.Context, search string) (int, error) {
	query := `SELECT COUNT(1) FROM workflows`
	args := []any{}
	if search != "" {
		query += ` WHERE publication_name LIKE ?`
		args = append(args, "%"+search+"%")
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count workflows: %w", err)
	}
	return count, nil
}

// Health aggregates workflow state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT downloaded, ocr_processed, uploaded, COUNT(1)
        FROM workflows GROUP BY downloaded, ocr_processed, uploaded`)
	if err != nil {
		return HealthSummary{}, fmt.Errorf("workflow health: %w", err)
	}
	defer rows.Close()

	health := HealthSummary{}
	for rows.Next() {
		var downloaded, ocrProcessed, uploaded, count int
		if err := rows.Scan(&downloaded, &ocrProcessed, &uploaded, &count); err != nil {
			return HealthSummary{}, err
		}
		health.Total += count
		switch {
		case uploaded != 0:
			health.Uploaded += count
		case ocrProcessed != 0:
			health.OCRProcessed += count
		case downloaded != 0:
			health.Downloaded += count
		default:
			health.Registered += count
		}
	}
	return health, rows.Err()
}

func (s *Store) listWhere(ctx context.Context, where string, args ...any) ([]*WorkflowRecord, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE ` + where + ` ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query workflows: %w", err)
	}
	defer rows.Close()

	var records []*WorkflowRecord
	for rows.Next() {
		record, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func scanWorkflow(scanner interface{ Scan(dest ...any) error }) (*WorkflowRecord, error) {
	var (
		id              int64
		publicationName string
		issueDate       string
		downloaded      sql.NullInt64
		ocrProcessed    sql.NullInt64
		uploaded        sql.NullInt64
		channelID       sql.NullInt64
		messageID       sql.NullInt64
		fileID          sql.NullString
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&publicationName,
		&issueDate,
		&downloaded,
		&ocrProcessed,
		&uploaded,
		&channelID,
		&messageID,
		&fileID,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	record := &WorkflowRecord{
		ID:              id,
		PublicationName: publicationName,
		IssueDate:       issueDate,
		Downloaded:      downloaded.Valid && downloaded.Int64 != 0,
		OCRProcessed:    ocrProcessed.Valid && ocrProcessed.Int64 != 0,
		Uploaded:        uploaded.Valid && uploaded.Int64 != 0,
		ChannelID:       channelID.Int64,
		MessageID:       messageID.Int64,
		FileID:          fileID.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		record.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		record.UpdatedAt = updated
	}
	return record, nil
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
