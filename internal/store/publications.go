package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrPublicationExists is returned when creating a publication whose name is taken.
var ErrPublicationExists = errors.New("publication already exists")

const publicationColumns = "id, name, issue_id, max_scale, language, enabled, display_name, last_finished, created_at"

// CreatePublication inserts a new publication.
func (s *Store) CreatePublication(ctx context.Context, pub *Publication) (*Publication, error) {
	if pub == nil {
		return nil, errors.New("publication is nil")
	}
	now := timestamp(time.Now())
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO publications (name, issue_id, max_scale, language, enabled, display_name, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pub.Name,
		pub.IssueID,
		pub.MaxScale,
		pub.Language,
		boolToInt(pub.Enabled),
		nullableString(pub.DisplayName),
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrPublicationExists, pub.Name)
		}
		return nil, fmt.Errorf("insert publication: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetPublicationByID(ctx, id)
}

// GetOrCreatePublication inserts a publication unless one with the same name
// exists, in which case the existing row is returned untouched. Used by the
// seed-file importer so restarts never reset operator edits.
func (s *Store) GetOrCreatePublication(ctx context.Context, pub *Publication) (*Publication, bool, error) {
	existing, err := s.GetPublication(ctx, pub.Name)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}
	created, err := s.CreatePublication(ctx, pub)
	if err != nil {
		if errors.Is(err, ErrPublicationExists) {
			// Lost a race with a concurrent insert; fetch the winner.
			existing, getErr := s.GetPublication(ctx, pub.Name)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	return created, true, nil
}

// GetPublicationByID fetches a publication by its row id.
func (s *Store) GetPublicationByID(ctx context.Context, id int64) (*Publication, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+publicationColumns+` FROM publications WHERE id = ?`, id)
	pub, err := scanPublication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get publication by id: %w", err)
	}
	return pub, nil
}

// GetPublication fetches a publication by its unique name.
func (s *Store) GetPublication(ctx context.Context, name string) (*Publication, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+publicationColumns+` FROM publications WHERE name = ?`, name)
	pub, err := scanPublication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get publication: %w", err)
	}
	return pub, nil
}

// ListPublications returns all publications ordered by name.
func (s *Store) ListPublications(ctx context.Context) ([]*Publication, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+publicationColumns+` FROM publications ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list publications: %w", err)
	}
	defer rows.Close()

	var pubs []*Publication
	for rows.Next() {
		pub, err := scanPublication(rows)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, pub)
	}
	return pubs, rows.Err()
}

// ListPublicationsByName resolves a set of names to publications in one query.
func (s *Store) ListPublicationsByName(ctx context.Context, names []string) (map[string]*Publication, error) {
	result := make(map[string]*Publication, len(names))
	if len(names) == 0 {
		return result, nil
	}
	args := make([]any, len(names))
	for i, name := range names {
		args[i] = name
	}
	query := `SELECT ` + publicationColumns + ` FROM publications WHERE name IN (` + makePlaceholders(len(names)) + `)`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list publications by name: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		pub, err := scanPublication(rows)
		if err != nil {
			return nil, err
		}
		result[pub.Name] = pub
	}
	return result, rows.Err()
}

// ListEnabledPublicationsNotFinishedOn returns enabled publications whose
// last_finished is not the given date. The scheduler uses it to skip
// publications already fully delivered for the day.
func (s *Store) ListEnabledPublicationsNotFinishedOn(ctx context.Context, date string) ([]*Publication, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+publicationColumns+` FROM publications
         WHERE enabled = 1 AND (last_finished IS NULL OR last_finished != ?)
         ORDER BY name`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("list eligible publications: %w", err)
	}
	defer rows.Close()

	var pubs []*Publication
	for rows.Next() {
		pub, err := scanPublication(rows)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, pub)
	}
	return pubs, rows.Err()
}

// UpdatePublication persists changes to an existing publication.
func (s *Store) UpdatePublication(ctx context.Context, pub *Publication) error {
	if pub == nil {
		return errors.New("publication is nil")
	}
	_, err := s.execWithRetry(
		ctx,
		`UPDATE publications
         SET issue_id = ?, max_scale = ?, language = ?, enabled = ?, display_name = ?, last_finished = ?
         WHERE name = ?`,
		pub.IssueID,
		pub.MaxScale,
		pub.Language,
		boolToInt(pub.Enabled),
		nullableString(pub.DisplayName),
		nullableString(pub.LastFinished),
		pub.Name,
	)
	if err != nil {
		return fmt.Errorf("update publication: %w", err)
	}
	return nil
}

// SetLastFinished records the date of the most recently delivered issue.
// Set only by the delivery loop on success.
func (s *Store) SetLastFinished(ctx context.Context, name, date string) error {
	_, err := s.execWithRetry(
		ctx,
		`UPDATE publications SET last_finished = ? WHERE name = ?`,
		date,
		name,
	)
	if err != nil {
		return fmt.Errorf("set last finished: %w", err)
	}
	return nil
}

// DeletePublication removes a publication by name.
func (s *Store) DeletePublication(ctx context.Context, name string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM publications WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete publication: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func scanPublication(scanner interface{ Scan(dest ...any) error }) (*Publication, error) {
	var (
		id           int64
		name         string
		issueID      string
		maxScale     int
		language     string
		enabled      sql.NullInt64
		displayName  sql.NullString
		lastFinished sql.NullString
		createdRaw   sql.NullString
	)

	if err := scanner.Scan(&id, &name, &issueID, &maxScale, &language, &enabled, &displayName, &lastFinished, &createdRaw); err != nil {
		return nil, err
	}

	pub := &Publication{
		ID:           id,
		Name:         name,
		IssueID:      issueID,
		MaxScale:     maxScale,
		Language:     language,
		Enabled:      enabled.Valid && enabled.Int64 != 0,
		DisplayName:  displayName.String,
		LastFinished: lastFinished.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		pub.CreatedAt = created
	}
	return pub, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed")
}
