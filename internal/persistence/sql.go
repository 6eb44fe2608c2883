package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/poppopjmp/spiderfoot-sub008/internal/errors"
)

// schemaDDL matches spec.md §6's reports table exactly: id, scan_id, title,
// status, type, progress, message, executive_summary, recommendations JSON,
// sections JSON, metadata JSON, generation_time_ms, token_count, created_at,
// updated_at, with indices on scan_id, status, created_at.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS reports (
	id                 TEXT PRIMARY KEY,
	scan_id            TEXT NOT NULL,
	title              TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT '',
	type               TEXT NOT NULL DEFAULT '',
	progress           INTEGER NOT NULL DEFAULT 0,
	message            TEXT NOT NULL DEFAULT '',
	executive_summary  TEXT NOT NULL DEFAULT '',
	recommendations    JSONB NOT NULL DEFAULT '[]',
	sections           JSONB NOT NULL DEFAULT '{}',
	metadata           JSONB NOT NULL DEFAULT '{}',
	generation_time_ms BIGINT NOT NULL DEFAULT 0,
	token_count        INTEGER NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_scan_id ON reports (scan_id);
CREATE INDEX IF NOT EXISTS idx_reports_status ON reports (status);
CREATE INDEX IF NOT EXISTS idx_reports_created_at ON reports (created_at);
`

// SQLStore is the Postgres-backed Store. The caller supplies an already
// connected *sqlx.DB; SQLStore never owns connection lifecycle.
type SQLStore struct {
	db *sqlx.DB
}

// reportRow is the wire shape of a reports row, matching the JSON column
// encoding used for nested fields.
type reportRow struct {
	ID                string    `db:"id"`
	ScanID            string    `db:"scan_id"`
	Title             string    `db:"title"`
	Status            string    `db:"status"`
	Type              string    `db:"type"`
	Progress          int       `db:"progress"`
	Message           string    `db:"message"`
	ExecutiveSummary  string    `db:"executive_summary"`
	Recommendations   []byte    `db:"recommendations"`
	Sections          []byte    `db:"sections"`
	Metadata          []byte    `db:"metadata"`
	GenerationTimeMS  int64     `db:"generation_time_ms"`
	TokenCount        int       `db:"token_count"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

// NewSQLStore wraps db and ensures the reports table/indices exist.
func NewSQLStore(db *sqlx.DB) (*SQLStore, error) {
	if _, err := db.Exec(schemaDDL); err != nil {
		return nil, fmt.Errorf("apply reports schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func toRow(r *Report) (*reportRow, error) {
	recommendations, err := json.Marshal(r.Recommendations)
	if err != nil {
		return nil, err
	}
	sections, err := json.Marshal(r.Sections)
	if err != nil {
		return nil, err
	}
	metadata, err := json.Marshal(r.Metadata)
	if err != nil {
		return nil, err
	}
	return &reportRow{
		ID:               r.ID,
		ScanID:           r.ScanID,
		Title:            r.Title,
		Status:           r.Status,
		Type:             r.Type,
		Progress:         r.Progress,
		Message:          r.Message,
		ExecutiveSummary: r.ExecutiveSummary,
		Recommendations:  recommendations,
		Sections:         sections,
		Metadata:         metadata,
		GenerationTimeMS: r.GenerationTimeMS,
		TokenCount:       r.TokenCount,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}, nil
}

func fromRow(row *reportRow) (*Report, error) {
	var recommendations []string
	if len(row.Recommendations) > 0 {
		if err := json.Unmarshal(row.Recommendations, &recommendations); err != nil {
			return nil, err
		}
	}
	var sections map[string]interface{}
	if len(row.Sections) > 0 {
		if err := json.Unmarshal(row.Sections, &sections); err != nil {
			return nil, err
		}
	}
	var metadata map[string]interface{}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
			return nil, err
		}
	}
	return &Report{
		ID:               row.ID,
		ScanID:           row.ScanID,
		Title:            row.Title,
		Status:           row.Status,
		Type:             row.Type,
		Progress:         row.Progress,
		Message:          row.Message,
		ExecutiveSummary: row.ExecutiveSummary,
		Recommendations:  recommendations,
		Sections:         sections,
		Metadata:         metadata,
		GenerationTimeMS: row.GenerationTimeMS,
		TokenCount:       row.TokenCount,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}, nil
}

// Save upserts report, stamping UpdatedAt and preserving CreatedAt across
// updates.
func (s *SQLStore) Save(report *Report) error {
	now := time.Now().UTC()
	if report.CreatedAt.IsZero() {
		var existing time.Time
		err := s.db.Get(&existing, `SELECT created_at FROM reports WHERE id = $1`, report.ID)
		if err == nil {
			report.CreatedAt = existing
		} else {
			report.CreatedAt = now
		}
	}
	report.UpdatedAt = now

	row, err := toRow(report)
	if err != nil {
		return err
	}

	_, err = s.db.NamedExec(`
		INSERT INTO reports (
			id, scan_id, title, status, type, progress, message, executive_summary,
			recommendations, sections, metadata, generation_time_ms, token_count,
			created_at, updated_at
		) VALUES (
			:id, :scan_id, :title, :status, :type, :progress, :message, :executive_summary,
			:recommendations, :sections, :metadata, :generation_time_ms, :token_count,
			:created_at, :updated_at
		)
		ON CONFLICT (id) DO UPDATE SET
			scan_id = EXCLUDED.scan_id,
			title = EXCLUDED.title,
			status = EXCLUDED.status,
			type = EXCLUDED.type,
			progress = EXCLUDED.progress,
			message = EXCLUDED.message,
			executive_summary = EXCLUDED.executive_summary,
			recommendations = EXCLUDED.recommendations,
			sections = EXCLUDED.sections,
			metadata = EXCLUDED.metadata,
			generation_time_ms = EXCLUDED.generation_time_ms,
			token_count = EXCLUDED.token_count,
			updated_at = EXCLUDED.updated_at
	`, row)
	return err
}

// Get returns the report by id, or errors.NotFound.
func (s *SQLStore) Get(id string) (*Report, error) {
	var row reportRow
	err := s.db.Get(&row, `SELECT * FROM reports WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("report", id)
	}
	if err != nil {
		return nil, err
	}
	return fromRow(&row)
}

// Update requires the record to already exist, then delegates to Save.
func (s *SQLStore) Update(report *Report) error {
	if _, err := s.Get(report.ID); err != nil {
		return err
	}
	return s.Save(report)
}

// Delete removes the report by id.
func (s *SQLStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM reports WHERE id = $1`, id)
	return err
}

func buildWhere(f Filters) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	add := func(column, value string) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if f.ScanID != "" {
		add("scan_id", f.ScanID)
	}
	if f.Status != "" {
		add("status", f.Status)
	}
	if f.Type != "" {
		add("type", f.Type)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// List returns reports matching filters, sorted by creation time descending.
func (s *SQLStore) List(f Filters, limit, offset int) ([]*Report, error) {
	where, args := buildWhere(f)
	query := "SELECT * FROM reports" + where + " ORDER BY created_at DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var rows []reportRow
	if err := s.db.Select(&rows, query, args...); err != nil {
		return nil, err
	}

	reports := make([]*Report, 0, len(rows))
	for i := range rows {
		r, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// Count returns the number of reports matching filters.
func (s *SQLStore) Count(f Filters) (int, error) {
	where, args := buildWhere(f)
	var count int
	err := s.db.Get(&count, "SELECT COUNT(*) FROM reports"+where, args...)
	return count, err
}

// CleanupOld removes reports created more than maxAgeDays ago.
func (s *SQLStore) CleanupOld(maxAgeDays int) (int, error) {
	result, err := s.db.Exec(
		`DELETE FROM reports WHERE created_at < $1`,
		time.Now().AddDate(0, 0, -maxAgeDays),
	)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	return int(affected), err
}
