package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tjfontaine/threadsketch/internal/core/domain"
	"github.com/tjfontaine/threadsketch/internal/core/ports"
)

// Store is a SQLite implementation of RunStore
type Store struct {
	db *sql.DB
}

var _ ports.RunStore = (*Store)(nil)

// New creates a new SQLite store
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS pipeline_runs (
			id TEXT PRIMARY KEY,
			session TEXT NOT NULL,
			status TEXT NOT NULL,
			failed_stage TEXT,
			error_message TEXT,
			final_url TEXT,
			stages TEXT,
			duration_ns INTEGER,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS publish_runs (
			id TEXT PRIMARY KEY,
			session TEXT,
			status TEXT NOT NULL,
			product_id INTEGER,
			product_title TEXT,
			listing_source TEXT,
			artifact_source TEXT,
			theme_status TEXT,
			image_status TEXT,
			error_message TEXT,
			duration_ns INTEGER,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_session ON pipeline_runs(session)`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_created ON pipeline_runs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_publish_runs_session ON publish_runs(session)`,
		`CREATE INDEX IF NOT EXISTS idx_publish_runs_created ON publish_runs(created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) RecordPipelineRun(ctx context.Context, run *ports.PipelineRun) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	stages, err := json.Marshal(run.Stages)
	if err != nil {
		return fmt.Errorf("failed to marshal stages: %w", err)
	}

	query := `INSERT OR REPLACE INTO pipeline_runs
	          (id, session, status, failed_stage, error_message, final_url, stages, duration_ns, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		run.ID, run.Session, run.Status, run.FailedStage, run.Error, run.FinalURL,
		string(stages), int64(run.Duration), run.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record pipeline run: %w", err)
	}
	return nil
}

func (s *Store) RecordPublishRun(ctx context.Context, run *ports.PublishRun) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	query := `INSERT OR REPLACE INTO publish_runs
	          (id, session, status, product_id, product_title, listing_source, artifact_source,
	           theme_status, image_status, error_message, duration_ns, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.Session, run.Status, run.ProductID, run.ProductTitle,
		string(run.ListingSource), string(run.ArtifactSource),
		run.ThemeStatus, run.ImageStatus, run.Error, int64(run.Duration), run.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record publish run: %w", err)
	}
	return nil
}

func (s *Store) GetPipelineRun(ctx context.Context, id string) (*ports.PipelineRun, error) {
	query := `SELECT id, session, status, failed_stage, error_message, final_url, stages, duration_ns, created_at
	          FROM pipeline_runs WHERE id = ?`

	var run ports.PipelineRun
	var failedStage, errMsg, finalURL, stagesJSON sql.NullString
	var duration, created int64

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &run.Session, &run.Status, &failedStage, &errMsg, &finalURL,
		&stagesJSON, &duration, &created)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound(fmt.Sprintf("pipeline run %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pipeline run: %w", err)
	}

	run.FailedStage = failedStage.String
	run.Error = errMsg.String
	run.FinalURL = finalURL.String
	run.Duration = time.Duration(duration)
	run.CreatedAt = time.Unix(0, created)

	if stagesJSON.Valid && stagesJSON.String != "" {
		if err := json.Unmarshal([]byte(stagesJSON.String), &run.Stages); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stages: %w", err)
		}
	}

	return &run, nil
}

func (s *Store) GetPublishRun(ctx context.Context, id string) (*ports.PublishRun, error) {
	query := `SELECT id, session, status, product_id, product_title, listing_source, artifact_source,
	                 theme_status, image_status, error_message, duration_ns, created_at
	          FROM publish_runs WHERE id = ?`

	var run ports.PublishRun
	var session, title, listingSource, artifactSource, themeStatus, imageStatus, errMsg sql.NullString
	var productID sql.NullInt64
	var duration, created int64

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &session, &run.Status, &productID, &title, &listingSource, &artifactSource,
		&themeStatus, &imageStatus, &errMsg, &duration, &created)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound(fmt.Sprintf("publish run %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get publish run: %w", err)
	}

	run.Session = session.String
	run.ProductID = productID.Int64
	run.ProductTitle = title.String
	run.ListingSource = domain.ListingSource(listingSource.String)
	run.ArtifactSource = domain.ArtifactSource(artifactSource.String)
	run.ThemeStatus = themeStatus.String
	run.ImageStatus = imageStatus.String
	run.Error = errMsg.String
	run.Duration = time.Duration(duration)
	run.CreatedAt = time.Unix(0, created)

	return &run, nil
}

// ListRuns returns pipeline and publish runs newest first.
func (s *Store) ListRuns(ctx context.Context, opts ports.ListOptions) ([]*ports.RunSummary, error) {
	var parts []string
	var args []any

	if opts.Kind == "" || opts.Kind == ports.RunKindPipeline {
		q := `SELECT id, 'pipeline', session, status, COALESCE(NULLIF(failed_stage, ''), final_url, ''), created_at FROM pipeline_runs`
		if opts.Session != "" {
			q += ` WHERE session = ?`
			args = append(args, opts.Session)
		}
		parts = append(parts, q)
	}
	if opts.Kind == "" || opts.Kind == ports.RunKindPublish {
		q := `SELECT id, 'publish', COALESCE(session, ''), status, COALESCE(product_title, ''), created_at FROM publish_runs`
		if opts.Session != "" {
			q += ` WHERE session = ?`
			args = append(args, opts.Session)
		}
		parts = append(parts, q)
	}
	if len(parts) == 0 {
		return nil, domain.ErrValidation(fmt.Sprintf("unknown run kind %q", opts.Kind))
	}

	query := strings.Join(parts, " UNION ALL ") + ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var result []*ports.RunSummary
	for rows.Next() {
		var r ports.RunSummary
		var created int64
		if err := rows.Scan(&r.ID, &r.Kind, &r.Session, &r.Status, &r.Detail, &created); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.CreatedAt = time.Unix(0, created)
		result = append(result, &r)
	}

	return result, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
