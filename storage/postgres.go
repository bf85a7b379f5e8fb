package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rentwatch/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS listings (
		site_id TEXT NOT NULL,
		url TEXT NOT NULL,
		position BIGINT NOT NULL,
		title TEXT,
		rent_price TEXT,
		living_area DOUBLE PRECISION,
		agency_name TEXT,
		agency_email TEXT,
		agency_address TEXT,
		form_link TEXT,
		fields JSONB,
		fingerprint TEXT,
		scraped_at TIMESTAMPTZ,
		first_seen_at TIMESTAMPTZ,
		last_seen_at TIMESTAMPTZ,
		PRIMARY KEY (site_id, url)
	);

	CREATE TABLE IF NOT EXISTS pipeline_runs (
		id UUID PRIMARY KEY,
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		status TEXT,
		debug BOOLEAN,
		sites JSONB,
		notify_failures INTEGER DEFAULT 0,
		applications_attempted INTEGER DEFAULT 0,
		applications_done INTEGER DEFAULT 0,
		applications_failed INTEGER DEFAULT 0,
		applications_skipped INTEGER DEFAULT 0,
		login_error TEXT
	);

	CREATE TABLE IF NOT EXISTS run_logs (
		id BIGSERIAL PRIMARY KEY,
		run_id UUID,
		timestamp TIMESTAMPTZ,
		level TEXT,
		message TEXT,
		site_id TEXT
	);

	CREATE TABLE IF NOT EXISTS application_attempts (
		id BIGSERIAL PRIMARY KEY,
		run_id UUID,
		site_id TEXT,
		url TEXT,
		state TEXT,
		failed_field TEXT,
		error TEXT,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_listings_position ON listings(site_id, position);
	CREATE INDEX IF NOT EXISTS idx_logs_run ON run_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_attempts_url ON application_attempts(site_id, url);
	`)
	return err
}

func (s *PostgresStore) KnownURLs(ctx context.Context, siteID string) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT url FROM listings WHERE site_id = $1`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	known := make(map[string]struct{})
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		known[url] = struct{}{}
	}
	return known, rows.Err()
}

const pgListingColumns = `site_id, url, COALESCE(title, ''), COALESCE(rent_price, ''), living_area,
	COALESCE(agency_name, ''), COALESCE(agency_email, ''), COALESCE(agency_address, ''),
	COALESCE(form_link, ''), fields, scraped_at`

func scanPgListing(row pgx.Row) (*models.ListingRecord, error) {
	var r models.ListingRecord
	var fields []byte
	var scrapedAt *time.Time
	err := row.Scan(&r.SiteID, &r.URL, &r.Title, &r.RentPrice, &r.LivingArea,
		&r.AgencyName, &r.AgencyEmail, &r.AgencyAddress, &r.FormLink, &fields, &scrapedAt)
	if err != nil {
		return nil, err
	}
	if scrapedAt != nil {
		r.ScrapedAt = *scrapedAt
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &r.Fields); err != nil {
			return nil, fmt.Errorf("decode fields of %s: %w", r.URL, err)
		}
	}
	return &r, nil
}

func (s *PostgresStore) LoadRecords(ctx context.Context, siteID string) ([]models.ListingRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgListingColumns+` FROM listings WHERE site_id = $1 ORDER BY position`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.ListingRecord
	for rows.Next() {
		r, err := scanPgListing(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

func (s *PostgresStore) GetRecord(ctx context.Context, siteID, url string) (*models.ListingRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgListingColumns+` FROM listings WHERE site_id = $1 AND url = $2`, siteID, url)
	r, err := scanPgListing(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *PostgresStore) LatestRecord(ctx context.Context, siteID string) (*models.ListingRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgListingColumns+` FROM listings WHERE site_id = $1 ORDER BY position DESC LIMIT 1`, siteID)
	r, err := scanPgListing(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// SaveBatch upserts batch in one transaction with a single round trip for
// the writes.
func (s *PostgresStore) SaveBatch(ctx context.Context, siteID string, batch []models.ListingRecord) (BatchResult, error) {
	if len(prepareBatch(siteID, batch)) == 0 {
		return BatchResult{}, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return BatchResult{}, err
	}
	defer tx.Rollback(ctx)

	existing := make(map[string]string)
	rows, err := tx.Query(ctx, `SELECT url, COALESCE(fingerprint, '') FROM listings WHERE site_id = $1 FOR UPDATE`, siteID)
	if err != nil {
		return BatchResult{}, err
	}
	for rows.Next() {
		var url, fp string
		if err := rows.Scan(&url, &fp); err != nil {
			rows.Close()
			return BatchResult{}, err
		}
		existing[url] = fp
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return BatchResult{}, err
	}

	var next int64
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(position), -1) + 1 FROM listings WHERE site_id = $1`, siteID).Scan(&next); err != nil {
		return BatchResult{}, err
	}

	ops, res, err := planBatch(siteID, batch, existing, next)
	if err != nil {
		return BatchResult{}, err
	}

	b := queueBatch(siteID, ops, time.Now())
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return BatchResult{}, fmt.Errorf("save batch: %w", err)
	}
	return res, tx.Commit(ctx)
}

// queueBatch turns planned writes into one pgx batch, in plan order.
func queueBatch(siteID string, ops []batchOp, now time.Time) *pgx.Batch {
	b := &pgx.Batch{}
	for _, op := range ops {
		r := op.record
		switch op.kind {
		case opInsert:
			b.Queue(`
				INSERT INTO listings (site_id, url, position, title, rent_price, living_area, agency_name,
					agency_email, agency_address, form_link, fields, fingerprint, scraped_at, first_seen_at, last_seen_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)`,
				siteID, r.URL, op.position, r.Title, r.RentPrice, r.LivingArea, r.AgencyName,
				r.AgencyEmail, r.AgencyAddress, r.FormLink, op.fields, op.fingerprint, r.ScrapedAt, now)
		case opUpdate:
			b.Queue(`
				UPDATE listings SET title = $3, rent_price = $4, living_area = $5, agency_name = $6,
					agency_email = $7, agency_address = $8, form_link = $9, fields = $10, fingerprint = $11,
					scraped_at = $12, last_seen_at = $13
				WHERE site_id = $1 AND url = $2`,
				siteID, r.URL, r.Title, r.RentPrice, r.LivingArea, r.AgencyName,
				r.AgencyEmail, r.AgencyAddress, r.FormLink, op.fields, op.fingerprint, r.ScrapedAt, now)
		default:
			b.Queue(`UPDATE listings SET last_seen_at = $3 WHERE site_id = $1 AND url = $2`, siteID, r.URL, now)
		}
	}
	return b
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.PipelineRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pipeline_runs (id, started_at, status, debug)
		VALUES ($1, $2, $3, $4)`,
		run.ID, run.StartedAt, run.Status, run.Debug)
	return err
}

func (s *PostgresStore) FinishRun(ctx context.Context, run *models.PipelineRun) error {
	sites, err := json.Marshal(run.Sites)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE pipeline_runs SET finished_at = $2, status = $3, sites = $4, notify_failures = $5,
			applications_attempted = $6, applications_done = $7, applications_failed = $8,
			applications_skipped = $9, login_error = $10
		WHERE id = $1`,
		run.ID, run.FinishedAt, run.Status, sites, run.NotifyFailures,
		run.ApplicationsAttempted, run.ApplicationsDone, run.ApplicationsFailed,
		run.ApplicationsSkipped, run.LoginError)
	return err
}

func (s *PostgresStore) Log(ctx context.Context, runID uuid.UUID, level models.LogLevel, message, siteID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO run_logs (run_id, timestamp, level, message, site_id)
		VALUES ($1, NOW(), $2, $3, $4)`,
		runID, level, message, siteID)
	return err
}

func (s *PostgresStore) SaveAttempts(ctx context.Context, attempts []models.ApplicationAttempt) error {
	if len(attempts) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, a := range attempts {
		b.Queue(`
			INSERT INTO application_attempts (run_id, site_id, url, state, failed_field, error, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			a.RunID, a.SiteID, a.URL, a.State, a.FailedField, a.Error, a.CreatedAt)
	}
	return s.pool.SendBatch(ctx, b).Close()
}
