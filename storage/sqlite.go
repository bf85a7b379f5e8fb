package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"rentwatch/models"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS listings (
		site_id TEXT NOT NULL,
		url TEXT NOT NULL,
		position INTEGER NOT NULL,
		title TEXT,
		rent_price TEXT,
		living_area REAL,
		agency_name TEXT,
		agency_email TEXT,
		agency_address TEXT,
		form_link TEXT,
		fields JSON,
		fingerprint TEXT,
		scraped_at DATETIME,
		first_seen_at DATETIME,
		last_seen_at DATETIME,
		PRIMARY KEY (site_id, url)
	);

	CREATE TABLE IF NOT EXISTS pipeline_runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		debug BOOLEAN,
		sites JSON,
		notify_failures INTEGER DEFAULT 0,
		applications_attempted INTEGER DEFAULT 0,
		applications_done INTEGER DEFAULT 0,
		applications_failed INTEGER DEFAULT 0,
		applications_skipped INTEGER DEFAULT 0,
		login_error TEXT
	);

	CREATE TABLE IF NOT EXISTS run_logs (
		id INTEGER PRIMARY KEY,
		run_id TEXT,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		site_id TEXT
	);

	CREATE TABLE IF NOT EXISTS application_attempts (
		id INTEGER PRIMARY KEY,
		run_id TEXT,
		site_id TEXT,
		url TEXT,
		state TEXT,
		failed_field TEXT,
		error TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_listings_position ON listings(site_id, position);
	CREATE INDEX IF NOT EXISTS idx_logs_run ON run_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON pipeline_runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_attempts_url ON application_attempts(site_id, url);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) KnownURLs(ctx context.Context, siteID string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url FROM listings WHERE site_id = ?`, siteID)
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

const listingColumns = `site_id, url, title, rent_price, living_area, agency_name, agency_email,
	agency_address, form_link, fields, scraped_at`

func (s *SQLiteStore) LoadRecords(ctx context.Context, siteID string) ([]models.ListingRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE site_id = ? ORDER BY position`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.ListingRecord
	for rows.Next() {
		r, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) GetRecord(ctx context.Context, siteID, url string) (*models.ListingRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE site_id = ? AND url = ?`, siteID, url)
	r, err := scanListing(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *SQLiteStore) LatestRecord(ctx context.Context, siteID string) (*models.ListingRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE site_id = ? ORDER BY position DESC LIMIT 1`, siteID)
	r, err := scanListing(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanListing(row scanner) (*models.ListingRecord, error) {
	var r models.ListingRecord
	var area sql.NullFloat64
	var fields sql.NullString
	var title, price, agencyName, agencyEmail, agencyAddress, formLink sql.NullString
	var scrapedAt sql.NullTime
	err := row.Scan(&r.SiteID, &r.URL, &title, &price, &area, &agencyName, &agencyEmail,
		&agencyAddress, &formLink, &fields, &scrapedAt)
	if err != nil {
		return nil, err
	}
	r.Title = title.String
	r.RentPrice = price.String
	r.AgencyName = agencyName.String
	r.AgencyEmail = agencyEmail.String
	r.AgencyAddress = agencyAddress.String
	r.FormLink = formLink.String
	r.ScrapedAt = scrapedAt.Time
	if area.Valid {
		v := area.Float64
		r.LivingArea = &v
	}
	if fields.Valid && fields.String != "" {
		if err := json.Unmarshal([]byte(fields.String), &r.Fields); err != nil {
			return nil, fmt.Errorf("decode fields of %s: %w", r.URL, err)
		}
	}
	return &r, nil
}

// SaveBatch upserts batch in one transaction. New URLs are appended after the
// highest stored position; known URLs keep their position and get the whole
// record replaced when its content changed.
func (s *SQLiteStore) SaveBatch(ctx context.Context, siteID string, batch []models.ListingRecord) (BatchResult, error) {
	if len(prepareBatch(siteID, batch)) == 0 {
		return BatchResult{}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return BatchResult{}, err
	}
	defer tx.Rollback()

	existing := make(map[string]string)
	rows, err := tx.QueryContext(ctx, `SELECT url, COALESCE(fingerprint, '') FROM listings WHERE site_id = ?`, siteID)
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

	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), -1) + 1 FROM listings WHERE site_id = ?`, siteID).Scan(&next); err != nil {
		return BatchResult{}, err
	}

	ops, res, err := planBatch(siteID, batch, existing, next)
	if err != nil {
		return BatchResult{}, err
	}

	now := time.Now()
	for _, op := range ops {
		r := op.record
		switch op.kind {
		case opInsert:
			_, err = tx.ExecContext(ctx, `
				INSERT INTO listings (site_id, url, position, title, rent_price, living_area, agency_name,
					agency_email, agency_address, form_link, fields, fingerprint, scraped_at, first_seen_at, last_seen_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				siteID, r.URL, op.position, r.Title, r.RentPrice, r.LivingArea, r.AgencyName,
				r.AgencyEmail, r.AgencyAddress, r.FormLink, string(op.fields), op.fingerprint, r.ScrapedAt, now, now)
		case opUpdate:
			_, err = tx.ExecContext(ctx, `
				UPDATE listings SET title = ?, rent_price = ?, living_area = ?, agency_name = ?, agency_email = ?,
					agency_address = ?, form_link = ?, fields = ?, fingerprint = ?, scraped_at = ?, last_seen_at = ?
				WHERE site_id = ? AND url = ?`,
				r.Title, r.RentPrice, r.LivingArea, r.AgencyName, r.AgencyEmail,
				r.AgencyAddress, r.FormLink, string(op.fields), op.fingerprint, r.ScrapedAt, now, siteID, r.URL)
		default:
			_, err = tx.ExecContext(ctx, `UPDATE listings SET last_seen_at = ? WHERE site_id = ? AND url = ?`, now, siteID, r.URL)
		}
		if err != nil {
			return BatchResult{}, fmt.Errorf("save %s: %w", r.URL, err)
		}
	}

	return res, tx.Commit()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.PipelineRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (id, started_at, status, debug)
		VALUES (?, ?, ?, ?)`,
		run.ID.String(), run.StartedAt, run.Status, run.Debug)
	return err
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run *models.PipelineRun) error {
	sites, err := json.Marshal(run.Sites)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE pipeline_runs SET finished_at = ?, status = ?, sites = ?, notify_failures = ?,
			applications_attempted = ?, applications_done = ?, applications_failed = ?,
			applications_skipped = ?, login_error = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, string(sites), run.NotifyFailures,
		run.ApplicationsAttempted, run.ApplicationsDone, run.ApplicationsFailed,
		run.ApplicationsSkipped, run.LoginError, run.ID.String())
	return err
}

// GetRun loads a run with its per-site counters.
func (s *SQLiteStore) GetRun(ctx context.Context, id uuid.UUID) (*models.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT started_at, finished_at, status, debug, COALESCE(sites, '[]'), notify_failures,
			applications_attempted, applications_done, applications_failed, applications_skipped,
			COALESCE(login_error, '')
		FROM pipeline_runs WHERE id = ?`, id.String())

	run := models.PipelineRun{ID: id}
	var finished sql.NullTime
	var sites string
	err := row.Scan(&run.StartedAt, &finished, &run.Status, &run.Debug, &sites, &run.NotifyFailures,
		&run.ApplicationsAttempted, &run.ApplicationsDone, &run.ApplicationsFailed, &run.ApplicationsSkipped,
		&run.LoginError)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	if err := json.Unmarshal([]byte(sites), &run.Sites); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *SQLiteStore) Log(ctx context.Context, runID uuid.UUID, level models.LogLevel, message, siteID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_logs (run_id, timestamp, level, message, site_id)
		VALUES (?, ?, ?, ?, ?)`,
		runID.String(), time.Now(), level, message, siteID)
	return err
}

// GetLogs returns the log lines of a run in insertion order.
func (s *SQLiteStore) GetLogs(ctx context.Context, runID uuid.UUID) ([]models.RunLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, level, message, COALESCE(site_id, '')
		FROM run_logs WHERE run_id = ? ORDER BY id`, runID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.RunLog
	for rows.Next() {
		l := models.RunLog{RunID: runID}
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &l.SiteID); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) SaveAttempts(ctx context.Context, attempts []models.ApplicationAttempt) error {
	for _, a := range attempts {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO application_attempts (run_id, site_id, url, state, failed_field, error, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.RunID.String(), a.SiteID, a.URL, a.State, a.FailedField, a.Error, a.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

// GetAttempts returns the application outcomes recorded for a listing.
func (s *SQLiteStore) GetAttempts(ctx context.Context, siteID, url string) ([]models.ApplicationAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, state, COALESCE(failed_field, ''), COALESCE(error, ''), created_at
		FROM application_attempts WHERE site_id = ? AND url = ? ORDER BY id`, siteID, url)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ApplicationAttempt
	for rows.Next() {
		a := models.ApplicationAttempt{SiteID: siteID, URL: url}
		var runID string
		if err := rows.Scan(&a.ID, &runID, &a.State, &a.FailedField, &a.Error, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.RunID, _ = uuid.Parse(runID)
		out = append(out, a)
	}
	return out, rows.Err()
}
