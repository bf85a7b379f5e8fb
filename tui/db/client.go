package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Client reads the rentwatch store. It never writes.
type Client struct {
	db       *sql.DB
	postgres bool
	ctx      context.Context
}

type SiteRun struct {
	SiteID     string `json:"site_id"`
	CrawlError string `json:"crawl_error"`
	Crawled    int    `json:"crawled"`
	Dropped    int    `json:"dropped"`
	MissingURL int    `json:"missing_url"`
	New        int    `json:"new"`
	Actions    int    `json:"actions"`
	Notified   int    `json:"notified"`
	Persisted  bool   `json:"persisted"`
}

type PipelineRun struct {
	ID             string
	StartedAt      time.Time
	FinishedAt     *time.Time
	Status         string
	Debug          bool
	Sites          []SiteRun
	NotifyFailures int
	AppsDone       int
	AppsFailed     int
	AppsSkipped    int
	LoginError     string
}

// Totals sums the per-site counters of a run.
func (r PipelineRun) Totals() (crawled, fresh, actions, notified int) {
	for _, s := range r.Sites {
		crawled += s.Crawled
		fresh += s.New
		actions += s.Actions
		notified += s.Notified
	}
	return
}

type SiteStats struct {
	SiteID     string
	Listings   int
	LastSeenAt *time.Time
}

type Listing struct {
	SiteID      string
	URL         string
	Position    int
	Title       string
	RentPrice   string
	LivingArea  *float64
	AgencyName  string
	AgencyEmail string
	FirstSeenAt time.Time
}

type RunLog struct {
	ID        int64
	RunID     string
	Timestamp time.Time
	Level     string
	Message   string
	SiteID    *string
}

type Attempt struct {
	RunID       string
	URL         string
	State       string
	FailedField string
	Error       string
	CreatedAt   time.Time
}

// New opens the store. driver is "postgres" or "sqlite"; dsn is the
// connection string or the database file.
func New(driver, dsn string) (*Client, error) {
	name := "sqlite"
	if driver == "postgres" {
		name = "pgx"
	}
	conn, err := sql.Open(name, dsn)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return &Client{db: conn, postgres: driver == "postgres", ctx: ctx}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

// rebind turns ? placeholders into $n for postgres.
func (c *Client) rebind(query string) string {
	if !c.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (c *Client) GetRecentRuns(limit int) ([]PipelineRun, error) {
	rows, err := c.db.QueryContext(c.ctx, c.rebind(`
		SELECT id, started_at, finished_at, status, debug, sites,
			COALESCE(notify_failures, 0), COALESCE(applications_done, 0),
			COALESCE(applications_failed, 0), COALESCE(applications_skipped, 0),
			COALESCE(login_error, '')
		FROM pipeline_runs
		ORDER BY started_at DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []PipelineRun
	for rows.Next() {
		var r PipelineRun
		var started string
		var finished sql.NullString
		var sites []byte
		err := rows.Scan(&r.ID, &started, &finished, &r.Status, &r.Debug, &sites,
			&r.NotifyFailures, &r.AppsDone, &r.AppsFailed, &r.AppsSkipped, &r.LoginError)
		if err != nil {
			return nil, err
		}
		r.StartedAt = parseTime(started)
		if finished.Valid {
			t := parseTime(finished.String)
			r.FinishedAt = &t
		}
		if len(sites) > 0 {
			if err := json.Unmarshal(sites, &r.Sites); err != nil {
				return nil, fmt.Errorf("decode sites of run %s: %w", r.ID, err)
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (c *Client) GetSiteStats() ([]SiteStats, error) {
	rows, err := c.db.QueryContext(c.ctx, `
		SELECT site_id, COUNT(*), MAX(last_seen_at)
		FROM listings
		GROUP BY site_id
		ORDER BY site_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []SiteStats
	for rows.Next() {
		var s SiteStats
		var lastSeen sql.NullString
		if err := rows.Scan(&s.SiteID, &s.Listings, &lastSeen); err != nil {
			return nil, err
		}
		if lastSeen.Valid {
			t := parseTime(lastSeen.String)
			s.LastSeenAt = &t
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// GetListings returns a site's listings newest first.
func (c *Client) GetListings(siteID string, limit, offset int) ([]Listing, error) {
	rows, err := c.db.QueryContext(c.ctx, c.rebind(`
		SELECT site_id, url, position, COALESCE(title, ''), COALESCE(rent_price, ''),
			living_area, COALESCE(agency_name, ''), COALESCE(agency_email, ''), first_seen_at
		FROM listings
		WHERE site_id = ?
		ORDER BY position DESC
		LIMIT ? OFFSET ?
	`), siteID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []Listing
	for rows.Next() {
		var l Listing
		var area sql.NullFloat64
		var firstSeen sql.NullString
		err := rows.Scan(&l.SiteID, &l.URL, &l.Position, &l.Title, &l.RentPrice,
			&area, &l.AgencyName, &l.AgencyEmail, &firstSeen)
		if err != nil {
			return nil, err
		}
		if area.Valid {
			v := area.Float64
			l.LivingArea = &v
		}
		if firstSeen.Valid {
			l.FirstSeenAt = parseTime(firstSeen.String)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func (c *Client) GetListingCount(siteID string) (int, error) {
	var count int
	err := c.db.QueryRowContext(c.ctx, c.rebind(`SELECT COUNT(*) FROM listings WHERE site_id = ?`), siteID).Scan(&count)
	return count, err
}

func (c *Client) GetAttempts(siteID, url string) ([]Attempt, error) {
	rows, err := c.db.QueryContext(c.ctx, c.rebind(`
		SELECT CAST(run_id AS TEXT), url, state, COALESCE(failed_field, ''), COALESCE(error, ''), created_at
		FROM application_attempts
		WHERE site_id = ? AND url = ?
		ORDER BY created_at DESC
	`), siteID, url)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var a Attempt
		var created sql.NullString
		if err := rows.Scan(&a.RunID, &a.URL, &a.State, &a.FailedField, &a.Error, &created); err != nil {
			return nil, err
		}
		if created.Valid {
			a.CreatedAt = parseTime(created.String)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// GetRecentLogs returns run logs newest first. level filters when non-nil.
func (c *Client) GetRecentLogs(limit int, level *string) ([]RunLog, error) {
	query := `SELECT id, COALESCE(CAST(run_id AS TEXT), ''), timestamp, level, message, site_id FROM run_logs`
	args := []any{}
	if level != nil {
		query += ` WHERE level = ?`
		args = append(args, *level)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := c.db.QueryContext(c.ctx, c.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []RunLog
	for rows.Next() {
		var l RunLog
		var ts string
		var site sql.NullString
		if err := rows.Scan(&l.ID, &l.RunID, &ts, &l.Level, &l.Message, &site); err != nil {
			return nil, err
		}
		l.Timestamp = parseTime(ts)
		if site.Valid && site.String != "" {
			s := site.String
			l.SiteID = &s
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// parseTime accepts the layouts the sqlite drivers write. database/sql
// formats driver time.Time values as RFC3339Nano when scanning into a string.
func parseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
