package db

import (
	"path/filepath"
	"testing"
	"time"
)

const testSchema = `
CREATE TABLE listings (
	site_id TEXT NOT NULL, url TEXT NOT NULL, position INTEGER NOT NULL,
	title TEXT, rent_price TEXT, living_area REAL, agency_name TEXT, agency_email TEXT,
	agency_address TEXT, form_link TEXT, fields JSON, fingerprint TEXT,
	scraped_at DATETIME, first_seen_at DATETIME, last_seen_at DATETIME,
	PRIMARY KEY (site_id, url)
);
CREATE TABLE pipeline_runs (
	id TEXT PRIMARY KEY, started_at DATETIME, finished_at DATETIME, status TEXT, debug BOOLEAN,
	sites JSON, notify_failures INTEGER DEFAULT 0, applications_attempted INTEGER DEFAULT 0,
	applications_done INTEGER DEFAULT 0, applications_failed INTEGER DEFAULT 0,
	applications_skipped INTEGER DEFAULT 0, login_error TEXT
);
CREATE TABLE run_logs (id INTEGER PRIMARY KEY, run_id TEXT, timestamp DATETIME, level TEXT, message TEXT, site_id TEXT);
CREATE TABLE application_attempts (
	id INTEGER PRIMARY KEY, run_id TEXT, site_id TEXT, url TEXT, state TEXT,
	failed_field TEXT, error TEXT, created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New("sqlite", filepath.Join(t.TempDir(), "rentwatch.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	if _, err := c.db.Exec(testSchema); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return c
}

func TestRecentRunsDecodeSites(t *testing.T) {
	c := newTestClient(t)
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	_, err := c.db.Exec(`INSERT INTO pipeline_runs (id, started_at, status, debug, sites, applications_done, login_error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"run-old", now.Add(-time.Hour).Format(time.RFC3339Nano), "completed", false, `[]`, 0, nil)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err = c.db.Exec(`INSERT INTO pipeline_runs (id, started_at, status, debug, sites, applications_done, login_error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"run-new", now.Format(time.RFC3339Nano), "failed", true,
		`[{"site_id":"pararius","crawled":12,"new":3,"actions":2,"notified":3},{"site_id":"hunting","crawl_error":"timeout"}]`,
		1, "bad credentials")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	runs, err := c.GetRecentRuns(10)
	if err != nil {
		t.Fatalf("GetRecentRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-new" {
		t.Fatalf("expected run-new first, got %+v", runs)
	}
	r := runs[0]
	if !r.Debug || r.AppsDone != 1 || r.LoginError != "bad credentials" {
		t.Fatalf("unexpected run fields: %+v", r)
	}
	if !r.StartedAt.Equal(now) {
		t.Fatalf("started_at = %v, want %v", r.StartedAt, now)
	}
	crawled, fresh, actions, notified := r.Totals()
	if crawled != 12 || fresh != 3 || actions != 2 || notified != 3 {
		t.Fatalf("totals = %d %d %d %d", crawled, fresh, actions, notified)
	}
	if r.Sites[1].CrawlError != "timeout" {
		t.Fatalf("crawl error not decoded: %+v", r.Sites[1])
	}
}

func TestListingsNewestFirst(t *testing.T) {
	c := newTestClient(t)
	for i, url := range []string{"https://a/1", "https://a/2", "https://a/3"} {
		_, err := c.db.Exec(`INSERT INTO listings (site_id, url, position, title, rent_price, living_area, first_seen_at, last_seen_at)
			VALUES ('alpha', ?, ?, ?, '€ 1.000', ?, '2026-03-01 10:00:00', '2026-03-01 10:00:00')`,
			url, i, "Listing "+url, 40+i)
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if _, err := c.db.Exec(`INSERT INTO listings (site_id, url, position, first_seen_at) VALUES ('beta', 'https://b/1', 0, '2026-03-01 10:00:00')`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	listings, err := c.GetListings("alpha", 2, 0)
	if err != nil {
		t.Fatalf("GetListings: %v", err)
	}
	if len(listings) != 2 || listings[0].URL != "https://a/3" || listings[1].URL != "https://a/2" {
		t.Fatalf("unexpected order: %+v", listings)
	}
	if listings[0].LivingArea == nil || *listings[0].LivingArea != 42 {
		t.Fatalf("living area = %v", listings[0].LivingArea)
	}

	count, err := c.GetListingCount("alpha")
	if err != nil || count != 3 {
		t.Fatalf("count = %d, %v", count, err)
	}

	stats, err := c.GetSiteStats()
	if err != nil {
		t.Fatalf("GetSiteStats: %v", err)
	}
	if len(stats) != 2 || stats[0].SiteID != "alpha" || stats[0].Listings != 3 || stats[1].LastSeenAt != nil {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRecentLogsLevelFilter(t *testing.T) {
	c := newTestClient(t)
	rows := []struct{ level, msg, site string }{
		{"info", "run started", ""},
		{"warn", "3 rows without url", "alpha"},
		{"error", "crawl failed", "beta"},
	}
	for i, r := range rows {
		ts := time.Date(2026, 3, 1, 10, 0, i, 0, time.UTC).Format("2006-01-02 15:04:05")
		if _, err := c.db.Exec(`INSERT INTO run_logs (run_id, timestamp, level, message, site_id) VALUES ('r1', ?, ?, ?, ?)`,
			ts, r.level, r.msg, r.site); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	all, err := c.GetRecentLogs(10, nil)
	if err != nil {
		t.Fatalf("GetRecentLogs: %v", err)
	}
	if len(all) != 3 || all[0].Message != "crawl failed" {
		t.Fatalf("expected newest first, got %+v", all)
	}
	if all[2].SiteID != nil {
		t.Fatalf("empty site should be nil, got %q", *all[2].SiteID)
	}

	level := "warn"
	warns, err := c.GetRecentLogs(10, &level)
	if err != nil {
		t.Fatalf("GetRecentLogs: %v", err)
	}
	if len(warns) != 1 || warns[0].SiteID == nil || *warns[0].SiteID != "alpha" {
		t.Fatalf("unexpected filtered logs: %+v", warns)
	}
}

func TestRebind(t *testing.T) {
	pg := &Client{postgres: true}
	if got := pg.rebind(`SELECT 1 WHERE a = ? AND b = ?`); got != `SELECT 1 WHERE a = $1 AND b = $2` {
		t.Fatalf("rebind = %q", got)
	}
	lite := &Client{}
	if got := lite.rebind(`a = ?`); got != `a = ?` {
		t.Fatalf("sqlite rebind changed query: %q", got)
	}
}
