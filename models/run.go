package models

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// PipelineRun is one full crawl → diff → filter → notify → apply cycle.
type PipelineRun struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at" db:"finished_at"`
	Status     RunStatus  `json:"status" db:"status"`
	Debug      bool       `json:"debug" db:"debug"`
	Sites      []SiteRun  `json:"sites" db:"-"`

	NotifyFailures        int    `json:"notify_failures" db:"notify_failures"`
	ApplicationsAttempted int    `json:"applications_attempted" db:"applications_attempted"`
	ApplicationsDone      int    `json:"applications_done" db:"applications_done"`
	ApplicationsFailed    int    `json:"applications_failed" db:"applications_failed"`
	ApplicationsSkipped   int    `json:"applications_skipped" db:"applications_skipped"`
	LoginError            string `json:"login_error" db:"login_error"`
}

// SiteRun holds the per-site counters of a run.
type SiteRun struct {
	SiteID     string `json:"site_id"`
	CrawlError string `json:"crawl_error,omitempty"`
	Crawled    int    `json:"crawled"`
	Dropped    int    `json:"dropped"`
	MissingURL int    `json:"missing_url"`
	New        int    `json:"new"`
	Actions    int    `json:"actions"`
	Notified   int    `json:"notified"`
	Persisted  bool   `json:"persisted"`
}

// Totals sums the per-site counters.
func (r *PipelineRun) Totals() (crawled, fresh, actions, notified int) {
	for _, s := range r.Sites {
		crawled += s.Crawled
		fresh += s.New
		actions += s.Actions
		notified += s.Notified
	}
	return
}

// ApplicationAttempt is the persisted outcome of one application job.
type ApplicationAttempt struct {
	ID          int64     `json:"id" db:"id"`
	RunID       uuid.UUID `json:"run_id" db:"run_id"`
	SiteID      string    `json:"site_id" db:"site_id"`
	URL         string    `json:"url" db:"url"`
	State       string    `json:"state" db:"state"`
	FailedField string    `json:"failed_field" db:"failed_field"`
	Error       string    `json:"error" db:"error"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
