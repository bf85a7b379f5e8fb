package scraper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"rentwatch/config"
	"rentwatch/models"
	"rentwatch/services"
	"rentwatch/storage"
	"rentwatch/workers"
)

// Notifier sends one message per action-set record.
type Notifier interface {
	Notify(ctx context.Context, record models.ListingRecord, routing services.Routing) (services.Result, error)
}

// Applier runs the application workflow over the primary site's action set.
type Applier interface {
	Run(ctx context.Context, records []models.ListingRecord) workers.Report
	SetLogFunc(fn workers.LogFunc)
}

type crawlResult struct {
	raws  []models.RawRecord
	known map[string]struct{}
	err   error
}

// Orchestrator runs the whole pipeline: crawl every site, then per site
// normalize, diff, filter and notify, then apply, then persist.
type Orchestrator struct {
	cfg        *config.Config
	store      storage.RecordStore
	handlers   map[string]Handler
	normalizer *services.Normalizer
	notifier   Notifier
	applier    Applier
	log        *logrus.Entry

	mu sync.Mutex
}

func NewOrchestrator(
	cfg *config.Config,
	store storage.RecordStore,
	handlers map[string]Handler,
	agencies *services.AgencyDirectory,
	notifier Notifier,
	applier Applier,
	log *logrus.Entry,
) (*Orchestrator, error) {
	normalizer := services.NewNormalizer(agencies)
	for id, site := range cfg.Sites {
		if err := normalizer.Register(id, site.Normalizer, site.City); err != nil {
			return nil, err
		}
	}

	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		handlers:   handlers,
		normalizer: normalizer,
		notifier:   notifier,
		applier:    applier,
		log:        log.WithField("component", "orchestrator"),
	}, nil
}

// BuildHandlers creates a handler for every enabled site.
func BuildHandlers(cfg *config.Config, deps Deps) (map[string]Handler, error) {
	handlers := make(map[string]Handler)
	for _, id := range cfg.SiteIDs() {
		h, err := NewHandler(cfg.Sites[id], deps)
		if err != nil {
			return nil, err
		}
		handlers[id] = h
	}
	return handlers, nil
}

// SiteIDs lists the sites that have a handler, in run order.
func (o *Orchestrator) SiteIDs() []string {
	var ids []string
	for _, id := range o.cfg.SiteIDs() {
		if _, ok := o.handlers[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// RunAll performs one full run. Runs are serialized. The returned run is
// also persisted; an error is returned only when the run could not be
// recorded at all.
func (o *Orchestrator) RunAll(ctx context.Context, debug bool) (*models.PipelineRun, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	run := &models.PipelineRun{
		StartedAt: time.Now(),
		Status:    models.RunStatusRunning,
		Debug:     debug,
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	log := o.log.WithField("run_id", run.ID)
	o.record(ctx, run, models.LogLevelInfo, "", fmt.Sprintf("run started (debug=%t)", debug))

	ids := o.SiteIDs()
	results := o.crawlAll(ctx, run, ids)

	var (
		queue      []models.ListingRecord
		primaryID  string
		persistIDs []string
		batches    = make(map[string][]models.ListingRecord, len(ids))
	)

	for i, id := range ids {
		site := o.cfg.Sites[id]
		res := results[i]
		stats := models.SiteRun{SiteID: id}

		if res.err != nil {
			stats.CrawlError = res.err.Error()
			o.record(ctx, run, models.LogLevelError, id, fmt.Sprintf("crawl failed: %v", res.err))
			run.Sites = append(run.Sites, stats)
			continue
		}

		records, dropped := o.normalizer.NormalizeBatch(id, res.raws)
		stats.Crawled = len(res.raws)
		stats.Dropped = dropped
		stats.MissingURL = services.MissingURLs(records)
		if stats.MissingURL > 0 {
			o.record(ctx, run, models.LogLevelWarn, id, fmt.Sprintf("%d records without url excluded from diff", stats.MissingURL))
		}

		fresh := services.Diff(records, res.known)
		actions := services.Filter(fresh, o.cfg.Criteria(id))
		stats.New = len(fresh)
		stats.Actions = len(actions)

		routing := services.Routing{Debug: debug, AgencyDelivery: site.AutoApply}
		for _, r := range actions {
			if _, err := o.notifier.Notify(ctx, r, routing); err != nil {
				run.NotifyFailures++
				o.record(ctx, run, models.LogLevelError, id, fmt.Sprintf("notify %s: %v", r.URL, err))
				continue
			}
			stats.Notified++
		}

		if site.AutoApply {
			primaryID = id
			queue = append(queue, actions...)
		}

		batches[id] = records
		persistIDs = append(persistIDs, id)
		run.Sites = append(run.Sites, stats)

		log.WithFields(logrus.Fields{
			"site":     id,
			"crawled":  stats.Crawled,
			"new":      stats.New,
			"actions":  stats.Actions,
			"notified": stats.Notified,
		}).Info("site processed")
	}

	o.apply(ctx, run, primaryID, queue)

	for _, id := range persistIDs {
		res, err := o.store.SaveBatch(ctx, id, batches[id])
		if err != nil {
			o.record(ctx, run, models.LogLevelError, id, fmt.Sprintf("persist failed: %v", err))
			continue
		}
		for i := range run.Sites {
			if run.Sites[i].SiteID == id {
				run.Sites[i].Persisted = true
			}
		}
		log.WithFields(logrus.Fields{
			"site":      id,
			"inserted":  res.Inserted,
			"updated":   res.Updated,
			"unchanged": res.Unchanged,
		}).Debug("batch persisted")
	}

	finished := time.Now()
	run.FinishedAt = &finished
	run.Status = models.RunStatusCompleted
	if len(persistIDs) == 0 && len(ids) > 0 {
		run.Status = models.RunStatusFailed
	}

	crawled, fresh, actions, notified := run.Totals()
	o.record(ctx, run, models.LogLevelInfo, "", fmt.Sprintf(
		"run finished: %d crawled, %d new, %d actions, %d notified, %d notify failures, applications %d done / %d failed / %d not attempted",
		crawled, fresh, actions, notified, run.NotifyFailures,
		run.ApplicationsDone, run.ApplicationsFailed, run.ApplicationsSkipped))

	if err := o.store.FinishRun(ctx, run); err != nil {
		return run, fmt.Errorf("finish run: %w", err)
	}
	return run, nil
}

// crawlAll runs every crawler concurrently and returns once the slowest one
// has finished. A failing crawler does not stop the others.
func (o *Orchestrator) crawlAll(ctx context.Context, run *models.PipelineRun, ids []string) []crawlResult {
	results := make([]crawlResult, len(ids))

	var g errgroup.Group
	g.SetLimit(max(o.cfg.Scraper.MaxConcurrent, 1))
	for i, id := range ids {
		g.Go(func() error {
			known, err := o.store.KnownURLs(ctx, id)
			if err != nil {
				results[i] = crawlResult{err: fmt.Errorf("load known urls: %w", err)}
				return nil
			}

			start := time.Now()
			raws, err := o.handlers[id].Crawl(ctx, known)
			results[i] = crawlResult{raws: raws, known: known, err: err}
			if err == nil {
				o.record(ctx, run, models.LogLevelInfo, id,
					fmt.Sprintf("crawled %d rows in %s", len(raws), time.Since(start).Round(time.Millisecond)))
			}
			return nil
		})
	}
	g.Wait()
	return results
}

func (o *Orchestrator) apply(ctx context.Context, run *models.PipelineRun, siteID string, queue []models.ListingRecord) {
	if len(queue) == 0 {
		return
	}
	if o.applier == nil {
		run.ApplicationsSkipped = len(queue)
		o.record(ctx, run, models.LogLevelWarn, siteID, fmt.Sprintf("application workflow disabled, %d listings not applied to", len(queue)))
		return
	}

	o.applier.SetLogFunc(func(level models.LogLevel, message string) {
		o.record(ctx, run, level, siteID, message)
	})
	report := o.applier.Run(ctx, queue)

	run.ApplicationsAttempted = report.Attempted
	run.ApplicationsDone = report.Done
	run.ApplicationsFailed = report.Failed
	run.ApplicationsSkipped = report.NotAttempted
	if report.LoginErr != nil {
		run.LoginError = report.LoginErr.Error()
	}

	if err := o.store.SaveAttempts(ctx, report.Attempts(run.ID, siteID)); err != nil {
		o.record(ctx, run, models.LogLevelError, siteID, fmt.Sprintf("save application attempts: %v", err))
	}
}

// record writes a run event to the process log and the run log table.
func (o *Orchestrator) record(ctx context.Context, run *models.PipelineRun, level models.LogLevel, siteID, message string) {
	entry := o.log.WithField("run_id", run.ID)
	if siteID != "" {
		entry = entry.WithField("site", siteID)
	}
	switch level {
	case models.LogLevelError:
		entry.Error(message)
	case models.LogLevelWarn:
		entry.Warn(message)
	default:
		entry.Info(message)
	}

	if err := o.store.Log(ctx, run.ID, level, message, siteID); err != nil {
		o.log.Warnf("store run log: %v", err)
	}
}
