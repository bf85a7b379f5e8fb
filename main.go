package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"

	"rentwatch/browser"
	"rentwatch/config"
	"rentwatch/httputil"
	"rentwatch/identity"
	"rentwatch/logging"
	"rentwatch/mailer"
	"rentwatch/models"
	"rentwatch/scheduler"
	"rentwatch/scraper"
	"rentwatch/services"
	"rentwatch/storage"
	"rentwatch/workers"
)

var (
	debug             = flag.Bool("debug", false, "Send every notification to the default receiver with the debug subject")
	daemon            = flag.Bool("daemon", false, "Keep running and repeat full runs on the configured schedule")
	previewMotivation = flag.String("preview-motivation", "", "Print the motivation text for a stored listing URL (or \"latest\") and exit")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, logFile, err := logging.Setup(cfg.LogPath, cfg.LogLevel)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}
	entry := logrus.NewEntry(logger)

	entry.Info("Starting rentwatch...")
	entry.Infof("Loaded %d site configs", len(cfg.Sites))
	for _, id := range cfg.SiteIDs() {
		site := cfg.Sites[id]
		entry.Infof("  - %s (%s, handler=%s, profile=%s, auto_apply=%t)", site.Name, id, site.Handler, site.FilterProfile, site.AutoApply)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg, entry)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	if *previewMotivation != "" {
		if err := printMotivation(ctx, cfg, store, *previewMotivation); err != nil {
			log.Fatalf("Preview failed: %v", err)
		}
		return
	}

	agencies, err := services.LoadAgencyDirectory(filepath.Join(cfg.ConfigDir, "agencies.yaml"))
	if err != nil {
		log.Fatalf("Failed to load agency directory: %v", err)
	}
	entry.Infof("Agency directory: %d agencies", agencies.Len())

	launcher := browser.NewPlaywrightLauncher(cfg.Browser.Headless, entry)
	defer launcher.Close()

	handlers, err := scraper.BuildHandlers(cfg, scraper.Deps{
		Clients:  httputil.NewClients(cfg.Scraper),
		Launcher: launcher,
		Log:      entry.WithField("component", "scraper"),
	})
	if err != nil {
		log.Fatalf("Failed to create crawlers: %v", err)
	}

	sender := mailer.NewSMTPSender(cfg.SMTP, entry)
	notifier := services.NewNotifier(sender, cfg.SMTP, cfg.Notify, entry)

	var applier scraper.Applier
	if site, ok := cfg.AutoApplySite(); ok {
		var uploader workers.S3Uploader
		if cfg.S3.Enabled() {
			s3, err := storage.NewS3Uploader(ctx, cfg.S3)
			if err != nil {
				log.Fatalf("Failed to set up snapshot upload: %v", err)
			}
			uploader = s3
			entry.Infof("Snapshots uploaded to s3://%s/%s", cfg.S3.Bucket, cfg.S3.Prefix)
		}
		applier = workers.NewApplicationWorker(launcher, cfg.Application, cfg.Browser.SnapshotDir, uploader, entry)
		entry.Infof("Application workflow enabled for %s", site.ID)
	}

	orchestrator, err := scraper.NewOrchestrator(cfg, store, handlers, agencies, notifier, applier, entry)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	if !*daemon {
		run, err := orchestrator.RunAll(ctx, *debug)
		if err != nil {
			log.Fatalf("Run failed: %v", err)
		}
		crawled, fresh, actions, notified := run.Totals()
		entry.Infof("Run complete: %d crawled, %d new, %d actions, %d notified", crawled, fresh, actions, notified)
		return
	}

	sched := scheduler.New(cfg.Scheduler, orchestrator, *debug, entry)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	entry.Info("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	entry.Info("Shutting down...")
	sched.Stop()
	entry.Info("Goodbye!")
}

func openStore(ctx context.Context, cfg *config.Config, log *logrus.Entry) (storage.RecordStore, error) {
	switch cfg.Store.Driver {
	case "postgres":
		s, err := storage.NewPostgresStore(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		log.Infof("Connected to Postgres: %s", maskConnectionString(cfg.Store.DatabaseURL))
		return s, nil
	default:
		s, err := storage.NewSQLiteStore(cfg.Store.DBPath)
		if err != nil {
			return nil, err
		}
		log.Infof("SQLite database: %s", cfg.Store.DBPath)
		return s, nil
	}
}

func printMotivation(ctx context.Context, cfg *config.Config, store storage.RecordStore, url string) error {
	site, ok := cfg.AutoApplySite()
	if !ok {
		return fmt.Errorf("no site has auto_apply enabled")
	}
	record, err := previewRecord(ctx, store, site.ID, url)
	if err != nil {
		return err
	}
	tmpl, err := services.LoadTemplate(cfg.Application.MotivationTemplate)
	if err != nil {
		return err
	}
	text, err := services.RenderRecord(tmpl, *record)
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}

// previewRecord loads the stored record for url, or the most recently placed
// one when url is "latest".
func previewRecord(ctx context.Context, store storage.RecordStore, siteID, url string) (*models.ListingRecord, error) {
	if url == "latest" {
		record, err := store.LatestRecord(ctx, siteID)
		if err != nil {
			return nil, fmt.Errorf("load latest %s listing: %w", siteID, err)
		}
		return record, nil
	}
	record, err := store.GetRecord(ctx, siteID, identity.RecordKey(url))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", url, err)
	}
	return record, nil
}

// maskConnectionString masks the password in a connection string for logging
func maskConnectionString(connStr string) string {
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
