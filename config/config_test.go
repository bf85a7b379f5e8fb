package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"rentwatch/models"
)

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return data
}

func baseConfig() *Config {
	return &Config{
		Store:     StoreConfig{Driver: "sqlite", DBPath: "test.db"},
		Scheduler: SchedulerConfig{PeakStartHour: 8, PeakEndHour: 18},
		Scraper:   ScraperConfig{MaxConcurrent: 2},
		Profiles: map[string]models.FilterCriteria{
			ProfilePrimary: {MaxRentPrice: 700, MinLivingArea: 11},
			ProfileDefault: {MaxRentPrice: 700, MinLivingArea: 15},
		},
		Sites: make(map[string]*SiteConfig),
	}
}

func TestParseSiteDefaults(t *testing.T) {
	site, err := ParseSite(readFixture(t, "valid_site.yaml"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if site.FilterProfile != ProfileDefault {
		t.Errorf("expected default profile, got %q", site.FilterProfile)
	}
	if site.Name != "example" {
		t.Errorf("expected name to fall back to id, got %q", site.Name)
	}
	if rule := site.Fields["Title"]; rule.Selector != "h1" {
		t.Errorf("expected Title selector h1, got %q", rule.Selector)
	}

	cfg := baseConfig()
	cfg.Sites[site.ID] = site
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestParseSiteAutoApplyUsesPrimaryProfile(t *testing.T) {
	site, err := ParseSite([]byte("id: p\nhandler: html\nnormalizer: pararius\nauto_apply: true\nstart_urls: [https://example.com]\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if site.FilterProfile != ProfilePrimary {
		t.Fatalf("expected primary profile, got %q", site.FilterProfile)
	}
}

func TestValidateRejectsUnknownHandler(t *testing.T) {
	site, err := ParseSite(readFixture(t, "bad_handler.yaml"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg := baseConfig()
	cfg.Sites[site.ID] = site
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for handler ftp")
	}
}

func TestValidateRejectsTwoAutoApplySites(t *testing.T) {
	cfg := baseConfig()
	for _, id := range []string{"a", "b"} {
		cfg.Sites[id] = &SiteConfig{
			ID:            id,
			Handler:       "html",
			Normalizer:    "generic",
			AutoApply:     true,
			FilterProfile: ProfilePrimary,
			StartURLs:     []string{"https://example.com"},
		}
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for two auto_apply sites")
	}
}

func TestValidateRejectsUnknownProfile(t *testing.T) {
	cfg := baseConfig()
	cfg.Sites["a"] = &SiteConfig{
		ID:            "a",
		Handler:       "json",
		Normalizer:    "extate",
		FilterProfile: "cheap",
		StartURLs:     []string{"https://example.com/api"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown filter profile")
	}
}

func TestValidatePostgresNeedsURL(t *testing.T) {
	cfg := baseConfig()
	cfg.Store.Driver = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for postgres without DATABASE_URL")
	}
}

func TestSiteIDsSortedAndSkipsDisabled(t *testing.T) {
	cfg := baseConfig()
	cfg.Sites["rotsvast"] = &SiteConfig{ID: "rotsvast"}
	cfg.Sites["extate"] = &SiteConfig{ID: "extate"}
	cfg.Sites["hunting"] = &SiteConfig{ID: "hunting", Disabled: true}

	ids := cfg.SiteIDs()
	if len(ids) != 2 || ids[0] != "extate" || ids[1] != "rotsvast" {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestLoadReadsSitesAndApplicationOverrides(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sites"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sites", "example.yaml"), readFixture(t, "valid_site.yaml"), 0o644); err != nil {
		t.Fatal(err)
	}
	appYAML := "confirmation_marker: Sent!\nprofile_selectors:\n  first_name: '#fn'\n"
	if err := os.WriteFile(filepath.Join(dir, "application.yaml"), []byte(appYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("MAIL_CC", "a@example.com, b@example.com,")
	t.Setenv("LOGIN_TIMEOUT", "2s")
	t.Setenv("APPLICANT_FIRST_NAME", "Ada")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := cfg.Sites["example"]; !ok {
		t.Fatalf("expected site example to be loaded")
	}
	if len(cfg.SMTP.CC) != 2 {
		t.Errorf("expected two cc recipients, got %v", cfg.SMTP.CC)
	}
	if cfg.Application.LoginTimeout != 2*time.Second {
		t.Errorf("expected login timeout 2s, got %v", cfg.Application.LoginTimeout)
	}
	if cfg.Application.ConfirmationMarker != "Sent!" {
		t.Errorf("expected overridden confirmation marker, got %q", cfg.Application.ConfirmationMarker)
	}
	if cfg.Application.Selectors.Submit == "" {
		t.Errorf("expected default submit selector to survive the overlay")
	}

	fields := cfg.Application.ProfileFields()
	if len(fields) != 5 || fields[0].Name != FieldSalutation || !fields[0].Select {
		t.Fatalf("unexpected profile fields %+v", fields)
	}
	if fields[1].Selector != "#fn" || fields[1].Value != "Ada" {
		t.Errorf("expected overridden first name field, got %+v", fields[1])
	}
	if fields[2].Selector == "" {
		t.Errorf("expected default last name selector to be kept")
	}
}
