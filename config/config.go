package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"rentwatch/models"
)

const (
	ProfilePrimary = "primary"
	ProfileDefault = "default"
)

type Config struct {
	ConfigDir   string
	LogPath     string
	LogLevel    string
	Store       StoreConfig
	SMTP        SMTPConfig
	Notify      NotifyConfig
	Application ApplicationConfig
	Scheduler   SchedulerConfig
	Scraper     ScraperConfig
	Browser     BrowserConfig
	S3          S3Config
	Profiles    map[string]models.FilterCriteria
	Sites       map[string]*SiteConfig
}

type StoreConfig struct {
	Driver      string `validate:"oneof=sqlite postgres"`
	DBPath      string
	DatabaseURL string `validate:"required_if=Driver postgres"`
}

type SMTPConfig struct {
	Host            string
	Port            int
	Username        string
	Password        string
	From            string
	DefaultReceiver string
	CC              []string
	AttachmentDir   string
}

type NotifyConfig struct {
	TemplatePath     string
	DebugSubject     string
	OutsideSubject   string
	NoContactSubject string
	AgencySubject    string
}

type SchedulerConfig struct {
	Cron            string
	PeakInterval    time.Duration
	OffPeakInterval time.Duration
	PeakStartHour   int `validate:"gte=0,lte=23"`
	PeakEndHour     int `validate:"gte=0,lte=24"`
}

type ScraperConfig struct {
	MaxConcurrent int `validate:"gte=1"`
	UserAgent     string
	Timeout       time.Duration
	ProxyURL      string
}

type BrowserConfig struct {
	Headless    bool
	SnapshotDir string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

// Enabled reports whether snapshots should be offloaded to object storage.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

type SiteConfig struct {
	ID             string               `yaml:"id" validate:"required"`
	Name           string               `yaml:"name"`
	Handler        string               `yaml:"handler" validate:"required,oneof=json html browser"`
	Normalizer     string               `yaml:"normalizer" validate:"required"`
	Disabled       bool                 `yaml:"disabled"`
	AutoApply      bool                 `yaml:"auto_apply"`
	FilterProfile  string               `yaml:"filter_profile"`
	StartURLs      []string             `yaml:"start_urls" validate:"required,min=1,dive,url"`
	AllowedDomains []string             `yaml:"allowed_domains"`
	ListSelector   string               `yaml:"list_selector"`
	NextSelector   string               `yaml:"next_selector"`
	WaitSelector   string               `yaml:"wait_selector"`
	LoadMore       string               `yaml:"load_more_selector"`
	LinkPattern    string               `yaml:"link_pattern"`
	LinkTemplate   string               `yaml:"link_template"`
	Fields         map[string]FieldRule `yaml:"fields" validate:"dive"`
	MaxPages       int                  `yaml:"max_pages" validate:"gte=0"`
	RateLimitMS    int                  `yaml:"rate_limit_ms" validate:"gte=0"`
	SkipKnown      bool                 `yaml:"skip_known"`
	City           string               `yaml:"city"`
}

// FieldRule tells the HTML extractor where one column lives on a detail page.
type FieldRule struct {
	Selector string `yaml:"selector" validate:"required"`
	Attr     string `yaml:"attr"`
	Regex    string `yaml:"regex"`
	Multiple bool   `yaml:"multiple"`
}

// ApplicationConfig drives the login-and-submit workflow of the auto-apply site.
type ApplicationConfig struct {
	Email              string           `yaml:"-"`
	Password           string           `yaml:"-"`
	MotivationTemplate string           `yaml:"-"`
	LoginTimeout       time.Duration    `yaml:"-"`
	FieldTimeout       time.Duration    `yaml:"-"`
	SubmitTimeout      time.Duration    `yaml:"-"`
	ResetPause         time.Duration    `yaml:"-"`
	InterJobDelay      time.Duration    `yaml:"-"`
	Profile            ApplicantProfile `yaml:"-"`

	LoginURL                 string            `yaml:"login_url"`
	OverlaySelectors         []string          `yaml:"overlay_selectors"`
	LoginSuccessMarkers      []string          `yaml:"login_success_markers"`
	InvalidCredentialMarkers []string          `yaml:"invalid_credential_markers"`
	ConfirmationMarker       string            `yaml:"confirmation_marker"`
	Selectors                FormSelectors     `yaml:"selectors"`
	ProfileSelectors         map[string]string `yaml:"profile_selectors"`
}

type FormSelectors struct {
	Email       string `yaml:"email"`
	Password    string `yaml:"password"`
	LoginSubmit string `yaml:"login_submit"`
	Motivation  string `yaml:"motivation"`
	Submit      string `yaml:"submit"`
}

// ApplicantProfile holds the static personal details the form must carry.
type ApplicantProfile struct {
	Salutation string
	FirstName  string
	LastName   string
	Phone      string
	BirthDate  string
}

// ProfileField is one fixed form field with its expected value.
type ProfileField struct {
	Name     string
	Selector string
	Value    string
	Select   bool
}

// Profile field names, in the order the form is filled.
const (
	FieldSalutation = "salutation"
	FieldFirstName  = "first_name"
	FieldLastName   = "last_name"
	FieldPhone      = "phone_number"
	FieldBirthDate  = "date_of_birth"
)

// ProfileFields returns the fixed profile fields in fill order.
func (a ApplicationConfig) ProfileFields() []ProfileField {
	values := []struct {
		name   string
		value  string
		choose bool
	}{
		{FieldSalutation, a.Profile.Salutation, true},
		{FieldFirstName, a.Profile.FirstName, false},
		{FieldLastName, a.Profile.LastName, false},
		{FieldPhone, a.Profile.Phone, false},
		{FieldBirthDate, a.Profile.BirthDate, false},
	}
	fields := make([]ProfileField, 0, len(values))
	for _, v := range values {
		fields = append(fields, ProfileField{
			Name:     v.name,
			Selector: a.ProfileSelectors[v.name],
			Value:    v.value,
			Select:   v.choose,
		})
	}
	return fields
}

var validate = validator.New()

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ConfigDir: getEnv("CONFIG_DIR", "config"),
		LogPath:   getEnv("LOG_PATH", "rentwatch.log"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		Store: StoreConfig{
			Driver:      getEnv("STORE_DRIVER", "sqlite"),
			DBPath:      getEnv("DB_PATH", "rentwatch.db"),
			DatabaseURL: os.Getenv("DATABASE_URL"),
		},
		SMTP: SMTPConfig{
			Host:            getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:            getEnvInt("SMTP_PORT", 587),
			Username:        os.Getenv("SMTP_USERNAME"),
			Password:        os.Getenv("SMTP_PASSWORD"),
			From:            getEnv("SMTP_FROM", os.Getenv("SMTP_USERNAME")),
			DefaultReceiver: os.Getenv("DEFAULT_RECEIVER"),
			CC:              getEnvList("MAIL_CC"),
			AttachmentDir:   os.Getenv("ATTACHMENT_DIR"),
		},
		Notify: NotifyConfig{
			TemplatePath:     getEnv("NOTIFICATION_TEMPLATE", "templates/notification.txt"),
			DebugSubject:     getEnv("SUBJECT_DEBUG", "NEW LISTING FOUND IN DEBUG MODE"),
			OutsideSubject:   getEnv("SUBJECT_OUTSIDE", "FRESH LISTING OUTSIDE OF PRIMARY SITE"),
			NoContactSubject: getEnv("SUBJECT_NO_CONTACT", "NEW LISTING WITHOUT EMAIL"),
			AgencySubject:    getEnv("SUBJECT_AGENCY", "Interest in the rental offer: {Title}"),
		},
		Application: ApplicationConfig{
			Email:              os.Getenv("APPLY_EMAIL"),
			Password:           os.Getenv("APPLY_PASSWORD"),
			MotivationTemplate: getEnv("MOTIVATION_TEMPLATE", "templates/motivation.txt"),
			LoginTimeout:       getEnvDuration("LOGIN_TIMEOUT", 15*time.Second),
			FieldTimeout:       getEnvDuration("FIELD_TIMEOUT", 10*time.Second),
			SubmitTimeout:      getEnvDuration("SUBMIT_TIMEOUT", 20*time.Second),
			ResetPause:         getEnvDuration("RESET_PAUSE", 3*time.Second),
			InterJobDelay:      getEnvDuration("INTER_JOB_DELAY", 10*time.Second),
			Profile: ApplicantProfile{
				Salutation: os.Getenv("APPLICANT_SALUTATION"),
				FirstName:  os.Getenv("APPLICANT_FIRST_NAME"),
				LastName:   os.Getenv("APPLICANT_LAST_NAME"),
				Phone:      os.Getenv("APPLICANT_PHONE"),
				BirthDate:  os.Getenv("APPLICANT_BIRTH_DATE"),
			},
		},
		Scheduler: SchedulerConfig{
			Cron:            os.Getenv("SCRAPE_CRON"),
			PeakInterval:    getEnvDuration("PEAK_INTERVAL", 5*time.Minute),
			OffPeakInterval: getEnvDuration("OFFPEAK_INTERVAL", 15*time.Minute),
			PeakStartHour:   getEnvInt("PEAK_START_HOUR", 8),
			PeakEndHour:     getEnvInt("PEAK_END_HOUR", 18),
		},
		Scraper: ScraperConfig{
			MaxConcurrent: getEnvInt("MAX_CONCURRENT_CRAWLERS", 6),
			UserAgent:     getEnv("USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
			Timeout:       getEnvDuration("SCRAPE_TIMEOUT", 30*time.Second),
			ProxyURL:      os.Getenv("PROXY_URL"),
		},
		Browser: BrowserConfig{
			Headless:    getEnvBool("BROWSER_HEADLESS", true),
			SnapshotDir: getEnv("SNAPSHOT_DIR", "snapshots"),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "eu-west-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			Prefix:          getEnv("S3_PREFIX", "snapshots/"),
		},
		Profiles: map[string]models.FilterCriteria{
			ProfilePrimary: {
				MaxRentPrice:  getEnvFloat("PRIMARY_MAX_RENT", 700),
				MinLivingArea: getEnvFloat("PRIMARY_MIN_AREA", 11),
			},
			ProfileDefault: {
				MaxRentPrice:  getEnvFloat("DEFAULT_MAX_RENT", 700),
				MinLivingArea: getEnvFloat("DEFAULT_MIN_AREA", 15),
			},
		},
		Sites: make(map[string]*SiteConfig),
	}
	cfg.Application.applyDefaults()

	if err := cfg.loadApplicationConfig(); err != nil {
		return nil, err
	}
	if err := cfg.loadSiteConfigs(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks structure only. Credentials are checked where they are used.
func (c *Config) Validate() error {
	if err := validate.Struct(c.Store); err != nil {
		return fmt.Errorf("store config: %w", err)
	}
	if err := validate.Struct(c.Scheduler); err != nil {
		return fmt.Errorf("scheduler config: %w", err)
	}
	if err := validate.Struct(c.Scraper); err != nil {
		return fmt.Errorf("scraper config: %w", err)
	}
	for name, p := range c.Profiles {
		if err := validate.Struct(p); err != nil {
			return fmt.Errorf("filter profile %s: %w", name, err)
		}
	}

	autoApply := 0
	for id, site := range c.Sites {
		if err := validate.Struct(site); err != nil {
			return fmt.Errorf("site %s: %w", id, err)
		}
		if _, ok := c.Profiles[site.FilterProfile]; !ok {
			return fmt.Errorf("site %s: unknown filter profile %q", id, site.FilterProfile)
		}
		if site.AutoApply {
			autoApply++
		}
	}
	if autoApply > 1 {
		return fmt.Errorf("at most one site may enable auto_apply, got %d", autoApply)
	}
	return nil
}

// SiteIDs returns the enabled site ids in a stable order.
func (c *Config) SiteIDs() []string {
	ids := make([]string, 0, len(c.Sites))
	for id, site := range c.Sites {
		if site.Disabled {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AutoApplySite returns the enabled site that has the application workflow.
func (c *Config) AutoApplySite() (*SiteConfig, bool) {
	for _, id := range c.SiteIDs() {
		if site := c.Sites[id]; site.AutoApply {
			return site, true
		}
	}
	return nil, false
}

// Criteria returns the filter thresholds of a site.
func (c *Config) Criteria(siteID string) models.FilterCriteria {
	site, ok := c.Sites[siteID]
	if !ok {
		return c.Profiles[ProfileDefault]
	}
	return c.Profiles[site.FilterProfile]
}

func (a *ApplicationConfig) applyDefaults() {
	a.LoginURL = "https://www.pararius.com/login-email"
	a.OverlaySelectors = []string{
		"#_vis_opt_path_hides",
		"#onetrust-accept-btn-handler",
		".cookie-banner .accept",
		"p.ot-dpd-desc + button",
	}
	a.LoginSuccessMarkers = []string{"Almost done", "Welcome", "Dashboard"}
	a.InvalidCredentialMarkers = []string{"invalid credentials"}
	a.ConfirmationMarker = "Your request has been sent"
	a.Selectors = FormSelectors{
		Email:       `[name="email"]`,
		Password:    `[name="password"]`,
		LoginSubmit: `button[type="submit"].button--primary`,
		Motivation:  `[name="contact_agent_huurprofiel_form[motivation]"]`,
		Submit:      `button.form__button--submit.form__button--submit-normal`,
	}
	a.ProfileSelectors = map[string]string{
		FieldSalutation: `[name="contact_agent_huurprofiel_form[salutation]"]`,
		FieldFirstName:  `[name="contact_agent_huurprofiel_form[first_name]"]`,
		FieldLastName:   `[name="contact_agent_huurprofiel_form[last_name]"]`,
		FieldPhone:      `[name="contact_agent_huurprofiel_form[phone_number]"]`,
		FieldBirthDate:  `[name="contact_agent_huurprofiel_form[date_of_birth]"]`,
	}
}

// loadApplicationConfig overlays config/application.yaml on the defaults.
func (c *Config) loadApplicationConfig() error {
	path := filepath.Join(c.ConfigDir, "application.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	defaults := c.Application.ProfileSelectors
	if err := yaml.Unmarshal(data, &c.Application); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for name, sel := range defaults {
		if _, ok := c.Application.ProfileSelectors[name]; !ok {
			c.Application.ProfileSelectors[name] = sel
		}
	}
	return nil
}

func (c *Config) loadSiteConfigs() error {
	configDir := filepath.Join(c.ConfigDir, "sites")
	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(configDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		site, err := ParseSite(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		c.Sites[site.ID] = site
	}

	return nil
}

// ParseSite decodes one site file and fills defaults.
func ParseSite(data []byte) (*SiteConfig, error) {
	var site SiteConfig
	if err := yaml.Unmarshal(data, &site); err != nil {
		return nil, err
	}
	if site.FilterProfile == "" {
		site.FilterProfile = ProfileDefault
		if site.AutoApply {
			site.FilterProfile = ProfilePrimary
		}
	}
	if site.Name == "" {
		site.Name = site.ID
	}
	return &site, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
