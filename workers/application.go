package workers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"rentwatch/browser"
	"rentwatch/config"
	"rentwatch/identity"
	"rentwatch/models"
	"rentwatch/services"
)

type State string

const (
	StateIdle          State = "idle"
	StateLoggingIn     State = "logging_in"
	StateLoggedIn      State = "logged_in"
	StateFillingForm   State = "filling_form"
	StateSubmitting    State = "submitting"
	StateVerifying     State = "verifying"
	StateDone          State = "done"
	StateFailed        State = "failed"
	StateLoginFailed   State = "login_failed"
	StateSessionClosed State = "session_closed"

	// StateNotAttempted marks a job that never ran because login failed.
	StateNotAttempted State = "not_attempted"
)

var (
	ErrLoginTimeout       = errors.New("login timed out")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrFieldMismatch      = errors.New("field value mismatch")
	ErrSubmitUnavailable  = errors.New("submit control not clickable")
	ErrNoCredentials      = errors.New("application credentials not configured")
	ErrProfileIncomplete  = errors.New("applicant profile incomplete")
)

const (
	overlayTimeout = 2 * time.Second
	pollInterval   = 500 * time.Millisecond
)

// S3Uploader interface for uploading to S3-compatible storage
type S3Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
}

// ApplicationJob is one listing to apply for on the logged-in session.
type ApplicationJob struct {
	Record  models.ListingRecord
	Session browser.Session
}

type JobResult struct {
	URL         string
	State       State
	FailedField string
	Err         error
	Snapshot    string
}

// Report summarizes one workflow run.
type Report struct {
	Attempted    int
	Done         int
	Failed       int
	NotAttempted int
	LoginErr     error
	Results      []JobResult
}

// Attempts converts the report into rows for the store.
func (r Report) Attempts(runID uuid.UUID, siteID string) []models.ApplicationAttempt {
	now := time.Now()
	out := make([]models.ApplicationAttempt, 0, len(r.Results))
	for _, res := range r.Results {
		a := models.ApplicationAttempt{
			RunID:       runID,
			SiteID:      siteID,
			URL:         res.URL,
			State:       string(res.State),
			FailedField: res.FailedField,
			CreatedAt:   now,
		}
		if res.Err != nil {
			a.Error = res.Err.Error()
		}
		out = append(out, a)
	}
	return out
}

// ApplicationWorker logs in once and submits the contact form of each
// listing in turn on the same session.
type ApplicationWorker struct {
	launcher    browser.Launcher
	cfg         config.ApplicationConfig
	snapshotDir string
	uploader    S3Uploader
	log         *logrus.Entry
	logFn       LogFunc

	sleep func(ctx context.Context, d time.Duration)
	poll  time.Duration
	state State
}

func NewApplicationWorker(launcher browser.Launcher, cfg config.ApplicationConfig, snapshotDir string, uploader S3Uploader, log *logrus.Entry) *ApplicationWorker {
	return &ApplicationWorker{
		launcher:    launcher,
		cfg:         cfg,
		snapshotDir: snapshotDir,
		uploader:    uploader,
		log:         log.WithField("component", "apply"),
		logFn:       NoOpLogger,
		sleep:       sleepCtx,
		poll:        pollInterval,
		state:       StateIdle,
	}
}

// SetLogFunc routes workflow events to the run log.
func (w *ApplicationWorker) SetLogFunc(fn LogFunc) {
	if fn == nil {
		fn = NoOpLogger
	}
	w.logFn = fn
}

func (w *ApplicationWorker) State() State {
	return w.state
}

// Run applies for every record in order. A login failure marks every record
// not attempted and is reported, never returned.
func (w *ApplicationWorker) Run(ctx context.Context, records []models.ListingRecord) Report {
	var report Report
	w.state = StateIdle
	if len(records) == 0 {
		return report
	}

	session, err := w.login(ctx)
	if err != nil {
		w.state = StateLoginFailed
		report.LoginErr = err
		w.log.Errorf("login failed: %v", err)
		w.logFn(models.LogLevelError, fmt.Sprintf("login failed, %d applications not attempted: %v", len(records), err))
		for _, r := range records {
			report.NotAttempted++
			report.Results = append(report.Results, JobResult{URL: r.URL, State: StateNotAttempted, Err: err})
		}
		return report
	}
	defer func() {
		if err := session.Close(); err != nil {
			w.log.Warnf("close session: %v", err)
		}
		w.state = StateSessionClosed
	}()

	for i, r := range records {
		if ctx.Err() != nil {
			report.NotAttempted++
			report.Results = append(report.Results, JobResult{URL: r.URL, State: StateNotAttempted, Err: ctx.Err()})
			continue
		}
		if i > 0 {
			w.sleep(ctx, w.cfg.InterJobDelay)
		}

		res := w.apply(ctx, ApplicationJob{Record: r, Session: session})
		report.Attempted++
		if res.State == StateDone {
			report.Done++
		} else {
			report.Failed++
		}
		report.Results = append(report.Results, res)

		if err := session.Reload(); err != nil {
			w.log.Warnf("reset after %s: %v", r.URL, err)
		}
		w.sleep(ctx, w.cfg.ResetPause)
	}

	w.log.WithFields(logrus.Fields{
		"attempted": report.Attempted,
		"done":      report.Done,
		"failed":    report.Failed,
	}).Info("application run finished")
	return report
}

func (w *ApplicationWorker) login(ctx context.Context) (browser.Session, error) {
	w.state = StateLoggingIn
	if w.cfg.Email == "" || w.cfg.Password == "" {
		return nil, ErrNoCredentials
	}
	var missing []string
	for _, f := range w.cfg.ProfileFields() {
		if strings.TrimSpace(f.Value) == "" {
			missing = append(missing, f.Name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrProfileIncomplete, strings.Join(missing, ", "))
	}

	session, err := w.launcher.Launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	if err := w.submitLogin(ctx, session); err != nil {
		w.snapshot(ctx, session, "login_error")
		session.Close()
		return nil, err
	}

	w.state = StateLoggedIn
	w.log.Info("logged in")
	return session, nil
}

func (w *ApplicationWorker) submitLogin(ctx context.Context, s browser.Session) error {
	if err := s.Goto(w.cfg.LoginURL); err != nil {
		return fmt.Errorf("open login page: %w", err)
	}
	if dismissed := browser.DismissOverlays(s, w.cfg.OverlaySelectors, overlayTimeout); len(dismissed) > 0 {
		w.log.Debugf("dismissed overlays: %v", dismissed)
	}

	email, err := s.Find(w.cfg.Selectors.Email, w.cfg.FieldTimeout)
	if err != nil {
		return fmt.Errorf("email field: %w", err)
	}
	if err := email.Fill(w.cfg.Email); err != nil {
		return fmt.Errorf("fill email: %w", err)
	}
	password, err := s.Find(w.cfg.Selectors.Password, w.cfg.FieldTimeout)
	if err != nil {
		return fmt.Errorf("password field: %w", err)
	}
	if err := password.Fill(w.cfg.Password); err != nil {
		return fmt.Errorf("fill password: %w", err)
	}

	submit, err := s.Find(w.cfg.Selectors.LoginSubmit, w.cfg.FieldTimeout)
	if err != nil {
		return fmt.Errorf("login button: %w", err)
	}
	if err := click(submit); err != nil {
		return fmt.Errorf("click login: %w", err)
	}

	markers := append(append([]string{}, w.cfg.InvalidCredentialMarkers...), w.cfg.LoginSuccessMarkers...)
	found, err := browser.WaitForText(ctx, s, markers, w.cfg.LoginTimeout, w.poll)
	if err != nil {
		if errors.Is(err, browser.ErrTimeout) {
			return ErrLoginTimeout
		}
		return err
	}
	for _, m := range w.cfg.InvalidCredentialMarkers {
		if found == m {
			return ErrInvalidCredentials
		}
	}
	return nil
}

func (w *ApplicationWorker) apply(ctx context.Context, job ApplicationJob) JobResult {
	r := job.Record
	s := job.Session
	res := JobResult{URL: r.URL}
	log := w.log.WithField("url", r.URL)

	fail := func(field string, err error) JobResult {
		w.state = StateFailed
		res.State = StateFailed
		res.FailedField = field
		res.Err = err
		res.Snapshot = w.snapshot(ctx, s, "apply_error_"+identity.Slug(r.URL))
		if field != "" {
			log.Errorf("application failed at %s: %v", field, err)
		} else {
			log.Errorf("application failed: %v", err)
		}
		w.logFn(models.LogLevelError, fmt.Sprintf("application for %s failed: %v", r.URL, err))
		return res
	}

	w.state = StateFillingForm
	if r.FormLink == "" {
		return fail("", errors.New("listing has no form link"))
	}
	if err := s.Goto(r.FormLink); err != nil {
		return fail("", fmt.Errorf("open form: %w", err))
	}
	browser.DismissOverlays(s, w.cfg.OverlaySelectors, overlayTimeout)

	tmpl, err := services.LoadTemplate(w.cfg.MotivationTemplate)
	if err != nil {
		return fail("motivation", err)
	}
	motivation, err := services.RenderRecord(tmpl, r)
	if err != nil {
		return fail("motivation", err)
	}
	if err := w.fillAndVerify(s, config.ProfileField{Name: "motivation", Selector: w.cfg.Selectors.Motivation, Value: motivation}); err != nil {
		return fail("motivation", err)
	}

	for _, f := range w.cfg.ProfileFields() {
		if err := w.fillAndVerify(s, f); err != nil {
			return fail(f.Name, err)
		}
	}

	w.state = StateSubmitting
	submit, err := browser.WaitClickable(ctx, s, w.cfg.Selectors.Submit, w.cfg.FieldTimeout, w.poll)
	if err != nil {
		return fail("submit", fmt.Errorf("%w: %v", ErrSubmitUnavailable, err))
	}
	if err := submit.ScrollIntoView(); err != nil {
		log.Debugf("scroll to submit: %v", err)
	}
	if err := click(submit); err != nil {
		return fail("submit", fmt.Errorf("click submit: %w", err))
	}

	w.state = StateVerifying
	if _, err := browser.WaitVisible(ctx, s, browser.TextSelector(w.cfg.ConfirmationMarker), w.cfg.SubmitTimeout, w.poll); err != nil {
		return fail("", fmt.Errorf("no confirmation: %w", err))
	}

	w.state = StateDone
	res.State = StateDone
	log.Info("application sent")
	w.logFn(models.LogLevelInfo, "application sent for "+r.URL)
	return res
}

// fillAndVerify sets a field and reads it back. Select fields are compared
// by the visible text of the selected option.
func (w *ApplicationWorker) fillAndVerify(s browser.Session, f config.ProfileField) error {
	el, err := s.Find(f.Selector, w.cfg.FieldTimeout)
	if err != nil {
		return err
	}

	var got string
	if f.Select {
		if err := el.SelectOption(f.Value); err != nil {
			return fmt.Errorf("select %q: %w", f.Value, err)
		}
		got, err = el.SelectedText()
	} else {
		if err := el.Fill(f.Value); err != nil {
			return fmt.Errorf("fill: %w", err)
		}
		got, err = el.Value()
	}
	if err != nil {
		return fmt.Errorf("read back: %w", err)
	}

	if normalizeValue(got) != normalizeValue(f.Value) {
		return fmt.Errorf("%w: %s is %q, want %q", ErrFieldMismatch, f.Name, got, f.Value)
	}
	return nil
}

// snapshot saves a screenshot and the page source and returns the image
// path, or "" when nothing could be saved.
func (w *ApplicationWorker) snapshot(ctx context.Context, s browser.Session, name string) string {
	if err := os.MkdirAll(w.snapshotDir, 0o755); err != nil {
		w.log.Warnf("snapshot dir: %v", err)
		return ""
	}
	base := fmt.Sprintf("%s_%s", name, time.Now().Format("20060102_150405"))
	png := filepath.Join(w.snapshotDir, base+".png")
	html := filepath.Join(w.snapshotDir, base+".html")

	saved := ""
	if err := s.Screenshot(png); err != nil {
		w.log.Warnf("screenshot: %v", err)
	} else {
		saved = png
		w.upload(ctx, png, "image/png")
	}
	if content, err := s.Content(); err == nil {
		if err := os.WriteFile(html, []byte(content), 0o644); err != nil {
			w.log.Warnf("save page source: %v", err)
		} else {
			w.upload(ctx, html, "text/html")
			if saved == "" {
				saved = html
			}
		}
	}
	if saved != "" {
		w.log.Infof("saved diagnostic snapshot %s", saved)
	}
	return saved
}

func (w *ApplicationWorker) upload(ctx context.Context, path, contentType string) {
	if w.uploader == nil {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if err := w.uploader.Upload(ctx, filepath.Base(path), bytes.NewReader(data), contentType); err != nil {
		w.log.Warnf("upload %s: %v", filepath.Base(path), err)
	}
}

// click tries a real click first and falls back to a dispatched click when
// the control is covered.
func click(el browser.Element) error {
	if err := el.Click(); err != nil {
		if derr := el.DispatchClick(); derr != nil {
			return fmt.Errorf("%v; dispatch: %w", err, derr)
		}
	}
	return nil
}

func normalizeValue(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
