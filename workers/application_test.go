package workers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"rentwatch/browser"
	"rentwatch/config"
	"rentwatch/logging"
	"rentwatch/models"
)

const (
	selEmail      = "#email"
	selPassword   = "#password"
	selLogin      = "#login"
	selMotivation = "#motivation"
	selSubmit     = "#submit"
	selSalutation = "#salutation"

	confirmText = "Your request has been sent"
)

// fakeElement turns enabled once IsEnabled was asked more than enableAfter
// times, when enableAfter is set.
type fakeElement struct {
	session     *fakeSession
	value       string
	selectText  func(label string) string
	onClick     func()
	clickErr    error
	visible     bool
	enabled     bool
	enableAfter int
	checks      int
	clicks      int
	dispatches  int
}

func (e *fakeElement) Fill(v string) error {
	e.value = v
	return nil
}

func (e *fakeElement) Value() (string, error) {
	return e.value, nil
}

func (e *fakeElement) SelectOption(label string) error {
	e.value = label
	if e.selectText != nil {
		e.value = e.selectText(label)
	}
	return nil
}

func (e *fakeElement) SelectedText() (string, error) {
	return e.value, nil
}

func (e *fakeElement) Click() error {
	e.clicks++
	if e.clickErr != nil {
		return e.clickErr
	}
	if e.onClick != nil {
		e.onClick()
	}
	return nil
}

func (e *fakeElement) DispatchClick() error {
	e.dispatches++
	if e.onClick != nil {
		e.onClick()
	}
	return nil
}

func (e *fakeElement) IsVisible() (bool, error) { return e.visible, nil }

func (e *fakeElement) IsEnabled() (bool, error) {
	e.checks++
	if e.enableAfter > 0 && e.checks > e.enableAfter {
		return true, nil
	}
	return e.enabled, nil
}

func (e *fakeElement) ScrollIntoView() error { return nil }

type fakeSession struct {
	content     string
	visited     []string
	reloads     int
	screenshots []string
	closed      bool
	elements    map[string]*fakeElement
}

func newFakeSession() *fakeSession {
	s := &fakeSession{elements: make(map[string]*fakeElement)}
	for _, sel := range []string{selEmail, selPassword, selMotivation, "#first", "#last", "#phone", "#birth"} {
		s.elements[sel] = &fakeElement{session: s, visible: true, enabled: true}
	}
	s.elements[selSalutation] = &fakeElement{session: s, visible: true, enabled: true}
	s.elements[selLogin] = &fakeElement{session: s, visible: true, enabled: true, onClick: func() {
		s.content = "<h1>Welcome</h1>"
	}}
	confirmation := &fakeElement{session: s, enabled: true}
	s.elements[browser.TextSelector(confirmText)] = confirmation
	s.elements[selSubmit] = &fakeElement{session: s, visible: true, enabled: true, onClick: func() {
		s.content = "<p>" + confirmText + "</p>"
		confirmation.visible = true
	}}
	return s
}

func (s *fakeSession) confirmation() *fakeElement {
	return s.elements[browser.TextSelector(confirmText)]
}

func (s *fakeSession) Goto(url string) error {
	s.visited = append(s.visited, url)
	s.content = "<form></form>"
	s.confirmation().visible = false
	return nil
}

func (s *fakeSession) Find(sel string, _ time.Duration) (browser.Element, error) {
	el, ok := s.elements[sel]
	if !ok {
		return nil, browser.ErrNotFound
	}
	return el, nil
}

func (s *fakeSession) Content() (string, error) { return s.content, nil }

func (s *fakeSession) Screenshot(path string) error {
	s.screenshots = append(s.screenshots, path)
	return os.WriteFile(path, []byte("png"), 0o644)
}

func (s *fakeSession) Reload() error {
	s.reloads++
	s.content = ""
	s.confirmation().visible = false
	return nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type fakeLauncher struct {
	session  *fakeSession
	launches int
}

func (l *fakeLauncher) Launch(context.Context) (browser.Session, error) {
	l.launches++
	return l.session, nil
}

type sleepLog struct {
	calls []time.Duration
}

func (s *sleepLog) sleep(_ context.Context, d time.Duration) {
	s.calls = append(s.calls, d)
}

func testConfig(t *testing.T) config.ApplicationConfig {
	t.Helper()
	tmpl := filepath.Join(t.TempDir(), "motivation.txt")
	if err := os.WriteFile(tmpl, []byte("Dear {Agency_Name},\r\nI like {Title}.\r\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return config.ApplicationConfig{
		Email:                    "me@example.com",
		Password:                 "secret",
		MotivationTemplate:       tmpl,
		LoginTimeout:             30 * time.Millisecond,
		FieldTimeout:             time.Millisecond,
		SubmitTimeout:            30 * time.Millisecond,
		ResetPause:               3 * time.Second,
		InterJobDelay:            10 * time.Second,
		LoginURL:                 "https://example.com/login",
		LoginSuccessMarkers:      []string{"Welcome", "Dashboard"},
		InvalidCredentialMarkers: []string{"invalid credentials"},
		ConfirmationMarker:       confirmText,
		Selectors: config.FormSelectors{
			Email:       selEmail,
			Password:    selPassword,
			LoginSubmit: selLogin,
			Motivation:  selMotivation,
			Submit:      selSubmit,
		},
		ProfileSelectors: map[string]string{
			config.FieldSalutation: selSalutation,
			config.FieldFirstName:  "#first",
			config.FieldLastName:   "#last",
			config.FieldPhone:      "#phone",
			config.FieldBirthDate:  "#birth",
		},
		Profile: config.ApplicantProfile{
			Salutation: "Mrs.",
			FirstName:  "Ada",
			LastName:   "Lovelace",
			Phone:      "+31600000000",
			BirthDate:  "10-12-1995",
		},
	}
}

func newTestWorker(t *testing.T, cfg config.ApplicationConfig, l browser.Launcher) (*ApplicationWorker, *sleepLog, string) {
	t.Helper()
	dir := t.TempDir()
	w := NewApplicationWorker(l, cfg, dir, nil, logging.Discard())
	sl := &sleepLog{}
	w.sleep = sl.sleep
	w.poll = time.Millisecond
	return w, sl, dir
}

func listings(urls ...string) []models.ListingRecord {
	out := make([]models.ListingRecord, len(urls))
	for i, u := range urls {
		out[i] = models.ListingRecord{
			SiteID:     "pararius",
			URL:        u,
			Title:      "Flat " + u,
			AgencyName: "stones-housing",
			FormLink:   u + "/contact",
		}
	}
	return out
}

func TestRunEmptyDoesNotLaunch(t *testing.T) {
	l := &fakeLauncher{session: newFakeSession()}
	w, _, _ := newTestWorker(t, testConfig(t), l)
	report := w.Run(context.Background(), nil)
	if l.launches != 0 || report.Attempted != 0 {
		t.Fatalf("expected no browser work, got %d launches", l.launches)
	}
}

func TestLoginTimeoutMarksAllNotAttempted(t *testing.T) {
	s := newFakeSession()
	s.elements[selLogin].onClick = nil
	w, _, dir := newTestWorker(t, testConfig(t), &fakeLauncher{session: s})

	report := w.Run(context.Background(), listings("https://p/1", "https://p/2", "https://p/3"))

	if !errors.Is(report.LoginErr, ErrLoginTimeout) {
		t.Fatalf("expected ErrLoginTimeout, got %v", report.LoginErr)
	}
	if report.Attempted != 0 || report.NotAttempted != 3 {
		t.Fatalf("expected 0 attempted and 3 not attempted, got %d / %d", report.Attempted, report.NotAttempted)
	}
	for _, r := range report.Results {
		if r.State != StateNotAttempted {
			t.Fatalf("unexpected state %s for %s", r.State, r.URL)
		}
	}
	if len(s.screenshots) != 1 {
		t.Fatalf("expected one diagnostic screenshot, got %d", len(s.screenshots))
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "login_error_*.html"))
	if len(matches) != 1 {
		t.Fatalf("expected page source snapshot, got %v", matches)
	}
	if w.State() != StateLoginFailed {
		t.Fatalf("state = %s", w.State())
	}
	if s.elements[selSubmit].clicks != 0 {
		t.Fatal("no form must be submitted after a failed login")
	}
}

func TestInvalidCredentials(t *testing.T) {
	s := newFakeSession()
	s.elements[selLogin].onClick = func() { s.content = "Error: invalid credentials" }
	w, _, _ := newTestWorker(t, testConfig(t), &fakeLauncher{session: s})

	report := w.Run(context.Background(), listings("https://p/1"))
	if !errors.Is(report.LoginErr, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", report.LoginErr)
	}
	if !s.closed {
		t.Fatal("session must be closed after failed login")
	}
}

func TestInvalidCredentialsIgnoresCase(t *testing.T) {
	s := newFakeSession()
	s.elements[selLogin].onClick = func() { s.content = "<div class=\"alert\">Invalid Credentials</div>" }
	w, _, _ := newTestWorker(t, testConfig(t), &fakeLauncher{session: s})

	report := w.Run(context.Background(), listings("https://p/1"))
	if !errors.Is(report.LoginErr, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", report.LoginErr)
	}
}

func TestIncompleteProfileSkipsBrowser(t *testing.T) {
	cfg := testConfig(t)
	cfg.Profile.FirstName = ""
	cfg.Profile.LastName = "  "
	s := newFakeSession()
	s.elements["#first"].value = "Ada"
	l := &fakeLauncher{session: s}
	w, _, _ := newTestWorker(t, cfg, l)

	report := w.Run(context.Background(), listings("https://p/1"))
	if !errors.Is(report.LoginErr, ErrProfileIncomplete) {
		t.Fatalf("expected ErrProfileIncomplete, got %v", report.LoginErr)
	}
	if !strings.Contains(report.LoginErr.Error(), config.FieldFirstName) || !strings.Contains(report.LoginErr.Error(), config.FieldLastName) {
		t.Fatalf("error should name the empty fields: %v", report.LoginErr)
	}
	if l.launches != 0 {
		t.Fatalf("browser must not launch, got %d launches", l.launches)
	}
	if report.NotAttempted != 1 || report.Results[0].State != StateNotAttempted {
		t.Fatalf("unexpected report %+v", report)
	}
	if s.elements["#first"].value != "Ada" || s.elements[selSubmit].clicks != 0 {
		t.Fatal("form must be left untouched")
	}
}

func TestMissingCredentialsSkipsBrowser(t *testing.T) {
	cfg := testConfig(t)
	cfg.Password = ""
	l := &fakeLauncher{session: newFakeSession()}
	w, _, _ := newTestWorker(t, cfg, l)

	report := w.Run(context.Background(), listings("https://p/1"))
	if !errors.Is(report.LoginErr, ErrNoCredentials) || l.launches != 0 {
		t.Fatalf("expected ErrNoCredentials without launch, got %v / %d", report.LoginErr, l.launches)
	}
}

func TestApplySuccess(t *testing.T) {
	s := newFakeSession()
	w, sl, _ := newTestWorker(t, testConfig(t), &fakeLauncher{session: s})

	report := w.Run(context.Background(), listings("https://p/1", "https://p/2"))
	if report.LoginErr != nil {
		t.Fatalf("login: %v", report.LoginErr)
	}
	if report.Attempted != 2 || report.Done != 2 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if got := s.elements[selMotivation].value; got != "Dear stones-housing,\r\nI like Flat https://p/2.\r\n" {
		t.Fatalf("motivation = %q", got)
	}
	if got := s.elements["#first"].value; got != "Ada" {
		t.Fatalf("first name = %q", got)
	}
	if s.reloads != 2 {
		t.Fatalf("expected a reset after every job, got %d", s.reloads)
	}
	wantSleeps := []time.Duration{3 * time.Second, 10 * time.Second, 3 * time.Second}
	if len(sl.calls) != len(wantSleeps) {
		t.Fatalf("sleeps = %v", sl.calls)
	}
	for i, d := range wantSleeps {
		if sl.calls[i] != d {
			t.Fatalf("sleeps = %v; want %v", sl.calls, wantSleeps)
		}
	}
	if w.State() != StateSessionClosed || !s.closed {
		t.Fatalf("session not closed, state %s", w.State())
	}
	if len(s.visited) != 3 || s.visited[1] != "https://p/1/contact" {
		t.Fatalf("visited = %v", s.visited)
	}
}

func TestSalutationMismatchFailsWithoutSubmit(t *testing.T) {
	s := newFakeSession()
	calls := 0
	s.elements[selSalutation].selectText = func(label string) string {
		calls++
		if calls == 1 {
			return "Mr."
		}
		return label
	}
	w, _, _ := newTestWorker(t, testConfig(t), &fakeLauncher{session: s})

	report := w.Run(context.Background(), listings("https://p/1", "https://p/2"))
	if report.Attempted != 2 || report.Failed != 1 || report.Done != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	first := report.Results[0]
	if first.State != StateFailed || first.FailedField != config.FieldSalutation {
		t.Fatalf("unexpected first result %+v", first)
	}
	if !errors.Is(first.Err, ErrFieldMismatch) {
		t.Fatalf("expected ErrFieldMismatch, got %v", first.Err)
	}
	if first.Snapshot == "" {
		t.Fatal("expected diagnostic snapshot for failed job")
	}
	if s.elements[selSubmit].clicks != 1 {
		t.Fatalf("submit must only be clicked for the second job, got %d clicks", s.elements[selSubmit].clicks)
	}
	if report.Results[1].State != StateDone {
		t.Fatalf("second job must still run, got %+v", report.Results[1])
	}
}

func TestSubmitDisabled(t *testing.T) {
	s := newFakeSession()
	s.elements[selSubmit].enabled = false
	w, _, _ := newTestWorker(t, testConfig(t), &fakeLauncher{session: s})

	report := w.Run(context.Background(), listings("https://p/1"))
	res := report.Results[0]
	if res.State != StateFailed || !errors.Is(res.Err, ErrSubmitUnavailable) {
		t.Fatalf("unexpected result %+v", res)
	}
	if s.elements[selSubmit].clicks != 0 || s.elements[selSubmit].dispatches != 0 {
		t.Fatal("disabled submit must not be clicked")
	}
}

func TestSubmitEnabledAfterDelay(t *testing.T) {
	cfg := testConfig(t)
	cfg.FieldTimeout = time.Second
	s := newFakeSession()
	submit := s.elements[selSubmit]
	submit.enabled = false
	submit.enableAfter = 3
	w, _, _ := newTestWorker(t, cfg, &fakeLauncher{session: s})

	report := w.Run(context.Background(), listings("https://p/1"))
	if report.Done != 1 {
		t.Fatalf("expected submit to be used once enabled, got %+v", report.Results)
	}
	if submit.checks != 4 || submit.clicks != 1 {
		t.Fatalf("expected 4 checks and 1 click, got %d / %d", submit.checks, submit.clicks)
	}
}

func TestInterceptedClickFallsBackToDispatch(t *testing.T) {
	s := newFakeSession()
	s.elements[selSubmit].clickErr = errors.New("element click intercepted")
	w, _, _ := newTestWorker(t, testConfig(t), &fakeLauncher{session: s})

	report := w.Run(context.Background(), listings("https://p/1"))
	if report.Done != 1 {
		t.Fatalf("expected fallback click to succeed, got %+v", report.Results)
	}
	if s.elements[selSubmit].dispatches != 1 {
		t.Fatalf("expected one dispatched click, got %d", s.elements[selSubmit].dispatches)
	}
}

func TestMissingConfirmationFails(t *testing.T) {
	s := newFakeSession()
	s.elements[selSubmit].onClick = nil
	w, _, _ := newTestWorker(t, testConfig(t), &fakeLauncher{session: s})

	report := w.Run(context.Background(), listings("https://p/1"))
	res := report.Results[0]
	if res.State != StateFailed || !errors.Is(res.Err, browser.ErrTimeout) {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestHiddenConfirmationIsNotSuccess(t *testing.T) {
	s := newFakeSession()
	s.elements[selSubmit].onClick = func() {
		s.content = `<form></form><div style="display:none">` + confirmText + `</div>`
	}
	w, _, _ := newTestWorker(t, testConfig(t), &fakeLauncher{session: s})

	report := w.Run(context.Background(), listings("https://p/1"))
	res := report.Results[0]
	if res.State != StateFailed || !errors.Is(res.Err, browser.ErrTimeout) {
		t.Fatalf("hidden confirmation must not count, got %+v", res)
	}
	if report.Done != 0 || s.elements[selSubmit].clicks != 1 {
		t.Fatalf("expected one submit and no done jobs, got %d clicks / %d done", s.elements[selSubmit].clicks, report.Done)
	}
}

func TestMissingFormLinkFailsOnlyThatJob(t *testing.T) {
	s := newFakeSession()
	w, _, _ := newTestWorker(t, testConfig(t), &fakeLauncher{session: s})

	records := listings("https://p/1", "https://p/2")
	records[0].FormLink = ""
	report := w.Run(context.Background(), records)
	if report.Results[0].State != StateFailed || report.Results[1].State != StateDone {
		t.Fatalf("unexpected results %+v", report.Results)
	}

	attempts := report.Attempts(uuid.Nil, "pararius")
	if len(attempts) != 2 || attempts[0].Error == "" || attempts[1].State != string(StateDone) {
		t.Fatalf("unexpected attempts %+v", attempts)
	}
}
