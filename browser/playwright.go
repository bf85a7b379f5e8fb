package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/sirupsen/logrus"
)

const navigationTimeout = 60 * time.Second

// PlaywrightLauncher starts Chromium through playwright. The driver is
// started lazily on the first Launch and shared by later sessions.
type PlaywrightLauncher struct {
	headless bool
	log      *logrus.Entry

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

func NewPlaywrightLauncher(headless bool, log *logrus.Entry) *PlaywrightLauncher {
	return &PlaywrightLauncher{headless: headless, log: log.WithField("component", "browser")}
}

func (l *PlaywrightLauncher) ensureBrowser() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.browser != nil {
		return nil
	}

	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}
	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(l.headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	l.pw = pw
	l.browser = b
	return nil
}

func (l *PlaywrightLauncher) Launch(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := l.ensureBrowser(); err != nil {
		return nil, err
	}

	bctx, err := l.browser.NewContext(playwright.BrowserNewContextOptions{
		Locale: playwright.String("en-US"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	return &playwrightSession{ctx: bctx, page: page, log: l.log}, nil
}

// Close stops the shared browser and driver.
func (l *PlaywrightLauncher) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.browser != nil {
		l.browser.Close()
		l.browser = nil
	}
	if l.pw != nil {
		l.pw.Stop()
		l.pw = nil
	}
}

type playwrightSession struct {
	ctx  playwright.BrowserContext
	page playwright.Page
	log  *logrus.Entry
}

func (s *playwrightSession) Goto(url string) error {
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(navigationTimeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	return mapError(err)
}

func (s *playwrightSession) Find(selector string, timeout time.Duration) (Element, error) {
	loc := s.page.Locator(selector).First()
	err := loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return nil, fmt.Errorf("%s: %w", selector, ErrNotFound)
		}
		return nil, err
	}
	return &playwrightElement{loc: loc}, nil
}

func (s *playwrightSession) Content() (string, error) {
	return s.page.Content()
}

func (s *playwrightSession) Screenshot(path string) error {
	_, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	return err
}

func (s *playwrightSession) Reload() error {
	_, err := s.page.Reload(playwright.PageReloadOptions{
		Timeout:   playwright.Float(float64(navigationTimeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	return mapError(err)
}

func (s *playwrightSession) Close() error {
	if err := s.page.Close(); err != nil {
		s.log.Warnf("close page: %v", err)
	}
	return s.ctx.Close()
}

type playwrightElement struct {
	loc playwright.Locator
}

func (e *playwrightElement) Fill(value string) error {
	return mapError(e.loc.Fill(value))
}

func (e *playwrightElement) Value() (string, error) {
	v, err := e.loc.InputValue()
	return v, mapError(err)
}

func (e *playwrightElement) SelectOption(label string) error {
	_, err := e.loc.SelectOption(playwright.SelectOptionValues{Labels: &[]string{label}})
	return mapError(err)
}

func (e *playwrightElement) SelectedText() (string, error) {
	v, err := e.loc.Evaluate(`el => el.selectedIndex >= 0 ? el.options[el.selectedIndex].text : ""`, nil)
	if err != nil {
		return "", mapError(err)
	}
	text, _ := v.(string)
	return text, nil
}

func (e *playwrightElement) Click() error {
	return mapError(e.loc.Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(5000),
	}))
}

func (e *playwrightElement) DispatchClick() error {
	return mapError(e.loc.DispatchEvent("click", nil))
}

func (e *playwrightElement) IsVisible() (bool, error) {
	return e.loc.IsVisible()
}

func (e *playwrightElement) IsEnabled() (bool, error) {
	return e.loc.IsEnabled()
}

func (e *playwrightElement) ScrollIntoView() error {
	return mapError(e.loc.ScrollIntoViewIfNeeded())
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
