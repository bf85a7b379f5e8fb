package browser

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrTimeout  = errors.New("browser: timed out")
	ErrNotFound = errors.New("browser: element not found")
)

// Launcher opens a fresh browser session.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// Session is one page of a running browser.
type Session interface {
	Goto(url string) error
	// Find waits up to timeout for selector to be attached and returns its
	// first match. It returns ErrNotFound when nothing matched in time.
	Find(selector string, timeout time.Duration) (Element, error)
	Content() (string, error)
	Screenshot(path string) error
	Reload() error
	Close() error
}

// Element is a located form control or button.
type Element interface {
	Fill(value string) error
	Value() (string, error)
	SelectOption(label string) error
	SelectedText() (string, error)
	Click() error
	// DispatchClick fires a click event from script, for controls that a
	// real click cannot reach because something is layered over them.
	DispatchClick() error
	IsVisible() (bool, error)
	IsEnabled() (bool, error)
	ScrollIntoView() error
}

// WaitForText polls the page source until it contains one of markers,
// ignoring case, and returns the marker found. It returns ErrTimeout when
// none shows up. Text in hidden elements counts; use WaitVisible when that
// matters.
func WaitForText(ctx context.Context, s Session, markers []string, timeout, poll time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if content, err := s.Content(); err == nil {
			content = strings.ToLower(content)
			for _, m := range markers {
				if m != "" && strings.Contains(content, strings.ToLower(m)) {
					return m, nil
				}
			}
		}

		select {
		case <-ctx.Done():
			return "", ErrTimeout
		case <-ticker.C:
		}
	}
}

// TextSelector matches the first visible element whose text contains text,
// ignoring case.
func TextSelector(text string) string {
	return "text=" + text + " >> visible=true"
}

// WaitVisible polls until selector matches a visible element.
func WaitVisible(ctx context.Context, s Session, selector string, timeout, poll time.Duration) (Element, error) {
	return waitElement(ctx, s, selector, timeout, poll, func(el Element) bool {
		visible, _ := el.IsVisible()
		return visible
	})
}

// WaitClickable polls until selector matches an element that is both visible
// and enabled.
func WaitClickable(ctx context.Context, s Session, selector string, timeout, poll time.Duration) (Element, error) {
	return waitElement(ctx, s, selector, timeout, poll, func(el Element) bool {
		visible, _ := el.IsVisible()
		enabled, _ := el.IsEnabled()
		return visible && enabled
	})
}

func waitElement(ctx context.Context, s Session, selector string, timeout, poll time.Duration, ready func(Element) bool) (Element, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if el, err := s.Find(selector, poll); err == nil && ready(el) {
			return el, nil
		}

		select {
		case <-ctx.Done():
			return nil, ErrTimeout
		case <-ticker.C:
		}
	}
}

// DismissOverlays clicks every visible overlay or consent control among
// selectors. Missing overlays are not an error.
func DismissOverlays(s Session, selectors []string, timeout time.Duration) []string {
	var dismissed []string
	for _, sel := range selectors {
		el, err := s.Find(sel, timeout)
		if err != nil {
			continue
		}
		if visible, _ := el.IsVisible(); !visible {
			continue
		}
		if err := el.Click(); err != nil {
			if err := el.DispatchClick(); err != nil {
				continue
			}
		}
		dismissed = append(dismissed, sel)
	}
	return dismissed
}
