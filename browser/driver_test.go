package browser

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubElement struct {
	visible      bool
	disabled     bool
	enableAfter  int
	checks       int
	clickErr     error
	clicks       int
	dispatched   int
	dispatchFail bool
}

func (e *stubElement) Fill(string) error { return nil }
func (e *stubElement) Value() (string, error) { return "", nil }
func (e *stubElement) SelectOption(string) error { return nil }
func (e *stubElement) SelectedText() (string, error) { return "", nil }
func (e *stubElement) IsVisible() (bool, error) { return e.visible, nil }
func (e *stubElement) IsEnabled() (bool, error) {
	e.checks++
	return !e.disabled && e.checks > e.enableAfter, nil
}
func (e *stubElement) ScrollIntoView() error { return nil }
func (e *stubElement) Click() error {
	e.clicks++
	return e.clickErr
}
func (e *stubElement) DispatchClick() error {
	e.dispatched++
	if e.dispatchFail {
		return errors.New("detached")
	}
	return nil
}

type stubSession struct {
	pages    []string
	calls    int
	elements map[string]*stubElement
}

func (s *stubSession) Goto(string) error { return nil }
func (s *stubSession) Find(sel string, _ time.Duration) (Element, error) {
	if el, ok := s.elements[sel]; ok {
		return el, nil
	}
	return nil, ErrNotFound
}
func (s *stubSession) Content() (string, error) {
	i := s.calls
	if i >= len(s.pages) {
		i = len(s.pages) - 1
	}
	s.calls++
	return s.pages[i], nil
}
func (s *stubSession) Screenshot(string) error { return nil }
func (s *stubSession) Reload() error { return nil }
func (s *stubSession) Close() error { return nil }

func TestWaitForTextFindsMarker(t *testing.T) {
	s := &stubSession{pages: []string{"<p>loading</p>", "<p>loading</p>", "<h1>Welcome back</h1>"}}
	got, err := WaitForText(context.Background(), s, []string{"Dashboard", "Welcome"}, time.Second, time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got != "Welcome" {
		t.Fatalf("expected Welcome, got %q", got)
	}
}

func TestWaitForTextTimesOut(t *testing.T) {
	s := &stubSession{pages: []string{"<p>nothing</p>"}}
	_, err := WaitForText(context.Background(), s, []string{"Welcome"}, 20*time.Millisecond, 5*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestWaitForTextIgnoresCase(t *testing.T) {
	s := &stubSession{pages: []string{"<p>Invalid Credentials</p>"}}
	got, err := WaitForText(context.Background(), s, []string{"Welcome", "invalid credentials"}, time.Second, time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got != "invalid credentials" {
		t.Fatalf("expected configured marker back, got %q", got)
	}
}

func TestWaitVisibleIgnoresHiddenElement(t *testing.T) {
	sel := TextSelector("Your request has been sent")
	done := &stubElement{visible: false}
	s := &stubSession{elements: map[string]*stubElement{sel: done}}

	if _, err := WaitVisible(context.Background(), s, sel, 20*time.Millisecond, time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout for hidden element, got %v", err)
	}

	done.visible = true
	el, err := WaitVisible(context.Background(), s, sel, 20*time.Millisecond, time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if el != done {
		t.Fatal("expected the matched element back")
	}
}

func TestWaitClickablePollsUntilEnabled(t *testing.T) {
	submit := &stubElement{visible: true, enableAfter: 3}
	s := &stubSession{elements: map[string]*stubElement{"#submit": submit}}

	if _, err := WaitClickable(context.Background(), s, "#submit", time.Second, time.Millisecond); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if submit.checks != 4 {
		t.Fatalf("expected 4 checks, got %d", submit.checks)
	}

	stuck := &stubElement{visible: true, disabled: true}
	s.elements["#stuck"] = stuck
	if _, err := WaitClickable(context.Background(), s, "#stuck", 10*time.Millisecond, time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if _, err := WaitClickable(context.Background(), s, "#missing", 10*time.Millisecond, time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout for missing element, got %v", err)
	}
}

func TestDismissOverlays(t *testing.T) {
	cookie := &stubElement{visible: true}
	hidden := &stubElement{visible: false}
	blocked := &stubElement{visible: true, clickErr: errors.New("intercepted")}
	s := &stubSession{elements: map[string]*stubElement{
		"#cookie":  cookie,
		"#hidden":  hidden,
		"#blocked": blocked,
	}}

	got := DismissOverlays(s, []string{"#missing", "#cookie", "#hidden", "#blocked"}, time.Millisecond)
	if len(got) != 2 || got[0] != "#cookie" || got[1] != "#blocked" {
		t.Fatalf("unexpected dismissed list %v", got)
	}
	if hidden.clicks != 0 {
		t.Fatal("invisible overlay must not be clicked")
	}
	if blocked.dispatched != 1 {
		t.Fatal("intercepted click must fall back to a dispatched click")
	}
}
