package action

import (
	"context"
	"errors"
	"testing"
	"time"

	"punchbot/internal/page"
	"punchbot/pkg/logx"
)

func quickConfig() Config {
	return Config{SettleDelay: time.Millisecond, MarkerDuration: 50 * time.Millisecond}
}

func newSession(t *testing.T, src string) *page.Session {
	t.Helper()
	doc, err := page.ParseString(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	s := page.NewSession("action-test", "https://hr.example/attendance", doc, nil, logx.Nop(), nil)
	t.Cleanup(s.Close)
	return s
}

func TestActivateSequence(t *testing.T) {
	s := newSession(t, `<button id="b">Check In</button>`)
	el := s.Document().ByID("b")

	var events []string
	for _, typ := range []string{"focus", "click", "mousedown", "mouseup"} {
		typ := typ
		s.AddListener(el, typ, func(*page.Event) { events = append(events, typ) })
	}

	x := New(quickConfig(), logx.Nop())
	if err := x.Activate(context.Background(), s, el); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	if s.ViewportAnchor() != el {
		t.Fatalf("control was not scrolled into view")
	}
	if s.ActiveElement() != el {
		t.Fatalf("control was not focused")
	}

	// focus, semantic click, then the raw triad.
	want := []string{"focus", "click", "mousedown", "mouseup", "click"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events[%d] = %q, want %q", i, events[i], want[i])
		}
	}
}

func TestActivateAppliesAndRevertsMarker(t *testing.T) {
	s := newSession(t, `<button id="b">Check In</button>`)
	el := s.Document().ByID("b")

	marked := false
	s.AddListener(el, "click", func(*page.Event) {
		marked = el.HasAttr("data-punchbot-flash")
	})

	x := New(quickConfig(), logx.Nop())
	if err := x.Activate(context.Background(), s, el); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if !marked {
		t.Fatalf("marker was not applied during activation")
	}

	// The revert runs on the session event loop; observe it from there.
	s.SetHandler(func(context.Context, any) any {
		return el.HasAttr("data-punchbot-flash")
	})
	scan := func() bool {
		t.Helper()
		reply := make(chan any, 1)
		if err := s.Deliver(page.Inbound{Data: "scan", Reply: reply}); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
		select {
		case out := <-reply:
			return out.(bool)
		case <-time.After(2 * time.Second):
			t.Fatalf("no reply")
			return false
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for scan() {
		if time.Now().After(deadline) {
			t.Fatalf("marker never reverted")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestActivateFormFallbackWhenNoNavigation(t *testing.T) {
	// A non-submit button inside a form: the semantic click runs no
	// default action, so the compensating submit must kick in. The
	// submit listener prevents it so no fetcher is needed.
	s := newSession(t, `<form id="f"><button id="b" type="button">Check In</button></form>`)
	el := s.Document().ByID("b")
	form := s.Document().ByID("f")

	submits := 0
	s.AddListener(form, "submit", func(ev *page.Event) {
		submits++
		ev.PreventDefault()
	})

	x := New(quickConfig(), logx.Nop())
	if err := x.Activate(context.Background(), s, el); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if submits != 1 {
		t.Fatalf("compensating submit ran %d times, want 1", submits)
	}
}

func TestActivateNoFormNoFallback(t *testing.T) {
	s := newSession(t, `<button id="b" type="button">Check In</button>`)
	el := s.Document().ByID("b")

	x := New(quickConfig(), logx.Nop())
	if err := x.Activate(context.Background(), s, el); err != nil {
		t.Fatalf("Activate outside a form must not try to submit: %v", err)
	}
}

func TestActivateStopsWhenSessionCloses(t *testing.T) {
	s := newSession(t, `<button id="b">Check In</button>`)
	el := s.Document().ByID("b")
	s.Close()

	x := New(Config{SettleDelay: time.Hour, MarkerDuration: time.Millisecond}, logx.Nop())
	err := x.Activate(context.Background(), s, el)

	var ae *ActivationError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want ActivationError", err)
	}
	if ae.Step != "settle" {
		t.Fatalf("step = %q, want settle", ae.Step)
	}
	if !errors.Is(err, page.ErrClosed) {
		t.Fatalf("cause = %v, want ErrClosed", errors.Unwrap(err))
	}
}
