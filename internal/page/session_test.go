package page

import (
	"context"
	"errors"
	"testing"
	"time"

	"punchbot/pkg/logx"
)

func newTestSession(t *testing.T, src string) *Session {
	t.Helper()
	doc := mustParse(t, src)
	s := NewSession("test", "https://hr.example/attendance", doc, nil, logx.Nop(), nil)
	t.Cleanup(s.Close)
	return s
}

func TestDeliverWithoutHandler(t *testing.T) {
	s := newTestSession(t, `<p>empty</p>`)
	err := s.Deliver(Inbound{Data: "ping"})
	if !errors.Is(err, ErrNoHandler) {
		t.Fatalf("err = %v, want ErrNoHandler", err)
	}
}

func TestDeliverAfterClose(t *testing.T) {
	s := newTestSession(t, `<p>empty</p>`)
	s.SetHandler(func(context.Context, any) any { return "pong" })
	s.Close()
	err := s.Deliver(Inbound{Data: "ping"})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestFocusedFlag(t *testing.T) {
	s := newTestSession(t, `<p>empty</p>`)
	if s.Focused() {
		t.Fatalf("new session must start non-focused")
	}
	s.SetFocused(true)
	if !s.Focused() {
		t.Fatalf("SetFocused(true) did not stick")
	}
}

func TestHandlerReply(t *testing.T) {
	s := newTestSession(t, `<p>empty</p>`)
	s.SetHandler(func(_ context.Context, data any) any {
		return "echo:" + data.(string)
	})

	reply := make(chan any, 1)
	if err := s.Deliver(Inbound{Data: "hi", Reply: reply}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	select {
	case got := <-reply:
		if got != "echo:hi" {
			t.Fatalf("reply = %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no reply")
	}
}

func TestMessagesSerialized(t *testing.T) {
	s := newTestSession(t, `<p>empty</p>`)

	inFlight := 0
	maxInFlight := 0
	s.SetHandler(func(_ context.Context, data any) any {
		// The event loop is the only goroutine running this, so the
		// counters need no locking; overlap would show up as maxInFlight > 1.
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		time.Sleep(5 * time.Millisecond)
		inFlight--
		return data
	})

	replies := make([]chan any, 8)
	for i := range replies {
		replies[i] = make(chan any, 1)
		if err := s.Deliver(Inbound{Data: i, Reply: replies[i]}); err != nil {
			t.Fatalf("Deliver %d: %v", i, err)
		}
	}
	for i, r := range replies {
		select {
		case got := <-r:
			if got != i {
				t.Fatalf("reply %d = %v, mailbox reordered", i, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("reply %d never arrived", i)
		}
	}
	if maxInFlight != 1 {
		t.Fatalf("handler overlap observed: maxInFlight = %d", maxInFlight)
	}
}

func TestHooks(t *testing.T) {
	s := newTestSession(t, `<p>empty</p>`)
	if s.HasHook("checkIn") {
		t.Fatalf("hook present before registration")
	}
	called := false
	s.RegisterHook("checkIn", func() error { called = true; return nil })
	if !s.HasHook("checkIn") {
		t.Fatalf("hook missing after registration")
	}
	if err := s.CallHook("checkIn"); err != nil {
		t.Fatalf("CallHook: %v", err)
	}
	if !called {
		t.Fatalf("hook body never ran")
	}
	if err := s.CallHook("nope"); err == nil {
		t.Fatalf("unknown hook must error")
	}
}

func TestDispatchPreventDefault(t *testing.T) {
	s := newTestSession(t, `<button id="b">Check In</button>`)
	el := s.Document().ByID("b")

	s.AddListener(el, "click", func(ev *Event) { ev.PreventDefault() })
	if !s.Dispatch(el, "click") {
		t.Fatalf("Dispatch must report prevention")
	}
	if s.Dispatch(el, "mousedown") {
		t.Fatalf("unrelated event type must not be prevented")
	}
}

func TestClickPreventedSkipsDefaultAction(t *testing.T) {
	s := newTestSession(t, `<form id="f"><button id="b" type="submit">Go</button></form>`)
	el := s.Document().ByID("b")
	s.AddListener(el, "click", func(ev *Event) { ev.PreventDefault() })

	// With a nil fetcher a real submit would fail; prevention means no error.
	if err := s.Click(context.Background(), el); err != nil {
		t.Fatalf("Click after PreventDefault: %v", err)
	}
	if s.NavigationCount() != 0 {
		t.Fatalf("prevented click must not navigate")
	}
}

// Attribute reads and the marker revert must both happen on the event
// loop goroutine, so back-to-back envelopes straddling a pending revert
// stay race-free.
func TestFlashRevertRunsOnEventLoop(t *testing.T) {
	s := newTestSession(t, `<button id="b">Check In</button>`)
	el := s.Document().ByID("b")

	s.SetHandler(func(_ context.Context, data any) any {
		switch data {
		case "activate":
			s.Flash(el, 250*time.Millisecond)
			return nil
		case "scan":
			return el.Attr("data-punchbot-flash") == "1" && el.HasAttr("data-punchbot-flash")
		}
		return nil
	})

	deliver := func(msg string) any {
		t.Helper()
		reply := make(chan any, 1)
		if err := s.Deliver(Inbound{Data: msg, Reply: reply}); err != nil {
			t.Fatalf("Deliver %q: %v", msg, err)
		}
		select {
		case out := <-reply:
			return out
		case <-time.After(2 * time.Second):
			t.Fatalf("no reply for %q", msg)
			return nil
		}
	}

	deliver("activate")
	if deliver("scan") != true {
		t.Fatalf("marker missing right after activation")
	}

	deadline := time.Now().Add(2 * time.Second)
	for deliver("scan") == true {
		if time.Now().After(deadline) {
			t.Fatalf("marker never reverted")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEnqueueDroppedAfterClose(t *testing.T) {
	s := newTestSession(t, `<p>empty</p>`)
	s.Close()

	done := make(chan struct{})
	go func() {
		s.enqueue(func() {})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("enqueue must not block on a closed session")
	}
}

func TestFocusAndScroll(t *testing.T) {
	s := newTestSession(t, `<button id="b">Check In</button>`)
	el := s.Document().ByID("b")

	var focusSeen bool
	s.AddListener(el, "focus", func(*Event) { focusSeen = true })

	s.ScrollIntoView(el)
	if s.ViewportAnchor() != el {
		t.Fatalf("viewport anchor not set")
	}
	s.Focus(el)
	if s.ActiveElement() != el {
		t.Fatalf("active element not set")
	}
	if !focusSeen {
		t.Fatalf("focus event not dispatched")
	}
}
