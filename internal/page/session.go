package page

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"punchbot/pkg/logx"
)

var (
	// ErrNoHandler means the session has no message receiver attached.
	ErrNoHandler = errors.New("page: no message handler attached")
	// ErrClosed means the session context was torn down.
	ErrClosed = errors.New("page: session closed")
)

// Inbound is one message delivered into the session mailbox.
// Reply must be buffered so the event loop never blocks on a slow initiator.
type Inbound struct {
	Data  any
	Reply chan any
}

// Handler processes one inbound message inside the session event loop.
// Messages are handled strictly one at a time.
type Handler func(ctx context.Context, data any) any

// Event is dispatched to listeners registered on an element.
type Event struct {
	Type   string
	Target *Element

	prevented bool
}

// PreventDefault suppresses the default action (form submit, navigation).
func (ev *Event) PreventDefault() { ev.prevented = true }

// Session is one isolated page context. All mutation of the document
// happens on the caller's goroutine, but message handling is serialized
// through a single event-loop goroutine, so two concurrent initiators
// (e.g. both daily triggers hitting one shared page) queue rather than
// interleave.
type Session struct {
	id     string
	fetch  *Fetcher
	log    logx.Logger
	onLoad func(s *Session)

	mu        sync.Mutex
	focused   bool
	url       string
	doc       *Document
	handler   Handler
	hooks     map[string]func() error
	listeners map[*Element]map[string][]func(*Event)
	navCount  int
	anchor    *Element
	active    *Element

	inbox     chan Inbound
	jobs      chan func()
	closed    chan struct{}
	closeOnce sync.Once
}

// NewSession constructs a session around an already-parsed document.
// onLoad, if set, is invoked after every completed navigation.
func NewSession(id, pageURL string, doc *Document, fetch *Fetcher, log logx.Logger, onLoad func(*Session)) *Session {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Session{
		id:        id,
		url:       pageURL,
		doc:       doc,
		fetch:     fetch,
		log:       log.With(logx.String("session", id)),
		onLoad:    onLoad,
		hooks:     map[string]func() error{},
		listeners: map[*Element]map[string][]func(*Event){},
		inbox:     make(chan Inbound, 16),
		jobs:      make(chan func(), 16),
		closed:    make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

func (s *Session) Focused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focused
}

// SetFocused marks the session as user-facing. Sessions created by the
// scheduler stay non-focused.
func (s *Session) SetFocused(v bool) {
	s.mu.Lock()
	s.focused = v
	s.mu.Unlock()
}

func (s *Session) Document() *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

// Done is closed when the session context is torn down.
func (s *Session) Done() <-chan struct{} { return s.closed }

// Close tears the context down. A message already being handled runs to
// completion; anything still queued or delivered later fails with ErrClosed.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// ---- mailbox ----

// SetHandler attaches the message receiver. Passing nil detaches it.
func (s *Session) SetHandler(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Deliver queues a message for the event loop.
func (s *Session) Deliver(in Inbound) error {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return ErrNoHandler
	}
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	select {
	case s.inbox <- in:
		return nil
	case <-s.closed:
		return ErrClosed
	}
}

func (s *Session) loop() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.closed
		cancel()
	}()

	for {
		select {
		case <-s.closed:
			return
		case fn := <-s.jobs:
			fn()
		case in := <-s.inbox:
			s.mu.Lock()
			h := s.handler
			s.mu.Unlock()
			if h == nil {
				continue
			}
			out := h(ctx, in.Data)
			if in.Reply != nil {
				select {
				case in.Reply <- out:
				default:
				}
			}
		}
	}
}

// ---- hooks (page-global functions) ----

func (s *Session) RegisterHook(name string, fn func() error) {
	s.mu.Lock()
	s.hooks[name] = fn
	s.mu.Unlock()
}

func (s *Session) HasHook(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.hooks[name]
	return ok
}

func (s *Session) CallHook(name string) error {
	s.mu.Lock()
	fn, ok := s.hooks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("page: no hook %q", name)
	}
	return fn()
}

// ---- events ----

// AddListener registers a listener for an event type on an element.
func (s *Session) AddListener(el *Element, typ string, fn func(*Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.listeners[el]
	if m == nil {
		m = map[string][]func(*Event){}
		s.listeners[el] = m
	}
	m[typ] = append(m[typ], fn)
}

// Dispatch runs listeners for an event type on an element and reports
// whether the default action was prevented. It never runs default
// actions itself.
func (s *Session) Dispatch(el *Element, typ string) bool {
	s.mu.Lock()
	var fns []func(*Event)
	if m := s.listeners[el]; m != nil {
		fns = append(fns, m[typ]...)
	}
	s.mu.Unlock()

	ev := &Event{Type: typ, Target: el}
	for _, fn := range fns {
		fn(ev)
	}
	return ev.prevented
}

// ---- activation primitives ----

// ScrollIntoView centers the viewport on the element.
func (s *Session) ScrollIntoView(el *Element) {
	s.mu.Lock()
	s.anchor = el
	s.mu.Unlock()
}

// ViewportAnchor returns the element the viewport is centered on.
func (s *Session) ViewportAnchor() *Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anchor
}

// Focus moves input focus to the element.
func (s *Session) Focus(el *Element) {
	s.mu.Lock()
	s.active = el
	s.mu.Unlock()
	s.Dispatch(el, "focus")
}

// ActiveElement returns the focused element, nil when none.
func (s *Session) ActiveElement() *Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Flash applies a temporary visual marker attribute to the element and
// removes it after d, whatever else happens in between. The revert runs
// on the event loop so it never races a handler reading the document.
func (s *Session) Flash(el *Element, d time.Duration) {
	el.SetAttr("data-punchbot-flash", "1")
	time.AfterFunc(d, func() {
		s.enqueue(func() { el.RemoveAttr("data-punchbot-flash") })
	})
}

// enqueue hands fn to the event loop goroutine. Dropped when the
// session is already closed.
func (s *Session) enqueue(fn func()) {
	select {
	case s.jobs <- fn:
	case <-s.closed:
	}
}

// Click issues a semantic click: listeners first, then the default
// action (form submit for submit controls, navigation for links).
func (s *Session) Click(ctx context.Context, el *Element) error {
	if s.Dispatch(el, "click") {
		return nil
	}
	if el.IsSubmit() {
		if form := el.Closest("form"); form != nil {
			return s.SubmitForm(ctx, form)
		}
	}
	if strings.EqualFold(el.Tag(), "a") {
		if href := strings.TrimSpace(el.Attr("href")); href != "" && !strings.HasPrefix(href, "#") {
			return s.Navigate(ctx, s.resolveRef(href))
		}
	}
	return nil
}

// NavigationCount increments every time the document is replaced.
func (s *Session) NavigationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.navCount
}

// Navigate fetches a URL and swaps the session document.
func (s *Session) Navigate(ctx context.Context, rawURL string) error {
	if s.fetch == nil {
		return errors.New("page: session has no fetcher")
	}
	body, err := s.fetch.Get(ctx, rawURL)
	if err != nil {
		return err
	}
	doc, err := Parse(bytes.NewReader(body))
	if err != nil {
		return err
	}
	s.commitNavigation(rawURL, doc)
	return nil
}

// SubmitForm serializes and submits a form, replacing the document with
// the response. Listeners may prevent the submit.
func (s *Session) SubmitForm(ctx context.Context, form *Element) error {
	if s.Dispatch(form, "submit") {
		return nil
	}
	if s.fetch == nil {
		return errors.New("page: session has no fetcher")
	}

	action := s.resolveRef(form.Attr("action"))
	method := form.Attr("method")
	values := serializeForm(form)

	body, err := s.fetch.Submit(ctx, method, action, values)
	if err != nil {
		return err
	}
	doc, err := Parse(bytes.NewReader(body))
	if err != nil {
		return err
	}
	s.commitNavigation(action, doc)
	return nil
}

func (s *Session) commitNavigation(rawURL string, doc *Document) {
	s.mu.Lock()
	s.url = rawURL
	s.doc = doc
	s.navCount++
	// References into the old document are stale now.
	s.anchor = nil
	s.active = nil
	s.listeners = map[*Element]map[string][]func(*Event){}
	onLoad := s.onLoad
	s.mu.Unlock()

	s.log.Debug("navigation committed", logx.String("url", rawURL))
	if onLoad != nil {
		onLoad(s)
	}
}

func (s *Session) resolveRef(ref string) string {
	base, err := url.Parse(s.URL())
	if err != nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

func serializeForm(form *Element) url.Values {
	values := url.Values{}
	for _, el := range form.Descendants() {
		name := el.Attr("name")
		if name == "" {
			continue
		}
		switch strings.ToLower(el.Tag()) {
		case "input":
			switch strings.ToLower(el.Attr("type")) {
			case "checkbox", "radio":
				if el.HasAttr("checked") {
					values.Add(name, orDefault(el.Attr("value"), "on"))
				}
			case "submit", "button", "image", "file":
				// Submit controls contribute only when they triggered the
				// submit; keep it simple and skip them.
			default:
				values.Add(name, el.Attr("value"))
			}
		case "textarea":
			values.Add(name, el.Text())
		case "select":
			selected := ""
			first := ""
			for _, opt := range el.Descendants() {
				if !strings.EqualFold(opt.Tag(), "option") {
					continue
				}
				v := orDefault(opt.Attr("value"), opt.Text())
				if first == "" {
					first = v
				}
				if opt.HasAttr("selected") {
					selected = v
					break
				}
			}
			values.Add(name, orDefault(selected, first))
		}
	}
	return values
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
