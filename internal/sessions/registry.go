// Package sessions tracks live page contexts and hands them to
// initiators. It is the only component that creates or closes sessions.
package sessions

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"punchbot/internal/eventbus"
	"punchbot/internal/page"
	"punchbot/pkg/logx"
)

// Registry is the context collaborator: query, create, load events.
type Registry struct {
	fetch  *page.Fetcher
	bus    eventbus.Bus
	log    logx.Logger
	attach func(*page.Session)

	mu       sync.Mutex
	sessions map[string]*page.Session
}

func NewRegistry(fetch *page.Fetcher, bus eventbus.Bus, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		fetch:    fetch,
		bus:      bus,
		log:      log,
		sessions: map[string]*page.Session{},
	}
}

// SetAttach installs the callback that wires a receiver (the agent)
// into every session the registry creates.
func (r *Registry) SetAttach(fn func(*page.Session)) { r.attach = fn }

// Query returns live sessions whose URL contains the filter substring.
// An empty filter matches everything.
func (r *Registry) Query(urlFilter string) []*page.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*page.Session
	for _, s := range r.sessions {
		select {
		case <-s.Done():
			continue
		default:
		}
		if urlFilter == "" || strings.Contains(s.URL(), urlFilter) {
			out = append(out, s)
		}
	}
	return out
}

// Create fetches the URL and spins up a new non-focused session with
// the receiver attached. The load-complete event fires once the initial
// document is in place.
func (r *Registry) Create(ctx context.Context, pageURL string) (*page.Session, error) {
	body, err := r.fetch.Get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := page.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	sess := page.NewSession(id, pageURL, doc, r.fetch, r.log, r.publishLoad)
	if r.attach != nil {
		r.attach(sess)
	}

	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()

	r.log.Info("page context created", logx.String("session", id), logx.String("url", pageURL))
	r.publishLoad(sess)
	return sess, nil
}

// FindOrCreate returns an existing session matching the URL or creates
// one. The bool reports whether a new context was created.
func (r *Registry) FindOrCreate(ctx context.Context, pageURL string) (*page.Session, bool, error) {
	if existing := r.Query(pageURL); len(existing) > 0 {
		return existing[0], false, nil
	}
	s, err := r.Create(ctx, pageURL)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// Close tears down one session.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	s := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

// CloseAll tears down every session (shutdown path).
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*page.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.sessions = map[string]*page.Session{}
	r.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}

func (r *Registry) publishLoad(s *page.Session) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: eventbus.TypeLoadComplete, Data: s.ID()})
}
