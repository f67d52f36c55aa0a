// Package scheduler owns the two daily attendance triggers. Each
// schedule is a small persisted state machine:
//
//	Disabled -> Armed(nextFireAt) -> Firing -> Armed(next day)
//
// A firing always re-arms, whatever its outcome: one failed occurrence
// must never halt future occurrences.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"punchbot/internal/eventbus"
	"punchbot/internal/intent"
	"punchbot/internal/journal"
	"punchbot/internal/messaging"
	"punchbot/internal/page"
	"punchbot/internal/storage"
	"punchbot/pkg/logx"
)

// Schedule names double as timer names and storage keys.
const (
	NameCheckin  = "checkin"
	NameCheckout = "checkout"
)

type State string

const (
	StateDisabled State = "disabled"
	StateArmed    State = "armed"
	StateFiring   State = "firing"
)

type Config struct {
	// AutoSchedule enables both daily triggers.
	AutoSchedule bool
	CheckinTime  string // "HH:MM"
	CheckoutTime string // "HH:MM"

	// PageURL is the attendance page the firing pipeline targets.
	PageURL string
	// LoadGrace is waited after the page context reports load completion
	// before the envelope is sent. Defaults to 2s.
	LoadGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.LoadGrace <= 0 {
		c.LoadGrace = 2 * time.Second
	}
	return c
}

// Contexts is the slice of the session registry the scheduler needs.
type Contexts interface {
	FindOrCreate(ctx context.Context, url string) (*page.Session, bool, error)
}

type schedule struct {
	name       string
	in         intent.Intent
	state      State
	timeOfDay  string
	nextFireAt time.Time
}

// Info is a read-only snapshot of one schedule, for status surfaces.
type Info struct {
	Name       string
	State      State
	TimeOfDay  string
	NextFireAt time.Time
}

type Manager struct {
	log      logx.Logger
	store    storage.Store // may be nil (storage disabled)
	contexts Contexts
	jour     *journal.Journal
	bus      eventbus.Bus
	now      func() time.Time

	alarms *alarms

	mu      sync.Mutex
	cfg     Config
	scheds  map[string]*schedule
	runCtx  context.Context
	running bool
}

func New(cfg Config, contexts Contexts, jour *journal.Journal, store storage.Store, bus eventbus.Bus, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{
		log:      log,
		store:    store,
		contexts: contexts,
		jour:     jour,
		bus:      bus,
		now:      time.Now,
		cfg:      cfg.withDefaults(),
		scheds: map[string]*schedule{
			NameCheckin:  {name: NameCheckin, in: intent.CheckIn, state: StateDisabled, timeOfDay: cfg.CheckinTime},
			NameCheckout: {name: NameCheckout, in: intent.CheckOut, state: StateDisabled, timeOfDay: cfg.CheckoutTime},
		},
	}
	m.alarms = newAlarms(m.onAlarm)
	return m
}

// SetClock swaps the time source. Tests only.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Start restores persisted schedule state and arms the timers.
// Any Armed schedule whose fire time elapsed while the daemon was down
// fires immediately as a catch-up, never silently skipped.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.runCtx = ctx

	m.restoreLocked(ctx)

	auto := m.cfg.AutoSchedule
	grace := m.cfg.LoadGrace
	now := m.now()
	var overdue, armed, fresh []string
	for _, name := range []string{NameCheckin, NameCheckout} {
		s := m.scheds[name]
		switch {
		case s.state == StateArmed && !s.nextFireAt.IsZero() && !s.nextFireAt.After(now):
			// Missed while the daemon was down; fire once, then re-arm
			// for the next future occurrence.
			overdue = append(overdue, name)
		case s.state == StateArmed:
			armed = append(armed, name)
		case auto:
			fresh = append(fresh, name)
		}
	}
	m.mu.Unlock()

	for _, name := range armed {
		m.mu.Lock()
		at := m.scheds[name].nextFireAt
		m.mu.Unlock()
		m.alarms.Create(name, at, now)
	}
	for _, name := range fresh {
		if err := m.Enable(name); err != nil {
			m.log.Warn("schedule enable failed", logx.String("schedule", name), logx.Err(err))
		}
	}
	for _, name := range overdue {
		m.log.Info("catch-up firing for elapsed schedule", logx.String("schedule", name))
		go m.fire(name)
	}

	m.log.Info("schedule manager started",
		logx.Bool("auto", auto), logx.Duration("load_grace", grace))
}

func (m *Manager) Stop(context.Context) {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
	m.alarms.ClearAll()
	m.log.Info("schedule manager stopped")
}

// restoreLocked merges persisted state over config defaults.
// Storage trouble degrades to config values; it never fails Start.
func (m *Manager) restoreLocked(ctx context.Context) {
	if m.store == nil {
		return
	}
	if v, ok, err := m.store.GetSetting(ctx, "autoSchedule"); err != nil {
		m.log.Warn("autoSchedule setting read failed", logx.Err(err))
	} else if ok {
		m.cfg.AutoSchedule = v == "true"
	}
	for key, sched := range map[string]*schedule{"checkinTime": m.scheds[NameCheckin], "checkoutTime": m.scheds[NameCheckout]} {
		if v, ok, err := m.store.GetSetting(ctx, key); err != nil {
			m.log.Warn("time setting read failed", logx.String("key", key), logx.Err(err))
		} else if ok {
			sched.timeOfDay = v
		}
	}
	for _, s := range m.scheds {
		st, ok, err := m.store.GetSchedule(ctx, s.name)
		if err != nil {
			m.log.Warn("schedule state read failed", logx.String("schedule", s.name), logx.Err(err))
			continue
		}
		if !ok {
			continue
		}
		if st.TimeOfDay != "" {
			s.timeOfDay = st.TimeOfDay
		}
		if st.Enabled {
			s.state = StateArmed
			s.nextFireAt = st.NextFireAt
		}
	}
}

// ---- enable / disable ----

// Enable arms one schedule: today's occurrence if still future,
// otherwise tomorrow's.
func (m *Manager) Enable(name string) error {
	m.mu.Lock()
	s, ok := m.scheds[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown schedule %q", name)
	}
	next, err := nextOccurrence(s.timeOfDay, m.now())
	if err != nil {
		m.mu.Unlock()
		return err
	}
	s.state = StateArmed
	s.nextFireAt = next
	m.mu.Unlock()

	m.alarms.Create(name, next, m.now())
	m.persist(s)
	m.log.Info("schedule armed", logx.String("schedule", name), logx.Time("next_fire_at", next))
	return nil
}

// Disable clears the pending timer. An in-flight firing runs to
// completion; only the future occurrence is cancelled.
func (m *Manager) Disable(name string) error {
	m.mu.Lock()
	s, ok := m.scheds[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown schedule %q", name)
	}
	s.state = StateDisabled
	s.nextFireAt = time.Time{}
	m.mu.Unlock()

	m.alarms.Clear(name)
	m.persist(s)
	m.log.Info("schedule disabled", logx.String("schedule", name))
	return nil
}

func (m *Manager) EnableAll() {
	for _, name := range []string{NameCheckin, NameCheckout} {
		if err := m.Enable(name); err != nil {
			m.log.Warn("schedule enable failed", logx.String("schedule", name), logx.Err(err))
		}
	}
	m.putSetting("autoSchedule", "true")
}

func (m *Manager) DisableAll() {
	for _, name := range []string{NameCheckin, NameCheckout} {
		_ = m.Disable(name)
	}
	m.putSetting("autoSchedule", "false")
}

// SetTimes updates both times-of-day, persists them, and re-arms any
// armed schedule against the new times.
func (m *Manager) SetTimes(checkin, checkout string) error {
	if _, _, err := parseHHMM(checkin); err != nil {
		return err
	}
	if _, _, err := parseHHMM(checkout); err != nil {
		return err
	}

	m.mu.Lock()
	m.scheds[NameCheckin].timeOfDay = checkin
	m.scheds[NameCheckout].timeOfDay = checkout
	rearm := make([]string, 0, 2)
	for _, s := range m.scheds {
		if s.state == StateArmed {
			rearm = append(rearm, s.name)
		}
	}
	m.mu.Unlock()

	m.putSetting("checkinTime", checkin)
	m.putSetting("checkoutTime", checkout)
	for _, name := range rearm {
		if err := m.Enable(name); err != nil {
			return err
		}
	}
	return nil
}

// Apply absorbs a config reload: page URL and grace take effect at the
// next firing; time or auto-flag changes re-arm immediately.
func (m *Manager) Apply(cfg Config) {
	cfg = cfg.withDefaults()

	m.mu.Lock()
	prev := m.cfg
	m.cfg = cfg
	m.mu.Unlock()

	if cfg.CheckinTime != prev.CheckinTime || cfg.CheckoutTime != prev.CheckoutTime {
		if err := m.SetTimes(cfg.CheckinTime, cfg.CheckoutTime); err != nil {
			m.log.Warn("config reload: bad schedule times", logx.Err(err))
		}
	}
	if cfg.AutoSchedule != prev.AutoSchedule {
		if cfg.AutoSchedule {
			m.EnableAll()
		} else {
			m.DisableAll()
		}
	}
}

// Snapshot returns the current schedule states for status surfaces.
func (m *Manager) Snapshot() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.scheds))
	for _, name := range []string{NameCheckin, NameCheckout} {
		s := m.scheds[name]
		out = append(out, Info{Name: s.name, State: s.state, TimeOfDay: s.timeOfDay, NextFireAt: s.nextFireAt})
	}
	return out
}

// ---- firing ----

func (m *Manager) onAlarm(name string) { m.fire(name) }

// fire runs one occurrence end to end. Firing a disabled schedule is a
// no-op (a timer may race a concurrent Disable).
func (m *Manager) fire(name string) {
	m.mu.Lock()
	s, ok := m.scheds[name]
	if !ok || s.state == StateDisabled {
		m.mu.Unlock()
		return
	}
	s.state = StateFiring
	ctx := m.runCtx
	cfg := m.cfg
	in := s.in
	m.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	entry := m.dispatch(ctx, in, cfg)
	if m.jour != nil {
		m.jour.Append(ctx, entry)
	}
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Type: eventbus.TypeOutcome, Data: entry})
	}

	m.rearm(name)
}

// dispatch is the firing pipeline: ensure a page context, give it a
// settling grace, send the envelope, shape the outcome.
func (m *Manager) dispatch(ctx context.Context, in intent.Intent, cfg Config) journal.Entry {
	fail := func(detail string) journal.Entry {
		m.log.Warn("scheduled dispatch failed", logx.String("intent", in.String()), logx.String("detail", detail))
		return journal.Entry{At: m.now(), Intent: in, Kind: journal.KindFailure, Detail: detail}
	}

	sess, created, err := m.contexts.FindOrCreate(ctx, cfg.PageURL)
	if err != nil {
		return fail("page context unavailable: " + err.Error())
	}
	if created {
		m.log.Debug("created page context for scheduled firing",
			logx.String("url", cfg.PageURL), logx.Bool("focused", sess.Focused()))
	}

	// Let scripts on the freshly loaded page settle before poking it.
	t := time.NewTimer(cfg.LoadGrace)
	select {
	case <-t.C:
	case <-ctx.Done():
		t.Stop()
		return fail("cancelled during load grace: " + ctx.Err().Error())
	}

	resp, err := messaging.Send(ctx, sess, messaging.NewEnvelope(in))
	switch {
	case messaging.IsDeliveryFailure(err):
		return fail("delivery failure: " + err.Error())
	case err != nil:
		return fail(err.Error())
	case !resp.Success:
		return fail(resp.Error)
	}

	m.log.Info("scheduled dispatch succeeded",
		logx.String("intent", in.String()), logx.String("method", resp.Method))
	return journal.Entry{At: m.now(), Intent: in, Kind: journal.KindSuccess, Detail: "via " + resp.Method}
}

// rearm advances the schedule to its next future occurrence,
// unconditionally: failure handling is logging, not backoff.
func (m *Manager) rearm(name string) {
	m.mu.Lock()
	s, ok := m.scheds[name]
	if !ok || s.state == StateDisabled {
		// Disabled while firing; stay disabled.
		m.mu.Unlock()
		return
	}
	next, err := nextOccurrence(s.timeOfDay, m.now())
	if err != nil {
		s.state = StateDisabled
		s.nextFireAt = time.Time{}
		m.mu.Unlock()
		m.log.Error("cannot re-arm schedule, disabling", logx.String("schedule", name), logx.Err(err))
		return
	}
	s.state = StateArmed
	s.nextFireAt = next
	running := m.running
	m.mu.Unlock()

	if running {
		m.alarms.Create(name, next, m.now())
	}
	m.persist(s)
	m.log.Info("schedule re-armed", logx.String("schedule", name), logx.Time("next_fire_at", next))
}

// ---- persistence ----

func (m *Manager) persist(s *schedule) {
	if m.store == nil {
		return
	}
	m.mu.Lock()
	st := storage.ScheduleState{
		Name:       s.name,
		Enabled:    s.state != StateDisabled,
		TimeOfDay:  s.timeOfDay,
		NextFireAt: s.nextFireAt,
	}
	m.mu.Unlock()

	if err := m.store.PutSchedule(context.Background(), st); err != nil {
		m.log.Warn("schedule persist failed", logx.String("schedule", s.name), logx.Err(err))
	}
}

func (m *Manager) putSetting(key, value string) {
	if m.store == nil {
		return
	}
	if err := m.store.PutSetting(context.Background(), key, value); err != nil {
		m.log.Warn("setting persist failed", logx.String("key", key), logx.Err(err))
	}
}

// ---- time helpers ----

// nextOccurrence computes the next wall-clock occurrence of HH:MM after
// now: today if still future, tomorrow otherwise.
func nextOccurrence(hhmm string, now time.Time) (time.Time, error) {
	h, m, err := parseHHMM(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	spec, err := cron.ParseStandard(fmt.Sprintf("%d %d * * *", m, h))
	if err != nil {
		return time.Time{}, err
	}
	return spec.Next(now), nil
}

// ValidHHMM reports whether s is a valid wall-clock time like "09:00".
func ValidHHMM(s string) bool {
	_, _, err := parseHHMM(s)
	return err == nil
}

func parseHHMM(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
