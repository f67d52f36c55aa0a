package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"punchbot/internal/intent"
	"punchbot/internal/journal"
	"punchbot/internal/messaging"
	"punchbot/internal/page"
	"punchbot/internal/storage"
	"punchbot/pkg/logx"
)

type fakeContexts struct {
	mu      sync.Mutex
	sess    *page.Session
	created int
	err     error
}

func (f *fakeContexts) FindOrCreate(context.Context, string) (*page.Session, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, false, f.err
	}
	f.created++
	return f.sess, f.created == 1, nil
}

type memStore struct {
	mu        sync.Mutex
	schedules map[string]storage.ScheduleState
	settings  map[string]string
	outcomes  []journal.Entry
}

func newMemStore() *memStore {
	return &memStore{schedules: map[string]storage.ScheduleState{}, settings: map[string]string{}}
}

func (s *memStore) GetSchedule(_ context.Context, name string) (storage.ScheduleState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.schedules[name]
	return st, ok, nil
}

func (s *memStore) PutSchedule(_ context.Context, st storage.ScheduleState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[st.Name] = st
	return nil
}

func (s *memStore) AppendOutcome(_ context.Context, e journal.Entry, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, e)
	return nil
}

func (s *memStore) RecentOutcomes(_ context.Context, n int) ([]journal.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.outcomes) {
		n = len(s.outcomes)
	}
	return s.outcomes[:n], nil
}

func (s *memStore) GetSetting(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[key]
	return v, ok, nil
}

func (s *memStore) PutSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

func (s *memStore) Close() error { return nil }

func testConfig() Config {
	return Config{
		CheckinTime:  "09:00",
		CheckoutTime: "18:00",
		PageURL:      "https://hr.example/attendance",
		LoadGrace:    time.Millisecond,
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNextOccurrence(t *testing.T) {
	loc := time.Local
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, loc)

	cases := []struct {
		hhmm string
		now  time.Time
		want time.Time
	}{
		{"09:00", day.Add(8 * time.Hour), day.Add(9 * time.Hour)},
		{"09:00", day.Add(10 * time.Hour), day.Add(33 * time.Hour)},
		{"09:00", day.Add(9 * time.Hour), day.Add(33 * time.Hour)},
		{"00:00", day.Add(12 * time.Hour), day.Add(24 * time.Hour)},
		{"23:59", day.Add(12 * time.Hour), day.Add(23*time.Hour + 59*time.Minute)},
	}
	for _, tc := range cases {
		got, err := nextOccurrence(tc.hhmm, tc.now)
		if err != nil {
			t.Fatalf("nextOccurrence(%q, %v): %v", tc.hhmm, tc.now, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("nextOccurrence(%q, %v) = %v, want %v", tc.hhmm, tc.now, got, tc.want)
		}
	}
}

func TestValidHHMM(t *testing.T) {
	for _, ok := range []string{"00:00", "09:00", "23:59", " 9:30 "} {
		if !ValidHHMM(ok) {
			t.Fatalf("ValidHHMM(%q) = false", ok)
		}
	}
	for _, bad := range []string{"", "9", "24:00", "09:60", "9:5:0", "morning"} {
		if ValidHHMM(bad) {
			t.Fatalf("ValidHHMM(%q) = true", bad)
		}
	}
}

func TestEnableArmsNextFutureOccurrence(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.Local)
	m := New(testConfig(), &fakeContexts{}, nil, nil, nil, logx.Nop())
	m.SetClock(fixedClock(now))

	if err := m.Enable(NameCheckin); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	snap := m.Snapshot()
	if snap[0].Name != NameCheckin || snap[0].State != StateArmed {
		t.Fatalf("snapshot = %+v", snap[0])
	}
	// 10:00 is past 09:00, so the next occurrence is tomorrow.
	want := time.Date(2026, 3, 3, 9, 0, 0, 0, time.Local)
	if !snap[0].NextFireAt.Equal(want) {
		t.Fatalf("next fire = %v, want %v", snap[0].NextFireAt, want)
	}
}

func TestDisableClearsFireTime(t *testing.T) {
	m := New(testConfig(), &fakeContexts{}, nil, nil, nil, logx.Nop())
	m.SetClock(fixedClock(time.Date(2026, 3, 2, 8, 0, 0, 0, time.Local)))

	if err := m.Enable(NameCheckout); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := m.Disable(NameCheckout); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	snap := m.Snapshot()
	if snap[1].State != StateDisabled || !snap[1].NextFireAt.IsZero() {
		t.Fatalf("snapshot = %+v", snap[1])
	}
}

func TestUnknownScheduleRejected(t *testing.T) {
	m := New(testConfig(), &fakeContexts{}, nil, nil, nil, logx.Nop())
	if err := m.Enable("lunch"); err == nil {
		t.Fatalf("unknown schedule must be rejected")
	}
	if err := m.Disable("lunch"); err == nil {
		t.Fatalf("unknown schedule must be rejected")
	}
}

func TestFireAdvancesExactlyOneDay(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.Local)
	ctxs := &fakeContexts{err: errors.New("offline")}
	jour := journal.New(journal.Config{}, nil, logx.Nop())
	m := New(testConfig(), ctxs, jour, nil, nil, logx.Nop())
	m.SetClock(fixedClock(now))

	if err := m.Enable(NameCheckin); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	// Advance the clock past the occurrence and fire.
	m.SetClock(fixedClock(time.Date(2026, 3, 2, 9, 0, 1, 0, time.Local)))
	m.fire(NameCheckin)

	snap := m.Snapshot()
	if snap[0].State != StateArmed {
		t.Fatalf("schedule must re-arm after firing, state = %v", snap[0].State)
	}
	want := time.Date(2026, 3, 3, 9, 0, 0, 0, time.Local)
	if !snap[0].NextFireAt.Equal(want) {
		t.Fatalf("next fire = %v, want exactly one day later %v", snap[0].NextFireAt, want)
	}
}

func TestFireFailureStillRearmsAndRecords(t *testing.T) {
	ctxs := &fakeContexts{err: errors.New("portal unreachable")}
	jour := journal.New(journal.Config{}, nil, logx.Nop())
	m := New(testConfig(), ctxs, jour, nil, nil, logx.Nop())
	m.SetClock(fixedClock(time.Date(2026, 3, 2, 18, 0, 1, 0, time.Local)))

	if err := m.Enable(NameCheckout); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	m.fire(NameCheckout)

	got := jour.Recent()
	if len(got) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(got))
	}
	if got[0].Kind != journal.KindFailure || got[0].Intent != intent.CheckOut {
		t.Fatalf("entry = %+v", got[0])
	}
	if m.Snapshot()[1].State != StateArmed {
		t.Fatalf("failed firing must still re-arm")
	}
}

func TestFireDisabledIsNoop(t *testing.T) {
	ctxs := &fakeContexts{}
	jour := journal.New(journal.Config{}, nil, logx.Nop())
	m := New(testConfig(), ctxs, jour, nil, nil, logx.Nop())

	m.fire(NameCheckin)

	if len(jour.Recent()) != 0 {
		t.Fatalf("firing a disabled schedule must not record an outcome")
	}
	if ctxs.created != 0 {
		t.Fatalf("firing a disabled schedule must not touch page contexts")
	}
}

func TestSetTimesValidatesAndRearms(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.Local)
	m := New(testConfig(), &fakeContexts{}, nil, nil, nil, logx.Nop())
	m.SetClock(fixedClock(now))

	if err := m.SetTimes("25:00", "18:00"); err == nil {
		t.Fatalf("invalid checkin time must be rejected")
	}
	if err := m.SetTimes("09:00", "18:61"); err == nil {
		t.Fatalf("invalid checkout time must be rejected")
	}

	if err := m.Enable(NameCheckin); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := m.SetTimes("10:30", "19:00"); err != nil {
		t.Fatalf("SetTimes: %v", err)
	}
	snap := m.Snapshot()
	want := time.Date(2026, 3, 2, 10, 30, 0, 0, time.Local)
	if !snap[0].NextFireAt.Equal(want) {
		t.Fatalf("armed schedule not re-armed to new time: %v, want %v", snap[0].NextFireAt, want)
	}
	if snap[1].State != StateDisabled {
		t.Fatalf("disabled schedule must stay disabled through SetTimes")
	}
}

func TestStartCatchUpFiresElapsedSchedule(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.Local)
	store := newMemStore()
	store.schedules[NameCheckin] = storage.ScheduleState{
		Name:       NameCheckin,
		Enabled:    true,
		TimeOfDay:  "09:00",
		NextFireAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local),
	}

	ctxs := &fakeContexts{err: errors.New("offline")}
	jour := journal.New(journal.Config{}, nil, logx.Nop())
	m := New(testConfig(), ctxs, jour, store, nil, logx.Nop())
	m.SetClock(fixedClock(now))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for len(jour.Recent()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("elapsed schedule never caught up")
		}
		time.Sleep(5 * time.Millisecond)
	}

	got := jour.Recent()
	if len(got) != 1 {
		t.Fatalf("catch-up must fire exactly once, got %d outcomes", len(got))
	}
	if got[0].Intent != intent.CheckIn {
		t.Fatalf("entry = %+v", got[0])
	}

	snap := m.Snapshot()
	want := time.Date(2026, 3, 3, 9, 0, 0, 0, time.Local)
	if snap[0].State != StateArmed || !snap[0].NextFireAt.Equal(want) {
		t.Fatalf("after catch-up: %+v, want armed at %v", snap[0], want)
	}
}

func TestStartRestoresPersistedTimes(t *testing.T) {
	now := time.Date(2026, 3, 2, 6, 0, 0, 0, time.Local)
	store := newMemStore()
	store.settings["autoSchedule"] = "true"
	store.settings["checkinTime"] = "08:15"
	store.settings["checkoutTime"] = "17:45"

	m := New(testConfig(), &fakeContexts{}, nil, store, nil, logx.Nop())
	m.SetClock(fixedClock(now))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop(context.Background())

	snap := m.Snapshot()
	if snap[0].TimeOfDay != "08:15" || snap[1].TimeOfDay != "17:45" {
		t.Fatalf("persisted times not restored: %+v", snap)
	}
	if snap[0].State != StateArmed || snap[1].State != StateArmed {
		t.Fatalf("autoSchedule=true must arm both schedules: %+v", snap)
	}
	if want := time.Date(2026, 3, 2, 8, 15, 0, 0, time.Local); !snap[0].NextFireAt.Equal(want) {
		t.Fatalf("checkin armed at %v, want %v", snap[0].NextFireAt, want)
	}
}

func TestDispatchSuccessDetail(t *testing.T) {
	doc, err := page.ParseString(`<p>portal</p>`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sess := page.NewSession("sched-ok", "https://hr.example/", doc, nil, logx.Nop(), nil)
	t.Cleanup(sess.Close)
	sess.SetHandler(func(_ context.Context, data any) any {
		env := data.(messaging.Envelope)
		return messaging.Response{Success: true, Method: "text", CorrelationID: env.CorrelationID}
	})

	ctxs := &fakeContexts{sess: sess}
	jour := journal.New(journal.Config{}, nil, logx.Nop())
	m := New(testConfig(), ctxs, jour, nil, nil, logx.Nop())
	m.SetClock(fixedClock(time.Date(2026, 3, 2, 9, 0, 1, 0, time.Local)))

	if err := m.Enable(NameCheckin); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	m.fire(NameCheckin)

	got := jour.Recent()
	if len(got) != 1 || got[0].Kind != journal.KindSuccess {
		t.Fatalf("outcomes = %+v", got)
	}
	if got[0].Detail != "via text" {
		t.Fatalf("detail = %q, want %q", got[0].Detail, "via text")
	}
}
