package journal

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"punchbot/internal/intent"
	"punchbot/pkg/logx"
)

type fakePersister struct {
	appended []Entry
	capacity int
	failing  bool
	restore  []Entry
}

func (p *fakePersister) AppendOutcome(_ context.Context, e Entry, capacity int) error {
	if p.failing {
		return errors.New("disk on fire")
	}
	p.appended = append(p.appended, e)
	p.capacity = capacity
	return nil
}

func (p *fakePersister) RecentOutcomes(_ context.Context, n int) ([]Entry, error) {
	if p.failing {
		return nil, errors.New("disk on fire")
	}
	if n > len(p.restore) {
		n = len(p.restore)
	}
	return p.restore[:n], nil
}

func TestAppendEvictsOldest(t *testing.T) {
	j := New(Config{ViewSize: 10}, nil, logx.Nop())
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 11; i++ {
		j.Append(context.Background(), Entry{
			At:     base.Add(time.Duration(i) * time.Minute),
			Intent: intent.CheckIn,
			Kind:   KindSuccess,
			Detail: fmt.Sprintf("entry %d", i),
		})
	}

	got := j.Recent()
	if len(got) != 10 {
		t.Fatalf("expected 10 entries, got %d", len(got))
	}
	if got[0].Detail != "entry 10" {
		t.Fatalf("newest first: got %q", got[0].Detail)
	}
	if got[9].Detail != "entry 1" {
		t.Fatalf("oldest entry not evicted: tail is %q", got[9].Detail)
	}
	for i := 1; i < len(got); i++ {
		if got[i].At.After(got[i-1].At) {
			t.Fatalf("entries not reverse chronological at %d", i)
		}
	}
}

func TestAppendPersistsWithPersistCapacity(t *testing.T) {
	p := &fakePersister{}
	j := New(Config{ViewSize: 10, PersistSize: 50}, p, logx.Nop())
	j.Append(context.Background(), Entry{Intent: intent.CheckOut, Kind: KindFailure, Detail: "no button"})

	if len(p.appended) != 1 {
		t.Fatalf("expected 1 persisted entry, got %d", len(p.appended))
	}
	if p.capacity != 50 {
		t.Fatalf("persist capacity = %d, want 50", p.capacity)
	}
}

func TestAppendSurvivesPersistenceFailure(t *testing.T) {
	p := &fakePersister{failing: true}
	j := New(Config{}, p, logx.Nop())
	j.Append(context.Background(), Entry{Intent: intent.CheckIn, Kind: KindSuccess})

	if len(j.Recent()) != 1 {
		t.Fatalf("in-memory view must survive a persistence failure")
	}
}

func TestRestoreSeedsView(t *testing.T) {
	p := &fakePersister{restore: []Entry{
		{Intent: intent.CheckOut, Kind: KindSuccess, Detail: "via text"},
		{Intent: intent.CheckIn, Kind: KindSuccess, Detail: "via selector"},
	}}
	j := New(Config{ViewSize: 10}, p, logx.Nop())
	j.Restore(context.Background())

	got := j.Recent()
	if len(got) != 2 {
		t.Fatalf("expected 2 restored entries, got %d", len(got))
	}
	if got[0].Detail != "via text" {
		t.Fatalf("restore must preserve order, got %q first", got[0].Detail)
	}
}

func TestDefaultsApplied(t *testing.T) {
	j := New(Config{}, nil, logx.Nop())
	if j.cfg.ViewSize != 10 || j.cfg.PersistSize != 50 {
		t.Fatalf("defaults = %d/%d, want 10/50", j.cfg.ViewSize, j.cfg.PersistSize)
	}
}
