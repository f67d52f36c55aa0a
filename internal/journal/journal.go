// Package journal keeps the bounded, reverse-chronological outcome
// history. Two independent capacities apply: the interactive view kept
// in memory, and the larger persisted mirror behind the storage layer.
package journal

import (
	"context"
	"sync"
	"time"

	"punchbot/internal/intent"
	"punchbot/pkg/logx"
)

type Kind string

const (
	KindSuccess Kind = "success"
	KindFailure Kind = "failure"
)

// Entry is one dispatch outcome.
type Entry struct {
	At     time.Time     `json:"at"`
	Intent intent.Intent `json:"intent"`
	Kind   Kind          `json:"kind"`
	Detail string        `json:"detail,omitempty"`
}

// Persister is the slice of the storage layer the journal needs.
type Persister interface {
	AppendOutcome(ctx context.Context, e Entry, capacity int) error
	RecentOutcomes(ctx context.Context, n int) ([]Entry, error)
}

type Config struct {
	// ViewSize caps the in-memory interactive history.
	ViewSize int
	// PersistSize caps the persisted history. Independent of ViewSize;
	// the two capacities belong to different collaborators.
	PersistSize int
}

func (c Config) withDefaults() Config {
	if c.ViewSize <= 0 {
		c.ViewSize = 10
	}
	if c.PersistSize <= 0 {
		c.PersistSize = 50
	}
	return c
}

type Journal struct {
	cfg   Config
	store Persister
	log   logx.Logger

	mu      sync.Mutex
	entries []Entry // newest first
}

func New(cfg Config, store Persister, log logx.Logger) *Journal {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Journal{cfg: cfg.withDefaults(), store: store, log: log}
}

// Append prepends an entry and evicts the oldest beyond capacity.
// A persistence failure is logged and swallowed: the in-memory view
// must stay usable even when storage is unhappy.
func (j *Journal) Append(ctx context.Context, e Entry) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	j.mu.Lock()
	j.entries = append([]Entry{e}, j.entries...)
	if len(j.entries) > j.cfg.ViewSize {
		j.entries = j.entries[:j.cfg.ViewSize]
	}
	j.mu.Unlock()

	if j.store != nil {
		if err := j.store.AppendOutcome(ctx, e, j.cfg.PersistSize); err != nil {
			j.log.Warn("outcome persistence failed", logx.Err(err))
		}
	}
}

// Recent returns the in-memory view, newest first.
func (j *Journal) Recent() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry, len(j.entries))
	copy(out, j.entries)
	return out
}

// Restore seeds the in-memory view from the persisted mirror. Best
// effort: a read failure leaves the journal empty.
func (j *Journal) Restore(ctx context.Context) {
	if j.store == nil {
		return
	}
	persisted, err := j.store.RecentOutcomes(ctx, j.cfg.ViewSize)
	if err != nil {
		j.log.Warn("outcome history restore failed", logx.Err(err))
		return
	}
	j.mu.Lock()
	j.entries = persisted
	if len(j.entries) > j.cfg.ViewSize {
		j.entries = j.entries[:j.cfg.ViewSize]
	}
	j.mu.Unlock()
}
