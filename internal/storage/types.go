package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "file":   dependency-free file backend (json snapshot + jsonl)
//
// If Driver is "none", storage is disabled and the daemon runs on
// in-memory defaults only.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ScheduleState is the persisted shape of one daily schedule.
// NextFireAt is zero while the schedule is disabled.
type ScheduleState struct {
	Name       string    `json:"name"`
	Enabled    bool      `json:"enabled"`
	TimeOfDay  string    `json:"time_of_day"` // "HH:MM"
	NextFireAt time.Time `json:"next_fire_at,omitzero"`
}
