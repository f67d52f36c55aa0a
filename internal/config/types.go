// Package config loads, validates and watches the daemon configuration.
// YAML and JSON are both accepted; YAML is coerced to JSON so one strict
// decoder (DisallowUnknownFields) covers both.
package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram" validate:"required"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Schedule ScheduleConfig `json:"schedule" validate:"required"`
	Page     PageConfig     `json:"page" validate:"required"`
	History  HistoryConfig  `json:"history"`
	Notify   NotifyConfig   `json:"notify"`
}

type TelegramConfig struct {
	Token       string  `json:"token" validate:"required"`
	OwnerIDs    []int64 `json:"owner_ids" validate:"required,min=1"`
	ChatID      int64   `json:"chat_id,omitempty"`
	PollTimeout string  `json:"poll_timeout,omitempty"` // Go duration string
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty" validate:"omitempty,oneof=trace debug info warn error"`
	Console bool          `json:"console,omitempty"`
	File    LogFileConfig `json:"file,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./punchbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty" validate:"omitempty,oneof=sqlite sqlite3 file none"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type ScheduleConfig struct {
	Auto         bool   `json:"auto_schedule"`
	CheckinTime  string `json:"checkin_time" validate:"required,hhmm"`
	CheckoutTime string `json:"checkout_time" validate:"required,hhmm"`
	// LoadGrace is waited after page load before dispatching.
	LoadGrace string `json:"load_grace,omitempty"` // Go duration string, default "2s"
}

type PageConfig struct {
	URL string `json:"url" validate:"required,url"`
	// CacheTTL bounds how long a fetched document may be reused.
	CacheTTL string `json:"cache_ttl,omitempty"` // Go duration string, default "30s"
}

// HistoryConfig carries the two outcome-log capacities: the interactive
// view and the persisted mirror. They are independent settings.
type HistoryConfig struct {
	ViewSize    int `json:"view_size,omitempty" validate:"omitempty,min=1"`
	PersistSize int `json:"persist_size,omitempty" validate:"omitempty,min=1"`
}

type NotifyConfig struct {
	Enabled    bool `json:"enabled"`
	RatePerSec int  `json:"rate_per_sec,omitempty" validate:"omitempty,min=1"`
}

// ---- duration helpers ----

// Duration parses a Go duration string field, returning def when the
// field is empty.
func Duration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}
