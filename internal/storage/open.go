package storage

import (
	"context"
	"errors"
	"strings"

	"punchbot/internal/journal"
	"punchbot/pkg/logx"
)

// Store is the persistence API used by the scheduler and the journal.
type Store interface {
	GetSchedule(ctx context.Context, name string) (ScheduleState, bool, error)
	PutSchedule(ctx context.Context, st ScheduleState) error

	AppendOutcome(ctx context.Context, e journal.Entry, capacity int) error
	RecentOutcomes(ctx context.Context, n int) ([]journal.Entry, error)

	GetSetting(ctx context.Context, key string) (string, bool, error)
	PutSetting(ctx context.Context, key, value string) error

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file":
		return openFile(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
