package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"groupwarden/pkg/logx"
)

// Store is the persistence API consumed by the automation and moderation
// services. Every settings lookup returns a fully-populated record; write
// operations are atomic per group.
type Store interface {
	// GroupSettings never returns a partial record: unknown groups yield
	// defaults.
	GroupSettings(ctx context.Context, chatID int64) (GroupSettings, error)
	// UpdateGroupSettings applies fn under the store's write serialization
	// and returns the persisted result. This is the only settings write path,
	// which keeps concurrent toggles from losing updates.
	UpdateGroupSettings(ctx context.Context, chatID int64, fn func(*GroupSettings)) (GroupSettings, error)

	ListSchedules(ctx context.Context, chatID int64) ([]Schedule, error)
	AllSchedules(ctx context.Context) ([]Schedule, error)
	// UpsertSchedule replaces any active entry with the same (chatID, type)
	// in one step, so a crash can never leave zero or two of them.
	UpsertSchedule(ctx context.Context, s Schedule) error
	DeleteSchedule(ctx context.Context, chatID int64, id string) (bool, error)
	DeleteSchedulesOfType(ctx context.Context, chatID int64, typ ScheduleType) (int, error)

	ListAds(ctx context.Context, chatID int64) ([]Ad, error)
	AllAds(ctx context.Context) ([]Ad, error)
	AddAd(ctx context.Context, ad Ad) error
	DeleteAd(ctx context.Context, chatID int64, id string) (bool, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file":
		return openFile(cfg, log)
	case "postgres", "postgresql":
		return openPostgres(cfg, log)
	default:
		return nil, errors.New("unknown store driver: " + cfg.Driver)
	}
}

func touchActivity(s *GroupSettings) {
	s.LastActivity = time.Now().UTC()
}
