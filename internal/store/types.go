package store

import "time"

// Config configures persistence.
//
// Driver values:
//   - "file": dependency-free JSON files (groups/schedules/ads)
//   - "sqlite": SQLite database file (default)
//   - "postgres": PostgreSQL via DSN
type Config struct {
	Driver      string
	Path        string        // file, sqlite
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// GroupSettings is the per-group configuration record. Lookups always return
// a fully-populated record: missing groups get defaults merged in, never a
// partial struct.
type GroupSettings struct {
	ChatID int64 `json:"-"`

	Welcome        bool   `json:"welcome"`
	WelcomeMessage string `json:"welcomeMessage"`

	AntiLink      bool `json:"antilink"`
	AntiLinkGroup bool `json:"antilinkgp"`
	BanLinkGroup  bool `json:"banlinkgp"`
	BanExtreme    bool `json:"banextremo"`

	Paytime         bool `json:"horarios"`
	PaytimeInterval int  `json:"horariosInterval"` // minutes

	Active bool `json:"active"`

	// Admins is informational only; the live admin check goes through the
	// transport's membership lookup.
	Admins []int64 `json:"admins"`

	LastActivity time.Time `json:"lastActivity"`
}

// DefaultWelcomeMessage supports @user and @group placeholders.
const DefaultWelcomeMessage = "Welcome to @group, @user!"

// DefaultSettings returns the baseline record merged into every lookup.
func DefaultSettings(chatID int64) GroupSettings {
	return GroupSettings{
		ChatID:          chatID,
		WelcomeMessage:  DefaultWelcomeMessage,
		PaytimeInterval: 60,
		Active:          true,
		Admins:          []int64{},
	}
}

type ScheduleType string

const (
	ScheduleOpen    ScheduleType = "open"
	ScheduleClose   ScheduleType = "close"
	SchedulePaytime ScheduleType = "paytime"
)

// Schedule is a persisted recurring trigger record.
type Schedule struct {
	ID       string
	ChatID   int64
	Type     ScheduleType
	CronExpr string
	// AtTime is the original "HH:MM" payload for open/close entries, kept so
	// status listings can echo the configured wall-clock time.
	AtTime  string
	Active  bool
	Created time.Time
}

// Ad is a persisted recurring-broadcast job record. The interval is fixed at
// creation; editing means remove + recreate.
type Ad struct {
	ID       string
	ChatID   int64
	Message  string
	Interval time.Duration
	Active   bool
	Created  time.Time
}
