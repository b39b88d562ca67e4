package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"groupwarden/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqlStore serves both the sqlite and postgres drivers; the two differ only
// in placeholders and schema bootstrap.
type sqlStore struct {
	db  *sql.DB
	log logx.Logger

	// rebind converts '?' placeholders to the driver's syntax.
	rebind func(string) string
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("store.path is required for the sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqlStore{db: db, log: log, rebind: func(q string) string { return q }}
	if err := st.migrateSQLite(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqlStore) migrateSQLite(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- group settings ----

const settingsColumns = `chat_id, welcome, welcome_message, antilink, antilinkgp, banlinkgp, banextremo, horarios, horarios_interval, active, admins, last_activity`

func scanSettings(row interface{ Scan(...any) error }) (GroupSettings, error) {
	var (
		gs       GroupSettings
		admins   string
		lastAct  string
		welcome  int
		antilink int
		algp     int
		blgp     int
		bext     int
		paytime  int
		active   int
	)
	err := row.Scan(&gs.ChatID, &welcome, &gs.WelcomeMessage, &antilink, &algp, &blgp, &bext, &paytime, &gs.PaytimeInterval, &active, &admins, &lastAct)
	if err != nil {
		return gs, err
	}
	gs.Welcome = welcome != 0
	gs.AntiLink = antilink != 0
	gs.AntiLinkGroup = algp != 0
	gs.BanLinkGroup = blgp != 0
	gs.BanExtreme = bext != 0
	gs.Paytime = paytime != 0
	gs.Active = active != 0
	if err := json.Unmarshal([]byte(admins), &gs.Admins); err != nil || gs.Admins == nil {
		gs.Admins = []int64{}
	}
	if lastAct != "" {
		if t, err := time.Parse(time.RFC3339Nano, lastAct); err == nil {
			gs.LastActivity = t
		}
	}
	return mergeDefaults(gs.ChatID, gs), nil
}

func b2i(v bool) int {
	if v {
		return 1
	}
	return 0
}

func (s *sqlStore) GroupSettings(ctx context.Context, chatID int64) (GroupSettings, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+settingsColumns+` FROM group_settings WHERE chat_id = ?`), chatID)
	gs, err := scanSettings(row)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultSettings(chatID), nil
	}
	if err != nil {
		return DefaultSettings(chatID), err
	}
	return gs, nil
}

func (s *sqlStore) UpdateGroupSettings(ctx context.Context, chatID int64, fn func(*GroupSettings)) (GroupSettings, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return GroupSettings{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		s.rebind(`SELECT `+settingsColumns+` FROM group_settings WHERE chat_id = ?`), chatID)
	gs, err := scanSettings(row)
	if errors.Is(err, sql.ErrNoRows) {
		gs = DefaultSettings(chatID)
	} else if err != nil {
		return GroupSettings{}, err
	}

	fn(&gs)
	touchActivity(&gs)

	admins, err := json.Marshal(gs.Admins)
	if err != nil {
		return GroupSettings{}, err
	}
	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO group_settings (`+settingsColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (chat_id) DO UPDATE SET
			welcome=excluded.welcome,
			welcome_message=excluded.welcome_message,
			antilink=excluded.antilink,
			antilinkgp=excluded.antilinkgp,
			banlinkgp=excluded.banlinkgp,
			banextremo=excluded.banextremo,
			horarios=excluded.horarios,
			horarios_interval=excluded.horarios_interval,
			active=excluded.active,
			admins=excluded.admins,
			last_activity=excluded.last_activity`),
		chatID, b2i(gs.Welcome), gs.WelcomeMessage, b2i(gs.AntiLink), b2i(gs.AntiLinkGroup),
		b2i(gs.BanLinkGroup), b2i(gs.BanExtreme), b2i(gs.Paytime), gs.PaytimeInterval,
		b2i(gs.Active), string(admins), gs.LastActivity.Format(time.RFC3339Nano),
	)
	if err != nil {
		return GroupSettings{}, err
	}
	if err := tx.Commit(); err != nil {
		return GroupSettings{}, err
	}
	return gs, nil
}

// ---- schedules ----

const scheduleColumns = `id, chat_id, type, cron, at_time, active, created`

func scanSchedule(row interface{ Scan(...any) error }) (Schedule, error) {
	var (
		sc      Schedule
		typ     string
		active  int
		created string
	)
	if err := row.Scan(&sc.ID, &sc.ChatID, &typ, &sc.CronExpr, &sc.AtTime, &active, &created); err != nil {
		return sc, err
	}
	sc.Type = ScheduleType(typ)
	sc.Active = active != 0
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		sc.Created = t
	}
	return sc, nil
}

func (s *sqlStore) querySchedules(ctx context.Context, query string, args ...any) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *sqlStore) ListSchedules(ctx context.Context, chatID int64) ([]Schedule, error) {
	return s.querySchedules(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE chat_id = ? ORDER BY created`, chatID)
}

func (s *sqlStore) AllSchedules(ctx context.Context) ([]Schedule, error) {
	return s.querySchedules(ctx,
		`SELECT ` + scheduleColumns + ` FROM schedules ORDER BY chat_id, created`)
}

func (s *sqlStore) UpsertSchedule(ctx context.Context, sc Schedule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		s.rebind(`DELETE FROM schedules WHERE chat_id = ? AND type = ?`),
		sc.ChatID, string(sc.Type)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		s.rebind(`INSERT INTO schedules (`+scheduleColumns+`) VALUES (?,?,?,?,?,?,?)`),
		sc.ID, sc.ChatID, string(sc.Type), sc.CronExpr, sc.AtTime, b2i(sc.Active),
		sc.Created.Format(time.RFC3339Nano)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqlStore) DeleteSchedule(ctx context.Context, chatID int64, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM schedules WHERE chat_id = ? AND id = ?`), chatID, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqlStore) DeleteSchedulesOfType(ctx context.Context, chatID int64, typ ScheduleType) (int, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM schedules WHERE chat_id = ? AND type = ?`), chatID, string(typ))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ---- ads ----

const adColumns = `id, chat_id, message, interval_ms, active, created`

func scanAd(row interface{ Scan(...any) error }) (Ad, error) {
	var (
		ad      Ad
		ms      int64
		active  int
		created string
	)
	if err := row.Scan(&ad.ID, &ad.ChatID, &ad.Message, &ms, &active, &created); err != nil {
		return ad, err
	}
	ad.Interval = time.Duration(ms) * time.Millisecond
	ad.Active = active != 0
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		ad.Created = t
	}
	return ad, nil
}

func (s *sqlStore) queryAds(ctx context.Context, query string, args ...any) ([]Ad, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Ad
	for rows.Next() {
		ad, err := scanAd(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ad)
	}
	return out, rows.Err()
}

func (s *sqlStore) ListAds(ctx context.Context, chatID int64) ([]Ad, error) {
	return s.queryAds(ctx,
		`SELECT `+adColumns+` FROM ads WHERE chat_id = ? ORDER BY created`, chatID)
}

func (s *sqlStore) AllAds(ctx context.Context) ([]Ad, error) {
	return s.queryAds(ctx,
		`SELECT ` + adColumns + ` FROM ads ORDER BY chat_id, created`)
}

func (s *sqlStore) AddAd(ctx context.Context, ad Ad) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO ads (`+adColumns+`) VALUES (?,?,?,?,?,?)`),
		ad.ID, ad.ChatID, ad.Message, ad.Interval.Milliseconds(), b2i(ad.Active),
		ad.Created.Format(time.RFC3339Nano))
	return err
}

func (s *sqlStore) DeleteAd(ctx context.Context, chatID int64, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM ads WHERE chat_id = ? AND id = ?`), chatID, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
