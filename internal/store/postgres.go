package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"groupwarden/pkg/logx"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS group_settings (
    chat_id           BIGINT PRIMARY KEY,
    welcome           INTEGER NOT NULL DEFAULT 0,
    welcome_message   TEXT    NOT NULL DEFAULT '',
    antilink          INTEGER NOT NULL DEFAULT 0,
    antilinkgp        INTEGER NOT NULL DEFAULT 0,
    banlinkgp         INTEGER NOT NULL DEFAULT 0,
    banextremo        INTEGER NOT NULL DEFAULT 0,
    horarios          INTEGER NOT NULL DEFAULT 0,
    horarios_interval INTEGER NOT NULL DEFAULT 60,
    active            INTEGER NOT NULL DEFAULT 1,
    admins            TEXT    NOT NULL DEFAULT '[]',
    last_activity     TEXT    NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS schedules (
    id      TEXT PRIMARY KEY,
    chat_id BIGINT  NOT NULL,
    type    TEXT    NOT NULL,
    cron    TEXT    NOT NULL,
    at_time TEXT    NOT NULL DEFAULT '',
    active  INTEGER NOT NULL DEFAULT 1,
    created TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_schedules_chat ON schedules(chat_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_schedules_chat_type_active
    ON schedules(chat_id, type) WHERE active = 1;
CREATE TABLE IF NOT EXISTS ads (
    id          TEXT PRIMARY KEY,
    chat_id     BIGINT  NOT NULL,
    message     TEXT    NOT NULL,
    interval_ms BIGINT  NOT NULL,
    active      INTEGER NOT NULL DEFAULT 1,
    created     TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ads_chat ON ads(chat_id);
`

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("store.dsn is required for the postgres driver")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(context.Background(), postgresSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqlStore{db: db, log: log, rebind: rebindDollar}, nil
}

// rebindDollar rewrites '?' placeholders as $1..$n for the pgx driver.
// Queries here never contain literal question marks.
func rebindDollar(q string) string {
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}
