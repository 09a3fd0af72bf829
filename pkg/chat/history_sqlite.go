package chat

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/agencydesk/deskchat/pkg/wire"
)

// HistoryCache persists confirmed messages locally so a reopened conversation
// has something to show before the REST history fetch resolves. It is a
// display cache only: dedup and ordering authority stay with the server ids
// in the MessageStore, and temporary optimistic ids are never written here.
type HistoryCache struct {
	db *sql.DB
}

func NewHistoryCache(dsn string) (*HistoryCache, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("history cache: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "history cache: open")
	}
	c := &HistoryCache{db: db}
	if err := c.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *HistoryCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *HistoryCache) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			conv_key TEXT NOT NULL,
			id TEXT NOT NULL,
			from_user_id TEXT NOT NULL,
			from_display_name TEXT NOT NULL,
			from_avatar_url TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			read INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (conv_key, id)
		);`,
		`CREATE INDEX IF NOT EXISTS messages_by_conv ON messages(conv_key, created_at_ms);`,
	}
	for _, st := range stmts {
		if _, err := c.db.Exec(st); err != nil {
			return errors.Wrap(err, "history cache: migrate")
		}
	}
	return nil
}

// Save upserts one confirmed message under its conversation key.
func (c *HistoryCache) Save(ctx context.Context, convKey string, m wire.Message) error {
	if c == nil || c.db == nil {
		return errors.New("history cache: db is nil")
	}
	if strings.TrimSpace(convKey) == "" {
		return errors.New("history cache: empty conversation key")
	}
	if m.ID == "" || strings.HasPrefix(m.ID, TempIDPrefix) {
		return errors.Errorf("history cache: refusing to store unconfirmed id %q", m.ID)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	read := 0
	if m.Read {
		read = 1
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO messages(conv_key, id, from_user_id, from_display_name, from_avatar_url, content, created_at_ms, read)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
	`, convKey, m.ID, m.FromUserID, m.FromDisplayName, m.FromAvatarURL, m.Content, m.Timestamp.UnixMilli(), read)
	if err != nil {
		return errors.Wrap(err, "history cache: insert")
	}
	return nil
}

// Load returns the cached messages for a conversation in timestamp order.
// limit <= 0 loads everything.
func (c *HistoryCache) Load(ctx context.Context, convKey string, limit int) ([]wire.Message, error) {
	if c == nil || c.db == nil {
		return nil, errors.New("history cache: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	q := `SELECT id, from_user_id, from_display_name, from_avatar_url, content, created_at_ms, read
		FROM messages WHERE conv_key = ? ORDER BY created_at_ms ASC`
	args := []any{convKey}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "history cache: query")
	}
	defer func() { _ = rows.Close() }()

	var out []wire.Message
	for rows.Next() {
		var m wire.Message
		var createdAtMs int64
		var read int
		if err := rows.Scan(&m.ID, &m.FromUserID, &m.FromDisplayName, &m.FromAvatarURL, &m.Content, &createdAtMs, &read); err != nil {
			return nil, errors.Wrap(err, "history cache: scan")
		}
		m.Timestamp = time.UnixMilli(createdAtMs).UTC()
		m.Read = read != 0
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "history cache: rows")
}
