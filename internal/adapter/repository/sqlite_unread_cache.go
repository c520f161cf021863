package repository

import (
	"database/sql"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"umbra/internal/domain/repository"
	"umbra/pkg/errors"
)

// sqliteUnreadCache persists the unread aggregate across process restarts:
// a flat counterpart→count table plus a counters table holding the scalar
// force count, all under fixed well-known names.
type sqliteUnreadCache struct {
	db *sqlx.DB
	mu sync.Mutex
}

const cacheSchema = `
CREATE TABLE IF NOT EXISTS unread_counts (
	counterpart TEXT PRIMARY KEY,
	count       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS counters (
	key   TEXT PRIMARY KEY,
	value INTEGER NOT NULL DEFAULT 0
);
`

const forceCountKey = "force_count"

func NewSQLiteUnreadCache(path string) (repository.UnreadCache, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errors.Internal("failed to open unread cache", err)
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, errors.Internal("failed to initialize unread cache schema", err)
	}
	return &sqliteUnreadCache{db: db}, nil
}

func (c *sqliteUnreadCache) Load() (map[string]int, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.Queryx(`SELECT counterpart, count FROM unread_counts`)
	if err != nil {
		return nil, 0, errors.Internal("failed to read unread cache", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var counterpart string
		var count int
		if err := rows.Scan(&counterpart, &count); err != nil {
			return nil, 0, errors.Internal("failed to scan unread cache row", err)
		}
		counts[counterpart] = count
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Internal("failed to read unread cache", err)
	}

	var force int
	err = c.db.Get(&force, `SELECT value FROM counters WHERE key = ?`, forceCountKey)
	if err != nil && err != sql.ErrNoRows {
		return nil, 0, errors.Internal("failed to read force count", err)
	}
	return counts, force, nil
}

func (c *sqliteUnreadCache) Set(key string, count int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(
		`INSERT INTO unread_counts (counterpart, count) VALUES (?, ?)
		 ON CONFLICT(counterpart) DO UPDATE SET count = excluded.count`,
		key, count)
	if err != nil {
		return errors.Internal("failed to persist unread count", err)
	}
	return nil
}

func (c *sqliteUnreadCache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.Exec(`DELETE FROM unread_counts WHERE counterpart = ?`, key); err != nil {
		return errors.Internal("failed to clear unread count", err)
	}
	return nil
}

func (c *sqliteUnreadCache) SetForceCount(count int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(
		`INSERT INTO counters (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		forceCountKey, count)
	if err != nil {
		return errors.Internal("failed to persist force count", err)
	}
	return nil
}

func (c *sqliteUnreadCache) Close() error {
	return c.db.Close()
}
