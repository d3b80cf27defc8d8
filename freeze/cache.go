package freeze

import (
	"database/sql"
	stderrors "errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/wippyai/embshell/engine"
)

// SQLiteCache stores compiled modules in a SQLite database so later
// processes skip recompiling unchanged module-path sources.
type SQLiteCache struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

var _ engine.Cache = (*SQLiteCache)(nil)

// OpenCache opens or creates the cache database at path. ":memory:"
// gives a process-local cache.
func OpenCache(path string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS units (
		key  TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	Logger().Debug("cache opened", zap.String("path", path))
	return &SQLiteCache{db: db, path: path}, nil
}

// Get returns the entry stored under key.
func (c *SQLiteCache) Get(key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var data []byte
	err := c.db.QueryRow("SELECT data FROM units WHERE key = ?", key).Scan(&data)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("querying cache: %w", err)
	}
	return data, true, nil
}

// Put stores data under key, replacing any previous entry.
func (c *SQLiteCache) Put(key string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.Exec("INSERT OR REPLACE INTO units (key, data) VALUES (?, ?)", key, data); err != nil {
		return fmt.Errorf("saving cache entry: %w", err)
	}
	return nil
}

// Close closes the database.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
