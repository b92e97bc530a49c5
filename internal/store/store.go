// Package store persists archived posts, links, media records and
// thread memberships in a single sqlite database.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// ErrCorrupt marks a database file that failed the integrity check at
// open time.
var ErrCorrupt = errors.New("database corrupt")

// Store handles all database operations
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (or creates) the database at dbPath. A file that fails
// the integrity check is moved aside and replaced with an empty
// database; the archive restarts rather than the process dying on a
// half-written file.
func Open(dbPath string, log zerolog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := open(dbPath)
	if err == nil {
		return &Store{db: db, log: log}, nil
	}
	if !isCorrupt(err) {
		return nil, err
	}

	aside := fmt.Sprintf("%s.corrupt-%d", dbPath, time.Now().Unix())
	log.Warn().Str("db", dbPath).Str("moved_to", aside).Err(err).
		Msg("database failed integrity check, starting fresh")
	if err := os.Rename(dbPath, aside); err != nil {
		return nil, fmt.Errorf("move corrupt database aside: %w", err)
	}

	db, err = open(dbPath)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, log: log}, nil
}

func open(dbPath string) (*sql.DB, error) {
	dsn := "file:" + dbPath +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One connection: sqlite serializes writers anyway, and a single
	// conn keeps transactions and pragmas on the same handle.
	db.SetMaxOpenConns(1)

	var verdict string
	if err := db.QueryRow(`PRAGMA quick_check`).Scan(&verdict); err != nil {
		db.Close()
		return nil, fmt.Errorf("integrity check: %w", err)
	}
	if verdict != "ok" {
		db.Close()
		return nil, fmt.Errorf("%w: quick_check reported %q", ErrCorrupt, verdict)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func isCorrupt(err error) bool {
	if errors.Is(err, ErrCorrupt) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database disk image is malformed") ||
		strings.Contains(msg, "file is not a database")
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema
func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS posts (
		id TEXT PRIMARY KEY,
		author_handle TEXT NOT NULL DEFAULT '',
		author_name TEXT NOT NULL DEFAULT '',
		content_text TEXT NOT NULL DEFAULT '',
		content_html TEXT NOT NULL DEFAULT '',
		posted_at DATETIME,
		collected_at DATETIME NOT NULL,
		collection_rank INTEGER NOT NULL UNIQUE,
		likes INTEGER NOT NULL DEFAULT 0,
		reposts INTEGER NOT NULL DEFAULT 0,
		replies INTEGER NOT NULL DEFAULT 0,
		has_media BOOLEAN NOT NULL DEFAULT 0,
		has_links BOOLEAN NOT NULL DEFAULT 0,
		is_quote BOOLEAN NOT NULL DEFAULT 0,
		card_json TEXT NOT NULL DEFAULT '',
		conversation_id TEXT NOT NULL DEFAULT '',
		is_thread_root BOOLEAN NOT NULL DEFAULT 0,
		thread_length INTEGER NOT NULL DEFAULT 0,
		permalink_url TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS links (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		post_id TEXT NOT NULL REFERENCES posts(id),
		url TEXT NOT NULL CHECK (url <> ''),
		resolved_url TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS media_types (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	);

	INSERT OR IGNORE INTO media_types (id, name) VALUES
		(1, 'image'), (2, 'video'), (3, 'animated_gif'), (4, 'card');

	CREATE TABLE IF NOT EXISTS media_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		post_id TEXT NOT NULL REFERENCES posts(id),
		type_id INTEGER NOT NULL REFERENCES media_types(id),
		origin_url TEXT NOT NULL,
		local_path TEXT NOT NULL,
		fetched_at DATETIME NOT NULL,
		UNIQUE (post_id, origin_url)
	);

	CREATE TABLE IF NOT EXISTS thread_memberships (
		root_id TEXT NOT NULL REFERENCES posts(id),
		member_id TEXT NOT NULL REFERENCES posts(id),
		position INTEGER NOT NULL CHECK (position >= 1),
		PRIMARY KEY (root_id, member_id),
		UNIQUE (root_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_posts_conversation ON posts(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_posts_posted_at ON posts(posted_at);
	CREATE INDEX IF NOT EXISTS idx_links_post ON links(post_id);
	CREATE INDEX IF NOT EXISTS idx_media_post ON media_items(post_id);
	`

	_, err := db.Exec(schema)
	return err
}

// Totals summarizes the archive for status output.
type Totals struct {
	Posts   int64 `json:"posts"`
	Links   int64 `json:"links"`
	Media   int64 `json:"media"`
	Threads int64 `json:"threads"`
}

// Stats counts the archive's contents.
func (s *Store) Stats() (Totals, error) {
	var t Totals
	row := s.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM posts),
			(SELECT COUNT(*) FROM links),
			(SELECT COUNT(*) FROM media_items),
			(SELECT COUNT(DISTINCT root_id) FROM thread_memberships)
	`)
	if err := row.Scan(&t.Posts, &t.Links, &t.Media, &t.Threads); err != nil {
		return Totals{}, fmt.Errorf("count archive: %w", err)
	}
	return t, nil
}
