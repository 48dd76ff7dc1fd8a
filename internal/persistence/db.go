// Package persistence provides SQLite-based storage for placed structures and world metadata.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/tilesim/internal/structure"
)

// Metadata keys.
const (
	MetaWorldID  = "world_id"
	MetaLastTick = "last_tick"
	MetaSeed     = "seed"
)

// ErrSeedMismatch means the database was built from a different terrain seed.
var ErrSeedMismatch = errors.New("terrain seed does not match database")

// DB wraps a SQLite connection for world state persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, errors.New("open db: empty path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
	}

	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS structures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		type INTEGER NOT NULL,
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(x, y)
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveStructure records one placement. A record on an already stored cell is ignored,
// matching the one-structure-per-cell rule of the live registry.
func (db *DB) SaveStructure(rec structure.Record) error {
	_, err := db.conn.NamedExec(
		"INSERT OR IGNORE INTO structures (x, y, type) VALUES (:x, :y, :type)",
		rec,
	)
	if err != nil {
		return fmt.Errorf("insert structure (%d,%d): %w", rec.X, rec.Y, err)
	}
	return nil
}

// DeleteStructure removes the stored structure at (x, y), if any.
func (db *DB) DeleteStructure(x, y int) error {
	_, err := db.conn.Exec("DELETE FROM structures WHERE x = ? AND y = ?", x, y)
	return err
}

// LoadStructures returns every stored structure in placement order.
func (db *DB) LoadStructures() ([]structure.Record, error) {
	var recs []structure.Record
	if err := db.conn.Select(&recs, "SELECT x, y, type FROM structures ORDER BY id"); err != nil {
		return nil, fmt.Errorf("load structures: %w", err)
	}
	return recs, nil
}

// CountStructures returns the number of stored structures.
func (db *DB) CountStructures() (int, error) {
	var n int
	err := db.conn.Get(&n, "SELECT COUNT(*) FROM structures")
	return n, err
}

// SaveMeta stores a key-value pair in world metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value. A missing key returns sql.ErrNoRows.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE key = ?", key)
	return value, err
}

// WorldID returns the world's stable identifier, creating one on first use.
func (db *DB) WorldID() (uuid.UUID, error) {
	v, err := db.GetMeta(MetaWorldID)
	switch {
	case err == nil:
		id, perr := uuid.Parse(v)
		if perr != nil {
			return uuid.Nil, fmt.Errorf("world id %q: %w", v, perr)
		}
		return id, nil
	case errors.Is(err, sql.ErrNoRows):
		id := uuid.New()
		if err := db.SaveMeta(MetaWorldID, id.String()); err != nil {
			return uuid.Nil, fmt.Errorf("save world id: %w", err)
		}
		slog.Info("created world", "world_id", id.String())
		return id, nil
	default:
		return uuid.Nil, err
	}
}

// CheckSeed records seed on first use and afterwards verifies it is unchanged.
// Saved structures are only meaningful on the terrain they were placed on.
func (db *DB) CheckSeed(seed int64) error {
	v, err := db.GetMeta(MetaSeed)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := db.SaveMeta(MetaSeed, strconv.FormatInt(seed, 10)); err != nil {
			return fmt.Errorf("save seed: %w", err)
		}
		return nil
	case err != nil:
		return err
	}
	stored, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("stored seed %q: %w", v, err)
	}
	if stored != seed {
		return fmt.Errorf("%w: stored %d, configured %d", ErrSeedMismatch, stored, seed)
	}
	return nil
}

// SaveLastTick records how far the simulation ran.
func (db *DB) SaveLastTick(tick uint64) error {
	return db.SaveMeta(MetaLastTick, strconv.FormatUint(tick, 10))
}

// LastTick returns the last recorded tick, or zero if none was saved.
func (db *DB) LastTick() (uint64, error) {
	v, err := db.GetMeta(MetaLastTick)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(v, 10, 64)
}
