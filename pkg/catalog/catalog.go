// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package catalog is the durable record of source files and their
// backup replicas. It wraps a database/sql pool over a pure-Go SQLite
// driver: a config struct naming where data lives, an idempotent
// schema step (ensureSchema), and narrow lookup/upsert/update
// operations whose pool handle is guarded by a RWMutex against
// concurrent reconfiguration.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kraklabs/hashbackup/internal/errors"
)

// SourceRecord is one row of the sources table.
type SourceRecord struct {
	ID              int64
	FileName        string
	ParentDirectory string
	Hash            string
	FileSize        int64
	LastModified    int64
}

// ReplicaRecord is one row of the replicas table.
type ReplicaRecord struct {
	ID              int64
	SourceID        int64
	FileName        string
	ParentDirectory string
	LastModified    int64
}

// ReplicaWithSourceHash is a replica joined to its source's hash, used
// by the change classifier to decide whether a destination is current.
type ReplicaWithSourceHash struct {
	ReplicaRecord
	SourceHash string
}

// LogLevel enumerates the durable log levels, matching the CHECK
// constraint on the logs table.
type LogLevel string

const (
	LevelError LogLevel = "ERROR"
	LevelWarn  LogLevel = "WARN"
	LevelInfo  LogLevel = "INFO"
	LevelDebug LogLevel = "DEBUG"
	LevelTrace LogLevel = "TRACE"
)

// LogRecord is one row of the logs table.
type LogRecord struct {
	ID        int64
	Timestamp int64
	Level     LogLevel
	Message   string
	Context   string
	Source    string
}

// LogFilter narrows a QueryLogs call.
type LogFilter struct {
	MinLevel LogLevel
	Limit    int
}

// Config describes where and how the catalog's backing store lives.
type Config struct {
	// DatabaseFile is the path to the SQLite file, or "" / ":memory:"
	// for an in-memory, non-persistent catalog.
	DatabaseFile string
}

// Catalog is a process-wide handle to the backup catalog. It is safe
// for concurrent use; Reconfigure atomically swaps the underlying pool
// while in-flight operations against the old pool are left to finish
// naturally (database/sql connections are reference-counted).
type Catalog struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

var levelRank = map[LogLevel]int{
	LevelTrace: 0,
	LevelDebug: 1,
	LevelInfo:  2,
	LevelWarn:  3,
	LevelError: 4,
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sources (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_name TEXT NOT NULL,
	parent_directory TEXT NOT NULL,
	hash TEXT NOT NULL,
	file_size INTEGER NOT NULL,
	last_modified INTEGER NOT NULL,
	UNIQUE(file_name, parent_directory)
);
CREATE INDEX IF NOT EXISTS idx_sources_file_name ON sources(file_name);

CREATE TABLE IF NOT EXISTS replicas (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id INTEGER NOT NULL REFERENCES sources(id),
	file_name TEXT NOT NULL,
	parent_directory TEXT NOT NULL,
	last_modified INTEGER NOT NULL,
	UNIQUE(file_name, parent_directory)
);
CREATE INDEX IF NOT EXISTS idx_replicas_path ON replicas(file_name, parent_directory);
CREATE INDEX IF NOT EXISTS idx_replicas_source_id ON replicas(source_id);

CREATE TABLE IF NOT EXISTS logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	level TEXT NOT NULL CHECK(level IN ('ERROR','WARN','INFO','DEBUG','TRACE')),
	message TEXT NOT NULL,
	context TEXT,
	source TEXT
);
CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_logs_level ON logs(level);
`

// Open opens (creating if necessary) the catalog described by cfg,
// sizes its connection pool to runtime.NumCPU() + 7, applies the
// required PRAGMAs, and creates the schema if absent. runtime.NumCPU
// counts logical CPUs, so on a machine with hyper-threading the pool is
// larger than the physical core count plus seven.
func Open(ctx context.Context, cfg Config) (*Catalog, error) {
	dsn := cfg.DatabaseFile
	inMemory := dsn == "" || dsn == ":memory:"
	if inMemory {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.NewCatalogInitError("cannot open catalog", dsn, "check the database_file path is writable", err)
	}

	poolSize := runtime.NumCPU() + 7
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	if !inMemory {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, errors.NewCatalogInitError("cannot configure catalog", p, "", err)
		}
	}

	c := &Catalog{db: db}
	if err := c.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// ensureSchema creates the schema inside a single transaction. It is
// idempotent: CREATE TABLE/INDEX IF NOT EXISTS makes repeated calls
// (e.g. across Reconfigure) safe.
func (c *Catalog) ensureSchema(ctx context.Context) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewCatalogInitError("cannot begin schema transaction", "", "", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return errors.NewCatalogInitError("cannot create schema", "", "", err)
	}
	if err := tx.Commit(); err != nil {
		return errors.NewCatalogInitError("cannot commit schema transaction", "", "", err)
	}
	return nil
}

// Reconfigure atomically replaces the catalog's pool with one opened
// against newCfg. The old pool is closed only after the swap, so
// in-flight queries against it are allowed to finish.
func (c *Catalog) Reconfigure(ctx context.Context, newCfg Config) error {
	replacement, err := Open(ctx, newCfg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	old := c.db
	c.db = replacement.db
	c.mu.Unlock()

	return old.Close()
}

// Close releases the catalog's connection pool.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}

func (c *Catalog) pool() *sql.DB {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db
}

// LookupSource returns the source record for (name, dir), or (nil, nil)
// if no such row exists.
func (c *Catalog) LookupSource(ctx context.Context, name, dir string) (*SourceRecord, error) {
	row := c.pool().QueryRowContext(ctx,
		`SELECT id, file_name, parent_directory, hash, file_size, last_modified
		 FROM sources WHERE file_name = ? AND parent_directory = ?`, name, dir)

	var rec SourceRecord
	if err := row.Scan(&rec.ID, &rec.FileName, &rec.ParentDirectory, &rec.Hash, &rec.FileSize, &rec.LastModified); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.NewCatalogQueryError("cannot look up source", fmt.Sprintf("%s/%s", dir, name), "", err)
	}
	return &rec, nil
}

// LookupReplica returns the replica record for (name, dir) joined to
// its source's hash, or (nil, nil) if no such row exists.
func (c *Catalog) LookupReplica(ctx context.Context, name, dir string) (*ReplicaWithSourceHash, error) {
	row := c.pool().QueryRowContext(ctx,
		`SELECT r.id, r.source_id, r.file_name, r.parent_directory, r.last_modified, s.hash
		 FROM replicas r JOIN sources s ON s.id = r.source_id
		 WHERE r.file_name = ? AND r.parent_directory = ?`, name, dir)

	var rec ReplicaWithSourceHash
	if err := row.Scan(&rec.ID, &rec.SourceID, &rec.FileName, &rec.ParentDirectory, &rec.LastModified, &rec.SourceHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.NewCatalogQueryError("cannot look up replica", fmt.Sprintf("%s/%s", dir, name), "", err)
	}
	return &rec, nil
}

// UpsertSource inserts rec, or updates the existing row for
// (file_name, parent_directory) if one exists, returning its id.
func (c *Catalog) UpsertSource(ctx context.Context, rec SourceRecord) (int64, error) {
	_, err := c.pool().ExecContext(ctx,
		`INSERT INTO sources (file_name, parent_directory, hash, file_size, last_modified)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(file_name, parent_directory) DO UPDATE SET
			hash = excluded.hash, file_size = excluded.file_size, last_modified = excluded.last_modified`,
		rec.FileName, rec.ParentDirectory, rec.Hash, rec.FileSize, rec.LastModified)
	if err != nil {
		return 0, errors.NewCatalogInsertError("cannot upsert source", fmt.Sprintf("%s/%s", rec.ParentDirectory, rec.FileName), "", err)
	}

	existing, err := c.LookupSource(ctx, rec.FileName, rec.ParentDirectory)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		return 0, errors.NewCatalogQueryError("source vanished after upsert", fmt.Sprintf("%s/%s", rec.ParentDirectory, rec.FileName), "", nil)
	}
	return existing.ID, nil
}

// UpdateSourceLastModified updates only the last_modified column of
// source id, used when a file's mtime drifted but its content did not.
func (c *Catalog) UpdateSourceLastModified(ctx context.Context, id int64, ts int64) error {
	_, err := c.pool().ExecContext(ctx, `UPDATE sources SET last_modified = ? WHERE id = ?`, ts, id)
	if err != nil {
		return errors.NewCatalogUpdateError("cannot update source mtime", fmt.Sprintf("id=%d", id), "", err)
	}
	return nil
}

// UpdateSource rewrites the hash, size, and mtime of source id.
func (c *Catalog) UpdateSource(ctx context.Context, id int64, hash string, size int64, ts int64) error {
	_, err := c.pool().ExecContext(ctx,
		`UPDATE sources SET hash = ?, file_size = ?, last_modified = ? WHERE id = ?`, hash, size, ts, id)
	if err != nil {
		return errors.NewCatalogUpdateError("cannot update source", fmt.Sprintf("id=%d", id), "", err)
	}
	return nil
}

// UpsertReplica inserts rec, or updates the existing row for
// (file_name, parent_directory) if one exists.
func (c *Catalog) UpsertReplica(ctx context.Context, rec ReplicaRecord) error {
	_, err := c.pool().ExecContext(ctx,
		`INSERT INTO replicas (source_id, file_name, parent_directory, last_modified)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(file_name, parent_directory) DO UPDATE SET
			source_id = excluded.source_id, last_modified = excluded.last_modified`,
		rec.SourceID, rec.FileName, rec.ParentDirectory, rec.LastModified)
	if err != nil {
		return errors.NewCatalogInsertError("cannot upsert replica", fmt.Sprintf("%s/%s", rec.ParentDirectory, rec.FileName), "", err)
	}
	return nil
}

// Totals returns the count and total file_size of all source rows.
func (c *Catalog) Totals(ctx context.Context) (count int64, totalSize int64, err error) {
	row := c.pool().QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(file_size), 0) FROM sources`)
	if err := row.Scan(&count, &totalSize); err != nil {
		return 0, 0, errors.NewCatalogQueryError("cannot compute totals", "", "", err)
	}
	return count, totalSize, nil
}

// ReplicaTotalsByDestinationPrefix returns the count and total size of
// replicas whose parent_directory begins with prefix, joined to their
// source's file_size.
func (c *Catalog) ReplicaTotalsByDestinationPrefix(ctx context.Context, prefix string) (count int64, totalSize int64, err error) {
	row := c.pool().QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(s.file_size), 0)
		 FROM replicas r JOIN sources s ON s.id = r.source_id
		 WHERE r.parent_directory LIKE ? || '%'`, prefix)
	if err := row.Scan(&count, &totalSize); err != nil {
		return 0, 0, errors.NewCatalogQueryError("cannot compute replica totals", prefix, "", err)
	}
	return count, totalSize, nil
}

// AppendLog writes one row to the logs table with the current time.
func (c *Catalog) AppendLog(ctx context.Context, level LogLevel, msg, source string) error {
	_, err := c.pool().ExecContext(ctx,
		`INSERT INTO logs (timestamp, level, message, source) VALUES (?, ?, ?, ?)`,
		time.Now().Unix(), level, msg, source)
	if err != nil {
		return errors.NewCatalogInsertError("cannot append log", msg, "", err)
	}
	return nil
}

// QueryLogs returns log rows matching filter, most recent first.
func (c *Catalog) QueryLogs(ctx context.Context, filter LogFilter) ([]LogRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := c.pool().QueryContext(ctx,
		`SELECT id, timestamp, level, message, COALESCE(context, ''), COALESCE(source, '')
		 FROM logs ORDER BY timestamp DESC, id DESC`)
	if err != nil {
		return nil, errors.NewCatalogQueryError("cannot query logs", "", "", err)
	}
	defer rows.Close()

	minRank := levelRank[filter.MinLevel]
	var out []LogRecord
	for rows.Next() {
		var rec LogRecord
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Level, &rec.Message, &rec.Context, &rec.Source); err != nil {
			return nil, errors.NewCatalogQueryError("cannot scan log row", "", "", err)
		}
		if filter.MinLevel != "" && levelRank[rec.Level] < minRank {
			continue
		}
		out = append(out, rec)
		if len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

// ClearLogs deletes every row from the logs table.
func (c *Catalog) ClearLogs(ctx context.Context) error {
	_, err := c.pool().ExecContext(ctx, `DELETE FROM logs`)
	if err != nil {
		return errors.NewCatalogUpdateError("cannot clear logs", "", "", err)
	}
	return nil
}
