// Package sqlite persists photopath state in a single SQLite file: the
// key-value records behind photopath.Store and the saved-critique journal.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/anatolykoptev/go-photopath"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	image_url  TEXT NOT NULL,
	taken_on   TEXT NOT NULL,
	location   TEXT,
	notes      TEXT,
	tags       TEXT,
	exif       TEXT,
	scores     TEXT NOT NULL,
	analysis   TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_created ON entries(created_at);`

// createdLayout is fixed-width so created_at sorts as text.
const createdLayout = "2006-01-02T15:04:05.000000000Z"

// DB is an open database holding both the store and the journal.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Each connection to ":memory:" is a separate database; SQLite serializes
	// writers anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error { return d.db.Close() }

// Store returns the key-value view.
func (d *DB) Store() *Store { return &Store{db: d.db} }

// Journal returns the saved-critique view.
func (d *DB) Journal() *Journal { return &Journal{db: d.db} }

// Store implements photopath.Store.
type Store struct {
	db *sql.DB
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Journal implements photopath.Journal.
type Journal struct {
	db *sql.DB
}

// SaveEntry inserts e, replacing any entry with the same ID.
func (j *Journal) SaveEntry(ctx context.Context, e *photopath.Entry) error {
	tags, err := json.Marshal(e.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	var exif []byte
	if e.Exif != nil {
		if exif, err = json.Marshal(e.Exif); err != nil {
			return fmt.Errorf("encode exif: %w", err)
		}
	}
	scores, err := json.Marshal(e.Scores)
	if err != nil {
		return fmt.Errorf("encode scores: %w", err)
	}
	analysis, err := json.Marshal(e.Analysis)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}

	_, err = j.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO entries
		 (id, title, image_url, taken_on, location, notes, tags, exif, scores, analysis, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Title, e.ImageURL, e.Date.Format(time.RFC3339), e.Location, e.Notes,
		string(tags), nullable(exif), string(scores), string(analysis),
		time.Now().UTC().Format(createdLayout))
	if err != nil {
		return fmt.Errorf("insert entry %s: %w", e.ID, err)
	}
	return nil
}

// ListEntries returns up to limit entries, newest first. limit <= 0 means all.
func (j *Journal) ListEntries(ctx context.Context, limit int) ([]photopath.Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, title, image_url, taken_on, location, notes, tags, exif, scores, analysis
		 FROM entries ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []photopath.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// GetEntry returns photopath.ErrNotFound for unknown IDs.
func (j *Journal) GetEntry(ctx context.Context, id string) (*photopath.Entry, error) {
	row := j.db.QueryRowContext(ctx,
		`SELECT id, title, image_url, taken_on, location, notes, tags, exif, scores, analysis
		 FROM entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entry %s: %w", id, photopath.ErrNotFound)
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (*photopath.Entry, error) {
	var (
		e                photopath.Entry
		date             string
		location, notes  sql.NullString
		tags, exif       sql.NullString
		scores, analysis string
	)
	if err := sc.Scan(&e.ID, &e.Title, &e.ImageURL, &date, &location, &notes, &tags, &exif, &scores, &analysis); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan entry: %w", err)
	}

	e.Location, e.Notes = location.String, notes.String
	if t, err := time.Parse(time.RFC3339, date); err == nil {
		e.Date = t
	}
	if tags.Valid && tags.String != "" && tags.String != "null" {
		if err := json.Unmarshal([]byte(tags.String), &e.Tags); err != nil {
			return nil, fmt.Errorf("decode tags of %s: %w", e.ID, err)
		}
	}
	if exif.Valid && exif.String != "" {
		e.Exif = &photopath.Exif{}
		if err := json.Unmarshal([]byte(exif.String), e.Exif); err != nil {
			return nil, fmt.Errorf("decode exif of %s: %w", e.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(scores), &e.Scores); err != nil {
		return nil, fmt.Errorf("decode scores of %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(analysis), &e.Analysis); err != nil {
		return nil, fmt.Errorf("decode analysis of %s: %w", e.ID, err)
	}
	return &e, nil
}

func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
