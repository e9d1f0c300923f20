package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/network"
	_ "modernc.org/sqlite"

	"github.com/ibeckermayer/claim4me/internal/auth"
)

// Store handles all database operations
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ auth.CookieStore = (*Store)(nil)

// New creates a new Store with SQLite backend
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer; the flows are sequential anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cookies (
		id TEXT PRIMARY KEY,
		cookies TEXT NOT NULL,
		captured_at DATETIME NOT NULL,
		expires_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		site TEXT NOT NULL,
		flow TEXT NOT NULL,
		outcome TEXT NOT NULL,
		detail TEXT,
		auth_stage TEXT,
		dry_run BOOLEAN NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_site ON runs(site, flow);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Save stores cookies for a session id, replacing earlier ones.
func (s *Store) Save(id string, cookies []*network.Cookie) error {
	stored := auth.NewStoredCookies(cookies, s.now())
	data, err := json.Marshal(stored.Cookies)
	if err != nil {
		return err
	}

	var expires any
	if !stored.ExpiresAt.IsZero() {
		expires = stored.ExpiresAt
	}
	_, err = s.db.Exec(`
		INSERT INTO cookies (id, cookies, captured_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			cookies = excluded.cookies,
			captured_at = excluded.captured_at,
			expires_at = excluded.expires_at
	`, id, string(data), stored.CapturedAt, expires)

	return err
}

// Load returns the stored cookies for id, or auth.ErrNoCookies when none
// are stored or they have expired.
func (s *Store) Load(id string) ([]*network.Cookie, error) {
	stored, err := s.Stored(id)
	if err != nil {
		return nil, err
	}
	if stored.Expired(s.now()) || len(stored.Cookies) == 0 {
		return nil, auth.ErrNoCookies
	}
	return stored.Network(), nil
}

// Stored returns the raw cookie record for id.
func (s *Store) Stored(id string) (*auth.StoredCookies, error) {
	var (
		data    string
		stored  auth.StoredCookies
		expires sql.NullTime
	)
	err := s.db.QueryRow(`SELECT cookies, captured_at, expires_at FROM cookies WHERE id = ?`, id).
		Scan(&data, &stored.CapturedAt, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNoCookies
	}
	if err != nil {
		return nil, err
	}
	if expires.Valid {
		stored.ExpiresAt = expires.Time
	}
	if err := json.Unmarshal([]byte(data), &stored.Cookies); err != nil {
		return nil, err
	}
	return &stored, nil
}

// Delete removes the cookies stored for id.
func (s *Store) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM cookies WHERE id = ?`, id)
	return err
}

// SaveRun inserts a run record
func (s *Store) SaveRun(r *Run) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, site, flow, outcome, detail, auth_stage, dry_run, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Site, r.Flow, r.Outcome, r.Detail, r.AuthStage, r.DryRun, r.StartedAt, r.FinishedAt)

	return err
}

// RecentRuns returns the latest runs, newest first.
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, site, flow, outcome, detail, auth_stage, dry_run, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var detail, stage sql.NullString
		err := rows.Scan(&r.ID, &r.Site, &r.Flow, &r.Outcome, &detail, &stage, &r.DryRun, &r.StartedAt, &r.FinishedAt)
		if err != nil {
			return nil, err
		}
		r.Detail = detail.String
		r.AuthStage = stage.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LastCompleted returns the most recent completed run of a flow, or nil.
func (s *Store) LastCompleted(site, flow string) (*Run, error) {
	var r Run
	var detail, stage sql.NullString
	err := s.db.QueryRow(`
		SELECT id, site, flow, outcome, detail, auth_stage, dry_run, started_at, finished_at
		FROM runs
		WHERE site = ? AND flow = ? AND outcome = ? AND dry_run = 0
		ORDER BY started_at DESC
		LIMIT 1
	`, site, flow, OutcomeCompleted).Scan(&r.ID, &r.Site, &r.Flow, &r.Outcome, &detail, &stage, &r.DryRun, &r.StartedAt, &r.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Detail = detail.String
	r.AuthStage = stage.String
	return &r, nil
}
