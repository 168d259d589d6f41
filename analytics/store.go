package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists visitor records.
type Store interface {
	// RecordVisit upserts the record for identifier and returns its new state.
	RecordVisit(ctx context.Context, identifier, userAgent string, at time.Time) (VisitRecord, error)
	// VisitsSince returns records whose last visit lies in [from, to].
	VisitsSince(ctx context.Context, from, to time.Time) ([]VisitRecord, error)
	Totals(ctx context.Context) (Totals, error)
	Summary(ctx context.Context) (*Summary, error)
	// Seed bulk-loads records with the same upsert semantics as RecordVisit.
	Seed(ctx context.Context, records []VisitRecord) (int, error)
	// Clear deletes every record and returns how many were removed.
	Clear(ctx context.Context) (int, error)
	Close() error
}

// StoreConfig selects and configures a Store backend.
type StoreConfig struct {
	Driver        string // "sqlite" or "mongo"
	DatabasePath  string
	MongoURI      string
	MongoDatabase string
}

// OpenStore opens the backend named by cfg.Driver.
func OpenStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLiteStore(cfg.DatabasePath)
	case "mongo", "mongodb":
		return NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// timeLayout is fixed-width UTC so text comparison in SQL orders chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// sqlTime scans timestamps written with timeLayout. The driver may already
// hand back a time.Time for DATETIME columns.
type sqlTime struct {
	time.Time
}

func (t *sqlTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
	case time.Time:
		t.Time = v.UTC()
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("scan time: unsupported type %T", src)
	}
	return nil
}

func (t *sqlTime) parse(s string) error {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("scan time: unrecognized format %q", s)
}

// SQLiteStore is a Store backed by a SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the SQLite database at path, ensures the
// data directory exists, and runs schema migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open visitor db: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	// WAL lets the dashboard read while visits are being written; the busy
	// timeout makes writers wait instead of failing with SQLITE_BUSY.
	if _, err := db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA busy_timeout=5000;
		PRAGMA synchronous=NORMAL;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS visitors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			identifier TEXT NOT NULL UNIQUE,
			user_agent TEXT NOT NULL DEFAULT '',
			last_visit DATETIME NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_visitors_last_visit ON visitors(last_visit);

		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	return err
}

// currentSchemaVersion is the latest schema version. Increment when adding migrations.
const currentSchemaVersion = 1

// migrate applies incremental schema migrations based on a version stored in the settings table.
func (s *SQLiteStore) migrate() error {
	verStr, err := s.GetSetting("schema_version")
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	version := 0
	if verStr != "" {
		version, err = strconv.Atoi(verStr)
		if err != nil {
			return fmt.Errorf("parse schema version %q: %w", verStr, err)
		}
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("schema version %d is newer than supported %d", version, currentSchemaVersion)
	}

	if version < 1 {
		version = 1
	}

	return s.SetSetting("schema_version", strconv.Itoa(version))
}

// GetSetting retrieves a setting value by key. Returns empty string if not found.
func (s *SQLiteStore) GetSetting(key string) (string, error) {
	var val string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&val)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return val, err
}

// SetSetting stores a setting value by key (upsert).
func (s *SQLiteStore) SetSetting(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

const upsertVisitSQL = `
	INSERT INTO visitors (identifier, user_agent, last_visit, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(identifier) DO UPDATE SET
		user_agent = excluded.user_agent,
		last_visit = excluded.last_visit,
		updated_at = excluded.updated_at
	RETURNING identifier, user_agent, last_visit, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVisit(row rowScanner) (VisitRecord, error) {
	var rec VisitRecord
	var last, created, updated sqlTime
	if err := row.Scan(&rec.Identifier, &rec.UserAgent, &last, &created, &updated); err != nil {
		return VisitRecord{}, err
	}
	rec.LastVisit = last.Time
	rec.CreatedAt = created.Time
	rec.UpdatedAt = updated.Time
	return rec, nil
}

// RecordVisit upserts the visitor row in a single statement.
func (s *SQLiteStore) RecordVisit(ctx context.Context, identifier, userAgent string, at time.Time) (VisitRecord, error) {
	identifier = normalizeIdentifier(identifier)
	if identifier == "" {
		return VisitRecord{}, ErrEmptyIdentifier
	}
	ts := formatTime(at)
	rec, err := scanVisit(s.db.QueryRowContext(ctx, upsertVisitSQL,
		identifier, clampUserAgent(userAgent), ts, ts, ts))
	if err != nil {
		return VisitRecord{}, fmt.Errorf("upsert visitor %s: %w", identifier, err)
	}
	return rec, nil
}

// VisitsSince returns visitors last seen within [from, to], oldest first.
func (s *SQLiteStore) VisitsSince(ctx context.Context, from, to time.Time) ([]VisitRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identifier, user_agent, last_visit, created_at, updated_at
		FROM visitors
		WHERE last_visit >= ? AND last_visit <= ?
		ORDER BY last_visit`, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("query visits: %w", err)
	}
	defer rows.Close()

	var visits []VisitRecord
	for rows.Next() {
		rec, err := scanVisit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan visit: %w", err)
		}
		visits = append(visits, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate visits: %w", err)
	}
	return visits, nil
}

// Totals counts visitor rows and distinct identifiers.
func (s *SQLiteStore) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(DISTINCT identifier) FROM visitors`).
		Scan(&t.TotalVisitors, &t.UniqueVisitors)
	if err != nil {
		return Totals{}, fmt.Errorf("count visitors: %w", err)
	}
	return t, nil
}

// Seed upserts records inside one transaction and returns how many were written.
func (s *SQLiteStore) Seed(ctx context.Context, records []VisitRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertVisitSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare seed: %w", err)
	}
	defer stmt.Close()

	n := 0
	for _, rec := range records {
		id := normalizeIdentifier(rec.Identifier)
		if id == "" {
			continue
		}
		ts := formatTime(rec.LastVisit)
		if _, err := scanVisit(stmt.QueryRowContext(ctx, id, clampUserAgent(rec.UserAgent), ts, ts, ts)); err != nil {
			return n, fmt.Errorf("seed visitor %s: %w", id, err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return n, fmt.Errorf("commit seed: %w", err)
	}
	return n, nil
}

// Clear deletes every visitor row.
func (s *SQLiteStore) Clear(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM visitors`)
	if err != nil {
		return 0, fmt.Errorf("clear visitors: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear visitors: %w", err)
	}
	return int(n), nil
}

// Summary runs the report queries concurrently and returns the first error.
func (s *SQLiteStore) Summary(ctx context.Context) (*Summary, error) {
	sum := &Summary{VisitsByYear: []YearCount{}}

	var mu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error

	setErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	// Totals
	wg.Add(1)
	go func() {
		defer wg.Done()
		t, err := s.Totals(ctx)
		if err != nil {
			setErr(err)
			return
		}
		mu.Lock()
		sum.Totals = t
		mu.Unlock()
	}()

	// Date range
	wg.Add(1)
	go func() {
		defer wg.Done()
		var earliest, latest sqlTime
		err := s.db.QueryRowContext(ctx, `SELECT MIN(last_visit), MAX(last_visit) FROM visitors`).
			Scan(&earliest, &latest)
		if err != nil {
			setErr(fmt.Errorf("date range: %w", err))
			return
		}
		mu.Lock()
		sum.Earliest, sum.Latest = earliest.Time, latest.Time
		mu.Unlock()
	}()

	// Visits by year
	wg.Add(1)
	go func() {
		defer wg.Done()
		rows, err := s.db.QueryContext(ctx, `
			SELECT CAST(substr(last_visit, 1, 4) AS INTEGER) AS year, COUNT(*)
			FROM visitors GROUP BY year ORDER BY year`)
		if err != nil {
			setErr(fmt.Errorf("visits by year: %w", err))
			return
		}
		defer rows.Close()
		var years []YearCount
		for rows.Next() {
			var yc YearCount
			if err := rows.Scan(&yc.Year, &yc.Count); err != nil {
				setErr(fmt.Errorf("scan year: %w", err))
				return
			}
			years = append(years, yc)
		}
		if err := rows.Err(); err != nil {
			setErr(fmt.Errorf("visits by year: %w", err))
			return
		}
		mu.Lock()
		if years != nil {
			sum.VisitsByYear = years
		}
		mu.Unlock()
	}()

	// User agents: top agent and device split
	wg.Add(1)
	go func() {
		defer wg.Done()
		rows, err := s.db.QueryContext(ctx, `SELECT user_agent, COUNT(*) FROM visitors GROUP BY user_agent`)
		if err != nil {
			setErr(fmt.Errorf("user agents: %w", err))
			return
		}
		defer rows.Close()
		var agents []agentCount
		for rows.Next() {
			var ac agentCount
			if err := rows.Scan(&ac.Agent, &ac.Count); err != nil {
				setErr(fmt.Errorf("scan user agent: %w", err))
				return
			}
			agents = append(agents, ac)
		}
		if err := rows.Err(); err != nil {
			setErr(fmt.Errorf("user agents: %w", err))
			return
		}
		mu.Lock()
		sum.addAgents(agents)
		mu.Unlock()
	}()

	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return sum, nil
}
