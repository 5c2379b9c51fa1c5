package db

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"linkvault/pkg/domain"
)

var ErrCircuitOpen = errors.New("database circuit breaker open")

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

const (
	defaultMaxOpenConns = 100
	defaultMaxIdleConns = 10
	defaultQueryTimeout = 5 * time.Second
)

type SQLite struct {
	db            *sql.DB
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}

func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}

func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping db")
	}
	s := &SQLite{
		db:           db,
		queryTimeout: queryTimeout,
	}
	if err := s.migrate(); err != nil {
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}

func (s *SQLite) checkCircuit() error {
	state := atomic.LoadInt32(&s.circuitState)
	switch state {
	case circuitClosed:
		return nil
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return ErrCircuitOpen
	case circuitHalfOpen:
		return nil
	default:
		return nil
	}
}

func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
	}
}

func (s *SQLite) migrate() error {
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return errors.Wrap(err, "enable WAL mode")
	}
	if _, err := s.db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return errors.Wrap(err, "set busy timeout")
	}
	query := `
	CREATE TABLE IF NOT EXISTS pastes (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		content TEXT,
		file_name TEXT,
		file_size INTEGER DEFAULT 0,
		mime_type TEXT,
		local_path TEXT,
		remote_key TEXT,
		remote_url TEXT,
		password_hash TEXT,
		max_views INTEGER DEFAULT 0,
		views INTEGER DEFAULT 0,
		one_time_view INTEGER DEFAULT 0,
		owner_id TEXT,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pastes_expires_at ON pastes(expires_at);
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *SQLite) CreatePaste(ctx context.Context, p *domain.Paste) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	INSERT INTO pastes (id, kind, content, file_name, file_size, mime_type, local_path, remote_key, remote_url,
		password_hash, max_views, views, one_time_view, owner_id, created_at, expires_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(queryCtx, q,
		p.ID, string(p.Kind), p.Content, p.FileName, p.FileSize, p.MimeType, p.LocalPath, p.RemoteKey, p.RemoteURL,
		p.PasswordHash, p.MaxViews, boolToInt(p.OneTimeView), p.OwnerID, p.CreatedAt, p.ExpiresAt,
	)
	s.recordError(err)
	return errors.Wrap(err, "db create paste")
}

// GetPaste returns the record regardless of expiry; expiry policy lives in
// the access gate so an expired record can be distinguished from a missing
// one and purged.
func (s *SQLite) GetPaste(ctx context.Context, id string) (*domain.Paste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT id, kind, content, file_name, file_size, mime_type, local_path, remote_key, remote_url,
		password_hash, max_views, views, one_time_view, owner_id, created_at, expires_at
	FROM pastes WHERE id = ?
	`
	var p domain.Paste
	var kind string
	var oneTime int
	err := s.db.QueryRowContext(queryCtx, q, id).Scan(
		&p.ID, &kind, &p.Content, &p.FileName, &p.FileSize, &p.MimeType, &p.LocalPath, &p.RemoteKey, &p.RemoteURL,
		&p.PasswordHash, &p.MaxViews, &p.Views, &oneTime, &p.OwnerID, &p.CreatedAt, &p.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrInvalidLink
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db get paste")
	}
	p.Kind = domain.Kind(kind)
	p.OneTimeView = oneTime != 0
	return &p, nil
}

// DeletePaste is idempotent: deleting an id that is already gone succeeds.
func (s *SQLite) DeletePaste(ctx context.Context, id string) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	_, err := s.db.ExecContext(queryCtx, `DELETE FROM pastes WHERE id = ?`, id)
	s.recordError(err)
	return errors.Wrap(err, "db delete paste")
}

// ConsumeView atomically increments the view counter, refusing when the view
// budget is spent. The conditional UPDATE is what keeps views from ever
// exceeding max_views under concurrent reads.
func (s *SQLite) ConsumeView(ctx context.Context, id string) (int, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	UPDATE pastes SET views = views + 1
	WHERE id = ? AND (max_views <= 0 OR views < max_views)
	RETURNING views
	`
	var views int
	err := s.db.QueryRowContext(queryCtx, q, id).Scan(&views)
	if err == sql.ErrNoRows {
		exists, exErr := s.PasteExists(ctx, id)
		if exErr != nil {
			return 0, exErr
		}
		if exists {
			return 0, domain.ErrViewLimitExceeded
		}
		return 0, domain.ErrInvalidLink
	}
	s.recordError(err)
	if err != nil {
		return 0, errors.Wrap(err, "db consume view")
	}
	return views, nil
}

// ListExpired returns full records so callers can clean up the storage
// objects behind them.
func (s *SQLite) ListExpired(ctx context.Context, now time.Time) ([]*domain.Paste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT id, kind, content, file_name, file_size, mime_type, local_path, remote_key, remote_url,
		password_hash, max_views, views, one_time_view, owner_id, created_at, expires_at
	FROM pastes WHERE expires_at <= ?
	`
	rows, err := s.db.QueryContext(queryCtx, q, now)
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db list expired")
	}
	defer rows.Close()
	var out []*domain.Paste
	for rows.Next() {
		var p domain.Paste
		var kind string
		var oneTime int
		if err := rows.Scan(
			&p.ID, &kind, &p.Content, &p.FileName, &p.FileSize, &p.MimeType, &p.LocalPath, &p.RemoteKey, &p.RemoteURL,
			&p.PasswordHash, &p.MaxViews, &p.Views, &oneTime, &p.OwnerID, &p.CreatedAt, &p.ExpiresAt,
		); err != nil {
			return nil, errors.Wrap(err, "db scan expired")
		}
		p.Kind = domain.Kind(kind)
		p.OneTimeView = oneTime != 0
		out = append(out, &p)
	}
	return out, errors.Wrap(rows.Err(), "db iterate expired")
}

func (s *SQLite) PasteExists(ctx context.Context, id string) (bool, error) {
	if err := s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var exists int
	err := s.db.QueryRowContext(queryCtx, `SELECT 1 FROM pastes WHERE id = ? LIMIT 1`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	s.recordError(err)
	if err != nil {
		return false, errors.Wrap(err, "exists check failed")
	}
	return exists == 1, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
