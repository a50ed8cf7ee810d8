package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "postflow/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendJobResult(ctx context.Context, r JobResultRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_results(job_id, success, duration_ms, err, at) VALUES(?,?,?,?,?)`,
		r.JobID, boolInt(r.Success), r.Duration.Milliseconds(), nullStr(r.Error),
		r.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) ArchivePost(ctx context.Context, r PostRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	var published any
	if !r.PublishedAt.IsZero() {
		published = r.PublishedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO post_archive(post_id, owner_id, platforms, status, scheduled_time, published_at, failure_reason)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(post_id) DO UPDATE SET
		   status=excluded.status, published_at=excluded.published_at, failure_reason=excluded.failure_reason`,
		r.ID, r.OwnerID, r.Platforms, r.Status,
		r.ScheduledTime.UTC().Format(time.RFC3339Nano), published, nullStr(r.FailureReason),
	)
	return err
}

func (s *sqliteStore) SaveAnalytics(ctx context.Context, r AnalyticsRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.CollectedAt.IsZero() {
		r.CollectedAt = time.Now()
	}
	// The snapshot is captured once; INSERT OR IGNORE keeps the first capture.
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO post_analytics(post_id, reach, engagement, clicks, collected_at)
		 VALUES(?,?,?,?,?)`,
		r.PostID, r.Reach, r.Engagement, r.Clicks,
		r.CollectedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func nullStr(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
