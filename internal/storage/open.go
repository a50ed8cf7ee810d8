package storage

import (
	"context"
	"errors"
	"strings"

	logx "postflow/pkg/logx"
)

// Store is the minimal persistence API used by services.
type Store interface {
	AppendJobResult(ctx context.Context, r JobResultRecord) error
	ArchivePost(ctx context.Context, r PostRecord) error
	SaveAnalytics(ctx context.Context, r AnalyticsRecord) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
