// Package store persists receiver observations in libsql: adaptive limiter
// snapshots, attribute snapshots after a refresh and the realtime event
// journal.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/avrlink/avrlink/internal/config"
)

const driverLibsql = "libsql"

// errNotInitialized is returned by every method on a nil or closed store.
var errNotInitialized = errors.New("store is not initialized")

// Store wraps the database connection.
type Store struct {
	DB     *sql.DB
	driver string
}

// Open initializes a store connection using the provided configuration.
func Open(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	driver := strings.TrimSpace(cfg.Driver)
	if driver == "" {
		driver = driverLibsql
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if driver != driverLibsql {
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}

	dsn, err := buildLibsqlDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverLibsql, dsn)
	if err != nil {
		return nil, fmt.Errorf("open libsql store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping libsql store: %w", err)
	}

	if isLocalDSN(dsn) {
		if err := configureLocal(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return &Store{DB: db, driver: driver}, nil
}

// OpenAndMigrate opens the store and ensures its schema exists.
func OpenAndMigrate(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	s, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Driver returns the configured store driver.
func (s *Store) Driver() string {
	if s == nil {
		return ""
	}
	return s.driver
}

// CheckHealth pings the database.
func (s *Store) CheckHealth(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errNotInitialized
	}
	return s.DB.PingContext(ctx)
}

func (s *Store) ready(ctx context.Context) (context.Context, error) {
	if s == nil || s.DB == nil {
		return nil, errNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx, nil
}

// configureLocal serializes writers on a local database file. Monitor,
// refresh and serve may all write concurrently.
func configureLocal(ctx context.Context, db *sql.DB) error {
	db.SetMaxOpenConns(1)

	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
		return fmt.Errorf("configure store journal: %w", err)
	}
	var timeout int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&timeout); err != nil {
		return fmt.Errorf("configure store busy timeout: %w", err)
	}
	return nil
}

func isLocalDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "file:")
}

func buildLibsqlDSN(cfg config.StoreConfig) (string, error) {
	if dsn := strings.TrimSpace(cfg.URL); dsn != "" {
		return addAuthToken(dsn, cfg.AuthToken)
	}

	path := strings.TrimSpace(cfg.Path)
	switch {
	case path == "":
		return "", errors.New("store path or url is required")
	case path == ":memory:", strings.HasPrefix(path, "libsql:"):
		return path, nil
	case strings.HasPrefix(path, "file:"):
		localPath, err := extractFilePath(path)
		if err != nil {
			return "", err
		}
		if err := ensureStoreDir(localPath); err != nil {
			return "", err
		}
		return path, nil
	}

	if err := ensureStoreDir(path); err != nil {
		return "", err
	}
	return "file:" + filepath.Clean(path), nil
}

func addAuthToken(dsn string, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return dsn, nil
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store url: %w", err)
	}

	query := parsed.Query()
	if query.Get("authToken") == "" {
		query.Set("authToken", token)
		parsed.RawQuery = query.Encode()
	}

	return parsed.String(), nil
}

func extractFilePath(dsn string) (string, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store path: %w", err)
	}

	if parsed.Path != "" {
		return strings.TrimPrefix(parsed.Path, "//"), nil
	}

	return strings.TrimPrefix(parsed.Opaque, "//"), nil
}

func ensureStoreDir(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}

	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}
