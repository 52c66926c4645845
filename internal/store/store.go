package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store persists finished runs and their decision logs in PostgreSQL.
type Store struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// New opens a pool on dsn and fails unless the server answers a ping.
func New(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("reach run store: %w", err)
	}
	logger.Info("run store ready", zap.String("database", pool.Config().ConnConfig.Database))
	return &Store{db: pool, logger: logger}, nil
}

// Migrate brings the schema up to date. Every *.up.sql file in dir runs in
// file-name order inside one transaction, so a failing file leaves the
// schema untouched. Files must be idempotent.
func (s *Store) Migrate(ctx context.Context, dir string) error {
	files, err := migrationFiles(dir)
	if err != nil {
		return err
	}
	err = pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		for _, path := range files {
			sql, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read migration: %w", err)
			}
			if _, err := tx.Exec(ctx, string(sql)); err != nil {
				return fmt.Errorf("apply %s: %w", filepath.Base(path), err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("migrate run store: %w", err)
	}
	s.logger.Info("run store schema current", zap.Int("migrations", len(files)))
	return nil
}

// migrationFiles lists the *.up.sql files in dir, sorted by name. A
// missing or empty directory is an error.
func migrationFiles(dir string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("migrations dir: %w", err)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		return nil, fmt.Errorf("migrations dir: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("migrations dir %s has no *.up.sql files", dir)
	}
	slices.Sort(files)
	return files, nil
}

func (s *Store) Close() { s.db.Close() }
