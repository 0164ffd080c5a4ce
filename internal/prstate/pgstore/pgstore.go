// Package pgstore implements prstate.Store with PostgreSQL.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/simplesurance/gatekeeper/internal/goorderr"
	"github.com/simplesurance/gatekeeper/internal/logfields"
	"github.com/simplesurance/gatekeeper/internal/prstate"
)

const loggerName = "pg_store"

const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultMigrateTimeout = 5 * time.Minute
)

//go:embed migrations/*.sql
var migrations embed.FS

type Config struct {
	DSN            string
	MaxConns       int32
	ConnectTimeout time.Duration
	MigrateTimeout time.Duration
	// Migrate enables applying the database migrations on Open.
	Migrate bool
}

// Store is a prstate.Store persisting snapshots in PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Open connects to the database and applies the migrations if enabled.
func Open(ctx context.Context, cfg *Config) (*Store, error) {
	logger := zap.L().Named(loggerName)

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing dsn failed: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool failed: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database failed: %w", err)
	}

	if cfg.Migrate {
		migrateTimeout := cfg.MigrateTimeout
		if migrateTimeout <= 0 {
			migrateTimeout = DefaultMigrateTimeout
		}

		migrateCtx, cancel := context.WithTimeout(ctx, migrateTimeout)
		defer cancel()

		if err := Migrate(migrateCtx, cfg.DSN, logger); err != nil {
			pool.Close()
			return nil, err
		}
	}

	logger.Info(
		"connected to database",
		logfields.Event("database_connected"),
		zap.String("database", poolCfg.ConnConfig.Database),
		zap.String("database_host", poolCfg.ConnConfig.Host),
	)

	return &Store{pool: pool, logger: logger}, nil
}

// Migrate applies all pending migrations.
func Migrate(ctx context.Context, dsn string, logger *zap.Logger) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("opening database failed: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations)
	goose.SetLogger(&gooseLogger{logger: logger.Named("migrations").Sugar()})

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("applying migrations failed: %w", err)
	}

	return nil
}

type gooseLogger struct {
	logger *zap.SugaredLogger
}

func (l *gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Fatalf(format, v...)
}

func (l *gooseLogger) Printf(format string, v ...any) {
	l.logger.Infof(format, v...)
}

func (s *Store) Close() {
	s.pool.Close()
}

const snapshotColumns = `repository_id, number, repository_owner, repository_name,
	id, head_sha, base_ref, mergeable, labels,
	pending_review_count, synchronized_at, conflict_comment_at, state, updated_at`

const getQuery = `SELECT ` + snapshotColumns + `
	FROM pull_request_snapshots
	WHERE repository_id = $1 AND number = $2`

const listOpenByBaseQuery = `SELECT ` + snapshotColumns + `
	FROM pull_request_snapshots
	WHERE repository_id = $1 AND base_ref = $2 AND state = 'open'
	ORDER BY number`

const findOpenByHeadQuery = `SELECT ` + snapshotColumns + `
	FROM pull_request_snapshots
	WHERE repository_id = $1 AND head_sha = $2 AND state = 'open'
	ORDER BY number`

// upsertQuery implements prstate.Merge in SQL, NULL parameters keep the
// stored value.
const upsertQuery = `INSERT INTO pull_request_snapshots AS s (` + snapshotColumns + `)
	VALUES (
		$1, $2, $3, $4,
		COALESCE($5::bigint, 0),
		COALESCE($6::text, ''),
		COALESCE($7::text, ''),
		COALESCE($8::text, 'unknown'),
		COALESCE($9::text[], '{}'),
		$10::integer,
		$11::timestamptz,
		$12::timestamptz,
		COALESCE($13::text, 'open'),
		$14::timestamptz
	)
	ON CONFLICT (repository_id, number) DO UPDATE SET
		repository_owner = EXCLUDED.repository_owner,
		repository_name = EXCLUDED.repository_name,
		id = CASE WHEN s.id = 0 THEN EXCLUDED.id ELSE s.id END,
		head_sha = COALESCE($6::text, s.head_sha),
		base_ref = COALESCE($7::text, s.base_ref),
		mergeable = COALESCE($8::text, s.mergeable),
		labels = COALESCE($9::text[], s.labels),
		pending_review_count = COALESCE($10::integer, s.pending_review_count),
		synchronized_at = COALESCE($11::timestamptz, s.synchronized_at),
		conflict_comment_at = COALESCE($12::timestamptz, s.conflict_comment_at),
		state = COALESCE($13::text, s.state),
		updated_at = COALESCE($14::timestamptz, s.updated_at)
	RETURNING ` + snapshotColumns

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (*prstate.Snapshot, error) {
	var s prstate.Snapshot
	var mergeable, state string
	var updatedAt *time.Time

	err := row.Scan(
		&s.Repository.ID,
		&s.Number,
		&s.Repository.Owner,
		&s.Repository.Name,
		&s.ID,
		&s.HeadSHA,
		&s.BaseRef,
		&mergeable,
		&s.Labels,
		&s.PendingReviewCount,
		&s.SynchronizedAt,
		&s.ConflictCommentAt,
		&state,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Mergeable = prstate.Mergeable(mergeable)
	s.State = prstate.State(state)
	if updatedAt != nil {
		s.UpdatedAt = *updatedAt
	}

	if s.Labels == nil {
		s.Labels = []string{}
	}

	return &s, nil
}

func collectSnapshots(rows pgx.Rows) ([]*prstate.Snapshot, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*prstate.Snapshot, error) {
		return scanSnapshot(row)
	})
}

func (s *Store) Get(ctx context.Context, key prstate.Key) (*prstate.Snapshot, error) {
	snap, err := scanSnapshot(s.pool.QueryRow(ctx, getQuery, key.RepositoryID, key.Number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("pull request %s: %w", key, goorderr.ErrNotFound)
		}

		return nil, fmt.Errorf("querying pull request %s failed: %w", key, err)
	}

	return snap, nil
}

func stringPtr[T ~string](v *T) *string {
	if v == nil {
		return nil
	}

	s := string(*v)
	return &s
}

func (s *Store) Upsert(ctx context.Context, repo prstate.Repository, number int, u *prstate.Update) (*prstate.Snapshot, error) {
	if u == nil {
		u = &prstate.Update{}
	}

	var labels []string
	if u.Labels != nil {
		labels = prstate.NormalizeLabels(u.Labels)
	}

	snap, err := scanSnapshot(s.pool.QueryRow(
		ctx,
		upsertQuery,
		repo.ID,
		number,
		repo.Owner,
		repo.Name,
		u.ID,
		u.HeadSHA,
		u.BaseRef,
		stringPtr(u.Mergeable),
		labels,
		u.PendingReviewCount,
		u.SynchronizedAt,
		u.ConflictCommentAt,
		stringPtr(u.State),
		u.UpdatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("upserting pull request %s#%d failed: %w", repo, number, err)
	}

	return snap, nil
}

func (s *Store) ListOpenByBase(ctx context.Context, repositoryID int64, baseRef string) ([]*prstate.Snapshot, error) {
	rows, err := s.pool.Query(ctx, listOpenByBaseQuery, repositoryID, baseRef)
	if err != nil {
		return nil, fmt.Errorf("querying pull requests failed: %w", err)
	}

	return collectSnapshots(rows)
}

func (s *Store) FindOpenByHeadSHA(ctx context.Context, repositoryID int64, sha string) ([]*prstate.Snapshot, error) {
	rows, err := s.pool.Query(ctx, findOpenByHeadQuery, repositoryID, sha)
	if err != nil {
		return nil, fmt.Errorf("querying pull requests failed: %w", err)
	}

	return collectSnapshots(rows)
}
