package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/tableiq/research-cli/internal/db"
	"github.com/tableiq/research-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run": `INSERT INTO runs (id, target, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
	"update_run": `UPDATE runs SET status = $1, record = $2, metadata = $3, updated_at = $4 WHERE id = $5`,
	"get_run":    `SELECT id, target, status, record, metadata, created_at, updated_at FROM runs WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	target     JSONB NOT NULL,
	status     TEXT NOT NULL DEFAULT 'init',
	record     JSONB,
	metadata   JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS restaurants (
	url           TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	record        JSONB NOT NULL,
	quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS menu_items (
	restaurant_url TEXT NOT NULL REFERENCES restaurants(url),
	name           TEXT NOT NULL,
	price          TEXT NOT NULL DEFAULT '',
	description    TEXT NOT NULL DEFAULT '',
	category       TEXT NOT NULL DEFAULT '',
	confidence     DOUBLE PRECISION NOT NULL DEFAULT 0,
	UNIQUE (restaurant_url, name, price, category)
);

CREATE TABLE IF NOT EXISTS screenshots (
	restaurant_url TEXT NOT NULL REFERENCES restaurants(url),
	source_url     TEXT NOT NULL,
	storage_url    TEXT NOT NULL,
	page_type      TEXT NOT NULL,
	quality_score  DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_runs_target_url ON runs((target->>'url'));
CREATE INDEX IF NOT EXISTS idx_restaurants_name ON restaurants(name);
CREATE INDEX IF NOT EXISTS idx_menu_items_restaurant ON menu_items(restaurant_url);
CREATE INDEX IF NOT EXISTS idx_screenshots_restaurant ON screenshots(restaurant_url);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.Run) error {
	targetJSON, err := json.Marshal(run.Target)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal target")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, target, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		run.ID, targetJSON, string(run.Status), run.CreatedAt.UTC(), run.UpdatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert run")
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *model.Run) error {
	var recordJSON, metadataJSON []byte
	var err error
	if run.Record != nil {
		if recordJSON, err = json.Marshal(run.Record); err != nil {
			return eris.Wrap(err, "postgres: marshal record")
		}
	}
	if run.Metadata != nil {
		if metadataJSON, err = json.Marshal(run.Metadata); err != nil {
			return eris.Wrap(err, "postgres: marshal metadata")
		}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, record = $2, metadata = $3, updated_at = $4 WHERE id = $5`,
		string(run.Status), recordJSON, metadataJSON, time.Now().UTC(), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var targetJSON []byte
	var recordJSON, metadataJSON *[]byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, target, status, record, metadata, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &targetJSON, &r.Status, &recordJSON, &metadataJSON, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if err := json.Unmarshal(targetJSON, &r.Target); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal target")
	}
	if recordJSON != nil {
		r.Record = &model.RestaurantRecord{}
		if err := json.Unmarshal(*recordJSON, r.Record); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal record")
		}
	}
	if metadataJSON != nil {
		r.Metadata = &model.ExtractionMetadata{}
		if err := json.Unmarshal(*metadataJSON, r.Metadata); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal metadata")
		}
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, target, status, record, metadata, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.URL != "" {
		query += fmt.Sprintf(` AND target->>'url' = $%d`, argIdx)
		args = append(args, filter.URL)
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.CreatedAfter.UTC())
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var targetJSON []byte
		var recordJSON, metadataJSON *[]byte

		if err := rows.Scan(&r.ID, &targetJSON, &r.Status, &recordJSON, &metadataJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if err := json.Unmarshal(targetJSON, &r.Target); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal target")
		}
		if recordJSON != nil {
			r.Record = &model.RestaurantRecord{}
			if err := json.Unmarshal(*recordJSON, r.Record); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal record")
			}
		}
		if metadataJSON != nil {
			r.Metadata = &model.ExtractionMetadata{}
			if err := json.Unmarshal(*metadataJSON, r.Metadata); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal metadata")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// SaveRecord upserts the restaurant row and bulk-writes its menu items
// and screenshots. Menu items go through a temp-table upsert keyed on
// the dedupe tuple; screenshots are replaced wholesale via COPY.
func (s *PostgresStore) SaveRecord(ctx context.Context, rec *model.RestaurantRecord) error {
	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal record")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO restaurants (url, name, record, quality_score, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (url) DO UPDATE SET name = $2, record = $3, quality_score = $4, updated_at = $5`,
		rec.URL, rec.Name, recordJSON, rec.QualityScore, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "postgres: upsert restaurant")
	}

	if err := s.saveMenuItems(ctx, rec); err != nil {
		return err
	}
	return s.saveScreenshots(ctx, rec)
}

func (s *PostgresStore) saveMenuItems(ctx context.Context, rec *model.RestaurantRecord) error {
	var rows [][]any
	for _, mi := range rec.MenuItems {
		if mi.IsHeader {
			continue
		}
		rows = append(rows, []any{rec.URL, mi.Name, mi.Price, mi.Description, mi.Category, mi.Confidence})
	}
	if len(rows) == 0 {
		return nil
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "menu_items",
		Columns:      []string{"restaurant_url", "name", "price", "description", "category", "confidence"},
		ConflictKeys: []string{"restaurant_url", "name", "price", "category"},
	}, rows)
	return eris.Wrap(err, "postgres: save menu items")
}

func (s *PostgresStore) saveScreenshots(ctx context.Context, rec *model.RestaurantRecord) error {
	if len(rec.Screenshots) == 0 {
		return nil
	}

	if _, err := s.pool.Exec(ctx,
		`DELETE FROM screenshots WHERE restaurant_url = $1`, rec.URL,
	); err != nil {
		return eris.Wrap(err, "postgres: clear screenshots")
	}

	var rows [][]any
	for _, sc := range rec.Screenshots {
		rows = append(rows, []any{rec.URL, sc.SourceURL, sc.StorageURL, sc.PageType, sc.QualityScore})
	}
	_, err := db.CopyFrom(ctx, s.pool, "screenshots",
		[]string{"restaurant_url", "source_url", "storage_url", "page_type", "quality_score"}, rows)
	return eris.Wrap(err, "postgres: save screenshots")
}
