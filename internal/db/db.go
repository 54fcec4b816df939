package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
	_ "modernc.org/sqlite"

	"kbsearch/internal/config"
	"kbsearch/internal/models"
)

type IngestRun struct {
	bun.BaseModel `bun:"table:ingest_runs,alias:r"`
	ID            string    `bun:"id,pk"`
	Trigger       string    `bun:"trigger,notnull"`
	StartedAt     time.Time `bun:"started_at,notnull"`
	FinishedAt    time.Time `bun:"finished_at,notnull"`
	Documents     int       `bun:"documents,notnull"`
	Chunks        int       `bun:"chunks,notnull"`
	EmbeddingTier string    `bun:"embedding_tier,notnull"`
	Status        string    `bun:"status,notnull"`
	Message       string    `bun:"message,notnull"`
}

// History records every ingest pass. Postgres DSNs use pgdriver, anything
// else is treated as a sqlite path.
type History struct {
	db *bun.DB
}

func NewDB(sqldb *sql.DB, dialect string, debug bool) *bun.DB {
	var db *bun.DB
	if dialect == "pg" {
		db = bun.NewDB(sqldb, pgdialect.New())
	} else {
		db = bun.NewDB(sqldb, sqlitedialect.New())
	}
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func ConnectDB(dsn string) (*sql.DB, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn))), "pg", nil
	}

	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, "", fmt.Errorf("failed to create database folder: %w", err)
		}
	}
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, "", err
	}
	// every sqlite connection would otherwise see its own :memory: database
	sqldb.SetMaxOpenConns(1)
	return sqldb, "sqlite", nil
}

// Open connects, creates the schema and returns the history store.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*History, error) {
	sqldb, dialect, err := ConnectDB(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db := NewDB(sqldb, dialect, cfg.Debug)
	if err := InitDB(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return &History{db: db}, nil
}

func InitDB(ctx context.Context, db *bun.DB) error {
	_, err := db.NewCreateTable().Model((*IngestRun)(nil)).IfNotExists().Exec(ctx)
	return err
}

func (h *History) Record(ctx context.Context, run models.IngestRun) error {
	row := &IngestRun{
		ID:            run.ID,
		Trigger:       run.Trigger,
		StartedAt:     run.StartedAt.UTC(),
		FinishedAt:    run.FinishedAt.UTC(),
		Documents:     run.Documents,
		Chunks:        run.Chunks,
		EmbeddingTier: run.EmbeddingTier,
		Status:        run.Status,
		Message:       run.Message,
	}
	_, err := h.db.NewInsert().Model(row).Exec(ctx)
	return err
}

// List returns the most recent runs first.
func (h *History) List(ctx context.Context, limit int) ([]models.IngestRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []IngestRun
	err := h.db.NewSelect().
		Model(&rows).
		OrderExpr("started_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	runs := make([]models.IngestRun, len(rows))
	for i, row := range rows {
		runs[i] = models.IngestRun{
			ID:            row.ID,
			Trigger:       row.Trigger,
			StartedAt:     row.StartedAt,
			FinishedAt:    row.FinishedAt,
			Documents:     row.Documents,
			Chunks:        row.Chunks,
			EmbeddingTier: row.EmbeddingTier,
			Status:        row.Status,
			Message:       row.Message,
		}
	}
	return runs, nil
}

// Latest returns the most recent run, or nil when nothing was recorded yet.
func (h *History) Latest(ctx context.Context) (*models.IngestRun, error) {
	runs, err := h.List(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

func (h *History) Close() error {
	return h.db.Close()
}
