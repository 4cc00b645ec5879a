// Package postgres persists analysis runs as JSONB documents.
package postgres

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect opens and pings a PostgreSQL connection.
func Connect(url string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return db, nil
}

// Schema is the DDL for the run store. Applied by deployment tooling, kept
// here so the adapter and its table never drift apart.
const Schema = `
CREATE TABLE IF NOT EXISTS analysis_runs (
	id            UUID PRIMARY KEY,
	dataset_name  TEXT NOT NULL,
	quality_score DOUBLE PRECISION,
	payload       JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_analysis_runs_dataset ON analysis_runs (dataset_name, created_at DESC);
`
