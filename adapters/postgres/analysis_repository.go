package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"datapulse/domain/analysis"
	"datapulse/domain/core"
	"datapulse/internal/errors"
	"datapulse/ports"
)

// analysisRepository implements the AnalysisRepository interface
type analysisRepository struct {
	db *sqlx.DB
}

// NewAnalysisRepository creates a new analysis run repository
func NewAnalysisRepository(db *sqlx.DB) ports.AnalysisRepository {
	return &analysisRepository{db: db}
}

// Create inserts a completed run. The full run document is stored as JSONB;
// dataset name and quality score are lifted into columns for listing.
func (r *analysisRepository) Create(ctx context.Context, run *analysis.AnalysisRun) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return errors.Wrap(err, "marshal analysis run")
	}

	var quality sql.NullFloat64
	if run.Quality != nil {
		quality = sql.NullFloat64{Float64: run.Quality.QualityScore, Valid: true}
	}

	query := `INSERT INTO analysis_runs (id, dataset_name, quality_score, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.db.ExecContext(ctx, query, run.ID.String(), run.DatasetName, quality, payload, run.CompletedAt.Time()); err != nil {
		return errors.Wrap(errors.DatabaseError(err.Error()), "create analysis run")
	}
	return nil
}

// GetByID retrieves one run by its identifier.
func (r *analysisRepository) GetByID(ctx context.Context, id core.RunID) (*analysis.AnalysisRun, error) {
	var payload []byte
	query := `SELECT payload FROM analysis_runs WHERE id = $1`
	if err := r.db.QueryRowContext(ctx, query, id.String()).Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			appErr := errors.NotFound("analysis run " + id.String())
			appErr.Cause = core.ErrRunNotFound
			return nil, appErr
		}
		return nil, errors.Wrap(errors.DatabaseError(err.Error()), "get analysis run")
	}

	var run analysis.AnalysisRun
	if err := json.Unmarshal(payload, &run); err != nil {
		return nil, errors.Wrap(err, "unmarshal analysis run")
	}
	return &run, nil
}

// List returns the most recent runs, newest first.
func (r *analysisRepository) List(ctx context.Context, limit int) ([]*analysis.AnalysisRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT payload FROM analysis_runs ORDER BY created_at DESC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(errors.DatabaseError(err.Error()), "list analysis runs")
	}
	defer rows.Close()

	var runs []*analysis.AnalysisRun
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrap(errors.DatabaseError(err.Error()), "scan analysis run")
		}
		var run analysis.AnalysisRun
		if err := json.Unmarshal(payload, &run); err != nil {
			return nil, errors.Wrap(err, "unmarshal analysis run")
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}
