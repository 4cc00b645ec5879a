// Package ports defines the boundary interfaces between the analysis core
// and its adapters. The core depends only on these; concrete implementations
// live under adapters/.
package ports

import (
	"context"

	"datapulse/domain/analysis"
	"datapulse/domain/core"
)

// TableReader loads a raw tabular file into a header and string rows.
// Typing and cleaning happen downstream in the preprocessor.
type TableReader interface {
	Read(path string) (header []string, rows [][]string, err error)
}

// AnalysisRepository persists completed analysis runs.
type AnalysisRepository interface {
	Create(ctx context.Context, run *analysis.AnalysisRun) error
	GetByID(ctx context.Context, id core.RunID) (*analysis.AnalysisRun, error)
	List(ctx context.Context, limit int) ([]*analysis.AnalysisRun, error)
}
