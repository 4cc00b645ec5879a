package preprocess

import (
	"fmt"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"

	"datapulse/domain/dataset"
	"datapulse/internal/errors"
)

// Quality score weights. Both missing and duplicate terms are monotonic:
// more missing cells or more duplicate rows can only lower the score.
const (
	weightCompleteness = 0.6
	weightUniqueness   = 0.3
	weightSchema       = 0.1
)

// UnknownCategory is the literal filled into missing categorical cells.
const UnknownCategory = "Unknown"

// Config controls type inference and imputation.
type Config struct {
	TypeThreshold    float64 // parse ratio a column must reach to win a type
	HighMissingIssue float64 // missing fraction above which a column is flagged
}

// DefaultConfig returns the standard preprocessing configuration.
func DefaultConfig() Config {
	return Config{
		TypeThreshold:    0.9,
		HighMissingIssue: 0.2,
	}
}

// Preprocessor turns raw string rows into a CanonicalTable plus a
// DataQualityReport.
type Preprocessor struct {
	cfg Config
}

// New creates a preprocessor with the given configuration.
func New(cfg Config) *Preprocessor {
	return &Preprocessor{cfg: cfg}
}

// Run cleans and types the raw rows. The header names the columns; each raw
// row is a slice of cells aligned with the header. Returns DATA_FORMAT when
// fewer than 2 usable rows remain after cleaning or no numeric column exists.
func (p *Preprocessor) Run(header []string, raw [][]string) (*dataset.CanonicalTable, *dataset.DataQualityReport, error) {
	if len(header) == 0 {
		return nil, nil, errors.DataFormat("empty header")
	}

	columns := make([]string, len(header))
	for i, h := range header {
		name := canonicalName(h)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		columns[i] = name
	}

	// Align ragged rows to the header width before anything else.
	aligned := make([][]string, 0, len(raw))
	ragged := 0
	for _, row := range raw {
		if len(row) != len(columns) {
			ragged++
			padded := make([]string, len(columns))
			copy(padded, row)
			row = padded
		}
		aligned = append(aligned, row)
	}

	// Drop exact duplicate rows, preserving first occurrence order.
	deduped, duplicates := dropDuplicates(aligned)

	totalRows := len(deduped)
	if totalRows < 2 {
		return nil, nil, errors.DataFormat(fmt.Sprintf("only %d usable rows after cleaning, need at least 2", totalRows))
	}

	// Per-column type inference over the deduplicated raw cells.
	ratios := make([]typeRatios, len(columns))
	types := make(map[string]dataset.ValueType, len(columns))
	for i, col := range columns {
		cells := make([]string, totalRows)
		for r, row := range deduped {
			cells[r] = row[i]
		}
		ratios[i] = analyzeColumn(cells)
		types[col] = inferType(ratios[i], p.cfg.TypeThreshold)
	}

	// Build typed rows. Cells that fail their column's type are missing.
	rows := make([]dataset.Row, totalRows)
	missing := make(map[string]int, len(columns))
	for r, rawRow := range deduped {
		row := make(dataset.Row, len(columns))
		for i, col := range columns {
			v := typeCell(rawRow[i], types[col])
			if v.IsMissing {
				missing[col]++
			}
			row[col] = v
		}
		rows[r] = row
	}

	// Impute after missingness has been counted: the report keeps the
	// original missing counts even though the table is filled in.
	imputations := p.impute(columns, types, rows, missing)

	table := &dataset.CanonicalTable{Columns: columns, Types: types, Rows: rows}
	if len(table.NumericColumns()) == 0 {
		return nil, nil, errors.DataFormat("no numeric columns found; analysis requires at least one")
	}

	report := p.buildReport(table, ratios, missing, duplicates, ragged, imputations, len(raw))
	return table, report, nil
}

// typeCell converts one raw cell under the column's inferred type.
func typeCell(raw string, t dataset.ValueType) dataset.Value {
	if isMissingToken(raw) {
		return dataset.NewMissingValue()
	}
	switch t {
	case dataset.ValueTypeNumeric:
		if v, ok := tryParseNumeric(raw); ok {
			return dataset.NewNumericValue(v)
		}
		return dataset.NewMissingValue()
	case dataset.ValueTypeDatetime:
		if v, ok := tryParseDatetime(raw); ok {
			return dataset.NewDatetimeValue(v)
		}
		return dataset.NewMissingValue()
	default:
		return dataset.NewCategoricalValue(strings.TrimSpace(raw))
	}
}

// impute fills missing cells in place: numeric columns by column median,
// categorical columns with the literal Unknown category. Datetime columns are
// left missing; inventing timestamps would corrupt time bucketing downstream.
func (p *Preprocessor) impute(columns []string, types map[string]dataset.ValueType, rows []dataset.Row, missing map[string]int) map[string]string {
	imputations := make(map[string]string)
	for _, col := range columns {
		if missing[col] == 0 {
			continue
		}
		switch types[col] {
		case dataset.ValueTypeNumeric:
			present := make([]float64, 0, len(rows))
			for _, row := range rows {
				if v, ok := row[col].Numeric(); ok {
					present = append(present, v)
				}
			}
			if len(present) == 0 {
				continue
			}
			median, err := stats.Median(present)
			if err != nil {
				continue
			}
			for _, row := range rows {
				if row[col].IsMissing {
					row[col] = dataset.NewNumericValue(median).Imputed()
				}
			}
			imputations[col] = fmt.Sprintf("median (%g)", median)
		case dataset.ValueTypeCategorical:
			for _, row := range rows {
				if row[col].IsMissing {
					row[col] = dataset.NewCategoricalValue(UnknownCategory).Imputed()
				}
			}
			imputations[col] = "category " + UnknownCategory
		}
	}
	return imputations
}

// dropDuplicates removes rows identical across all columns.
func dropDuplicates(rows [][]string) ([][]string, int) {
	seen := make(map[string]bool, len(rows))
	out := make([][]string, 0, len(rows))
	dropped := 0
	for _, row := range rows {
		key := strings.Join(row, "\x1f")
		if seen[key] {
			dropped++
			continue
		}
		seen[key] = true
		out = append(out, row)
	}
	return out, dropped
}

func (p *Preprocessor) buildReport(table *dataset.CanonicalTable, ratios []typeRatios, missing map[string]int, duplicates, ragged int, imputations map[string]string, inputRows int) *dataset.DataQualityReport {
	report := &dataset.DataQualityReport{
		TotalRows:     table.RowCount(),
		TotalColumns:  len(table.Columns),
		MissingValues: missing,
		DuplicateRows: duplicates,
		InferredTypes: table.Types,
		Imputations:   imputations,
	}

	for _, col := range table.Columns {
		switch table.Types[col] {
		case dataset.ValueTypeNumeric:
			report.NumericColumns = append(report.NumericColumns, col)
		case dataset.ValueTypeDatetime:
			report.DateColumns = append(report.DateColumns, col)
		default:
			report.CategoricalColumns = append(report.CategoricalColumns, col)
		}
	}

	totalCells := table.RowCount() * len(table.Columns)
	missingCells := 0
	for _, n := range missing {
		missingCells += n
	}
	missingFraction := 0.0
	if totalCells > 0 {
		missingFraction = float64(missingCells) / float64(totalCells)
	}
	dupFraction := 0.0
	if inputRows > 0 {
		dupFraction = float64(duplicates) / float64(inputRows)
	}
	report.QualityScore = weightCompleteness*(1-missingFraction) +
		weightUniqueness*(1-dupFraction) +
		weightSchema*p.schemaConsistency(table, ratios)

	report.Issues = p.collectIssues(table, missing, duplicates, ragged)
	return report
}

// schemaConsistency is the fraction of columns whose values agree with the
// inferred type: the winning parse ratio for numeric/datetime columns, the
// non-parsing remainder for categorical ones.
func (p *Preprocessor) schemaConsistency(table *dataset.CanonicalTable, ratios []typeRatios) float64 {
	if len(table.Columns) == 0 {
		return 0
	}
	sum := 0.0
	for i, col := range table.Columns {
		r := ratios[i]
		switch table.Types[col] {
		case dataset.ValueTypeNumeric:
			sum += r.NumericRatio
		case dataset.ValueTypeDatetime:
			sum += r.DateRatio
		default:
			best := r.NumericRatio
			if r.DateRatio > best {
				best = r.DateRatio
			}
			sum += 1 - best
		}
	}
	return sum / float64(len(table.Columns))
}

func (p *Preprocessor) collectIssues(table *dataset.CanonicalTable, missing map[string]int, duplicates, ragged int) []string {
	var issues []string
	if duplicates > 0 {
		issues = append(issues, fmt.Sprintf("removed %d duplicate rows", duplicates))
	}
	if ragged > 0 {
		issues = append(issues, fmt.Sprintf("%d rows padded to header width", ragged))
	}

	var highMissing []string
	for col, n := range missing {
		if float64(n)/float64(table.RowCount()) > p.cfg.HighMissingIssue {
			highMissing = append(highMissing, col)
		}
	}
	sort.Strings(highMissing)
	if len(highMissing) > 0 {
		issues = append(issues, "high missing values in: "+strings.Join(highMissing, ", "))
	}
	return issues
}
