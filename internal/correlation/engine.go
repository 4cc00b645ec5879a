package correlation

import (
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"

	"datapulse/domain/analysis"
	"datapulse/domain/dataset"
	"datapulse/internal/errors"
)

// EngineName labels failures that abort a correlation run.
const EngineName = "correlation"

// minPairObservations is the pairwise-complete floor below which r is
// reported as undefined rather than computed.
const minPairObservations = 3

// Config carries the per-invocation knobs. Thresholds arrive explicitly so
// concurrent runs with different settings never interfere.
type Config struct {
	Alpha           float64 // significance level for the two-tailed t-test
	StrongThreshold float64 // |r| floor for the highlighted list
}

// DefaultConfig returns the standard correlation configuration.
func DefaultConfig() Config {
	return Config{Alpha: 0.05, StrongThreshold: 0.7}
}

func (c Config) validate() error {
	if c.Alpha <= 0 || c.Alpha >= 1 {
		return errors.ConfigInvalid(fmt.Sprintf("alpha %g must be in (0,1)", c.Alpha))
	}
	if c.StrongThreshold < 0 || c.StrongThreshold > 1 {
		return errors.ConfigInvalid(fmt.Sprintf("strong threshold %g must be in [0,1]", c.StrongThreshold))
	}
	return nil
}

// Engine computes pairwise Pearson correlations with significance testing
// and derives the driver-variable ranking.
type Engine struct {
	cfg Config
}

// New creates a correlation engine.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Analyze runs the full pairwise analysis over the named numeric columns.
// Pass nil to analyze every numeric column of the table. Per-pair failures
// (too few pairwise-complete rows, zero variance) become flagged entries;
// only unusable input aborts the run.
func (e *Engine) Analyze(tbl *dataset.CanonicalTable, numericCols []string) (*analysis.CorrelationOutput, error) {
	if err := e.cfg.validate(); err != nil {
		return nil, errors.WithEngine(EngineName, err)
	}
	if numericCols == nil {
		numericCols = tbl.NumericColumns()
	}
	for _, col := range numericCols {
		if tbl.Types[col] != dataset.ValueTypeNumeric {
			return nil, errors.WithEngine(EngineName, errors.InvalidInput(fmt.Sprintf("column %q is not numeric", col)))
		}
	}
	if len(numericCols) < 2 {
		return nil, errors.WithEngine(EngineName, errors.DataFormat(fmt.Sprintf("need at least 2 numeric columns, have %d", len(numericCols))))
	}

	cols := append([]string(nil), numericCols...)
	sort.Strings(cols)

	matrix := make(analysis.CorrelationMatrix, len(cols))
	for _, c := range cols {
		matrix[c] = make(map[string]analysis.MatrixCell, len(cols))
		matrix[c][c] = analysis.MatrixCell{R: 1, Defined: true}
	}

	var pairs []analysis.CorrelationResult
	for i := 0; i < len(cols); i++ {
		for j := i + 1; j < len(cols); j++ {
			pair := e.analyzePair(tbl, cols[i], cols[j])
			pairs = append(pairs, pair)

			cell := analysis.MatrixCell{R: pair.Coefficient, Defined: pair.Status == analysis.StatusOK}
			matrix[cols[i]][cols[j]] = cell
			matrix[cols[j]][cols[i]] = cell
		}
	}

	strong := strongCorrelations(pairs, e.cfg.StrongThreshold)
	drivers := driverVariables(cols, pairs)

	return &analysis.CorrelationOutput{
		Matrix:             matrix,
		Pairs:              pairs,
		StrongCorrelations: strong,
		DriverVariables:    drivers,
		Summary:            summarize(pairs, strong, drivers, e.cfg.StrongThreshold),
	}, nil
}

// analyzePair computes r and its p-value for one unordered column pair over
// the pairwise-complete rows.
func (e *Engine) analyzePair(tbl *dataset.CanonicalTable, a, b string) analysis.CorrelationResult {
	x, y := tbl.PairwiseComplete(a, b)
	result := analysis.CorrelationResult{
		Variable1:  a,
		Variable2:  b,
		SampleSize: len(x),
		PValue:     1,
	}

	if len(x) < minPairObservations {
		result.Status = analysis.StatusInsufficientData
		result.RelationshipType = analysis.RelationshipWeak
		return result
	}

	varX, errX := stats.SampleVariance(x)
	varY, errY := stats.SampleVariance(y)
	if errX != nil || errY != nil || varX == 0 || varY == 0 {
		// Zero variance makes r a division by zero; report, don't compute.
		result.Status = analysis.StatusUndefined
		result.RelationshipType = analysis.RelationshipWeak
		return result
	}

	r, err := stats.Pearson(x, y)
	if err != nil || math.IsNaN(r) || math.IsInf(r, 0) {
		result.Status = analysis.StatusUndefined
		result.RelationshipType = analysis.RelationshipWeak
		return result
	}
	r = clamp(r, -1, 1)

	result.Status = analysis.StatusOK
	result.Coefficient = r
	result.PValue = pairPValue(r, len(x))
	result.IsSignificant = result.PValue < e.cfg.Alpha
	result.RelationshipType = classify(r)
	return result
}

// pairPValue is the two-tailed p-value for H0: r=0 under the Student's t
// approximation with n-2 degrees of freedom.
func pairPValue(r float64, n int) float64 {
	df := float64(n - 2)
	denom := 1 - r*r
	if denom <= 0 {
		// |r| == 1: the t statistic diverges and the p-value underflows.
		return 0
	}
	t := r * math.Sqrt(df/denom)
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p := 2 * (1 - dist.CDF(math.Abs(t)))
	return clamp(p, 0, 1)
}

// classify maps |r| and sign onto the relationship tiers.
func classify(r float64) analysis.RelationshipType {
	abs := math.Abs(r)
	switch {
	case abs >= 0.7 && r > 0:
		return analysis.RelationshipStrongPositive
	case abs >= 0.7:
		return analysis.RelationshipStrongNegative
	case abs >= 0.4:
		return analysis.RelationshipModerate
	default:
		return analysis.RelationshipWeak
	}
}

// strongCorrelations filters the highlighted list: defined pairs at or above
// the threshold, strongest first, name order breaking ties.
func strongCorrelations(pairs []analysis.CorrelationResult, threshold float64) []analysis.CorrelationResult {
	var strong []analysis.CorrelationResult
	for _, p := range pairs {
		if p.Status == analysis.StatusOK && math.Abs(p.Coefficient) >= threshold {
			strong = append(strong, p)
		}
	}
	sort.SliceStable(strong, func(i, j int) bool {
		ai, aj := math.Abs(strong[i].Coefficient), math.Abs(strong[j].Coefficient)
		if ai != aj {
			return ai > aj
		}
		if strong[i].Variable1 != strong[j].Variable1 {
			return strong[i].Variable1 < strong[j].Variable1
		}
		return strong[i].Variable2 < strong[j].Variable2
	})
	return strong
}

// driverVariables scores each column by the mean |r| over its defined
// pairings. Undefined pairs are excluded from the mean; a column with no
// defined pairing scores zero.
func driverVariables(cols []string, pairs []analysis.CorrelationResult) []analysis.DriverVariable {
	sums := make(map[string]float64, len(cols))
	counts := make(map[string]int, len(cols))
	for _, p := range pairs {
		if p.Status != analysis.StatusOK {
			continue
		}
		abs := math.Abs(p.Coefficient)
		sums[p.Variable1] += abs
		counts[p.Variable1]++
		sums[p.Variable2] += abs
		counts[p.Variable2]++
	}

	drivers := make([]analysis.DriverVariable, 0, len(cols))
	for _, col := range cols {
		d := analysis.DriverVariable{Variable: col, PairCount: counts[col]}
		if counts[col] > 0 {
			d.DriverScore = sums[col] / float64(counts[col])
		}
		drivers = append(drivers, d)
	}
	sort.SliceStable(drivers, func(i, j int) bool {
		if drivers[i].DriverScore != drivers[j].DriverScore {
			return drivers[i].DriverScore > drivers[j].DriverScore
		}
		return drivers[i].Variable < drivers[j].Variable
	})
	return drivers
}

func summarize(pairs, strong []analysis.CorrelationResult, drivers []analysis.DriverVariable, threshold float64) string {
	if len(strong) == 0 {
		return fmt.Sprintf("Analyzed %d variable pairs; no correlations at |r| >= %g.", len(pairs), threshold)
	}
	top := strong[0]
	s := fmt.Sprintf("Analyzed %d variable pairs; %d at |r| >= %g. Strongest: %s and %s (r=%.3f, p=%.4f).",
		len(pairs), len(strong), threshold, top.Variable1, top.Variable2, top.Coefficient, top.PValue)
	if len(drivers) > 0 && drivers[0].DriverScore > 0 {
		s += fmt.Sprintf(" Top driver variable: %s (score %.3f).", drivers[0].Variable, drivers[0].DriverScore)
	}
	return s
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
