package dimensional

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"

	"datapulse/domain/analysis"
	"datapulse/domain/core"
	"datapulse/domain/dataset"
	"datapulse/internal/errors"
)

// EngineName labels failures that abort a dimensional run.
const EngineName = "dimensional"

// minSlicePopulation is the slice count a dimension combination must produce
// before z-scores are meaningful. Smaller populations are flagged whole.
const minSlicePopulation = 5

// Config controls outlier detection over dimensional slices.
type Config struct {
	ZThreshold float64 // |z| above which a slice is an outlier
}

// DefaultConfig returns the standard dimensional configuration.
func DefaultConfig() Config {
	return Config{ZThreshold: 2.0}
}

func (c Config) validate() error {
	if c.ZThreshold <= 0 {
		return errors.ConfigInvalid("slice z threshold must be positive")
	}
	return nil
}

// Engine aggregates a target metric across dimension-value combinations and
// surfaces slices that sit far from their combination's population.
type Engine struct {
	cfg Config
}

// New creates a dimensional slicing engine.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Analyze slices the target by each dimension combination. Each slice's
// z-score is computed against the other slices of the same combination only;
// slices from different combinations are never mixed into one population.
// Combinations yielding fewer than 5 slices are flagged, not scored.
func (e *Engine) Analyze(tbl *dataset.CanonicalTable, target string, combos [][]string) (*analysis.DimensionalOutput, error) {
	if err := e.cfg.validate(); err != nil {
		return nil, errors.WithEngine(EngineName, err)
	}
	if tbl.Types[target] != dataset.ValueTypeNumeric {
		return nil, errors.WithEngine(EngineName, errors.DataFormat(fmt.Sprintf("target column %q is not numeric", target)))
	}
	if len(combos) == 0 {
		return nil, errors.WithEngine(EngineName, errors.DataFormat("no dimension combinations to slice by"))
	}
	for _, combo := range combos {
		for _, dim := range combo {
			if !tbl.HasColumn(dim) {
				return nil, errors.WithEngine(EngineName, errors.DataFormat(fmt.Sprintf("dimension column %q not in table", dim)))
			}
			if tbl.Types[dim] == dataset.ValueTypeNumeric {
				return nil, errors.WithEngine(EngineName, errors.DataFormat(fmt.Sprintf("dimension column %q is numeric; slicing needs categorical or datetime columns", dim)))
			}
		}
	}

	out := &analysis.DimensionalOutput{}
	for _, combo := range combos {
		out.Slices = append(out.Slices, e.sliceCombo(tbl, target, combo)...)
	}

	out.OutlierClusters = clusterOutliers(out.Slices)
	out.DimensionImportance = dimensionImportance(tbl, target, combos)
	out.Summary = e.summarize(out)
	return out, nil
}

// sliceCombo aggregates the target over one dimension combination and scores
// each resulting slice against its siblings.
func (e *Engine) sliceCombo(tbl *dataset.CanonicalTable, target string, combo []string) []analysis.DimensionalSlice {
	type agg struct {
		dims  map[string]string
		sum   float64
		count int
	}
	groups := make(map[string]*agg)
	for _, row := range tbl.Rows {
		v, ok := row[target].Numeric()
		if !ok {
			continue
		}
		dims := make(map[string]string, len(combo))
		complete := true
		for _, dim := range combo {
			label, ok := dimensionLabel(row[dim])
			if !ok {
				complete = false
				break
			}
			dims[dim] = label
		}
		if !complete {
			continue
		}
		key := comboKey(combo, dims)
		g := groups[key]
		if g == nil {
			g = &agg{dims: dims}
			groups[key] = g
		}
		g.sum += v
		g.count++
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	slices := make([]analysis.DimensionalSlice, 0, len(keys))
	values := make([]float64, 0, len(keys))
	for _, k := range keys {
		g := groups[k]
		slices = append(slices, analysis.DimensionalSlice{
			Dimensions: g.dims,
			Metric:     target,
			Value:      g.sum / float64(g.count),
			SampleSize: g.count,
		})
		values = append(values, g.sum/float64(g.count))
	}

	if len(slices) < minSlicePopulation {
		for i := range slices {
			slices[i].Status = analysis.StatusInsufficientPopulation
		}
		return slices
	}

	mean, _ := stats.Mean(values)
	std, err := stats.StandardDeviationPopulation(values)
	if err != nil || std == 0 {
		// Identical slice values carry no outlier signal.
		for i := range slices {
			slices[i].Status = analysis.StatusOK
			slices[i].ExpectedLow = mean
			slices[i].ExpectedHigh = mean
		}
		return slices
	}

	for i := range slices {
		slices[i].Status = analysis.StatusOK
		slices[i].ZScore = (slices[i].Value - mean) / std
		slices[i].ExpectedLow = mean - 2*std
		slices[i].ExpectedHigh = mean + 2*std
		slices[i].IsOutlier = math.Abs(slices[i].ZScore) > e.cfg.ZThreshold
	}
	return slices
}

// dimensionLabel renders a dimension cell as a slicing key. Datetime cells
// bucket to calendar month so time slices stay coarse enough to populate.
func dimensionLabel(v dataset.Value) (string, bool) {
	if s, ok := v.Categorical(); ok {
		return s, true
	}
	if t, ok := v.Datetime(); ok {
		return core.MonthPeriod(t).String(), true
	}
	return "", false
}

func comboKey(combo []string, dims map[string]string) string {
	parts := make([]string, len(combo))
	for i, dim := range combo {
		parts[i] = dim + "=" + dims[dim]
	}
	return strings.Join(parts, "\x1f")
}

// clusterOutliers groups outlier slices that share at least one dimension
// value. Grouping is by each (dimension, value) pair an outlier carries; a
// pair shared by two or more outliers becomes a cluster.
func clusterOutliers(slices []analysis.DimensionalSlice) []analysis.OutlierCluster {
	byPair := make(map[string][]analysis.DimensionalSlice)
	for _, s := range slices {
		if !s.IsOutlier {
			continue
		}
		for dim, val := range s.Dimensions {
			key := dim + "=" + val
			byPair[key] = append(byPair[key], s)
		}
	}

	keys := make([]string, 0, len(byPair))
	for k := range byPair {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var clusters []analysis.OutlierCluster
	for _, key := range keys {
		members := byPair[key]
		if len(members) < 2 {
			continue
		}
		sep := strings.Index(key, "=")
		cluster := analysis.OutlierCluster{
			SharedValues: map[string]string{key[:sep]: key[sep+1:]},
			Slices:       members,
		}
		var sumZ float64
		for _, m := range members {
			sumZ += math.Abs(m.ZScore)
		}
		cluster.SeverityScore = math.Min(1, sumZ/float64(len(members))/4)
		clusters = append(clusters, cluster)
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		if clusters[i].SeverityScore != clusters[j].SeverityScore {
			return clusters[i].SeverityScore > clusters[j].SeverityScore
		}
		return fmt.Sprint(clusters[i].SharedValues) < fmt.Sprint(clusters[j].SharedValues)
	})
	return clusters
}

// dimensionImportance scores each single dimension by the fraction of target
// variance its group means explain.
func dimensionImportance(tbl *dataset.CanonicalTable, target string, combos [][]string) map[string]float64 {
	dims := make(map[string]bool)
	for _, combo := range combos {
		for _, dim := range combo {
			dims[dim] = true
		}
	}

	importance := make(map[string]float64, len(dims))
	for dim := range dims {
		importance[dim] = varianceExplained(tbl, target, dim)
	}
	return importance
}

func varianceExplained(tbl *dataset.CanonicalTable, target, dim string) float64 {
	type agg struct {
		sum   float64
		count int
	}
	groups := make(map[string]*agg)
	var all []float64
	for _, row := range tbl.Rows {
		v, ok := row[target].Numeric()
		if !ok {
			continue
		}
		label, ok := dimensionLabel(row[dim])
		if !ok {
			continue
		}
		g := groups[label]
		if g == nil {
			g = &agg{}
			groups[label] = g
		}
		g.sum += v
		g.count++
		all = append(all, v)
	}
	if len(all) == 0 || len(groups) < 2 {
		return 0
	}
	grand, _ := stats.Mean(all)
	totalVar, _ := stats.PopulationVariance(all)
	if totalVar == 0 {
		return 0
	}
	var between float64
	for _, g := range groups {
		mean := g.sum / float64(g.count)
		between += float64(g.count) * (mean - grand) * (mean - grand)
	}
	ratio := between / float64(len(all)) / totalVar
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}

func (e *Engine) summarize(out *analysis.DimensionalOutput) string {
	outliers := 0
	flagged := 0
	for _, s := range out.Slices {
		if s.IsOutlier {
			outliers++
		}
		if s.Status == analysis.StatusInsufficientPopulation {
			flagged++
		}
	}
	s := fmt.Sprintf("Examined %d dimensional slices; %d outliers in %d clusters.",
		len(out.Slices), outliers, len(out.OutlierClusters))
	if flagged > 0 {
		s += fmt.Sprintf(" %d slices flagged for insufficient population.", flagged)
	}
	return s
}
