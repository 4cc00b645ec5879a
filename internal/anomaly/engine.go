package anomaly

import (
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"datapulse/domain/analysis"
	"datapulse/domain/core"
	"datapulse/domain/dataset"
	"datapulse/internal/errors"
	"datapulse/internal/isoforest"
)

// EngineName labels failures that abort an anomaly run.
const EngineName = "anomaly"

// minMetricObservations is the per-metric floor for z-scoring.
const minMetricObservations = 3

// Isolation forest parameters. The seed is fixed so the multivariate pass is
// reproducible across runs over the same table.
const (
	forestTrees     = 100
	forestSubsample = 256
	forestSeed      = 1
)

// Config controls detection thresholds. Tiers are inclusive lower bounds on
// |z|; observations below ModerateZ are not reported at all.
type Config struct {
	ModerateZ         float64
	HighZ             float64
	CriticalZ         float64
	Multivariate      bool
	ContaminationRate float64 // expected outlier fraction for the forest cutoff
}

// DefaultConfig returns the standard anomaly configuration.
func DefaultConfig() Config {
	return Config{
		ModerateZ:         2.0,
		HighZ:             2.5,
		CriticalZ:         3.0,
		ContaminationRate: 0.05,
	}
}

func (c Config) validate() error {
	if c.ModerateZ <= 0 || c.HighZ < c.ModerateZ || c.CriticalZ < c.HighZ {
		return errors.ConfigInvalid("anomaly z tiers must be positive and non-decreasing")
	}
	if c.Multivariate && (c.ContaminationRate <= 0 || c.ContaminationRate >= 0.5) {
		return errors.ConfigInvalid("contamination rate must be in (0,0.5)")
	}
	return nil
}

// Engine detects point anomalies per metric by z-score and, optionally,
// multivariate anomalies across all target metrics with an isolation forest.
type Engine struct {
	cfg Config
}

// New creates an anomaly engine.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Analyze scans each target metric for observations far from the metric's
// own distribution. Metrics with too few observations or zero variance yield
// no anomalies rather than aborting the run. region and timeCol may be empty;
// they only enrich the records.
func (e *Engine) Analyze(tbl *dataset.CanonicalTable, targets []string, region, timeCol string) (*analysis.AnomalyOutput, error) {
	if err := e.cfg.validate(); err != nil {
		return nil, errors.WithEngine(EngineName, err)
	}
	if len(targets) == 0 {
		return nil, errors.WithEngine(EngineName, errors.DataFormat("no target metrics to scan"))
	}
	for _, t := range targets {
		if tbl.Types[t] != dataset.ValueTypeNumeric {
			return nil, errors.WithEngine(EngineName, errors.DataFormat(fmt.Sprintf("target column %q is not numeric", t)))
		}
	}

	var anomalies []analysis.Anomaly
	var skipped []string
	for _, metric := range targets {
		found, ok := e.scanMetric(tbl, metric, region, timeCol)
		if !ok {
			skipped = append(skipped, metric)
			continue
		}
		anomalies = append(anomalies, found...)
	}

	if e.cfg.Multivariate {
		anomalies = mergeAnomalies(anomalies, e.multivariate(tbl, targets, region, timeCol))
	}

	linkRelated(anomalies)
	sortAnomalies(anomalies)

	out := &analysis.AnomalyOutput{
		Anomalies:        anomalies,
		CountsByRegion:   make(map[string]int),
		CountsByMetric:   make(map[string]int),
		CountsBySeverity: make(map[string]int),
	}
	for _, a := range anomalies {
		if a.Region != "" {
			out.CountsByRegion[a.Region]++
		}
		out.CountsByMetric[a.Metric]++
		out.CountsBySeverity[string(a.Severity)]++
	}
	out.Summary = e.summarize(out, skipped)
	return out, nil
}

// scanMetric z-scores every observation of one metric against the metric's
// full distribution. Returns ok=false when the metric cannot be scored.
func (e *Engine) scanMetric(tbl *dataset.CanonicalTable, metric, region, timeCol string) ([]analysis.Anomaly, bool) {
	series := tbl.NumericSeries(metric)
	if len(series) < minMetricObservations {
		return nil, false
	}
	mean, _ := stats.Mean(series)
	std, err := stats.StandardDeviationPopulation(series)
	if err != nil || std == 0 {
		return nil, false
	}

	var found []analysis.Anomaly
	for _, row := range tbl.Rows {
		v, ok := row[metric].Numeric()
		if !ok {
			continue
		}
		z := (v - mean) / std
		if math.Abs(z) < e.cfg.ModerateZ {
			continue
		}
		a := analysis.Anomaly{
			ID:       core.AnomalyID(core.ShortID()),
			Metric:   metric,
			Observed: v,
			Expected: mean,
			ZScore:   z,
			Severity: e.classify(z),
			Source:   "zscore",
		}
		if mean != 0 {
			a.DeviationPct = (v - mean) / math.Abs(mean) * 100
			a.PctDefined = true
		}
		if region != "" {
			a.Region, _ = row[region].Categorical()
		}
		if timeCol != "" {
			if t, ok := row[timeCol].Datetime(); ok {
				a.TimePeriod = core.MonthPeriod(t).String()
			}
		}
		found = append(found, a)
	}
	return found, true
}

// multivariate runs the isolation forest over rows complete on every target
// and converts the top-scoring rows into anomalies attributed to the metric
// that deviates most within each row. Severity comes from the isolation
// score, not the attributed z-score: the forest flags joint structure a
// single metric's z may not reflect.
func (e *Engine) multivariate(tbl *dataset.CanonicalTable, targets []string, region, timeCol string) []analysis.Anomaly {
	var points [][]float64
	var rows []dataset.Row
	for _, row := range tbl.Rows {
		point := make([]float64, len(targets))
		complete := true
		for i, t := range targets {
			v, ok := row[t].Numeric()
			if !ok {
				complete = false
				break
			}
			point[i] = v
		}
		if complete {
			points = append(points, point)
			rows = append(rows, row)
		}
	}
	if len(points) < minMetricObservations {
		return nil
	}

	// Per-metric standardization so the forest sees comparable axes.
	means := make([]float64, len(targets))
	stds := make([]float64, len(targets))
	for i := range targets {
		col := make([]float64, len(points))
		for r, p := range points {
			col[r] = p[i]
		}
		means[i], _ = stats.Mean(col)
		stds[i], _ = stats.StandardDeviationPopulation(col)
	}
	scaled := make([][]float64, len(points))
	for r, p := range points {
		s := make([]float64, len(p))
		for i, v := range p {
			if stds[i] > 0 {
				s[i] = (v - means[i]) / stds[i]
			}
		}
		scaled[r] = s
	}

	forest := isoforest.Fit(scaled, forestTrees, forestSubsample, forestSeed)
	scores := forest.Scores(scaled)

	cutoff := scoreCutoff(scores, e.cfg.ContaminationRate)
	var found []analysis.Anomaly
	for r, score := range scores {
		// Strictly above the cutoff: a mass of tied typical scores must not
		// all spill into the anomaly list.
		if score <= cutoff {
			continue
		}
		// Attribute the row to its most deviant metric.
		best := 0
		for i := range targets {
			if math.Abs(scaled[r][i]) > math.Abs(scaled[r][best]) {
				best = i
			}
		}
		a := analysis.Anomaly{
			ID:       core.AnomalyID(core.ShortID()),
			Metric:   targets[best],
			Observed: points[r][best],
			Expected: means[best],
			ZScore:   scaled[r][best],
			Severity: classifyScore(score),
			Source:   "multivariate",
		}
		if means[best] != 0 {
			a.DeviationPct = (points[r][best] - means[best]) / math.Abs(means[best]) * 100
			a.PctDefined = true
		}
		if region != "" {
			a.Region, _ = rows[r][region].Categorical()
		}
		if timeCol != "" {
			if t, ok := rows[r][timeCol].Datetime(); ok {
				a.TimePeriod = core.MonthPeriod(t).String()
			}
		}
		found = append(found, a)
	}
	return found
}

// scoreCutoff returns the score above which the top contamination fraction
// of points falls.
func scoreCutoff(scores []float64, contamination float64) float64 {
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	idx := int(math.Ceil(float64(len(sorted)) * (1 - contamination)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// classify maps |z| onto the severity tiers. Below the moderate tier the
// result is empty; callers must not report such observations.
func (e *Engine) classify(z float64) analysis.Severity {
	abs := math.Abs(z)
	switch {
	case abs >= e.cfg.CriticalZ:
		return analysis.SeverityCritical
	case abs >= e.cfg.HighZ:
		return analysis.SeverityHigh
	case abs >= e.cfg.ModerateZ:
		return analysis.SeverityModerate
	}
	return ""
}

// classifyScore maps an isolation score onto the severity tiers. Scores run
// in (0,1) with anomalous rows toward 1; rows past the contamination cutoff
// are at least moderate.
func classifyScore(score float64) analysis.Severity {
	switch {
	case score > 0.5:
		return analysis.SeverityCritical
	case score > 0.3:
		return analysis.SeverityHigh
	}
	return analysis.SeverityModerate
}

// mergeAnomalies combines the z-score and multivariate findings, deduplicating
// on (metric, region, time period) and keeping the higher severity.
func mergeAnomalies(base, extra []analysis.Anomaly) []analysis.Anomaly {
	type key struct{ metric, region, period string }
	index := make(map[key]int, len(base))
	for i, a := range base {
		index[key{a.Metric, a.Region, a.TimePeriod}] = i
	}
	for _, a := range extra {
		k := key{a.Metric, a.Region, a.TimePeriod}
		if i, ok := index[k]; ok {
			if a.Severity.Rank() > base[i].Severity.Rank() {
				base[i] = a
			}
			continue
		}
		index[k] = len(base)
		base = append(base, a)
	}
	return base
}

// linkRelated cross-references anomalies that landed in the same region and
// time period across different metrics.
func linkRelated(anomalies []analysis.Anomaly) {
	type key struct{ region, period string }
	groups := make(map[key][]int)
	for i, a := range anomalies {
		if a.Region == "" && a.TimePeriod == "" {
			continue
		}
		k := key{a.Region, a.TimePeriod}
		groups[k] = append(groups[k], i)
	}
	for _, idxs := range groups {
		if len(idxs) < 2 {
			continue
		}
		for _, i := range idxs {
			for _, j := range idxs {
				if i != j {
					anomalies[i].RelatedIDs = append(anomalies[i].RelatedIDs, anomalies[j].ID)
				}
			}
		}
	}
}

// sortAnomalies orders worst-first with deterministic tiebreaks.
func sortAnomalies(anomalies []analysis.Anomaly) {
	sort.SliceStable(anomalies, func(i, j int) bool {
		a, b := anomalies[i], anomalies[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if math.Abs(a.ZScore) != math.Abs(b.ZScore) {
			return math.Abs(a.ZScore) > math.Abs(b.ZScore)
		}
		if a.Metric != b.Metric {
			return a.Metric < b.Metric
		}
		return a.Region < b.Region
	})
}

func (e *Engine) summarize(out *analysis.AnomalyOutput, skipped []string) string {
	s := fmt.Sprintf("Detected %d anomalies (%d critical, %d high, %d moderate).",
		len(out.Anomalies),
		out.CountsBySeverity[string(analysis.SeverityCritical)],
		out.CountsBySeverity[string(analysis.SeverityHigh)],
		out.CountsBySeverity[string(analysis.SeverityModerate)])
	if len(skipped) > 0 {
		sort.Strings(skipped)
		s += fmt.Sprintf(" Skipped metrics lacking usable distributions: %v.", skipped)
	}
	return s
}
