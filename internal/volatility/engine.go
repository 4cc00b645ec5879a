package volatility

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"

	"datapulse/domain/analysis"
	"datapulse/domain/dataset"
	"datapulse/internal/errors"
)

// EngineName labels failures that abort a volatility run.
const EngineName = "volatility"

// minRegionObservations is the per-region floor below which the region is
// flagged instead of scored.
const minRegionObservations = 3

// trendAlpha is the significance level for the trend slope test.
const trendAlpha = 0.05

// seasonalStrengthFloor is the normalized between-month variance a series
// must reach before it is called seasonal.
const seasonalStrengthFloor = 0.3

// Config carries the CV tier cutoffs. Tiers are inclusive lower bounds:
// a CV equal to a cutoff lands in that tier.
type Config struct {
	CVLow      float64
	CVModerate float64
	CVHigh     float64
	CVCritical float64
}

// DefaultConfig returns the standard volatility configuration.
func DefaultConfig() Config {
	return Config{CVLow: 0.1, CVModerate: 0.2, CVHigh: 0.3, CVCritical: 0.5}
}

func (c Config) validate() error {
	if !(c.CVLow <= c.CVModerate && c.CVModerate <= c.CVHigh && c.CVHigh <= c.CVCritical) {
		return errors.ConfigInvalid("volatility CV tiers must be non-decreasing")
	}
	if c.CVLow < 0 {
		return errors.ConfigInvalid("volatility CV tiers must be non-negative")
	}
	return nil
}

// Engine scores per-region dispersion of a target metric and, when a time
// column is available, attaches trend direction and a seasonal decomposition.
type Engine struct {
	cfg Config
}

// New creates a volatility engine.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Analyze groups the target column by region and scores each group's
// coefficient of variation. Regions with too few observations or a zero mean
// are flagged, never dropped. timeCol may be empty; trend and seasonality are
// then skipped.
func (e *Engine) Analyze(tbl *dataset.CanonicalTable, target, region, timeCol string) (*analysis.VolatilityOutput, error) {
	if err := e.cfg.validate(); err != nil {
		return nil, errors.WithEngine(EngineName, err)
	}
	if tbl.Types[target] != dataset.ValueTypeNumeric {
		return nil, errors.WithEngine(EngineName, errors.DataFormat(fmt.Sprintf("target column %q is not numeric", target)))
	}
	if !tbl.HasColumn(region) {
		return nil, errors.WithEngine(EngineName, errors.DataFormat(fmt.Sprintf("region column %q not in table", region)))
	}
	if timeCol != "" && tbl.Types[timeCol] != dataset.ValueTypeDatetime {
		return nil, errors.WithEngine(EngineName, errors.DataFormat(fmt.Sprintf("time column %q is not datetime", timeCol)))
	}

	groups := groupByRegion(tbl, target, region, timeCol)

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	out := &analysis.VolatilityOutput{}
	for _, name := range names {
		score := e.scoreRegion(name, groups[name])
		out.RegionalScores = append(out.RegionalScores, score)
		switch score.Level {
		case analysis.VolatilityHigh, analysis.VolatilityCritical:
			out.HighVolatilityRegions = append(out.HighVolatilityRegions, name)
		case analysis.VolatilityStable:
			out.StableRegions = append(out.StableRegions, name)
		}
	}

	// Most volatile first; flagged regions sink to the end in name order.
	sort.SliceStable(out.RegionalScores, func(i, j int) bool {
		a, b := out.RegionalScores[i], out.RegionalScores[j]
		if (a.Status == analysis.StatusOK) != (b.Status == analysis.StatusOK) {
			return a.Status == analysis.StatusOK
		}
		if a.CV != b.CV {
			return a.CV > b.CV
		}
		return a.Region < b.Region
	})

	if timeCol != "" {
		out.Seasonal = seasonalPattern(tbl, target, timeCol)
	}

	out.Summary = e.summarize(out)
	return out, nil
}

// observation pairs a value with its optional timestamp for trend fitting.
type observation struct {
	value float64
	at    time.Time
	timed bool
}

func groupByRegion(tbl *dataset.CanonicalTable, target, region, timeCol string) map[string][]observation {
	groups := make(map[string][]observation)
	for _, row := range tbl.Rows {
		v, ok := row[target].Numeric()
		if !ok {
			continue
		}
		name, ok := row[region].Categorical()
		if !ok {
			name = row[region].String()
			if name == "" {
				continue
			}
		}
		obs := observation{value: v}
		if timeCol != "" {
			if t, ok := row[timeCol].Datetime(); ok {
				obs.at = t
				obs.timed = true
			}
		}
		groups[name] = append(groups[name], obs)
	}
	return groups
}

func (e *Engine) scoreRegion(name string, obs []observation) analysis.RegionalVolatility {
	score := analysis.RegionalVolatility{
		Region:      name,
		SampleCount: len(obs),
		Status:      analysis.StatusOK,
	}
	if len(obs) < minRegionObservations {
		score.Status = analysis.StatusInsufficientData
		return score
	}

	values := make([]float64, len(obs))
	for i, o := range obs {
		values[i] = o.value
	}
	mean, _ := stats.Mean(values)
	std, err := stats.StandardDeviationSample(values)
	if err != nil {
		score.Status = analysis.StatusUndefined
		return score
	}
	score.Mean = mean
	score.StdDev = std

	if mean == 0 {
		// CV would divide by zero; the region stays in the output flagged.
		score.Status = analysis.StatusUndefined
		return score
	}
	score.CV = std / math.Abs(mean)
	score.CVDefined = true
	score.Level = e.classify(score.CV)
	score.Trend = trendDirection(obs)
	return score
}

// classify maps a CV onto the volatility tiers.
func (e *Engine) classify(cv float64) analysis.VolatilityLevel {
	switch {
	case cv >= e.cfg.CVCritical:
		return analysis.VolatilityCritical
	case cv >= e.cfg.CVHigh:
		return analysis.VolatilityHigh
	case cv >= e.cfg.CVModerate:
		return analysis.VolatilityModerate
	case cv >= e.cfg.CVLow:
		return analysis.VolatilityLow
	default:
		return analysis.VolatilityStable
	}
}

// trendDirection fits a least-squares line over the time-ordered series and
// tests the slope at the 5% level. A slope indistinguishable from zero, or a
// series without timestamps, reads as stable.
func trendDirection(obs []observation) analysis.TrendDirection {
	timed := make([]observation, 0, len(obs))
	for _, o := range obs {
		if o.timed {
			timed = append(timed, o)
		}
	}
	if len(timed) < minRegionObservations {
		return analysis.TrendStable
	}
	sort.SliceStable(timed, func(i, j int) bool { return timed[i].at.Before(timed[j].at) })

	n := float64(len(timed))
	var sumX, sumY, sumXY, sumXX float64
	for i, o := range timed {
		x := float64(i)
		sumX += x
		sumY += o.value
		sumXY += x * o.value
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return analysis.TrendStable
	}
	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	// Residual standard error for the slope t statistic.
	var sse float64
	for i, o := range timed {
		resid := o.value - (intercept + slope*float64(i))
		sse += resid * resid
	}
	df := n - 2
	if df <= 0 || sse == 0 {
		// A perfect fit: any nonzero slope is a real trend.
		switch {
		case slope > 0:
			return analysis.TrendUpward
		case slope < 0:
			return analysis.TrendDownward
		default:
			return analysis.TrendStable
		}
	}
	se := math.Sqrt(sse / df / (sumXX - sumX*sumX/n))
	if se == 0 {
		return analysis.TrendStable
	}
	t := slope / se
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p := 2 * (1 - dist.CDF(math.Abs(t)))
	if p >= trendAlpha {
		return analysis.TrendStable
	}
	if slope > 0 {
		return analysis.TrendUpward
	}
	return analysis.TrendDownward
}

// seasonalPattern buckets the whole series by calendar month and measures how
// much of the variance the month means explain. Returns nil when the series
// spans too few distinct months to say anything.
func seasonalPattern(tbl *dataset.CanonicalTable, target, timeCol string) *analysis.SeasonalPattern {
	type bucket struct {
		sum   float64
		count int
	}
	buckets := make(map[string]*bucket)
	var all []float64
	var monthly []observation
	for _, row := range tbl.Rows {
		v, ok := row[target].Numeric()
		if !ok {
			continue
		}
		t, ok := row[timeCol].Datetime()
		if !ok {
			continue
		}
		key := t.Format("January")
		b := buckets[key]
		if b == nil {
			b = &bucket{}
			buckets[key] = b
		}
		b.sum += v
		b.count++
		all = append(all, v)
		monthly = append(monthly, observation{value: v, at: t, timed: true})
	}
	if len(buckets) < 2 || len(all) < 2*len(buckets) {
		return nil
	}

	grand, _ := stats.Mean(all)
	totalVar, _ := stats.PopulationVariance(all)
	if totalVar == 0 {
		return nil
	}

	pattern := &analysis.SeasonalPattern{PeriodMeans: make(map[string]float64, len(buckets))}
	var between float64
	peak, trough := math.Inf(-1), math.Inf(1)
	for key, b := range buckets {
		mean := b.sum / float64(b.count)
		pattern.PeriodMeans[key] = mean
		between += float64(b.count) * (mean - grand) * (mean - grand)
		if mean > peak {
			peak = mean
			pattern.PeakPeriod = key
		}
		if mean < trough {
			trough = mean
			pattern.TroughPeriod = key
		}
	}
	pattern.Strength = clamp(between/float64(len(all))/totalVar, 0, 1)
	pattern.LagAutocorr = lagAutocorrelation(monthly, 12)
	pattern.IsSeasonal = pattern.Strength >= seasonalStrengthFloor
	return pattern
}

// lagAutocorrelation aggregates the series into month buckets and computes
// the autocorrelation at the given lag. Returns 0 when the monthly series is
// too short.
func lagAutocorrelation(obs []observation, lag int) float64 {
	type bucket struct {
		sum   float64
		count int
	}
	byMonth := make(map[string]*bucket)
	for _, o := range obs {
		key := o.at.Format("2006-01")
		b := byMonth[key]
		if b == nil {
			b = &bucket{}
			byMonth[key] = b
		}
		b.sum += o.value
		b.count++
	}
	keys := make([]string, 0, len(byMonth))
	for k := range byMonth {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	series := make([]float64, len(keys))
	for i, k := range keys {
		series[i] = byMonth[k].sum / float64(byMonth[k].count)
	}
	if len(series) <= lag+1 {
		return 0
	}

	mean, _ := stats.Mean(series)
	var num, den float64
	for i := range series {
		d := series[i] - mean
		den += d * d
		if i+lag < len(series) {
			num += d * (series[i+lag] - mean)
		}
	}
	if den == 0 {
		return 0
	}
	return num / den
}

func (e *Engine) summarize(out *analysis.VolatilityOutput) string {
	scored := 0
	for _, s := range out.RegionalScores {
		if s.Status == analysis.StatusOK {
			scored++
		}
	}
	s := fmt.Sprintf("Scored %d of %d regions; %d high-volatility, %d stable.",
		scored, len(out.RegionalScores), len(out.HighVolatilityRegions), len(out.StableRegions))
	if scored > 0 && out.RegionalScores[0].Status == analysis.StatusOK {
		top := out.RegionalScores[0]
		s += fmt.Sprintf(" Most volatile: %s (CV %.3f, %s).", top.Region, top.CV, top.Level)
	}
	if out.Seasonal != nil && out.Seasonal.IsSeasonal {
		s += fmt.Sprintf(" Seasonal pattern detected (strength %.2f, peak %s).", out.Seasonal.Strength, out.Seasonal.PeakPeriod)
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
