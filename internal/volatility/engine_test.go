package volatility

import (
	"math"
	"testing"
	"time"

	"datapulse/domain/analysis"
	"datapulse/domain/dataset"
	"datapulse/internal/errors"
)

// regionObs builds a table of (region, value) rows, optionally with one
// timestamp per observation.
func regionTable(obs map[string][]float64, times map[string][]time.Time) *dataset.CanonicalTable {
	types := map[string]dataset.ValueType{
		"region": dataset.ValueTypeCategorical,
		"value":  dataset.ValueTypeNumeric,
	}
	cols := []string{"region", "value"}
	hasTime := times != nil
	if hasTime {
		types["month"] = dataset.ValueTypeDatetime
		cols = append(cols, "month")
	}

	var rows []dataset.Row
	for region, vals := range obs {
		for i, v := range vals {
			row := dataset.Row{
				"region": dataset.NewCategoricalValue(region),
				"value":  dataset.NewNumericValue(v),
			}
			if hasTime {
				row["month"] = dataset.NewDatetimeValue(times[region][i])
			}
			rows = append(rows, row)
		}
	}
	return &dataset.CanonicalTable{Columns: cols, Types: types, Rows: rows}
}

func findRegion(t *testing.T, out *analysis.VolatilityOutput, name string) analysis.RegionalVolatility {
	t.Helper()
	for _, s := range out.RegionalScores {
		if s.Region == name {
			return s
		}
	}
	t.Fatalf("region %s missing from output", name)
	return analysis.RegionalVolatility{}
}

func TestAnalyzeCVTiers(t *testing.T) {
	tbl := regionTable(map[string][]float64{
		"flat": {100, 100, 100},
		"wild": {100, 200, 300},
	}, nil)

	out, err := New(DefaultConfig()).Analyze(tbl, "value", "region", "")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	flat := findRegion(t, out, "flat")
	if !flat.CVDefined || flat.CV != 0 || flat.Level != analysis.VolatilityStable {
		t.Errorf("flat region = %+v, want CV 0 stable", flat)
	}

	// mean 200, sample std 100: CV 0.5 lands exactly on the critical bound.
	wild := findRegion(t, out, "wild")
	if math.Abs(wild.CV-0.5) > 1e-9 {
		t.Errorf("wild CV = %g, want 0.5", wild.CV)
	}
	if wild.Level != analysis.VolatilityCritical {
		t.Errorf("wild level = %s, want critical", wild.Level)
	}

	if len(out.HighVolatilityRegions) != 1 || out.HighVolatilityRegions[0] != "wild" {
		t.Errorf("high volatility regions = %v", out.HighVolatilityRegions)
	}
	if len(out.StableRegions) != 1 || out.StableRegions[0] != "flat" {
		t.Errorf("stable regions = %v", out.StableRegions)
	}
}

func TestAnalyzeFlaggedRegions(t *testing.T) {
	tbl := regionTable(map[string][]float64{
		"tiny": {5, 6},
		"zero": {-1, 0, 1},
		"ok":   {10, 11, 12},
	}, nil)

	out, err := New(DefaultConfig()).Analyze(tbl, "value", "region", "")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(out.RegionalScores) != 3 {
		t.Fatalf("flagged regions dropped: %d scores", len(out.RegionalScores))
	}

	tiny := findRegion(t, out, "tiny")
	if tiny.Status != analysis.StatusInsufficientData || tiny.SampleCount != 2 {
		t.Errorf("tiny region = %+v, want insufficient_data with 2 samples", tiny)
	}

	zero := findRegion(t, out, "zero")
	if zero.Status != analysis.StatusUndefined || zero.CVDefined {
		t.Errorf("zero-mean region = %+v, want undefined CV", zero)
	}

	// Scored regions sort ahead of flagged ones.
	if out.RegionalScores[0].Region != "ok" {
		t.Errorf("scored region should sort first, got %s", out.RegionalScores[0].Region)
	}
}

func TestAnalyzeTrendDirection(t *testing.T) {
	vals := make([]float64, 12)
	times := make([]time.Time, 12)
	for i := range vals {
		vals[i] = float64(10 + i*5)
		times[i] = time.Date(2024, time.Month(i+1), 1, 0, 0, 0, 0, time.UTC)
	}
	tbl := regionTable(map[string][]float64{"up": vals}, map[string][]time.Time{"up": times})

	out, err := New(DefaultConfig()).Analyze(tbl, "value", "region", "month")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	up := findRegion(t, out, "up")
	if up.Trend != analysis.TrendUpward {
		t.Errorf("monotone series trend = %s, want upward", up.Trend)
	}
}

func TestAnalyzeSeasonalPattern(t *testing.T) {
	// Two full years of a pure annual cycle: month means explain everything.
	var vals []float64
	var times []time.Time
	for m := 0; m < 24; m++ {
		vals = append(vals, 100+50*math.Sin(2*math.Pi*float64(m%12)/12))
		times = append(times, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, m, 0))
	}
	tbl := regionTable(map[string][]float64{"all": vals}, map[string][]time.Time{"all": times})

	out, err := New(DefaultConfig()).Analyze(tbl, "value", "region", "month")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if out.Seasonal == nil {
		t.Fatal("expected a seasonal pattern")
	}
	if !out.Seasonal.IsSeasonal {
		t.Errorf("pure cycle not detected as seasonal (strength %g)", out.Seasonal.Strength)
	}
	if out.Seasonal.Strength < 0.9 {
		t.Errorf("strength = %g, want near 1", out.Seasonal.Strength)
	}
	if out.Seasonal.LagAutocorr <= 0.3 {
		t.Errorf("lag-12 autocorrelation = %g, want clearly positive", out.Seasonal.LagAutocorr)
	}
	if len(out.Seasonal.PeriodMeans) != 12 {
		t.Errorf("period means cover %d months, want 12", len(out.Seasonal.PeriodMeans))
	}
}

func TestAnalyzeBadInputs(t *testing.T) {
	tbl := regionTable(map[string][]float64{"a": {1, 2, 3}}, nil)

	cases := []struct {
		name           string
		target, region string
		timeCol        string
		cfg            Config
		wantCode       string
	}{
		{"non-numeric target", "region", "region", "", DefaultConfig(), errors.CodeDataFormat},
		{"missing region", "value", "nope", "", DefaultConfig(), errors.CodeDataFormat},
		{"bad tiers", "value", "region", "", Config{CVLow: 0.5, CVModerate: 0.2, CVHigh: 0.3, CVCritical: 0.5}, errors.CodeConfigInvalid},
	}
	for _, tc := range cases {
		_, err := New(tc.cfg).Analyze(tbl, tc.target, tc.region, tc.timeCol)
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if got := errors.GetCode(err); got != tc.wantCode {
			t.Errorf("%s: code %s, want %s", tc.name, got, tc.wantCode)
		}
		if !errors.IsAppError(err) {
			t.Errorf("%s: error is not structured: %v", tc.name, err)
		}
	}
}
