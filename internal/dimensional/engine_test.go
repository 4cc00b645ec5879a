package dimensional

import (
	"math"
	"testing"

	"datapulse/domain/analysis"
	"datapulse/domain/dataset"
	"datapulse/internal/errors"
)

// sliceTable builds rows of (state, age, sales) from parallel slices.
func sliceTable(states, ages []string, sales []float64) *dataset.CanonicalTable {
	rows := make([]dataset.Row, len(sales))
	for i := range sales {
		rows[i] = dataset.Row{
			"state": dataset.NewCategoricalValue(states[i]),
			"age":   dataset.NewCategoricalValue(ages[i]),
			"sales": dataset.NewNumericValue(sales[i]),
		}
	}
	return &dataset.CanonicalTable{
		Columns: []string{"state", "age", "sales"},
		Types: map[string]dataset.ValueType{
			"state": dataset.ValueTypeCategorical,
			"age":   dataset.ValueTypeCategorical,
			"sales": dataset.ValueTypeNumeric,
		},
		Rows: rows,
	}
}

func TestAnalyzeDetectsOutlierSlice(t *testing.T) {
	states := []string{"A", "B", "C", "D", "E", "F"}
	var sRows, aRows []string
	var sales []float64
	for _, s := range states {
		sRows = append(sRows, s)
		aRows = append(aRows, "all")
		if s == "F" {
			sales = append(sales, 100)
		} else {
			sales = append(sales, 10)
		}
	}
	tbl := sliceTable(sRows, aRows, sales)

	out, err := New(DefaultConfig()).Analyze(tbl, "sales", [][]string{{"state"}})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if len(out.Slices) != 6 {
		t.Fatalf("expected 6 slices, got %d", len(out.Slices))
	}
	var outliers []analysis.DimensionalSlice
	for _, s := range out.Slices {
		if s.Status != analysis.StatusOK {
			t.Errorf("slice %v unexpectedly flagged: %s", s.Dimensions, s.Status)
		}
		if s.IsOutlier {
			outliers = append(outliers, s)
		}
	}
	if len(outliers) != 1 || outliers[0].Dimensions["state"] != "F" {
		t.Fatalf("expected exactly state F as outlier, got %v", outliers)
	}
	if outliers[0].ZScore < 2 {
		t.Errorf("outlier z = %g, want >= 2", outliers[0].ZScore)
	}
	if !(outliers[0].ExpectedLow < outliers[0].ExpectedHigh) {
		t.Errorf("expected range degenerate: [%g, %g]", outliers[0].ExpectedLow, outliers[0].ExpectedHigh)
	}
}

func TestAnalyzeThresholdBoundary(t *testing.T) {
	// Eight slice means split between 1 and 3: population mean 2, population
	// std exactly 1, so every slice sits at exactly |z| = 1. At threshold 1
	// none of them is an outlier; the boundary is exclusive.
	states := []string{"A", "B", "C", "D", "E", "F", "G", "H"}
	ages := make([]string, len(states))
	sales := make([]float64, len(states))
	for i := range states {
		ages[i] = "all"
		sales[i] = 1
		if i >= 4 {
			sales[i] = 3
		}
	}
	tbl := sliceTable(states, ages, sales)

	out, err := New(Config{ZThreshold: 1}).Analyze(tbl, "sales", [][]string{{"state"}})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	for _, s := range out.Slices {
		if math.Abs(math.Abs(s.ZScore)-1) > 1e-12 {
			t.Errorf("slice %v z = %g, want |z| = 1", s.Dimensions, s.ZScore)
		}
		if s.IsOutlier {
			t.Errorf("slice %v at |z| = threshold marked outlier", s.Dimensions)
		}
	}
}

func TestAnalyzeInsufficientPopulation(t *testing.T) {
	tbl := sliceTable(
		[]string{"A", "A", "B", "B"},
		[]string{"x", "x", "x", "x"},
		[]float64{1, 2, 3, 4},
	)

	out, err := New(DefaultConfig()).Analyze(tbl, "sales", [][]string{{"state"}})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(out.Slices) != 2 {
		t.Fatalf("expected 2 slices, got %d", len(out.Slices))
	}
	for _, s := range out.Slices {
		if s.Status != analysis.StatusInsufficientPopulation {
			t.Errorf("slice %v status = %s, want insufficient_population", s.Dimensions, s.Status)
		}
		if s.IsOutlier {
			t.Errorf("flagged slice %v marked outlier", s.Dimensions)
		}
	}
}

func TestAnalyzeClustersSharedDimension(t *testing.T) {
	// Twelve state/age slices; both F slices are extreme and share state=F.
	states := []string{"A", "B", "C", "D", "E", "F"}
	ages := []string{"young", "old"}
	var sRows, aRows []string
	var sales []float64
	for _, s := range states {
		for _, a := range ages {
			sRows = append(sRows, s)
			aRows = append(aRows, a)
			if s == "F" {
				sales = append(sales, 100)
			} else {
				sales = append(sales, 10)
			}
		}
	}
	tbl := sliceTable(sRows, aRows, sales)

	out, err := New(DefaultConfig()).Analyze(tbl, "sales", [][]string{{"state", "age"}})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if len(out.OutlierClusters) == 0 {
		t.Fatal("expected at least one outlier cluster")
	}
	cluster := out.OutlierClusters[0]
	if cluster.SharedValues["state"] != "F" {
		t.Errorf("cluster shared values = %v, want state=F", cluster.SharedValues)
	}
	if len(cluster.Slices) != 2 {
		t.Errorf("cluster has %d slices, want 2", len(cluster.Slices))
	}
	if cluster.SeverityScore <= 0 || cluster.SeverityScore > 1 {
		t.Errorf("severity %g out of (0,1]", cluster.SeverityScore)
	}
	// Severity is mean |z| over 4, capped at 1.
	var sumZ float64
	for _, s := range cluster.Slices {
		sumZ += math.Abs(s.ZScore)
	}
	want := math.Min(1, sumZ/float64(len(cluster.Slices))/4)
	if math.Abs(cluster.SeverityScore-want) > 1e-9 {
		t.Errorf("severity = %g, want %g", cluster.SeverityScore, want)
	}
}

func TestAnalyzeDimensionImportance(t *testing.T) {
	// Sales depend entirely on state, not at all on age.
	tbl := sliceTable(
		[]string{"A", "A", "B", "B", "A", "A", "B", "B"},
		[]string{"x", "y", "x", "y", "x", "y", "x", "y"},
		[]float64{10, 10, 50, 50, 10, 10, 50, 50},
	)

	out, err := New(DefaultConfig()).Analyze(tbl, "sales", [][]string{{"state"}, {"age"}})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if out.DimensionImportance["state"] < 0.99 {
		t.Errorf("state importance = %g, want ~1", out.DimensionImportance["state"])
	}
	if out.DimensionImportance["age"] > 0.01 {
		t.Errorf("age importance = %g, want ~0", out.DimensionImportance["age"])
	}
}

func TestAnalyzeRejectsNumericDimension(t *testing.T) {
	tbl := sliceTable([]string{"A", "B"}, []string{"x", "y"}, []float64{1, 2})
	_, err := New(DefaultConfig()).Analyze(tbl, "sales", [][]string{{"sales"}})
	if err == nil {
		t.Fatal("expected error for numeric dimension")
	}
	if errors.GetCode(err) != errors.CodeDataFormat {
		t.Errorf("code = %s, want DATA_FORMAT", errors.GetCode(err))
	}
}
